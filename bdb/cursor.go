// Copyright 2021 hardcore-os Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License")
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bdb

import (
	"math"

	"github.com/hardcore-os/corecab/utils"
)

// CursorPutMode tells Cursor.Put where the value goes.
//
// Keys are unique and kept in comparator order, so the key alone decides
// where an inserted record lands. CursorBefore and CursorAfter therefore
// behave the same; they only name what the caller meant.
type CursorPutMode int

const (
	// CursorCurrent overwrites the value of the current record.
	CursorCurrent CursorPutMode = iota
	// CursorBefore inserts a new record and moves onto it.
	CursorBefore
	// CursorAfter is the same as CursorBefore.
	CursorAfter
)

// CursorState _
type CursorState int

const (
	CursorUnpositioned CursorState = iota
	CursorPositioned
	CursorExhausted
)

func (s CursorState) String() string {
	switch s {
	case CursorUnpositioned:
		return "unpositioned"
	case CursorPositioned:
		return "positioned"
	case CursorExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Cursor walks the records of a BDB in comparator order. It remembers the
// leaf, the slot and a copy of the key, and finds its place again by key
// when the tree changed under it. A cursor must not outlive its handle.
type Cursor struct {
	b     *BDB
	state CursorState
	id    uint64
	kidx  int
	key   []byte
}

// NewCursor _ 新游标处于未定位状态
func (b *BDB) NewCursor() *Cursor {
	return &Cursor{b: b}
}

// State _
func (c *Cursor) State() CursorState {
	return c.state
}

func (c *Cursor) set(l *leaf, kidx int) {
	if l == nil {
		c.exhaust()
		return
	}
	c.state = CursorPositioned
	c.id, c.kidx = l.id, kidx
	c.key = utils.Copy(l.recs[kidx].key)
}

func (c *Cursor) exhaust() {
	c.state = CursorExhausted
	c.id, c.kidx, c.key = 0, 0, nil
}

// settle turns a move result into the cursor state and the error reported
// when the move fell off the tree.
func (c *Cursor) settle(l *leaf, kidx int, err error) error {
	if err != nil {
		return err
	}
	c.set(l, kidx)
	if l == nil {
		return utils.Errorf(utils.RecordNotFound, "cursor is past the end")
	}
	return nil
}

// locate finds the remembered position. exact is false when the record was
// removed meanwhile; the returned slot is then the first record after it,
// possibly one past the end of the leaf.
func (c *Cursor) locate() (l *leaf, kidx int, exact bool, err error) {
	b := c.b
	l, ok, err := b.peekLeaf(c.id)
	if err != nil {
		return nil, 0, false, err
	}
	if ok && c.kidx < len(l.recs) && b.cmp.Compare(l.recs[c.kidx].key, c.key) == 0 {
		return l, c.kidx, true, nil
	}
	l, _, err = b.search(c.key)
	if err != nil {
		return nil, 0, false, err
	}
	kidx, exact = l.find(c.key, b.cmp)
	return l, kidx, exact, nil
}

// begin checks the handle and the cursor before a move or a read.
func (c *Cursor) begin(needPos bool) error {
	if err := c.b.checkOpen(); err != nil {
		return err
	}
	switch {
	case !needPos:
		return nil
	case c.state == CursorUnpositioned:
		return utils.Errorf(utils.InvalidOperation, "cursor is not positioned")
	case c.state == CursorExhausted:
		return utils.Errorf(utils.RecordNotFound, "cursor is exhausted")
	}
	return nil
}

// First moves to the smallest key.
func (c *Cursor) First() error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.first())
}

func (c *Cursor) first() error {
	if err := c.begin(false); err != nil {
		return err
	}
	return c.settle(c.b.forward(c.b.meta.first, 0))
}

// Last moves to the greatest key.
func (c *Cursor) Last() error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.last())
}

func (c *Cursor) last() error {
	if err := c.begin(false); err != nil {
		return err
	}
	return c.settle(c.b.backward(c.b.meta.last, math.MaxInt))
}

// Jump moves to key. When key is absent it fails with ErrNoRecord and the
// cursor stays where it was.
func (c *Cursor) Jump(key []byte) error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.jump(key))
}

func (c *Cursor) jump(key []byte) error {
	if err := c.begin(false); err != nil {
		return err
	}
	l, _, err := c.b.search(key)
	if err != nil {
		return err
	}
	i, ok := l.find(key, c.b.cmp)
	if !ok {
		return utils.Errorf(utils.RecordNotFound, "key %q", key)
	}
	c.set(l, i)
	return nil
}

// Seek moves to the first key >= key, or exhausts the cursor.
func (c *Cursor) Seek(key []byte) error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.seek(key))
}

func (c *Cursor) seek(key []byte) error {
	if err := c.begin(false); err != nil {
		return err
	}
	l, i, _, err := c.b.seekGE(key)
	return c.settle(l, i, err)
}

// Next moves to the following key. Past the last key the cursor is
// exhausted and every further Next fails with ErrNoRecord.
func (c *Cursor) Next() error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.next())
}

func (c *Cursor) next() error {
	if err := c.begin(true); err != nil {
		return err
	}
	l, i, exact, err := c.locate()
	if err != nil {
		return err
	}
	if exact {
		i++
	}
	return c.settle(c.b.forward(l.id, i))
}

// Prev moves to the preceding key.
func (c *Cursor) Prev() error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.prev())
}

func (c *Cursor) prev() error {
	if err := c.begin(true); err != nil {
		return err
	}
	l, i, _, err := c.locate()
	if err != nil {
		return err
	}
	return c.settle(c.b.backward(l.id, i-1))
}

// current resolves the record under the cursor. A record removed meanwhile
// is replaced by the one after it.
func (c *Cursor) current() (*leaf, int, error) {
	if err := c.begin(true); err != nil {
		return nil, 0, err
	}
	l, i, exact, err := c.locate()
	if err != nil {
		return nil, 0, err
	}
	if !exact {
		l, i, err = c.b.forward(l.id, i)
		if err := c.settle(l, i, err); err != nil {
			return nil, 0, err
		}
		return l, i, nil
	}
	c.id, c.kidx = l.id, i
	return l, i, nil
}

// Key returns a copy of the current key.
func (c *Cursor) Key() ([]byte, error) {
	k, _, err := c.Record()
	return k, err
}

// Value returns a copy of the current value.
func (c *Cursor) Value() ([]byte, error) {
	_, v, err := c.Record()
	return v, err
}

// Record returns copies of the current key and value.
func (c *Cursor) Record() ([]byte, []byte, error) {
	c.b.lock()
	defer c.b.unlock()
	l, i, err := c.current()
	if err != nil {
		return nil, nil, c.b.setErr(err)
	}
	c.b.setErr(nil)
	return utils.Copy(l.recs[i].key), utils.Copy(l.recs[i].value), nil
}

// Put writes through the cursor. CursorCurrent replaces the value of the
// current record and ignores key. CursorBefore and CursorAfter insert
// (key, value), fail with ErrKeep when key exists, and leave the cursor on
// the new record.
func (c *Cursor) Put(key, value []byte, mode CursorPutMode) error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.put(key, value, mode))
}

func (c *Cursor) put(key, value []byte, mode CursorPutMode) error {
	b := c.b
	if err := b.checkWriter(); err != nil {
		return err
	}
	switch mode {
	case CursorCurrent:
		l, i, err := c.current()
		if err != nil {
			return err
		}
		b.dirtyLeaf(l)
		l.size += len(value) - len(l.recs[i].value)
		l.recs[i].value = utils.Copy(value)
		return b.adjust()
	case CursorBefore, CursorAfter:
		if c.state == CursorUnpositioned {
			return utils.Errorf(utils.InvalidOperation, "cursor is not positioned")
		}
		if err := b.put(key, value, true); err != nil {
			return err
		}
		return c.jump(key)
	}
	return utils.Errorf(utils.InvalidOperation, "unknown cursor put mode %d", mode)
}

// Out removes the current record and moves to the next one. When there is
// none the cursor is exhausted, which is not an error.
func (c *Cursor) Out() error {
	c.b.lock()
	defer c.b.unlock()
	return c.b.setErr(c.out())
}

func (c *Cursor) out() error {
	b := c.b
	if err := b.checkWriter(); err != nil {
		return err
	}
	l, i, err := c.current()
	if err != nil {
		return err
	}
	key := utils.Copy(l.recs[i].key)
	if err := b.out(key); err != nil {
		return err
	}
	l, i, _, err = b.seekGE(key)
	if err != nil {
		return err
	}
	c.set(l, i)
	return nil
}

// Close detaches the cursor from its position.
func (c *Cursor) Close() {
	c.state = CursorUnpositioned
	c.id, c.kidx, c.key = 0, 0, nil
}
