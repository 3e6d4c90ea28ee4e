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

package utils

import (
	"math/rand"
	"sync"
	"time"
)

const (
	maxHeight = 20
)

// Element 跳表节点，levels[0] 上额外维护 prev 指针以支持反向遍历
type Element struct {
	levels []*Element
	prev   *Element
	entry  *Entry
}

func newElement(e *Entry, level int) *Element {
	return &Element{
		levels: make([]*Element, level),
		entry:  e,
	}
}

// Entry _
func (e *Element) Entry() *Entry {
	return e.entry
}

// SkipList is an ordered in-memory map guarded by its own RWMutex.
type SkipList struct {
	header *Element
	tail   *Element
	rand   *rand.Rand
	cmp    Comparator

	maxLevel int
	level    int
	length   int
	size     int64
	lock     sync.RWMutex
}

// NewSkipList _ cmp 为空时按字节序
func NewSkipList(cmp Comparator) *SkipList {
	if cmp == nil {
		cmp = Lexical
	}
	return &SkipList{
		header:   newElement(nil, maxHeight),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cmp:      cmp,
		maxLevel: maxHeight,
		level:    1,
	}
}

func (list *SkipList) randLevel() int {
	for i := 1; i < list.maxLevel; i++ {
		if list.rand.Intn(2) == 0 {
			return i
		}
	}
	return list.maxLevel
}

// findGE returns the first element whose key is >= key and records the
// rightmost element before it on every level in prevs.
func (list *SkipList) findGE(key []byte, prevs []*Element) *Element {
	x := list.header
	for i := list.level - 1; i >= 0; i-- {
		for next := x.levels[i]; next != nil && list.cmp.Compare(next.entry.Key, key) < 0; next = x.levels[i] {
			x = next
		}
		if prevs != nil {
			prevs[i] = x
		}
	}
	return x.levels[0]
}

// findLE returns the last element whose key is <= key.
func (list *SkipList) findLE(key []byte) *Element {
	var prevs [maxHeight]*Element
	ge := list.findGE(key, prevs[:])
	if ge != nil && list.cmp.Compare(ge.entry.Key, key) == 0 {
		return ge
	}
	if prevs[0] == list.header {
		return nil
	}
	return prevs[0]
}

func (list *SkipList) insert(data *Entry, keep bool) error {
	list.lock.Lock()
	defer list.lock.Unlock()

	var prevs [maxHeight]*Element
	e := NewEntry(Copy(data.Key), Copy(data.Value))
	elem := list.findGE(e.Key, prevs[:])
	if elem != nil && list.cmp.Compare(elem.entry.Key, e.Key) == 0 {
		if keep {
			return ErrKeep
		}
		list.size += int64(len(e.Value)) - int64(len(elem.entry.Value))
		// 整体替换 entry，迭代器已经拿到的旧值保持不变
		elem.entry = e
		return nil
	}

	level := list.randLevel()
	if level > list.level {
		for i := list.level; i < level; i++ {
			prevs[i] = list.header
		}
		list.level = level
	}
	elem = newElement(e, level)
	for i := 0; i < level; i++ {
		elem.levels[i] = prevs[i].levels[i]
		prevs[i].levels[i] = elem
	}
	if prevs[0] != list.header {
		elem.prev = prevs[0]
	}
	if elem.levels[0] != nil {
		elem.levels[0].prev = elem
	} else {
		list.tail = elem
	}
	list.length++
	list.size += int64(e.EncodedSize())
	return nil
}

// Add inserts data or replaces the value of an existing key.
func (list *SkipList) Add(data *Entry) error {
	return list.insert(data, false)
}

// AddKeep inserts data only when the key is absent, ErrKeep otherwise.
func (list *SkipList) AddKeep(data *Entry) error {
	return list.insert(data, true)
}

// Search 查不到返回 nil
func (list *SkipList) Search(key []byte) *Entry {
	list.lock.RLock()
	defer list.lock.RUnlock()
	elem := list.findGE(key, nil)
	if elem == nil || list.cmp.Compare(elem.entry.Key, key) != 0 {
		return nil
	}
	return elem.entry
}

// Delete removes key, ErrNoRecord if it is absent.
func (list *SkipList) Delete(key []byte) error {
	list.lock.Lock()
	defer list.lock.Unlock()

	var prevs [maxHeight]*Element
	elem := list.findGE(key, prevs[:])
	if elem == nil || list.cmp.Compare(elem.entry.Key, key) != 0 {
		return ErrNoRecord
	}
	for i := 0; i < len(elem.levels); i++ {
		if prevs[i].levels[i] == elem {
			prevs[i].levels[i] = elem.levels[i]
		}
	}
	if elem.levels[0] != nil {
		elem.levels[0].prev = elem.prev
	} else {
		list.tail = elem.prev
	}
	for list.level > 1 && list.header.levels[list.level-1] == nil {
		list.level--
	}
	list.length--
	list.size -= int64(elem.entry.EncodedSize())
	return nil
}

// Len _
func (list *SkipList) Len() int {
	list.lock.RLock()
	defer list.lock.RUnlock()
	return list.length
}

// Size is the number of key and value bytes held.
func (list *SkipList) Size() int64 {
	list.lock.RLock()
	defer list.lock.RUnlock()
	return list.size
}

// Clear drops every element.
func (list *SkipList) Clear() {
	list.lock.Lock()
	defer list.lock.Unlock()
	list.header = newElement(nil, list.maxLevel)
	list.tail = nil
	list.level = 1
	list.length = 0
	list.size = 0
}

// SkipListIterator walks the list in key order, or in reverse when the
// options ask for a descending scan. Each step takes the read lock, so
// writes may interleave with an open iterator.
type SkipListIterator struct {
	list *SkipList
	n    *Element
	asc  bool
}

// NewIterator _ opt 为空时升序
func (list *SkipList) NewIterator(opt *Options) *SkipListIterator {
	asc := true
	if opt != nil {
		asc = opt.IsAsc
	}
	return &SkipListIterator{list: list, asc: asc}
}

// Rewind moves to the first element in iteration order.
func (it *SkipListIterator) Rewind() {
	it.list.lock.RLock()
	defer it.list.lock.RUnlock()
	if it.asc {
		it.n = it.list.header.levels[0]
	} else {
		it.n = it.list.tail
	}
}

// SeekToLast 定位到最大的 key
func (it *SkipListIterator) SeekToLast() {
	it.list.lock.RLock()
	defer it.list.lock.RUnlock()
	it.n = it.list.tail
}

// Seek moves to the first key >= key for an ascending iterator and to the
// last key <= key for a descending one.
func (it *SkipListIterator) Seek(key []byte) {
	it.list.lock.RLock()
	defer it.list.lock.RUnlock()
	if it.asc {
		it.n = it.list.findGE(key, nil)
	} else {
		it.n = it.list.findLE(key)
	}
}

// Next steps in iteration order.
func (it *SkipListIterator) Next() {
	if it.asc {
		it.forward()
	} else {
		it.backward()
	}
}

// Prev steps against iteration order.
func (it *SkipListIterator) Prev() {
	if it.asc {
		it.backward()
	} else {
		it.forward()
	}
}

func (it *SkipListIterator) forward() {
	if it.n == nil {
		return
	}
	it.list.lock.RLock()
	it.n = it.n.levels[0]
	it.list.lock.RUnlock()
}

func (it *SkipListIterator) backward() {
	if it.n == nil {
		return
	}
	it.list.lock.RLock()
	it.n = it.n.prev
	it.list.lock.RUnlock()
}

// Valid _
func (it *SkipListIterator) Valid() bool {
	return it.n != nil
}

// Item _
func (it *SkipListIterator) Item() Item {
	if it.n == nil {
		return nil
	}
	return it.entry()
}

func (it *SkipListIterator) entry() *Entry {
	it.list.lock.RLock()
	defer it.list.lock.RUnlock()
	return it.n.entry
}

// Key _
func (it *SkipListIterator) Key() []byte {
	return it.entry().Key
}

// Value _
func (it *SkipListIterator) Value() []byte {
	return it.entry().Value
}

// Close _
func (it *SkipListIterator) Close() error {
	it.n = nil
	return nil
}
