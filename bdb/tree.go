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
	"sort"

	"github.com/hardcore-os/corecab/utils"
)

// find returns the position of the first record >= key and whether it is key.
func (l *leaf) find(key []byte, cmp utils.Comparator) (int, bool) {
	i := sort.Search(len(l.recs), func(i int) bool { return cmp.Compare(l.recs[i].key, key) >= 0 })
	return i, i < len(l.recs) && cmp.Compare(l.recs[i].key, key) == 0
}

func (l *leaf) insert(i int, r rec) {
	l.recs = append(l.recs, rec{})
	copy(l.recs[i+1:], l.recs[i:])
	l.recs[i] = r
	l.size += len(r.key) + len(r.value)
}

func (l *leaf) remove(i int) {
	l.size -= len(l.recs[i].key) + len(l.recs[i].value)
	l.recs = append(l.recs[:i], l.recs[i+1:]...)
}

// child picks the subtree of key: the last separator <= key, or the heir.
func (n *node) child(key []byte, cmp utils.Comparator) uint64 {
	i := sort.Search(len(n.idx), func(i int) bool { return cmp.Compare(n.idx[i].key, key) > 0 })
	if i == 0 {
		return n.heir
	}
	return n.idx[i-1].child
}

// search descends to the leaf that may hold key. hist holds the nodes
// passed on the way, root first.
func (b *BDB) search(key []byte) (*leaf, []uint64, error) {
	id := b.meta.root
	var hist []uint64
	for isNode(id) {
		n, err := b.loadNode(id)
		if err != nil {
			return nil, nil, err
		}
		hist = append(hist, id)
		id = n.child(key, b.cmp)
	}
	l, err := b.loadLeaf(id)
	if err != nil {
		return nil, nil, err
	}
	return l, hist, nil
}

func (b *BDB) get(key []byte) ([]byte, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	l, _, err := b.search(key)
	if err != nil {
		return nil, err
	}
	i, ok := l.find(key, b.cmp)
	if !ok {
		return nil, utils.Errorf(utils.RecordNotFound, "key %q", key)
	}
	return utils.Copy(l.recs[i].value), nil
}

func (b *BDB) put(key, value []byte, keep bool) error {
	if err := b.checkWriter(); err != nil {
		return err
	}
	l, hist, err := b.search(key)
	if err != nil {
		return err
	}
	i, ok := l.find(key, b.cmp)
	if ok && keep {
		return utils.Errorf(utils.KeyAlreadyExists, "key %q", key)
	}
	b.dirtyLeaf(l)
	if ok {
		l.size += len(value) - len(l.recs[i].value)
		l.recs[i].value = utils.Copy(value)
		return b.adjust()
	}
	l.insert(i, rec{key: utils.Copy(key), value: utils.Copy(value)})
	b.meta.rnum++
	b.metaDirty = true
	if len(l.recs) > b.meta.lmemb {
		if err := b.splitLeaf(l, hist); err != nil {
			return err
		}
	}
	return b.adjust()
}

// splitLeaf moves the upper half of l into a new leaf right after it.
func (b *BDB) splitLeaf(l *leaf, hist []uint64) error {
	nl := b.newLeaf()
	mid := len(l.recs) / 2
	nl.recs = append([]rec(nil), l.recs[mid:]...)
	l.recs = append([]rec(nil), l.recs[:mid]...)
	l.size = 0
	for _, r := range l.recs {
		l.size += len(r.key) + len(r.value)
	}
	for _, r := range nl.recs {
		nl.size += len(r.key) + len(r.value)
	}

	nl.prev, nl.next = l.id, l.next
	if l.next != 0 {
		next, err := b.loadLeaf(l.next)
		if err != nil {
			return err
		}
		b.dirtyLeaf(next)
		next.prev = nl.id
	} else {
		b.meta.last = nl.id
	}
	l.next = nl.id
	return b.insertIndex(hist, l.id, nl.recs[0].key, nl.id)
}

// insertIndex hooks right into the parent of left under separator key,
// growing a new root when left was the root.
func (b *BDB) insertIndex(hist []uint64, left uint64, key []byte, right uint64) error {
	if len(hist) == 0 {
		root := b.newNode()
		root.heir = left
		root.idx = []index{{key: key, child: right}}
		b.meta.root = root.id
		return nil
	}
	n, err := b.loadNode(hist[len(hist)-1])
	if err != nil {
		return err
	}
	b.dirtyNode(n)
	i := sort.Search(len(n.idx), func(i int) bool { return b.cmp.Compare(n.idx[i].key, key) > 0 })
	n.idx = append(n.idx, index{})
	copy(n.idx[i+1:], n.idx[i:])
	n.idx[i] = index{key: key, child: right}
	if len(n.idx) <= b.meta.nmemb {
		return nil
	}

	// 中间的分隔键上移，它的 child 成为新节点的 heir
	mid := len(n.idx) / 2
	sep := n.idx[mid]
	nn := b.newNode()
	nn.heir = sep.child
	nn.idx = append([]index(nil), n.idx[mid+1:]...)
	n.idx = append([]index(nil), n.idx[:mid]...)
	return b.insertIndex(hist[:len(hist)-1], n.id, sep.key, nn.id)
}

func (b *BDB) out(key []byte) error {
	if err := b.checkWriter(); err != nil {
		return err
	}
	l, hist, err := b.search(key)
	if err != nil {
		return err
	}
	i, ok := l.find(key, b.cmp)
	if !ok {
		return utils.Errorf(utils.RecordNotFound, "key %q", key)
	}
	b.dirtyLeaf(l)
	l.remove(i)
	b.meta.rnum--
	b.metaDirty = true
	if len(l.recs) == 0 && b.meta.lnum > 1 {
		if err := b.removeLeaf(l, hist); err != nil {
			return err
		}
	}
	return b.adjust()
}

// removeLeaf unlinks the empty leaf l and drops it from its parent.
func (b *BDB) removeLeaf(l *leaf, hist []uint64) error {
	if l.prev != 0 {
		prev, err := b.loadLeaf(l.prev)
		if err != nil {
			return err
		}
		b.dirtyLeaf(prev)
		prev.next = l.next
	} else {
		b.meta.first = l.next
	}
	if l.next != 0 {
		next, err := b.loadLeaf(l.next)
		if err != nil {
			return err
		}
		b.dirtyLeaf(next)
		next.prev = l.prev
	} else {
		b.meta.last = l.prev
	}
	if err := b.dropPage(l.id); err != nil {
		return err
	}
	if err := b.removeChild(hist, l.id); err != nil {
		return err
	}
	return b.shrinkRoot()
}

// removeChild deletes the link to child from the last node of hist. A node
// left without any child is removed from its own parent in turn.
func (b *BDB) removeChild(hist []uint64, child uint64) error {
	if len(hist) == 0 {
		return nil
	}
	n, err := b.loadNode(hist[len(hist)-1])
	if err != nil {
		return err
	}
	b.dirtyNode(n)
	if n.heir == child {
		if len(n.idx) == 0 {
			if err := b.dropPage(n.id); err != nil {
				return err
			}
			return b.removeChild(hist[:len(hist)-1], n.id)
		}
		n.heir = n.idx[0].child
		n.idx = append([]index(nil), n.idx[1:]...)
		return nil
	}
	for i := range n.idx {
		if n.idx[i].child == child {
			n.idx = append(n.idx[:i], n.idx[i+1:]...)
			return nil
		}
	}
	return utils.Errorf(utils.RecordHeaderCorrupt, "node %d does not link page %d", n.id, child)
}

// shrinkRoot collapses root nodes that are left with a heir only.
func (b *BDB) shrinkRoot() error {
	for isNode(b.meta.root) {
		n, err := b.loadNode(b.meta.root)
		if err != nil {
			return err
		}
		if len(n.idx) > 0 {
			return nil
		}
		b.meta.root = n.heir
		if err := b.dropPage(n.id); err != nil {
			return err
		}
	}
	return nil
}

// forward returns the first record at or after position kidx of leaf id,
// crossing into following leaves. A nil leaf means the end of the tree.
func (b *BDB) forward(id uint64, kidx int) (*leaf, int, error) {
	for id != 0 {
		l, err := b.loadLeaf(id)
		if err != nil {
			return nil, 0, err
		}
		if kidx < len(l.recs) {
			return l, kidx, nil
		}
		id, kidx = l.next, 0
	}
	return nil, 0, nil
}

// backward is forward in the other direction.
func (b *BDB) backward(id uint64, kidx int) (*leaf, int, error) {
	for id != 0 {
		l, err := b.loadLeaf(id)
		if err != nil {
			return nil, 0, err
		}
		if kidx >= len(l.recs) {
			kidx = len(l.recs) - 1
		}
		if kidx >= 0 {
			return l, kidx, nil
		}
		id, kidx = l.prev, math.MaxInt
	}
	return nil, 0, nil
}

// seekGE finds the first record >= key.
func (b *BDB) seekGE(key []byte) (*leaf, int, bool, error) {
	l, _, err := b.search(key)
	if err != nil {
		return nil, 0, false, err
	}
	i, ok := l.find(key, b.cmp)
	if ok {
		return l, i, true, nil
	}
	l, i, err = b.forward(l.id, i)
	return l, i, false, err
}
