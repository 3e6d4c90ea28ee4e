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

package hdb

import (
	"github.com/hardcore-os/corecab/utils"
)

// Iterator walks the records in the order they are stored in the file. It
// reads the file on every step, so writes made meanwhile may or may not be
// seen, but never break the walk.
type Iterator struct {
	h    *HDB
	off  int64
	item *utils.Entry
	err  error
}

// NewIterator _ opt 里的 IsAsc 对哈希库没有意义
func (h *HDB) NewIterator(opt *utils.Options) utils.Iterator {
	it := &Iterator{h: h}
	if opt != nil && len(opt.Prefix) > 0 {
		return utils.FilterPrefix(it, opt.Prefix)
	}
	return it
}

// Rewind _
func (it *Iterator) Rewind() {
	it.h.rlock()
	defer it.h.runlock()
	if it.h.checkOpen() != nil {
		it.invalidate(nil)
		return
	}
	it.load(it.h.recStart)
}

// Seek 定位到 key 所在的记录，key 不存在时迭代器失效
func (it *Iterator) Seek(key []byte) {
	it.h.rlock()
	defer it.h.runlock()
	if it.h.checkOpen() != nil {
		it.invalidate(nil)
		return
	}
	_, cur, err := it.h.search(key, it.h.bucketIndex(key))
	if err != nil || cur == nil {
		it.invalidate(err)
		return
	}
	it.load(cur.off)
}

// Next _
func (it *Iterator) Next() {
	if it.item == nil {
		return
	}
	it.h.rlock()
	defer it.h.runlock()
	if it.h.checkOpen() != nil {
		it.invalidate(nil)
		return
	}
	r, err := it.h.readHeader(it.off)
	if err != nil {
		it.invalidate(err)
		return
	}
	it.load(it.off + int64(r.rsiz))
}

// load positions on the first live record at or after off.
func (it *Iterator) load(off int64) {
	h := it.h
	for off < h.fsiz {
		r, err := h.readHeader(off)
		if err != nil {
			it.invalidate(err)
			return
		}
		if r.free() {
			off += int64(r.rsiz)
			continue
		}
		key, err := h.readKey(r)
		if err != nil {
			it.invalidate(err)
			return
		}
		val, err := h.readValue(r)
		if err != nil {
			it.invalidate(err)
			return
		}
		it.off = off
		it.item = utils.NewEntry(key, val)
		return
	}
	it.invalidate(nil)
}

func (it *Iterator) invalidate(err error) {
	it.item = nil
	it.err = err
}

// Valid _
func (it *Iterator) Valid() bool {
	return it.item != nil
}

// Item _
func (it *Iterator) Item() utils.Item {
	if it.item == nil {
		return nil
	}
	return it.item
}

// Err returns the error that ended the walk early, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close _
func (it *Iterator) Close() error {
	it.item = nil
	return nil
}
