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
	"github.com/hardcore-os/corecab/utils"
)

// Iterator adapts a Cursor to utils.Iterator.
type Iterator struct {
	c    *Cursor
	asc  bool
	item *utils.Entry
}

// NewIterator _ opt 为空时升序
func (b *BDB) NewIterator(opt *utils.Options) utils.Iterator {
	it := &Iterator{c: b.NewCursor(), asc: true}
	if opt == nil {
		return it
	}
	it.asc = opt.IsAsc
	return utils.FilterPrefix(it, opt.Prefix)
}

func (it *Iterator) load(err error) {
	it.item = nil
	if err != nil {
		return
	}
	k, v, err := it.c.Record()
	if err != nil {
		return
	}
	it.item = utils.NewEntry(k, v)
}

// Rewind _
func (it *Iterator) Rewind() {
	if it.asc {
		it.load(it.c.First())
	} else {
		it.load(it.c.Last())
	}
}

// Seek moves to the first key >= key, or the last key <= key when descending.
func (it *Iterator) Seek(key []byte) {
	if it.asc {
		it.load(it.c.Seek(key))
		return
	}
	if err := it.c.Seek(key); err != nil {
		it.load(it.c.Last())
		return
	}
	k, err := it.c.Key()
	if err != nil || it.c.b.Comparator().Compare(k, key) != 0 {
		it.load(it.c.Prev())
		return
	}
	it.load(nil)
}

// Next _
func (it *Iterator) Next() {
	if it.item == nil {
		return
	}
	if it.asc {
		it.load(it.c.Next())
	} else {
		it.load(it.c.Prev())
	}
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

// Close _
func (it *Iterator) Close() error {
	it.item = nil
	it.c.Close()
	return nil
}
