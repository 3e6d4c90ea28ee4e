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

package kvbolt

import (
	"bytes"

	"github.com/hardcore-os/corecab/utils"
	bolt "go.etcd.io/bbolt"
)

// Iterator walks the bucket in key order. Every step runs in its own read
// transaction and re-seeks from the last key, so writes between steps are
// allowed.
type Iterator struct {
	d    *DB
	asc  bool
	item *utils.Entry
}

// NewIterator _ opt 为空时升序
func (d *DB) NewIterator(opt *utils.Options) utils.Iterator {
	it := &Iterator{d: d, asc: true}
	if opt == nil {
		return it
	}
	it.asc = opt.IsAsc
	return utils.FilterPrefix(it, opt.Prefix)
}

// step runs fn on a cursor and keeps the record it lands on.
func (it *Iterator) step(fn func(c *bolt.Cursor) (k, v []byte)) {
	it.item = nil
	it.d.view(func(b *bolt.Bucket) error {
		if b == nil {
			return nil
		}
		k, v := fn(b.Cursor())
		if k == nil {
			return nil
		}
		it.item = utils.NewEntry(utils.Copy(k[1:]), utils.Copy(v))
		return nil
	})
}

// Rewind _
func (it *Iterator) Rewind() {
	it.step(func(c *bolt.Cursor) ([]byte, []byte) {
		if it.asc {
			return c.First()
		}
		return c.Last()
	})
}

// Seek moves to the first key >= key, or the last key <= key when descending.
func (it *Iterator) Seek(key []byte) {
	target := boltKey(key)
	it.step(func(c *bolt.Cursor) ([]byte, []byte) {
		k, v := c.Seek(target)
		if it.asc {
			return k, v
		}
		if k == nil {
			return c.Last()
		}
		if bytes.Equal(k, target) {
			return k, v
		}
		return c.Prev()
	})
}

// Next _
func (it *Iterator) Next() {
	if it.item == nil {
		return
	}
	cur := boltKey(it.item.Key)
	it.step(func(c *bolt.Cursor) ([]byte, []byte) {
		k, v := c.Seek(cur)
		if it.asc {
			if k != nil && bytes.Equal(k, cur) {
				return c.Next()
			}
			return k, v
		}
		if k == nil {
			return c.Last()
		}
		return c.Prev()
	})
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
	return nil
}
