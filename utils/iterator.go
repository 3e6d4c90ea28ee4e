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

import "bytes"

// Iterator 迭代器
type Iterator interface {
	Next()
	Valid() bool
	Rewind()
	Item() Item
	Close() error
	Seek(key []byte)
}

// Item _
type Item interface {
	Entry() *Entry
}

// Options _
// IsAsc is only honoured by ordered engines; hashed engines walk storage order.
type Options struct {
	Prefix []byte
	IsAsc  bool
}

// prefixIterator hides the entries of it that don't start with prefix.
type prefixIterator struct {
	it     Iterator
	prefix []byte
}

// FilterPrefix wraps it so only keys starting with prefix are visible.
func FilterPrefix(it Iterator, prefix []byte) Iterator {
	if len(prefix) == 0 {
		return it
	}
	return &prefixIterator{it: it, prefix: prefix}
}

func (p *prefixIterator) skip() {
	for p.it.Valid() && !bytes.HasPrefix(p.it.Item().Entry().Key, p.prefix) {
		p.it.Next()
	}
}

func (p *prefixIterator) Rewind() {
	p.it.Rewind()
	p.skip()
}

func (p *prefixIterator) Next() {
	p.it.Next()
	p.skip()
}

func (p *prefixIterator) Seek(key []byte) {
	p.it.Seek(key)
	p.skip()
}

func (p *prefixIterator) Valid() bool {
	return p.it.Valid()
}

func (p *prefixIterator) Item() Item {
	return p.it.Item()
}

func (p *prefixIterator) Close() error {
	return p.it.Close()
}
