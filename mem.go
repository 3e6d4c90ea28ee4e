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

package corecab

import (
	"github.com/hardcore-os/corecab/utils"
)

// memTree is the "+" backend, an ordered tree that lives in memory only.
type memTree struct {
	list *utils.SkipList
}

func newMemTree(cmp utils.Comparator) *memTree {
	return &memTree{list: utils.NewSkipList(cmp)}
}

func (m *memTree) Put(key, value []byte) error {
	return m.list.Add(utils.NewEntry(key, value))
}

func (m *memTree) PutKeep(key, value []byte) error {
	if err := m.list.AddKeep(utils.NewEntry(key, value)); err != nil {
		return utils.Wrapf(err, "key %q", key)
	}
	return nil
}

func (m *memTree) Out(key []byte) error {
	if err := m.list.Delete(key); err != nil {
		return utils.Wrapf(err, "key %q", key)
	}
	return nil
}

func (m *memTree) Get(key []byte) ([]byte, error) {
	e := m.list.Search(key)
	if e == nil {
		return nil, utils.Errorf(utils.RecordNotFound, "key %q", key)
	}
	return utils.Copy(e.Value), nil
}

func (m *memTree) Sync() error {
	return nil
}

func (m *memTree) Vanish() error {
	m.list.Clear()
	return nil
}

func (m *memTree) Close() error {
	m.list.Clear()
	return nil
}

func (m *memTree) Rnum() int64 {
	return int64(m.list.Len())
}

func (m *memTree) Size() int64 {
	return m.list.Size()
}

func (m *memTree) NewIterator(opt *utils.Options) utils.Iterator {
	it := m.list.NewIterator(opt)
	if opt == nil {
		return it
	}
	return utils.FilterPrefix(it, opt.Prefix)
}
