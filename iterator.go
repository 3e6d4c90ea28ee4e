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

// emptyIterator is handed out by a DB that is not open.
type emptyIterator struct{}

func (emptyIterator) Next()            {}
func (emptyIterator) Valid() bool      { return false }
func (emptyIterator) Rewind()          {}
func (emptyIterator) Item() utils.Item { return nil }
func (emptyIterator) Close() error     { return nil }
func (emptyIterator) Seek([]byte)      {}

// NewIterator walks the backend. Tree backends go in key order, hash
// backends in storage order. Closing the DB invalidates the iterator.
func (db *DB) NewIterator(opt *utils.Options) utils.Iterator {
	db.RLock()
	defer db.RUnlock()
	if err := db.checkOpen(); err != nil {
		db.setErr(err)
		return emptyIterator{}
	}
	db.setErr(nil)
	return db.engine.NewIterator(opt)
}
