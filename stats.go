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
	"github.com/hardcore-os/corecab/bdb"
	"github.com/hardcore-os/corecab/hdb"
	"github.com/hardcore-os/corecab/utils"
)

// Stats is a snapshot taken by Info.
type Stats struct {
	Backend  Backend
	Path     string
	State    utils.State
	EntryNum int64 // 存储多少个kv数据
	Size     int64
	// Tuning is the tuning in effect for hash and tree files.
	Tuning utils.Tuning
	// 只有 B+ 树有页数
	Leaves int64
	Nodes  int64
}

// Info _
func (db *DB) Info() *Stats {
	db.RLock()
	defer db.RUnlock()
	s := &Stats{Backend: db.backend, Path: db.path, State: db.state}
	if db.checkOpen() != nil {
		return s
	}
	s.EntryNum = db.engine.Rnum()
	s.Size = db.engine.Size()
	switch e := db.engine.(type) {
	case *hdb.HDB:
		s.Tuning = e.Tuning()
	case *bdb.BDB:
		s.Tuning = e.Tuning().Tuning
		s.Leaves = e.Lnum()
		s.Nodes = e.Nnum()
	}
	return s
}
