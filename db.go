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
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hardcore-os/corecab/bdb"
	"github.com/hardcore-os/corecab/file"
	"github.com/hardcore-os/corecab/hdb"
	"github.com/hardcore-os/corecab/kvbolt"
	"github.com/hardcore-os/corecab/utils"
	"go.uber.org/zap"
)

type (
	// Engine 是各个存储后端对外提供的功能集合
	Engine interface {
		Put(key, value []byte) error
		PutKeep(key, value []byte) error
		Out(key []byte) error
		Get(key []byte) ([]byte, error)
		Sync() error
		Vanish() error
		Close() error
		Rnum() int64
		Size() int64
		NewIterator(opt *utils.Options) utils.Iterator
	}

	// DB 对外暴露的接口对象，根据打开的名字选择后端
	DB struct {
		sync.RWMutex
		opt     *Options
		logger  *zap.Logger
		state   utils.State
		ecode   atomic.Int32
		name    string
		path    string
		backend Backend
		engine  Engine
	}
)

// Backend names the engine behind an open DB.
type Backend string

const (
	BackendNone    Backend = ""
	BackendMemHash Backend = "memhash"
	BackendMemTree Backend = "memtree"
	BackendHash    Backend = "hash"
	BackendTree    Backend = "tree"
	BackendBolt    Backend = "bolt"
)

var (
	_ Engine = (*hdb.HDB)(nil)
	_ Engine = (*bdb.BDB)(nil)
	_ Engine = (*kvbolt.DB)(nil)
	_ Engine = (*memTree)(nil)
)

// New makes a DB that is not open yet. opt may be nil.
func New(opt *Options) *DB {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{opt: opt, logger: logger}
}

func (db *DB) setErr(err error) error {
	db.ecode.Store(int32(utils.CodeOf(err)))
	return err
}

// ErrorCode returns the code of the last call made on the DB.
func (db *DB) ErrorCode() utils.ErrorCode {
	return utils.ErrorCode(db.ecode.Load())
}

// Open opens the backend selected by name:
//
//	"*"          hash database in memory
//	"+"          ordered tree in memory
//	"x.hdb"      hash database file
//	"x.bdb"      B+ tree database file
//	"x.bolt"     bbolt file
//
// Tuning parameters may follow the name, each after a '#'. They override
// the options the DB was made with. A failed Open leaves the DB as it was.
func (db *DB) Open(name string) error {
	db.Lock()
	defer db.Unlock()
	if db.state == utils.StateOpen {
		return db.setErr(utils.Errorf(utils.InvalidOperation, "%s is already open", db.name))
	}
	path, params := splitName(name)
	cfg, err := newConfig(db.opt)
	if err != nil {
		return db.setErr(err)
	}
	if err := cfg.apply(params); err != nil {
		return db.setErr(err)
	}

	var (
		backend Backend
		engine  Engine
	)
	switch {
	case path == utils.MemSpecHash:
		backend = BackendMemHash
		engine, err = openMemHash(cfg)
	case path == utils.MemSpecTree:
		backend = BackendMemTree
		engine = newMemTree(cfg.cmp)
	default:
		switch strings.ToLower(filepath.Ext(path)) {
		case ".hdb":
			backend = BackendHash
			engine, err = openHash(path, cfg)
		case ".bdb":
			backend = BackendTree
			engine, err = openTree(path, cfg)
		case ".bolt":
			backend = BackendBolt
			engine, err = openBolt(path, cfg)
		default:
			err = utils.Errorf(utils.InvalidOperation, "unknown database type %q", path)
		}
	}
	if err != nil {
		db.logger.Warn("open failed", zap.String("name", name), zap.Error(err))
		return db.setErr(err)
	}
	db.name, db.path, db.backend, db.engine = name, path, backend, engine
	db.state = utils.StateOpen
	db.logger.Info("open", zap.String("path", path), zap.String("backend", string(backend)))
	return db.setErr(nil)
}

func setupHash(h *hdb.HDB, cfg *config) error {
	if err := h.SetLogger(cfg.logger); err != nil {
		return err
	}
	if err := h.Tune(cfg.tuning); err != nil {
		return err
	}
	if err := h.SetCache(cfg.rcnum); err != nil {
		return err
	}
	if err := h.SetExtraMapSize(cfg.xmsiz); err != nil {
		return err
	}
	if err := h.SetDefragUnit(cfg.dfunit); err != nil {
		return err
	}
	if cfg.mutex {
		return h.SetMutex()
	}
	return nil
}

func openMemHash(cfg *config) (Engine, error) {
	h := hdb.New()
	if err := setupHash(h, cfg); err != nil {
		return nil, err
	}
	// 内存数据库总是可写的
	mode := utils.OpenMode{Writer: true, Create: true}
	if err := h.OpenFile(file.NewMemFile(utils.MemSpecHash), mode); err != nil {
		return nil, err
	}
	return h, nil
}

func openHash(path string, cfg *config) (Engine, error) {
	h := hdb.New()
	if err := setupHash(h, cfg); err != nil {
		return nil, err
	}
	if err := h.Open(path, cfg.mode); err != nil {
		return nil, err
	}
	return h, nil
}

func openTree(path string, cfg *config) (Engine, error) {
	b := bdb.New()
	if err := b.SetLogger(cfg.logger); err != nil {
		return nil, err
	}
	if cfg.cmp != nil {
		if err := b.SetComparator(cfg.cmp); err != nil {
			return nil, err
		}
	}
	t := bdb.Tuning{Tuning: cfg.tuning, LeafMembers: cfg.lmemb, NodeMembers: cfg.nmemb}
	if err := b.Tune(t); err != nil {
		return nil, err
	}
	if err := b.SetCache(cfg.lcnum, cfg.ncnum); err != nil {
		return nil, err
	}
	if err := b.SetExtraMapSize(cfg.xmsiz); err != nil {
		return nil, err
	}
	if err := b.SetDefragUnit(cfg.dfunit); err != nil {
		return nil, err
	}
	if cfg.mutex {
		if err := b.SetMutex(); err != nil {
			return nil, err
		}
	}
	if err := b.Open(path, cfg.mode); err != nil {
		return nil, err
	}
	return b, nil
}

func openBolt(path string, cfg *config) (Engine, error) {
	d := kvbolt.New()
	if err := d.SetLogger(cfg.logger); err != nil {
		return nil, err
	}
	if err := d.Open(path, cfg.mode); err != nil {
		return nil, err
	}
	return d, nil
}

func (db *DB) checkOpen() error {
	if db.state != utils.StateOpen {
		return utils.Errorf(utils.InvalidOperation, "database is not open")
	}
	return nil
}

// Put stores value under key, replacing an existing value.
func (db *DB) Put(key, value []byte) error {
	db.RLock()
	defer db.RUnlock()
	if err := db.checkOpen(); err != nil {
		return db.setErr(err)
	}
	return db.setErr(db.engine.Put(key, value))
}

// PutKeep stores value only when key is absent, ErrKeep otherwise.
func (db *DB) PutKeep(key, value []byte) error {
	db.RLock()
	defer db.RUnlock()
	if err := db.checkOpen(); err != nil {
		return db.setErr(err)
	}
	return db.setErr(db.engine.PutKeep(key, value))
}

// Out removes key, ErrNoRecord when it is absent.
func (db *DB) Out(key []byte) error {
	db.RLock()
	defer db.RUnlock()
	if err := db.checkOpen(); err != nil {
		return db.setErr(err)
	}
	return db.setErr(db.engine.Out(key))
}

// Get returns the value of key, ErrNoRecord when it is absent.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.RLock()
	defer db.RUnlock()
	if err := db.checkOpen(); err != nil {
		return nil, db.setErr(err)
	}
	v, err := db.engine.Get(key)
	return v, db.setErr(err)
}

// Sync _
func (db *DB) Sync() error {
	db.RLock()
	defer db.RUnlock()
	if err := db.checkOpen(); err != nil {
		return db.setErr(err)
	}
	return db.setErr(db.engine.Sync())
}

// Vanish removes every record.
func (db *DB) Vanish() error {
	db.RLock()
	defer db.RUnlock()
	if err := db.checkOpen(); err != nil {
		return db.setErr(err)
	}
	return db.setErr(db.engine.Vanish())
}

// Close closes the backend. The DB may be opened again afterwards.
func (db *DB) Close() error {
	db.Lock()
	defer db.Unlock()
	if err := db.checkOpen(); err != nil {
		return db.setErr(err)
	}
	err := db.engine.Close()
	db.logger.Info("close", zap.String("path", db.path), zap.Error(err))
	db.engine = nil
	db.backend = BackendNone
	db.state = utils.StateClosed
	return db.setErr(err)
}

// Rnum returns the number of records, 0 when not open.
func (db *DB) Rnum() int64 {
	db.RLock()
	defer db.RUnlock()
	if db.checkOpen() != nil {
		return 0
	}
	return db.engine.Rnum()
}

// Size returns the size of the database in bytes, 0 when not open.
func (db *DB) Size() int64 {
	db.RLock()
	defer db.RUnlock()
	if db.checkOpen() != nil {
		return 0
	}
	return db.engine.Size()
}

// Path returns the name without its parameters.
func (db *DB) Path() string {
	db.RLock()
	defer db.RUnlock()
	return db.path
}

// State _
func (db *DB) State() utils.State {
	db.RLock()
	defer db.RUnlock()
	return db.state
}

// Engine returns the backend of an open DB, for calls the DB doesn't
// forward such as the cursors of a tree file.
func (db *DB) Engine() Engine {
	db.RLock()
	defer db.RUnlock()
	return db.engine
}
