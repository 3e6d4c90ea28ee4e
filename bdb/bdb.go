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
	"sync"
	"sync/atomic"

	"github.com/hardcore-os/corecab/file"
	"github.com/hardcore-os/corecab/hdb"
	"github.com/hardcore-os/corecab/utils"
	"github.com/hardcore-os/corecab/utils/cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Tuning extends the shared tuning with the page sizes of the tree.
// Buckets, AlignPow and FreePoolPow size the page store.
type Tuning struct {
	utils.Tuning
	// LeafMembers is the number of records a leaf holds before it splits.
	LeafMembers int
	// NodeMembers is the number of separators a node holds before it splits.
	NodeMembers int
}

// Validate _
func (t Tuning) Validate() error {
	if err := t.Tuning.Validate(); err != nil {
		return err
	}
	if t.LeafMembers != 0 && t.LeafMembers < utils.MinPageMembers {
		return utils.Errorf(utils.InvalidOperation, "leaf members %d below %d", t.LeafMembers, utils.MinPageMembers)
	}
	if t.NodeMembers != 0 && t.NodeMembers < utils.MinPageMembers {
		return utils.Errorf(utils.InvalidOperation, "node members %d below %d", t.NodeMembers, utils.MinPageMembers)
	}
	return nil
}

// BDB is a B+ tree database. Its pages are records of a hash database
// stored in the same file.
type BDB struct {
	// reads fill the page caches, so every call takes the write lock
	mu     sync.Mutex
	useMu  bool
	state  utils.State
	ecode  atomic.Int32
	logger *zap.Logger

	tuning Tuning
	cmp    utils.Comparator
	cmpSet bool
	lcnum  int
	ncnum  int
	xmsiz  int64
	dfunit int

	path   string
	mode   utils.OpenMode
	store  *hdb.HDB
	meta   *treeMeta
	leaves *cache.Cache
	nodes  *cache.Cache

	dirtyLeaves map[uint64]*leaf
	dirtyNodes  map[uint64]*node
	metaDirty   bool
}

// New _ 只分配句柄，不做任何 I/O
func New() *BDB {
	return &BDB{
		cmp:    utils.Lexical,
		lcnum:  utils.DefaultLeafCache,
		ncnum:  utils.DefaultNodeCache,
		logger: zap.NewNop(),
	}
}

func (b *BDB) lock() {
	if b.useMu {
		b.mu.Lock()
	}
}

func (b *BDB) unlock() {
	if b.useMu {
		b.mu.Unlock()
	}
}

func (b *BDB) setErr(err error) error {
	b.ecode.Store(int32(utils.CodeOf(err)))
	return err
}

// ErrorCode returns the code of the last call made on the handle.
func (b *BDB) ErrorCode() utils.ErrorCode {
	return utils.ErrorCode(b.ecode.Load())
}

func (b *BDB) fresh(what string) error {
	if b.state != utils.StateFresh {
		return b.setErr(utils.Errorf(utils.InvalidOperation, "%s after open", what))
	}
	return b.setErr(nil)
}

// SetComparator sets the order of keys. The default is utils.Lexical.
func (b *BDB) SetComparator(c utils.Comparator) error {
	b.lock()
	defer b.unlock()
	if err := b.fresh("set comparator"); err != nil {
		return err
	}
	if c == nil {
		return b.setErr(utils.Errorf(utils.InvalidOperation, "nil comparator"))
	}
	b.cmp, b.cmpSet = c, true
	return nil
}

// Tune sets the structural parameters used when a file is created.
func (b *BDB) Tune(t Tuning) error {
	b.lock()
	defer b.unlock()
	if err := b.fresh("tune"); err != nil {
		return err
	}
	b.tuning = t
	return nil
}

// SetCache sets how many clean leaves and nodes stay in memory. Values
// below the minimum are raised to it, 0 keeps the default.
func (b *BDB) SetCache(leafCache, nodeCache int) error {
	b.lock()
	defer b.unlock()
	if err := b.fresh("set cache"); err != nil {
		return err
	}
	b.lcnum = cacheSize(leafCache, utils.DefaultLeafCache)
	b.ncnum = cacheSize(nodeCache, utils.DefaultNodeCache)
	return nil
}

func cacheSize(n, def int) int {
	switch {
	case n <= 0:
		return def
	case n < utils.MinPageCache:
		return utils.MinPageCache
	}
	return n
}

// SetExtraMapSize _
func (b *BDB) SetExtraMapSize(size int64) error {
	b.lock()
	defer b.unlock()
	if err := b.fresh("set extra map size"); err != nil {
		return err
	}
	b.xmsiz = size
	return nil
}

// SetDefragUnit _
func (b *BDB) SetDefragUnit(n int) error {
	b.lock()
	defer b.unlock()
	if err := b.fresh("set defrag unit"); err != nil {
		return err
	}
	b.dfunit = n
	return nil
}

// SetMutex makes the handle safe for concurrent use.
func (b *BDB) SetMutex() error {
	if b.state != utils.StateFresh {
		return b.setErr(utils.Errorf(utils.InvalidOperation, "set mutex after open"))
	}
	b.useMu = true
	return b.setErr(nil)
}

// SetLogger _
func (b *BDB) SetLogger(l *zap.Logger) error {
	b.lock()
	defer b.unlock()
	if err := b.fresh("set logger"); err != nil {
		return err
	}
	if l == nil {
		l = zap.NewNop()
	}
	b.logger = l
	return nil
}

// newStore prepares the hash database holding the pages.
func (b *BDB) newStore() (*hdb.HDB, error) {
	s := hdb.New()
	t := b.tuning.Tuning.WithDefaults(utils.DefaultTreeBuckets, utils.DefaultTreeAlignPow, utils.DefaultFreePoolPow)
	for _, err := range []error{
		s.SetKind(file.KindTree),
		s.Tune(t),
		s.SetExtraMapSize(b.xmsiz),
		s.SetDefragUnit(b.dfunit),
		s.SetLogger(b.logger),
	} {
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (b *BDB) checkMode(mode utils.OpenMode) (utils.OpenMode, error) {
	if b.state == utils.StateOpen {
		return mode, utils.Errorf(utils.InvalidOperation, "%s is already open", b.path)
	}
	if !mode.Writer {
		mode.Reader = true
	}
	if err := mode.Validate(); err != nil {
		return mode, err
	}
	return mode, b.tuning.Validate()
}

// Open opens or creates the database file at path.
func (b *BDB) Open(path string, mode utils.OpenMode) error {
	b.lock()
	defer b.unlock()
	mode, err := b.checkMode(mode)
	if err != nil {
		return b.setErr(err)
	}
	s, err := b.newStore()
	if err != nil {
		return b.setErr(err)
	}
	if err := s.Open(path, mode); err != nil {
		b.logger.Warn("open failed", zap.String("path", path), zap.Error(err))
		return b.setErr(err)
	}
	return b.setErr(b.open(s, path, mode))
}

// OpenFile runs the database on f, which the handle then owns.
func (b *BDB) OpenFile(f file.CoreFile, mode utils.OpenMode) error {
	b.lock()
	defer b.unlock()
	mode, err := b.checkMode(mode)
	if err != nil {
		return b.setErr(err)
	}
	s, err := b.newStore()
	if err != nil {
		return b.setErr(err)
	}
	if err := s.OpenFile(f, mode); err != nil {
		return b.setErr(err)
	}
	return b.setErr(b.open(s, f.Name(), mode))
}

func (b *BDB) open(s *hdb.HDB, path string, mode utils.OpenMode) (err error) {
	b.store, b.path, b.mode = s, path, mode
	b.dirtyLeaves = map[uint64]*leaf{}
	b.dirtyNodes = map[uint64]*node{}
	b.leaves = cache.NewCache(b.lcnum)
	b.nodes = cache.NewCache(b.ncnum)
	defer func() {
		if err != nil {
			s.Close()
			b.reset()
			b.logger.Warn("open failed", zap.String("path", path), zap.Error(err))
		}
	}()

	if s.Rnum() == 0 && mode.Writer {
		if err = b.create(); err != nil {
			return err
		}
	} else if err = b.load(); err != nil {
		return err
	}
	b.state = utils.StateOpen
	b.logger.Info("open", zap.String("path", path), zap.String("mode", mode.String()),
		zap.Int64("records", b.meta.rnum), zap.Int64("leaves", b.meta.lnum), zap.Int64("nodes", b.meta.nnum),
		zap.String("comparator", b.meta.cmp))
	return nil
}

// create writes an empty root leaf and the tree meta.
func (b *BDB) create() error {
	lmemb, nmemb := b.tuning.LeafMembers, b.tuning.NodeMembers
	if lmemb == 0 {
		lmemb = utils.DefaultLeafMembers
	}
	if nmemb == 0 {
		nmemb = utils.DefaultNodeMembers
	}
	b.tuning.LeafMembers, b.tuning.NodeMembers = lmemb, nmemb
	b.meta = &treeMeta{
		lmemb:  lmemb,
		nmemb:  nmemb,
		cmp:    utils.ComparatorName(b.cmp),
		nodeID: nodeIDBase - 1,
	}
	b.resetTree()
	return b.flush()
}

// resetTree starts over with a single empty leaf. Page ids keep growing so
// a stale cursor never meets a recycled id.
func (b *BDB) resetTree() {
	l := b.newLeaf()
	b.meta.root, b.meta.first, b.meta.last = l.id, l.id, l.id
	b.meta.lnum, b.meta.nnum, b.meta.rnum = 1, 0, 0
	b.metaDirty = true
}

// load reads the tree meta and checks the comparator against it.
func (b *BDB) load() error {
	buf, err := b.store.Get(pageKey(metaPageID))
	if err != nil {
		if errors.Is(err, utils.ErrNoRecord) {
			return utils.Errorf(utils.MetaDataCorrupt, "tree meta is missing")
		}
		return err
	}
	m, err := decodeTreeMeta(buf)
	if err != nil {
		return err
	}
	switch name := utils.ComparatorName(b.cmp); {
	case !b.cmpSet && m.cmp == "":
		return utils.Errorf(utils.InvalidOperation, "tree was built with an anonymous comparator, set it before open")
	case !b.cmpSet:
		if b.cmp, err = utils.ComparatorByName(m.cmp); err != nil {
			return err
		}
	case name != "" && m.cmp != "" && name != m.cmp:
		return utils.Errorf(utils.InvalidOperation, "tree was built with comparator %q, not %q", m.cmp, name)
	}
	b.meta = m
	b.tuning.LeafMembers, b.tuning.NodeMembers = m.lmemb, m.nmemb
	return nil
}

func (b *BDB) reset() {
	b.store, b.meta, b.leaves, b.nodes = nil, nil, nil, nil
	b.dirtyLeaves, b.dirtyNodes = nil, nil
	b.metaDirty = false
	b.path = ""
}

func (b *BDB) checkOpen() error {
	if b.state != utils.StateOpen {
		return utils.Errorf(utils.InvalidOperation, "database is not open")
	}
	return nil
}

func (b *BDB) checkWriter() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if !b.mode.Writer {
		return utils.Errorf(utils.InvalidOperation, "%s is opened as reader", b.path)
	}
	return nil
}

// loadLeaf returns the leaf id from the dirty set, the cache or the page store.
func (b *BDB) loadLeaf(id uint64) (*leaf, error) {
	l, ok, err := b.peekLeaf(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.Errorf(utils.RecordHeaderCorrupt, "leaf %d is missing", id)
	}
	return l, nil
}

// peekLeaf is loadLeaf for ids that may have been removed.
func (b *BDB) peekLeaf(id uint64) (*leaf, bool, error) {
	if l, ok := b.dirtyLeaves[id]; ok {
		return l, true, nil
	}
	if v, ok := b.leaves.Get(id); ok {
		return v.(*leaf), true, nil
	}
	buf, err := b.store.Get(pageKey(id))
	if err != nil {
		if errors.Is(err, utils.ErrNoRecord) {
			return nil, false, nil
		}
		return nil, false, err
	}
	l, err := decodeLeaf(id, buf)
	if err != nil {
		return nil, false, err
	}
	b.leaves.Set(id, l)
	return l, true, nil
}

func (b *BDB) loadNode(id uint64) (*node, error) {
	if n, ok := b.dirtyNodes[id]; ok {
		return n, nil
	}
	if v, ok := b.nodes.Get(id); ok {
		return v.(*node), nil
	}
	buf, err := b.store.Get(pageKey(id))
	if err != nil {
		if errors.Is(err, utils.ErrNoRecord) {
			return nil, utils.Errorf(utils.RecordHeaderCorrupt, "node %d is missing", id)
		}
		return nil, err
	}
	n, err := decodeNode(id, buf)
	if err != nil {
		return nil, err
	}
	b.nodes.Set(id, n)
	return n, nil
}

// dirtyLeaf must be called before l is changed, and before any other page
// is loaded in the same operation, so the cache can't hand out a second copy.
func (b *BDB) dirtyLeaf(l *leaf) {
	if _, ok := b.dirtyLeaves[l.id]; ok {
		return
	}
	b.dirtyLeaves[l.id] = l
	b.leaves.Del(l.id)
}

func (b *BDB) dirtyNode(n *node) {
	if _, ok := b.dirtyNodes[n.id]; ok {
		return
	}
	b.dirtyNodes[n.id] = n
	b.nodes.Del(n.id)
}

func (b *BDB) newLeaf() *leaf {
	b.meta.leafID++
	l := &leaf{id: b.meta.leafID}
	b.dirtyLeaves[l.id] = l
	b.meta.lnum++
	b.metaDirty = true
	return l
}

func (b *BDB) newNode() *node {
	b.meta.nodeID++
	n := &node{id: b.meta.nodeID}
	b.dirtyNodes[n.id] = n
	b.meta.nnum++
	b.metaDirty = true
	return n
}

// dropPage removes a leaf or node everywhere it may live.
func (b *BDB) dropPage(id uint64) error {
	if isNode(id) {
		delete(b.dirtyNodes, id)
		b.nodes.Del(id)
		b.meta.nnum--
	} else {
		delete(b.dirtyLeaves, id)
		b.leaves.Del(id)
		b.meta.lnum--
	}
	b.metaDirty = true
	if err := b.store.Out(pageKey(id)); err != nil && !errors.Is(err, utils.ErrNoRecord) {
		return err
	}
	return nil
}

// flush writes the dirty pages and the meta to the page store. Written
// pages move to the clean caches.
func (b *BDB) flush() error {
	for id, l := range b.dirtyLeaves {
		if err := b.store.Put(pageKey(id), l.encode()); err != nil {
			return err
		}
		delete(b.dirtyLeaves, id)
		b.leaves.Set(id, l)
	}
	for id, n := range b.dirtyNodes {
		if err := b.store.Put(pageKey(id), n.encode()); err != nil {
			return err
		}
		delete(b.dirtyNodes, id)
		b.nodes.Set(id, n)
	}
	if b.metaDirty {
		if err := b.store.Put(pageKey(metaPageID), b.meta.encode()); err != nil {
			return err
		}
		b.metaDirty = false
	}
	return nil
}

// adjust runs after every write: dirty pages are written back once there
// are more of them than the cache holds.
func (b *BDB) adjust() error {
	if b.mode.SyncEveryTxn {
		return b.sync()
	}
	if len(b.dirtyLeaves) > b.lcnum || len(b.dirtyNodes) > b.ncnum {
		return b.flush()
	}
	return nil
}

func (b *BDB) sync() error {
	if err := b.flush(); err != nil {
		return err
	}
	return b.store.Sync()
}

// Put stores value under key, replacing an existing value.
func (b *BDB) Put(key, value []byte) error {
	b.lock()
	defer b.unlock()
	return b.setErr(b.put(key, value, false))
}

// PutKeep stores value only when key is absent, ErrKeep otherwise.
func (b *BDB) PutKeep(key, value []byte) error {
	b.lock()
	defer b.unlock()
	return b.setErr(b.put(key, value, true))
}

// Out removes key, ErrNoRecord when it is absent.
func (b *BDB) Out(key []byte) error {
	b.lock()
	defer b.unlock()
	return b.setErr(b.out(key))
}

// Get returns the value of key, ErrNoRecord when it is absent.
func (b *BDB) Get(key []byte) ([]byte, error) {
	b.lock()
	defer b.unlock()
	v, err := b.get(key)
	return v, b.setErr(err)
}

// Sync writes the dirty pages and flushes the file to disk.
func (b *BDB) Sync() error {
	b.lock()
	defer b.unlock()
	if err := b.checkWriter(); err != nil {
		return b.setErr(err)
	}
	if err := b.sync(); err != nil {
		b.logger.Warn("sync failed", zap.String("path", b.path), zap.Error(err))
		return b.setErr(err)
	}
	return b.setErr(nil)
}

// Vanish removes every record.
func (b *BDB) Vanish() error {
	b.lock()
	defer b.unlock()
	return b.setErr(b.vanish())
}

func (b *BDB) vanish() error {
	if err := b.checkWriter(); err != nil {
		return err
	}
	if err := b.store.Vanish(); err != nil {
		return err
	}
	b.dirtyLeaves = map[uint64]*leaf{}
	b.dirtyNodes = map[uint64]*node{}
	b.leaves.Clear()
	b.nodes.Clear()
	b.resetTree()
	if err := b.flush(); err != nil {
		return err
	}
	return b.adjust()
}

// Close writes the dirty pages, flushes and releases the file.
// Closing a handle that is not open fails with ErrInvalid.
func (b *BDB) Close() error {
	b.lock()
	defer b.unlock()
	if err := b.checkOpen(); err != nil {
		return b.setErr(err)
	}
	var firstErr error
	if b.mode.Writer {
		firstErr = b.flush()
	}
	if err := b.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.logger.Info("close", zap.String("path", b.path), zap.Int64("records", b.meta.rnum), zap.Error(firstErr))
	b.state = utils.StateClosed
	b.reset()
	if firstErr != nil && utils.CodeOf(firstErr) != utils.CloseFailed {
		firstErr = utils.NewError(utils.CloseFailed, firstErr)
	}
	return b.setErr(firstErr)
}

// Rnum returns the number of records.
func (b *BDB) Rnum() int64 {
	b.lock()
	defer b.unlock()
	if b.meta == nil {
		return 0
	}
	return b.meta.rnum
}

// Lnum returns the number of leaves.
func (b *BDB) Lnum() int64 {
	b.lock()
	defer b.unlock()
	if b.meta == nil {
		return 0
	}
	return b.meta.lnum
}

// Nnum returns the number of internal nodes.
func (b *BDB) Nnum() int64 {
	b.lock()
	defer b.unlock()
	if b.meta == nil {
		return 0
	}
	return b.meta.nnum
}

// Size returns the size of the database file in bytes.
func (b *BDB) Size() int64 {
	b.lock()
	defer b.unlock()
	if b.store == nil {
		return 0
	}
	return b.store.Size()
}

// Path _
func (b *BDB) Path() string {
	b.lock()
	defer b.unlock()
	return b.path
}

// State _
func (b *BDB) State() utils.State {
	b.lock()
	defer b.unlock()
	return b.state
}

// Tuning returns the effective tuning, read from the file once opened.
func (b *BDB) Tuning() Tuning {
	b.lock()
	defer b.unlock()
	t := b.tuning
	if b.store != nil {
		t.Tuning = b.store.Tuning()
	}
	return t
}

// Comparator _
func (b *BDB) Comparator() utils.Comparator {
	b.lock()
	defer b.unlock()
	return b.cmp
}
