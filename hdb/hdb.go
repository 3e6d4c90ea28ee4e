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
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/hardcore-os/corecab/file"
	"github.com/hardcore-os/corecab/utils"
	"github.com/hardcore-os/corecab/utils/codec"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// HDB is a hash database: a bucket array indexed by the hash of the key,
// each bucket heading a chain of records.
type HDB struct {
	mu     sync.RWMutex
	useMu  bool
	state  utils.State
	ecode  atomic.Int32
	logger *zap.Logger

	// tuning, fixed once opened
	tuning utils.Tuning
	kind   file.Kind
	rcnum  int
	xmsiz  int64
	dfunit int

	path     string
	mode     utils.OpenMode
	f        file.CoreFile
	mm       []byte
	meta     *file.Meta
	codec    utils.Codec
	width    int
	recStart int64
	fsiz     int64
	rnum     int64
	fpool    *freePool
	dfcnt    int
	cache    *lru.Cache[string, []byte]
}

// New _ 只分配句柄，不做任何 I/O
func New() *HDB {
	return &HDB{
		kind:   file.KindHash,
		logger: zap.NewNop(),
	}
}

func (h *HDB) lock() {
	if h.useMu {
		h.mu.Lock()
	}
}

func (h *HDB) unlock() {
	if h.useMu {
		h.mu.Unlock()
	}
}

func (h *HDB) rlock() {
	if h.useMu {
		h.mu.RLock()
	}
}

func (h *HDB) runlock() {
	if h.useMu {
		h.mu.RUnlock()
	}
}

// setErr records the outcome of a call on the handle and passes err through.
func (h *HDB) setErr(err error) error {
	h.ecode.Store(int32(utils.CodeOf(err)))
	return err
}

// ErrorCode returns the code of the last call made on the handle.
func (h *HDB) ErrorCode() utils.ErrorCode {
	return utils.ErrorCode(h.ecode.Load())
}

// fresh 调优类接口只能在打开之前调用
func (h *HDB) fresh(what string) error {
	if h.state != utils.StateFresh {
		return h.setErr(utils.Errorf(utils.InvalidOperation, "%s after open", what))
	}
	return h.setErr(nil)
}

// Tune sets the structural parameters used when a file is created.
func (h *HDB) Tune(t utils.Tuning) error {
	h.lock()
	defer h.unlock()
	if err := h.fresh("tune"); err != nil {
		return err
	}
	h.tuning = t
	return nil
}

// SetCache enables a record cache of rcnum values. 0 disables it.
func (h *HDB) SetCache(rcnum int) error {
	h.lock()
	defer h.unlock()
	if err := h.fresh("set cache"); err != nil {
		return err
	}
	h.rcnum = rcnum
	return nil
}

// SetExtraMapSize makes the memory mapped region at least size bytes.
func (h *HDB) SetExtraMapSize(size int64) error {
	h.lock()
	defer h.unlock()
	if err := h.fresh("set extra map size"); err != nil {
		return err
	}
	h.xmsiz = size
	return nil
}

// SetDefragUnit runs a defragmentation step every n freed blocks. 0 disables it.
func (h *HDB) SetDefragUnit(n int) error {
	h.lock()
	defer h.unlock()
	if err := h.fresh("set defrag unit"); err != nil {
		return err
	}
	h.dfunit = n
	return nil
}

// SetMutex makes the handle safe for concurrent use.
func (h *HDB) SetMutex() error {
	if h.state != utils.StateFresh {
		return h.setErr(utils.Errorf(utils.InvalidOperation, "set mutex after open"))
	}
	h.useMu = true
	return h.setErr(nil)
}

// SetLogger _
func (h *HDB) SetLogger(l *zap.Logger) error {
	h.lock()
	defer h.unlock()
	if err := h.fresh("set logger"); err != nil {
		return err
	}
	if l == nil {
		l = zap.NewNop()
	}
	h.logger = l
	return nil
}

// SetKind tags the file with the engine that owns it. Engines that keep
// their pages in a hash database use it so their files are not opened as
// plain hash databases by mistake.
func (h *HDB) SetKind(k file.Kind) error {
	h.lock()
	defer h.unlock()
	if err := h.fresh("set kind"); err != nil {
		return err
	}
	h.kind = k
	return nil
}

// Open opens or creates the database file at path.
func (h *HDB) Open(path string, mode utils.OpenMode) error {
	h.lock()
	defer h.unlock()
	if h.state == utils.StateOpen {
		return h.setErr(utils.Errorf(utils.InvalidOperation, "%s is already open", h.path))
	}
	if !mode.Writer {
		mode.Reader = true
	}
	if err := mode.Validate(); err != nil {
		return h.setErr(err)
	}
	if err := h.tuning.Validate(); err != nil {
		return h.setErr(err)
	}
	f, err := file.OpenFile(&file.Options{FileName: path, Mode: mode})
	if err != nil {
		h.logger.Warn("open failed", zap.String("path", path), zap.Error(err))
		return h.setErr(err)
	}
	return h.setErr(h.open(f, path, mode))
}

// OpenFile runs the database on f, which the handle then owns.
func (h *HDB) OpenFile(f file.CoreFile, mode utils.OpenMode) error {
	h.lock()
	defer h.unlock()
	if h.state == utils.StateOpen {
		return h.setErr(utils.Errorf(utils.InvalidOperation, "%s is already open", h.path))
	}
	if !mode.Writer {
		mode.Reader = true
	}
	if err := mode.Validate(); err != nil {
		return h.setErr(err)
	}
	if mode.Truncate {
		if err := f.Truncate(0); err != nil {
			return h.setErr(err)
		}
	}
	return h.setErr(h.open(f, f.Name(), mode))
}

func (h *HDB) open(f file.CoreFile, path string, mode utils.OpenMode) (err error) {
	tuning := h.tuning
	defer func() {
		if err != nil {
			f.Close()
			h.reset()
			h.tuning = tuning
			h.logger.Warn("open failed", zap.String("path", path), zap.Error(err))
		}
	}()
	if err = h.tuning.Validate(); err != nil {
		return err
	}
	h.f, h.path, h.mode = f, path, mode
	size, err := f.Size()
	if err != nil {
		return err
	}
	if size == 0 && mode.Writer {
		err = h.create()
	} else {
		err = h.load(size)
	}
	if err != nil {
		return err
	}
	if h.codec, err = codec.New(h.tuning.Compression, h.tuning.Codec); err != nil {
		return err
	}
	if h.rcnum > 0 {
		if h.cache, err = lru.New[string, []byte](h.rcnum); err != nil {
			return utils.NewError(utils.InvalidOperation, err)
		}
	}
	h.state = utils.StateOpen
	h.logger.Info("open", zap.String("path", path), zap.String("mode", mode.String()),
		zap.Int64("records", h.rnum), zap.Int64("buckets", h.tuning.Buckets))
	return nil
}

// create lays out a new file.
func (h *HDB) create() error {
	h.tuning = h.tuning.WithDefaults(utils.DefaultHashBuckets, utils.DefaultHashAlignPow, utils.DefaultFreePoolPow)
	h.width = bucketWidth(h.tuning.Large)
	h.recStart = utils.Align(file.HeaderSize+h.tuning.Buckets*int64(h.width), h.tuning.AlignPow)
	h.fsiz = h.recStart
	h.meta = &file.Meta{
		Kind:        h.kind,
		Buckets:     h.tuning.Buckets,
		AlignPow:    h.tuning.AlignPow,
		FreePoolPow: h.tuning.FreePoolPow,
		Large:       h.tuning.Large,
		Compression: h.tuning.Compression,
		RecordStart: h.recStart,
		ID:          uuid.New(),
	}
	h.fpool = newFreePool(h.tuning.FreePoolPow)
	if err := h.mapRegion(h.recStart); err != nil {
		return err
	}
	return h.writeMeta()
}

// load reads the header of an existing file. The stored tuning wins over
// the one set on the handle.
func (h *HDB) load(size int64) error {
	meta, err := file.ReadMeta(h.f)
	if err != nil {
		return err
	}
	if meta.Kind != h.kind {
		return utils.Errorf(utils.MetaDataCorrupt, "file holds a %s database, not %s", meta.Kind, h.kind)
	}
	if meta.Buckets <= 0 || meta.AlignPow < 0 || meta.AlignPow > utils.MaxAlignPow ||
		meta.FreePoolPow < 0 || meta.FreePoolPow > utils.MaxFreePoolPow {
		return utils.Errorf(utils.MetaDataCorrupt, "bad tuning in header")
	}
	codecTuning := h.tuning.Codec
	h.tuning = utils.Tuning{
		Buckets:     meta.Buckets,
		AlignPow:    meta.AlignPow,
		FreePoolPow: meta.FreePoolPow,
		Large:       meta.Large,
		Compression: meta.Compression,
		Codec:       codecTuning,
	}
	if err := h.tuning.Validate(); err != nil {
		return err
	}
	h.meta = meta
	h.width = bucketWidth(meta.Large)
	h.recStart = meta.RecordStart
	h.fsiz = meta.FileSize
	h.rnum = meta.Records
	if h.recStart != utils.Align(file.HeaderSize+meta.Buckets*int64(h.width), meta.AlignPow) ||
		h.fsiz < h.recStart || h.fsiz > size {
		return utils.Errorf(utils.MetaDataCorrupt, "file of %d bytes does not match its header", size)
	}
	h.fpool = newFreePool(meta.FreePoolPow)
	if err := h.mapRegion(size); err != nil {
		return err
	}
	if h.mode.Writer {
		return h.scan()
	}
	return nil
}

// mapRegion maps the header and the bucket array, plus the extra map size.
// limit caps the mapping of a reader to the current file size.
func (h *HDB) mapRegion(limit int64) error {
	size := h.recStart
	if h.xmsiz > size {
		size = h.xmsiz
		if !h.mode.Writer && size > limit {
			size = limit
		}
	}
	mm, err := h.f.Map(int(size))
	if err != nil {
		return err
	}
	h.mm = mm
	return nil
}

func bucketWidth(large bool) int {
	if large {
		return 8
	}
	return 4
}

func (h *HDB) reset() {
	h.f, h.mm, h.meta, h.codec, h.cache, h.fpool = nil, nil, nil, nil, nil, nil
	h.path = ""
	h.rnum, h.fsiz, h.recStart, h.dfcnt = 0, 0, 0, 0
}

func (h *HDB) writeMeta() error {
	h.meta.Records = h.rnum
	h.meta.FileSize = h.fsiz
	buf, err := h.meta.Encode()
	if err != nil {
		return err
	}
	copy(h.mm[:file.HeaderSize], buf)
	return nil
}

func (h *HDB) bucketIndex(key []byte) int64 {
	return int64(xxhash.Sum64(key) % uint64(h.tuning.Buckets))
}

func (h *HDB) bucket(idx int64) int64 {
	pos := file.HeaderSize + idx*int64(h.width)
	if h.width == 8 {
		return int64(binary.BigEndian.Uint64(h.mm[pos:])) << uint(h.tuning.AlignPow)
	}
	return int64(binary.BigEndian.Uint32(h.mm[pos:])) << uint(h.tuning.AlignPow)
}

func (h *HDB) setBucket(idx, off int64) {
	pos := file.HeaderSize + idx*int64(h.width)
	v := uint64(off) >> uint(h.tuning.AlignPow)
	if h.width == 8 {
		binary.BigEndian.PutUint64(h.mm[pos:], v)
		return
	}
	binary.BigEndian.PutUint32(h.mm[pos:], uint32(v))
}

func (h *HDB) checkOpen() error {
	if h.state != utils.StateOpen {
		return utils.Errorf(utils.InvalidOperation, "database is not open")
	}
	return nil
}

func (h *HDB) checkWriter() error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if !h.mode.Writer {
		return utils.Errorf(utils.InvalidOperation, "%s is opened as reader", h.path)
	}
	return nil
}

// search walks the chain of key. prev is the record linking to the result,
// nil when the bucket itself does.
func (h *HDB) search(key []byte, idx int64) (prev, cur *record, err error) {
	for off := h.bucket(idx); off != 0; {
		r, err := h.readHeader(off)
		if err != nil {
			return nil, nil, err
		}
		if r.free() {
			return nil, nil, utils.Errorf(utils.RecordHeaderCorrupt, "chain of bucket %d reaches a free block at %d", idx, off)
		}
		ok, err := h.keyEqual(r, key)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return prev, r, nil
		}
		prev, off = r, r.next
	}
	return prev, nil, nil
}

// link points prev, or the bucket, at off.
func (h *HDB) link(idx int64, prev *record, off int64) error {
	if prev == nil {
		h.setBucket(idx, off)
		return nil
	}
	return h.writeNext(prev.off, off)
}

// Put stores value under key, replacing an existing value.
func (h *HDB) Put(key, value []byte) error {
	h.lock()
	defer h.unlock()
	return h.setErr(h.put(key, value, false))
}

// PutKeep stores value only when key is absent, ErrKeep otherwise.
func (h *HDB) PutKeep(key, value []byte) error {
	h.lock()
	defer h.unlock()
	return h.setErr(h.put(key, value, true))
}

func (h *HDB) put(key, value []byte, keep bool) error {
	if err := h.checkWriter(); err != nil {
		return err
	}
	idx := h.bucketIndex(key)
	prev, cur, err := h.search(key, idx)
	if err != nil {
		return err
	}
	if cur != nil && keep {
		return utils.Errorf(utils.KeyAlreadyExists, "key %q", key)
	}
	stored, flags, err := h.encodeValue(value)
	if err != nil {
		return err
	}
	need, err := h.recordSize(len(key), len(stored))
	if err != nil {
		return err
	}

	if cur != nil {
		if h.cache != nil {
			h.cache.Remove(string(key))
		}
		if need <= int64(cur.rsiz) {
			return h.overwrite(cur, key, stored, flags, need)
		}
	}

	off, rsiz, err := h.allocate(need)
	if err != nil {
		return err
	}
	r := &record{
		off:   off,
		magic: magicRecord,
		flags: flags,
		rsiz:  uint32(rsiz),
		ksiz:  uint32(len(key)),
		vsiz:  uint32(len(stored)),
	}
	if cur != nil {
		r.next = cur.next
	} else {
		r.next = h.bucket(idx)
	}
	if err := h.writeRecord(r, key, stored); err != nil {
		return err
	}
	if cur != nil {
		if err := h.link(idx, prev, off); err != nil {
			return err
		}
		if err := h.release(cur.off, int64(cur.rsiz)); err != nil {
			return err
		}
	} else {
		h.setBucket(idx, off)
		h.rnum++
	}
	return h.syncTxn()
}

// overwrite rewrites cur in its own block, splitting off the unused tail
// when it can stand as a free block.
func (h *HDB) overwrite(cur *record, key, stored []byte, flags byte, need int64) error {
	rsiz := int64(cur.rsiz)
	rest := rsiz - need
	if rest >= h.minFree() {
		rsiz = need
	} else {
		rest = 0
	}
	r := &record{
		off:   cur.off,
		magic: magicRecord,
		flags: flags,
		rsiz:  uint32(rsiz),
		ksiz:  uint32(len(key)),
		vsiz:  uint32(len(stored)),
		next:  cur.next,
	}
	if err := h.writeRecord(r, key, stored); err != nil {
		return err
	}
	if rest > 0 {
		if err := h.release(cur.off+rsiz, rest); err != nil {
			return err
		}
	}
	return h.syncTxn()
}

// Out removes key, ErrNoRecord when it is absent.
func (h *HDB) Out(key []byte) error {
	h.lock()
	defer h.unlock()
	return h.setErr(h.out(key))
}

func (h *HDB) out(key []byte) error {
	if err := h.checkWriter(); err != nil {
		return err
	}
	idx := h.bucketIndex(key)
	prev, cur, err := h.search(key, idx)
	if err != nil {
		return err
	}
	if cur == nil {
		return utils.Errorf(utils.RecordNotFound, "key %q", key)
	}
	if h.cache != nil {
		h.cache.Remove(string(key))
	}
	if err := h.link(idx, prev, cur.next); err != nil {
		return err
	}
	if err := h.release(cur.off, int64(cur.rsiz)); err != nil {
		return err
	}
	h.rnum--
	return h.syncTxn()
}

// Get returns the value of key, ErrNoRecord when it is absent.
func (h *HDB) Get(key []byte) ([]byte, error) {
	h.rlock()
	defer h.runlock()
	v, err := h.get(key)
	return v, h.setErr(err)
}

func (h *HDB) get(key []byte) ([]byte, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if h.cache != nil {
		if v, ok := h.cache.Get(string(key)); ok {
			return utils.Copy(v), nil
		}
	}
	_, cur, err := h.search(key, h.bucketIndex(key))
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, utils.Errorf(utils.RecordNotFound, "key %q", key)
	}
	v, err := h.readValue(cur)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		h.cache.Add(string(key), utils.Copy(v))
	}
	return v, nil
}

func (h *HDB) syncTxn() error {
	if h.mode.SyncEveryTxn {
		return h.sync()
	}
	return nil
}

// Sync writes the header and flushes the file to disk.
func (h *HDB) Sync() error {
	h.lock()
	defer h.unlock()
	return h.setErr(h.syncChecked())
}

func (h *HDB) syncChecked() error {
	if err := h.checkWriter(); err != nil {
		return err
	}
	return h.sync()
}

func (h *HDB) sync() error {
	if err := h.writeMeta(); err != nil {
		return err
	}
	if err := h.f.Sync(); err != nil {
		h.logger.Warn("sync failed", zap.String("path", h.path), zap.Error(err))
		return err
	}
	return nil
}

// Vanish removes every record.
func (h *HDB) Vanish() error {
	h.lock()
	defer h.unlock()
	return h.setErr(h.vanish())
}

func (h *HDB) vanish() error {
	if err := h.checkWriter(); err != nil {
		return err
	}
	for i := file.HeaderSize; int64(i) < h.recStart && i < len(h.mm); i++ {
		h.mm[i] = 0
	}
	h.fsiz = h.recStart
	h.rnum = 0
	h.dfcnt = 0
	h.fpool.reset()
	if h.cache != nil {
		h.cache.Purge()
	}
	if err := h.f.Truncate(int64(len(h.mm))); err != nil {
		return err
	}
	return h.syncTxn()
}

// Defrag merges free space right away instead of waiting for the defrag unit.
func (h *HDB) Defrag() error {
	h.lock()
	defer h.unlock()
	if err := h.checkWriter(); err != nil {
		return h.setErr(err)
	}
	return h.setErr(h.defrag())
}

// Close writes the header, flushes and releases the file and its lock.
// Closing a handle that is not open fails with ErrInvalid.
func (h *HDB) Close() error {
	h.lock()
	defer h.unlock()
	if err := h.checkOpen(); err != nil {
		return h.setErr(err)
	}
	var firstErr error
	if h.mode.Writer {
		firstErr = h.sync()
	}
	if err := h.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	h.logger.Info("close", zap.String("path", h.path), zap.Int64("records", h.rnum), zap.Error(firstErr))
	h.state = utils.StateClosed
	h.reset()
	if firstErr != nil && utils.CodeOf(firstErr) != utils.CloseFailed {
		firstErr = utils.NewError(utils.CloseFailed, firstErr)
	}
	return h.setErr(firstErr)
}

// Rnum returns the number of records.
func (h *HDB) Rnum() int64 {
	h.rlock()
	defer h.runlock()
	return h.rnum
}

// Size returns the size of the database file in bytes.
func (h *HDB) Size() int64 {
	h.rlock()
	defer h.runlock()
	if int64(len(h.mm)) > h.fsiz {
		return int64(len(h.mm))
	}
	return h.fsiz
}

// Path _
func (h *HDB) Path() string {
	h.rlock()
	defer h.runlock()
	return h.path
}

// ID returns the identifier generated when the file was created.
func (h *HDB) ID() uuid.UUID {
	h.rlock()
	defer h.runlock()
	if h.meta == nil {
		return uuid.Nil
	}
	return h.meta.ID
}

// State _
func (h *HDB) State() utils.State {
	h.rlock()
	defer h.runlock()
	return h.state
}

// Tuning returns the effective tuning, read from the file once opened.
func (h *HDB) Tuning() utils.Tuning {
	h.rlock()
	defer h.runlock()
	return h.tuning
}
