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
	"os"
	"sync/atomic"
	"time"

	"github.com/hardcore-os/corecab/utils"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketName = []byte("corecab")

// keyPrefix 让空 key 也能存进 bbolt，前缀不改变 key 的顺序
const keyPrefix = 0x00

func boltKey(key []byte) []byte {
	k := make([]byte, len(key)+1)
	k[0] = keyPrefix
	copy(k[1:], key)
	return k
}

// lookup finds the stored key k. ok is false when it is absent, whatever
// the value looks like.
func lookup(b *bolt.Bucket, k []byte) (v []byte, ok bool) {
	if b == nil {
		return nil, false
	}
	ck, cv := b.Cursor().Seek(k)
	if ck == nil || !bytes.Equal(ck, k) {
		return nil, false
	}
	return cv, true
}

// DB keeps the records in one bucket of a bbolt file. bbolt orders keys
// byte by byte and is safe for concurrent use on its own.
type DB struct {
	state  utils.State
	ecode  atomic.Int32
	logger *zap.Logger

	path string
	mode utils.OpenMode
	db   *bolt.DB
}

// New _
func New() *DB {
	return &DB{logger: zap.NewNop()}
}

func (d *DB) setErr(err error) error {
	d.ecode.Store(int32(utils.CodeOf(err)))
	return err
}

// ErrorCode returns the code of the last call made on the handle.
func (d *DB) ErrorCode() utils.ErrorCode {
	return utils.ErrorCode(d.ecode.Load())
}

// SetLogger _
func (d *DB) SetLogger(l *zap.Logger) error {
	if d.state != utils.StateFresh {
		return d.setErr(utils.Errorf(utils.InvalidOperation, "set logger after open"))
	}
	if l == nil {
		l = zap.NewNop()
	}
	d.logger = l
	return d.setErr(nil)
}

// fromBolt maps bbolt errors to error codes.
func fromBolt(code utils.ErrorCode, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrTimeout):
		return utils.NewError(utils.LockFailed, err)
	case errors.Is(err, bolt.ErrInvalid), errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrVersionMismatch):
		return utils.NewError(utils.MetaDataCorrupt, err)
	case errors.Is(err, bolt.ErrDatabaseReadOnly), errors.Is(err, bolt.ErrTxNotWritable):
		return utils.NewError(utils.InvalidOperation, err)
	}
	return utils.FromOS(code, err)
}

// Open opens the bbolt file at path. NoLock is not supported by bbolt and
// is treated as a blocking lock.
func (d *DB) Open(path string, mode utils.OpenMode) error {
	if d.state == utils.StateOpen {
		return d.setErr(utils.Errorf(utils.InvalidOperation, "%s is already open", d.path))
	}
	if !mode.Writer {
		mode.Reader = true
	}
	if err := mode.Validate(); err != nil {
		return d.setErr(err)
	}
	return d.setErr(d.open(path, mode))
}

func (d *DB) open(path string, mode utils.OpenMode) error {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) || !mode.Create {
			return utils.FromOS(utils.OpenFailed, err)
		}
	}

	opt := &bolt.Options{ReadOnly: mode.Reader}
	if mode.LockNonBlocking {
		opt.Timeout = time.Nanosecond
	}
	db, err := bolt.Open(path, utils.DefaultFileMode, opt)
	if err != nil {
		d.logger.Warn("open failed", zap.String("path", path), zap.Error(err))
		return fromBolt(utils.OpenFailed, err)
	}
	db.NoSync = !mode.SyncEveryTxn
	if mode.Writer {
		// 截断要在拿到文件锁之后做
		if err := db.Update(func(tx *bolt.Tx) error {
			if mode.Truncate {
				if err := tx.DeleteBucket(bucketName); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
					return err
				}
			}
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		}); err != nil {
			db.Close()
			if mode.Truncate {
				return fromBolt(utils.TruncateFailed, err)
			}
			return fromBolt(utils.WriteFailed, err)
		}
	}
	d.db, d.path, d.mode = db, path, mode
	d.state = utils.StateOpen
	d.logger.Info("open", zap.String("path", path), zap.String("mode", mode.String()))
	return nil
}

func (d *DB) checkOpen() error {
	if d.state != utils.StateOpen {
		return utils.Errorf(utils.InvalidOperation, "database is not open")
	}
	return nil
}

func (d *DB) update(fn func(b *bolt.Bucket) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if !d.mode.Writer {
		return utils.Errorf(utils.InvalidOperation, "%s is opened as reader", d.path)
	}
	err := d.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
	if _, ok := err.(*utils.Error); ok {
		return err
	}
	return fromBolt(utils.WriteFailed, err)
}

// view runs fn on the bucket, which is nil in a file no writer has set up.
func (d *DB) view(fn func(b *bolt.Bucket) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	err := d.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
	if _, ok := err.(*utils.Error); ok {
		return err
	}
	return fromBolt(utils.ReadFailed, err)
}

// Put stores value under key, replacing an existing value.
func (d *DB) Put(key, value []byte) error {
	return d.setErr(d.update(func(b *bolt.Bucket) error {
		return b.Put(boltKey(key), utils.Copy(value))
	}))
}

// PutKeep stores value only when key is absent, ErrKeep otherwise.
func (d *DB) PutKeep(key, value []byte) error {
	return d.setErr(d.update(func(b *bolt.Bucket) error {
		k := boltKey(key)
		if _, ok := lookup(b, k); ok {
			return utils.Errorf(utils.KeyAlreadyExists, "key %q", key)
		}
		return b.Put(k, utils.Copy(value))
	}))
}

// Out removes key, ErrNoRecord when it is absent.
func (d *DB) Out(key []byte) error {
	return d.setErr(d.update(func(b *bolt.Bucket) error {
		k := boltKey(key)
		if _, ok := lookup(b, k); !ok {
			return utils.Errorf(utils.RecordNotFound, "key %q", key)
		}
		return b.Delete(k)
	}))
}

// Get returns a copy of the value of key, ErrNoRecord when it is absent.
func (d *DB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := d.view(func(b *bolt.Bucket) error {
		v, ok := lookup(b, boltKey(key))
		if !ok {
			return utils.Errorf(utils.RecordNotFound, "key %q", key)
		}
		val = utils.Copy(v)
		return nil
	})
	return val, d.setErr(err)
}

// Sync flushes the file to disk.
func (d *DB) Sync() error {
	if err := d.checkOpen(); err != nil {
		return d.setErr(err)
	}
	if !d.mode.Writer {
		return d.setErr(utils.Errorf(utils.InvalidOperation, "%s is opened as reader", d.path))
	}
	if err := d.db.Sync(); err != nil {
		d.logger.Warn("sync failed", zap.String("path", d.path), zap.Error(err))
		return d.setErr(utils.FromOS(utils.SyncFailed, err))
	}
	return d.setErr(nil)
}

// Vanish removes every record.
func (d *DB) Vanish() error {
	err := d.checkOpen()
	if err == nil && !d.mode.Writer {
		err = utils.Errorf(utils.InvalidOperation, "%s is opened as reader", d.path)
	}
	if err != nil {
		return d.setErr(err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	return d.setErr(fromBolt(utils.WriteFailed, err))
}

// Close releases the file. Closing a handle that is not open fails with ErrInvalid.
func (d *DB) Close() error {
	if err := d.checkOpen(); err != nil {
		return d.setErr(err)
	}
	var err error
	if d.mode.Writer && d.db.NoSync {
		err = d.db.Sync()
	}
	if cerr := d.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	d.logger.Info("close", zap.String("path", d.path), zap.Error(err))
	d.db = nil
	d.state = utils.StateClosed
	if err != nil {
		return d.setErr(utils.NewError(utils.CloseFailed, err))
	}
	return d.setErr(nil)
}

// Rnum returns the number of records.
func (d *DB) Rnum() int64 {
	var n int64
	d.view(func(b *bolt.Bucket) error {
		if b != nil {
			n = int64(b.Stats().KeyN)
		}
		return nil
	})
	return n
}

// Size returns the size of the file in bytes.
func (d *DB) Size() int64 {
	if d.checkOpen() != nil {
		return 0
	}
	var n int64
	d.db.View(func(tx *bolt.Tx) error {
		n = tx.Size()
		return nil
	})
	return n
}

// Path _
func (d *DB) Path() string {
	return d.path
}

// State _
func (d *DB) State() utils.State {
	return d.state
}
