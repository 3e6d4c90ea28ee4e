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

package file

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/hardcore-os/corecab/utils"
	"github.com/pkg/errors"
)

// OSFile 磁盘文件，头部区域通过 mmap 映射
type OSFile struct {
	Fd       *os.File
	mm       mmap.MMap
	writable bool
	locked   bool
}

// OpenFile opens opt.FileName per opt.Mode: it creates the file when asked,
// takes the file lock and truncates it only after the lock is held.
func OpenFile(opt *Options) (*OSFile, error) {
	mode := opt.Mode
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	perm := opt.Perm
	if perm == 0 {
		perm = utils.DefaultFileMode
	}
	flag := os.O_RDONLY
	if mode.Writer {
		flag = os.O_RDWR
		if mode.Create {
			flag |= os.O_CREATE
		}
	}
	fd, err := os.OpenFile(opt.FileName, flag, perm)
	if err != nil {
		return nil, utils.FromOS(utils.OpenFailed, errors.Wrapf(err, "while opening file: %s", opt.FileName))
	}
	f := &OSFile{Fd: fd, writable: mode.Writer}
	if !mode.NoLock {
		if err := lockFile(fd, mode.Writer, mode.LockNonBlocking); err != nil {
			fd.Close()
			return nil, utils.NewError(utils.LockFailed, errors.Wrapf(err, "while locking file: %s", opt.FileName))
		}
		f.locked = true
	}
	if mode.Truncate {
		if err := fd.Truncate(0); err != nil {
			f.Close()
			return nil, utils.NewError(utils.TruncateFailed, errors.Wrapf(err, "while truncating file: %s", opt.FileName))
		}
	}
	return f, nil
}

// Name _
func (f *OSFile) Name() string {
	return f.Fd.Name()
}

// ReadAt _
func (f *OSFile) ReadAt(p []byte, off int64) (int, error) {
	return f.Fd.ReadAt(p, off)
}

// WriteAt _
func (f *OSFile) WriteAt(p []byte, off int64) (int, error) {
	return f.Fd.WriteAt(p, off)
}

// Truncate _
func (f *OSFile) Truncate(size int64) error {
	if err := f.Fd.Truncate(size); err != nil {
		return utils.NewError(utils.TruncateFailed, errors.Wrapf(err, "while truncate file: %s, size: %d", f.Name(), size))
	}
	return nil
}

// Size 返回底层文件的尺寸
func (f *OSFile) Size() (int64, error) {
	fi, err := f.Fd.Stat()
	if err != nil {
		return 0, utils.NewError(utils.StatFailed, errors.Wrapf(err, "while stat file: %s", f.Name()))
	}
	return fi.Size(), nil
}

// Map _
func (f *OSFile) Map(size int) ([]byte, error) {
	if f.mm != nil && len(f.mm) == size {
		return f.mm, nil
	}
	if err := f.Unmap(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	cur, err := f.Size()
	if err != nil {
		return nil, err
	}
	if cur < int64(size) {
		// 只读文件不能扩展，映射超出文件末尾的区域访问时会 SIGBUS
		if !f.writable {
			return nil, utils.Errorf(utils.MmapFailed, "file %s is %d bytes, shorter than the %d bytes to map", f.Name(), cur, size)
		}
		if err := f.Truncate(int64(size)); err != nil {
			return nil, err
		}
	}
	prot := mmap.RDONLY
	if f.writable {
		prot = mmap.RDWR
	}
	mm, err := mmap.MapRegion(f.Fd, size, prot, 0, 0)
	if err != nil {
		return nil, utils.NewError(utils.MmapFailed, errors.Wrapf(err, "while mmapping %s with size: %d", f.Name(), size))
	}
	f.mm = mm
	return f.mm, nil
}

// Unmap _
func (f *OSFile) Unmap() error {
	if f.mm == nil {
		return nil
	}
	if f.writable {
		if err := f.mm.Flush(); err != nil {
			return utils.NewError(utils.SyncFailed, errors.Wrapf(err, "while flushing mmap: %s", f.Name()))
		}
	}
	if err := f.mm.Unmap(); err != nil {
		return utils.NewError(utils.MmapFailed, errors.Wrapf(err, "while munmap file: %s", f.Name()))
	}
	f.mm = nil
	return nil
}

// Sync 先刷映射区，再刷文件
func (f *OSFile) Sync() error {
	if !f.writable {
		return nil
	}
	if f.mm != nil {
		if err := f.mm.Flush(); err != nil {
			return utils.NewError(utils.SyncFailed, errors.Wrapf(err, "while flushing mmap: %s", f.Name()))
		}
	}
	if err := datasync(f.Fd); err != nil {
		return utils.NewError(utils.SyncFailed, errors.Wrapf(err, "while syncing file: %s", f.Name()))
	}
	return nil
}

// Close 释放映射、文件锁和文件句柄
func (f *OSFile) Close() error {
	var firstErr error
	if err := f.Unmap(); err != nil {
		firstErr = err
	}
	if f.locked {
		// 关闭 fd 同样会释放 flock，这里的错误可以忽略
		_ = unlockFile(f.Fd)
		f.locked = false
	}
	if err := f.Fd.Close(); err != nil && firstErr == nil {
		firstErr = utils.NewError(utils.CloseFailed, errors.Wrapf(err, "while close file: %s", f.Name()))
	}
	return firstErr
}
