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
	"io"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/hardcore-os/corecab/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writerMode() utils.OpenMode {
	return utils.OpenMode{Writer: true, Create: true}
}

func TestOSFileMapAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.dat")
	f, err := OpenFile(&Options{FileName: path, Mode: writerMode()})
	require.NoError(t, err)

	mm, err := f.Map(4096)
	require.NoError(t, err)
	require.Len(t, mm, 4096)
	copy(mm[100:], "hello")
	_, err = f.WriteAt([]byte("tail"), 5000)
	require.NoError(t, err)
	size, err := f.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 5004, size)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	f, err = OpenFile(&Options{FileName: path, Mode: utils.OpenMode{Reader: true}})
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	// 只读文件不能映射超出文件长度的区域
	_, err = f.Map(8192)
	assert.Equal(t, utils.MmapFailed, utils.CodeOf(err))
	mm, err = f.Map(4096)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(mm[100:105]))
}

func TestOSFileOpenErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenFile(&Options{FileName: filepath.Join(dir, "missing"), Mode: utils.OpenMode{Writer: true}})
	assert.Equal(t, utils.FileNotFound, utils.CodeOf(err))

	_, err = OpenFile(&Options{FileName: filepath.Join(dir, "missing"), Mode: utils.OpenMode{Reader: true, Writer: true}})
	assert.ErrorIs(t, err, utils.ErrInvalid)
}

func TestOSFileTruncateMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.dat")
	f, err := OpenFile(&Options{FileName: path, Mode: writerMode()})
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("0123456789"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m := writerMode()
	m.Truncate = true
	f, err = OpenFile(&Options{FileName: path, Mode: m})
	require.NoError(t, err)
	defer f.Close()
	size, err := f.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 0, size)
}

func TestOSFileLockConflict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock is not available")
	}
	path := filepath.Join(t.TempDir(), "l.dat")
	f, err := OpenFile(&Options{FileName: path, Mode: writerMode()})
	require.NoError(t, err)

	m := utils.OpenMode{Writer: true, LockNonBlocking: true}
	_, err = OpenFile(&Options{FileName: path, Mode: m})
	assert.ErrorIs(t, err, utils.ErrLock)

	_, err = OpenFile(&Options{FileName: path, Mode: utils.OpenMode{Reader: true, LockNonBlocking: true}})
	assert.ErrorIs(t, err, utils.ErrLock)

	// 不加锁的打开不受影响
	g, err := OpenFile(&Options{FileName: path, Mode: utils.OpenMode{Reader: true, NoLock: true}})
	require.NoError(t, err)
	require.NoError(t, g.Close())

	require.NoError(t, f.Close())
	g, err = OpenFile(&Options{FileName: path, Mode: m})
	require.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestSharedReaderLocks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock is not available")
	}
	path := filepath.Join(t.TempDir(), "r.dat")
	f, err := OpenFile(&Options{FileName: path, Mode: writerMode()})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ro := utils.OpenMode{Reader: true, LockNonBlocking: true}
	a, err := OpenFile(&Options{FileName: path, Mode: ro})
	require.NoError(t, err)
	b, err := OpenFile(&Options{FileName: path, Mode: ro})
	require.NoError(t, err)
	_, err = OpenFile(&Options{FileName: path, Mode: utils.OpenMode{Writer: true, LockNonBlocking: true}})
	assert.Equal(t, utils.LockFailed, utils.CodeOf(err))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestMemFile(t *testing.T) {
	m := NewMemFile("*")
	_, err := m.WriteAt([]byte("abc"), 10)
	require.NoError(t, err)
	size, _ := m.Size()
	assert.EqualValues(t, 13, size)

	head, err := m.Map(12)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), head[10:12])

	// 扩展文件不影响映射区
	_, err = m.WriteAt([]byte("xyz"), 100)
	require.NoError(t, err)
	head[0] = 'H'
	buf := make([]byte, 13)
	_, err = m.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, byte('H'), buf[0])
	assert.Equal(t, "abc", string(buf[10:13]))

	n, err := m.ReadAt(make([]byte, 10), 98)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 5, n)

	require.NoError(t, m.Truncate(11))
	_, err = m.ReadAt(make([]byte, 1), 11)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, m.Truncate(20))
	_, err = m.ReadAt(buf[:1], 11)
	require.NoError(t, err)
	assert.Equal(t, byte(0), buf[0])

	require.NoError(t, m.Unmap())
	_, err = m.ReadAt(buf[:1], 0)
	require.NoError(t, err)
	assert.Equal(t, byte('H'), buf[0])

	require.NoError(t, m.Close())
	_, err = m.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, utils.ErrInvalid)
}

func TestMetaRoundTrip(t *testing.T) {
	in := &Meta{
		Kind:        KindTree,
		Buckets:     32749,
		AlignPow:    8,
		FreePoolPow: 10,
		Large:       true,
		Compression: utils.CompressBzip2,
		Records:     12345,
		FileSize:    1 << 33,
		RecordStart: 131328,
		ID:          uuid.New(),
	}
	buf, err := in.Encode()
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize)

	out, err := DecodeMeta(buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	m := NewMemFile("meta")
	_, err = m.WriteAt(buf, 0)
	require.NoError(t, err)
	got, err := ReadMeta(m)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
}

func TestMetaCorrupt(t *testing.T) {
	buf, err := (&Meta{Kind: KindHash, ID: uuid.New()}).Encode()
	require.NoError(t, err)

	bad := append([]byte(nil), buf...)
	bad[0] = 'X'
	_, err = DecodeMeta(bad)
	assert.ErrorIs(t, err, utils.ErrMeta)

	bad = append([]byte(nil), buf...)
	bad[14] ^= 0xff
	_, err = DecodeMeta(bad)
	assert.ErrorIs(t, err, utils.ErrMeta)

	_, err = ReadMeta(NewMemFile("empty"))
	assert.ErrorIs(t, err, utils.ErrMeta)
}
