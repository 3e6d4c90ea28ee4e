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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/hardcore-os/corecab/file"
	"github.com/hardcore-os/corecab/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var wc = utils.OpenMode{Writer: true, Create: true}

func openTemp(t *testing.T, setup func(h *HDB)) (*HDB, string) {
	path := filepath.Join(t.TempDir(), "test.hdb")
	h := New()
	if setup != nil {
		setup(h)
	}
	require.NoError(t, h.Open(path, wc))
	return h, path
}

func TestBeforeOpen(t *testing.T) {
	h := New()
	for _, key := range [][]byte{nil, {}, []byte("k")} {
		assert.ErrorIs(t, h.Put(key, []byte("v")), utils.ErrInvalid)
		assert.ErrorIs(t, h.PutKeep(key, nil), utils.ErrInvalid)
		assert.ErrorIs(t, h.Out(key), utils.ErrInvalid)
		_, err := h.Get(key)
		assert.ErrorIs(t, err, utils.ErrInvalid)
	}
	assert.ErrorIs(t, h.Sync(), utils.ErrInvalid)
	assert.ErrorIs(t, h.Vanish(), utils.ErrInvalid)
	assert.ErrorIs(t, h.Close(), utils.ErrInvalid)
	assert.Equal(t, utils.InvalidOperation, h.ErrorCode())
	assert.Equal(t, utils.StateFresh, h.State())
}

func TestPutGet(t *testing.T) {
	h, _ := openTemp(t, nil)
	defer h.Close()

	require.NoError(t, h.Put([]byte("hello"), []byte("world")))
	v, err := h.Get([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), v)
	assert.Equal(t, utils.Success, h.ErrorCode())

	// 空 key 和空 value
	require.NoError(t, h.Put(nil, nil))
	v, err = h.Get([]byte{})
	require.NoError(t, err)
	assert.Len(t, v, 0)

	// 覆盖成更长和更短的值
	long := bytes.Repeat([]byte("x"), 1000)
	require.NoError(t, h.Put([]byte("hello"), long))
	v, err = h.Get([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, long, v)
	require.NoError(t, h.Put([]byte("hello"), []byte("w")))
	v, err = h.Get([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), v)
	assert.EqualValues(t, 2, h.Rnum())

	_, err = h.Get([]byte("missing"))
	assert.ErrorIs(t, err, utils.ErrNoRecord)
	assert.Equal(t, utils.RecordNotFound, h.ErrorCode())
}

func TestPutKeepOut(t *testing.T) {
	h, _ := openTemp(t, nil)
	defer h.Close()

	require.NoError(t, h.PutKeep([]byte("k"), []byte("first")))
	err := h.PutKeep([]byte("k"), []byte("second"))
	assert.ErrorIs(t, err, utils.ErrKeep)
	assert.Equal(t, utils.KeyAlreadyExists, h.ErrorCode())
	v, err := h.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), v)

	require.NoError(t, h.Out([]byte("k")))
	_, err = h.Get([]byte("k"))
	assert.ErrorIs(t, err, utils.ErrNoRecord)
	assert.ErrorIs(t, h.Out([]byte("k")), utils.ErrNoRecord)
	assert.EqualValues(t, 0, h.Rnum())
}

// 桶很少时所有 key 都落在少数几条链上
func TestCollisionChains(t *testing.T) {
	h, _ := openTemp(t, func(h *HDB) {
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 3}))
	})
	defer h.Close()

	for i := 0; i < 200; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("val-%d", i))))
	}
	// 删掉链中间的记录
	for i := 0; i < 200; i += 3 {
		require.NoError(t, h.Out([]byte(fmt.Sprintf("key-%03d", i))))
	}
	for i := 0; i < 200; i++ {
		v, err := h.Get([]byte(fmt.Sprintf("key-%03d", i)))
		if i%3 == 0 {
			assert.ErrorIs(t, err, utils.ErrNoRecord)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("val-%d", i), string(v))
	}
}

func TestVanish(t *testing.T) {
	h, _ := openTemp(t, nil)
	defer h.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v")))
	}
	require.NoError(t, h.Vanish())
	assert.EqualValues(t, 0, h.Rnum())
	for i := 0; i < 100; i++ {
		_, err := h.Get([]byte(fmt.Sprintf("k%d", i)))
		assert.ErrorIs(t, err, utils.ErrNoRecord)
	}
	require.NoError(t, h.Put([]byte("again"), []byte("v")))
	v, err := h.Get([]byte("again"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestTuneAfterOpen(t *testing.T) {
	h, _ := openTemp(t, nil)
	defer h.Close()

	assert.ErrorIs(t, h.Tune(utils.Tuning{Buckets: 7}), utils.ErrInvalid)
	assert.ErrorIs(t, h.SetCache(10), utils.ErrInvalid)
	assert.ErrorIs(t, h.SetExtraMapSize(1<<20), utils.ErrInvalid)
	assert.ErrorIs(t, h.SetDefragUnit(1), utils.ErrInvalid)
	assert.ErrorIs(t, h.SetMutex(), utils.ErrInvalid)
	assert.ErrorIs(t, h.SetLogger(nil), utils.ErrInvalid)
	assert.Equal(t, utils.InvalidOperation, h.ErrorCode())
	assert.EqualValues(t, utils.DefaultHashBuckets, h.Tuning().Buckets)
}

func TestBadTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hdb")
	h := New()
	require.NoError(t, h.Tune(utils.Tuning{AlignPow: utils.MaxAlignPow + 1}))
	assert.ErrorIs(t, h.Open(path, wc), utils.ErrInvalid)
	assert.Equal(t, utils.StateFresh, h.State())

	h = New()
	require.NoError(t, h.Tune(utils.Tuning{Compression: utils.CompressExternal}))
	assert.ErrorIs(t, h.Open(path, wc), utils.ErrInvalid)

	h = New()
	assert.ErrorIs(t, h.Open(path, utils.OpenMode{Reader: true, Writer: true}), utils.ErrInvalid)
	assert.ErrorIs(t, h.Open(path, utils.OpenMode{Reader: true, Create: true}), utils.ErrInvalid)
	assert.ErrorIs(t, h.Open(path, utils.OpenMode{Writer: true, NoLock: true, LockNonBlocking: true}), utils.ErrInvalid)
	missing := filepath.Join(filepath.Dir(path), "missing.hdb")
	assert.Equal(t, utils.FileNotFound, utils.CodeOf(h.Open(missing, utils.OpenMode{})))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPersistThousand(t *testing.T) {
	h, path := openTemp(t, nil)
	id := h.ID()
	for i := 0; i < 1000; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, h.Sync())
	require.NoError(t, h.Close())
	assert.Equal(t, utils.StateClosed, h.State())

	r := New()
	require.NoError(t, r.Open(path, utils.OpenMode{Reader: true}))
	defer r.Close()
	assert.EqualValues(t, 1000, r.Rnum())
	assert.Equal(t, id, r.ID())
	for i := 0; i < 1000; i++ {
		v, err := r.Get([]byte(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-%d", i), string(v))
	}
	assert.ErrorIs(t, r.Put([]byte("k"), []byte("v")), utils.ErrInvalid)
	assert.ErrorIs(t, r.Out([]byte("key-1")), utils.ErrInvalid)
	assert.ErrorIs(t, r.Vanish(), utils.ErrInvalid)
}

func TestStoredTuningWins(t *testing.T) {
	h, path := openTemp(t, func(h *HDB) {
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 101, AlignPow: 6, Large: true}))
	})
	require.NoError(t, h.Put([]byte("k"), []byte("v")))
	require.NoError(t, h.Close())

	require.NoError(t, h.Open(path, utils.OpenMode{Writer: true}))
	defer h.Close()
	tn := h.Tuning()
	assert.EqualValues(t, 101, tn.Buckets)
	assert.EqualValues(t, 6, tn.AlignPow)
	assert.True(t, tn.Large)
	v, err := h.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestCloseTwice(t *testing.T) {
	h, _ := openTemp(t, nil)
	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Close(), utils.ErrInvalid)
	assert.ErrorIs(t, h.Put([]byte("k"), nil), utils.ErrInvalid)
}

func TestOpenEmptyAsReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.hdb")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	h := New()
	err := h.Open(path, utils.OpenMode{Reader: true})
	assert.ErrorIs(t, err, utils.ErrMeta)
	assert.Equal(t, utils.MetaDataCorrupt, h.ErrorCode())
	assert.Equal(t, utils.StateFresh, h.State())
}

func TestWrongKind(t *testing.T) {
	h, path := openTemp(t, nil)
	require.NoError(t, h.Close())

	other := New()
	require.NoError(t, other.SetKind(file.KindTree))
	assert.ErrorIs(t, other.Open(path, utils.OpenMode{Writer: true}), utils.ErrMeta)
}

func TestLockConflict(t *testing.T) {
	h, path := openTemp(t, nil)
	defer h.Close()

	other := New()
	err := other.Open(path, utils.OpenMode{Writer: true, LockNonBlocking: true})
	assert.ErrorIs(t, err, utils.ErrLock)

	// 不加锁时可以打开
	require.NoError(t, other.Open(path, utils.OpenMode{Reader: true, NoLock: true}))
	require.NoError(t, other.Close())
}

func TestMutexConcurrentPut(t *testing.T) {
	h, _ := openTemp(t, func(h *HDB) {
		require.NoError(t, h.SetMutex())
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 61}))
	})
	defer h.Close()

	const workers, per = 8, 200
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < per; i++ {
				if err := h.Put([]byte(fmt.Sprintf("w%d-%d", w, i)), []byte(fmt.Sprintf("%d", i))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, workers*per, h.Rnum())
	for w := 0; w < workers; w++ {
		for i := 0; i < per; i++ {
			v, err := h.Get([]byte(fmt.Sprintf("w%d-%d", w, i)))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%d", i), string(v))
		}
	}
}

type xorCodec struct{}

func (xorCodec) Encode(src []byte) ([]byte, error) { return xor(src), nil }
func (xorCodec) Decode(src []byte) ([]byte, error) { return xor(src), nil }

func xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ 0x3c
	}
	return out
}

func TestCompression(t *testing.T) {
	value := bytes.Repeat([]byte("corecab hash engine "), 200)
	for _, c := range []utils.Compression{utils.CompressNone, utils.CompressDeflate, utils.CompressBzip2,
		utils.CompressCustom, utils.CompressExternal} {
		t.Run(c.String(), func(t *testing.T) {
			tn := utils.Tuning{Compression: c, Codec: xorCodec{}}
			h, path := openTemp(t, func(h *HDB) {
				require.NoError(t, h.Tune(tn))
			})
			require.NoError(t, h.Put([]byte("big"), value))
			require.NoError(t, h.Put([]byte("small"), []byte("s")))
			before := h.Size()
			require.NoError(t, h.Close())

			h = New()
			require.NoError(t, h.Tune(utils.Tuning{Codec: xorCodec{}}))
			require.NoError(t, h.Open(path, utils.OpenMode{Reader: true}))
			defer h.Close()
			assert.Equal(t, c, h.Tuning().Compression)
			v, err := h.Get([]byte("big"))
			require.NoError(t, err)
			assert.Equal(t, value, v)
			v, err = h.Get([]byte("small"))
			require.NoError(t, err)
			assert.Equal(t, []byte("s"), v)
			if c == utils.CompressDeflate || c == utils.CompressBzip2 || c == utils.CompressCustom {
				assert.Less(t, before-h.recStart, int64(len(value)))
			}
		})
	}
}

func TestFreeSpaceReuse(t *testing.T) {
	h, _ := openTemp(t, func(h *HDB) {
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 17, AlignPow: 4}))
	})
	defer h.Close()

	val := bytes.Repeat([]byte("v"), 100)
	require.NoError(t, h.Put([]byte("a"), val))
	require.NoError(t, h.Put([]byte("b"), val))
	size := h.Size()
	require.NoError(t, h.Out([]byte("a")))
	assert.Equal(t, 1, h.fpool.len())
	require.NoError(t, h.Put([]byte("c"), val))
	assert.Equal(t, size, h.Size())
	assert.Equal(t, 0, h.fpool.len())

	// 值变长时记录搬家，旧块进空闲池
	require.NoError(t, h.Put([]byte("b"), bytes.Repeat([]byte("w"), 300)))
	assert.Equal(t, 1, h.fpool.len())
	v, err := h.Get([]byte("b"))
	require.NoError(t, err)
	assert.Len(t, v, 300)
}

func TestDefrag(t *testing.T) {
	h, _ := openTemp(t, func(h *HDB) {
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 17, AlignPow: 4}))
	})
	defer h.Close()

	val := bytes.Repeat([]byte("v"), 100)
	for i := 0; i < 10; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("k%d", i)), val))
	}
	full := h.Size()
	for i := 0; i < 10; i++ {
		require.NoError(t, h.Out([]byte(fmt.Sprintf("k%d", i))))
	}
	assert.Equal(t, 10, h.fpool.len())
	assert.Equal(t, full, h.Size())

	require.NoError(t, h.Defrag())
	assert.Equal(t, 0, h.fpool.len())
	assert.Equal(t, h.recStart, h.Size())

	require.NoError(t, h.Put([]byte("k"), val))
	v, err := h.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, val, v)
}

func TestDefragUnitMergesNeighbours(t *testing.T) {
	h, _ := openTemp(t, func(h *HDB) {
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 17, AlignPow: 4}))
		require.NoError(t, h.SetDefragUnit(4))
	})
	defer h.Close()

	val := bytes.Repeat([]byte("v"), 100)
	for i := 0; i < 6; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("k%d", i)), val))
	}
	// k0..k3 相邻，第四次释放触发整理后合成一块
	for i := 0; i < 4; i++ {
		require.NoError(t, h.Out([]byte(fmt.Sprintf("k%d", i))))
	}
	require.Equal(t, 1, h.fpool.len())
	assert.EqualValues(t, 4*128, h.fpool.blocks[0].size)

	// 合并后的块可以放下更大的记录
	big := bytes.Repeat([]byte("b"), 400)
	size := h.Size()
	require.NoError(t, h.Put([]byte("big"), big))
	assert.Equal(t, size, h.Size())
	for i := 4; i < 6; i++ {
		v, err := h.Get([]byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		assert.Equal(t, val, v)
	}
}

func TestFreePoolRebuiltOnOpen(t *testing.T) {
	h, path := openTemp(t, func(h *HDB) {
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 17}))
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("k%d", i)), []byte("value")))
	}
	require.NoError(t, h.Out([]byte("k1")))
	require.NoError(t, h.Out([]byte("k3")))
	require.NoError(t, h.Close())

	require.NoError(t, h.Open(path, utils.OpenMode{Writer: true}))
	defer h.Close()
	assert.Equal(t, 2, h.fpool.len())
	assert.EqualValues(t, 3, h.Rnum())
}

func TestRecordCache(t *testing.T) {
	h, _ := openTemp(t, func(h *HDB) {
		require.NoError(t, h.SetCache(8))
	})
	defer h.Close()

	require.NoError(t, h.Put([]byte("k"), []byte("v1")))
	v, err := h.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	assert.Equal(t, 1, h.cache.Len())

	// 返回的是副本
	v[0] = 'x'
	require.NoError(t, h.Put([]byte("k"), []byte("v2")))
	v, err = h.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, h.Out([]byte("k")))
	_, err = h.Get([]byte("k"))
	assert.ErrorIs(t, err, utils.ErrNoRecord)
}

func TestMemFile(t *testing.T) {
	h := New()
	require.NoError(t, h.SetExtraMapSize(1<<16))
	require.NoError(t, h.OpenFile(file.NewMemFile("*"), utils.OpenMode{Writer: true}))
	assert.Equal(t, "*", h.Path())
	for i := 0; i < 500; i++ {
		require.NoError(t, h.Put([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	for i := 0; i < 500; i++ {
		v, err := h.Get([]byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
	assert.GreaterOrEqual(t, h.Size(), int64(1<<16))
	require.NoError(t, h.Close())
}

func TestIterator(t *testing.T) {
	h, _ := openTemp(t, func(h *HDB) {
		require.NoError(t, h.Tune(utils.Tuning{Buckets: 31}))
	})
	defer h.Close()

	want := map[string]string{}
	for i := 0; i < 50; i++ {
		k, v := fmt.Sprintf("key-%02d", i), fmt.Sprintf("val-%d", i)
		want[k] = v
		require.NoError(t, h.Put([]byte(k), []byte(v)))
	}
	require.NoError(t, h.Put([]byte("other"), []byte("x")))
	require.NoError(t, h.Out([]byte("key-07")))
	delete(want, "key-07")

	it := h.NewIterator(&utils.Options{Prefix: []byte("key-")})
	defer it.Close()
	got := map[string]string{}
	for it.Rewind(); it.Valid(); it.Next() {
		e := it.Item().Entry()
		got[string(e.Key)] = string(e.Value)
	}
	assert.Equal(t, want, got)

	// 按存储顺序，Seek 之后还能走到后面写入的 other
	all := h.NewIterator(nil)
	var keys []string
	for all.Seek([]byte("key-40")); all.Valid(); all.Next() {
		keys = append(keys, string(all.Item().Entry().Key))
	}
	sort.Strings(keys)
	assert.Equal(t, "key-40", keys[0])
	assert.Contains(t, keys, "other")
	assert.Len(t, keys, 11)

	all.Seek([]byte("key-07"))
	assert.False(t, all.Valid())
}
