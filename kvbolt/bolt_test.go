package kvbolt

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hardcore-os/corecab/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wc = utils.OpenMode{Writer: true, Create: true}

func openTemp(t *testing.T) (*DB, string) {
	path := filepath.Join(t.TempDir(), "test.bolt")
	d := New()
	require.NoError(t, d.Open(path, wc))
	return d, path
}

func TestBeforeOpen(t *testing.T) {
	d := New()
	assert.ErrorIs(t, d.Put([]byte("k"), nil), utils.ErrInvalid)
	assert.ErrorIs(t, d.PutKeep([]byte("k"), nil), utils.ErrInvalid)
	assert.ErrorIs(t, d.Out([]byte("k")), utils.ErrInvalid)
	_, err := d.Get([]byte("k"))
	assert.ErrorIs(t, err, utils.ErrInvalid)
	assert.ErrorIs(t, d.Sync(), utils.ErrInvalid)
	assert.ErrorIs(t, d.Vanish(), utils.ErrInvalid)
	assert.ErrorIs(t, d.Close(), utils.ErrInvalid)
	assert.Equal(t, utils.InvalidOperation, d.ErrorCode())
}

func TestPutGet(t *testing.T) {
	d, _ := openTemp(t)
	defer d.Close()

	require.NoError(t, d.Put([]byte("hello"), []byte("world")))
	v, err := d.Get([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), v)

	// 空 key 和空 value 都能存
	require.NoError(t, d.Put(nil, nil))
	v, err = d.Get(nil)
	require.NoError(t, err)
	assert.Len(t, v, 0)
	assert.ErrorIs(t, d.PutKeep([]byte{}, []byte("x")), utils.ErrKeep)
	assert.Equal(t, utils.KeyAlreadyExists, d.ErrorCode())

	require.NoError(t, d.Out(nil))
	assert.ErrorIs(t, d.Out(nil), utils.ErrNoRecord)
	_, err = d.Get([]byte("nope"))
	assert.ErrorIs(t, err, utils.ErrNoRecord)
	assert.Equal(t, utils.RecordNotFound, d.ErrorCode())
	assert.EqualValues(t, 1, d.Rnum())
	assert.Greater(t, d.Size(), int64(0))
}

func TestPersist(t *testing.T) {
	d, path := openTemp(t)
	for i := 0; i < 200; i++ {
		require.NoError(t, d.Put([]byte(fmt.Sprintf("key%03d", i)), []byte(fmt.Sprint(i))))
	}
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Close(), utils.ErrInvalid)

	r := New()
	require.NoError(t, r.Open(path, utils.OpenMode{Reader: true}))
	defer r.Close()
	assert.EqualValues(t, 200, r.Rnum())
	v, err := r.Get([]byte("key150"))
	require.NoError(t, err)
	assert.Equal(t, []byte("150"), v)
	assert.ErrorIs(t, r.Put([]byte("x"), nil), utils.ErrInvalid)
	assert.ErrorIs(t, r.Sync(), utils.ErrInvalid)
}

func TestOpenModes(t *testing.T) {
	dir := t.TempDir()
	d := New()
	err := d.Open(filepath.Join(dir, "missing.bolt"), utils.OpenMode{Writer: true})
	assert.Equal(t, utils.FileNotFound, utils.CodeOf(err))
	assert.Equal(t, utils.FileNotFound, d.ErrorCode())
	assert.ErrorIs(t, d.Open(filepath.Join(dir, "x.bolt"), utils.OpenMode{Reader: true, Writer: true}), utils.ErrInvalid)
	assert.Equal(t, utils.StateFresh, d.State())

	// 非 bbolt 文件
	junk := filepath.Join(dir, "junk.bolt")
	require.NoError(t, os.WriteFile(junk, make([]byte, 8192), 0o644))
	err = d.Open(junk, utils.OpenMode{Writer: true})
	assert.Error(t, err)
	assert.Equal(t, utils.StateFresh, d.State())
}

func TestTruncate(t *testing.T) {
	d, path := openTemp(t)
	require.NoError(t, d.Put([]byte("a"), []byte("1")))
	require.NoError(t, d.Close())

	d = New()
	require.NoError(t, d.Open(path, utils.OpenMode{Writer: true, Truncate: true}))
	defer d.Close()
	assert.EqualValues(t, 0, d.Rnum())
}

func TestLockConflict(t *testing.T) {
	d, path := openTemp(t)
	defer d.Close()

	other := New()
	err := other.Open(path, utils.OpenMode{Writer: true, LockNonBlocking: true})
	assert.ErrorIs(t, err, utils.ErrLock)
	assert.Equal(t, utils.LockFailed, other.ErrorCode())
}

func TestTruncateWhileLocked(t *testing.T) {
	d, path := openTemp(t)
	require.NoError(t, d.Put([]byte("k"), []byte("v")))
	require.NoError(t, d.Sync())

	other := New()
	err := other.Open(path, utils.OpenMode{Writer: true, Create: true, Truncate: true, LockNonBlocking: true})
	assert.ErrorIs(t, err, utils.ErrLock)
	assert.Equal(t, utils.StateFresh, other.State())
	require.NoError(t, d.Close())

	r := New()
	require.NoError(t, r.Open(path, utils.OpenMode{Reader: true}))
	defer r.Close()
	v, err := r.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestVanish(t *testing.T) {
	d, _ := openTemp(t)
	defer d.Close()
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Put([]byte{byte(i)}, []byte{byte(i)}))
	}
	require.NoError(t, d.Vanish())
	assert.EqualValues(t, 0, d.Rnum())
	require.NoError(t, d.Put([]byte("a"), nil))
	assert.EqualValues(t, 1, d.Rnum())
}

func TestIterator(t *testing.T) {
	d, _ := openTemp(t)
	defer d.Close()
	for _, k := range []string{"b2", "a1", "c1", "b1", "a2"} {
		require.NoError(t, d.Put([]byte(k), []byte("v-"+k)))
	}

	var got []string
	it := d.NewIterator(nil)
	for it.Rewind(); it.Valid(); it.Next() {
		e := it.Item().Entry()
		got = append(got, string(e.Key))
		assert.Equal(t, "v-"+string(e.Key), string(e.Value))
	}
	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "c1"}, got)

	got = got[:0]
	it = d.NewIterator(&utils.Options{Prefix: []byte("b")})
	for it.Rewind(); it.Valid(); it.Next() {
		got = append(got, string(it.Item().Entry().Key))
	}
	assert.Equal(t, []string{"b2", "b1"}, got)

	desc := d.NewIterator(&utils.Options{IsAsc: false})
	desc.Seek([]byte("b0"))
	require.True(t, desc.Valid())
	assert.Equal(t, "a2", string(desc.Item().Entry().Key))
	desc.Seek([]byte("z"))
	assert.Equal(t, "c1", string(desc.Item().Entry().Key))

	// 迭代过程中删除当前 key
	asc := d.NewIterator(&utils.Options{IsAsc: true})
	asc.Seek([]byte("b"))
	assert.Equal(t, "b1", string(asc.Item().Entry().Key))
	require.NoError(t, d.Out([]byte("b1")))
	asc.Next()
	assert.Equal(t, "b2", string(asc.Item().Entry().Key))
	asc.Next()
	asc.Next()
	assert.False(t, asc.Valid())
	require.NoError(t, asc.Close())
}
