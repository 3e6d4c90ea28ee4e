package bdb

import (
	"testing"

	"github.com/hardcore-os/corecab/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, b *BDB, keys ...string) {
	for _, k := range keys {
		require.NoError(t, b.Put([]byte(k), []byte("v-"+k)))
	}
}

func mustKey(t *testing.T, c *Cursor) string {
	k, err := c.Key()
	require.NoError(t, err)
	return string(k)
}

func TestCursorUnpositioned(t *testing.T) {
	b, _ := openTemp(t, nil)
	defer b.Close()
	fill(t, b, "a")

	c := b.NewCursor()
	assert.Equal(t, CursorUnpositioned, c.State())
	assert.ErrorIs(t, c.Next(), utils.ErrInvalid)
	assert.ErrorIs(t, c.Prev(), utils.ErrInvalid)
	_, err := c.Key()
	assert.ErrorIs(t, err, utils.ErrInvalid)
	_, err = c.Value()
	assert.ErrorIs(t, err, utils.ErrInvalid)
	assert.ErrorIs(t, c.Out(), utils.ErrInvalid)
	assert.ErrorIs(t, c.Put(nil, []byte("x"), CursorCurrent), utils.ErrInvalid)
	assert.ErrorIs(t, c.Put([]byte("b"), nil, CursorAfter), utils.ErrInvalid)
	assert.Equal(t, utils.InvalidOperation, b.ErrorCode())
}

func TestCursorEmpty(t *testing.T) {
	b, _ := openTemp(t, nil)
	defer b.Close()

	c := b.NewCursor()
	assert.ErrorIs(t, c.First(), utils.ErrNoRecord)
	assert.Equal(t, CursorExhausted, c.State())
	assert.ErrorIs(t, c.Last(), utils.ErrNoRecord)
	_, err := c.Key()
	assert.ErrorIs(t, err, utils.ErrNoRecord)
}

func TestCursorWalk(t *testing.T) {
	b, _ := openTemp(t, func(b *BDB) {
		require.NoError(t, b.Tune(small))
	})
	defer b.Close()
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Put(keyOf(i), valOf(i)))
	}

	c := b.NewCursor()
	require.NoError(t, c.Last())
	for i := 99; i >= 0; i-- {
		k, v, err := c.Record()
		require.NoError(t, err)
		assert.Equal(t, keyOf(i), k)
		assert.Equal(t, valOf(i), v)
		err = c.Prev()
		if i == 0 {
			assert.ErrorIs(t, err, utils.ErrNoRecord)
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, CursorExhausted, c.State())
	assert.ErrorIs(t, c.Prev(), utils.ErrNoRecord)

	// 方向可以随时切换
	require.NoError(t, c.Jump(keyOf(40)))
	require.NoError(t, c.Next())
	require.NoError(t, c.Prev())
	require.NoError(t, c.Prev())
	assert.Equal(t, string(keyOf(39)), mustKey(t, c))
}

func TestCursorJumpSeek(t *testing.T) {
	b, _ := openTemp(t, nil)
	defer b.Close()
	fill(t, b, "b", "d", "f")

	c := b.NewCursor()
	require.NoError(t, c.Jump([]byte("d")))
	assert.Equal(t, "d", mustKey(t, c))

	// 不存在的 key 不改变位置
	assert.ErrorIs(t, c.Jump([]byte("c")), utils.ErrNoRecord)
	assert.Equal(t, CursorPositioned, c.State())
	assert.Equal(t, "d", mustKey(t, c))

	require.NoError(t, c.Seek([]byte("c")))
	assert.Equal(t, "d", mustKey(t, c))
	require.NoError(t, c.Seek([]byte("a")))
	assert.Equal(t, "b", mustKey(t, c))
	assert.ErrorIs(t, c.Seek([]byte("g")), utils.ErrNoRecord)
	assert.Equal(t, CursorExhausted, c.State())
}

func TestCursorPut(t *testing.T) {
	b, _ := openTemp(t, nil)
	defer b.Close()
	fill(t, b, "b", "d")

	c := b.NewCursor()
	require.NoError(t, c.First())
	require.NoError(t, c.Put([]byte("ignored"), []byte("new"), CursorCurrent))
	v, err := c.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
	_, err = b.Get([]byte("ignored"))
	assert.ErrorIs(t, err, utils.ErrNoRecord)

	require.NoError(t, c.Put([]byte("c"), []byte("v-c"), CursorAfter))
	assert.Equal(t, "c", mustKey(t, c))
	require.NoError(t, c.Put([]byte("a"), []byte("v-a"), CursorBefore))
	assert.Equal(t, "a", mustKey(t, c))

	assert.ErrorIs(t, c.Put([]byte("d"), []byte("x"), CursorAfter), utils.ErrKeep)
	v, err = b.Get([]byte("d"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v-d"), v)
	assert.Equal(t, "a", mustKey(t, c))

	assert.Equal(t, []string{"a", "b", "c", "d"}, collect(t, b))
	assert.ErrorIs(t, c.Put(nil, nil, CursorPutMode(9)), utils.ErrInvalid)
}

func TestCursorOut(t *testing.T) {
	b, _ := openTemp(t, func(b *BDB) {
		require.NoError(t, b.Tune(small))
	})
	defer b.Close()
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Put(keyOf(i), valOf(i)))
	}

	c := b.NewCursor()
	require.NoError(t, c.Jump(keyOf(10)))
	// 连续删除跨过叶子边界
	for i := 10; i < 30; i++ {
		assert.Equal(t, string(keyOf(i)), mustKey(t, c))
		require.NoError(t, c.Out())
	}
	assert.Equal(t, string(keyOf(30)), mustKey(t, c))
	assert.EqualValues(t, 30, b.Rnum())

	require.NoError(t, c.Last())
	require.NoError(t, c.Out())
	assert.Equal(t, CursorExhausted, c.State())
	assert.ErrorIs(t, c.Out(), utils.ErrNoRecord)
}

func TestCursorLiveView(t *testing.T) {
	b, _ := openTemp(t, func(b *BDB) {
		require.NoError(t, b.Tune(small))
	})
	defer b.Close()
	for i := 0; i < 40; i++ {
		require.NoError(t, b.Put(keyOf(i), valOf(i)))
	}

	c := b.NewCursor()
	require.NoError(t, c.Jump(keyOf(20)))
	// 另一个游标删掉当前记录和它的邻居
	other := b.NewCursor()
	require.NoError(t, other.Jump(keyOf(19)))
	for i := 0; i < 3; i++ {
		require.NoError(t, other.Out())
	}
	require.NoError(t, c.Next())
	assert.Equal(t, string(keyOf(22)), mustKey(t, c))

	require.NoError(t, c.Jump(keyOf(30)))
	require.NoError(t, b.Out(keyOf(30)))
	require.NoError(t, c.Prev())
	assert.Equal(t, string(keyOf(29)), mustKey(t, c))

	// 记录被删除后读当前位置得到后面的记录
	require.NoError(t, b.Out(keyOf(29)))
	assert.Equal(t, string(keyOf(31)), mustKey(t, c))

	// 其他写入造成的分裂不影响游标
	for i := 1000; i < 1100; i++ {
		require.NoError(t, b.Put(keyOf(i), nil))
	}
	require.NoError(t, c.Next())
	assert.Equal(t, string(keyOf(32)), mustKey(t, c))
}

func TestIterator(t *testing.T) {
	b, _ := openTemp(t, func(b *BDB) {
		require.NoError(t, b.Tune(small))
	})
	defer b.Close()
	fill(t, b, "a1", "a2", "a3", "b1", "b2", "c1")

	var got []string
	it := b.NewIterator(nil)
	for it.Rewind(); it.Valid(); it.Next() {
		got = append(got, string(it.Item().Entry().Key))
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"a1", "a2", "a3", "b1", "b2", "c1"}, got)

	got = got[:0]
	it = b.NewIterator(&utils.Options{IsAsc: false, Prefix: []byte("b")})
	for it.Rewind(); it.Valid(); it.Next() {
		e := it.Item().Entry()
		got = append(got, string(e.Key))
		assert.Equal(t, "v-"+string(e.Key), string(e.Value))
	}
	assert.Equal(t, []string{"b2", "b1"}, got)

	desc := b.NewIterator(&utils.Options{IsAsc: false})
	desc.Seek([]byte("b0"))
	require.True(t, desc.Valid())
	assert.Equal(t, "a3", string(desc.Item().Entry().Key))
	desc.Seek([]byte("b2"))
	assert.Equal(t, "b2", string(desc.Item().Entry().Key))
	desc.Seek([]byte("z"))
	assert.Equal(t, "c1", string(desc.Item().Entry().Key))
	desc.Seek([]byte("a"))
	assert.False(t, desc.Valid())

	asc := b.NewIterator(&utils.Options{IsAsc: true})
	asc.Seek([]byte("b0"))
	assert.Equal(t, "b1", string(asc.Item().Entry().Key))
	asc.Seek([]byte("d"))
	assert.False(t, asc.Valid())
}
