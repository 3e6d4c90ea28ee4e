package utils

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func RandString(len int) string {
	bytes := make([]byte, len)
	for i := 0; i < len; i++ {
		b := RandN(26) + 65
		bytes[i] = byte(b)
	}
	return string(bytes)
}

func TestSkipListBasicCRUD(t *testing.T) {
	list := NewSkipList(nil)

	//Put & Get
	entry1 := NewEntry([]byte("Key1"), []byte("Val1"))
	assert.Nil(t, list.Add(entry1))
	assert.Equal(t, entry1.Value, list.Search(entry1.Key).Value)

	entry2 := NewEntry([]byte("Key2"), []byte("Val2"))
	assert.Nil(t, list.Add(entry2))
	assert.Equal(t, entry2.Value, list.Search(entry2.Key).Value)

	//Get a not exist entry
	assert.Nil(t, list.Search([]byte("noexist")))

	//Update a entry
	entry2New := NewEntry([]byte("Key1"), []byte("Val1+1"))
	assert.Nil(t, list.Add(entry2New))
	assert.Equal(t, entry2New.Value, list.Search(entry2New.Key).Value)
	assert.Equal(t, 2, list.Len())
	assert.EqualValues(t, len("Key1Val1+1Key2Val2"), list.Size())

	// keep
	assert.ErrorIs(t, list.AddKeep(NewEntry([]byte("Key2"), []byte("other"))), ErrKeep)
	assert.Equal(t, []byte("Val2"), list.Search([]byte("Key2")).Value)

	// delete
	assert.Nil(t, list.Delete([]byte("Key1")))
	assert.ErrorIs(t, list.Delete([]byte("Key1")), ErrNoRecord)
	assert.Nil(t, list.Search([]byte("Key1")))
	assert.Equal(t, 1, list.Len())

	list.Clear()
	assert.Equal(t, 0, list.Len())
	assert.EqualValues(t, 0, list.Size())
}

func TestSkipListCopiesInput(t *testing.T) {
	list := NewSkipList(nil)
	key, val := []byte("k"), []byte("v")
	require.NoError(t, list.Add(NewEntry(key, val)))
	val[0] = 'x'
	assert.Equal(t, []byte("v"), list.Search([]byte("k")).Value)
}

func TestSkipListEmptyKey(t *testing.T) {
	list := NewSkipList(nil)
	require.NoError(t, list.Add(NewEntry(nil, nil)))
	e := list.Search([]byte{})
	require.NotNil(t, e)
	assert.Len(t, e.Value, 0)
}

func TestSkipListIterator(t *testing.T) {
	list := NewSkipList(nil)
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		require.NoError(t, list.Add(NewEntry([]byte(k), []byte("v"+k))))
	}

	var keys []string
	it := list.NewIterator(nil)
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().Entry().Key))
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)

	keys = keys[:0]
	desc := list.NewIterator(&Options{IsAsc: false})
	for desc.Rewind(); desc.Valid(); desc.Next() {
		keys = append(keys, string(desc.Key()))
	}
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, keys)

	it.Seek([]byte("bb"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("c"), it.Key())
	it.Prev()
	assert.Equal(t, []byte("b"), it.Key())

	desc.Seek([]byte("bb"))
	require.True(t, desc.Valid())
	assert.Equal(t, []byte("b"), desc.Key())

	it.Seek([]byte("z"))
	assert.False(t, it.Valid())
	it.SeekToLast()
	assert.Equal(t, []byte("e"), it.Key())
	it.Next()
	assert.False(t, it.Valid())
	assert.NoError(t, it.Close())
}

func TestSkipListIteratorAfterDelete(t *testing.T) {
	list := NewSkipList(nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, list.Add(NewEntry([]byte(fmt.Sprintf("%02d", i)), nil)))
	}
	it := list.NewIterator(nil)
	it.Seek([]byte("04"))
	require.NoError(t, list.Delete([]byte("04")))
	require.NoError(t, list.Delete([]byte("05")))
	it.Next()
	for it.Valid() && string(it.Key()) == "05" {
		it.Next()
	}
	require.True(t, it.Valid())
	assert.Equal(t, []byte("06"), it.Key())

	last := list.NewIterator(nil)
	last.SeekToLast()
	require.True(t, last.Valid())
	assert.Equal(t, []byte("09"), last.Key())
}

func TestSkipListComparator(t *testing.T) {
	list := NewSkipList(Decimal)
	for _, k := range []string{"10", "9", "-3", "100", "2.5"} {
		require.NoError(t, list.Add(NewEntry([]byte(k), nil)))
	}
	var keys []string
	it := list.NewIterator(nil)
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"-3", "2.5", "9", "10", "100"}, keys)
}

func Benchmark_SkipListBasicCRUD(b *testing.B) {
	list := NewSkipList(nil)
	key, val := "", ""
	for i := 0; i < b.N; i++ {
		key, val = fmt.Sprintf("Key%d", i), fmt.Sprintf("Val%d", i)
		entry := NewEntry([]byte(key), []byte(val))
		res := list.Add(entry)
		assert.Equal(b, res, nil)
		searchVal := list.Search([]byte(key))
		assert.Equal(b, searchVal.Value, []byte(val))
	}
}

func TestConcurrentBasic(t *testing.T) {
	const n = 1000
	l := NewSkipList(nil)
	var wg sync.WaitGroup
	key := func(i int) []byte {
		return []byte(fmt.Sprintf("%05d", i))
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.Nil(t, l.Add(NewEntry(key(i), key(i))))
		}(i)
	}
	wg.Wait()

	// Check values. Concurrent reads.
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := l.Search(key(i))
			if assert.NotNil(t, v) {
				assert.EqualValues(t, key(i), v.Value)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, l.Len())
}
