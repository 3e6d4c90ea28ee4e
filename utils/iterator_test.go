package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterPrefix(t *testing.T) {
	list := NewSkipList(nil)
	for _, k := range []string{"a1", "b1", "b2", "c1", "b3"} {
		require.NoError(t, list.Add(NewEntry([]byte(k), []byte(k))))
	}
	plain := list.NewIterator(nil)
	assert.Same(t, plain, FilterPrefix(plain, nil))

	it := FilterPrefix(list.NewIterator(&Options{IsAsc: true}), []byte("b"))
	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().Entry().Key))
	}
	assert.Equal(t, []string{"b1", "b2", "b3"}, keys)

	it.Seek([]byte("b25"))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("b3"), it.Item().Entry().Key)
	require.NoError(t, it.Close())
}
