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

package cache

import (
	"container/list"
	"sync"

	xxhash "github.com/cespare/xxhash/v2"
)

// Cache is a W-TinyLFU cache: new items enter a small window LRU, items
// evicted from the window compete with the segmented LRU's victim and are
// admitted only when the count-min sketch says they are used more often.
type Cache struct {
	m         sync.Mutex
	lru       *windowLRU
	slru      *segmentedLRU
	door      *BloomFilter
	c         *cmSketch
	t         int32
	threshold int32
	data      map[uint64]*list.Element
}

// NewCache _ size 为缓存的条目数
func NewCache(size int) *Cache {
	const lruPct = 1
	if size < 1 {
		size = 1
	}
	lruSz := (lruPct * size) / 100
	if lruSz < 1 {
		lruSz = 1
	}

	slruSz := int(float64(size) * ((100 - lruPct) / 100.0))
	if slruSz < 1 {
		slruSz = 1
	}

	slruO := int(0.2 * float64(slruSz))
	if slruO < 1 {
		slruO = 1
	}

	data := make(map[uint64]*list.Element, size)

	return &Cache{
		lru:       newWindowLRU(lruSz, data),
		slru:      newSLRU(data, slruO, slruSz-slruO),
		door:      newFilter(size, 0.01),
		c:         newCmSketch(int64(size)),
		threshold: int32(size) * 10,
		data:      data,
	}
}

// Set stores value under key, replacing an older value.
func (c *Cache) Set(key interface{}, value interface{}) bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.set(key, value)
}

func (c *Cache) set(key, value interface{}) bool {
	keyHash, conflictHash := c.keyToHash(key)

	if val, ok := c.data[keyHash]; ok {
		item := val.Value.(*storeItem)
		if item.conflict == conflictHash {
			item.value = value
			c.touch(val)
			return true
		}
		// 哈希冲突，先把旧的踢掉
		c.remove(val)
	}

	i := storeItem{
		stage:    stageWindow,
		key:      keyHash,
		conflict: conflictHash,
		value:    value,
	}

	eitem, evicted := c.lru.add(i)
	if !evicted {
		return true
	}

	victim := c.slru.victim()
	if victim == nil {
		c.slru.add(eitem)
		return true
	}

	// 第一次出现的 key 只记录在 doorkeeper 里，不进入主缓存
	if !c.door.Allow(uint32(eitem.key)) {
		return true
	}

	vcount := c.c.estimate(victim.key)
	ocount := c.c.estimate(eitem.key)
	if ocount < vcount {
		return true
	}

	c.slru.add(eitem)
	return true
}

// Get returns the value of key. It takes the write lock since a hit
// reorders the lists and every access updates the frequency sketch.
func (c *Cache) Get(key interface{}) (interface{}, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.get(key)
}

func (c *Cache) get(key interface{}) (interface{}, bool) {
	c.t++
	if c.t == c.threshold {
		c.c.decay()
		c.door.reset()
		c.t = 0
	}

	keyHash, conflictHash := c.keyToHash(key)

	val, ok := c.data[keyHash]
	if !ok {
		c.c.add(keyHash)
		return nil, false
	}

	item := val.Value.(*storeItem)
	if item.conflict != conflictHash {
		c.c.add(keyHash)
		return nil, false
	}

	c.c.add(item.key)
	v := item.value
	c.touch(val)
	return v, true
}

// Del removes key and returns the value it held.
func (c *Cache) Del(key interface{}) (interface{}, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.del(key)
}

func (c *Cache) del(key interface{}) (interface{}, bool) {
	keyHash, conflictHash := c.keyToHash(key)

	val, ok := c.data[keyHash]
	if !ok {
		return nil, false
	}

	item := val.Value.(*storeItem)
	if conflictHash != 0 && (conflictHash != item.conflict) {
		return nil, false
	}

	c.remove(val)
	return item.value, true
}

// Len _
func (c *Cache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.data)
}

// Clear drops every item and forgets the access history.
func (c *Cache) Clear() {
	c.m.Lock()
	defer c.m.Unlock()
	for k := range c.data {
		delete(c.data, k)
	}
	c.lru.clear()
	c.slru.clear()
	c.c.clear()
	c.door.reset()
	c.t = 0
}

func (c *Cache) touch(e *list.Element) {
	if e.Value.(*storeItem).stage == stageWindow {
		c.lru.touch(e)
	} else {
		c.slru.touch(e)
	}
}

func (c *Cache) remove(e *list.Element) {
	item := e.Value.(*storeItem)
	delete(c.data, item.key)
	if item.stage == stageWindow {
		c.lru.remove(e)
	} else {
		c.slru.remove(e)
	}
}

// conflictSalt 让第二个哈希和第一个无关
var conflictSalt = []byte{0x9e, 0x37}

// keyToHash returns the slot hash and, for variable length keys, a second
// hash that tells apart keys landing on the same slot.
func (c *Cache) keyToHash(key interface{}) (uint64, uint64) {
	if key == nil {
		return 0, 0
	}
	switch k := key.(type) {
	case uint64:
		return k, 0
	case string:
		d := xxhash.New()
		d.Write(conflictSalt)
		d.WriteString(k)
		return xxhash.Sum64String(k), d.Sum64()
	case []byte:
		d := xxhash.New()
		d.Write(conflictSalt)
		d.Write(k)
		return xxhash.Sum64(k), d.Sum64()
	case byte:
		return uint64(k), 0
	case int:
		return uint64(k), 0
	case int32:
		return uint64(k), 0
	case uint32:
		return uint64(k), 0
	case int64:
		return uint64(k), 0
	default:
		panic("Key type not supported")
	}
}
