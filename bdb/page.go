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

package bdb

import (
	"github.com/hardcore-os/corecab/utils"
	"github.com/hardcore-os/corecab/utils/codec"
	"google.golang.org/protobuf/encoding/protowire"
)

// page ids: 0 is the tree meta, leaves count up from 1 and nodes from nodeIDBase.
const (
	metaPageID uint64 = 0
	nodeIDBase uint64 = 1 << 48
)

func isNode(id uint64) bool {
	return id >= nodeIDBase
}

// pageKey is the key of a page record in the page store.
func pageKey(id uint64) []byte {
	return codec.U64ToBytes(id)
}

type rec struct {
	key   []byte
	value []byte
}

// leaf 叶子页，记录按 key 有序，prev/next 串成双向链表
type leaf struct {
	id   uint64
	prev uint64
	next uint64
	recs []rec
	size int
}

type index struct {
	key   []byte
	child uint64
}

// node 内部节点，key 小于 idx[0].key 的走 heir
type node struct {
	id   uint64
	heir uint64
	idx  []index
}

// treeMeta lives in page 0 of the page store.
type treeMeta struct {
	root   uint64
	first  uint64
	last   uint64
	lnum   int64
	nnum   int64
	rnum   int64
	lmemb  int
	nmemb  int
	cmp    string
	leafID uint64
	nodeID uint64
}

// leaf fields
const (
	leafPrev protowire.Number = 1
	leafNext protowire.Number = 2
	leafRec  protowire.Number = 3

	recKey   protowire.Number = 1
	recValue protowire.Number = 2
)

func (l *leaf) encode() []byte {
	buf := make([]byte, 0, l.size+16*len(l.recs)+16)
	buf = protowire.AppendTag(buf, leafPrev, protowire.VarintType)
	buf = protowire.AppendVarint(buf, l.prev)
	buf = protowire.AppendTag(buf, leafNext, protowire.VarintType)
	buf = protowire.AppendVarint(buf, l.next)
	var sub []byte
	for _, r := range l.recs {
		sub = sub[:0]
		sub = protowire.AppendTag(sub, recKey, protowire.BytesType)
		sub = protowire.AppendBytes(sub, r.key)
		sub = protowire.AppendTag(sub, recValue, protowire.BytesType)
		sub = protowire.AppendBytes(sub, r.value)
		buf = protowire.AppendTag(buf, leafRec, protowire.BytesType)
		buf = protowire.AppendBytes(buf, sub)
	}
	return buf
}

func decodeLeaf(id uint64, buf []byte) (*leaf, error) {
	l := &leaf{id: id}
	err := walk(buf, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case leafPrev:
			l.prev = v
		case leafNext:
			l.next = v
		case leafRec:
			var r rec
			if err := walk(b, func(num protowire.Number, _ uint64, b []byte) error {
				switch num {
				case recKey:
					r.key = b
				case recValue:
					r.value = b
				}
				return nil
			}); err != nil {
				return err
			}
			if r.key == nil {
				r.key = []byte{}
			}
			if r.value == nil {
				r.value = []byte{}
			}
			l.recs = append(l.recs, r)
			l.size += len(r.key) + len(r.value)
		}
		return nil
	})
	if err != nil {
		return nil, utils.Wrapf(err, "while decoding leaf %d", id)
	}
	return l, nil
}

// node fields
const (
	nodeHeir  protowire.Number = 1
	nodeIndex protowire.Number = 2

	idxKey   protowire.Number = 1
	idxChild protowire.Number = 2
)

func (n *node) encode() []byte {
	buf := make([]byte, 0, 16+len(n.idx)*24)
	buf = protowire.AppendTag(buf, nodeHeir, protowire.VarintType)
	buf = protowire.AppendVarint(buf, n.heir)
	var sub []byte
	for _, ix := range n.idx {
		sub = sub[:0]
		sub = protowire.AppendTag(sub, idxKey, protowire.BytesType)
		sub = protowire.AppendBytes(sub, ix.key)
		sub = protowire.AppendTag(sub, idxChild, protowire.VarintType)
		sub = protowire.AppendVarint(sub, ix.child)
		buf = protowire.AppendTag(buf, nodeIndex, protowire.BytesType)
		buf = protowire.AppendBytes(buf, sub)
	}
	return buf
}

func decodeNode(id uint64, buf []byte) (*node, error) {
	n := &node{id: id}
	err := walk(buf, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case nodeHeir:
			n.heir = v
		case nodeIndex:
			var ix index
			if err := walk(b, func(num protowire.Number, v uint64, b []byte) error {
				switch num {
				case idxKey:
					ix.key = b
				case idxChild:
					ix.child = v
				}
				return nil
			}); err != nil {
				return err
			}
			if ix.key == nil {
				ix.key = []byte{}
			}
			n.idx = append(n.idx, ix)
		}
		return nil
	})
	if err != nil {
		return nil, utils.Wrapf(err, "while decoding node %d", id)
	}
	return n, nil
}

// meta fields
const (
	metaRoot   protowire.Number = 1
	metaFirst  protowire.Number = 2
	metaLast   protowire.Number = 3
	metaLnum   protowire.Number = 4
	metaNnum   protowire.Number = 5
	metaRnum   protowire.Number = 6
	metaLmemb  protowire.Number = 7
	metaNmemb  protowire.Number = 8
	metaCmp    protowire.Number = 9
	metaLeafID protowire.Number = 10
	metaNodeID protowire.Number = 11
)

func (m *treeMeta) encode() []byte {
	var buf []byte
	for _, f := range []struct {
		num protowire.Number
		v   uint64
	}{
		{metaRoot, m.root}, {metaFirst, m.first}, {metaLast, m.last},
		{metaLnum, uint64(m.lnum)}, {metaNnum, uint64(m.nnum)}, {metaRnum, uint64(m.rnum)},
		{metaLmemb, uint64(m.lmemb)}, {metaNmemb, uint64(m.nmemb)},
		{metaLeafID, m.leafID}, {metaNodeID, m.nodeID},
	} {
		buf = protowire.AppendTag(buf, f.num, protowire.VarintType)
		buf = protowire.AppendVarint(buf, f.v)
	}
	buf = protowire.AppendTag(buf, metaCmp, protowire.BytesType)
	buf = protowire.AppendString(buf, m.cmp)
	return buf
}

func decodeTreeMeta(buf []byte) (*treeMeta, error) {
	m := &treeMeta{}
	err := walk(buf, func(num protowire.Number, v uint64, b []byte) error {
		switch num {
		case metaRoot:
			m.root = v
		case metaFirst:
			m.first = v
		case metaLast:
			m.last = v
		case metaLnum:
			m.lnum = int64(v)
		case metaNnum:
			m.nnum = int64(v)
		case metaRnum:
			m.rnum = int64(v)
		case metaLmemb:
			m.lmemb = int(v)
		case metaNmemb:
			m.nmemb = int(v)
		case metaCmp:
			m.cmp = string(b)
		case metaLeafID:
			m.leafID = v
		case metaNodeID:
			m.nodeID = v
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewError(utils.MetaDataCorrupt, err)
	}
	if m.root == 0 || m.first == 0 || m.last == 0 || m.lmemb < utils.MinPageMembers || m.nmemb < utils.MinPageMembers {
		return nil, utils.Errorf(utils.MetaDataCorrupt, "bad tree meta")
	}
	return m, nil
}

// walk calls fn for every field of a protobuf message. Varint fields pass
// their value in v, length delimited fields pass their bytes in b. Other
// wire types are skipped.
func walk(buf []byte, fn func(num protowire.Number, v uint64, b []byte) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return utils.NewError(utils.RecordHeaderCorrupt, protowire.ParseError(n))
		}
		buf = buf[n:]
		var (
			v uint64
			b []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(buf)
		case protowire.BytesType:
			b, n = protowire.ConsumeBytes(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return utils.NewError(utils.RecordHeaderCorrupt, protowire.ParseError(n))
		}
		buf = buf[n:]
		if err := fn(num, v, b); err != nil {
			return err
		}
	}
	return nil
}
