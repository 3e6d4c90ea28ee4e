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
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/google/uuid"
	"github.com/hardcore-os/corecab/utils"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// HeaderSize 文件头固定 256 字节
// layout of header
// +-------+---------+----------+-------+---------+
// | magic | msg len | meta msg | crc32 | padding |
// +-------+---------+----------+-------+---------+
const HeaderSize = 256

// Kind 文件里存放的是哪种引擎
type Kind uint8

const (
	KindHash Kind = iota + 1
	KindTree
)

func (k Kind) String() string {
	switch k {
	case KindHash:
		return "hash"
	case KindTree:
		return "btree"
	}
	return "unknown"
}

// Meta 文件的元信息，在 Sync 和 Close 时落盘
type Meta struct {
	Kind        Kind
	Version     uint32
	Buckets     int64
	AlignPow    int8
	FreePoolPow int8
	Large       bool
	Compression utils.Compression
	Records     int64
	FileSize    int64
	RecordStart int64
	ID          uuid.UUID
}

const (
	fieldKind protowire.Number = iota + 1
	fieldVersion
	fieldBuckets
	fieldAlignPow
	fieldFreePoolPow
	fieldLarge
	fieldCompression
	fieldRecords
	fieldFileSize
	fieldRecordStart
	fieldID
)

// Encode returns the HeaderSize bytes of the header.
func (m *Meta) Encode() ([]byte, error) {
	if m.Version == 0 {
		m.Version = utils.MagicVersion
	}
	var msg []byte
	msg = appendVarint(msg, fieldKind, uint64(m.Kind))
	msg = appendVarint(msg, fieldVersion, uint64(m.Version))
	msg = appendVarint(msg, fieldBuckets, uint64(m.Buckets))
	msg = appendVarint(msg, fieldAlignPow, uint64(m.AlignPow))
	msg = appendVarint(msg, fieldFreePoolPow, uint64(m.FreePoolPow))
	msg = appendVarint(msg, fieldLarge, protowire.EncodeBool(m.Large))
	msg = appendVarint(msg, fieldCompression, uint64(m.Compression))
	msg = appendVarint(msg, fieldRecords, uint64(m.Records))
	msg = appendVarint(msg, fieldFileSize, uint64(m.FileSize))
	msg = appendVarint(msg, fieldRecordStart, uint64(m.RecordStart))
	msg = protowire.AppendTag(msg, fieldID, protowire.BytesType)
	msg = protowire.AppendBytes(msg, m.ID[:])

	if len(utils.MagicText)+4+len(msg)+crc32.Size > HeaderSize {
		return nil, utils.Errorf(utils.MetaDataCorrupt, "meta message of %d bytes does not fit the header", len(msg))
	}
	buf := make([]byte, HeaderSize)
	pos := copy(buf, utils.MagicText[:])
	binary.BigEndian.PutUint32(buf[pos:], uint32(len(msg)))
	pos += 4
	pos += copy(buf[pos:], msg)
	binary.BigEndian.PutUint32(buf[pos:], crc32.Checksum(msg, utils.CastagnoliCrcTable))
	return buf, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// DecodeMeta parses a header produced by Encode.
func DecodeMeta(buf []byte) (*Meta, error) {
	if len(buf) < HeaderSize {
		return nil, utils.Errorf(utils.MetaDataCorrupt, "header is %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:len(utils.MagicText)], utils.MagicText[:]) {
		return nil, utils.Errorf(utils.MetaDataCorrupt, "bad magic %q", buf[:len(utils.MagicText)])
	}
	pos := len(utils.MagicText)
	n := int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if n > HeaderSize-pos-crc32.Size {
		return nil, utils.Errorf(utils.MetaDataCorrupt, "meta length %d out of range", n)
	}
	msg := buf[pos : pos+n]
	if crc32.Checksum(msg, utils.CastagnoliCrcTable) != binary.BigEndian.Uint32(buf[pos+n:]) {
		return nil, utils.Errorf(utils.MetaDataCorrupt, "meta checksum mismatch")
	}

	m := &Meta{}
	for len(msg) > 0 {
		num, typ, tn := protowire.ConsumeTag(msg)
		if tn < 0 {
			return nil, utils.NewError(utils.MetaDataCorrupt, errors.Wrap(protowire.ParseError(tn), "meta tag"))
		}
		msg = msg[tn:]
		if typ == protowire.BytesType && num == fieldID {
			v, vn := protowire.ConsumeBytes(msg)
			if vn < 0 || len(v) != len(m.ID) {
				return nil, utils.Errorf(utils.MetaDataCorrupt, "bad file id")
			}
			copy(m.ID[:], v)
			msg = msg[vn:]
			continue
		}
		if typ != protowire.VarintType {
			// 未知字段直接跳过，方便以后加字段
			vn := protowire.ConsumeFieldValue(num, typ, msg)
			if vn < 0 {
				return nil, utils.NewError(utils.MetaDataCorrupt, errors.Wrap(protowire.ParseError(vn), "meta field"))
			}
			msg = msg[vn:]
			continue
		}
		v, vn := protowire.ConsumeVarint(msg)
		if vn < 0 {
			return nil, utils.NewError(utils.MetaDataCorrupt, errors.Wrap(protowire.ParseError(vn), "meta varint"))
		}
		msg = msg[vn:]
		switch num {
		case fieldKind:
			m.Kind = Kind(v)
		case fieldVersion:
			m.Version = uint32(v)
		case fieldBuckets:
			m.Buckets = int64(v)
		case fieldAlignPow:
			m.AlignPow = int8(v)
		case fieldFreePoolPow:
			m.FreePoolPow = int8(v)
		case fieldLarge:
			m.Large = protowire.DecodeBool(v)
		case fieldCompression:
			m.Compression = utils.Compression(v)
		case fieldRecords:
			m.Records = int64(v)
		case fieldFileSize:
			m.FileSize = int64(v)
		case fieldRecordStart:
			m.RecordStart = int64(v)
		}
	}
	if m.Version != utils.MagicVersion {
		return nil, utils.Errorf(utils.MetaDataCorrupt, "unsupported version %d", m.Version)
	}
	return m, nil
}

// ReadMeta reads and decodes the header of f.
func ReadMeta(f CoreFile) (*Meta, error) {
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if err == io.EOF {
			return nil, utils.Errorf(utils.MetaDataCorrupt, "file %s is too short for a header", f.Name())
		}
		return nil, utils.NewError(utils.ReadFailed, errors.Wrapf(err, "while reading header of %s", f.Name()))
	}
	return DecodeMeta(buf)
}
