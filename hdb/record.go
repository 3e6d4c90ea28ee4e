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
	"encoding/binary"
	"io"
	"math"

	"github.com/hardcore-os/corecab/utils"
	"github.com/pkg/errors"
)

// layout of record
// +--------+-------+----------+------+------+------+------+-----+-------+---------+
// | magic  | flags | reserved | rsiz | ksiz | vsiz | next | key | value | padding |
// +--------+-------+----------+------+------+------+------+-----+-------+---------+
// |   1    |   1   |    2     |  4   |  4   |  4   |  8   |     |       |         |
// +--------+-------+----------+------+------+------+------+-----+-------+---------+
// A free block keeps only magic and rsiz meaningful.
const (
	recordHeaderSize = 24

	magicRecord = 0xc8
	magicFree   = 0xb0

	flagCompressed = 1 << 0
)

// record 记录头，off 是记录在文件中的位置
type record struct {
	off   int64
	magic byte
	flags byte
	rsiz  uint32
	ksiz  uint32
	vsiz  uint32
	next  int64
}

func (r *record) free() bool {
	return r.magic == magicFree
}

func (r *record) encodeHeader(buf []byte) {
	buf[0] = r.magic
	buf[1] = r.flags
	buf[2], buf[3] = 0, 0
	binary.BigEndian.PutUint32(buf[4:8], r.rsiz)
	binary.BigEndian.PutUint32(buf[8:12], r.ksiz)
	binary.BigEndian.PutUint32(buf[12:16], r.vsiz)
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.next))
}

func (r *record) decodeHeader(buf []byte) error {
	r.magic = buf[0]
	r.flags = buf[1]
	r.rsiz = binary.BigEndian.Uint32(buf[4:8])
	r.ksiz = binary.BigEndian.Uint32(buf[8:12])
	r.vsiz = binary.BigEndian.Uint32(buf[12:16])
	r.next = int64(binary.BigEndian.Uint64(buf[16:24]))
	if r.magic != magicRecord && r.magic != magicFree {
		return utils.Errorf(utils.RecordHeaderCorrupt, "bad record magic 0x%02x at %d", r.magic, r.off)
	}
	if r.rsiz < recordHeaderSize {
		return utils.Errorf(utils.RecordHeaderCorrupt, "record size %d at %d", r.rsiz, r.off)
	}
	if r.magic == magicRecord && uint64(recordHeaderSize)+uint64(r.ksiz)+uint64(r.vsiz) > uint64(r.rsiz) {
		return utils.Errorf(utils.RecordHeaderCorrupt, "record at %d overflows its block", r.off)
	}
	return nil
}

// recordSize 对齐之后的记录长度
func (h *HDB) recordSize(ksiz, vsiz int) (int64, error) {
	n := utils.Align(int64(recordHeaderSize+ksiz+vsiz), h.tuning.AlignPow)
	if n > math.MaxUint32 {
		return 0, utils.Errorf(utils.InvalidOperation, "record of %d bytes is too large", n)
	}
	return n, nil
}

// readHeader loads the record header at off.
func (h *HDB) readHeader(off int64) (*record, error) {
	if off < h.recStart || off+recordHeaderSize > h.fsiz {
		return nil, utils.Errorf(utils.RecordHeaderCorrupt, "record offset %d out of range [%d,%d)", off, h.recStart, h.fsiz)
	}
	var buf [recordHeaderSize]byte
	if _, err := h.f.ReadAt(buf[:], off); err != nil {
		return nil, utils.NewError(utils.ReadFailed, errors.Wrapf(err, "while reading record header at %d", off))
	}
	r := &record{off: off}
	if err := r.decodeHeader(buf[:]); err != nil {
		return nil, err
	}
	return r, nil
}

func (h *HDB) readBody(r *record, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := h.f.ReadAt(buf, r.off+off); err != nil {
		if err == io.EOF {
			return nil, utils.Errorf(utils.RecordHeaderCorrupt, "record at %d is truncated", r.off)
		}
		return nil, utils.NewError(utils.ReadFailed, errors.Wrapf(err, "while reading record at %d", r.off))
	}
	return buf, nil
}

func (h *HDB) readKey(r *record) ([]byte, error) {
	return h.readBody(r, recordHeaderSize, int64(r.ksiz))
}

// readValue 读出并解压 value
func (h *HDB) readValue(r *record) ([]byte, error) {
	val, err := h.readBody(r, recordHeaderSize+int64(r.ksiz), int64(r.vsiz))
	if err != nil {
		return nil, err
	}
	if r.flags&flagCompressed == 0 {
		return val, nil
	}
	out, err := h.codec.Decode(val)
	if err != nil {
		return nil, utils.NewError(utils.Miscellaneous, errors.Wrapf(err, "while decoding record at %d", r.off))
	}
	return out, nil
}

// keyEqual 长度不同时不用读 key
func (h *HDB) keyEqual(r *record, key []byte) (bool, error) {
	if int(r.ksiz) != len(key) {
		return false, nil
	}
	stored, err := h.readKey(r)
	if err != nil {
		return false, err
	}
	return bytes.Equal(stored, key), nil
}

// encodeValue 压缩后更短才使用压缩结果
func (h *HDB) encodeValue(value []byte) ([]byte, byte, error) {
	if h.codec == nil || len(value) == 0 {
		return value, 0, nil
	}
	enc, err := h.codec.Encode(value)
	if err != nil {
		return nil, 0, utils.NewError(utils.Miscellaneous, errors.Wrap(err, "while encoding value"))
	}
	if len(enc) >= len(value) {
		return value, 0, nil
	}
	return enc, flagCompressed, nil
}

// writeRecord writes the whole block of r, padding included, in one call.
func (h *HDB) writeRecord(r *record, key, value []byte) error {
	buf := make([]byte, r.rsiz)
	r.encodeHeader(buf)
	copy(buf[recordHeaderSize:], key)
	copy(buf[recordHeaderSize+len(key):], value)
	if _, err := h.f.WriteAt(buf, r.off); err != nil {
		return utils.NewError(utils.WriteFailed, errors.Wrapf(err, "while writing record at %d", r.off))
	}
	return nil
}

// writeNext 只改写记录头里的 next
func (h *HDB) writeNext(off, next int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	if _, err := h.f.WriteAt(buf[:], off+16); err != nil {
		return utils.NewError(utils.WriteFailed, errors.Wrapf(err, "while linking record at %d", off))
	}
	return nil
}

// writeFree marks [off, off+size) as a free block on disk.
func (h *HDB) writeFree(off, size int64) error {
	r := &record{off: off, magic: magicFree, rsiz: uint32(size)}
	var buf [recordHeaderSize]byte
	r.encodeHeader(buf[:])
	if _, err := h.f.WriteAt(buf[:], off); err != nil {
		return utils.NewError(utils.WriteFailed, errors.Wrapf(err, "while freeing block at %d", off))
	}
	return nil
}
