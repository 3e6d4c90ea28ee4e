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
	"math"
	"sort"

	"github.com/hardcore-os/corecab/utils"
	"go.uber.org/zap"
)

type freeBlock struct {
	off  int64
	size int64
}

// freePool 按 size 升序保存空闲块，容量满时丢掉最小的块
type freePool struct {
	blocks []freeBlock
	cap    int
}

func newFreePool(pow int8) *freePool {
	return &freePool{cap: 1 << uint(pow)}
}

func (p *freePool) less(a, b freeBlock) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.off < b.off
}

func (p *freePool) add(b freeBlock) {
	i := sort.Search(len(p.blocks), func(i int) bool { return !p.less(p.blocks[i], b) })
	p.blocks = append(p.blocks, freeBlock{})
	copy(p.blocks[i+1:], p.blocks[i:])
	p.blocks[i] = b
	if len(p.blocks) > p.cap {
		p.blocks = p.blocks[1:]
	}
}

// take removes the smallest block that holds size bytes.
func (p *freePool) take(size int64) (freeBlock, bool) {
	i := sort.Search(len(p.blocks), func(i int) bool { return p.blocks[i].size >= size })
	if i == len(p.blocks) {
		return freeBlock{}, false
	}
	b := p.blocks[i]
	p.blocks = append(p.blocks[:i], p.blocks[i+1:]...)
	return b, true
}

func (p *freePool) reset() {
	p.blocks = p.blocks[:0]
}

func (p *freePool) len() int {
	return len(p.blocks)
}

// minFree 能单独成为空闲块的最小长度
func (h *HDB) minFree() int64 {
	return utils.Align(recordHeaderSize, h.tuning.AlignPow)
}

// allocate finds room for a record of size bytes, best fit from the free
// pool first and the end of the file otherwise.
func (h *HDB) allocate(size int64) (int64, int64, error) {
	if b, ok := h.fpool.take(size); ok {
		if rest := b.size - size; rest >= h.minFree() {
			if err := h.writeFree(b.off+size, rest); err != nil {
				return 0, 0, err
			}
			h.fpool.add(freeBlock{off: b.off + size, size: rest})
			return b.off, size, nil
		}
		return b.off, b.size, nil
	}
	off := h.fsiz
	if !h.tuning.Large && (off>>uint(h.tuning.AlignPow)) > math.MaxUint32 {
		return 0, 0, utils.Errorf(utils.WriteFailed, "file exceeds the 32 bit offset limit, open with a large tuning")
	}
	h.fsiz += size
	return off, size, nil
}

// release turns a record block into free space.
func (h *HDB) release(off, size int64) error {
	if err := h.writeFree(off, size); err != nil {
		return err
	}
	h.fpool.add(freeBlock{off: off, size: size})
	h.dfcnt++
	if h.dfunit > 0 && h.dfcnt >= h.dfunit {
		return h.defrag()
	}
	return nil
}

// defrag merges adjacent free blocks and gives a free tail back to the
// file system. Live records are never moved.
func (h *HDB) defrag() error {
	h.dfcnt = 0
	if h.fpool.len() == 0 {
		return nil
	}
	blocks := append([]freeBlock(nil), h.fpool.blocks...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].off < blocks[j].off })

	merged := blocks[:0]
	for _, b := range blocks {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.off+last.size == b.off && last.size+b.size <= math.MaxUint32 {
				last.size += b.size
				continue
			}
		}
		merged = append(merged, b)
	}

	before := h.fsiz
	if n := len(merged); n > 0 && merged[n-1].off+merged[n-1].size == h.fsiz {
		h.fsiz = merged[n-1].off
		merged = merged[:n-1]
	}

	h.fpool.reset()
	for _, b := range merged {
		if err := h.writeFree(b.off, b.size); err != nil {
			return err
		}
		h.fpool.add(b)
	}

	if h.fsiz < before {
		size := h.fsiz
		if size < int64(len(h.mm)) {
			size = int64(len(h.mm))
		}
		if err := h.f.Truncate(size); err != nil {
			return err
		}
	}
	h.logger.Debug("defrag", zap.String("path", h.path), zap.Int("blocks", len(blocks)),
		zap.Int("merged", len(merged)), zap.Int64("released", before-h.fsiz))
	return nil
}

// scan walks every block to rebuild the free pool and count records.
func (h *HDB) scan() error {
	h.fpool.reset()
	var rnum int64
	for off := h.recStart; off < h.fsiz; {
		r, err := h.readHeader(off)
		if err != nil {
			return err
		}
		if r.free() {
			h.fpool.add(freeBlock{off: off, size: int64(r.rsiz)})
		} else {
			rnum++
		}
		off += int64(r.rsiz)
	}
	h.rnum = rnum
	return nil
}
