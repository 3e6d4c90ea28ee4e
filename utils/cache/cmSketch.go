package cache

import (
	"math/bits"
	"math/rand"
)

const (
	sketchDepth = 4
	// 太窄的行几乎每次都冲突
	sketchMinWidth = 16
)

// cmSketch is a count-min sketch of 4 bit counters. It estimates how often
// a key hash was seen; counters saturate at 15 and decay halves them.
type cmSketch struct {
	rows  [sketchDepth]nibbles
	seeds [sketchDepth]uint64
	mask  uint64
}

func newCmSketch(width int64) *cmSketch {
	if width < sketchMinWidth {
		width = sketchMinWidth
	}
	// 宽度取 2 的幂，下标用 mask 取低位
	w := uint64(1) << bits.Len64(uint64(width)-1)
	s := &cmSketch{mask: w - 1}
	for i := range s.rows {
		s.seeds[i] = rand.Uint64()
		s.rows[i] = make(nibbles, w/2)
	}
	return s
}

// index 每行用不同的 seed 打散，两个 key 在一行冲突不代表在别的行也冲突
func (s *cmSketch) index(row int, h uint64) uint64 {
	x := h ^ s.seeds[row]
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return x & s.mask
}

func (s *cmSketch) add(h uint64) {
	for i := range s.rows {
		s.rows[i].inc(s.index(i, h))
	}
}

func (s *cmSketch) estimate(h uint64) int64 {
	least := byte(15)
	for i := range s.rows {
		if v := s.rows[i].get(s.index(i, h)); v < least {
			least = v
		}
	}
	return int64(least)
}

// decay halves every counter.
func (s *cmSketch) decay() {
	for _, r := range s.rows {
		r.halve()
	}
}

func (s *cmSketch) clear() {
	for _, r := range s.rows {
		clear(r)
	}
}

// nibbles 一个字节放两个计数器，低 4 位是偶数下标
type nibbles []byte

func (n nibbles) get(i uint64) byte {
	return n[i/2] >> ((i & 1) * 4) & 0x0f
}

func (n nibbles) inc(i uint64) {
	shift := (i & 1) * 4
	if (n[i/2]>>shift)&0x0f < 15 {
		n[i/2] += 1 << shift
	}
}

func (n nibbles) halve() {
	for i := range n {
		n[i] = (n[i] >> 1) & 0x77
	}
}
