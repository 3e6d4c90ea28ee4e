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

package utils

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Comparator defines a total order over raw keys. Compare returns a negative
// number when a sorts before b, zero when equal and a positive number otherwise.
type Comparator interface {
	Compare(a, b []byte) int
}

// Named is implemented by comparators whose identity is persisted with the
// tree, so a file is never reopened under a different order.
type Named interface {
	Name() string
}

// ComparatorFunc adapts a plain function. It has no name, so it is not
// checked against the one stored in a file.
type ComparatorFunc func(a, b []byte) int

func (f ComparatorFunc) Compare(a, b []byte) int {
	return f(a, b)
}

// ComparatorName returns the persisted name of c or "" for anonymous ones.
func ComparatorName(c Comparator) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return ""
}

// ComparatorByName resolves the built-in comparators.
func ComparatorByName(name string) (Comparator, error) {
	switch strings.ToLower(name) {
	case "", "lexical":
		return Lexical, nil
	case "decimal":
		return Decimal, nil
	case "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	}
	return nil, Errorf(InvalidOperation, "unknown comparator %q", name)
}

var (
	// Lexical orders keys byte by byte. It is the default.
	Lexical Comparator = lexical{}
	// Decimal orders keys holding decimal numbers such as "-12.5".
	Decimal Comparator = decimal{}
	// Int32 orders 4 byte big endian signed integers.
	Int32 Comparator = fixedInt{size: 4}
	// Int64 orders 8 byte big endian signed integers.
	Int64 Comparator = fixedInt{size: 8}
)

type lexical struct{}

func (lexical) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (lexical) Name() string            { return "lexical" }

// CompareKeys compares keys in lexical order.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

type fixedInt struct {
	size int
}

func (c fixedInt) Name() string {
	if c.size == 4 {
		return "int32"
	}
	return "int64"
}

func (c fixedInt) value(k []byte) int64 {
	if c.size == 4 {
		return int64(int32(binary.BigEndian.Uint32(k)))
	}
	return int64(binary.BigEndian.Uint64(k))
}

// Compare puts well formed keys first, in numeric order; malformed keys
// follow in lexical order.
func (c fixedInt) Compare(a, b []byte) int {
	okA, okB := len(a) == c.size, len(b) == c.size
	switch {
	case okA && okB:
		va, vb := c.value(a), c.value(b)
		if va < vb {
			return -1
		} else if va > vb {
			return 1
		}
		return 0
	case okA:
		return -1
	case okB:
		return 1
	}
	return bytes.Compare(a, b)
}

type decimal struct{}

func (decimal) Name() string { return "decimal" }

// number is a parsed decimal: sign, integer digits without leading zeros and
// fraction digits without trailing zeros.
type number struct {
	neg      bool
	intPart  []byte
	fracPart []byte
}

func parseDecimal(b []byte) number {
	var n number
	b = bytes.TrimSpace(b)
	if len(b) > 0 && (b[0] == '-' || b[0] == '+') {
		n.neg = b[0] == '-'
		b = b[1:]
	}
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	n.intPart = bytes.TrimLeft(b[:i], "0")
	b = b[i:]
	if len(b) > 0 && b[0] == '.' {
		b = b[1:]
		j := 0
		for j < len(b) && b[j] >= '0' && b[j] <= '9' {
			j++
		}
		n.fracPart = bytes.TrimRight(b[:j], "0")
	}
	if len(n.intPart) == 0 && len(n.fracPart) == 0 {
		n.neg = false
	}
	return n
}

func compareMagnitude(a, b number) int {
	if len(a.intPart) != len(b.intPart) {
		if len(a.intPart) < len(b.intPart) {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(a.intPart, b.intPart); c != 0 {
		return c
	}
	return bytes.Compare(a.fracPart, b.fracPart)
}

// Compare orders by numeric value and falls back to lexical order on ties so
// that "1.0" and "1" stay distinct keys.
func (decimal) Compare(a, b []byte) int {
	na, nb := parseDecimal(a), parseDecimal(b)
	var c int
	switch {
	case na.neg && !nb.neg:
		c = -1
	case !na.neg && nb.neg:
		c = 1
	case na.neg:
		c = -compareMagnitude(na, nb)
	default:
		c = compareMagnitude(na, nb)
	}
	if c != 0 {
		return c
	}
	return bytes.Compare(a, b)
}
