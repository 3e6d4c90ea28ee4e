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
	"strings"
)

// State 句柄的生命周期
type State int32

const (
	StateFresh State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Compression selects how record values (or tree pages) are compressed.
type Compression uint8

const (
	CompressNone Compression = iota
	CompressDeflate
	CompressBzip2
	// CompressCustom is the built-in fast codec.
	CompressCustom
	// CompressExternal uses the Codec supplied in Tuning.
	CompressExternal
)

var compressionNames = []string{"none", "deflate", "bzip2", "custom", "external"}

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return "unknown"
}

// ParseCompression maps a name such as "deflate" to its Compression.
// The empty string means CompressNone.
func ParseCompression(s string) (Compression, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CompressNone, nil
	}
	for i, name := range compressionNames {
		if name == s {
			return Compression(i), nil
		}
	}
	return CompressNone, Errorf(InvalidOperation, "unknown compression %q", s)
}

// Codec is a reversible transformation applied to stored values.
type Codec interface {
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// Tuning holds the structural parameters shared by both engines. Zero
// values select the engine defaults. The values are only checked at open.
type Tuning struct {
	// Buckets is the number of elements of the bucket array.
	Buckets int64
	// AlignPow is the power of 2 records are aligned to. 0 means the
	// engine default, a power of 0 can not be asked for.
	AlignPow int8
	// FreePoolPow is the power of 2 of the free block pool capacity.
	// 0 means the engine default, as with AlignPow.
	FreePoolPow int8
	// Large widens bucket offsets to 64 bits so files may grow past
	// 2^32 << AlignPow bytes.
	Large       bool
	Compression Compression
	// Codec is required when Compression is CompressExternal.
	Codec Codec
}

// Validate checks the tuning values without touching any file.
func (t Tuning) Validate() error {
	if t.Buckets < 0 {
		return Errorf(InvalidOperation, "bucket count %d is negative", t.Buckets)
	}
	if t.AlignPow < 0 || t.AlignPow > MaxAlignPow {
		return Errorf(InvalidOperation, "align pow %d out of range [0,%d]", t.AlignPow, MaxAlignPow)
	}
	if t.FreePoolPow < 0 || t.FreePoolPow > MaxFreePoolPow {
		return Errorf(InvalidOperation, "free pool pow %d out of range [0,%d]", t.FreePoolPow, MaxFreePoolPow)
	}
	if t.Compression > CompressExternal {
		return Errorf(InvalidOperation, "unknown compression %d", t.Compression)
	}
	if t.Compression == CompressExternal && t.Codec == nil {
		return Errorf(InvalidOperation, "external compression needs a codec")
	}
	return nil
}

// WithDefaults fills zero fields with the given defaults. Non-zero fields
// are kept as they are.
func (t Tuning) WithDefaults(buckets int64, apow, fpow int8) Tuning {
	if t.Buckets == 0 {
		t.Buckets = buckets
	}
	if t.AlignPow == 0 {
		t.AlignPow = apow
	}
	if t.FreePoolPow == 0 {
		t.FreePoolPow = fpow
	}
	return t
}

// OpenMode describes access rights and locking at open time.
type OpenMode struct {
	Reader bool
	Writer bool
	// Create makes the file when it is missing.
	Create bool
	// Truncate empties an existing file.
	Truncate bool
	// NoLock skips the file lock.
	NoLock bool
	// LockNonBlocking fails with LockFailed instead of waiting for the lock.
	LockNonBlocking bool
	// SyncEveryTxn flushes to disk after every write operation.
	SyncEveryTxn bool
}

// Validate rejects contradictory combinations.
func (m OpenMode) Validate() error {
	switch {
	case m.Reader && m.Writer:
		return Errorf(InvalidOperation, "open mode can not be both reader and writer")
	case (m.Create || m.Truncate) && !m.Writer:
		return Errorf(InvalidOperation, "create and truncate need writer mode")
	case m.NoLock && m.LockNonBlocking:
		return Errorf(InvalidOperation, "nolock and non-blocking lock are exclusive")
	}
	return nil
}

// ParseMode reads the letter form used in open specs:
// w writer, r reader, c create, t truncate, e no lock, f non-blocking lock,
// s sync every transaction.
func ParseMode(s string) (OpenMode, error) {
	var m OpenMode
	for _, c := range s {
		switch c {
		case 'w':
			m.Writer = true
		case 'r':
			m.Reader = true
		case 'c':
			m.Create = true
		case 't':
			m.Truncate = true
		case 'e':
			m.NoLock = true
		case 'f':
			m.LockNonBlocking = true
		case 's':
			m.SyncEveryTxn = true
		default:
			return OpenMode{}, Errorf(InvalidOperation, "unknown open mode letter %q", c)
		}
	}
	return m, nil
}

func (m OpenMode) String() string {
	var b strings.Builder
	for _, f := range []struct {
		on bool
		c  byte
	}{{m.Writer, 'w'}, {m.Reader, 'r'}, {m.Create, 'c'}, {m.Truncate, 't'},
		{m.NoLock, 'e'}, {m.LockNonBlocking, 'f'}, {m.SyncEveryTxn, 's'}} {
		if f.on {
			b.WriteByte(f.c)
		}
	}
	return b.String()
}
