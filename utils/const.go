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
	"hash/crc32"
	"os"
)

// tuning limits and defaults
const (
	MaxAlignPow    = 16
	MaxFreePoolPow = 20

	// hash engine
	DefaultHashBuckets  = 131071
	DefaultHashAlignPow = 4
	DefaultFreePoolPow  = 10
	// B+ tree engine, the page store uses fewer and wider records
	DefaultTreeBuckets  = 32749
	DefaultTreeAlignPow = 8
	DefaultLeafMembers  = 128
	DefaultNodeMembers  = 256
	MinPageMembers      = 4
	DefaultLeafCache    = 1024
	DefaultNodeCache    = 512
	MinPageCache        = 64
)

// file
const (
	DefaultFileMode os.FileMode = 0644
	// MemSpecHash and MemSpecTree are the reserved names of the in-memory databases.
	MemSpecHash = "*"
	MemSpecTree = "+"
)

// codec
var (
	MagicText    = [8]byte{'C', 'O', 'R', 'E', 'C', 'A', 'B', 0}
	MagicVersion = uint32(1)
	// CastagnoliCrcTable is a CRC32 polynomial table
	CastagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)
)
