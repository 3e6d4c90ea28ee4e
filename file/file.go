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
	"io"
	"os"

	"github.com/hardcore-os/corecab/utils"
)

// CoreFile is the storage an engine runs on: an OS file or a memory buffer.
type CoreFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
	Close() error
	Name() string
	// Map exposes the first size bytes for in place reads and writes,
	// growing a writable file that is shorter. The slice stays valid
	// until the next Map, Unmap or Close.
	Map(size int) ([]byte, error)
	Unmap() error
}

// Options _
type Options struct {
	FileName string
	Mode     utils.OpenMode
	Perm     os.FileMode
}
