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
	"sync"

	"github.com/hardcore-os/corecab/utils"
)

// MemFile is a CoreFile kept in memory. The mapped prefix lives in its own
// buffer so growing the rest of the file never moves it.
type MemFile struct {
	name   string
	mu     sync.RWMutex
	head   []byte
	body   []byte
	size   int64
	closed bool
}

// NewMemFile _
func NewMemFile(name string) *MemFile {
	return &MemFile{name: name}
}

// Name _
func (m *MemFile) Name() string {
	return m.name
}

// ReadAt _
func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, utils.ErrInvalid
	}
	if off >= m.size {
		return 0, io.EOF
	}
	n := len(p)
	if rest := m.size - off; int64(n) > rest {
		n = int(rest)
	}
	m.copyOut(p[:n], off)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemFile) copyOut(p []byte, off int64) {
	h := int64(len(m.head))
	if off < h {
		c := copy(p, m.head[off:])
		p, off = p[c:], off+int64(c)
	}
	if len(p) > 0 {
		copy(p, m.body[off-h:])
	}
}

// WriteAt _
func (m *MemFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, utils.ErrInvalid
	}
	end := off + int64(len(p))
	if end > m.size {
		m.resize(end)
	}
	h := int64(len(m.head))
	n := len(p)
	if off < h {
		c := copy(m.head[off:], p)
		p, off = p[c:], off+int64(c)
	}
	if len(p) > 0 {
		copy(m.body[off-h:], p)
	}
	return n, nil
}

// resize keeps len(head)+len(body) >= size, zeroing anything cut off.
func (m *MemFile) resize(size int64) {
	h := int64(len(m.head))
	if size < h {
		for i := size; i < h; i++ {
			m.head[i] = 0
		}
		m.body = m.body[:0]
	} else if want := size - h; want <= int64(cap(m.body)) {
		old := int64(len(m.body))
		m.body = m.body[:want]
		for i := old; i < want; i++ {
			m.body[i] = 0
		}
	} else {
		grown := make([]byte, want, want+want/4)
		copy(grown, m.body)
		m.body = grown
	}
	m.size = size
}

// Truncate _
func (m *MemFile) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return utils.ErrInvalid
	}
	if size < 0 {
		return utils.Errorf(utils.TruncateFailed, "negative size %d", size)
	}
	m.resize(size)
	return nil
}

// Size _
func (m *MemFile) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size, nil
}

// Map _
func (m *MemFile) Map(size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, utils.ErrInvalid
	}
	if len(m.head) == size {
		return m.head, nil
	}
	m.unmap()
	if int64(size) > m.size {
		m.resize(int64(size))
	}
	head := make([]byte, size)
	copy(head, m.body)
	m.body = append([]byte(nil), m.body[size:]...)
	m.head = head
	return m.head, nil
}

// Unmap _
func (m *MemFile) Unmap() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmap()
	return nil
}

func (m *MemFile) unmap() {
	if len(m.head) == 0 {
		return
	}
	data := make([]byte, 0, int64(len(m.head))+int64(len(m.body)))
	data = append(data, m.head...)
	data = append(data, m.body...)
	m.head = nil
	m.body = data[:m.size]
}

// Sync _
func (m *MemFile) Sync() error {
	return nil
}

// Close 释放内存
func (m *MemFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.head, m.body = nil, nil
	m.size = 0
	return nil
}
