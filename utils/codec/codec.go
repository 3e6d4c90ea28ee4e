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

package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/golang/snappy"
	"github.com/hardcore-os/corecab/utils"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// New returns the codec selected by c. external is only used, and then
// required, for utils.CompressExternal. CompressNone yields a nil codec.
func New(c utils.Compression, external utils.Codec) (utils.Codec, error) {
	switch c {
	case utils.CompressNone:
		return nil, nil
	case utils.CompressDeflate:
		return &deflateCodec{}, nil
	case utils.CompressBzip2:
		return bzip2Codec{}, nil
	case utils.CompressCustom:
		return snappyCodec{}, nil
	case utils.CompressExternal:
		if external == nil {
			return nil, utils.Errorf(utils.InvalidOperation, "external compression needs a codec")
		}
		return external, nil
	}
	return nil, utils.Errorf(utils.InvalidOperation, "unknown compression %d", c)
}

// deflateCodec 复用 flate.Writer，Reset 之后可以重复使用
type deflateCodec struct {
	writers sync.Pool
}

func (d *deflateCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, _ := d.writers.Get().(*flate.Writer)
	if w == nil {
		var err error
		if w, err = flate.NewWriter(&buf, flate.DefaultCompression); err != nil {
			return nil, errors.Wrap(err, "deflate")
		}
	} else {
		w.Reset(&buf)
	}
	defer d.writers.Put(w)
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "deflate")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "deflate")
	}
	return buf.Bytes(), nil
}

func (d *deflateCodec) Decode(src []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "inflate")
	}
	return out, nil
}

type bzip2Codec struct{}

func (bzip2Codec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, errors.Wrap(err, "bzip2")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "bzip2")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "bzip2")
	}
	return buf.Bytes(), nil
}

func (bzip2Codec) Decode(src []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(src), nil)
	if err != nil {
		return nil, errors.Wrap(err, "bunzip2")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "bunzip2")
	}
	return out, nil
}

// snappyCodec 内置的快速压缩
type snappyCodec struct{}

func (snappyCodec) Encode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decode(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, errors.Wrap(err, "snappy")
	}
	return out, nil
}
