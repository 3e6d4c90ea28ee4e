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

package corecab

import (
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hardcore-os/corecab/utils"
	"go.uber.org/zap"
)

// Options 是 DB 打开前的全部配置，零值字段使用引擎的默认值
type Options struct {
	// Mode uses the letters of utils.ParseMode, "wc" by default.
	Mode  string `toml:"mode"`
	Mutex bool   `toml:"mutex"`

	Tuning TuningOptions `toml:"tuning"`
	BTree  BTreeOptions  `toml:"btree"`

	// 以下字段不能写进配置文件
	Codec      utils.Codec      `toml:"-"`
	Comparator utils.Comparator `toml:"-"`
	Logger     *zap.Logger      `toml:"-"`
}

// TuningOptions _
type TuningOptions struct {
	Buckets     int64  `toml:"buckets"`
	AlignPow    int8   `toml:"align_pow"`
	FreePoolPow int8   `toml:"free_pool_pow"`
	Large       bool   `toml:"large"`
	Compression string `toml:"compression"`
	// RecordCache is the record cache size of hash files.
	RecordCache  int   `toml:"record_cache"`
	ExtraMapSize int64 `toml:"extra_map_size"`
	DefragUnit   int   `toml:"defrag_unit"`
}

// BTreeOptions only apply to .bdb files, Comparator also to "+".
type BTreeOptions struct {
	LeafMembers int    `toml:"leaf_members"`
	NodeMembers int    `toml:"node_members"`
	LeafCache   int    `toml:"leaf_cache"`
	NodeCache   int    `toml:"node_cache"`
	Comparator  string `toml:"comparator"`
}

// NewDefaultOptions 返回默认的options
func NewDefaultOptions() *Options {
	return &Options{
		Mode:   "wc",
		Logger: zap.NewNop(),
	}
}

// LoadOptions reads a TOML file on top of the defaults.
func LoadOptions(path string) (*Options, error) {
	opt := NewDefaultOptions()
	md, err := toml.DecodeFile(path, opt)
	if err != nil {
		return nil, utils.FromOS(utils.InvalidOperation, err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return nil, utils.Errorf(utils.InvalidOperation, "unknown option %q in %s", keys[0].String(), path)
	}
	if opt.BTree.Comparator != "" {
		if opt.Comparator, err = utils.ComparatorByName(opt.BTree.Comparator); err != nil {
			return nil, err
		}
	}
	if _, err := utils.ParseCompression(opt.Tuning.Compression); err != nil {
		return nil, err
	}
	return opt, nil
}

// config is what one Open works with: the options plus the parameters
// given after '#' in the name.
type config struct {
	mode   utils.OpenMode
	mutex  bool
	tuning utils.Tuning
	lmemb  int
	nmemb  int
	lcnum  int
	ncnum  int
	rcnum  int
	xmsiz  int64
	dfunit int
	cmp    utils.Comparator
	logger *zap.Logger
}

func newConfig(opt *Options) (*config, error) {
	mode, err := utils.ParseMode(opt.Mode)
	if err != nil {
		return nil, err
	}
	comp, err := utils.ParseCompression(opt.Tuning.Compression)
	if err != nil {
		return nil, err
	}
	cmp := opt.Comparator
	if cmp == nil && opt.BTree.Comparator != "" {
		if cmp, err = utils.ComparatorByName(opt.BTree.Comparator); err != nil {
			return nil, err
		}
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &config{
		mode:  mode,
		mutex: opt.Mutex,
		tuning: utils.Tuning{
			Buckets:     opt.Tuning.Buckets,
			AlignPow:    opt.Tuning.AlignPow,
			FreePoolPow: opt.Tuning.FreePoolPow,
			Large:       opt.Tuning.Large,
			Compression: comp,
			Codec:       opt.Codec,
		},
		lmemb:  opt.BTree.LeafMembers,
		nmemb:  opt.BTree.NodeMembers,
		lcnum:  opt.BTree.LeafCache,
		ncnum:  opt.BTree.NodeCache,
		rcnum:  opt.Tuning.RecordCache,
		xmsiz:  opt.Tuning.ExtraMapSize,
		dfunit: opt.Tuning.DefragUnit,
		cmp:    cmp,
		logger: logger,
	}, nil
}

// splitName separates the path from its '#' parameters.
func splitName(name string) (string, []string) {
	parts := strings.Split(name, "#")
	return parts[0], parts[1:]
}

// apply parses parameters of the form key=value, e.g.
// "casket.bdb#mode=wct#lmemb=64#opts=ld".
func (c *config) apply(params []string) error {
	for _, p := range params {
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return utils.Errorf(utils.InvalidOperation, "parameter %q has no value", p)
		}
		if err := c.set(k, v); err != nil {
			return utils.Wrapf(err, "parameter %q", p)
		}
	}
	return nil
}

func (c *config) set(k, v string) error {
	var err error
	switch strings.ToLower(k) {
	case "mode":
		c.mode, err = utils.ParseMode(v)
		return err
	case "bnum":
		c.tuning.Buckets, err = parseInt(v, 64)
	case "apow":
		var n int64
		n, err = parseInt(v, 8)
		c.tuning.AlignPow = int8(n)
	case "fpow":
		var n int64
		n, err = parseInt(v, 8)
		c.tuning.FreePoolPow = int8(n)
	case "opts":
		return c.setOpts(v)
	case "lmemb":
		c.lmemb, err = parseIntN(v)
	case "nmemb":
		c.nmemb, err = parseIntN(v)
	case "lcnum":
		c.lcnum, err = parseIntN(v)
	case "ncnum":
		c.ncnum, err = parseIntN(v)
	case "rcnum":
		c.rcnum, err = parseIntN(v)
	case "xmsiz":
		c.xmsiz, err = parseInt(v, 64)
	case "dfunit":
		c.dfunit, err = parseIntN(v)
	case "mutex":
		c.mutex, err = strconv.ParseBool(v)
		if err != nil {
			return utils.NewError(utils.InvalidOperation, err)
		}
	default:
		return utils.Errorf(utils.InvalidOperation, "unknown parameter %q", k)
	}
	return err
}

// setOpts reads l large, d deflate, b bzip2, t custom, x external.
func (c *config) setOpts(v string) error {
	c.tuning.Large = false
	c.tuning.Compression = utils.CompressNone
	for _, ch := range v {
		switch ch {
		case 'l':
			c.tuning.Large = true
		case 'd':
			c.tuning.Compression = utils.CompressDeflate
		case 'b':
			c.tuning.Compression = utils.CompressBzip2
		case 't':
			c.tuning.Compression = utils.CompressCustom
		case 'x':
			c.tuning.Compression = utils.CompressExternal
		default:
			return utils.Errorf(utils.InvalidOperation, "unknown option letter %q", ch)
		}
	}
	return nil
}

func parseInt(v string, bits int) (int64, error) {
	n, err := strconv.ParseInt(v, 10, bits)
	if err != nil {
		return 0, utils.NewError(utils.InvalidOperation, err)
	}
	return n, nil
}

func parseIntN(v string) (int, error) {
	n, err := parseInt(v, 0)
	return int(n), err
}
