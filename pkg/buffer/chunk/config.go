// Package chunk 实现分块（chunk 链）的读写缓冲区。
//
// 写缓冲区按需追加 chunk，支持 mark/回退覆写（回填长度前缀等场景），
// 以及按 chunk 流式弹出已经写完的数据；读缓冲区通过 Filler 按需补充数据，
// 在核心窗口与未释放 mark 之外的 chunk 会被淘汰并进入池中复用。
//
// 两种缓冲区都不是并发安全的，同一实例只能由一个协程使用。
package chunk

import (
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// NoLimit 表示对应的数量上限不生效。
const NoLimit = -1

const (
	defaultInitialSize = 4096
	defaultCoreChunks  = 1
	defaultMaxPoolSize = 8
)

// Config 描述 chunk 的尺寸策略与数量限制，读写缓冲区共用。
//
// 尺寸策略：
//   - 第一个 chunk 的容量为 InitialSize；
//   - GrowthSizes 非空时，后续 chunk 依次使用其中的尺寸，用完后重复最后一个；
//   - 否则后续 chunk 容量为上一个 chunk 容量加 Increment（0 表示保持不变）；
//   - MaxChunkSize > 0 时，以上结果都不会超过它。
type Config struct {
	InitialSize  int   `mapstructure:"initialsize" yaml:"initialsize" json:"initialsize"`
	GrowthSizes  []int `mapstructure:"growthsizes" yaml:"growthsizes" json:"growthsizes"`
	Increment    int   `mapstructure:"increment" yaml:"increment" json:"increment"`
	MaxChunkSize int   `mapstructure:"maxchunksize" yaml:"maxchunksize" json:"maxchunksize"`
	// MaxChunks 为同时存活的 chunk 数上限，<= 0 表示不限。
	MaxChunks int `mapstructure:"maxchunks" yaml:"maxchunks" json:"maxchunks"`

	// 以下两项只对读缓冲区生效。

	// CoreChunks 为游标所在 chunk 及其之前始终保留的 chunk 数，最小为 1。
	CoreChunks int `mapstructure:"corechunks" yaml:"corechunks" json:"corechunks"`
	// MaxPoolSize 为淘汰 chunk 复用池的容量，NoLimit 表示不限，0 表示不复用。
	MaxPoolSize int `mapstructure:"maxpoolsize" yaml:"maxpoolsize" json:"maxpoolsize"`
}

// DefaultConfig 返回一份可直接使用的默认配置。
func DefaultConfig() Config {
	return Config{
		InitialSize: defaultInitialSize,
		MaxChunks:   NoLimit,
		CoreChunks:  defaultCoreChunks,
		MaxPoolSize: defaultMaxPoolSize,
	}
}

// Validate 检查配置是否合法。
func (c Config) Validate() error {
	if c.InitialSize <= 0 {
		return merr.WrapErrParameterInvalidMsg("chunk initial size must be positive, got %d", c.InitialSize)
	}
	for _, size := range c.GrowthSizes {
		if size <= 0 {
			return merr.WrapErrParameterInvalidMsg("chunk growth size must be positive, got %d", size)
		}
	}
	if c.Increment < 0 {
		return merr.WrapErrParameterInvalidMsg("chunk increment must not be negative, got %d", c.Increment)
	}
	if c.MaxChunkSize < 0 {
		return merr.WrapErrParameterInvalidMsg("max chunk size must not be negative, got %d", c.MaxChunkSize)
	}
	if c.CoreChunks < 0 {
		return merr.WrapErrParameterInvalidMsg("core chunks must not be negative, got %d", c.CoreChunks)
	}
	if c.MaxChunks > 0 && c.coreChunks() > c.MaxChunks {
		return merr.WrapErrParameterInvalidRange(1, c.MaxChunks, c.CoreChunks, "core chunks exceed max chunks")
	}
	if c.MaxPoolSize < NoLimit {
		return merr.WrapErrParameterInvalidMsg("max pool size must be >= %d, got %d", NoLimit, c.MaxPoolSize)
	}
	return nil
}

func (c Config) limited() bool {
	return c.MaxChunks > 0
}

func (c Config) coreChunks() int {
	if c.CoreChunks < 1 {
		return 1
	}
	return c.CoreChunks
}

func (c Config) poolable(pooled int) bool {
	return c.MaxPoolSize == NoLimit || pooled < c.MaxPoolSize
}

// sizer 按 Config 的尺寸策略依次给出每个新 chunk 的容量。
type sizer struct {
	cfg  Config
	k    int
	prev int
}

func (s *sizer) peek() int {
	var size int
	switch {
	case s.k == 0:
		size = s.cfg.InitialSize
	case len(s.cfg.GrowthSizes) > 0:
		size = s.cfg.GrowthSizes[min(s.k-1, len(s.cfg.GrowthSizes)-1)]
	default:
		size = s.prev + s.cfg.Increment
	}
	if s.cfg.MaxChunkSize > 0 && size > s.cfg.MaxChunkSize {
		size = s.cfg.MaxChunkSize
	}
	return size
}

func (s *sizer) next() int {
	size := s.peek()
	s.k++
	s.prev = size
	return size
}

func (s *sizer) reset() {
	s.k = 0
	s.prev = 0
}
