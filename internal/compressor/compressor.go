// Package compressor 提供整块数据的压缩/解压实现，供压缩序列化器使用。
package compressor

import (
	"strings"

	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// Compressor 抽象了“单次压缩/解压”能力。
//
// 实现需要允许多个协程并发调用，序列化器之间会共享同一个实例。
type Compressor interface {
	// Compress 将 src 压缩后追加到 dst[:0]，dst 可为 nil，返回压缩后的完整数据。
	Compress(dst, src []byte) ([]byte, error)

	// Decompress 与 Compress 对称，src 必须是 Compress 的输出。
	Decompress(dst, src []byte) ([]byte, error)

	// Name 返回算法名，与配置中的取值一致。
	Name() string
}

const (
	NameNone = "none"
	NameZstd = "zstd"
)

// New 按名称创建压缩器，空串等同于 NameNone。
func New(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", NameNone:
		return NopCompressor{}, nil
	case NameZstd:
		return NewZstdCompressor()
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unknown compressor %q", name)
	}
}

// NopCompressor 是一个空实现：不做任何压缩/解压，直接返回输入内容。
type NopCompressor struct{}

func (NopCompressor) Compress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

func (NopCompressor) Decompress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

func (NopCompressor) Name() string {
	return NameNone
}

var _ Compressor = NopCompressor{}
