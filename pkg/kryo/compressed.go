package kryo

import (
	"context"
	"reflect"

	"github.com/lk2023060901/danmu-kryo/internal/compressor"
	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
)

// CompressedSerializer 先用 inner 写入临时缓冲区，压缩后作为长度前缀的数据块写出。
type CompressedSerializer struct {
	inner      Serializer
	compressor compressor.Compressor
	cfg        chunk.Config
}

// Compressed 用 c 包装 inner。c 需要支持并发调用。
func Compressed(inner Serializer, c compressor.Compressor) *CompressedSerializer {
	return &CompressedSerializer{
		inner:      inner,
		compressor: c,
		cfg:        chunk.DefaultConfig(),
	}
}

func (s *CompressedSerializer) Write(ctx context.Context, w *chunk.WriteBuffer, v any) error {
	tmp, err := chunk.NewWriteBuffer(s.cfg)
	if err != nil {
		return err
	}
	if err := s.inner.Write(ctx, tmp, v); err != nil {
		return err
	}
	packed, err := s.compressor.Compress(nil, tmp.Bytes())
	if err != nil {
		return err
	}
	return writeBlob(w, packed)
}

func (s *CompressedSerializer) Read(ctx context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error) {
	packed, err := readBlob(r)
	if err != nil {
		return nil, err
	}
	raw, err := s.compressor.Decompress(nil, packed)
	if err != nil {
		return nil, err
	}
	return s.inner.Read(ctx, chunk.NewReadBufferBytes(raw), t)
}
