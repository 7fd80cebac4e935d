package kryo

import (
	"context"
	"reflect"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

const lengthPrefixSize = 4

// LengthPrefixedSerializer 在 inner 的数据前写入定长 4 字节的长度。
// 写入时先占位，写完数据后通过 mark 回填长度。
type LengthPrefixedSerializer struct {
	inner Serializer
}

func LengthPrefixed(inner Serializer) *LengthPrefixedSerializer {
	return &LengthPrefixedSerializer{inner: inner}
}

func (s *LengthPrefixedSerializer) Write(ctx context.Context, w *chunk.WriteBuffer, v any) error {
	start := w.Mark()
	if _, err := w.WriteInt32(0); err != nil {
		return err
	}
	if err := s.inner.Write(ctx, w, v); err != nil {
		return err
	}
	end := w.Mark()
	length := int64(end-start) - lengthPrefixSize
	if err := w.PositionToMark(start); err != nil {
		return err
	}
	if _, err := w.WriteInt32(int32(length)); err != nil {
		return err
	}
	return w.PositionToMark(end)
}

func (s *LengthPrefixedSerializer) Read(ctx context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error) {
	length, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, merr.WrapErrParameterInvalidMsg("negative length prefix %d", length)
	}
	start := r.Position()
	v, err := s.inner.Read(ctx, r, t)
	if err != nil {
		return nil, err
	}
	if consumed := r.Position() - start; consumed != int64(length) {
		return nil, merr.WrapErrParameterInvalidMsg("length prefix %d does not match consumed %d bytes", length, consumed)
	}
	return v, nil
}
