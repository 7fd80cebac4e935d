package kryo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// Serializer 负责某一类型对象数据的读写，不包含类型 id 与空标记。
type Serializer interface {
	Write(ctx context.Context, w *chunk.WriteBuffer, v any) error
	// Read 读取 t 类型的对象，t 为注册时使用的类型。
	Read(ctx context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error)
}

// SerializerFuncs 以一对类型化函数实现 Serializer。
type SerializerFuncs[T any] struct {
	WriteFunc func(ctx context.Context, w *chunk.WriteBuffer, v T) error
	ReadFunc  func(ctx context.Context, r *chunk.ReadBuffer) (T, error)
}

var _ Serializer = SerializerFuncs[int]{}

func (s SerializerFuncs[T]) Write(ctx context.Context, w *chunk.WriteBuffer, v any) error {
	tv, ok := v.(T)
	if !ok {
		var zero T
		return merr.WrapErrParameterInvalid(fmt.Sprintf("%T", zero), fmt.Sprintf("%T", v), "unexpected value type")
	}
	return s.WriteFunc(ctx, w, tv)
}

func (s SerializerFuncs[T]) Read(ctx context.Context, r *chunk.ReadBuffer, _ reflect.Type) (any, error) {
	return s.ReadFunc(ctx, r)
}

// writeOnly 丢弃 WriteBuffer 方法返回的字节数。
func writeOnly(_ int, err error) error {
	return err
}
