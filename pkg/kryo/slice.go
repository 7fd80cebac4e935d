package kryo

import (
	"context"
	"reflect"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// SliceSerializer 读写元素类型已注册的切片：先写元素个数，再逐个写元素。
// 元素类型为接口时每个元素带类型 id，否则按 WriteObject 写入。
type SliceSerializer struct {
	kryo *Kryo
}

func NewSliceSerializer(k *Kryo) *SliceSerializer {
	return &SliceSerializer{kryo: k}
}

func (s *SliceSerializer) Write(ctx context.Context, w *chunk.WriteBuffer, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return merr.WrapErrParameterInvalidMsg("%T is not a slice", v)
	}
	if _, err := w.WriteVarInt32(int32(rv.Len()), true); err != nil {
		return err
	}
	dynamic := rv.Type().Elem().Kind() == reflect.Interface
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		var err error
		if dynamic {
			err = s.kryo.WriteClassAndObject(ctx, w, elem)
		} else {
			err = s.kryo.WriteObject(ctx, w, elem)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SliceSerializer) Read(ctx context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error) {
	if t.Kind() != reflect.Slice {
		return nil, merr.WrapErrParameterInvalidMsg("%s is not a slice", t)
	}
	n, err := r.ReadVarInt32(true)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, merr.WrapErrParameterInvalidMsg("negative slice length %d", n)
	}

	elemType := t.Elem()
	dynamic := elemType.Kind() == reflect.Interface
	// 长度来自输入，预分配不超过已缓冲的字节数。
	out := reflect.MakeSlice(t, 0, min(int(n), r.Buffered()))
	for i := 0; i < int(n); i++ {
		var elem any
		if dynamic {
			elem, err = s.kryo.ReadClassAndObject(ctx, r)
		} else {
			elem, err = s.kryo.ReadObject(ctx, r, elemType)
		}
		if err != nil {
			return nil, err
		}
		if elem == nil {
			out = reflect.Append(out, reflect.Zero(elemType))
			continue
		}
		out = reflect.Append(out, reflect.ValueOf(elem))
	}
	return out.Interface(), nil
}
