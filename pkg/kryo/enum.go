package kryo

import (
	"context"
	"reflect"

	"golang.org/x/exp/constraints"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// EnumSerializer 以序号读写取值范围为 [0, count) 的枚举类型。
type EnumSerializer[T constraints.Integer] struct {
	count int
}

func NewEnumSerializer[T constraints.Integer](count int) *EnumSerializer[T] {
	if count <= 0 {
		panic(merr.WrapErrParameterInvalidMsg("enum count must be positive, got %d", count))
	}
	return &EnumSerializer[T]{count: count}
}

func (s *EnumSerializer[T]) Write(_ context.Context, w *chunk.WriteBuffer, v any) error {
	e, ok := v.(T)
	if !ok {
		return merr.WrapErrParameterInvalidMsg("enum value has type %T", v)
	}
	ordinal := int64(e)
	if ordinal < 0 || ordinal >= int64(s.count) {
		return merr.WrapErrParameterInvalidRange(0, int64(s.count)-1, ordinal, "enum ordinal out of range")
	}
	return writeOnly(w.WriteVarInt32(int32(ordinal), true))
}

func (s *EnumSerializer[T]) Read(_ context.Context, r *chunk.ReadBuffer, _ reflect.Type) (any, error) {
	ordinal, err := r.ReadVarInt32(true)
	if err != nil {
		return nil, err
	}
	if ordinal < 0 || int(ordinal) >= s.count {
		return nil, merr.WrapErrParameterInvalidRange(0, int32(s.count)-1, ordinal, "enum ordinal out of range")
	}
	return T(ordinal), nil
}
