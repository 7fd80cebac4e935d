package kryo

import (
	"context"
	"reflect"

	"google.golang.org/protobuf/proto"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// ProtoSerializer 以 protobuf 二进制格式读写实现了 proto.Message 的类型，
// 数据前写入变长长度。注册类型必须是消息的指针类型。
type ProtoSerializer struct {
	marshal   proto.MarshalOptions
	unmarshal proto.UnmarshalOptions
}

func NewProtoSerializer() *ProtoSerializer {
	return &ProtoSerializer{
		marshal:   proto.MarshalOptions{Deterministic: true},
		unmarshal: proto.UnmarshalOptions{DiscardUnknown: false},
	}
}

func (s *ProtoSerializer) Write(_ context.Context, w *chunk.WriteBuffer, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return merr.WrapErrParameterInvalidMsg("%T does not implement proto.Message", v)
	}
	data, err := s.marshal.Marshal(msg)
	if err != nil {
		return err
	}
	return writeBlob(w, data)
}

func (s *ProtoSerializer) Read(_ context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error) {
	sample, ok := reflect.Zero(t).Interface().(proto.Message)
	if !ok {
		return nil, merr.WrapErrParameterInvalidMsg("%s does not implement proto.Message", t)
	}
	data, err := readBlob(r)
	if err != nil {
		return nil, err
	}
	msg := sample.ProtoReflect().New().Interface()
	if err := s.unmarshal.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// writeBlob 写入变长长度与数据。
func writeBlob(w *chunk.WriteBuffer, data []byte) error {
	return BytesSerializer.WriteFunc(context.Background(), w, data)
}

func readBlob(r *chunk.ReadBuffer) ([]byte, error) {
	return BytesSerializer.ReadFunc(context.Background(), r)
}
