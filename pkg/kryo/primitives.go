package kryo

import (
	"context"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
)

// 内置类型的序列化器。
var (
	BoolSerializer = SerializerFuncs[bool]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v bool) error {
			return writeOnly(w.WriteBool(v))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (bool, error) {
			return r.ReadBool()
		},
	}

	Int8Serializer = SerializerFuncs[int8]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v int8) error {
			return w.WriteByte(byte(v))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (int8, error) {
			b, err := r.ReadByte()
			return int8(b), err
		},
	}

	// CharSerializer 以定长 2 字节读写 UTF-16 码元。
	CharSerializer = SerializerFuncs[uint16]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v uint16) error {
			return writeOnly(w.WriteChar(v))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (uint16, error) {
			return r.ReadChar()
		},
	}

	Int16Serializer = SerializerFuncs[int16]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v int16) error {
			return writeOnly(w.WriteVarInt16(v, false))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (int16, error) {
			return r.ReadVarInt16(false)
		},
	}

	Float32Serializer = SerializerFuncs[float32]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v float32) error {
			return writeOnly(w.WriteFloat32(v))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (float32, error) {
			return r.ReadFloat32()
		},
	}

	Float64Serializer = SerializerFuncs[float64]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v float64) error {
			return writeOnly(w.WriteFloat64(v))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (float64, error) {
			return r.ReadFloat64()
		},
	}

	StringSerializer = SerializerFuncs[string]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v string) error {
			return writeOnly(w.WriteString(v))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (string, error) {
			return r.ReadString()
		},
	}

	// BytesSerializer 写入变长长度后跟原始字节。
	BytesSerializer = SerializerFuncs[[]byte]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v []byte) error {
			if _, err := w.WriteVarInt32(int32(len(v)), true); err != nil {
				return err
			}
			return writeOnly(w.WriteBytes(v))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) ([]byte, error) {
			n, err := r.ReadVarInt32(true)
			if err != nil {
				return nil, err
			}
			return r.ReadBytes(int(n))
		},
	}
)

// Int32Serializer 以变长编码读写 int32，optimizePositive 为 false 时使用 zigzag。
func Int32Serializer(optimizePositive bool) Serializer {
	return SerializerFuncs[int32]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v int32) error {
			return writeOnly(w.WriteVarInt32(v, optimizePositive))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (int32, error) {
			return r.ReadVarInt32(optimizePositive)
		},
	}
}

func Int64Serializer(optimizePositive bool) Serializer {
	return SerializerFuncs[int64]{
		WriteFunc: func(_ context.Context, w *chunk.WriteBuffer, v int64) error {
			return writeOnly(w.WriteVarInt64(v, optimizePositive))
		},
		ReadFunc: func(_ context.Context, r *chunk.ReadBuffer) (int64, error) {
			return r.ReadVarInt64(optimizePositive)
		},
	}
}
