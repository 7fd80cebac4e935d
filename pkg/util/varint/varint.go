// Package varint 实现以 7 bit 为一组的变长整数编码。
//
// 编码格式：
//   - 小端序分组，每个字节携带 7 bit 有效数据；
//   - 除最后一个字节外，其余字节最高位（0x80）置 1，表示后续还有数据；
//   - optimizePositive=true 时直接编码原始无符号位模式，非负小整数最短，
//     负数则固定占满 5 字节（32 位）或 10 字节（64 位）；
//   - optimizePositive=false 时先做 zig-zag 变换，绝对值较小的负数同样很短。
package varint

import (
	"golang.org/x/exp/constraints"

	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

const (
	// MaxLen32 32 位变长整数的最大字节数。
	MaxLen32 = 5
	// MaxLen64 64 位变长整数的最大字节数。
	MaxLen64 = 10
)

func ZigZag32(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

func UnZigZag32(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

func ZigZag64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func UnZigZag64(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// SizeUvarint 返回无符号整数 u 编码后的字节数。
func SizeUvarint[T constraints.Unsigned](u T) int {
	n := 1
	for x := uint64(u); x >= 0x80; x >>= 7 {
		n++
	}
	return n
}

// Size32 返回 v 在给定模式下编码后的字节数，结果位于 [1, 5]。
func Size32(v int32, optimizePositive bool) int {
	return SizeUvarint(encode32(v, optimizePositive))
}

// Size64 返回 v 在给定模式下编码后的字节数，结果位于 [1, 10]。
func Size64(v int64, optimizePositive bool) int {
	return SizeUvarint(encode64(v, optimizePositive))
}

// AppendUvarint 将 u 追加到 dst 末尾。
func AppendUvarint[T constraints.Unsigned](dst []byte, u T) []byte {
	x := uint64(u)
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}

func Append32(dst []byte, v int32, optimizePositive bool) []byte {
	return AppendUvarint(dst, encode32(v, optimizePositive))
}

func Append64(dst []byte, v int64, optimizePositive bool) []byte {
	return AppendUvarint(dst, encode64(v, optimizePositive))
}

// DecodeUvarint 从 buf 头部解码一个最多 maxLen 字节的无符号变长整数。
//
// 返回值：
//   - n > 0：成功，消耗了 n 个字节；
//   - n == 0 且 err == nil：buf 中的数据还不完整，需要更多字节；
//   - err != nil：超过 maxLen 个字节仍有延续位，数据已损坏。
func DecodeUvarint(buf []byte, maxLen int) (uint64, int, error) {
	var x uint64
	var shift uint
	for i, b := range buf {
		if i == maxLen {
			return 0, 0, merr.WrapErrBufferMalformedVarint(maxLen * 7)
		}
		x |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return x, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, nil
}

func Decode32(buf []byte, optimizePositive bool) (int32, int, error) {
	u, n, err := DecodeUvarint(buf, MaxLen32)
	if n == 0 {
		return 0, 0, err
	}
	return decode32(uint32(u), optimizePositive), n, nil
}

func Decode64(buf []byte, optimizePositive bool) (int64, int, error) {
	u, n, err := DecodeUvarint(buf, MaxLen64)
	if n == 0 {
		return 0, 0, err
	}
	return decode64(u, optimizePositive), n, nil
}

// Complete 判断 buf 头部是否已经包含一个完整的变长整数，不做解码。
func Complete(buf []byte, maxLen int) (bool, error) {
	for i, b := range buf {
		if i == maxLen {
			break
		}
		if b < 0x80 {
			return true, nil
		}
	}
	if len(buf) >= maxLen {
		return false, merr.WrapErrBufferMalformedVarint(maxLen * 7)
	}
	return false, nil
}

func encode32(v int32, optimizePositive bool) uint32 {
	if optimizePositive {
		return uint32(v)
	}
	return ZigZag32(v)
}

func decode32(u uint32, optimizePositive bool) int32 {
	if optimizePositive {
		return int32(u)
	}
	return UnZigZag32(u)
}

func encode64(v int64, optimizePositive bool) uint64 {
	if optimizePositive {
		return uint64(v)
	}
	return ZigZag64(v)
}

func decode64(u uint64, optimizePositive bool) int64 {
	if optimizePositive {
		return int64(u)
	}
	return UnZigZag64(u)
}
