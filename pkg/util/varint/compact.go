package varint

import (
	"encoding/binary"
	"math"

	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// 16 位整数的紧凑格式：落在单字节区间内的值直接写一个字节，
// 否则写一个标记字节，再跟 2 字节大端序原值。
const (
	markerPositive byte = 0xff
	markerSigned   byte = 0x80

	// MaxLen16 紧凑 16 位整数的最大字节数。
	MaxLen16 = 3
)

// Size16 返回 v 在紧凑格式下的字节数（1 或 3）。
//
//   - optimizePositive=true ：0..254 占 1 字节；
//   - optimizePositive=false：-127..127 占 1 字节。
func Size16(v int16, optimizePositive bool) int {
	if fits16(v, optimizePositive) {
		return 1
	}
	return MaxLen16
}

func Append16(dst []byte, v int16, optimizePositive bool) []byte {
	if fits16(v, optimizePositive) {
		return append(dst, byte(v))
	}
	if optimizePositive {
		dst = append(dst, markerPositive)
	} else {
		dst = append(dst, markerSigned)
	}
	return binary.BigEndian.AppendUint16(dst, uint16(v))
}

// Decode16 与 Decode32 语义一致：n == 0 且 err == nil 表示数据不足。
func Decode16(buf []byte, optimizePositive bool) (int16, int, error) {
	if len(buf) == 0 {
		return 0, 0, nil
	}
	b := buf[0]
	marker := markerSigned
	if optimizePositive {
		marker = markerPositive
	}
	if b != marker {
		if optimizePositive {
			return int16(b), 1, nil
		}
		return int16(int8(b)), 1, nil
	}
	if len(buf) < MaxLen16 {
		return 0, 0, nil
	}
	return int16(binary.BigEndian.Uint16(buf[1:3])), MaxLen16, nil
}

func fits16(v int16, optimizePositive bool) bool {
	if optimizePositive {
		return v >= 0 && v < int16(markerPositive)
	}
	return v >= -127 && v <= 127
}

// ScaleFloat32 将 v 乘以 precision 后四舍五入为整数，用于按精度压缩浮点数。
// 量化步长为 1/precision，结果超出 int32 范围时按饱和处理。
func ScaleFloat32(v float32, precision int32) (int32, error) {
	if precision <= 0 {
		return 0, merr.WrapErrParameterInvalidMsg("precision must be positive, got %d", precision)
	}
	scaled := math.Round(float64(v) * float64(precision))
	switch {
	case scaled >= math.MaxInt32:
		return math.MaxInt32, nil
	case scaled <= math.MinInt32:
		return math.MinInt32, nil
	case math.IsNaN(scaled):
		return 0, nil
	}
	return int32(scaled), nil
}

func UnscaleFloat32(i int32, precision int32) (float32, error) {
	if precision <= 0 {
		return 0, merr.WrapErrParameterInvalidMsg("precision must be positive, got %d", precision)
	}
	return float32(float64(i) / float64(precision)), nil
}

func ScaleFloat64(v float64, precision int64) (int64, error) {
	if precision <= 0 {
		return 0, merr.WrapErrParameterInvalidMsg("precision must be positive, got %d", precision)
	}
	scaled := math.Round(v * float64(precision))
	switch {
	case scaled >= math.MaxInt64:
		return math.MaxInt64, nil
	case scaled <= math.MinInt64:
		return math.MinInt64, nil
	case math.IsNaN(scaled):
		return 0, nil
	}
	return int64(scaled), nil
}

func UnscaleFloat64(i int64, precision int64) (float64, error) {
	if precision <= 0 {
		return 0, merr.WrapErrParameterInvalidMsg("precision must be positive, got %d", precision)
	}
	return float64(i) / float64(precision), nil
}
