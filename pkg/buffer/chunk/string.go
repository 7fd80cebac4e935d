package chunk

import (
	"unicode/utf8"

	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
	"github.com/lk2023060901/danmu-kryo/pkg/util/varint"
)

// 字符串编码（自终止，不写长度）：
//
//   - 0x01..0x7F 的 ASCII 字符占 1 字节，最后一个字符的字节额外置上 0x80；
//   - 其余字符（NUL、非 ASCII rune、非法 UTF-8 字节）先写一个低 7 位为 0 的转义字节
//     （最后一个字符为 0x80，否则为 0x00），再写无符号变长整数 payload：
//     rune 写 rune+1，非法字节 b 写 rawBytePayload+b；
//   - 空串写作单个结束转义，payload 为 0，即 0x80 0x00。
const (
	lastUnit  byte = 0x80
	asciiMask byte = 0x7f

	emptyPayload   = 0
	rawBytePayload = utf8.MaxRune + 2
	maxPayload     = rawBytePayload + 0xff
)

// StringSize 返回 s 编码后的字节数。
func StringSize(s string) int {
	if len(s) == 0 {
		return 2
	}
	n := 0
	for i := 0; i < len(s); {
		payload, ascii, size := nextUnit(s[i:])
		if ascii {
			n++
		} else {
			n += 1 + varint.SizeUvarint(payload)
		}
		i += size
	}
	return n
}

// AppendString 将 s 的编码追加到 dst 末尾。
func AppendString(dst []byte, s string) []byte {
	if len(s) == 0 {
		return append(dst, lastUnit, emptyPayload)
	}
	for i := 0; i < len(s); {
		payload, ascii, size := nextUnit(s[i:])
		var flag byte
		if i+size == len(s) {
			flag = lastUnit
		}
		if ascii {
			dst = append(dst, byte(payload)|flag)
		} else {
			dst = append(dst, flag)
			dst = varint.AppendUvarint(dst, payload)
		}
		i += size
	}
	return dst
}

// nextUnit 取出 s 头部的一个字符单元。
// ascii 为 true 时 payload 即字节值，否则为转义后的 payload。
func nextUnit(s string) (payload uint32, ascii bool, size int) {
	b := s[0]
	if b > 0 && b < utf8.RuneSelf {
		return uint32(b), true, 1
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size == 1 {
		return rawBytePayload + uint32(b), false, 1
	}
	return uint32(r) + 1, false, size
}

// appendPayload 把转义 payload 还原为字节追加到 dst。
func appendPayload(dst []byte, payload uint64) ([]byte, error) {
	switch {
	case payload == emptyPayload || payload > maxPayload:
		return dst, merr.WrapErrBufferMalformedString(payload)
	case payload >= rawBytePayload:
		return append(dst, byte(payload-rawBytePayload)), nil
	}
	r := rune(payload - 1)
	if !utf8.ValidRune(r) {
		return dst, merr.WrapErrBufferMalformedString(payload)
	}
	return utf8.AppendRune(dst, r), nil
}
