// Copyright (c) 2019 The Gnet Authors. All rights reserved.
// Copyright (c) 2019 Chao yuepan, Allen Xu
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE

// Package ring 实现按需扩容的字节环形队列，用作内存管道中 chunk 的暂存区。
//
// Buffer 本身不是并发安全的，由持有者负责加锁。
package ring

import (
	"io"
	"math/bits"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultBufferSize 是首次扩容时的最小容量。
	DefaultBufferSize   = 1024     // 1KB
	bufferGrowThreshold = 4 * 1024 // 4KB
)

// ErrIsEmpty 表示队列中没有可读数据。
var ErrIsEmpty = errors.New("ring-buffer is empty")

// Buffer 是容量为 2 的幂的字节环形队列。
// head 为下一个读取位置，n 为可读字节数，写入位置由二者推出。
type Buffer struct {
	buf  []byte
	head int
	n    int
}

// New 创建初始容量至少为 size 的 Buffer，size 为 0 时延迟到首次写入再分配。
func New(size int) *Buffer {
	if size <= 0 {
		return &Buffer{}
	}
	return &Buffer{buf: make([]byte, ceilToPowerOfTwo(size))}
}

func (rb *Buffer) mask(i int) int {
	return i & (len(rb.buf) - 1)
}

// Buffered 返回可读字节数。
func (rb *Buffer) Buffered() int {
	return rb.n
}

// Cap 返回底层数组的容量。
func (rb *Buffer) Cap() int {
	return len(rb.buf)
}

// Available 返回不扩容时还能写入的字节数。
func (rb *Buffer) Available() int {
	return len(rb.buf) - rb.n
}

func (rb *Buffer) IsEmpty() bool {
	return rb.n == 0
}

// Peek 返回最多 n 个可读字节但不移动读位置，n <= 0 表示全部。
// 数据跨越数组末尾时分成 head、tail 两段返回，二者都引用内部数组。
func (rb *Buffer) Peek(n int) (head []byte, tail []byte) {
	if n <= 0 || n > rb.n {
		n = rb.n
	}
	if n == 0 {
		return nil, nil
	}
	end := rb.head + n
	if end <= len(rb.buf) {
		return rb.buf[rb.head:end], nil
	}
	return rb.buf[rb.head:], rb.buf[:end-len(rb.buf)]
}

// Discard 丢弃最多 n 个可读字节，返回实际丢弃数。
func (rb *Buffer) Discard(n int) int {
	if n <= 0 {
		return 0
	}
	if n >= rb.n {
		n = rb.n
		rb.Reset()
		return n
	}
	rb.head = rb.mask(rb.head + n)
	rb.n -= n
	return n
}

// Read 实现 io.Reader，队列为空时返回 ErrIsEmpty。
func (rb *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if rb.n == 0 {
		return 0, ErrIsEmpty
	}
	head, tail := rb.Peek(len(p))
	n := copy(p, head)
	n += copy(p[n:], tail)
	rb.Discard(n)
	return n, nil
}

// Write 实现 io.Writer，空间不足时自动扩容，总是写入全部数据。
func (rb *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > rb.Available() {
		rb.grow(rb.n + len(p))
	}
	w := rb.mask(rb.head + rb.n)
	k := copy(rb.buf[w:], p)
	copy(rb.buf, p[k:])
	rb.n += len(p)
	return len(p), nil
}

// WriteTo 实现 io.WriterTo，把全部可读数据写入 w。
func (rb *Buffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for rb.n > 0 {
		head, _ := rb.Peek(0)
		n, err := w.Write(head)
		total += int64(n)
		rb.Discard(n)
		if err != nil {
			return total, err
		}
		if n < len(head) {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// Reset 清空数据，保留底层数组。
func (rb *Buffer) Reset() {
	rb.head = 0
	rb.n = 0
}

// grow 扩容到至少 need 字节：小容量时翻倍，超过阈值后每次增加 1/4，结果取 2 的幂。
func (rb *Buffer) grow(need int) {
	size := len(rb.buf)
	switch {
	case size == 0:
		size = DefaultBufferSize
	case size < bufferGrowThreshold:
		size *= 2
	default:
		size += size / 4
	}
	size = ceilToPowerOfTwo(max(size, need))

	buf := make([]byte, size)
	head, tail := rb.Peek(0)
	n := copy(buf, head)
	copy(buf[n:], tail)
	rb.buf = buf
	rb.head = 0
}

// ceilToPowerOfTwo 将 n 向上取整为 2 的幂。
func ceilToPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}
