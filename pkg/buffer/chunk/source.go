package chunk

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-kryo/pkg/util/retry"
)

// Filler 是读缓冲区的数据源。
//
// Fill 向 p 中写入最多 len(p) 个字节并返回写入数；返回 io.EOF 表示数据已经结束，
// 此时 n 仍可能大于 0。其他错误会被读缓冲区包装为 merr.ErrIoFailed 返回给调用方，
// 缓冲区状态保持一致，调用方可以稍后重试。
type Filler interface {
	Fill(p []byte) (int, error)
}

// FillFunc 让普通函数满足 Filler。
type FillFunc func(p []byte) (int, error)

func (f FillFunc) Fill(p []byte) (int, error) {
	return f(p)
}

// ReaderFiller 把 io.Reader 适配为 Filler。
func ReaderFiller(r io.Reader) Filler {
	return FillFunc(r.Read)
}

// BytesFiller 依次吐出 data 中的字节，结束后返回 io.EOF。
func BytesFiller(data []byte) Filler {
	return FillFunc(func(p []byte) (int, error) {
		if len(data) == 0 {
			return 0, io.EOF
		}
		n := copy(p, data)
		data = data[n:]
		return n, nil
	})
}

// RetryFiller 在 src 没有读到任何数据且返回临时错误时按 opts 重试。
// io.EOF 与读到部分数据的情况直接返回，不做重试。
func RetryFiller(ctx context.Context, src Filler, opts ...retry.Option) Filler {
	final := func(n int, err error) bool {
		return err == nil || n > 0 || errors.Is(err, io.EOF)
	}
	return FillFunc(func(p []byte) (int, error) {
		n, err := src.Fill(p)
		if final(n, err) {
			return n, err
		}
		err = retry.Handle(ctx, func() (bool, error) {
			var fillErr error
			n, fillErr = src.Fill(p)
			return !final(n, fillErr), fillErr
		}, opts...)
		return n, err
	})
}
