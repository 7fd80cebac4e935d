// Package loopback 提供进程内的字节管道：一端接收 WriteBuffer 弹出的 chunk，
// 另一端作为 ReadBuffer 的 Filler 被动补充数据，用于流式编解码与测试。
package loopback

import (
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/buffer/ring"
	"github.com/lk2023060901/danmu-kryo/pkg/log"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// Pipe 是一个无上限的内存管道，写端与读端可以位于不同协程。
// 写入的数据暂存在环形缓冲区中，Fill 在没有数据时阻塞。
type Pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    *ring.Buffer
	closed bool
	err    error

	written int64
	read    int64
	log.Binder
}

var _ chunk.Filler = (*Pipe)(nil)

func NewPipe() *Pipe {
	p := &Pipe{buf: ring.Get()}
	p.cond = sync.NewCond(&p.mu)
	p.SetLogger(log.With(log.FieldComponent("loopback")))
	return p
}

// Write 实现 io.Writer，管道关闭后返回 merr.ErrIoFailed。
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, merr.WrapErrIoFailed("loopback", io.ErrClosedPipe)
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, _ := p.buf.Write(b)
	p.written += int64(n)
	p.cond.Broadcast()
	return n, nil
}

// SendReady 把 w 中已经写满的 chunk 送入管道，不会 Flush，返回发送的字节数。
func (p *Pipe) SendReady(w *chunk.WriteBuffer) (int64, error) {
	var total int64
	for b := w.PopBytes(); b != nil; b = w.PopBytes() {
		n, err := p.Write(b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Send 先 Flush w，再把其中全部可弹出的数据送入管道。
func (p *Pipe) Send(w *chunk.WriteBuffer) (int64, error) {
	return w.WriteTo(p)
}

// Fill 实现 chunk.Filler。没有数据时阻塞，管道关闭且数据读完后返回 io.EOF，
// 以 CloseWithError 关闭时返回对应错误。
func (p *Pipe) Fill(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf != nil && p.buf.IsEmpty() && !p.closed {
		p.cond.Wait()
	}
	if p.buf == nil || p.buf.IsEmpty() {
		p.release()
		if p.err != nil {
			return 0, p.err
		}
		return 0, io.EOF
	}
	n, _ := p.buf.Read(b)
	p.read += int64(n)
	return n, nil
}

// Buffered 返回已写入但尚未被读取的字节数。
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf == nil {
		return 0
	}
	return p.buf.Buffered()
}

// Close 关闭写端，读端读完剩余数据后得到 io.EOF。重复关闭无效果。
func (p *Pipe) Close() error {
	return p.CloseWithError(nil)
}

// CloseWithError 关闭写端，读端读完剩余数据后得到 err，err 为 nil 时等同于 Close。
func (p *Pipe) CloseWithError(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.err = err
	p.Logger().Debug("loopback pipe closed",
		zap.Int64("written", p.written), zap.Int64("read", p.read), zap.Error(err))
	if p.buf.IsEmpty() {
		p.release()
	}
	p.cond.Broadcast()
	return nil
}

// release 把环形缓冲区还给池，调用方持有锁。
func (p *Pipe) release() {
	if p.buf == nil {
		return
	}
	ring.Put(p.buf)
	p.buf = nil
}
