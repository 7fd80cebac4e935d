package loopback

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/kryo"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

func TestPipeStreaming(t *testing.T) {
	const count = 2000
	k := kryo.New()
	pipe := NewPipe()

	cfg := chunk.DefaultConfig()
	cfg.InitialSize = 16
	cfg.MaxChunks = 4

	var g errgroup.Group
	g.Go(func() error {
		defer pipe.Close()
		w, err := chunk.NewWriteBuffer(cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()
		for i := 0; i < count; i++ {
			if err := k.WriteClassAndObject(ctx, w, int64(i)*7919); err != nil {
				return err
			}
			if err := k.WriteClassAndObject(ctx, w, "v"); err != nil {
				return err
			}
			// 及时送出写满的 chunk，写缓冲区的 chunk 数保持在上限内。
			if _, err := pipe.SendReady(w); err != nil {
				return err
			}
		}
		_, err = pipe.Send(w)
		return err
	})

	readCfg := chunk.DefaultConfig()
	readCfg.InitialSize = 8
	readCfg.MaxChunks = 8
	r, err := chunk.NewReadBuffer(readCfg, pipe)
	require.NoError(t, err)
	for i := 0; i < count; i++ {
		got, err := k.ReadClassAndObject(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, int64(i)*7919, got)
		got, err = k.ReadClassAndObject(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	}
	require.NoError(t, g.Wait())

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrBufferUnexpectedEOD)
	assert.Equal(t, 0, pipe.Buffered())
}

func TestPipeClose(t *testing.T) {
	pipe := NewPipe()
	n, err := pipe.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, pipe.Close())
	require.NoError(t, pipe.Close())

	_, err = pipe.Write([]byte("d"))
	assert.ErrorIs(t, err, merr.ErrIoFailed)
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	// 关闭后仍能读完剩余数据。
	p := make([]byte, 8)
	n, err = pipe.Fill(p)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(p[:n]))
	_, err = pipe.Fill(p)
	assert.ErrorIs(t, err, io.EOF)
	_, err = pipe.Fill(p)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipeCloseWithError(t *testing.T) {
	pipe := NewPipe()
	var g errgroup.Group
	g.Go(func() error {
		_, err := pipe.Fill(make([]byte, 4))
		return err
	})
	require.NoError(t, pipe.CloseWithError(assert.AnError))
	assert.ErrorIs(t, g.Wait(), assert.AnError)

	r, err := chunk.NewReadBuffer(chunk.DefaultConfig(), pipe)
	require.NoError(t, err)
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrIoFailed)
}
