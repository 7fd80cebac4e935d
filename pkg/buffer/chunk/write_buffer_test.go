package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

func seq(from, to byte) []byte {
	out := make([]byte, 0, int(to-from)+1)
	for b := from; b <= to; b++ {
		out = append(out, b)
	}
	return out
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func smallChunks(size, maxChunks int) Config {
	cfg := DefaultConfig()
	cfg.InitialSize = size
	cfg.MaxChunks = maxChunks
	return cfg
}

func TestWriteBuffer_Grow(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(4, 16))
	parts := [][]byte{seq(11, 26), seq(31, 46), seq(51, 58), seq(61, 65)}
	for _, p := range parts {
		n, err := w.WriteBytes(p)
		require.NoError(t, err)
		assert.Equal(t, len(p), n)
	}
	require.NoError(t, w.Flush())

	assert.Equal(t, concat(parts...), w.Bytes())
	assert.Equal(t, int64(45), w.Len())
	assert.Equal(t, 12, w.Chunks())
}

func TestWriteBuffer_Pop(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(4, 16))
	expected := concat(seq(11, 26), seq(31, 46), seq(51, 58), seq(61, 64))
	_, err := w.WriteBytes(expected)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.Len(t, w.Bytes(), len(expected))

	var got []byte
	for p := w.PopBytes(); p != nil; p = w.PopBytes() {
		assert.Len(t, p, 4)
		got = append(got, p...)
	}
	assert.Equal(t, expected, got)
	assert.Equal(t, 0, w.Chunks())
	assert.Equal(t, int64(len(expected)), w.Position())
}

func TestWriteBuffer_PopPartial(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(4, NoLimit))
	_, err := w.WriteBytes(seq(1, 6))
	require.NoError(t, err)

	assert.Equal(t, seq(1, 4), w.PopBytes())
	// 未 Flush 的尾部 chunk 不能弹出。
	assert.Nil(t, w.PopBytes())

	require.NoError(t, w.Flush())
	assert.Equal(t, seq(5, 6), w.PopBytes())
	assert.Nil(t, w.PopBytes())

	// 继续写入从弹出位置之后开始。
	require.NoError(t, w.WriteByte(7))
	assert.Equal(t, int64(7), w.Position())
	assert.Nil(t, w.PopBytes())
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{7}, w.PopBytes())
}

func TestWriteBuffer_PopKeepsCursorChunk(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(4, NoLimit))
	_, err := w.WriteBytes(seq(1, 8))
	require.NoError(t, err)
	require.NoError(t, w.PositionToMark(2))

	// 游标位于第一个 chunk 内部，不能弹出。
	assert.Nil(t, w.PopBytes())

	require.NoError(t, w.PositionToMark(4))
	assert.Equal(t, seq(1, 4), w.PopBytes())
	assert.Equal(t, int64(4), w.Position())
}

func runWriteMarks(t *testing.T, cfg Config) {
	w := MustNewWriteBuffer(cfg)
	_, err := w.WriteBytes(seq(11, 26))
	require.NoError(t, err)

	start := w.Mark()
	_, err = w.WriteBytes(seq(31, 46))
	require.NoError(t, err)
	end := w.Mark()

	require.NoError(t, w.PositionToMark(start))
	_, err = w.WriteBytes(seq(51, 58))
	require.NoError(t, err)
	require.NoError(t, w.PositionToMark(end))

	_, err = w.WriteBytes(seq(61, 65))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	assert.Equal(t, concat(seq(11, 26), seq(51, 58), seq(39, 46), seq(61, 65)), w.Bytes())
}

func TestWriteBuffer_Marks(t *testing.T) {
	t.Run("single chunk", func(t *testing.T) {
		runWriteMarks(t, smallChunks(512, NoLimit))
	})
	t.Run("two byte chunks", func(t *testing.T) {
		runWriteMarks(t, smallChunks(2, 100))
	})
	t.Run("three byte chunks", func(t *testing.T) {
		runWriteMarks(t, smallChunks(3, 100))
	})
}

func TestWriteBuffer_Overwrite(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(3, NoLimit))
	_, err := w.WriteBytes(seq(1, 10))
	require.NoError(t, err)
	require.NoError(t, w.PositionToMark(2))
	_, err = w.WriteBytes([]byte{0xAA, 0xBB})
	require.NoError(t, err)

	// 覆写不会截断已写入的数据。
	assert.Equal(t, int64(10), w.Len())
	assert.Equal(t, int64(4), w.Position())
	assert.Equal(t, []byte{1, 2, 0xAA, 0xBB, 5, 6, 7, 8, 9, 10}, w.Bytes())
}

func TestWriteBuffer_InvalidMark(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(4, NoLimit))
	_, err := w.WriteBytes(seq(1, 8))
	require.NoError(t, err)

	err = w.PositionToMark(9)
	assert.ErrorIs(t, err, merr.ErrBufferInvalidMark)

	require.NotNil(t, w.PopBytes())
	err = w.PositionToMark(1)
	assert.ErrorIs(t, err, merr.ErrBufferInvalidMark)
	assert.NoError(t, w.PositionToMark(4))
}

func TestWriteBuffer_CapacityExceeded(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(4, 2))
	_, err := w.WriteBytes(seq(1, 6))
	require.NoError(t, err)

	n, err := w.WriteInt32(0x01020304)
	assert.ErrorIs(t, err, merr.ErrBufferCapacityExceeded)
	assert.Equal(t, merr.Code(merr.ErrBufferCapacityExceeded), merr.Code(err))
	assert.Equal(t, 0, n)
	// 失败的写入不留下任何字节。
	assert.Equal(t, int64(6), w.Len())
	assert.Equal(t, int64(6), w.Position())
	assert.Equal(t, 2, w.Chunks())

	n, err = w.WriteInt16(0x0708)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, w.Bytes())

	require.NoError(t, w.Flush())
	assert.NotNil(t, w.PopBytes())
	// 弹出之后释放了额度。
	n, err = w.WriteInt32(0x090a0b0c)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestWriteBuffer_GrowthSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialSize = 2
	cfg.GrowthSizes = []int{4, 8}
	cfg.MaxChunkSize = 6
	w := MustNewWriteBuffer(cfg)

	_, err := w.WriteBytes(seq(1, 20))
	require.NoError(t, err)
	// 2 + 4 + 6 + 6 + 6
	assert.Equal(t, 5, w.Chunks())
	require.NoError(t, w.Flush())

	var sizes []int
	for p := w.PopBytes(); p != nil; p = w.PopBytes() {
		sizes = append(sizes, len(p))
	}
	assert.Equal(t, []int{2, 4, 6, 6, 2}, sizes)
}

func TestWriteBuffer_Increment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialSize = 1
	cfg.Increment = 1
	w := MustNewWriteBuffer(cfg)

	_, err := w.WriteBytes(seq(1, 10))
	require.NoError(t, err)
	// 1 + 2 + 3 + 4
	assert.Equal(t, 4, w.Chunks())
	assert.Equal(t, seq(1, 10), w.Bytes())
}

func TestWriteBuffer_InvalidConfig(t *testing.T) {
	_, err := NewWriteBuffer(Config{})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	cfg := DefaultConfig()
	cfg.GrowthSizes = []int{4, 0}
	_, err = NewWriteBuffer(cfg)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	cfg = DefaultConfig()
	cfg.CoreChunks = 3
	cfg.MaxChunks = 2
	_, err = NewWriteBuffer(cfg)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	assert.Panics(t, func() { MustNewWriteBuffer(Config{InitialSize: -1}) })
}

func TestWriteBuffer_ByteCounts(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(2, 200))

	cases := []struct {
		name  string
		write func() (int, error)
		size  int
	}{
		{"bool", func() (int, error) { return w.WriteBool(true) }, 1},
		{"char", func() (int, error) { return w.WriteChar('a') }, 2},
		{"var char small", func() (int, error) { return w.WriteVarChar(254) }, 1},
		{"var char large", func() (int, error) { return w.WriteVarChar(255) }, 3},
		{"int16", func() (int, error) { return w.WriteInt16(-1) }, 2},
		{"var int16 positive", func() (int, error) { return w.WriteVarInt16(-1, true) }, 3},
		{"var int16 signed", func() (int, error) { return w.WriteVarInt16(-1, false) }, 1},
		{"int32", func() (int, error) { return w.WriteInt32(0) }, 4},
		{"var int32", func() (int, error) { return w.WriteVarInt32(16384, true) }, 3},
		{"var int32 negative", func() (int, error) { return w.WriteVarInt32(-64, true) }, 5},
		{"int64", func() (int, error) { return w.WriteInt64(0) }, 8},
		{"var int64 negative", func() (int, error) { return w.WriteVarInt64(-1, true) }, 10},
		{"float32", func() (int, error) { return w.WriteFloat32(1.5) }, 4},
		{"float64", func() (int, error) { return w.WriteFloat64(1.5) }, 8},
		{"scaled float32", func() (int, error) { return w.WriteScaledFloat32(1.5, 1000, true) }, 2},
		{"scaled float64", func() (int, error) { return w.WriteScaledFloat64(-0.5, 10, false) }, 1},
		{"empty string", func() (int, error) { return w.WriteString("") }, 2},
		{"ascii string", func() (int, error) { return w.WriteString("uno") }, 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			before := w.Len()
			n, err := c.write()
			require.NoError(t, err)
			assert.Equal(t, c.size, n)
			assert.Equal(t, int64(c.size), w.Len()-before)
		})
	}

	_, err := w.WriteScaledFloat32(1, 0, true)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestWriteBuffer_WriteTo(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(3, NoLimit))
	_, err := w.Write(seq(1, 10))
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := w.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, seq(1, 10), out.Bytes())
	assert.Equal(t, 0, w.Chunks())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, assert.AnError
}

func TestWriteBuffer_WriteToFailed(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(3, NoLimit))
	_, err := w.Write(seq(1, 10))
	require.NoError(t, err)

	_, err = w.WriteTo(failingWriter{})
	assert.ErrorIs(t, err, merr.ErrIoFailed)
	assert.ErrorIs(t, err, assert.AnError)
	// 失败的 chunk 仍在队列中。
	assert.Equal(t, seq(1, 10), w.Bytes())
}

// budgetWriter 接收至多 budget 个字节，超出部分返回错误。
type budgetWriter struct {
	bytes.Buffer
	budget int
}

func (b *budgetWriter) Write(p []byte) (int, error) {
	k := min(len(p), b.budget)
	b.Buffer.Write(p[:k])
	b.budget -= k
	if k < len(p) {
		return k, assert.AnError
	}
	return k, nil
}

func TestWriteBuffer_WriteToResume(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(3, NoLimit))
	_, err := w.Write(seq(1, 10))
	require.NoError(t, err)

	out := &budgetWriter{budget: 4}
	n, err := w.WriteTo(out)
	assert.ErrorIs(t, err, merr.ErrIoFailed)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, seq(1, 4), out.Bytes())
	assert.Equal(t, seq(5, 10), w.Bytes())

	out.budget = 100
	n, err = w.WriteTo(out)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, seq(1, 10), out.Bytes())
	assert.Equal(t, 0, w.Chunks())
}

func TestWriteBuffer_Reset(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(2, 3))
	_, err := w.WriteBytes(seq(1, 6))
	require.NoError(t, err)

	w.Reset()
	assert.Equal(t, int64(0), w.Position())
	assert.Equal(t, int64(0), w.Len())
	assert.Equal(t, 0, w.Chunks())
	assert.Empty(t, w.Bytes())

	_, err = w.WriteBytes(seq(7, 12))
	require.NoError(t, err)
	assert.Equal(t, seq(7, 12), w.Bytes())
}
