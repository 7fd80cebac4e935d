package chunk

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
)

// readConfig 对应 (chunk 大小, 核心 chunk 数, 池容量)，chunk 数不限。
func readConfig(size, core, maxPool int) Config {
	cfg := DefaultConfig()
	cfg.InitialSize = size
	cfg.CoreChunks = core
	cfg.MaxPoolSize = maxPool
	return cfg
}

func limitedConfig(size, core, maxChunks int) Config {
	cfg := readConfig(size, core, NoLimit)
	cfg.MaxChunks = maxChunks
	return cfg
}

func mustReadBuffer(t *testing.T, cfg Config, src Filler) *ReadBuffer {
	r, err := NewReadBuffer(cfg, src)
	require.NoError(t, err)
	return r
}

func readBytes(t *testing.T, r *ReadBuffer, n int) []byte {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func runReadMarks(t *testing.T, cfg Config) {
	src := bytes.NewReader([]byte{11, 22, 33, 44, 55, 66, 77, 88, 99})
	r := mustReadBuffer(t, cfg, ReaderFiller(src))

	got := readBytes(t, r, 3)
	start := r.Mark()
	got = append(got, readBytes(t, r, 3)...)
	end := r.Mark()
	require.NoError(t, r.PositionToMark(start))
	got = append(got, readBytes(t, r, 2)...)
	require.NoError(t, r.PositionToMark(end))
	got = append(got, readBytes(t, r, 3)...)

	assert.Equal(t, []byte{11, 22, 33, 44, 55, 66, 44, 55, 77, 88, 99}, got)

	_, err := r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrBufferUnexpectedEOD)
	if cfg.MaxPoolSize != NoLimit {
		assert.LessOrEqual(t, r.Pooled(), cfg.MaxPoolSize)
	}
}

func TestReadBuffer_Marks(t *testing.T) {
	t.Run("single chunk", func(t *testing.T) {
		runReadMarks(t, readConfig(1024, 1, 1))
	})
	t.Run("two byte chunks", func(t *testing.T) {
		runReadMarks(t, readConfig(2, 1, NoLimit))
	})
	t.Run("three byte chunks", func(t *testing.T) {
		runReadMarks(t, readConfig(3, 1, 40))
	})
	t.Run("one chunk limit", func(t *testing.T) {
		runReadMarks(t, limitedConfig(8, 1, 1))
	})
}

func TestReadBuffer_PoolSize(t *testing.T) {
	tests := []struct {
		name    string
		maxPool int
		pooled  int
	}{
		{"no pool", 0, 0},
		{"one", 1, 1},
		{"unbounded", NoLimit, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runReadMarks(t, readConfig(1, 1, tt.maxPool))
			runReadMarks(t, readConfig(2, 1, tt.maxPool))

			r := mustReadBuffer(t, readConfig(1, 1, tt.maxPool), BytesFiller(seq(1, 8)))
			m := r.Mark()
			assert.Equal(t, seq(1, 6), readBytes(t, r, 6))
			assert.Equal(t, 6, r.Chunks())
			assert.Equal(t, 0, r.Pooled())

			// 释放 mark 后，游标之前的 5 个 chunk 被淘汰，放入池中的数量受池容量限制。
			r.ReleaseMark(m)
			assert.Equal(t, 1, r.Chunks())
			assert.Equal(t, tt.pooled, r.Pooled())
			assert.Equal(t, seq(7, 8), readBytes(t, r, 2))
		})
	}
}

func TestReadBuffer_LimitCrossingValue(t *testing.T) {
	w := MustNewWriteBuffer(DefaultConfig())
	require.NoError(t, w.WriteByte(7))
	_, err := w.WriteInt32(0x01020304)
	require.NoError(t, err)

	r := mustReadBuffer(t, limitedConfig(4, 1, 1), BytesFiller(w.Bytes()))
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)
	v, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(0x01020304), v)
	assert.Equal(t, 1, r.Chunks())
	assert.Equal(t, int64(5), r.Position())
}

func TestReadBuffer_LimitKeepsMarkInTail(t *testing.T) {
	r := mustReadBuffer(t, limitedConfig(4, 1, 1), BytesFiller(seq(1, 8)))

	assert.Equal(t, seq(1, 2), readBytes(t, r, 2))
	m := r.Mark()
	assert.Equal(t, seq(3, 5), readBytes(t, r, 3))
	assert.Equal(t, 1, r.Chunks())

	require.NoError(t, r.PositionToMark(m))
	assert.Equal(t, seq(3, 5), readBytes(t, r, 3))
	assert.ErrorIs(t, r.PositionToMark(1), merr.ErrBufferInvalidMark)

	r.ReleaseMark(m)
	assert.Equal(t, seq(6, 8), readBytes(t, r, 3))
}

func TestReadBuffer_Eviction(t *testing.T) {
	r := mustReadBuffer(t, readConfig(2, 1, NoLimit), BytesFiller(seq(1, 12)))

	assert.Equal(t, seq(1, 5), readBytes(t, r, 5))
	// 游标位于第三个 chunk，前两个已被淘汰并进入池中。
	assert.Equal(t, 1, r.Chunks())
	assert.Equal(t, int64(5), r.Position())

	err := r.PositionToMark(1)
	assert.ErrorIs(t, err, merr.ErrBufferInvalidMark)

	// 新 chunk 优先复用池中的数组。
	pooled := r.Pooled()
	assert.Equal(t, seq(6, 7), readBytes(t, r, 2))
	assert.LessOrEqual(t, r.Pooled(), pooled)
	assert.Equal(t, seq(8, 12), readBytes(t, r, 5))
}

func TestReadBuffer_CoreChunks(t *testing.T) {
	r := mustReadBuffer(t, readConfig(2, 3, NoLimit), BytesFiller(seq(1, 12)))

	assert.Equal(t, seq(1, 7), readBytes(t, r, 7))
	assert.Equal(t, 3, r.Chunks())
	// 核心窗口内的位置仍然可以回退。
	require.NoError(t, r.PositionToMark(2))
	assert.Equal(t, seq(3, 4), readBytes(t, r, 2))
	assert.ErrorIs(t, r.PositionToMark(1), merr.ErrBufferInvalidMark)
}

func TestReadBuffer_MarkPinsChunks(t *testing.T) {
	r := mustReadBuffer(t, readConfig(2, 1, NoLimit), BytesFiller(seq(1, 12)))

	readBytes(t, r, 1)
	m := r.Mark()
	assert.Equal(t, seq(2, 9), readBytes(t, r, 8))
	assert.Equal(t, 5, r.Chunks())

	require.NoError(t, r.PositionToMark(m))
	assert.Equal(t, seq(2, 3), readBytes(t, r, 2))

	r.ReleaseMark(m)
	// 只保留游标所在的 chunk 及其之后的数据。
	assert.Equal(t, 4, r.Chunks())
	assert.ErrorIs(t, r.PositionToMark(m), merr.ErrBufferInvalidMark)
}

func TestReadBuffer_MarkCounted(t *testing.T) {
	r := mustReadBuffer(t, readConfig(2, 1, NoLimit), BytesFiller(seq(1, 8)))

	m1 := r.Mark()
	m2 := r.Mark()
	assert.Equal(t, m1, m2)
	readBytes(t, r, 6)

	r.ReleaseMark(m1)
	require.NoError(t, r.PositionToMark(m2))
	r.ReleaseMark(m2)
	// 释放不存在的 mark 没有影响。
	r.ReleaseMark(m2)
	assert.Equal(t, seq(1, 8), readBytes(t, r, 8))
}

func TestReadBuffer_CapacityExceeded(t *testing.T) {
	r := mustReadBuffer(t, limitedConfig(2, 1, 2), BytesFiller(seq(1, 8)))

	m := r.Mark()
	assert.Equal(t, seq(1, 4), readBytes(t, r, 4))
	_, err := r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrBufferCapacityExceeded)
	assert.Equal(t, int64(4), r.Position())
	assert.Equal(t, 2, r.Chunks())

	// 释放 mark 后可以继续读取。
	r.ReleaseMark(m)
	assert.Equal(t, seq(5, 8), readBytes(t, r, 4))
}

func TestReadBuffer_AtomicReads(t *testing.T) {
	w := MustNewWriteBuffer(DefaultConfig())
	_, err := w.WriteVarInt32(300, true)
	require.NoError(t, err)
	data := w.Bytes()

	r := mustReadBuffer(t, readConfig(4, 1, NoLimit), BytesFiller(data[:1]))
	_, err = r.ReadVarInt32(true)
	assert.ErrorIs(t, err, merr.ErrBufferUnexpectedEOD)
	assert.Equal(t, int64(0), r.Position())

	r = mustReadBuffer(t, readConfig(4, 1, NoLimit), BytesFiller([]byte{1, 2, 3}))
	_, err = r.ReadInt32()
	assert.ErrorIs(t, err, merr.ErrBufferUnexpectedEOD)
	assert.Equal(t, int64(0), r.Position())
	v, err := r.ReadInt16()
	require.NoError(t, err)
	assert.Equal(t, int16(0x0102), v)
}

func TestReadBuffer_MalformedVarint(t *testing.T) {
	r := NewReadBufferBytes([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	_, err := r.ReadVarInt32(true)
	assert.ErrorIs(t, err, merr.ErrBufferMalformedVarint)

	ok, err := r.CanReadInt()
	assert.False(t, ok)
	assert.ErrorIs(t, err, merr.ErrBufferMalformedVarint)
}

func runInts(t *testing.T, cfg Config) {
	w := MustNewWriteBuffer(cfg)
	fixed := []int32{0, 63, 64, 127, 128, 8192, 16384, 2097151, 1048575, 134217727,
		268435455, 134217728, 268435456, -2097151, -1048575, -134217727, -268435455,
		-134217728, -268435456}
	for _, v := range fixed {
		n, err := w.WriteInt32(v)
		require.NoError(t, err)
		require.Equal(t, 4, n)
	}
	variable := []struct {
		v        int32
		positive bool
		size     int
	}{
		{0, true, 1}, {0, false, 1},
		{63, true, 1}, {63, false, 1},
		{64, true, 1}, {64, false, 2},
		{127, true, 1}, {127, false, 2},
		{128, true, 2}, {128, false, 2},
		{8191, true, 2}, {8191, false, 2},
		{8192, true, 2}, {8192, false, 3},
		{16383, true, 2}, {16383, false, 3},
		{16384, true, 3}, {16384, false, 3},
		{2097151, true, 3}, {2097151, false, 4},
		{1048575, true, 3}, {1048575, false, 3},
		{134217727, true, 4}, {134217727, false, 4},
		{268435455, true, 4}, {268435455, false, 5},
		{134217728, true, 4}, {134217728, false, 5},
		{268435456, true, 5}, {268435456, false, 5},
		{-64, false, 1}, {-64, true, 5},
		{-65, false, 2}, {-65, true, 5},
		{-8192, false, 2}, {-8192, true, 5},
		{-1048576, false, 3}, {-1048576, true, 5},
		{-134217728, false, 4}, {-134217728, true, 5},
		{-134217729, false, 5}, {-134217729, true, 5},
	}
	for _, c := range variable {
		n, err := w.WriteVarInt32(c.v, c.positive)
		require.NoError(t, err)
		assert.Equal(t, c.size, n, "v=%d positive=%v", c.v, c.positive)
	}

	r := NewReadBufferBytes(w.Bytes())
	for _, v := range fixed {
		got, err := r.ReadInt32()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	for i := 0; i < 3; i++ {
		ok, err := r.CanReadInt()
		require.NoError(t, err)
		assert.True(t, ok)
	}
	for _, c := range variable {
		got, err := r.ReadVarInt32(c.positive)
		require.NoError(t, err)
		assert.Equal(t, c.v, got)
	}
	ok, err := r.CanReadInt()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadBuffer_Ints(t *testing.T) {
	runInts(t, DefaultConfig())
	runInts(t, smallChunks(2, 200))
}

func runLongs(t *testing.T, cfg Config) {
	w := MustNewWriteBuffer(cfg)
	values := []int64{0, 63, 64, 127, 128, 8192, 16384, 2097151, 1048575, 134217727,
		268435455, 134217728, 268435456, -2097151, -1048575, -134217727, -268435455,
		-134217728, -268435456, math.MaxInt64, math.MinInt64}
	for _, v := range values {
		_, err := w.WriteInt64(v)
		require.NoError(t, err)
		_, err = w.WriteVarInt64(v, true)
		require.NoError(t, err)
		_, err = w.WriteVarInt64(v, false)
		require.NoError(t, err)
	}

	r := NewReadBufferBytes(w.Bytes())
	for _, v := range values {
		got, err := r.ReadInt64()
		require.NoError(t, err)
		assert.Equal(t, v, got)
		ok, err := r.CanReadLong()
		require.NoError(t, err)
		assert.True(t, ok)
		got, err = r.ReadVarInt64(true)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		got, err = r.ReadVarInt64(false)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	ok, err := r.CanReadLong()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadBuffer_Longs(t *testing.T) {
	runLongs(t, DefaultConfig())
	runLongs(t, smallChunks(2, 200))
}

func TestReadBuffer_Shorts(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(2, 200))
	values := []int16{0, 1, -1, 127, -127, 128, -128, 254, 255, math.MaxInt16, math.MinInt16}
	for _, v := range values {
		_, err := w.WriteInt16(v)
		require.NoError(t, err)
		_, err = w.WriteVarInt16(v, true)
		require.NoError(t, err)
		_, err = w.WriteVarInt16(v, false)
		require.NoError(t, err)
	}
	_, err := w.WriteChar(0x1234)
	require.NoError(t, err)
	_, err = w.WriteVarChar(0xfffe)
	require.NoError(t, err)

	r := NewReadBufferBytes(w.Bytes())
	for _, v := range values {
		got, err := r.ReadInt16()
		require.NoError(t, err)
		assert.Equal(t, v, got)
		got, err = r.ReadVarInt16(true)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		got, err = r.ReadVarInt16(false)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	c, err := r.ReadChar()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), c)
	c, err = r.ReadVarChar()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xfffe), c)
}

func TestReadBuffer_Floats(t *testing.T) {
	w := MustNewWriteBuffer(smallChunks(3, NoLimit))
	_, err := w.WriteFloat32(3.25)
	require.NoError(t, err)
	_, err = w.WriteFloat64(-1e100)
	require.NoError(t, err)
	_, err = w.WriteScaledFloat32(1.2345, 1000, true)
	require.NoError(t, err)
	_, err = w.WriteScaledFloat64(-98.765, 100, false)
	require.NoError(t, err)
	_, err = w.WriteBool(true)
	require.NoError(t, err)
	_, err = w.WriteBool(false)
	require.NoError(t, err)

	r := NewReadBufferBytes(w.Bytes())
	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(3.25), f32)
	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, -1e100, f64)
	f32, err = r.ReadScaledFloat32(1000, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.2345, f32, 0.001)
	f64, err = r.ReadScaledFloat64(100, false)
	require.NoError(t, err)
	assert.InDelta(t, -98.765, f64, 0.01)
	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)
	b, err = r.ReadBool()
	require.NoError(t, err)
	assert.False(t, b)

	_, err = r.ReadScaledFloat64(0, true)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestReadBuffer_ReaderInterfaces(t *testing.T) {
	src := concat(seq(1, 20))
	r := mustReadBuffer(t, readConfig(3, 1, NoLimit), ReaderFiller(bytes.NewReader(src)))

	p := make([]byte, 5)
	n, err := r.Read(p)
	require.NoError(t, err)
	// Read 只返回已缓冲的数据。
	assert.Equal(t, 3, n)
	assert.Equal(t, seq(1, 3), p[:n])

	require.NoError(t, r.ReadFull(p))
	assert.Equal(t, seq(4, 8), p)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, seq(9, 20), rest)

	n, err = r.Read(p)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadBuffer_ReadBytes(t *testing.T) {
	r := NewReadBufferBytes(seq(1, 6))
	p, err := r.ReadBytes(4)
	require.NoError(t, err)
	assert.Equal(t, seq(1, 4), p)

	_, err = r.ReadBytes(-1)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = r.ReadBytes(3)
	assert.ErrorIs(t, err, merr.ErrBufferUnexpectedEOD)
	assert.Equal(t, int64(4), r.Position())
}

func TestReadBuffer_Prefetch(t *testing.T) {
	r := mustReadBuffer(t, readConfig(4, 1, NoLimit), BytesFiller(seq(1, 6)))
	assert.False(t, r.CanRead(1))

	n, err := r.Prefetch()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, r.CanRead(4))
	assert.False(t, r.CanRead(5))

	n, err = r.Prefetch()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 6, r.Buffered())
	assert.Equal(t, int64(0), r.Position())

	_, err = r.Prefetch()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadBuffer_FillErrors(t *testing.T) {
	calls := 0
	src := FillFunc(func(p []byte) (int, error) {
		calls++
		if calls == 1 {
			return 0, assert.AnError
		}
		p[0] = 42
		return 1, io.EOF
	})
	r := mustReadBuffer(t, DefaultConfig(), src)

	_, err := r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrIoFailed)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, merr.IsRetryableErr(err))

	// 失败后状态保持一致，可以重试。
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(42), b)
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrBufferUnexpectedEOD)
}

func TestReadBuffer_NoProgress(t *testing.T) {
	src := FillFunc(func(p []byte) (int, error) { return 0, nil })
	r := mustReadBuffer(t, DefaultConfig(), src)

	_, err := r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrIoFailed)
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestReadBuffer_InvalidFillCount(t *testing.T) {
	src := FillFunc(func(p []byte) (int, error) { return len(p) + 1, nil })
	r := mustReadBuffer(t, DefaultConfig(), src)

	_, err := r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrIoFailed)
}

func TestReadBuffer_InvalidArgs(t *testing.T) {
	_, err := NewReadBuffer(DefaultConfig(), nil)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = NewReadBuffer(Config{}, BytesFiller(nil))
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestReadBuffer_Empty(t *testing.T) {
	r := NewReadBufferBytes(nil)
	assert.Equal(t, 0, r.Buffered())
	_, err := r.ReadByte()
	assert.ErrorIs(t, err, merr.ErrBufferUnexpectedEOD)
	ok, err := r.CanReadInt()
	require.NoError(t, err)
	assert.False(t, ok)
}
