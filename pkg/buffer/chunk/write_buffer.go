package chunk

import (
	"encoding/binary"
	"io"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-kryo/pkg/log"
	"github.com/lk2023060901/danmu-kryo/pkg/metrics"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
	"github.com/lk2023060901/danmu-kryo/pkg/util/varint"
)

// Mark 是缓冲区中的全局字节偏移，由 Mark() 返回，PositionToMark 使用。
type Mark int64

type writeChunk struct {
	data  []byte
	start int64
}

func (c *writeChunk) end() int64 {
	return c.start + int64(len(c.data))
}

// WriteBuffer 是由多个 chunk 组成、按需增长的写缓冲区。
//
// 所有写入方法返回本次写入消耗的字节数。写入前会先检查容量，
// 超过 MaxChunks 时返回 merr.ErrBufferCapacityExceeded，且不会写入任何字节。
//
// 回退到旧的 mark 后继续写入会覆盖已有数据，但不会截断：
// 已写入的最大偏移（extent）只增不减。
type WriteBuffer struct {
	cfg    Config
	sizer  sizer
	chunks []*writeChunk
	// 游标：chunks[ci].data[off] 为下一个写入位置。
	ci  int
	off int
	// base 为第一个仍在队列中的 chunk 的起始偏移，队列为空时为下一个 chunk 的起始偏移。
	base    int64
	extent  int64
	flushed bool
	// flushedTo 为上一次 Flush 时的 extent，仅用于统计。
	flushedTo int64

	scratch [varint.MaxLen64]byte
	strBuf  []byte
	logger  *log.MLogger
}

// NewWriteBuffer 按给定配置创建写缓冲区，chunk 在首次写入时才分配。
func NewWriteBuffer(cfg Config) (*WriteBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WriteBuffer{
		cfg:    cfg,
		sizer:  sizer{cfg: cfg},
		logger: log.With(log.FieldComponent("write-buffer")),
	}, nil
}

// MustNewWriteBuffer 与 NewWriteBuffer 相同，配置非法时 panic，适用于静态配置。
func MustNewWriteBuffer(cfg Config) *WriteBuffer {
	w, err := NewWriteBuffer(cfg)
	if err != nil {
		panic(err)
	}
	return w
}

// Position 返回游标的全局偏移。
func (w *WriteBuffer) Position() int64 {
	if len(w.chunks) == 0 {
		return w.base
	}
	return w.chunks[w.ci].start + int64(w.off)
}

// Len 返回已写入的最大全局偏移。
func (w *WriteBuffer) Len() int64 {
	return w.extent
}

// Chunks 返回当前仍在队列中的 chunk 数。
func (w *WriteBuffer) Chunks() int {
	return len(w.chunks)
}

// Mark 返回当前位置，可在之后通过 PositionToMark 回到这里。
func (w *WriteBuffer) Mark() Mark {
	return Mark(w.Position())
}

// PositionToMark 将游标移动到 m。
// m 必须位于仍在队列中的数据范围 [base, extent] 内。
func (w *WriteBuffer) PositionToMark(m Mark) error {
	pos := int64(m)
	if pos < w.base || pos > w.extent {
		w.logger.RatedWarn(10, "position to stale mark",
			log.FieldPosition(pos), zap.Int64("base", w.base), zap.Int64("extent", w.extent))
		return merr.WrapErrBufferInvalidMark(pos, w.base, w.extent)
	}
	if len(w.chunks) == 0 {
		return nil
	}
	i := sort.Search(len(w.chunks), func(i int) bool { return w.chunks[i].start > pos }) - 1
	w.ci, w.off = i, int(pos-w.chunks[i].start)
	return nil
}

// ensure 确保从游标开始至少还能写入 n 个字节，必要时追加 chunk。
func (w *WriteBuffer) ensure(n int) error {
	avail := 0
	if len(w.chunks) > 0 {
		avail = len(w.chunks[w.ci].data) - w.off
		for _, c := range w.chunks[w.ci+1:] {
			avail += len(c.data)
		}
	}
	if avail >= n {
		return nil
	}

	// 先按尺寸策略试算需要追加的 chunk 数，超过上限时直接失败，不做任何修改。
	trial := w.sizer
	need := 0
	for covered := avail; covered < n; need++ {
		covered += trial.next()
	}
	if w.cfg.limited() && len(w.chunks)+need > w.cfg.MaxChunks {
		metrics.BufferCapacityExceeded.WithLabelValues(metrics.WriteSide).Inc()
		w.logger.RatedWarn(10, "write buffer capacity exceeded",
			zap.Int("chunks", len(w.chunks)), zap.Int("need", need), zap.Int("limit", w.cfg.MaxChunks))
		return merr.WrapErrBufferCapacityExceeded(len(w.chunks)+need, w.cfg.MaxChunks)
	}

	for i := 0; i < need; i++ {
		start := w.base
		if last := len(w.chunks); last > 0 {
			start = w.chunks[last-1].end()
		}
		size := w.sizer.next()
		w.chunks = append(w.chunks, &writeChunk{data: make([]byte, size), start: start})
		metrics.BufferChunkAllocations.WithLabelValues(metrics.WriteSide).Inc()
		metrics.BufferChunkSize.WithLabelValues(metrics.WriteSide).Observe(float64(size))
	}
	return nil
}

// write 在 ensure 成功之后写入 p，调用方保证容量足够。
func (w *WriteBuffer) write(p []byte) {
	for len(p) > 0 {
		c := w.chunks[w.ci]
		if w.off == len(c.data) {
			w.ci++
			w.off = 0
			continue
		}
		k := copy(c.data[w.off:], p)
		w.off += k
		p = p[k:]
	}
	if pos := w.Position(); pos > w.extent {
		w.extent = pos
	}
	w.flushed = false
}

func (w *WriteBuffer) writeChecked(p []byte) (int, error) {
	if err := w.ensure(len(p)); err != nil {
		return 0, err
	}
	w.write(p)
	return len(p), nil
}

// Write 实现 io.Writer。
func (w *WriteBuffer) Write(p []byte) (int, error) {
	return w.writeChecked(p)
}

// WriteBytes 写入 p 的全部字节。
func (w *WriteBuffer) WriteBytes(p []byte) (int, error) {
	return w.writeChecked(p)
}

// WriteByte 实现 io.ByteWriter。
func (w *WriteBuffer) WriteByte(b byte) error {
	w.scratch[0] = b
	_, err := w.writeChecked(w.scratch[:1])
	return err
}

// WriteBool 写入 1 字节，true 为 1，false 为 0。
func (w *WriteBuffer) WriteBool(v bool) (int, error) {
	w.scratch[0] = 0
	if v {
		w.scratch[0] = 1
	}
	return w.writeChecked(w.scratch[:1])
}

// WriteChar 以 2 字节大端序写入一个 UTF-16 码元。
func (w *WriteBuffer) WriteChar(v uint16) (int, error) {
	return w.writeChecked(binary.BigEndian.AppendUint16(w.scratch[:0], v))
}

// WriteVarChar 以紧凑格式写入一个 UTF-16 码元（0..254 占 1 字节，否则 3 字节）。
func (w *WriteBuffer) WriteVarChar(v uint16) (int, error) {
	return w.writeChecked(varint.Append16(w.scratch[:0], int16(v), true))
}

func (w *WriteBuffer) WriteInt16(v int16) (int, error) {
	return w.writeChecked(binary.BigEndian.AppendUint16(w.scratch[:0], uint16(v)))
}

func (w *WriteBuffer) WriteVarInt16(v int16, optimizePositive bool) (int, error) {
	return w.writeChecked(varint.Append16(w.scratch[:0], v, optimizePositive))
}

func (w *WriteBuffer) WriteInt32(v int32) (int, error) {
	return w.writeChecked(binary.BigEndian.AppendUint32(w.scratch[:0], uint32(v)))
}

// WriteVarInt32 写入变长整数，返回 1 到 5 个字节。
func (w *WriteBuffer) WriteVarInt32(v int32, optimizePositive bool) (int, error) {
	return w.writeChecked(varint.Append32(w.scratch[:0], v, optimizePositive))
}

func (w *WriteBuffer) WriteInt64(v int64) (int, error) {
	return w.writeChecked(binary.BigEndian.AppendUint64(w.scratch[:0], uint64(v)))
}

// WriteVarInt64 写入变长整数，返回 1 到 10 个字节。
func (w *WriteBuffer) WriteVarInt64(v int64, optimizePositive bool) (int, error) {
	return w.writeChecked(varint.Append64(w.scratch[:0], v, optimizePositive))
}

func (w *WriteBuffer) WriteFloat32(v float32) (int, error) {
	return w.writeChecked(binary.BigEndian.AppendUint32(w.scratch[:0], math.Float32bits(v)))
}

func (w *WriteBuffer) WriteFloat64(v float64) (int, error) {
	return w.writeChecked(binary.BigEndian.AppendUint64(w.scratch[:0], math.Float64bits(v)))
}

// WriteScaledFloat32 将 v 乘以 precision 并四舍五入后按变长整数写入，有损。
func (w *WriteBuffer) WriteScaledFloat32(v float32, precision int32, optimizePositive bool) (int, error) {
	i, err := varint.ScaleFloat32(v, precision)
	if err != nil {
		return 0, err
	}
	return w.WriteVarInt32(i, optimizePositive)
}

func (w *WriteBuffer) WriteScaledFloat64(v float64, precision int64, optimizePositive bool) (int, error) {
	i, err := varint.ScaleFloat64(v, precision)
	if err != nil {
		return 0, err
	}
	return w.WriteVarInt64(i, optimizePositive)
}

// WriteString 以自终止格式写入 s，空串占 2 字节。
func (w *WriteBuffer) WriteString(s string) (int, error) {
	w.strBuf = AppendString(w.strBuf[:0], s)
	return w.writeChecked(w.strBuf)
}

// Flush 声明当前数据已经完整，此后末尾未写满的 chunk 也可以被 PopBytes 取走。
// Flush 不会消费数据。
func (w *WriteBuffer) Flush() error {
	w.flushed = true
	if w.extent > w.flushedTo {
		metrics.BufferFlushedBytes.Add(float64(w.extent - w.flushedTo))
		w.flushedTo = w.extent
	}
	return nil
}

func (w *WriteBuffer) committed(c *writeChunk) int {
	n := w.extent - c.start
	switch {
	case n <= 0:
		return 0
	case n > int64(len(c.data)):
		return len(c.data)
	}
	return int(n)
}

// Bytes 返回仍在队列中的全部已写入字节的连续拷贝。
func (w *WriteBuffer) Bytes() []byte {
	out := make([]byte, 0, w.extent-w.base)
	for _, c := range w.chunks {
		out = append(out, c.data[:w.committed(c)]...)
	}
	return out
}

// PopBytes 移除并返回最早的一个可弹出 chunk，没有可弹出的 chunk 时返回 nil。
//
// 可弹出的条件：
//   - chunk 已写满，且游标不在它内部（游标恰好位于其末尾也可以）；
//   - 或者已经 Flush，它是最后一个有数据的 chunk，且游标位于已写入数据的末尾，
//     此时只返回已写入部分。
//
// 返回的切片归调用方所有。
func (w *WriteBuffer) PopBytes() []byte {
	n, whole, ok := w.poppable()
	if !ok {
		return nil
	}
	c := w.chunks[0]
	w.pop(whole)
	return c.data[:n]
}

// poppable 判断第一个 chunk 能否弹出，返回可弹出的字节数，
// whole 为 false 表示弹出的是 Flush 后的尾部 chunk。
func (w *WriteBuffer) poppable() (n int, whole bool, ok bool) {
	if len(w.chunks) == 0 {
		return 0, false, false
	}
	c := w.chunks[0]
	pos := w.Position()
	n = w.committed(c)
	switch {
	case n == len(c.data) && c.end() <= pos:
		return n, true, true
	case w.flushed && n > 0 && pos == w.extent && c.start+int64(n) == w.extent:
		return n, false, true
	}
	return 0, false, false
}

func (w *WriteBuffer) pop(whole bool) {
	c := w.chunks[0]
	if whole {
		w.chunks = w.chunks[1:]
	} else {
		// 之后的 chunk 没有数据，一起丢弃，下一次写入从 base 重新分配。
		w.chunks = nil
		w.ci = 0
	}
	w.base = c.start + int64(w.committed(c))
	if w.ci > 0 {
		w.ci--
	} else {
		// 游标所在的 chunk 被弹出，游标落在 base 上。
		w.off = 0
	}
}

// trimFront 丢弃第一个 chunk 开头已经送出的 k 个字节。
func (w *WriteBuffer) trimFront(k int) {
	c := w.chunks[0]
	c.data = c.data[k:]
	c.start += int64(k)
	w.base = c.start
	if w.ci == 0 {
		w.off -= k
	}
}

// WriteTo 先 Flush，再把所有可弹出的 chunk 依次写入 dst。
// dst 出错时，未被 dst 接收的字节仍留在缓冲区中，再次调用 WriteTo 会从断点继续。
func (w *WriteBuffer) WriteTo(dst io.Writer) (int64, error) {
	if err := w.Flush(); err != nil {
		return 0, err
	}
	var total int64
	for {
		n, whole, ok := w.poppable()
		if !ok {
			return total, nil
		}
		written, err := dst.Write(w.chunks[0].data[:n])
		total += int64(written)
		if err == nil && written < n {
			err = io.ErrShortWrite
		}
		if err != nil {
			if written > 0 {
				w.trimFront(written)
			}
			return total, merr.WrapErrIoFailed("write-to", err)
		}
		w.pop(whole)
	}
}

// Reset 丢弃全部数据并回到初始状态，尺寸策略也从头开始。
func (w *WriteBuffer) Reset() {
	w.chunks = nil
	w.ci, w.off = 0, 0
	w.base, w.extent, w.flushedTo = 0, 0, 0
	w.flushed = false
	w.sizer.reset()
}
