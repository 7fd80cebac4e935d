package chunk

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-kryo/pkg/log"
	"github.com/lk2023060901/danmu-kryo/pkg/metrics"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
	"github.com/lk2023060901/danmu-kryo/pkg/util/typeutil"
	"github.com/lk2023060901/danmu-kryo/pkg/util/varint"
)

// maxEmptyFills 为数据源连续返回 (0, nil) 的容忍次数，超过后视为没有进展。
const maxEmptyFills = 100

type readChunk struct {
	data  []byte
	start int64
	// n 为已填充的字节数，只有最后一个 chunk 可能未填满。
	n int
}

func (c *readChunk) end() int64 {
	return c.start + int64(c.n)
}

// ReadBuffer 是按需从 Filler 补充数据的分块读缓冲区。
//
// 保留策略：游标所在 chunk 以及它之前的 CoreChunks-1 个 chunk 始终保留；
// 更早的 chunk 只要还有未释放的 mark 落在它或它之前就继续保留，否则被淘汰，
// 淘汰的 chunk 在池未满时放入池中复用。回到已淘汰区域的 mark 会返回
// merr.ErrBufferInvalidMark。
//
// 解码多字节值时会先确认数据完整再消费，数据源提前结束时返回
// merr.ErrBufferUnexpectedEOD，游标停在该值的起始位置。字符串按字符逐个解码，不保证这一点。
type ReadBuffer struct {
	cfg    Config
	sizer  sizer
	src    Filler
	chunks []*readChunk
	// 游标：chunks[ci].data[off] 为下一个读取位置。
	ci  int
	off int
	// low 为仍保留的最早偏移，chunks 为空时也是第一个 chunk 的起始偏移。
	low   int64
	pool  [][]byte
	marks typeutil.Bag[Mark]

	eof        bool
	emptyFills int

	scratch [varint.MaxLen64]byte
	logger  *log.MLogger
}

// NewReadBuffer 创建一个从 src 补充数据的读缓冲区。
func NewReadBuffer(cfg Config, src Filler) (*ReadBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, merr.WrapErrParameterInvalidMsg("read buffer source is nil")
	}
	return &ReadBuffer{
		cfg:    cfg,
		sizer:  sizer{cfg: cfg},
		src:    src,
		marks:  typeutil.NewBag[Mark](),
		logger: log.With(log.FieldComponent("read-buffer")),
	}, nil
}

// NewReadBufferBytes 创建一个只读取 data 的读缓冲区，data 不会被拷贝。
func NewReadBufferBytes(data []byte) *ReadBuffer {
	cfg := DefaultConfig()
	cfg.InitialSize = max(len(data), 1)
	r := &ReadBuffer{
		cfg:    cfg,
		sizer:  sizer{cfg: cfg},
		marks:  typeutil.NewBag[Mark](),
		eof:    true,
		logger: log.With(log.FieldComponent("read-buffer")),
	}
	r.sizer.next()
	r.chunks = []*readChunk{{data: data, n: len(data)}}
	return r
}

// Position 返回游标的全局偏移。
func (r *ReadBuffer) Position() int64 {
	if len(r.chunks) == 0 {
		return r.low
	}
	return r.chunks[r.ci].start + int64(r.off)
}

// Buffered 返回已缓冲、尚未读取的字节数。
func (r *ReadBuffer) Buffered() int {
	if len(r.chunks) == 0 {
		return 0
	}
	return int(r.chunks[len(r.chunks)-1].end() - r.Position())
}

// Chunks 返回当前保留的 chunk 数。
func (r *ReadBuffer) Chunks() int {
	return len(r.chunks)
}

// Pooled 返回池中可复用的 chunk 数。
func (r *ReadBuffer) Pooled() int {
	return len(r.pool)
}

// Mark 记录并返回当前位置。mark 会阻止其所在及之后的 chunk 被淘汰，
// 不再需要时应调用 ReleaseMark。
func (r *ReadBuffer) Mark() Mark {
	m := Mark(r.Position())
	r.marks.Insert(m)
	return m
}

// ReleaseMark 释放一次 Mark 的保留，同一位置被 mark 多次时需要释放同样次数。
func (r *ReadBuffer) ReleaseMark(m Mark) {
	if r.marks.Remove(m) {
		r.evict()
	}
}

// PositionToMark 将游标移动到 m。m 所在的 chunk 已被淘汰时返回 merr.ErrBufferInvalidMark。
func (r *ReadBuffer) PositionToMark(m Mark) error {
	pos := int64(m)
	high := r.low
	if len(r.chunks) > 0 {
		high = r.chunks[len(r.chunks)-1].end()
	}
	if pos < r.low || pos > high {
		r.logger.RatedWarn(10, "position to evicted mark",
			log.FieldPosition(pos), zap.Int64("low", r.low), zap.Int64("high", high))
		return merr.WrapErrBufferInvalidMark(pos, r.low, high)
	}
	if len(r.chunks) == 0 {
		return nil
	}
	i := sort.Search(len(r.chunks), func(i int) bool { return r.chunks[i].start > pos }) - 1
	r.ci, r.off = i, int(pos-r.chunks[i].start)
	r.normalize()
	r.evict()
	return nil
}

// normalize 当游标停在一个已填满 chunk 的末尾且后面还有 chunk 时，把游标移到下一个 chunk 开头。
func (r *ReadBuffer) normalize() {
	for r.ci+1 < len(r.chunks) && r.off == r.chunks[r.ci].n {
		r.ci++
		r.off = 0
	}
}

// evict 从头部淘汰不再需要保留的 chunk。
func (r *ReadBuffer) evict() {
	k := r.evictable(r.ci, len(r.chunks))
	if k == 0 {
		return
	}
	for i := 0; i < k; i++ {
		r.recycle(r.chunks[i].data)
		r.chunks[i] = nil
	}
	r.chunks = r.chunks[k:]
	r.ci -= k
	r.low = r.chunks[0].start
}

// evictable 计算游标位于 ci、共有 total 个 chunk 时，头部可以淘汰的 chunk 数。
// 最后一个 chunk 永远不会被淘汰。
func (r *ReadBuffer) evictable(ci, total int) int {
	core := r.cfg.coreChunks()
	if ci < core || total < 2 {
		return 0
	}
	m, marked := r.marks.Min()
	k := 0
	for k < total-1 && ci-k >= core {
		if marked && int64(m) < r.chunks[k].end() {
			break
		}
		k++
	}
	return k
}

func (r *ReadBuffer) recycle(data []byte) {
	if r.cfg.poolable(len(r.pool)) {
		r.pool = append(r.pool, data)
		metrics.BufferChunkRecycled.Inc()
		return
	}
	metrics.BufferChunkDiscarded.Inc()
}

// nextChunkSize 返回 takeChunk 下一次给出的 chunk 容量。
func (r *ReadBuffer) nextChunkSize() int {
	if n := len(r.pool); n > 0 {
		return len(r.pool[n-1])
	}
	return r.sizer.peek()
}

func (r *ReadBuffer) takeChunk() []byte {
	if n := len(r.pool); n > 0 {
		data := r.pool[n-1]
		r.pool[n-1] = nil
		r.pool = r.pool[:n-1]
		metrics.BufferChunkReused.Inc()
		return data
	}
	size := r.sizer.next()
	metrics.BufferChunkAllocations.WithLabelValues(metrics.ReadSide).Inc()
	metrics.BufferChunkSize.WithLabelValues(metrics.ReadSide).Observe(float64(size))
	return make([]byte, size)
}

// fill 调用一次数据源，返回新增的字节数。
func (r *ReadBuffer) fill() (int, error) {
	if r.eof {
		return 0, io.EOF
	}

	var tail *readChunk
	if len(r.chunks) > 0 {
		tail = r.chunks[len(r.chunks)-1]
	}
	if tail == nil || tail.n == len(tail.data) {
		start := r.low
		ci := r.ci
		if tail != nil {
			start = tail.end()
			if r.Position() == start {
				// 游标已读到末尾，追加后会落到新 chunk 上。
				ci = len(r.chunks)
			}
		}
		total := len(r.chunks) + 1
		if r.cfg.limited() && total-r.evictable(ci, total) > r.cfg.MaxChunks {
			if tail = r.compact(); tail == nil {
				metrics.BufferCapacityExceeded.WithLabelValues(metrics.ReadSide).Inc()
				r.logger.RatedWarn(10, "read buffer capacity exceeded",
					zap.Int("chunks", len(r.chunks)), zap.Int("limit", r.cfg.MaxChunks), zap.Int("marks", r.marks.Len()))
				return 0, merr.WrapErrBufferCapacityExceeded(total, r.cfg.MaxChunks)
			}
		} else {
			tail = &readChunk{data: r.takeChunk(), start: start}
			r.chunks = append(r.chunks, tail)
			r.normalize()
			r.evict()
		}
	}

	space := tail.data[tail.n:]
	n, err := r.src.Fill(space)
	if n < 0 || n > len(space) {
		return 0, merr.WrapErrIoFailedReason(fmt.Sprintf("invalid fill count %d, space %d", n, len(space)))
	}
	tail.n += n
	if n > 0 {
		r.emptyFills = 0
		metrics.BufferFilledBytes.Add(float64(n))
	}
	r.normalize()

	switch {
	case errors.Is(err, io.EOF):
		r.eof = true
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	case err != nil:
		if n > 0 {
			return n, nil
		}
		return 0, merr.WrapErrIoFailed("fill", err)
	case n == 0:
		r.emptyFills++
		if r.emptyFills >= maxEmptyFills {
			r.emptyFills = 0
			return 0, merr.WrapErrIoFailed("fill", io.ErrNoProgress)
		}
	}
	return n, nil
}

// compact 在 chunk 数达到上限时，把最早的未释放 mark（没有时为游标）之后的数据搬到一个新 chunk，
// 并淘汰其余全部 chunk，使跨 chunk 的值在上限内仍能读完。核心窗口在这里让位，mark 不会。
// 新 chunk 装不下这些数据时返回 nil，缓冲区保持不变。
func (r *ReadBuffer) compact() *readChunk {
	if len(r.chunks) == 0 {
		return nil
	}
	pos := r.Position()
	from := pos
	if m, ok := r.marks.Min(); ok && int64(m) < from {
		from = int64(m)
	}
	if from < r.low {
		return nil
	}
	remaining := int(r.chunks[len(r.chunks)-1].end() - from)
	if r.nextChunkSize() <= remaining {
		return nil
	}

	data := r.takeChunk()
	n := 0
	for i, c := range r.chunks {
		if c.end() > from {
			n += copy(data[n:], c.data[max(0, int(from-c.start)):c.n])
		}
		r.recycle(c.data)
		r.chunks[i] = nil
	}
	next := &readChunk{data: data, start: from, n: n}
	r.chunks = append(r.chunks[:0], next)
	r.ci, r.off = 0, int(pos-from)
	r.low = from
	metrics.BufferChunkCompacted.Inc()
	r.logger.Debug("read buffer compacted", log.FieldPosition(from), zap.Int("carried", n))
	return next
}

// require 确保游标之后至少有 n 个字节可读，不足时调用数据源补充。
func (r *ReadBuffer) require(n int) error {
	for r.Buffered() < n {
		if _, err := r.fill(); err != nil {
			if errors.Is(err, io.EOF) {
				return merr.WrapErrBufferUnexpectedEOD(n)
			}
			return err
		}
	}
	return nil
}

// peek 返回游标之后最多 n 个已缓冲字节，不消费也不补充数据。
// 数据跨 chunk 时拷贝到 scratch 中，n 不能超过 len(scratch)。
func (r *ReadBuffer) peek(n int) []byte {
	n = min(n, r.Buffered())
	if n == 0 {
		return nil
	}
	c := r.chunks[r.ci]
	if r.off+n <= c.n {
		return c.data[r.off : r.off+n]
	}
	out := r.scratch[:0]
	for i, off := r.ci, r.off; len(out) < n; i, off = i+1, 0 {
		c := r.chunks[i]
		out = append(out, c.data[off:min(c.n, off+n-len(out))]...)
	}
	return out
}

// skip 消费 n 个已缓冲字节。
func (r *ReadBuffer) skip(n int) {
	for n > 0 {
		c := r.chunks[r.ci]
		k := min(n, c.n-r.off)
		r.off += k
		n -= k
		if n > 0 {
			r.ci++
			r.off = 0
		}
	}
	r.normalize()
	r.evict()
}

// copyOut 把接下来的 len(p) 个已缓冲字节拷贝到 p 并消费。
func (r *ReadBuffer) copyOut(p []byte) {
	for done := 0; done < len(p); {
		c := r.chunks[r.ci]
		if r.off == c.n {
			r.ci++
			r.off = 0
			continue
		}
		k := copy(p[done:], c.data[r.off:c.n])
		r.off += k
		done += k
	}
	r.normalize()
	r.evict()
}

func (r *ReadBuffer) readFixed(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	buf := r.scratch[:n]
	r.copyOut(buf)
	return buf, nil
}

// readVarint 先确认变长整数完整再解码消费。
func (r *ReadBuffer) readVarint(maxLen int) (uint64, error) {
	for {
		buf := r.peek(maxLen)
		ok, err := varint.Complete(buf, maxLen)
		if err != nil {
			return 0, err
		}
		if ok {
			u, n, err := varint.DecodeUvarint(buf, maxLen)
			if err != nil {
				return 0, err
			}
			r.skip(n)
			return u, nil
		}
		if len(buf) >= maxLen {
			return 0, merr.WrapErrBufferMalformedVarint(maxLen * 7)
		}
		if err := r.require(len(buf) + 1); err != nil {
			return 0, err
		}
	}
}

// CanRead 判断是否已缓冲至少 n 个字节，不会调用数据源。
func (r *ReadBuffer) CanRead(n int) bool {
	return r.Buffered() >= n
}

// CanReadInt 判断已缓冲的数据中是否有一个完整的 32 位变长整数，不会调用数据源。
func (r *ReadBuffer) CanReadInt() (bool, error) {
	return varint.Complete(r.peek(varint.MaxLen32), varint.MaxLen32)
}

// CanReadLong 判断已缓冲的数据中是否有一个完整的 64 位变长整数，不会调用数据源。
func (r *ReadBuffer) CanReadLong() (bool, error) {
	return varint.Complete(r.peek(varint.MaxLen64), varint.MaxLen64)
}

// Prefetch 显式调用一次数据源，返回新增的字节数，不消费数据。
// 数据源已结束时返回 io.EOF。
func (r *ReadBuffer) Prefetch() (int, error) {
	return r.fill()
}

// ReadByte 实现 io.ByteReader。
func (r *ReadBuffer) ReadByte() (byte, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	c := r.chunks[r.ci]
	b := c.data[r.off]
	r.off++
	r.normalize()
	r.evict()
	return b, nil
}

// Read 实现 io.Reader：优先返回已缓冲的数据，没有缓冲数据时补充一次。
func (r *ReadBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.Buffered() == 0 {
		if _, err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := min(len(p), r.Buffered())
	r.copyOut(p[:n])
	return n, nil
}

// ReadFull 读满 p，数据不足时返回 merr.ErrBufferUnexpectedEOD。
func (r *ReadBuffer) ReadFull(p []byte) error {
	if err := r.require(len(p)); err != nil {
		return err
	}
	r.copyOut(p)
	return nil
}

// ReadBytes 读取 n 个字节并返回新分配的切片。
func (r *ReadBuffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, merr.WrapErrParameterInvalidMsg("negative byte count %d", n)
	}
	// 先确认数据足够再分配，避免损坏的长度前缀导致超大分配。
	if err := r.require(n); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	r.copyOut(p)
	return p, nil
}

// ReadBool 读取 1 字节，非 0 即为 true。
func (r *ReadBuffer) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *ReadBuffer) ReadChar() (uint16, error) {
	buf, err := r.readFixed(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (r *ReadBuffer) ReadVarChar() (uint16, error) {
	v, err := r.ReadVarInt16(true)
	return uint16(v), err
}

func (r *ReadBuffer) ReadInt16() (int16, error) {
	buf, err := r.readFixed(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(buf)), nil
}

func (r *ReadBuffer) ReadVarInt16(optimizePositive bool) (int16, error) {
	for {
		buf := r.peek(varint.MaxLen16)
		v, n, err := varint.Decode16(buf, optimizePositive)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			r.skip(n)
			return v, nil
		}
		if err := r.require(len(buf) + 1); err != nil {
			return 0, err
		}
	}
}

func (r *ReadBuffer) ReadInt32() (int32, error) {
	buf, err := r.readFixed(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

func (r *ReadBuffer) ReadVarInt32(optimizePositive bool) (int32, error) {
	u, err := r.readVarint(varint.MaxLen32)
	if err != nil {
		return 0, err
	}
	if optimizePositive {
		return int32(uint32(u)), nil
	}
	return varint.UnZigZag32(uint32(u)), nil
}

func (r *ReadBuffer) ReadInt64() (int64, error) {
	buf, err := r.readFixed(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

func (r *ReadBuffer) ReadVarInt64(optimizePositive bool) (int64, error) {
	u, err := r.readVarint(varint.MaxLen64)
	if err != nil {
		return 0, err
	}
	if optimizePositive {
		return int64(u), nil
	}
	return varint.UnZigZag64(u), nil
}

func (r *ReadBuffer) ReadFloat32() (float32, error) {
	buf, err := r.readFixed(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(buf)), nil
}

func (r *ReadBuffer) ReadFloat64() (float64, error) {
	buf, err := r.readFixed(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
}

func (r *ReadBuffer) ReadScaledFloat32(precision int32, optimizePositive bool) (float32, error) {
	if precision <= 0 {
		return 0, merr.WrapErrParameterInvalidMsg("precision must be positive, got %d", precision)
	}
	i, err := r.ReadVarInt32(optimizePositive)
	if err != nil {
		return 0, err
	}
	return varint.UnscaleFloat32(i, precision)
}

func (r *ReadBuffer) ReadScaledFloat64(precision int64, optimizePositive bool) (float64, error) {
	if precision <= 0 {
		return 0, merr.WrapErrParameterInvalidMsg("precision must be positive, got %d", precision)
	}
	i, err := r.ReadVarInt64(optimizePositive)
	if err != nil {
		return 0, err
	}
	return varint.UnscaleFloat64(i, precision)
}

// ReadString 读取一个由 WriteString 写入的字符串。
func (r *ReadBuffer) ReadString() (string, error) {
	var out []byte
	for first := true; ; first = false {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		last := b&lastUnit != 0
		if ch := b & asciiMask; ch != 0 {
			out = append(out, ch)
		} else {
			payload, err := r.readVarint(varint.MaxLen32)
			if err != nil {
				return "", err
			}
			if payload == emptyPayload && first && last {
				return "", nil
			}
			if out, err = appendPayload(out, payload); err != nil {
				return "", err
			}
		}
		if last {
			return string(out), nil
		}
	}
}
