// Package kryo 维护类型到序列化器的注册表，并基于 chunk 缓冲区完成对象的编解码。
//
// 每个注册类型分配一个从 1 开始递增的 id，写入时以无符号变长整数记录，
// id 0（NullID）表示空对象。读写双方必须以相同的顺序注册相同的类型。
//
// Kryo 可被多个协程同时使用，但每个协程需要使用各自的缓冲区。
package kryo

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/log"
	"github.com/lk2023060901/danmu-kryo/pkg/metrics"
	"github.com/lk2023060901/danmu-kryo/pkg/util/merr"
	"github.com/lk2023060901/danmu-kryo/pkg/util/typeutil"
)

// NullID 是空对象使用的类型 id。
const NullID int32 = 0

const (
	markerNull    byte = 0
	markerPresent byte = 1
)

// Kryo 是类型注册表。
type Kryo struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Registration
	byID   map[int32]*Registration
	nextID int32

	listenerMu sync.Mutex
	listeners  *atomic.Pointer[[]Listener]
	// entities 记录编解码过程中出现过的远端实体 id。
	entities *typeutil.ConcurrentSet[int64]

	logger *log.MLogger
}

// New 创建注册表并按固定顺序注册内置类型：
// bool, int8, uint16(char), int16, int32, int64, float32, float64, string, []byte。
func New() *Kryo {
	k := &Kryo{
		byType:    make(map[reflect.Type]*Registration, 64),
		byID:      make(map[int32]*Registration, 64),
		nextID:    NullID + 1,
		listeners: atomic.NewPointer(&[]Listener{}),
		entities:  typeutil.NewConcurrentSet[int64](),
		logger:    log.With(log.FieldModule("kryo")),
	}
	k.Register(false, BoolSerializer)
	k.Register(int8(0), Int8Serializer)
	k.Register(uint16(0), CharSerializer)
	k.Register(int16(0), Int16Serializer)
	k.Register(int32(0), Int32Serializer(false))
	k.Register(int64(0), Int64Serializer(false))
	k.Register(float32(0), Float32Serializer)
	k.Register(float64(0), Float64Serializer)
	k.Register("", StringSerializer)
	k.Register([]byte(nil), BytesSerializer)
	return k
}

// Register 以 sample 的动态类型注册 s。sample 或 s 为 nil 时 panic。
func (k *Kryo) Register(sample any, s Serializer) *Registration {
	t := reflect.TypeOf(sample)
	if t == nil {
		panic(merr.WrapErrParameterInvalidMsg("register sample cannot be nil"))
	}
	return k.RegisterType(t, s)
}

// RegisterFor 注册类型 T，适用于接口类型等无法给出样例值的场景。
func RegisterFor[T any](k *Kryo, s Serializer) *Registration {
	return k.RegisterType(reflect.TypeFor[T](), s)
}

// RegisterType 注册 t。已注册的类型保留原 id，只替换序列化器。
// t 或 s 为 nil 时 panic。
func (k *Kryo) RegisterType(t reflect.Type, s Serializer) *Registration {
	if t == nil {
		panic(merr.WrapErrParameterInvalidMsg("register type cannot be nil"))
	}
	if s == nil {
		panic(merr.WrapErrParameterInvalidMsg("serializer of %s cannot be nil", t))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.nextID
	if existing, ok := k.byType[t]; ok {
		id = existing.id
	} else {
		k.nextID++
	}
	return k.put(t, id, s)
}

// RegisterTypeWithID 以指定 id 注册 t，用于跨进程固定 id。
// id 已被其他类型占用时返回 merr.ErrParameterInvalid。
func (k *Kryo) RegisterTypeWithID(t reflect.Type, id int32, s Serializer) (*Registration, error) {
	if t == nil || s == nil {
		return nil, merr.WrapErrParameterInvalidMsg("register type and serializer cannot be nil")
	}
	if id <= NullID {
		return nil, merr.WrapErrParameterInvalidRange(NullID+1, int32(1<<31-1), id, "class id")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if other, ok := k.byID[id]; ok && other.typ != t {
		return nil, merr.WrapErrParameterInvalidMsg("class id %d already registered by %s", id, other.typ)
	}
	if existing, ok := k.byType[t]; ok && existing.id != id {
		delete(k.byID, existing.id)
	}
	if id >= k.nextID {
		k.nextID = id + 1
	}
	return k.put(t, id, s), nil
}

func (k *Kryo) put(t reflect.Type, id int32, s Serializer) *Registration {
	reg := newRegistration(t, id, s)
	k.byType[t] = reg
	k.byID[id] = reg
	metrics.RegistryRegistrations.Set(float64(len(k.byType)))
	k.logger.Debug("registered type",
		log.FieldType(reg.Name()),
		log.FieldClassID(id),
		zap.String("serializer", fmt.Sprintf("%T", s)))
	return reg
}

// Registration 返回 t 的注册信息，未注册时返回 merr.ErrUnregisteredType。
func (k *Kryo) Registration(t reflect.Type) (*Registration, error) {
	if t == nil {
		return nil, merr.WrapErrParameterInvalidMsg("type cannot be nil")
	}
	k.mu.RLock()
	reg, ok := k.byType[t]
	k.mu.RUnlock()
	if !ok {
		return nil, merr.WrapErrUnregisteredType(t.String())
	}
	return reg, nil
}

// RegistrationByID 返回 id 的注册信息，未知 id 返回 merr.ErrUnknownClassID。
func (k *Kryo) RegistrationByID(id int32) (*Registration, error) {
	k.mu.RLock()
	reg, ok := k.byID[id]
	k.mu.RUnlock()
	if !ok {
		return nil, merr.WrapErrUnknownClassID(id)
	}
	return reg, nil
}

// Len 返回已注册的类型数。
func (k *Kryo) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byType)
}

// WriteClass 写入 t 的类型 id。
func (k *Kryo) WriteClass(w *chunk.WriteBuffer, t reflect.Type) (*Registration, error) {
	reg, err := k.Registration(t)
	if err != nil {
		return nil, err
	}
	if _, err := w.WriteVarInt32(reg.id, true); err != nil {
		return nil, err
	}
	return reg, nil
}

// ReadClass 读取类型 id。读到 NullID 时返回 (nil, nil)。
func (k *Kryo) ReadClass(r *chunk.ReadBuffer) (*Registration, error) {
	id, err := r.ReadVarInt32(true)
	if err != nil {
		return nil, err
	}
	if id == NullID {
		return nil, nil
	}
	return k.RegistrationByID(id)
}

// WriteClassAndObject 先写类型 id 再写对象数据，v 为 nil 时只写 NullID。
func (k *Kryo) WriteClassAndObject(ctx context.Context, w *chunk.WriteBuffer, v any) error {
	if isNil(v) {
		_, err := w.WriteVarInt32(NullID, true)
		return err
	}
	reg, err := k.WriteClass(w, reflect.TypeOf(v))
	if err != nil {
		return merr.WrapErrSerialize(typeName(v), err)
	}
	return k.writeData(ctx, w, reg, v)
}

// ReadClassAndObject 读取 WriteClassAndObject 写入的对象，空对象返回 (nil, nil)。
func (k *Kryo) ReadClassAndObject(ctx context.Context, r *chunk.ReadBuffer) (any, error) {
	reg, err := k.ReadClass(r)
	if err != nil {
		return nil, merr.WrapErrDeserialize("unknown", err)
	}
	if reg == nil {
		return nil, nil
	}
	return k.readData(ctx, r, reg)
}

// WriteObject 按 v 的注册类型写入对象数据，不写类型 id。
// 可为空的类型（指针、切片、map、接口）先写 1 字节的存在标记。
func (k *Kryo) WriteObject(ctx context.Context, w *chunk.WriteBuffer, v any) error {
	t := reflect.TypeOf(v)
	if t == nil {
		return w.WriteByte(markerNull)
	}
	reg, err := k.Registration(t)
	if err != nil {
		return merr.WrapErrSerialize(t.String(), err)
	}
	if reg.canBeNull {
		if isNil(v) {
			return w.WriteByte(markerNull)
		}
		if err := w.WriteByte(markerPresent); err != nil {
			return err
		}
	}
	return k.writeData(ctx, w, reg, v)
}

// ReadObject 读取 WriteObject 写入的 t 类型对象，空对象返回 t 的零值。
func (k *Kryo) ReadObject(ctx context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error) {
	reg, err := k.Registration(t)
	if err != nil {
		return nil, merr.WrapErrDeserialize(typeString(t), err)
	}
	if reg.canBeNull {
		marker, err := r.ReadByte()
		if err != nil {
			return nil, merr.WrapErrDeserialize(reg.Name(), err)
		}
		switch marker {
		case markerNull:
			return reflect.Zero(t).Interface(), nil
		case markerPresent:
		default:
			return nil, merr.WrapErrDeserialize(reg.Name(),
				merr.WrapErrParameterInvalidMsg("invalid null marker %d", marker))
		}
	}
	return k.readData(ctx, r, reg)
}

// WriteObjectData 直接写入对象数据，v 不能为空。
func (k *Kryo) WriteObjectData(ctx context.Context, w *chunk.WriteBuffer, v any) error {
	if isNil(v) {
		return merr.WrapErrParameterInvalidMsg("object data cannot be nil")
	}
	reg, err := k.Registration(reflect.TypeOf(v))
	if err != nil {
		return merr.WrapErrSerialize(typeName(v), err)
	}
	return k.writeData(ctx, w, reg, v)
}

// ReadObjectData 读取 WriteObjectData 写入的 t 类型对象。
func (k *Kryo) ReadObjectData(ctx context.Context, r *chunk.ReadBuffer, t reflect.Type) (any, error) {
	reg, err := k.Registration(t)
	if err != nil {
		return nil, merr.WrapErrDeserialize(typeString(t), err)
	}
	return k.readData(ctx, r, reg)
}

// ReadObjectAs 是 ReadObject 的泛型版本。T 为接口类型且写入的是 null 时返回零值。
func ReadObjectAs[T any](ctx context.Context, k *Kryo, r *chunk.ReadBuffer) (T, error) {
	var zero T
	t := reflect.TypeFor[T]()
	v, err := k.ReadObject(ctx, r, t)
	if err != nil || v == nil {
		return zero, err
	}
	tv, ok := v.(T)
	if !ok {
		return zero, merr.WrapErrDeserialize(typeString(t),
			merr.WrapErrParameterInvalidMsg("serializer returned %T", v))
	}
	return tv, nil
}

func (k *Kryo) writeData(ctx context.Context, w *chunk.WriteBuffer, reg *Registration, v any) error {
	ctx = k.ensureContext(ctx)
	if err := reg.serializer.Write(ctx, w, v); err != nil {
		metrics.RegistryFailures.WithLabelValues(reg.Name(), metrics.SerializeOp).Inc()
		log.Ctx(ctx).RatedWarn(10, "serialize failed",
			log.FieldType(reg.Name()), log.FieldPosition(w.Position()), zap.Error(err))
		return merr.WrapErrSerialize(reg.Name(), err)
	}
	return nil
}

func (k *Kryo) readData(ctx context.Context, r *chunk.ReadBuffer, reg *Registration) (any, error) {
	ctx = k.ensureContext(ctx)
	v, err := reg.serializer.Read(ctx, r, reg.typ)
	if err != nil {
		metrics.RegistryFailures.WithLabelValues(reg.Name(), metrics.DeserializeOp).Inc()
		log.Ctx(ctx).RatedWarn(10, "deserialize failed",
			log.FieldType(reg.Name()), log.FieldPosition(r.Position()), zap.Error(err))
		return nil, merr.WrapErrDeserialize(reg.Name(), err)
	}
	return v, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func typeName(v any) string {
	return typeString(reflect.TypeOf(v))
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	return t.String()
}
