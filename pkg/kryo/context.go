package kryo

import (
	"context"
	"slices"
	"sync"

	"github.com/lk2023060901/danmu-kryo/pkg/log"
)

type contextKey struct{}

// Context 是一次编解码操作的状态，通过 context.Context 在序列化器之间传递。
// 嵌套的序列化器可以通过 Put/Get 共享临时数据。
type Context struct {
	mu           sync.Mutex
	remoteEntity int64
	values       map[any]any
}

func NewContext(remoteEntity int64) *Context {
	return &Context{remoteEntity: remoteEntity}
}

// RemoteEntity 返回本次操作对应的远端实体 id，0 表示本地。
func (c *Context) RemoteEntity() int64 {
	return c.remoteEntity
}

func (c *Context) Get(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) Put(key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = value
}

// Reset 清空临时数据，保留远端实体 id。
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.values)
}

// WithContext 将 kc 附加到 ctx，远端实体 id 同时写入日志字段。
func WithContext(ctx context.Context, kc *Context) context.Context {
	if kc.remoteEntity != 0 {
		ctx = log.WithRemoteEntity(ctx, kc.remoteEntity)
	}
	return context.WithValue(ctx, contextKey{}, kc)
}

// ContextFrom 取出 ctx 中的 Context。
func ContextFrom(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	kc, ok := ctx.Value(contextKey{}).(*Context)
	return kc, ok
}

// ensureContext 保证 ctx 中存在 Context，并记录其中的远端实体。
func (k *Kryo) ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	kc, ok := ContextFrom(ctx)
	if !ok {
		return WithContext(ctx, NewContext(0))
	}
	if kc.remoteEntity != 0 {
		k.entities.Insert(kc.remoteEntity)
	}
	return ctx
}

// RemoteEntities 按升序返回编解码过程中出现过且尚未移除的远端实体 id。
func (k *Kryo) RemoteEntities() []int64 {
	ids := k.entities.Collect()
	slices.Sort(ids)
	return ids
}
