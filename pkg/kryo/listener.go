package kryo

import (
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Listener 接收注册表事件。
type Listener interface {
	// RemoteEntityRemoved 在远端实体被移除后调用，实现方应释放与该实体相关的缓存。
	RemoteEntityRemoved(id int64)
}

type listenerFunc struct {
	fn func(id int64)
}

func (l *listenerFunc) RemoteEntityRemoved(id int64) {
	l.fn(id)
}

// ListenerFunc 把函数包装为 Listener。每次调用返回不同的实例，移除时需使用同一个返回值。
func ListenerFunc(fn func(id int64)) Listener {
	return &listenerFunc{fn: fn}
}

// AddListener 将 l 添加到监听列表头部，已存在时忽略。
func (k *Kryo) AddListener(l Listener) {
	k.listenerMu.Lock()
	defer k.listenerMu.Unlock()
	current := *k.listeners.Load()
	if lo.Contains(current, l) {
		return
	}
	next := make([]Listener, 0, len(current)+1)
	next = append(next, l)
	next = append(next, current...)
	k.listeners.Store(&next)
}

// RemoveListener 按实例移除 l，不存在时忽略。
func (k *Kryo) RemoveListener(l Listener) {
	k.listenerMu.Lock()
	defer k.listenerMu.Unlock()
	current := *k.listeners.Load()
	if !lo.Contains(current, l) {
		return
	}
	next := lo.Without(current, l)
	k.listeners.Store(&next)
}

// Listeners 返回当前监听列表的快照，调用方不得修改。
func (k *Kryo) Listeners() []Listener {
	return *k.listeners.Load()
}

// RemoveRemoteEntity 移除远端实体并通知所有监听者。
// 通知使用调用时刻的快照，回调中增删监听者不影响本次通知。
func (k *Kryo) RemoveRemoteEntity(id int64) {
	k.entities.TryRemove(id)
	listeners := k.Listeners()
	k.logger.Debug("remote entity removed", zap.Int64("entity", id), zap.Int("listeners", len(listeners)))
	for _, l := range listeners {
		l.RemoteEntityRemoved(id)
	}
}
