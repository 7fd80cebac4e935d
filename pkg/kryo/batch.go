package kryo

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/log"
	"github.com/lk2023060901/danmu-kryo/pkg/metrics"
	"github.com/lk2023060901/danmu-kryo/pkg/util/conc"
)

// EncodeBatch 在 pool 上并发编码 values，每个值使用独立的 WriteBuffer，
// 输出为 WriteClassAndObject 格式，顺序与 values 一致。
// 任意一个值失败时返回第一个错误。
func (k *Kryo) EncodeBatch(ctx context.Context, pool *conc.Pool[[]byte], cfg chunk.Config, values []any) ([][]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, span := log.StartIntent(ctx, "kryo", "encode-batch")
	defer span.End()
	start := time.Now()
	futures := make([]*conc.Future[[]byte], 0, len(values))
	for _, v := range values {
		futures = append(futures, pool.Submit(func() ([]byte, error) {
			taskCtx := k.taskContext(ctx)
			w, err := chunk.NewWriteBuffer(cfg)
			if err != nil {
				return nil, err
			}
			if err := k.WriteClassAndObject(taskCtx, w, v); err != nil {
				return nil, err
			}
			return w.Bytes(), nil
		}))
	}
	if err := conc.AwaitAll(futures...); err != nil {
		return nil, err
	}

	out := make([][]byte, len(futures))
	for i, f := range futures {
		out[i] = f.Value()
	}
	cost := time.Since(start)
	metrics.RegistryBatchLatency.Observe(float64(cost.Milliseconds()))
	log.Ctx(ctx).Debug("batch encoded", zap.Int("count", len(values)), zap.Duration("cost", cost))
	return out, nil
}

// DecodeBatch 是 EncodeBatch 的逆操作。
func (k *Kryo) DecodeBatch(ctx context.Context, pool *conc.Pool[any], data [][]byte) ([]any, error) {
	ctx, span := log.StartIntent(ctx, "kryo", "decode-batch")
	defer span.End()
	futures := make([]*conc.Future[any], 0, len(data))
	for _, b := range data {
		futures = append(futures, pool.Submit(func() (any, error) {
			return k.ReadClassAndObject(k.taskContext(ctx), chunk.NewReadBufferBytes(b))
		}))
	}
	if err := conc.AwaitAll(futures...); err != nil {
		return nil, err
	}
	out := make([]any, len(futures))
	for i, f := range futures {
		out[i] = f.Value()
	}
	return out, nil
}

// taskContext 为每个并发任务创建独立的 Context，继承远端实体 id。
func (k *Kryo) taskContext(ctx context.Context) context.Context {
	var remote int64
	if kc, ok := ContextFrom(ctx); ok {
		remote = kc.RemoteEntity()
	}
	return WithContext(ctx, NewContext(remote))
}
