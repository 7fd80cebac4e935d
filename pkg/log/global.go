// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxLogKey struct{}

// Debug 使用全局 Logger 输出 Debug 日志。优先使用 Ctx(ctx).Debug。
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info 使用全局 Logger 输出 Info 日志。优先使用 Ctx(ctx).Info。
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn 使用全局 Logger 输出 Warn 日志。优先使用 Ctx(ctx).Warn。
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error 使用全局 Logger 输出 Error 日志。优先使用 Ctx(ctx).Error。
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// With 基于全局 Logger 创建携带 fields 的 MLogger，供缓冲区等长生命周期对象持有。
func With(fields ...zap.Field) *MLogger {
	return &MLogger{Logger: L().With(fields...).WithOptions(zap.AddCallerSkip(-1))}
}

func SetLevel(l zapcore.Level) {
	_globalP.Load().Level.SetLevel(l)
}

func GetLevel() zapcore.Level {
	return _globalP.Load().Level.Level()
}

// WithRemoteEntity 让 ctx 上的 Logger 带上远端实体 id。
func WithRemoteEntity(ctx context.Context, entityID int64) context.Context {
	return WithFields(ctx, zap.Int64("remoteEntity", entityID))
}

// WithFields 在 ctx 已有 Logger（没有则取全局 Logger）的基础上追加字段。
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	base := L().WithOptions(zap.AddCallerSkip(-1))
	if ml, ok := ctx.Value(ctxLogKey{}).(*MLogger); ok {
		base = ml.Logger
	}
	return context.WithValue(ctx, ctxLogKey{}, &MLogger{Logger: base.With(fields...)})
}

// StartIntent 在 ctx 上开启一个名为 intent 的 span，并让返回的上下文输出日志时带上
// role、intent 以及有效的 traceID。调用方负责结束 span。
func StartIntent(ctx context.Context, name string, intent string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	intentCtx, span := otel.Tracer(name).Start(ctx, intent)
	fields := []zap.Field{zap.String("role", name), zap.String("intent", intent)}
	if sc := span.SpanContext(); sc.HasTraceID() {
		fields = append(fields, zap.String("traceID", sc.TraceID().String()))
	}
	return WithFields(intentCtx, fields...), span
}

// Ctx 返回 ctx 上携带的 Logger；没有时退回到全局 Logger。
func Ctx(ctx context.Context) *MLogger {
	if ctx != nil {
		if ml, ok := ctx.Value(ctxLogKey{}).(*MLogger); ok {
			return ml
		}
	}
	return &MLogger{Logger: L().WithOptions(zap.AddCallerSkip(-1))}
}
