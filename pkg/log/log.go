// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	_globalL       atomic.Pointer[zap.Logger]
	_globalP       atomic.Pointer[ZapProperties]
	_globalR       atomic.Pointer[RateLimiter]
	_globalCleanup atomic.Pointer[func()]
)

// RateLimiter 是限流日志使用的最小接口，jaeger 的 utils.RateLimiter 满足它。
type RateLimiter interface {
	CheckCredit(delta float64) bool
}

type nopRateLimiter struct{}

func (nopRateLimiter) CheckCredit(float64) bool { return true }

func init() {
	lg, props, err := InitLogger(&Config{Level: "debug", Stdout: true}, zap.OnFatal(zapcore.WriteThenPanic))
	if err != nil {
		panic(err)
	}
	ReplaceGlobals(lg, props)
	configureRateLimiterFromEnv()
}

// InitLogger 按 cfg 创建 Logger：File.Filename 非空时写入 lumberjack 轮转文件，
// Stdout 为 true 时同时写标准输出，两者都关闭时丢弃全部输出。
// 返回的 Logger 额外跳过一层调用栈，供包级 Info/Warn 等函数使用。
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	var outputs []zapcore.WriteSyncer
	if cfg.File.Filename != "" {
		lg, err := initFileLog(&cfg.File)
		if err != nil {
			return nil, nil, err
		}
		registerCleanup(func() { _ = lg.Close() })
		outputs = append(outputs, zapcore.AddSync(lg))
	}
	if cfg.Stdout {
		stdout, _, err := zap.Open("stdout")
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, stdout)
	}
	// trace 不是 zap 的级别，按 debug 处理。
	if strings.EqualFold(cfg.Level, "trace") {
		cfg.Level = zapcore.DebugLevel.String()
	}
	lg, props, err := InitLoggerWithWriteSyncer(cfg, zap.CombineWriteSyncers(outputs...), opts...)
	if err != nil {
		return nil, nil, err
	}
	return lg.WithOptions(zap.AddCallerSkip(1)), props, nil
}

// InitLoggerWithWriteSyncer 创建写入 output 的 Logger，级别可以之后通过 props.Level 调整。
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	cfg.initialize()
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	core := zapcore.NewCore(newZapEncoder(cfg), output, level)
	lg := zap.New(core, append(cfg.buildOptions(output), opts...)...)
	return lg, &ZapProperties{Core: core, Syncer: output, Level: level}, nil
}

func initFileLog(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	logPath := filepath.Join(cfg.RootPath, cfg.Filename)
	if st, err := os.Stat(logPath); err == nil && st.IsDir() {
		return nil, errors.Newf("log file %s is a directory", logPath)
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

// L 返回全局 Logger，可以通过 ReplaceGlobals 替换，并发安全。
func L() *zap.Logger {
	return _globalL.Load()
}

// R 返回全局限流器，未开启限流时返回永不丢弃的实现。
func R() RateLimiter {
	if rl := _globalR.Load(); rl != nil {
		return *rl
	}
	return nopRateLimiter{}
}

// ReplaceGlobals 替换全局 Logger 及其属性，并发安全。
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	_globalL.Store(logger)
	_globalP.Store(props)
}

// Cleanup 关闭 InitLogger 打开的日志文件。
func Cleanup() {
	if cleanup := _globalCleanup.Swap(nil); cleanup != nil {
		(*cleanup)()
	}
}

// registerCleanup 记录新的清理函数，并立即执行被替换的旧函数。
func registerCleanup(cleanup func()) {
	if old := _globalCleanup.Swap(&cleanup); old != nil {
		(*old)()
	}
}

// Sync 刷新全局 Logger 的缓冲。
func Sync() error {
	return L().Sync()
}

// configureRateLimiterFromEnv 按 KRYO_LOG_RATE_* 环境变量配置全局限流器：
//   - KRYO_LOG_RATE_ENABLE: 为 "1"/"true" 时开启，默认关闭；
//   - KRYO_LOG_RATE_CREDIT_PER_SECOND: 每秒恢复的额度，默认 1.0；
//   - KRYO_LOG_RATE_MAX_BALANCE: 额度上限，默认 60.0。
func configureRateLimiterFromEnv() {
	var rl RateLimiter = nopRateLimiter{}
	if getenvBool("KRYO_LOG_RATE_ENABLE") {
		rl = utils.NewRateLimiter(
			getenvFloat("KRYO_LOG_RATE_CREDIT_PER_SECOND", 1.0),
			getenvFloat("KRYO_LOG_RATE_MAX_BALANCE", 60.0))
	}
	_globalR.Store(&rl)
}

func getenvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getenvFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return f
}
