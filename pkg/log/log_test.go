package log

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type bufferSyncer struct {
	bytes.Buffer
}

func (b *bufferSyncer) Sync() error { return nil }

func TestInitLoggerWithWriteSyncer(t *testing.T) {
	out := &bufferSyncer{}
	lg, props, err := InitLoggerWithWriteSyncer(&Config{Level: "info", Format: FormatJSON}, out)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, props.Level.Level())

	lg.Debug("dropped")
	lg.Info("kept", FieldType("main.Point"), FieldClassID(11))
	assert.NotContains(t, out.String(), "dropped")
	assert.Contains(t, out.String(), `"type":"main.Point"`)
	assert.Contains(t, out.String(), `"classID":11`)

	_, _, err = InitLoggerWithWriteSyncer(&Config{Level: "nope"}, out)
	assert.Error(t, err)
}

func TestInitLoggerFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Level: "debug", File: FileLogConfig{RootPath: dir, Filename: "codec.log"}}
	lg, _, err := InitLogger(cfg)
	require.NoError(t, err)
	lg.Info("to file", FieldPosition(42))
	require.NoError(t, lg.Sync())
	Cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "codec.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.Equal(t, defaultLogMaxSize, cfg.File.MaxSize)

	_, _, err = InitLogger(&Config{Level: "debug", File: FileLogConfig{RootPath: filepath.Dir(dir), Filename: filepath.Base(dir)}})
	assert.Error(t, err)
}

func TestCtxLogger(t *testing.T) {
	oldL, oldP := L(), _globalP.Load()
	t.Cleanup(func() { ReplaceGlobals(oldL, oldP) })

	out := &bufferSyncer{}
	lg, props, err := InitLoggerWithWriteSyncer(&Config{Level: "debug", Format: FormatJSON}, out)
	require.NoError(t, err)
	ReplaceGlobals(lg, props)

	ctx := WithFields(context.Background(), FieldModule("kryo"))
	ctx = WithRemoteEntity(ctx, 7)
	Ctx(ctx).Info("with fields")
	assert.Contains(t, out.String(), `"module":"kryo"`)
	assert.Contains(t, out.String(), `"remoteEntity":7`)
	assert.NotNil(t, Ctx(nil))
	assert.NotNil(t, Ctx(context.Background()).Logger)

	SetLevel(zapcore.WarnLevel)
	assert.Equal(t, zapcore.WarnLevel, GetLevel())
	SetLevel(zapcore.DebugLevel)
}

func TestRatedLogger(t *testing.T) {
	l := With(FieldComponent("buffer")).WithRateGroup("test.rated", 1, 1)
	assert.True(t, l.RatedWarn(1, "first"))
	assert.False(t, l.RatedWarn(1, "second"))

	// 同名分组共享额度。
	shared := With().WithRateGroup("test.rated", 1, 1)
	assert.False(t, shared.RatedWarn(1, "third"))

	// 未绑定分组时使用全局限流器，默认不限流。
	assert.True(t, With().RatedWarn(1, "global"))
	assert.True(t, With().RatedWarn(1, "global again"))
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())

	l := With(zap.String("owner", "test"))
	b.SetLogger(l)
	assert.Same(t, l, b.Logger())
}

type intentKey struct{}

func TestStartIntent(t *testing.T) {
	oldL, oldP := L(), _globalP.Load()
	t.Cleanup(func() { ReplaceGlobals(oldL, oldP) })

	out := &bufferSyncer{}
	lg, props, err := InitLoggerWithWriteSyncer(&Config{Level: "debug", Format: FormatJSON}, out)
	require.NoError(t, err)
	ReplaceGlobals(lg, props)

	parent := context.WithValue(context.Background(), intentKey{}, "kept")
	ctx, span := StartIntent(parent, "kryo", "encode-batch")
	defer span.End()

	assert.Equal(t, "kept", ctx.Value(intentKey{}))
	Ctx(ctx).Info("inside intent")
	assert.Contains(t, out.String(), `"role":"kryo"`)
	assert.Contains(t, out.String(), `"intent":"encode-batch"`)
	// 没有配置 TracerProvider 时 span 不携带 trace id。
	assert.NotContains(t, out.String(), "traceID")
}
