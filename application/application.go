package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-kryo/pkg/buffer/chunk"
	"github.com/lk2023060901/danmu-kryo/pkg/kryo"
	zlog "github.com/lk2023060901/danmu-kryo/pkg/log"
	"github.com/lk2023060901/danmu-kryo/pkg/metrics"
	zviper "github.com/lk2023060901/danmu-kryo/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	configPathEnv     = "KRYO_CONFIG_FILE_PATH"

	writeBufferKey = "buffer.write"
	readBufferKey  = "buffer.read"
	loggingKey     = "logging"
)

// Application 是编解码运行时的容器，负责加载配置、初始化日志与指标，
// 并持有缓冲区配置与类型注册表。
type Application struct {
	cfg      *zviper.Config
	loggers  map[string]*zlog.MLogger
	registry *prometheus.Registry
	kryo     *kryo.Kryo

	writeConfig chunk.Config
	readConfig  chunk.Config
}

func New() *Application {
	return &Application{}
}

// Run 以 os.Args 启动，配置文件路径的优先级从低到高为：
//  1. 默认 ./config.yaml，不存在时只使用默认值与环境变量；
//  2. 环境变量 KRYO_CONFIG_FILE_PATH；
//  3. 命令行 --config <path> 或 --config=<path>。
func (a *Application) Run() error {
	return a.RunWithArgs(os.Args[1:])
}

// RunWithArgs 与 Run 相同，命令行参数由调用方给出。
func (a *Application) RunWithArgs(args []string) error {
	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}
	if err := a.initBufferConfigs(); err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	metrics.Register(a.registry)
	a.kryo = kryo.New()

	zlog.Info("application started",
		zap.Int("writeInitialSize", a.writeConfig.InitialSize),
		zap.Int("readInitialSize", a.readConfig.InitialSize),
		zap.Int("registrations", a.kryo.Len()))
	return nil
}

// Config 返回已加载的配置。
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Kryo 返回应用共享的类型注册表。
func (a *Application) Kryo() *kryo.Kryo {
	return a.kryo
}

// MetricsRegistry 返回应用的 Prometheus 注册表。
func (a *Application) MetricsRegistry() *prometheus.Registry {
	return a.registry
}

// WriteBufferConfig 返回 buffer.write 配置，已通过校验。
func (a *Application) WriteBufferConfig() chunk.Config {
	return a.writeConfig
}

// ReadBufferConfig 返回 buffer.read 配置，已通过校验。
func (a *Application) ReadBufferConfig() chunk.Config {
	return a.readConfig
}

// NewWriteBuffer 按 buffer.write 配置创建写缓冲区。
func (a *Application) NewWriteBuffer() *chunk.WriteBuffer {
	return chunk.MustNewWriteBuffer(a.writeConfig)
}

// NewReadBuffer 按 buffer.read 配置创建读缓冲区。
func (a *Application) NewReadBuffer(src chunk.Filler) (*chunk.ReadBuffer, error) {
	return chunk.NewReadBuffer(a.readConfig, src)
}

// Logger 返回配置中按名称创建的 Logger，名称未知时回退到全局 Logger。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

func (a *Application) loadConfig(args []string) (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv(configPathEnv); envPath != "" {
		configPath = envPath
		explicit = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, errors.New("missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
	}

	cfg := zviper.New()
	setDefaults(cfg)
	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// setDefaults 为每个缓冲区配置项设置默认值，环境变量覆盖依赖这些键已知。
func setDefaults(cfg *zviper.Config) {
	def := chunk.DefaultConfig()
	for _, key := range []string{writeBufferKey, readBufferKey} {
		cfg.SetDefault(key+".initialsize", def.InitialSize)
		cfg.SetDefault(key+".increment", def.Increment)
		cfg.SetDefault(key+".maxchunksize", def.MaxChunkSize)
		cfg.SetDefault(key+".maxchunks", def.MaxChunks)
		cfg.SetDefault(key+".corechunks", def.CoreChunks)
		cfg.SetDefault(key+".maxpoolsize", def.MaxPoolSize)
	}
}

func (a *Application) initBufferConfigs() error {
	var err error
	if a.writeConfig, err = loadChunkConfig(a.cfg, writeBufferKey); err != nil {
		return errors.Wrap(err, "invalid write buffer config")
	}
	if a.readConfig, err = loadChunkConfig(a.cfg, readBufferKey); err != nil {
		return errors.Wrap(err, "invalid read buffer config")
	}
	return nil
}

// loadChunkConfig 逐项读取 key 下的缓冲区配置。
// viper 读取整个子树时不会合并默认值与环境变量，因此按叶子键读取。
func loadChunkConfig(cfg *zviper.Config, key string) (chunk.Config, error) {
	c := chunk.Config{
		InitialSize:  cfg.GetInt(key + ".initialsize"),
		Increment:    cfg.GetInt(key + ".increment"),
		MaxChunkSize: cfg.GetInt(key + ".maxchunksize"),
		MaxChunks:    cfg.GetInt(key + ".maxchunks"),
		CoreChunks:   cfg.GetInt(key + ".corechunks"),
		MaxPoolSize:  cfg.GetInt(key + ".maxpoolsize"),
	}
	if cfg.IsSet(key + ".growthsizes") {
		if err := cfg.UnmarshalKey(key+".growthsizes", &c.GrowthSizes); err != nil {
			return c, err
		}
	}
	return c, c.Validate()
}

func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 根据 KRYO_LOG_* 环境变量配置全局 Logger：
//   - KRYO_LOG_ENABLE: "1"/"true" 时启用输出，否则全部丢弃；
//   - KRYO_LOG_LEVEL: 日志级别，默认 info；
//   - KRYO_LOG_STDOUT: 是否输出到 stdout；
//   - KRYO_LOG_FILE_DIR / KRYO_LOG_FILE: 日志目录与文件名，文件名为空时不写文件；
//   - KRYO_LOG_FORMAT: text 或 json，默认 text。
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("KRYO_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:  getenvDefault("KRYO_LOG_LEVEL", "info"),
		Format: getenvDefault("KRYO_LOG_FORMAT", "text"),
		Stdout: getenvBool("KRYO_LOG_STDOUT", false),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("KRYO_LOG_FILE_DIR", ""),
			Filename: getenvDefault("KRYO_LOG_FILE", ""),
		},
	}
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 按 logging 节创建命名 Logger，例如：
//
//	logging:
//	  codec:
//	    level: debug
//	    stdout: true
func (a *Application) initModuleLoggersFromConfig() error {
	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey(loggingKey, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
