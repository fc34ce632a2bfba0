package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the backend's structured logger. Plugins receive children
// scoped with ForPlugin or ForModule.
type Logger struct {
	*zap.Logger
}

// Config selects level and output format
type Config struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoding with colors and stack traces
	OutputPaths []string
}

// New builds a logger writing to cfg.OutputPaths (stdout by default)
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	encoding := "json"
	if cfg.Development {
		encoding = "console"
	}

	logger, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig(cfg.Development),
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// NewWriter creates a JSON logger writing to w, for tests that inspect
// records. Unknown levels fall back to info.
func NewWriter(w io.Writer, level string) *Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(false)), zapcore.AddSync(w), lvl)
	return &Logger{Logger: zap.New(core)}
}

// ForPlugin returns a child named after the plugin and tagged with it
func (l *Logger) ForPlugin(pluginID string) *Logger {
	return &Logger{Logger: l.Logger.Named(pluginID).With(zap.String("plugin", pluginID))}
}

// ForModule returns a plugin child additionally tagged with the module
func (l *Logger) ForModule(pluginID, moduleID string) *Logger {
	return l.ForPlugin(pluginID).With(zap.String("module", moduleID))
}

// With returns a child logger carrying the given fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if development {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
	}
	return cfg
}
