package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with loosely-typed key-value fields.
type Logger struct {
	*zap.Logger
}

// Config controls log level, encoding and destination.
type Config struct {
	Level  string
	Format string
	Output string
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Encoding = "console"
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.Output != "" && cfg.Output != "stdout" {
		zc.OutputPaths = []string{cfg.Output}
		zc.ErrorOutputPaths = []string{cfg.Output}
	}

	zl, err := zc.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// NewNop returns a logger that discards everything. For tests.
func NewNop() *Logger {
	return &Logger{zap.NewNop()}
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{l.Logger.With(toFields(kv...)...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.Logger.Debug(msg, toFields(kv...)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.Logger.Info(msg, toFields(kv...)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.Logger.Warn(msg, toFields(kv...)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.Logger.Error(msg, toFields(kv...)...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.Logger.Fatal(msg, toFields(kv...)...) }

func toFields(kv ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}
