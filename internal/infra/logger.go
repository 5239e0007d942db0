package infra

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	// With returns a logger that adds the key/value pairs to every entry.
	With(kv ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger builds a zap logger for service. APP_ENV=production selects JSON
// at info level; anything else is human-readable console output at debug.
func NewLogger(service, env, level string) Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	lvl := zap.DebugLevel
	if env == "production" {
		enc = zapcore.NewJSONEncoder(encCfg)
		lvl = zap.InfoLevel
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(lvl))
	return NewZapLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("service", service)))
}

func NewZapLogger(l *zap.Logger) Logger { return &zapLogger{s: l.Sugar()} }

func NewNopLogger() Logger { return NewZapLogger(zap.NewNop()) }

func (l *zapLogger) Debugf(format string, v ...interface{}) { l.s.Debugf(format, v...) }
func (l *zapLogger) Infof(format string, v ...interface{})  { l.s.Infof(format, v...) }
func (l *zapLogger) Warnf(format string, v ...interface{})  { l.s.Warnf(format, v...) }
func (l *zapLogger) Errorf(format string, v ...interface{}) { l.s.Errorf(format, v...) }

func (l *zapLogger) With(kv ...interface{}) Logger { return &zapLogger{s: l.s.With(kv...)} }

func (l *zapLogger) Sync() error { return l.s.Sync() }
