package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
}

var level = zap.NewAtomicLevelAt(zap.InfoLevel)

type zapLogger struct {
	s *zap.SugaredLogger
}

// New creates a logger; honors env vars LOG_LEVEL (debug|info|warn|error), LOG_JSON (true|false).
func New(env string) Logger {
	SetLevel(os.Getenv("LOG_LEVEL"))
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	var enc zapcore.Encoder
	if os.Getenv("LOG_JSON") == "false" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("env", env))
	return &zapLogger{s: z.Sugar()}
}

// FromZap wraps an existing zap logger, mostly for tests using zaptest/observer.
func FromZap(z *zap.Logger) Logger { return &zapLogger{s: z.Sugar()} }

// Nop discards everything.
func Nop() Logger { return &zapLogger{s: zap.NewNop().Sugar()} }

// Zap exposes the underlying zap logger for libraries that want one.
func Zap(l Logger) *zap.Logger {
	if z, ok := l.(*zapLogger); ok {
		return z.s.Desugar().WithOptions(zap.AddCallerSkip(-1))
	}
	return zap.NewNop()
}

// SetLevel changes the process-wide level. Unknown values fall back to info.
func SetLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	case "fatal":
		level.SetLevel(zap.FatalLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
}

func GetLevel() string { return level.Level().String() }

func (l *zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Fatal(msg string, kv ...any) { l.s.Fatalw(msg, kv...) }
