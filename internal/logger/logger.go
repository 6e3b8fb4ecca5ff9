package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Logger is a thin key/value wrapper over zap's sugared logger. Its method set also
// satisfies Temporal's log.Logger, so the worker client can share it.
type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zl.Sugar()}, nil
}

// Nop discards everything; used by tests and as the zero-value fallback.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// OrNop lets constructors accept a nil logger.
func OrNop(l *Logger) *Logger {
	if l == nil || l.SugaredLogger == nil {
		return Nop()
	}
	return l
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.SugaredLogger.Debugw(msg, keyvals...)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.SugaredLogger.Infow(msg, keyvals...)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.SugaredLogger.Warnw(msg, keyvals...)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.SugaredLogger.Errorw(msg, keyvals...)
}

func (l *Logger) Fatal(msg string, keyvals ...interface{}) {
	l.SugaredLogger.Fatalw(msg, keyvals...)
}

func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(keyvals...)}
}
