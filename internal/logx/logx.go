// Package logx wraps go.uber.org/zap's SugaredLogger behind the teacher's
// call shape (Debugf/Infof/Warnf/Errorf against a named component) so the
// rest of the pool logs the way internal/logger.Logger does in the
// teacher, without carrying over its GUI-oriented ring buffer and
// OnNewEntry callback, which have no file-less equivalent here.
package logx

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.Mutex
	base *zap.SugaredLogger
)

// Init configures the process-wide logger. verbose selects debug level;
// production mode otherwise (json encoding, info level and above).
func Init(verbose bool) {
	mu.Lock()
	defer mu.Unlock()

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)
	base = zap.New(core).Sugar()
}

func logger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = zap.NewExample().Sugar()
	}
	return base
}

// Logger is a component-scoped facade, e.g. logx.Component("stratum").
type Logger struct {
	component string
}

// Component returns a logger tagged with the given component name.
func Component(name string) *Logger {
	return &Logger{component: name}
}

func (l *Logger) with() *zap.SugaredLogger {
	return logger().With("component", l.component)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.with().Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.with().Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.with().Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.with().Errorf(format, args...)
}

// Sync flushes any buffered log entries, called during shutdown.
func Sync() {
	_ = logger().Sync()
}
