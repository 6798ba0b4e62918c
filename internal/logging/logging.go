// Package logging provides component-scoped structured loggers for the
// orchestrator. Output goes to stderr: JSON when piped, console when
// attached to a terminal.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	mu   sync.Mutex
	base *zap.Logger
)

// New returns a logger named for a component, sharing the process-wide
// core.
func New(component string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = build()
	}
	return base.Named(component)
}

// SetBase replaces the process-wide logger. Tests use this with
// zap.NewNop or zaptest.
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

func build() *zap.Logger {
	level := zapcore.InfoLevel
	if v := os.Getenv("STRATA_LOG_LEVEL"); v != "" {
		if parsed, err := zapcore.ParseLevel(v); err == nil {
			level = parsed
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}
