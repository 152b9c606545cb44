package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// STRUCTURED LOGGING
// =============================================================================

var (
	mu    sync.RWMutex
	root  *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	root = l
}

// Init replaces the process logger. lvl is one of debug, info, warn, error;
// anything else keeps info.
func Init(lvl string, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	level = zap.NewAtomicLevelAt(parsed)
	cfg.Level = level

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	root = l
	mu.Unlock()
	return nil
}

// SetDebug flips the global level at runtime.
func SetDebug(on bool) {
	if on {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Named returns a child logger for a subsystem.
func Named(name string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name)
}

// L returns the process logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Sync flushes buffered log entries. Safe to call at exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
