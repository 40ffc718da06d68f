// Package logger provides the process-wide zap logger. Components get
// named child loggers so log lines carry their origin.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Env   string // "dev" | "prod"
	Level string // "debug" | "info" | "warn" | "error"
}

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the singleton. Idempotent: only the first call wins.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the singleton, building a dev/info logger if Init was
// never called (tests mostly hit this path).
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "dev", Level: "info"})
	}
	return instance
}

// Named returns a logger tagged with a component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries. Deferred from main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}

func build(cfg Config) *zap.Logger {
	var zc zap.Config
	if cfg.Env == "prod" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	lg, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return lg
}
