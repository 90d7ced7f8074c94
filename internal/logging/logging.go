// Package logging provides categorized structured logging for hdlbench.
// Each subsystem logs through a named child of a single zap root so log
// lines carry their category and runs can be filtered per subsystem.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hdlbench/internal/config"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup and configuration
	CategoryLLM     Category = "llm"     // Generation service calls
	CategoryDataset Category = "dataset" // Benchmark input discovery
	CategoryVerify  Category = "verify"  // External verifier runs
	CategoryQuality Category = "quality" // Scoring
	CategoryCache   Category = "cache"   // Trial cache operations
	CategoryStore   Category = "store"   // Durable persistence
	CategoryRepair  Category = "repair"  // Repair loop
	CategoryMoA     Category = "moa"     // Layer orchestration
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	sugared = make(map[Category]*zap.SugaredLogger)
)

// Init builds the root logger from config. Safe to call once at startup;
// later calls replace the root and drop cached category loggers.
func Init(cfg config.LoggingConfig) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" || cfg.Format == "" {
		zc = zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	sugared = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the logger for a category, creating it on first use.
// Before Init, Get returns a no-op logger so library code never panics.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := sugared[category]; ok {
		mu.RUnlock()
		return l
	}
	r := root
	mu.RUnlock()

	if r == nil {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := sugared[category]; ok {
		return l
	}
	l := r.Named(string(category)).Sugar()
	sugared[category] = l
	return l
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		// Sync on stderr fails on some platforms; nothing useful to do.
		_ = root.Sync()
	}
}
