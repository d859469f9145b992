// Package logging builds the process zap logger and hands each subsystem a
// named child logger for its category.
// Categories can be switched off individually in the config; a disabled
// category gets a no-op logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot    Category = "boot"    // Startup, config, shutdown
	CategorySession Category = "session" // Session wiring and chain editing

	// Switching categories
	CategoryChain      Category = "chain"      // Chain lifecycle, registry
	CategoryController Category = "controller" // current/next switches
	CategoryScheduler  Category = "scheduler"  // Delayed and beat-aligned switches
	CategoryClock      Category = "clock"      // Tempo and MIDI clocks

	// I/O categories
	CategoryRouting   Category = "routing"   // Command parsing and dispatch
	CategoryTransport Category = "transport" // OSC server, console
	CategoryAudio     Category = "audio"     // beep engine, speaker
	CategoryStatus    Category = "status"    // Status display

	// Persistence and observability
	CategoryPreset  Category = "preset"  // Preset files, watcher
	CategoryJournal Category = "journal" // Switch journal
	CategoryMetrics Category = "metrics" // Prometheus endpoint
)

// Config mirrors config.LoggingConfig to avoid circular imports.
type Config struct {
	Level      string
	Format     string // "json" or "console"
	File       string // optional extra output path
	Categories map[string]bool
}

// Build constructs the base logger from cfg. verbose forces debug level.
// Output goes to stderr and, when cfg.File is set, to that file as well.
func Build(cfg Config, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	setCategories(cfg.Categories)
	return logger, nil
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

var (
	categories   map[string]bool
	categoriesMu sync.RWMutex
)

func setCategories(c map[string]bool) {
	categoriesMu.Lock()
	defer categoriesMu.Unlock()
	categories = c
}

// IsCategoryEnabled returns whether a specific category is enabled.
// Categories not mentioned in the config are enabled.
func IsCategoryEnabled(category Category) bool {
	categoriesMu.RLock()
	defer categoriesMu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// For returns base named for category, or a no-op logger if the category is
// disabled. A nil base yields a no-op logger.
func For(base *zap.Logger, category Category) *zap.Logger {
	if base == nil || !IsCategoryEnabled(category) {
		return zap.NewNop()
	}
	return base.Named(string(category))
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	log   *zap.Logger
	op    string
	start time.Time
}

// StartTimer begins timing an operation
func StartTimer(logger *zap.Logger, operation string) *Timer {
	return &Timer{log: logger, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.log.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.log.Warn(t.op+" was slow",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		t.log.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
