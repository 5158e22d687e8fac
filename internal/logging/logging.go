// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"cof-trader/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Out        io.Writer
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "cof-trader", "logs", "coftrader.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		out := cfg.Out
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(writer).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithInstrument adds an instrument name to the logger context.
func WithInstrument(logger zerolog.Logger, instrument string) zerolog.Logger {
	return logger.With().Str("instrument", instrument).Logger()
}

// WithWindow adds a window identifier to the logger context.
func WithWindow(logger zerolog.Logger, window string) zerolog.Logger {
	return logger.With().Str("window", window).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogTrade logs a closed trade.
func LogTrade(logger zerolog.Logger, trade models.Trade) {
	logger.Info().
		Str("event", "trade").
		Str("direction", string(trade.Direction)).
		Time("entry_date", trade.EntryDate).
		Time("exit_date", trade.ExitDate).
		Float64("entry_price", trade.EntryPrice).
		Float64("exit_price", trade.ExitPrice).
		Floats64("size_path", trade.SizePath).
		Float64("pnl", trade.PnL).
		Str("exit_reason", string(trade.ExitReason)).
		Msg("Trade closed")
}

// LogWindowSkip logs a skipped fit window. The logger is expected to carry
// the window from WithWindow.
func LogWindowSkip(logger zerolog.Logger, reason models.SkipReason, err error) {
	logger.Warn().
		Str("event", "window_skip").
		Str("reason", string(reason)).
		Err(err).
		Msg("Window skipped")
}

// LogStabilityWarning logs an unstable smoothing selection.
func LogStabilityWarning(logger zerolog.Logger, err error) {
	logger.Warn().
		Str("event", "stability_warning").
		Err(err).
		Msg("Cross-validation unstable, continuing with best lambda")
}
