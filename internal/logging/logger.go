// Package logging configures the structured logger shared by the CLI and the
// compile pipeline.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Norgate-AV/jsbundle/internal/config"
)

// New builds a logger from cfg. Console output is human readable text on
// stderr; a log file gets rotated JSON. If the file cannot be prepared the
// logger falls back to stderr and logs why.
func New(cfg config.LogConfig, verbose bool) (*logrus.Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = config.DefaultLogLevel
	}

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	if verbose {
		level = logrus.DebugLevel
	}

	output, outErr := buildOutput(cfg)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)

	if output == os.Stderr {
		logger.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.File,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// Discard returns a logger that drops everything
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)

	return logger
}

// buildOutput returns the log writer; on failure it falls back to stderr
// and returns the error
func buildOutput(cfg config.LogConfig) (io.Writer, error) {
	if cfg.File == "" {
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return os.Stderr, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}
