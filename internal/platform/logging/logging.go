package logging

import (
	"fmt"
	"log/slog"

	"argus-vision-server/internal/utils"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
}

// Logger provides access to both the tagged logger and slog APIs.
type Logger struct {
	inner *utils.Logger
}

// New creates a new Logger instance.
func New(cfg Config) (*Logger, error) {
	logCfg := &utils.LogCfg{
		LogLevel: cfg.Level,
		LogDir:   cfg.Dir,
		LogFile:  cfg.Filename,
	}
	inner, err := utils.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &Logger{inner: inner}, nil
}

// Tagged exposes the underlying tagged logger.
func (l *Logger) Tagged() *utils.Logger {
	return l.inner
}

// Slog exposes the structured logger for new integrations.
func (l *Logger) Slog() *slog.Logger {
	return l.inner.Slog()
}

// Close flushes and closes the underlying log file.
func (l *Logger) Close() error {
	return l.inner.Close()
}
