// Package logging configures the process logger.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level string // "debug", "info", ...; defaults to info
	File  string // optional rotating log file
	// Output replaces the console writer; tests pass io.Discard.
	Output io.Writer
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Setup builds the base logger and installs it as the zerolog global.
func Setup(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	if cfg.Output != nil {
		console = cfg.Output
	}

	writer := console
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
		}
		writer = zerolog.MultiLevelWriter(console, rotating)
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()

	mu.Lock()
	base = logger
	mu.Unlock()
	log.Logger = logger
	return logger
}

// Component returns a child of the base logger tagged with component.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}
