package app

import (
	"io"
	"os"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging applies the configured level and, when a log file is set, writes to stderr and a rotated file.
// LOG_LEVEL takes precedence over the configuration.
func SetupLogging(cfg config.Log) (io.Closer, error) {
	level := cfg.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level != "" {
		logrusLevel, err := log.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		log.SetLevel(logrusLevel)
	}

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMb,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}
