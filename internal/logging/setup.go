// Package logging configures the process-wide logrus logger from Config.
package logging

import (
	"io"
	"os"
	"sync"

	"gcli2api-go/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
	log "github.com/sirupsen/logrus"
)

var setupOnce sync.Once

// Setup configures the global logrus logger: JSON output in production,
// human-readable text in debug mode, always to stdout plus an optional
// rotating file sink.
func Setup(cfg *config.Config) error {
	var err error
	setupOnce.Do(func() {
		level := log.InfoLevel
		if cfg.Server.Debug || cfg.Logging.Level == "debug" {
			level = log.DebugLevel
		}
		log.SetLevel(level)

		if cfg.Server.Debug {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		} else {
			log.SetFormatter(&log.JSONFormatter{})
		}

		writers := []io.Writer{os.Stdout}
		if cfg.Logging.FilePath != "" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.Logging.FilePath,
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			})
		}
		log.SetOutput(io.MultiWriter(writers...))
	})
	return err
}
