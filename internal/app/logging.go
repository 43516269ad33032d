package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/betzim/mediameter/internal/config"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the level and formatter from cfg to the standard logger.
func ConfigureLogging(cfg config.LoggingConfig, debug bool) error {
	levelName := strings.TrimSpace(cfg.Level)
	if debug {
		levelName = "debug"
	}
	if levelName == "" {
		levelName = "info"
	}
	level, errParse := log.ParseLevel(levelName)
	if errParse != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, errParse)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
