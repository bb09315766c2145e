// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Config controls basic logger behaviour.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// Setup applies cfg to the standard logrus logger. An unknown level is an
// error; an unknown format falls back to text.
func Setup(cfg Config) error {
	level := log.InfoLevel
	if s := strings.TrimSpace(cfg.Level); s != "" {
		l, err := log.ParseLevel(s)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %q", cfg.Level)
		}
		level = l
	}
	log.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)
	return nil
}

// ForTrip returns an entry tagged with a trip ID and its source.
func ForTrip(tripID, source string) *log.Entry {
	return log.WithFields(log.Fields{"trip": tripID, "source": source})
}
