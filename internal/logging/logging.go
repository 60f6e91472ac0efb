// Package logging constructs the process-wide logrus.Logger shared by
// every component that takes a *logrus.Logger (scheduler, dispatcher,
// notify, queuewatcher's callers). The teacher's scheduler package
// defines its own minimal Logger interface ("compatible with
// logrus.Logger and our logger package"); this package is the single
// place that actually builds the concrete logger passed down to all of
// them, replacing the teacher's CSV-file-writing logger package with a
// structured one (see DESIGN.md).
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls the constructed logger's format and verbosity.
type Config struct {
	// Level is one of logrus's level names (debug, info, warn, error).
	// Defaults to "info" if empty or unparseable.
	Level string
	// JSON selects logrus.JSONFormatter; otherwise a TextFormatter with
	// full timestamps is used (readable in a terminal during development).
	JSON bool
}

// New builds a *logrus.Logger per cfg, writing to stderr like the
// standard library's log package does.
func New(cfg Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}
