// Package telemetry sets up structured logging the way cmd/root.go's
// initLogger does for the teacher's CLI: a level, an optional log file,
// and a text formatter tuned for the destination (full timestamps to a
// file, short ones to a terminal). The engine logs through
// github.com/sirupsen/logrus exclusively — no fmt.Println anywhere in
// internal/backup or internal/restore.
package telemetry

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// Init configures the package-global logrus logger. level is one of
// logrus's level names ("debug", "info", "warn", "error"); an invalid
// level falls back to info with a warning, matching initLogger's
// behavior. An empty path logs to stderr.
func Init(level, path string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logrus.Warnf("invalid log level %q, using INFO", level)
	}
	logrus.SetLevel(lvl)

	if path == "" {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "15:04:05",
			FullTimestamp:   true,
		})
		return nil
	}

	if logFile != nil {
		logFile.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	logFile = f
	logrus.SetOutput(f)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// StanzaLogger returns an entry pre-tagged with the stanza name, the way
// every backup/restore log line in the engine is scoped to one stanza.
func StanzaLogger(stanza string) *logrus.Entry {
	return logrus.WithField("stanza", stanza)
}
