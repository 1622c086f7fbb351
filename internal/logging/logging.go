// Package logging builds the single process-wide logrus.Logger and the
// per-subsystem *logrus.Entry values every other package is constructed
// with. Nothing here is a package-level global: New returns the logger,
// callers thread it (or entries derived from it) into every subsystem
// constructor explicitly, the same discipline the teacher applies by
// funneling everything through one *log.Logger / LogBuffer pair in
// internal/app.Run.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger at the given level (one of trace, debug, info,
// warn, error, fatal, panic — "information" is accepted as an alias for
// "info" since spec.md §6 writes the default that way). Output goes to
// stderr in JSON, matching the structured-field convention ("component",
// "subsystem") every constructor in this module relies on.
func New(level string) (*logrus.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(lvl)
	return log, nil
}

func parseLevel(level string) (logrus.Level, error) {
	if level == "information" {
		level = "info"
	}
	return logrus.ParseLevel(level)
}

// NewEntry returns the root *logrus.Entry every constructor in this module
// adds its own "component"/"subsystem" field on top of.
func NewEntry(log *logrus.Logger) *logrus.Entry {
	return logrus.NewEntry(log).WithField("component", "masterserver")
}

// SetLevel updates log's level in place, used by internal/config's
// live-reload path so a config file edit can turn on debug logging without a
// restart.
func SetLevel(log *logrus.Logger, level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}
