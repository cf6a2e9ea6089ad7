package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger from c. It returns the
// opened log file, if any, so the caller can close it on exit.
func SetupLogging(c *Config) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if c.LogFile == "" {
		logrus.SetOutput(os.Stderr)
		return nil, nil
	}

	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(f)

	logrus.WithFields(logrus.Fields{
		"function": "SetupLogging",
		"level":    level.String(),
		"file":     c.LogFile,
	}).Debug("Logging configured")

	return f, nil
}
