// internal/infra/logger/logger.go
package logger

import (
	"io"
	"os"
	"strings"

	"course_rewards/internal/infra/config"

	"github.com/sirupsen/logrus"
)

// Log is the global logger instance
var Log = logrus.New()

// Init configures the global logger from the application configuration.
// Every entry carries the reward mode so log lines from an on-chain and an
// off-chain deployment can be told apart.
func Init(cfg *config.AppConfig) {
	configure(Log, cfg, os.Stdout)

	Log.WithField("log_level", Log.GetLevel().String()).Info("Logger initialized successfully.")
}

func configure(l *logrus.Logger, cfg *config.AppConfig, out io.Writer) {
	l.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		l.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", cfg.LogLevel, err)
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Environment) {
	case "production", "staging":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	l.ReplaceHooks(make(logrus.LevelHooks))
	l.AddHook(&staticFields{fields: logrus.Fields{
		"service":     "course_rewards",
		"reward_mode": string(cfg.RewardMode),
	}})
}

// staticFields adds fixed fields to every entry without overriding fields
// set by the caller.
type staticFields struct {
	fields logrus.Fields
}

func (h *staticFields) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *staticFields) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// Component returns an entry tagged with the component name; services and
// adapters each log through one.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// Get returns the configured global logger.
func Get() *logrus.Logger {
	return Log
}
