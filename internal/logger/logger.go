// Package logger builds the logrus loggers used by the CLI and the API
// server. The rotated log file always receives JSON; the console, when
// enabled, gets colored text meant for people.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "2006-01-02 15:04:05"

// Rotation describes the lumberjack-managed log file.
type Rotation struct {
	Path       string // empty disables the file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options configure NewLogger.
type Options struct {
	Level   string
	File    Rotation
	Console bool // text logs on stderr; stdout stays free for results
}

// DefaultOptions mirror the logging section of the default config file.
func DefaultOptions() Options {
	return Options{
		Level: "info",
		File: Rotation{
			Path:       "compressr.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Level picks the effective level: verbose forces debug and quiet forces
// error, quiet winning when both are set.
func Level(configured string, verbose, quiet bool) string {
	switch {
	case quiet:
		return "error"
	case verbose:
		return "debug"
	}
	return configured
}

// NewLogger builds a logger from opts. With neither a file nor the console
// enabled every entry is dropped.
func NewLogger(opts Options) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(io.Discard)
	if opts.Console {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timeLayout,
		})
	}

	if opts.File.Path != "" {
		hook, err := newFileHook(opts.File)
		if err != nil {
			return nil, err
		}
		log.AddHook(hook)
	}
	return log, nil
}

// fileHook mirrors every entry into the rotated file as one JSON line.
type fileHook struct {
	mu        sync.Mutex
	out       io.Writer
	formatter logrus.Formatter
}

func newFileHook(r Rotation) (*fileHook, error) {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	return &fileHook{
		out: &lumberjack.Logger{
			Filename:   r.Path,
			MaxSize:    r.MaxSizeMB,
			MaxBackups: r.MaxBackups,
			MaxAge:     r.MaxAgeDays,
			Compress:   r.Compress,
		},
		formatter: &logrus.JSONFormatter{
			TimestampFormat: timeLayout,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
				logrus.FieldKeyFunc: "function",
			},
		},
	}, nil
}

func (h *fileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileHook) Fire(e *logrus.Entry) error {
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(line)
	return err
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// ForFile tags entries about one image with its path and the step working on it.
func ForFile(log *logrus.Logger, path, op string) *logrus.Entry {
	return log.WithFields(logrus.Fields{"file": path, "operation": op})
}

// ForBatch tags entries with the batch they belong to.
func ForBatch(log *logrus.Logger, batchID string) *logrus.Entry {
	return log.WithField("batch_id", batchID)
}
