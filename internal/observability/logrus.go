package observability

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls the production logrus logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"outputFile"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// NewLogrusLogger builds a Logger backed by logrus, writing to stdout and,
// when OutputFile is set, to a size-rotated file.
func NewLogrusLogger(cfg LogConfig) Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	writers := []io.Writer{os.Stdout}
	if file := strings.TrimSpace(cfg.OutputFile); file != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	base.SetOutput(io.MultiWriter(writers...))

	return &logrusLogger{base: base}
}

type logrusLogger struct {
	base *logrus.Logger
}

func (l *logrusLogger) entry(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return logrus.NewEntry(l.base)
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.base.WithFields(data)
}

func (l *logrusLogger) Debug(msg string, fields ...Field) { l.entry(fields).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)  { l.entry(fields).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)  { l.entry(fields).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field) { l.entry(fields).Error(msg) }
