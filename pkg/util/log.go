package util

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLogLevel sets the logging level
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetLogOutput sets the log output destination
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSONFormat enables JSON log format
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// Entry wraps a logrus entry so the context helpers chain.
type Entry struct {
	*logrus.Entry
}

// WithField returns the entry with an extra field
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{e.Entry.WithField(key, value)}
}

// WithDevice returns the entry with device context
func (e *Entry) WithDevice(device string) *Entry {
	return e.WithField("device", device)
}

// WithTunnel returns the entry with tunnel number context
func (e *Entry) WithTunnel(num int) *Entry {
	return e.WithField("tunnel", num)
}

// WithOrg returns the entry with organization context
func (e *Entry) WithOrg(org string) *Entry {
	return e.WithField("org", org)
}

// WithJob returns the entry with job context
func (e *Entry) WithJob(jobID string) *Entry {
	return e.WithField("job", jobID)
}

// WithField returns a logger with a field
func WithField(key string, value interface{}) *Entry {
	return &Entry{Logger.WithField(key, value)}
}

// WithFields returns a logger with multiple fields
func WithFields(fields map[string]interface{}) *Entry {
	return &Entry{Logger.WithFields(fields)}
}

// WithDevice returns a logger with device context
func WithDevice(device string) *Entry {
	return WithField("device", device)
}

// WithTunnel returns a logger with tunnel number context
func WithTunnel(num int) *Entry {
	return WithField("tunnel", num)
}

// WithOrg returns a logger with organization context
func WithOrg(org string) *Entry {
	return WithField("org", org)
}

// WithJob returns a logger with job context
func WithJob(jobID string) *Entry {
	return WithField("job", jobID)
}

// Debug logs a debug message
func Debug(args ...interface{}) {
	Logger.Debug(args...)
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Info logs an info message
func Info(args ...interface{}) {
	Logger.Info(args...)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warn logs a warning message
func Warn(args ...interface{}) {
	Logger.Warn(args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Error logs an error message
func Error(args ...interface{}) {
	Logger.Error(args...)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func Fatal(args ...interface{}) {
	Logger.Fatal(args...)
}

// Fatalf logs a formatted fatal message and exits
func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}
