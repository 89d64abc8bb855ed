// Package logger provides structured logging for the site auditor.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      Level
	Pretty     bool // console writer instead of JSON lines
	Output     io.Writer
	TimeFormat string
	Component  string // e.g. "crawler", "worker", "monitor"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Pretty:     true,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "15:04:05",
		}
	}

	zl := zerolog.New(out).
		With().
		Timestamp().
		Logger().
		Level(cfg.Level)

	if cfg.Component != "" {
		zl = zl.With().Str("component", cfg.Component).Logger()
	}

	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithCrawl returns a new logger scoped to one crawl job.
func (l *Logger) WithCrawl(crawlID string) *Logger {
	return &Logger{zl: l.zl.With().Str("crawl_id", crawlID).Logger()}
}

// WithURL returns a new logger with URL field.
func (l *Logger) WithURL(url string) *Logger {
	return &Logger{zl: l.zl.With().Str("url", url).Logger()}
}

// WithError returns a new logger with error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.zl.Error().Msg(msg)
}

// Event returns a zerolog Event for complex logging.
func (l *Logger) Event(level Level) *zerolog.Event {
	return l.zl.WithLevel(level)
}

// PageEvent starts an event describing a fetched page.
func (l *Logger) PageEvent(level Level, url string, depth, navScore int) *zerolog.Event {
	return l.Event(level).
		Str("url", url).
		Int("depth", depth).
		Int("nav_score", navScore)
}

// RequestEvent logs an HTTP request.
func (l *Logger) RequestEvent(method, url string, statusCode int, duration time.Duration) {
	l.zl.Debug().
		Str("method", method).
		Str("url", url).
		Int("status_code", statusCode).
		Dur("duration", duration).
		Msg("HTTP request")
}

// DiscoveryEvent logs URLs found outside the link graph (sitemaps, robots).
func (l *Logger) DiscoveryEvent(source, url string, count int) {
	l.zl.Info().
		Str("source", source).
		Str("url", url).
		Int("count", count).
		Msg("Discovered URLs")
}

// PolicyEvent logs a policy boundary that prevented an action. These are
// expected outcomes, not failures.
func (l *Logger) PolicyEvent(policy, url, reason string) {
	l.zl.Debug().
		Str("policy", policy).
		Str("url", url).
		Str("reason", reason).
		Msg("Skipped by policy")
}

// ErrorEvent logs an error event with context.
func (l *Logger) ErrorEvent(err error, url string, operation string) {
	l.zl.Error().
		Err(err).
		Str("url", url).
		Str("operation", operation).
		Msg("Operation failed")
}

// StatsEvent logs crawl statistics.
func (l *Logger) StatsEvent(stats map[string]interface{}) {
	event := l.zl.Info()
	for k, v := range stats {
		event = event.Interface(k, v)
	}
	event.Msg("Crawl statistics")
}

// ParseLevel parses a level string. An empty string means info.
func ParseLevel(levelStr string) (Level, error) {
	if strings.TrimSpace(levelStr) == "" {
		return InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(levelStr))
}
