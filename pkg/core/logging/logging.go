// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     logging
// Description: Structured logging with named component loggers
// Author:      Mike Stoffels with Claude
// Created:     2026-06-28
// License:     MIT
// ============================================================================

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string into a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the output format for log messages
type Format int

const (
	// FormatJSON outputs structured JSON logs (recommended for production)
	FormatJSON Format = iota

	// FormatText outputs human-readable text logs
	FormatText
)

// ParseFormat converts a string into a Format, defaulting to JSON
func ParseFormat(s string) Format {
	if strings.ToLower(strings.TrimSpace(s)) == "text" {
		return FormatText
	}
	return FormatJSON
}

// Fields holds structured key-value context for a log entry
type Fields map[string]interface{}

// Config holds configuration for creating loggers
type Config struct {
	// Component name included in every entry
	Name string

	// Minimum level that is written
	Level Level

	// Output format
	Format Format

	// Output destination (default: stdout)
	Output io.Writer
}

// DefaultConfig returns the standard logger configuration for a component
func DefaultConfig(name string) Config {
	return Config{
		Name:   name,
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: os.Stdout,
	}
}

// Logger writes leveled, structured log entries for one component
type Logger struct {
	mu     sync.Mutex
	name   string
	level  Level
	format Format
	out    io.Writer
}

// New creates a logger with default configuration for the given component
func New(name string) *Logger {
	return NewWithConfig(DefaultConfig(name))
}

// NewWithConfig creates a logger from an explicit configuration
func NewWithConfig(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Logger{
		name:   cfg.Name,
		level:  cfg.Level,
		format: cfg.Format,
		out:    cfg.Output,
	}
}

// WithLevel returns a copy of the logger with the given minimum level
func (l *Logger) WithLevel(level Level) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		name:   l.name,
		level:  level,
		format: l.format,
		out:    l.out,
	}
}

// Name returns the component name of the logger
func (l *Logger) Name() string {
	return l.name
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues...)
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues...)
}

func (l *Logger) log(level Level, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}

	fields := toFields(keysAndValues...)
	var line []byte
	switch l.format {
	case FormatText:
		line = formatText(l.name, level, msg, fields)
	default:
		line = formatJSON(l.name, level, msg, fields)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(line)
}

// toFields converts key-value pairs to Fields; non-string keys and a
// trailing orphan value are skipped
func toFields(keysAndValues ...interface{}) Fields {
	if len(keysAndValues) == 0 {
		return nil
	}

	fields := make(Fields)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

func formatJSON(name string, level Level, msg string, fields Fields) []byte {
	data := make(map[string]interface{}, len(fields)+4)
	data["timestamp"] = time.Now().Format(time.RFC3339)
	data["level"] = level.String()
	data["message"] = msg
	if name != "" {
		data["logger"] = name
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			data[k] = err.Error()
			continue
		}
		data[k] = v
	}

	line, err := json.Marshal(data)
	if err != nil {
		line = []byte(fmt.Sprintf(`{"level":%q,"message":%q}`, level.String(), msg))
	}
	return append(line, '\n')
}

func formatText(name string, level Level, msg string, fields Fields) []byte {
	var parts []string
	parts = append(parts, time.Now().Format("15:04:05"))
	parts = append(parts, fmt.Sprintf("[%s]", strings.ToUpper(level.String())))
	if name != "" {
		parts = append(parts, fmt.Sprintf("{%s}", name))
	}
	parts = append(parts, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fieldParts := make([]string, 0, len(keys))
		for _, k := range keys {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", k, fields[k]))
		}
		parts = append(parts, fmt.Sprintf("[%s]", strings.Join(fieldParts, " ")))
	}

	return []byte(strings.Join(parts, " ") + "\n")
}
