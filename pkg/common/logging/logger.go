// Package logging provides structured, component-scoped logging for vaultd.
//
// Log records are line-buffered and flushed after every write, never carry
// the AEAD key or raw TLS material, and redact field names that look like
// credentials even though session fingerprints are treated as plain
// identifiers rather than secrets.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// LogLevel is a filtering threshold; lower levels include all higher ones.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a level name from config or an environment variable.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogFormat selects the wire shape of emitted records.
type LogFormat int

const (
	TextFormat LogFormat = iota
	JSONFormat
)

// ParseLogFormat parses a format name from config.
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return TextFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return TextFormat, fmt.Errorf("invalid log format: %s", format)
	}
}

// LogEntry is one structured record.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes leveled, component-scoped records to a configured sink.
//
// A Logger is safe for concurrent use; every Write call takes the write
// lock long enough to format and flush one record, matching the
// append-only, line-buffered, flush-after-every-record discipline this
// service requires of its log sink.
type Logger struct {
	mu        sync.Mutex
	level     LogLevel
	format    LogFormat
	output    io.Writer
	component string
	sanitize  bool
}

// Config configures a new Logger.
type Config struct {
	Level     LogLevel
	Format    LogFormat
	Output    io.Writer
	Component string
	Sanitize  bool
}

// DefaultConfig returns InfoLevel/TextFormat/os.Stdout with sanitizing on.
func DefaultConfig() *Config {
	return &Config{
		Level:    InfoLevel,
		Format:   TextFormat,
		Output:   os.Stdout,
		Sanitize: true,
	}
}

var sensitiveFieldName = regexp.MustCompile(`(?i)(password|passwd|secret|token|key|credential|private[-_]?key)`)

// NewLogger builds a Logger; a nil config uses DefaultConfig.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &Logger{
		level:     config.Level,
		format:    config.Format,
		output:    config.Output,
		component: config.Component,
		sanitize:  config.Sanitize,
	}
}

// WithComponent returns a derived Logger tagging every record with component.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		level:     l.level,
		format:    l.format,
		output:    l.output,
		component: component,
		sanitize:  l.sanitize,
	}
}

// SetLevel adjusts the minimum emitted level at runtime.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *Logger) sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	if !l.sanitize || len(fields) == 0 {
		return fields
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if sensitiveFieldName.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func (l *Logger) write(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
		Fields:    l.sanitizeFields(fields),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == JSONFormat {
		enc := json.NewEncoder(l.output)
		_ = enc.Encode(entry)
		return
	}

	line := fmt.Sprintf("%s [%s]", entry.Timestamp.Format(time.RFC3339), entry.Level)
	if entry.Component != "" {
		line += fmt.Sprintf(" %s:", entry.Component)
	}
	line += " " + entry.Message
	for k, v := range entry.Fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Fprintln(l.output, line)
	if f, ok := l.output.(*os.File); ok {
		_ = f.Sync()
	}
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { l.write(DebugLevel, msg, merge(fields)) }
func (l *Logger) Info(msg string, fields ...map[string]interface{})  { l.write(InfoLevel, msg, merge(fields)) }
func (l *Logger) Warn(msg string, fields ...map[string]interface{})  { l.write(WarnLevel, msg, merge(fields)) }
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { l.write(ErrorLevel, msg, merge(fields)) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.write(DebugLevel, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...interface{})  { l.write(InfoLevel, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.write(WarnLevel, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.write(ErrorLevel, fmt.Sprintf(format, args...), nil) }

func merge(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitGlobalLogger installs the process-wide default logger.
func InitGlobalLogger(config *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = NewLogger(config)
}

// Global returns the process-wide logger, initializing defaults on first use.
func Global() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(nil)
	}
	return globalLogger
}
