package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields carries structured context on a log line
type Fields = map[string]interface{}

// sink is shared by a logger and every child made with WithField
type sink struct {
	mu      sync.Mutex
	out     io.Writer
	logFile *os.File
}

// Logger provides leveled structured logging with optional file output
type Logger struct {
	level      Level
	jsonFormat bool
	sink       *sink
	fields     Fields
	component  string
	exit       func(int)
}

// NewLogger creates a logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		sink:       &sink{out: os.Stdout},
		fields:     make(Fields),
		exit:       os.Exit,
	}
}

// NewNopLogger returns a logger that drops everything
func NewNopLogger() *Logger {
	l := NewLogger(FATAL+1, false)
	l.sink.out = io.Discard
	return l
}

// NewFileLogger creates a logger that writes to <dir>/<component>/<subComponent>.log
// and mirrors every line to stdout. An empty dir means ./logs.
func NewFileLogger(dir, component, subComponent string, level Level, jsonFormat bool) (*Logger, error) {
	logPath := LogPath(dir, component, subComponent)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(logPath), err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := NewLogger(level, jsonFormat)
	logger.sink = &sink{out: io.MultiWriter(logFile, os.Stdout), logFile: logFile}
	logger.component = component + "/" + subComponent

	logger.Info(fmt.Sprintf("Logger initialized: %s -> %s", logger.component, logPath))
	return logger, nil
}

// LogPath returns where NewFileLogger writes for a component
func LogPath(dir, component, subComponent string) string {
	if dir == "" {
		dir = "./logs"
	}
	name := component + ".log"
	if subComponent != "" {
		name = subComponent + ".log"
	}
	return filepath.Join(dir, component, name)
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = w
}

// Level returns the minimum level that is written
func (l *Logger) Level() Level {
	return l.level
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
}

func (l *Logger) log(level Level, message string, fields Fields) {
	if level < l.level {
		return
	}

	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	var line string
	if l.jsonFormat {
		data, err := json.Marshal(LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    merged,
		})
		if err != nil {
			data = []byte(fmt.Sprintf(`{"level":"ERROR","message":"failed to marshal log entry: %v"}`, err))
		}
		line = string(data)
	} else {
		line = fmt.Sprintf("[%s] %s: %s%s", time.Now().Format("2006-01-02 15:04:05"), level.String(), message, formatFields(merged))
	}

	l.sink.mu.Lock()
	fmt.Fprintln(l.sink.out, line)
	l.sink.mu.Unlock()

	if level == FATAL {
		l.exit(1)
	}
}

// formatFields renders fields as sorted key=value pairs
func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.log(DEBUG, message, first(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.log(INFO, message, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.log(WARN, message, first(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.log(ERROR, message, first(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...Fields) {
	l.log(FATAL, message, first(fields))
}

// WithField returns a child logger carrying key=value on every line
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a child logger carrying all of fields
func (l *Logger) WithFields(fields Fields) *Logger {
	next := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = v
	}
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		sink:       l.sink,
		fields:     next,
		component:  l.component,
		exit:       l.exit,
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.sink.logFile == nil {
		return nil
	}
	l.Info("Logger closing")
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	err := l.sink.logFile.Close()
	l.sink.logFile = nil
	l.sink.out = os.Stdout
	return err
}
