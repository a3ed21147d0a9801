package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents log severity
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel, defaulting to info
func ParseLevel(value string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects how log lines are rendered
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat maps a LOG_FORMAT value to a Format. Anything but "json" is text.
func ParseFormat(value string) Format {
	if strings.EqualFold(strings.TrimSpace(value), "json") {
		return FormatJSON
	}
	return FormatText
}

// sink is shared by a logger and every logger derived from it
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(line)
}

// Logger is a leveled logger carrying immutable key/value fields. Loggers
// returned by the With* methods share their parent's output.
type Logger struct {
	out     *sink
	level   LogLevel
	format  Format
	service string
	fields  map[string]interface{}
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// NewLogger creates a text logger writing to stdout
func NewLogger(serviceName string, minLevel LogLevel) *Logger {
	return &Logger{
		out:     &sink{w: os.Stdout},
		level:   minLevel,
		service: serviceName,
	}
}

// GetLogger returns the process logger, configured from SERVICE_NAME,
// LOG_LEVEL and LOG_FORMAT on first use
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		serviceName := os.Getenv("SERVICE_NAME")
		if serviceName == "" {
			serviceName = "tillsync-server"
		}
		defaultLogger = NewLogger(serviceName, ParseLevel(os.Getenv("LOG_LEVEL")))
		defaultLogger.format = ParseFormat(os.Getenv("LOG_FORMAT"))
	})
	return defaultLogger
}

// SetOutput redirects this logger and all loggers derived from it
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.w = w
}

// SetFormat switches between text and JSON lines
func (l *Logger) SetFormat(f Format) {
	l.format = f
}

func (l *Logger) derive(extra map[string]interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &Logger{out: l.out, level: l.level, format: l.format, service: l.service, fields: fields}
}

// WithField returns a logger with the field added
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(map[string]interface{}{key: value})
}

// WithFields returns a logger with the fields added
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(fields)
}

// WithError attaches err under the "error" key
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.derive(map[string]interface{}{"error": err.Error()})
}

// WithContext adds the trace and span ids of the active span, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.derive(map[string]interface{}{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}

func (l *Logger) Debug(msg string) { l.emit(LevelDebug, msg) }
func (l *Logger) Info(msg string)  { l.emit(LevelInfo, msg) }
func (l *Logger) Warn(msg string)  { l.emit(LevelWarn, msg) }
func (l *Logger) Error(msg string) { l.emit(LevelError, msg) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.emit(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.emit(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit(LevelError, fmt.Sprintf(format, args...))
}

// emit must be called directly from a level method so caller depth is fixed
func (l *Logger) emit(level LogLevel, msg string) {
	if level < l.level {
		return
	}

	_, file, line, _ := runtime.Caller(2)
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	caller := fmt.Sprintf("%s:%d", file, line)
	now := time.Now()

	if l.format == FormatJSON {
		l.out.write(l.jsonLine(now, level, caller, msg))
		return
	}
	l.out.write(l.textLine(now, level, caller, msg))
}

func (l *Logger) sortedKeys() []string {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Logger) textLine(now time.Time, level LogLevel, caller, msg string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s %s", now.Format("2006/01/02 15:04:05"), level, caller, msg)
	for _, k := range l.sortedKeys() {
		fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func (l *Logger) jsonLine(now time.Time, level LogLevel, caller, msg string) []byte {
	entry := make(map[string]interface{}, len(l.fields)+5)
	for k, v := range l.fields {
		entry[k] = v
	}
	entry["time"] = now.UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["service"] = l.service
	entry["caller"] = caller
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]string{
			"time":  entry["time"].(string),
			"level": level.String(),
			"msg":   msg,
			"error": "unencodable log fields: " + err.Error(),
		})
	}
	return append(data, '\n')
}

// Package-level shortcuts for the process logger. Each calls emit at the same
// depth as the methods above.

func Debug(msg string) { GetLogger().emit(LevelDebug, msg) }
func Info(msg string)  { GetLogger().emit(LevelInfo, msg) }
func Warn(msg string)  { GetLogger().emit(LevelWarn, msg) }
func Error(msg string) { GetLogger().emit(LevelError, msg) }

func Debugf(format string, args ...interface{}) {
	GetLogger().emit(LevelDebug, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	GetLogger().emit(LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	GetLogger().emit(LevelWarn, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	GetLogger().emit(LevelError, fmt.Sprintf(format, args...))
}

func WithField(key string, value interface{}) *Logger {
	return GetLogger().WithField(key, value)
}

func WithFields(fields map[string]interface{}) *Logger {
	return GetLogger().WithFields(fields)
}

func WithError(err error) *Logger {
	return GetLogger().WithError(err)
}

func WithContext(ctx context.Context) *Logger {
	return GetLogger().WithContext(ctx)
}

// Span and metric attributes shared by the sync services

func TerminalID(id string) attribute.KeyValue {
	return attribute.String("terminal_id", id)
}

func Collection(name string) attribute.KeyValue {
	return attribute.String("collection", name)
}

func ItemCount(n int) attribute.KeyValue {
	return attribute.Int("item_count", n)
}

func Operation(op string) attribute.KeyValue {
	return attribute.String("operation", op)
}
