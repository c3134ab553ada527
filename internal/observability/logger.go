// Package observability writes the structured command log kept next to deployment state.
package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"metricdrop/internal/common"
)

// LogLevel represents the severity of a log message
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
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// LogLevelFromString parses a --log-level value. Unknown names mean info.
func LogLevelFromString(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LogEntry is one line of the command log.
type LogEntry struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       string                 `json:"level"`
	Message     string                 `json:"message"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Service     string                 `json:"service"`
	Version     string                 `json:"version"`
	Environment string                 `json:"environment,omitempty"`
	Caller      string                 `json:"caller,omitempty"`
}

// LogEncoder turns an entry into bytes without the trailing newline.
type LogEncoder interface {
	Encode(entry *LogEntry) ([]byte, error)
}

// JSONEncoder writes entries as JSON objects, one per line unless pretty.
type JSONEncoder struct {
	pretty bool
}

func NewJSONEncoder(pretty bool) *JSONEncoder {
	return &JSONEncoder{pretty: pretty}
}

func (e *JSONEncoder) Encode(entry *LogEntry) ([]byte, error) {
	if e.pretty {
		return json.MarshalIndent(entry, "", "  ")
	}
	return json.Marshal(entry)
}

// TextEncoder renders "15:04:05 LEVEL message key=value ..." for --verbose on stderr.
type TextEncoder struct{}

func (TextEncoder) Encode(entry *LogEntry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", entry.Timestamp.Format("15:04:05"), entry.Level, entry.Message)
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}
	return []byte(b.String()), nil
}

// Options configures NewLogger. A nil Output means stderr and a nil Encoder means JSON.
type Options struct {
	Level       LogLevel
	Output      io.Writer
	Service     string
	Version     string
	Environment string
	Encoder     LogEncoder
}

// sink is shared by a logger and every child derived from it.
type sink struct {
	mu      sync.Mutex
	level   LogLevel
	out     io.Writer
	encoder LogEncoder
}

// Logger is an immutable set of fields bound to a sink. With* methods return children.
type Logger struct {
	sink        *sink
	fields      map[string]interface{}
	service     string
	version     string
	environment string
}

func NewLogger(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Encoder == nil {
		opts.Encoder = NewJSONEncoder(false)
	}
	return &Logger{
		sink:        &sink{level: opts.Level, out: opts.Output, encoder: opts.Encoder},
		fields:      map[string]interface{}{},
		service:     opts.Service,
		version:     opts.Version,
		environment: opts.Environment,
	}
}

// OpenFileLogger appends JSON entries to path. When mirror is non-nil every entry is
// also written there. The returned closer must be called when the command finishes.
func OpenFileLogger(path string, level LogLevel, version string, mirror io.Writer) (*Logger, io.Closer, error) {
	cleanPath, err := common.CleanPath(path)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cleanPath), common.DirPermissionNormal); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, common.FilePermissionSecure) // #nosec G304 - path is cleaned
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var out io.Writer = f
	if mirror != nil {
		out = io.MultiWriter(f, mirror)
	}
	return NewLogger(Options{Level: level, Output: out, Service: "metricdrop", Version: version}), f, nil
}

// Discard is a logger that drops every entry
func Discard() *Logger {
	return NewLogger(Options{Level: ErrorLevel + 1, Output: io.Discard})
}

func (l *Logger) child(extra map[string]interface{}) *Logger {
	c := *l
	c.fields = make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		c.fields[k] = v
	}
	for k, v := range extra {
		c.fields[k] = v
	}
	return &c
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.child(map[string]interface{}{key: value})
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.child(fields)
}

// WithEnvironment stamps every entry with the target environment.
func (l *Logger) WithEnvironment(env string) *Logger {
	c := l.child(nil)
	c.environment = env
	return c
}

// SetLevel changes the threshold for this logger and all its children.
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

func (l *Logger) enabled(level LogLevel) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return level >= l.sink.level
}

func (l *Logger) emit(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	entry := &LogEntry{
		Timestamp:   time.Now(),
		Level:       level.String(),
		Message:     msg,
		Fields:      make(map[string]interface{}, len(l.fields)+len(fields)),
		Service:     l.service,
		Version:     l.version,
		Environment: l.environment,
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}
	// emit <- level method <- caller
	if _, file, line, ok := runtime.Caller(2); ok {
		entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	data, err := l.sink.encoder.Encode(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode log entry: %v\n", err)
		return
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_, _ = l.sink.out.Write(append(data, '\n'))
}

func (l *Logger) Debug(msg string) { l.emit(DebugLevel, msg, nil) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.emit(DebugLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.emit(DebugLevel, msg, fields)
}

func (l *Logger) Info(msg string) { l.emit(InfoLevel, msg, nil) }

func (l *Logger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.emit(InfoLevel, msg, fields)
}

func (l *Logger) Warn(msg string) { l.emit(WarnLevel, msg, nil) }

func (l *Logger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.emit(WarnLevel, msg, fields)
}

func (l *Logger) Error(msg string) { l.emit(ErrorLevel, msg, nil) }

func (l *Logger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.emit(ErrorLevel, msg, fields)
}
