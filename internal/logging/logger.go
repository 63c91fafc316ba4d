// Package logging provides leveled structured logging for the collector.
//
// Entries carry a fields map and, while a collection runs, the id of the
// cycle that produced them so every line of one cycle can be correlated.
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

// Level is the severity of an entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// ParseLevel converts a level name, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
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

// Format selects the output encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat converts a format name, defaulting to JSON.
func ParseFormat(s string) Format {
	if strings.ToLower(s) == "text" {
		return FormatText
	}
	return FormatJSON
}

// Entry is one log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Cycle     string         `json:"cycle,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// sink is shared by a logger and everything derived from it, so derived
// loggers write through one lock and follow level changes.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	format Format
}

// Logger writes structured entries. Derived loggers (With, WithCycle) share
// the parent's output and level.
type Logger struct {
	sink   *sink
	fields map[string]any
	cycle  string
}

// New creates a logger. A nil Output writes to stderr.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{sink: &sink{out: out, level: cfg.Level, format: cfg.Format}}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Level: LevelError + 1, Output: io.Discard})
}

// SetLevel changes the minimum level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Level returns the minimum level.
func (l *Logger) Level() Level {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.Level()
}

// With returns a logger adding fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, fields: merged, cycle: l.cycle}
}

// WithCycle returns a logger tagging entries with a collection cycle id.
func (l *Logger) WithCycle(id string) *Logger {
	return &Logger{sink: l.sink, fields: l.fields, cycle: id}
}

// Cycle returns the cycle id attached to l.
func (l *Logger) Cycle() string { return l.cycle }

func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg, nil) }
func (l *Logger) Info(msg string)  { l.log(LevelInfo, msg, nil) }
func (l *Logger) Warn(msg string)  { l.log(LevelWarn, msg, nil) }
func (l *Logger) Error(msg string) { l.log(LevelError, msg, nil) }

// Debugf logs at debug level with extra fields.
func (l *Logger) Debugf(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }

// Infof logs at info level with extra fields.
func (l *Logger) Infof(msg string, fields map[string]any) { l.log(LevelInfo, msg, fields) }

// Warnf logs at warn level with extra fields.
func (l *Logger) Warnf(msg string, fields map[string]any) { l.log(LevelWarn, msg, fields) }

// Errorf logs at error level with extra fields.
func (l *Logger) Errorf(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra map[string]any) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	e := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		Cycle:     l.cycle,
	}
	if len(l.fields)+len(extra) > 0 {
		e.Fields = make(map[string]any, len(l.fields)+len(extra))
		for k, v := range l.fields {
			e.Fields[k] = v
		}
		for k, v := range extra {
			e.Fields[k] = v
		}
	}

	var line []byte
	if s.format == FormatText {
		line = formatText(e)
	} else {
		line, _ = json.Marshal(e)
		line = append(line, '\n')
	}
	_, _ = s.out.Write(line)
}

func formatText(e Entry) []byte {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format(time.RFC3339))
	b.WriteString(" [")
	b.WriteString(e.Level)
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Cycle != "" {
		b.WriteString(" cycle=")
		b.WriteString(e.Cycle)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		switch v := e.Fields[k].(type) {
		case string:
			b.WriteString(v)
		case fmt.Stringer:
			b.WriteString(v.String())
		default:
			data, _ := json.Marshal(v)
			b.Write(data)
		}
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
