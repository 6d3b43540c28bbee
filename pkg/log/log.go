package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger is the logging interface used by links, multiplexers and channels.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

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
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ConsoleLogger writes one line per message with a colored level tag.
type ConsoleLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	level  Level
	prefix string
	tags   map[Level]string
	now    func() time.Time
}

func NewConsoleLogger(w io.Writer, level Level) *ConsoleLogger {
	return &ConsoleLogger{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
		tags: map[Level]string{
			LevelDebug: color.New(color.FgCyan).Sprint("DEBUG"),
			LevelInfo:  color.New(color.FgGreen).Sprint("INFO "),
			LevelWarn:  color.New(color.FgYellow, color.Bold).Sprint("WARN "),
			LevelError: color.New(color.FgRed, color.Bold).Sprint("ERROR"),
		},
		now: time.Now,
	}
}

// With returns a logger sharing the same output that prefixes every message.
func (l *ConsoleLogger) With(prefix string) *ConsoleLogger {
	return &ConsoleLogger{
		mu:     l.mu,
		w:      l.w,
		level:  l.level,
		prefix: l.prefix + "[" + prefix + "] ",
		tags:   l.tags,
		now:    l.now,
	}
}

func (l *ConsoleLogger) Debug(msg string) { l.write(LevelDebug, msg) }
func (l *ConsoleLogger) Info(msg string)  { l.write(LevelInfo, msg) }
func (l *ConsoleLogger) Warn(msg string)  { l.write(LevelWarn, msg) }
func (l *ConsoleLogger) Error(msg string) { l.write(LevelError, msg) }

func (l *ConsoleLogger) write(level Level, msg string) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("%s %s %s%s\n", l.now().Format("15:04:05.000"), l.tags[level], l.prefix, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.w, line)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string) {}
func (Nop) Info(string)  {}
func (Nop) Warn(string)  {}
func (Nop) Error(string) {}
