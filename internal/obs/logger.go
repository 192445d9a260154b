// Package obs holds the allocator's ambient observability stack: a small
// structured logger and the error kinds returned across the public API.
package obs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger is a minimal leveled, component-tagged, structured logger. It
// does not buffer or batch; every call writes a single line synchronously.
type Logger struct {
	mu        sync.Mutex
	level     Level
	component string
	output    io.Writer
}

// Config configures a Logger instance.
type Config struct {
	Level     Level
	Component string
	Output    io.Writer
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Logger{level: cfg.Level, component: cfg.Component, output: cfg.Output}
}

// Default returns a Logger at INFO level tagged with component.
func Default(component string) *Logger {
	return New(Config{Level: INFO, Component: component, Output: os.Stderr})
}

// With returns a new Logger sharing the output and level but tagged with a
// different component, the way kernel/utils.Logger.With scopes a sub-logger.
func (l *Logger) With(component string) *Logger {
	return &Logger{level: l.level, component: component, output: l.output}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteString("] [")
	b.WriteString(fmt.Sprintf("%-5s", levelNames[level]))
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString("[")
		b.WriteString(l.component)
		b.WriteString("] ")
	}
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(f.format())
	}
	b.WriteString("\n")
	l.output.Write([]byte(b.String()))
}

// Field is a structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

func (f Field) format() string {
	switch v := f.Value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case error:
		return fmt.Sprintf("%q", v.Error())
	case time.Duration:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func String(k, v string) Field        { return Field{k, v} }
func Int(k string, v int) Field       { return Field{k, v} }
func Uint32(k string, v uint32) Field { return Field{k, v} }
func Uint64(k string, v uint64) Field { return Field{k, v} }
func Err(err error) Field             { return Field{"error", err} }
