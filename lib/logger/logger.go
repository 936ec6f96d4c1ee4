package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

var levelNames = [...]string{
	DEBUG:   "DEBUG",
	INFO:    "INFO",
	WARNING: "WARNING",
	ERROR:   "ERROR",
}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// Logger writes "[LEVEL] [MODULE] " prefixed lines. Loggers derived with
// WithModule share the output and the level, so SetLevel on any of them
// applies to all.
type Logger struct {
	out     io.Writer
	level   *atomic.Int32
	byLevel [ERROR + 1]*log.Logger
}

// New builds a logger writing every level to out.
func New(moduleName string, out io.Writer, minLevel LogLevel) *Logger {
	level := new(atomic.Int32)
	level.Store(int32(minLevel))
	return newWithLevel(moduleName, out, level)
}

func newWithLevel(moduleName string, out io.Writer, level *atomic.Int32) *Logger {
	l := &Logger{out: out, level: level}
	for lvl := DEBUG; lvl <= ERROR; lvl++ {
		l.byLevel[lvl] = log.New(out, fmt.Sprintf("[%s] [%s] ", lvl, moduleName), log.LstdFlags)
	}
	return l
}

// NewLogger writes to stdout and to a rotated file at logPath.
func NewLogger(moduleName, logPath string, maxSize, maxBackups, maxAge int, minLevel LogLevel) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,    // megabytes
		MaxBackups: maxBackups, // files
		MaxAge:     maxAge,     // days
		Compress:   true,
	}
	return New(moduleName, io.MultiWriter(rotator, os.Stdout), minLevel), nil
}

// Discard drops everything.
func Discard() *Logger {
	return New("DISCARD", io.Discard, ERROR+1)
}

func (l *Logger) WithModule(moduleName string) *Logger {
	return newWithLevel(strings.ToUpper(moduleName), l.out, l.level)
}

func (l *Logger) Enabled(level LogLevel) bool {
	return LogLevel(l.level.Load()) <= level
}

func (l *Logger) logf(level LogLevel, format string, v []interface{}) {
	if !l.Enabled(level) {
		return
	}
	_ = l.byLevel[level].Output(3, fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...interface{})   { l.logf(DEBUG, format, v) }
func (l *Logger) Info(format string, v ...interface{})    { l.logf(INFO, format, v) }
func (l *Logger) Warning(format string, v ...interface{}) { l.logf(WARNING, format, v) }
func (l *Logger) Error(format string, v ...interface{})   { l.logf(ERROR, format, v) }

func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func GetLogLevelFromString(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARNING", "WARN":
		return WARNING
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}
