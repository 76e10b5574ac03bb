// Package logger provides leveled logging with optional session tags.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides leveled logging.
type Logger struct {
	level  Level
	logger *log.Logger
}

var defaultLogger *Logger

// ParseLevel maps a level name to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}

	defaultLogger = &Logger{
		level:  ParseLevel(level),
		logger: log.New(os.Stderr, "", flags),
	}
}

func output(l Level, tag, prefix, format string, args ...interface{}) {
	if defaultLogger == nil || defaultLogger.level > l {
		return
	}
	msg := fmt.Sprintf(prefix+tag+format, args...)
	_ = defaultLogger.logger.Output(3, msg)
}

func Debug(format string, args ...interface{}) { output(DebugLevel, "", "[DEBUG] ", format, args...) }

func Info(format string, args ...interface{}) { output(InfoLevel, "", "[INFO] ", format, args...) }

func Warn(format string, args ...interface{}) { output(WarnLevel, "", "[WARN] ", format, args...) }

func Error(format string, args ...interface{}) { output(ErrorLevel, "", "[ERROR] ", format, args...) }

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	if defaultLogger != nil {
		_ = defaultLogger.logger.Output(2, msg)
	}
	os.Exit(1)
}

// Tagged writes through the default logger with a fixed "[session ...]" tag.
type Tagged struct {
	tag string
}

// Session returns a logger whose lines carry the given session identifier.
func Session(id interface{}) Tagged {
	return Tagged{tag: strings.ReplaceAll(fmt.Sprintf("[session %v] ", id), "%", "%%")}
}

func (t Tagged) Debug(format string, args ...interface{}) {
	output(DebugLevel, t.tag, "[DEBUG] ", format, args...)
}

func (t Tagged) Info(format string, args ...interface{}) {
	output(InfoLevel, t.tag, "[INFO] ", format, args...)
}

func (t Tagged) Warn(format string, args ...interface{}) {
	output(WarnLevel, t.tag, "[WARN] ", format, args...)
}

func (t Tagged) Error(format string, args ...interface{}) {
	output(ErrorLevel, t.tag, "[ERROR] ", format, args...)
}
