package util

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	currentLevel atomic.Int32
	logger       atomic.Pointer[log.Logger]
)

func init() {
	currentLevel.Store(int32(LogLevelInfo))
	logger.Store(log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds))
}

// SetLevel may be called while other goroutines log.
func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

func Level() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects every level to w.
func SetOutput(w io.Writer) {
	logger.Store(log.New(w, "", log.LstdFlags|log.Lmicroseconds))
}

// Enabled reports whether messages at level are written.
func Enabled(level LogLevel) bool {
	return Level() <= level
}

func logf(level LogLevel, prefix, format string, v ...interface{}) {
	if Enabled(level) {
		logger.Load().Printf(prefix+format, v...)
	}
}

func Debug(format string, v ...interface{}) {
	logf(LogLevelDebug, "[DEBUG] ", format, v...)
}

func Info(format string, v ...interface{}) {
	logf(LogLevelInfo, "[INFO] ", format, v...)
}

func Warn(format string, v ...interface{}) {
	logf(LogLevelWarn, "[WARN] ", format, v...)
}

func Error(format string, v ...interface{}) {
	logf(LogLevelError, "[ERROR] ", format, v...)
}

func Fatal(format string, v ...interface{}) {
	logger.Load().Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
