package utils

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger provides leveled logging with verbose mode support.
type Logger struct {
	verbose bool
	mu      sync.RWMutex
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = &Logger{
			verbose: false,
		}
	})
	return loggerInstance
}

// SetVerboseMode sets the verbose mode globally.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetVerbose sets the verbose mode for this logger instance.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
}

// IsVerbose returns whether verbose mode is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

// Debug logs a debug message (only shown when verbose=true).
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	if !l.IsVerbose() {
		return
	}
	fmt.Fprintf(os.Stderr, "%s [DEBUG] %s\n", time.Now().Format("15:04:05"), formatMessage(msgOrFormat, args...))
}

// Info logs an info message (always shown).
func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[INFO] %s\n", formatMessage(msgOrFormat, args...))
}

// Warn logs a warning message (always shown).
func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[WARN] %s\n", formatMessage(msgOrFormat, args...))
}

// Error logs an error message (always shown).
func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[ERROR] %s\n", formatMessage(msgOrFormat, args...))
}

// Debugf logs a debug message using the global logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof logs an info message using the global logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf logs a warning message using the global logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf logs an error message using the global logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}
