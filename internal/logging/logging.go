// Package logging provides the relay's leveled, timestamped logger.
package logging

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Logger writes timestamped lines to stdout, gated by level flags.
// A single shared mutex keeps interleaved goroutine output readable.
type Logger struct {
	mu             sync.Mutex
	requestEnabled bool
	debugEnabled   bool
}

// New creates a Logger. requestEnabled/debugEnabled mirror the teacher's
// LOG_REQUESTS / LOG_DEBUG environment flags.
func New(requestEnabled bool, debugEnabled bool) *Logger {
	return &Logger{
		requestEnabled: requestEnabled,
		debugEnabled:   debugEnabled,
	}
}

func (l *Logger) line(s string) {
	tm := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), s)
}

// Warning logs an operational warning.
func (l *Logger) Warning(s string) {
	l.line("[WARNING] " + s)
}

// Info logs a routine lifecycle event.
func (l *Logger) Info(s string) {
	l.line("[INFO] " + s)
}

// Error logs a failure.
func (l *Logger) Error(err error) {
	l.line("[ERROR] " + err.Error())
}

// ErrorMessage logs a failure that has no error value.
func (l *Logger) ErrorMessage(s string) {
	l.line("[ERROR] " + s)
}

// Request logs a per-connection protocol event (connect/publish/play/...).
func (l *Logger) Request(sessionID uint64, ip string, s string) {
	if !l.requestEnabled {
		return
	}
	l.line("[REQUEST] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + s)
}

// Debug logs a verbose diagnostic line.
func (l *Logger) Debug(s string) {
	if !l.debugEnabled {
		return
	}
	l.line("[DEBUG] " + s)
}

// DebugSession logs a verbose per-connection diagnostic line.
func (l *Logger) DebugSession(sessionID uint64, ip string, s string) {
	if !l.debugEnabled {
		return
	}
	l.line("[DEBUG] #" + strconv.FormatUint(sessionID, 10) + " (" + ip + ") " + s)
}

// DebugEnabled reports whether debug logging is on, for callers that build
// an expensive message only when it would actually be printed.
func (l *Logger) DebugEnabled() bool {
	return l.debugEnabled
}
