// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0 // errors only
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

var levelLabels = map[LogLevel]string{
	LogQuiet:   "ERR",
	LogNormal:  "INF",
	LogVerbose: "VRB",
	LogDebug:   "DBG",
}

// Logger writes levelled lines with an optional timestamp and a
// per-run tag.  Every line reaches the output in a single Write, so a
// Logger pointed at the worker's stderr sink never splits a relayed
// write or gets split by one.
//
// stderr is also a relay target, so the default quiet level keeps
// everything except errors off it.
type Logger struct {
	mu         sync.Mutex
	level      LogLevel
	out        io.Writer
	timestamps bool
	tag        string
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level:      LogLevel(verbosity),
		out:        os.Stderr,
		timestamps: verbosity >= int(LogDebug),
	}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	l.timestamps = on
	l.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out
}

// Redirect sends output to w until the returned func is called.
func (l *Logger) Redirect(w io.Writer) (restore func()) {
	prev := l.Output()
	l.SetOutput(w)
	return func() { l.SetOutput(prev) }
}

// SetTag sets a short identifier printed after the level prefix.
func (l *Logger) SetTag(tag string) {
	l.mu.Lock()
	l.tag = tag
	l.mu.Unlock()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Enabled reports whether messages at lv are printed.
func (l *Logger) Enabled(lv LogLevel) bool { return l.level >= lv }

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) { l.logf(LogNormal, "", format, args) }

// Warn prints when verbosity ≥ 1, labelled [WRN].
func (l *Logger) Warn(format string, args ...interface{}) { l.logf(LogNormal, "WRN", format, args) }

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) { l.logf(LogVerbose, "", format, args) }

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) { l.logf(LogDebug, "", format, args) }

// Error always prints.
func (l *Logger) Error(format string, args ...interface{}) { l.logf(LogQuiet, "", format, args) }

func (l *Logger) logf(min LogLevel, label, format string, args []interface{}) {
	if !l.Enabled(min) {
		return
	}
	if label == "" {
		label = levelLabels[min]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return
	}

	line := make([]byte, 0, 64+len(format))
	if l.timestamps {
		line = time.Now().AppendFormat(line, "15:04:05.000")
		line = append(line, ' ')
	}
	line = append(line, '[')
	line = append(line, label...)
	line = append(line, "] "...)
	if l.tag != "" {
		line = append(line, l.tag...)
		line = append(line, ": "...)
	}
	line = fmt.Appendf(line, format, args...)
	line = append(line, '\n')
	l.out.Write(line) //nolint:errcheck
}
