// Package logger provides the leveled, prefix-tagged logging used across
// the host. Components pass their name as the prefix so interleaved output
// from the dispatcher, the GATT handlers and the collaborators stays
// readable.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Level is the severity of a log message.
type Level int

const (
	TRACE Level = iota // wire-level detail: chunk cursors, raw envelopes
	DEBUG              // protocol messages and state transitions
	INFO               // high-level events: connections, registrations
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO "
	case WARN:
		return "WARN "
	case ERROR:
		return "ERROR"
	}
	return "?????"
}

var (
	mu    sync.RWMutex
	level Level     = INFO
	out   io.Writer = os.Stdout
)

// SetLevel sets the global log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current log level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// ParseLevel converts a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	}
	return INFO
}

func log(l Level, prefix, format string, args ...interface{}) {
	if l < GetLevel() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	mu.RLock()
	w := out
	mu.RUnlock()
	if prefix != "" {
		fmt.Fprintf(w, "[%s %s] %s\n", prefix, l, msg)
	} else {
		fmt.Fprintf(w, "[%s] %s\n", l, msg)
	}
}

// Trace logs a wire-level message.
func Trace(prefix, format string, args ...interface{}) {
	log(TRACE, prefix, format, args...)
}

// Debug logs a protocol-level message.
func Debug(prefix, format string, args ...interface{}) {
	log(DEBUG, prefix, format, args...)
}

// Info logs a high-level event.
func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

// Warn logs a warning.
func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

// Error logs an error.
func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}

// ToJSON renders v as indented JSON for logging. Protobuf messages go
// through protojson so field names match their schema.
func ToJSON(v interface{}) string {
	if msg, ok := v.(proto.Message); ok {
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(b)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(b)
}

// DebugJSON logs a label and the JSON rendering of v at DEBUG level.
func DebugJSON(prefix, label string, v interface{}) {
	if GetLevel() > DEBUG {
		return
	}
	log(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
}
