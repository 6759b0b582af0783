// Package debug provides gated debug logging. Output goes to stderr when
// ERA_DEBUG is set, and additionally to a rotated log file when one is
// configured.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	enabled = os.Getenv("ERA_DEBUG") != ""
	sink    io.Writer
)

// SetLogFile routes debug output to a size-rotated file in addition to
// stderr. maxSizeMB and maxBackups bound disk usage.
func SetLogFile(path string, maxSizeMB, maxBackups int) {
	mu.Lock()
	defer mu.Unlock()
	if path == "" {
		sink = nil
		return
	}
	sink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
}

// Enabled reports whether debug logging is on.
func Enabled() bool {
	return enabled
}

// Logf writes a debug line when debugging is enabled or a log file is set.
func Logf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if !enabled && sink == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if enabled {
		fmt.Fprint(os.Stderr, msg)
	}
	if sink != nil {
		fmt.Fprint(sink, msg)
	}
}
