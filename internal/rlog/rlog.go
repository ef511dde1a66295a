// Package rlog is a thin prefix-tagging shim over the standard logger,
// matching the [WARNING]/[ERROR] tagging style the rest of the codebase
// uses for operational logging.
package rlog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// Warnf logs a warning-tagged message. Used for recoverable conditions
// the caller already handles (out-of-order samples, failed writes).
func Warnf(format string, args ...interface{}) {
	std.Printf("[WARNING] "+format, args...)
}

// Errorf logs an error-tagged message.
func Errorf(format string, args ...interface{}) {
	std.Printf("[ERROR] "+format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...interface{}) {
	std.Printf("[INFO] "+format, args...)
}
