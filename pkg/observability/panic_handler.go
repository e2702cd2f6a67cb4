package observability

import (
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack trace and
// swallows it. For use in background goroutines (cron jobs, usage
// tracking) where a panic must not take the process down:
//
//	defer observability.RecoverPanic(logger, "tenant gauge refresh")
//
// The scope string names the goroutine in the log line.
func RecoverPanic(logger *Logger, scope string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("scope", scope).
			WithField("stack", string(debug.Stack())).
			Error("recovered from panic")
	}
}
