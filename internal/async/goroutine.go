package async

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger *slog.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("goroutine panic", "goroutine", name, "panic", r, "stack", string(debug.Stack()))
	}
}
