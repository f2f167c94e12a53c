// Package safego launches fire-and-forget goroutines that survive panics.
//
// Async paths in this service — alert creation after an append, event
// shipping, notification delivery — run detached from the request that
// triggered them. An unrecovered panic there would kill the goroutine
// silently and, for the jobs, stop the loop forever. Go wraps the work in
// a recover so the failure is logged with a stack trace instead.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine, recovering and logging any panic.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background goroutine panicked",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
