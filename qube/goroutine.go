package qube

import (
	"fmt"
	"runtime/debug"
)

// Go runs f in a new goroutine, recovering from and logging any panic along
// with its stack trace instead of letting it crash the process. Every
// long-running background loop started by a Queue (a group worker, the
// notifier's read loop) goes through Go rather than a bare `go` statement.
//
// Usage:
//
//	Go(logger, func() {
//	    // background work
//	})
func Go(logger Logger, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(fmt.Errorf("panic recovered: %v\n%s", r, debug.Stack()))
			}
		}()
		f()
	}()
}
