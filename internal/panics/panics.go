// Package panics guards every background goroutine in the indexing core
// (main indexer, ZC parser, side-scan, per-BDV maintenance, clients
// maintenance, GC) so a panic in one is logged, with the stack trace of
// its launch site, before the process exits, instead of crashing the
// process without a trace.
package panics

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/btcsuite/btclog"
)

const panicHandlerTimeout = 5 * time.Second

// HandlePanic recovers a panic, logs it along with the stack trace
// captured at goroutine-launch time, and exits the process. It is meant
// to be deferred at the top of every spawned goroutine.
func HandlePanic(log btclog.Logger, goroutineStackTrace []byte) {
	err := recover()
	if err == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		log.Criticalf("Fatal error: %+v", err)
		if goroutineStackTrace != nil {
			log.Criticalf("Goroutine stack trace: %s", goroutineStackTrace)
		}
		log.Criticalf("Stack trace: %s", debug.Stack())
		close(done)
	}()

	select {
	case <-time.After(panicHandlerTimeout):
		fmt.Fprintln(os.Stderr, "couldn't handle a fatal error in time, exiting")
	case <-done:
	}
	os.Exit(1)
}

// GoroutineWrapperFunc returns a "spawn" function: spawn(f) launches f in
// a new goroutine that recovers and logs any panic via HandlePanic,
// capturing the stack trace at spawn time (not at panic time) so the
// launch site is visible in the log.
func GoroutineWrapperFunc(log btclog.Logger) func(f func()) {
	return func(f func()) {
		stackTrace := debug.Stack()
		go func() {
			defer HandlePanic(log, stackTrace)
			f()
		}()
	}
}

// Exit logs reason and exits the process after giving the logger a
// chance to flush.
func Exit(log btclog.Logger, reason string) {
	done := make(chan struct{})
	go func() {
		log.Criticalf("Exiting: %s", reason)
		close(done)
	}()

	select {
	case <-time.After(panicHandlerTimeout):
		fmt.Fprintln(os.Stderr, "couldn't exit gracefully")
	case <-done:
	}
	os.Exit(1)
}
