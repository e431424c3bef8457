// Package faultguard converts a synchronous memory fault raised while
// reading a memory-mapped byztime region into an ordinary Go error
// instead of a process crash.
//
// The C original arms a sigsetjmp target before touching mapped
// memory and siglongjmps out of the SIGBUS handler if the backing
// file was truncated out from under the mapping
// (_examples/original_source/byztime_consumer.c, byztime_internal.h).
// Go has no equivalent of sigsetjmp/siglongjmp and reserves SIGBUS and
// SIGSEGV for its own runtime, so that mechanism cannot be ported
// directly. It also doesn't need to be: the Go runtime already
// classifies a synchronous SIGBUS or SIGSEGV raised while executing Go
// code as a runtime.Error-flavored panic rather than killing the
// process outright, which is the mechanism mmap-backed Go databases
// rely on to survive a file truncated underneath an active mapping.
// Guarded uses recover() to catch that panic, making it the idiomatic
// Go substitute for sigsetjmp/siglongjmp here. The runtime only grants
// that recoverable panic automatically for a fault near a nil pointer;
// a fault at a real mapped address is fatal unless
// runtime/debug.SetPanicOnFault(true) was set on the calling goroutine
// first, which Guarded does for the duration of f.
package faultguard

import (
	"errors"
	"runtime"
	"runtime/debug"
)

// ErrFault is returned by Guarded when f faulted while accessing
// mapped memory, typically because the backing file was truncated by
// another process.
var ErrFault = errors.New("faultguard: fault reading mapped region")

// Guarded runs f and converts a runtime memory-fault panic raised
// during its execution into ErrFault. Any panic value that is not a
// runtime.Error is re-raised: faultguard only understands the memory
// faults it exists to catch, and a bug elsewhere in f must still crash
// the process the normal way.
//
// A SIGBUS/SIGSEGV at a real mapped address, as opposed to one near
// nil, is fatal by default: the runtime only turns it into a
// recoverable panic on the calling goroutine if
// debug.SetPanicOnFault(true) was set first, so Guarded sets it for
// the duration of f and restores the previous value afterward.
func Guarded(f func()) (err error) {
	prev := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(prev)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				err = ErrFault
				return
			}
			panic(r)
		}
	}()
	f()
	return nil
}

// Disposition is a placeholder for the previous signal disposition, in
// the shape spec.md's install_fault_handler/handle_fault pair expects.
// It carries no data: see Install.
type Disposition struct{}

// Install exists for API-shape parity with spec.md's
// install_fault_handler. The Go runtime unconditionally intercepts the
// faults Guarded recovers from before any handler a caller could
// install via golang.org/x/sys/unix.Sigaction would run, so there is
// nothing for Install to chain to; it always returns a zero
// Disposition and a nil error.
func Install() (Disposition, error) {
	return Disposition{}, nil
}

// Handle exists for API-shape parity with spec.md's handle_fault. It
// is never invoked by this package: Guarded's recover() is what
// actually observes the fault. Callers migrating host code that used
// to chain into a prior SIGBUS handler have nothing left to chain to.
func Handle(Disposition) {}
