// Package pthread declares the interface this runtime expects from the
// POSIX-thread shim that runs inside each client task's address space
// (spec §Glossary "pthread shim": "an external collaborator; its
// interface is specified here, its implementation is out of scope").
// Moe and ITAS only ever need to call across this interface — never to
// implement what is on the other side of it — so there is deliberately
// no concrete implementation in this package, matching the teacher's
// treatment of fdops as a pure interface consumed by vm (biscuit/src/vm
// imports "fdops" but the kernel never implements a file descriptor
// itself).
package pthread

import "l4rt/internal/defs"

// ThreadCreateArgs carries what a pthread_create-style request needs to
// start a new OS-level thread inside a task: the entry function pointer,
// its single argument, and the stack region to run on.
type ThreadCreateArgs struct {
	EntryPC  uintptr
	Arg      uintptr
	StackSP  uintptr
	StackLen uintptr
}

// Shim is implemented by the in-task C library runtime that actually
// knows how to splice a new L4 thread into libpthread's bookkeeping.
// Moe/ITAS hold a Shim reference only to route requests across the
// IPC boundary; they never construct one directly.
type Shim interface {
	// Create starts a new thread per args and returns its thread id.
	Create(args ThreadCreateArgs) (defs.Tid_t, defs.Err_t)
	// Join blocks until tid has exited.
	Join(tid defs.Tid_t) defs.Err_t
	// Detach marks tid as not joinable, releasing its resources on exit
	// without requiring a Join.
	Detach(tid defs.Tid_t) defs.Err_t
	// Kill delivers signum to tid via the signal manager (spec §4.6
	// pthread_kill semantics: equivalent to Signal manager's Raise, but
	// issued from inside the task rather than by ITAS itself).
	Kill(tid defs.Tid_t, signum int) defs.Err_t
}
