package signal

import (
	"sync"

	"l4rt/internal/defs"
)

// Sigaltstack mirrors struct sigaltstack: an alternate signal stack a
// thread may register for handlers with SA_ONSTACK.
type Sigaltstack struct {
	SP      uintptr
	Size    uintptr
	Disable bool
}

// Sigaction mirrors struct sigaction, minus the parts (sa_restorer) that
// are an implementation detail of the C library driving this manager
// rather than of the manager itself.
type Sigaction struct {
	Handler  uintptr // handler PC, or 0 (SIG_DFL) / 1 (SIG_IGN)
	Mask     Set     // additionally blocked while the handler runs
	OnStack  bool    // SA_ONSTACK
	NoDefer  bool    // SA_NODEFER
	Restart  bool    // SA_RESTART
}

const (
	sigDFL uintptr = 0
	sigIGN uintptr = 1
)

// Frame is the synthesized signal delivery context: the saved
// pre-signal register state plus where the handler should start
// executing, used by the loader/pthread shim to actually transfer control
// and to build the sigreturn trampoline (spec §4.6 "signal-frame
// synthesis").
type Frame struct {
	HandlerPC  uintptr
	HandlerSP  uintptr
	Signo      int
	Code       int32
	FaultAddr  uintptr
	SavedPC    uintptr
	SavedSP    uintptr
	SavedMask  Set
	ReturnTo   uintptr // the sigreturn trampoline address the handler jumps back to
}

// sigStackAlign is the minimum alignment the signal delivery frame must
// leave the stack pointer at, matching the original's Sig_stack_align.
const sigStackAlign = 16

// Handler is the per-thread signal state: blocked mask, pending-signal
// queue, alternate stack, and stop/continue status (spec §4.6
// "Thread_signal_handler").
type Handler struct {
	mu       sync.Mutex
	tid      defs.Tid_t
	mgr      *Manager
	blocked  Set
	pending  PendingList
	altstack Sigaltstack
	stopped  bool
}

func newHandler(mgr *Manager, tid defs.Tid_t) *Handler {
	return &Handler{mgr: mgr, tid: tid, altstack: Sigaltstack{Disable: true}}
}

// Raise queues a signal targeted at this specific thread.
func (h *Handler) Raise(p Pending) bool { return h.pending.Queue(p) }

// Sigaltstack installs ss (if non-nil) and reports the previous value.
func (h *Handler) Sigaltstack(ss *Sigaltstack) Sigaltstack {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.altstack
	if ss != nil {
		h.altstack = *ss
	}
	return old
}

// sigprocmask applies how (SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK semantics,
// selected by the caller via the three helper methods below) and returns
// the previous mask.
func (h *Handler) sigprocmask(apply func(cur Set) Set) Set {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.blocked
	h.blocked = apply(old)
	h.blocked.Del(SIGKILL)
	h.blocked.Del(SIGSTOP)
	return old
}

func (h *Handler) SigBlock(set Set) Set   { return h.sigprocmask(func(c Set) Set { return c.Union(set) }) }
func (h *Handler) SigUnblock(set Set) Set { return h.sigprocmask(func(c Set) Set { return c.Intersect(set.Complement()) }) }
func (h *Handler) SigSetMask(set Set) Set { return h.sigprocmask(func(Set) Set { return set }) }

func (h *Handler) Blocked() Set {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blocked
}

// Sigpending returns the union of this thread's and the process's
// pending sets (spec §4.6: sigpending reports both).
func (h *Handler) Sigpending() Set {
	return h.pending.Pending().Union(h.mgr.process.Pending())
}

// Stopped reports whether the thread is currently held by SIGSTOP.
func (h *Handler) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *Handler) setStopped(v bool) {
	h.mu.Lock()
	h.stopped = v
	h.mu.Unlock()
}

// NeedsDelivery reports whether any unblocked signal is waiting, either
// on this thread's own queue or the process-wide one. Non-destructive:
// unlike DeliverPending, it does not remove anything from either queue.
func (h *Handler) NeedsDelivery() bool {
	blocked := h.Blocked()
	return !h.pending.Pending().Intersect(blocked.Complement()).Empty() ||
		!h.mgr.process.Pending().Intersect(blocked.Complement()).Empty()
}

// DeliverPending fetches the next deliverable signal (own queue first,
// tie-broken by the synchronous/lowest-number rule in PendingList.Fetch,
// then falling back to the process-wide queue) and, if its disposition is
// neither SIG_IGN nor SIG_DFL-with-no-effect, synthesizes a Frame that the
// caller installs into the thread's register state.
//
// savedPC/savedSP are the thread's register state at the point delivery
// was checked (typically a syscall return or an exception entry).
func (h *Handler) DeliverPending(savedPC, savedSP uintptr, trampoline uintptr) (Frame, bool, defs.Err_t) {
	blocked := h.Blocked()

	p, ok := h.pending.Fetch(blocked)
	if !ok {
		p, ok = h.mgr.process.Fetch(blocked)
	}
	if !ok {
		return Frame{}, false, defs.EOK
	}

	act := h.mgr.sigaction(p.Signo)
	if act.Handler == sigIGN {
		return Frame{}, false, defs.EOK
	}
	if act.Handler == sigDFL {
		h.applyDefault(p)
		return Frame{}, false, defs.EOK
	}

	sp := savedSP
	if act.OnStack && !h.altstack.Disable {
		h.mu.Lock()
		sp = (h.altstack.SP + h.altstack.Size) &^ (sigStackAlign - 1)
		h.mu.Unlock()
	}
	// Reserve a minimal frame (the caller/loader knows the real ABI
	// layout); we only guarantee alignment and report where it begins.
	sp = (sp - 256) &^ (sigStackAlign - 1)

	newBlocked := h.Blocked().Union(act.Mask)
	if !act.NoDefer {
		newBlocked.Add(p.Signo)
	}
	h.SigSetMask(newBlocked)

	return Frame{
		HandlerPC: act.Handler,
		HandlerSP: sp,
		Signo:     p.Signo,
		Code:      p.Code,
		FaultAddr: p.Addr,
		SavedPC:   savedPC,
		SavedSP:   savedSP,
		SavedMask: blocked,
		ReturnTo:  trampoline,
	}, true, defs.EOK
}

// Sigreturn restores the mask saved in frame, undoing DeliverPending's
// mask adjustment (spec §4.6 "sigreturn trampoline unwind").
func (h *Handler) Sigreturn(frame Frame) {
	h.SigSetMask(frame.SavedMask)
}

// applyDefault handles a signal without an installed handler: SIGSTOP
// stops the thread, SIGCONT resumes it, and SIGCHLD and SIGURG are
// ignored. Every other signal is dropped here without effect; in
// particular the process is not terminated, and DeliverPending reports
// no delivery.
func (h *Handler) applyDefault(p Pending) {
	switch p.Signo {
	case SIGSTOP:
		h.setStopped(true)
	case SIGCONT:
		h.setStopped(false)
	case SIGCHLD, SIGURG():
		// default-ignored
	}
}

// SIGURG is not in the core set above but default-ignored per POSIX;
// kept as a function to avoid growing the exported constant list for a
// signal this manager never classifies or raises on its own.
func SIGURG() int { return 23 }
