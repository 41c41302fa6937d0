// Package ipc models the synchronous message-passing primitives this
// runtime consumes from the microkernel (spec §6). The microkernel itself
// is a black box outside this repo's scope; Gate is the in-process stand-in
// for a kernel IPC endpoint. internal/itas serves its combined page-fault
// and exception loop on a Gate; the other servers are called directly as
// Go methods. This lets the runtime be written, tested, and exercised
// without a real kernel underneath it.
package ipc

import (
	"context"
	"errors"
	"sync"

	"l4rt/internal/defs"
)

// Label identifies the sender or destination of an IPC, analogous to a
// kernel object capability's protocol label.
type Label int64

// Flags select the IPC primitive's direction, mirroring the kernel's
// unified invocation flags.
type Flags uint8

const (
	SendOnly Flags = 1 << iota
	RecvOnly
	Call // send-and-wait in one operation
	ReplyAndWait
	SendAndWait
)

// Rights are the capability rights bits carried by a flexpage or a
// capability item. A send may downgrade but never upgrade rights.
type Rights uint8

const (
	RightRead Rights = 1 << iota
	RightWrite
	RightExecute
	RightStrong
	RightDelete
	RightServer
)

// Downgrade returns the rights remaining after masking against allowed;
// a send can only remove bits, never add them.
func (r Rights) Downgrade(allowed Rights) Rights { return r & allowed }

// Flexpage names a power-of-two aligned range of pages or capabilities:
// (base, order, rights).
type Flexpage struct {
	Base   uintptr
	Order  uint // 1<<Order bytes/caps; capped at 30 (1GiB) for memory fpages
	Rights Rights
}

// IsNil reports whether fp carries no mapping (the L4 "nil flexpage"
// convention used to signal "no page" from a pager).
func (fp Flexpage) IsNil() bool { return fp.Order == 0 && fp.Base == 0 && fp.Rights == 0 }

// Tag carries a reply/request's metadata: label, untyped word count, typed
// item count, and the protocol number multiplexed over one gate.
type Tag struct {
	Label       int64
	Words       int
	Items       int
	HasError    bool
	IsException bool
	Protocol    int32
}

// WithError returns a copy of t carrying the given IPC error code in the
// label field's low bits, matching the "negated error code in the reply
// tag" convention from spec §7.
func (t Tag) WithError(e defs.Err_t) Tag {
	t.HasError = e != defs.EOK
	t.Label = int64(-e)
	return t
}

// Err extracts the defs.Err_t carried by a tag produced by WithError.
func (t Tag) Err() defs.Err_t {
	if !t.HasError {
		return defs.EOK
	}
	return defs.Err_t(-t.Label)
}

// MR is the message-register file: a small fixed array of untyped words
// followed, by convention, by any typed items (flexpages, strings)
// serialized into the remaining slots.
type MR [64]uintptr

// ErrClosed is returned when a Gate is invoked after Close.
var ErrClosed = errors.New("ipc: gate closed")

// ErrTimeout is returned when a Call's context is done before a reply
// arrives, standing in for the kernel's pair-of-timeouts model.
var ErrTimeout = errors.New("ipc: timeout")

type request struct {
	tag   Tag
	mr    MR
	reply chan response
}

type response struct {
	tag Tag
	mr  MR
}

// Gate is a synchronous rendezvous point: a one-request-at-a-time IPC
// endpoint exactly like the kernel object every server loop in this
// runtime receives on. A server calls Serve in a loop; clients call
// Invoke (or Call) to perform a blocking send-and-wait.
type Gate struct {
	ch     chan request
	mu     sync.Mutex
	closed bool
}

// NewGate creates an unbuffered IPC gate (send-and-wait has no queueing,
// matching "requests from one client to one server are processed in send
// order").
func NewGate() *Gate {
	return &Gate{ch: make(chan request)}
}

// Close marks the gate closed; further Invoke calls fail with ErrClosed.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.ch)
	}
}

// Invoke performs a blocking call: send tag/mr, wait for the server's
// reply or ctx's cancellation (the Go analogue of IPC_NEVER vs a
// kernel timeout pair).
func (g *Gate) Invoke(ctx context.Context, tag Tag, mr MR) (Tag, MR, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Tag{}, MR{}, ErrClosed
	}
	g.mu.Unlock()

	req := request{tag: tag, mr: mr, reply: make(chan response, 1)}
	select {
	case g.ch <- req:
	case <-ctx.Done():
		return Tag{}, MR{}, ErrTimeout
	}
	select {
	case resp := <-req.reply:
		return resp.tag, resp.mr, nil
	case <-ctx.Done():
		return Tag{}, MR{}, ErrTimeout
	}
}

// Handler processes one request to completion and returns the reply. Per
// spec §5, a server loop processes one request to completion before
// receiving the next, making server-state transitions atomic from the
// clients' perspective; Serve enforces exactly that.
type Handler func(tag Tag, mr MR) (Tag, MR)

// Serve runs the server loop until ctx is done or the gate is closed.
// Exactly one Handler call is in flight at any time.
func Serve(ctx context.Context, g *Gate, h Handler) {
	for {
		select {
		case req, ok := <-g.ch:
			if !ok {
				return
			}
			tag, mr := h(req.tag, req.mr)
			req.reply <- response{tag: tag, mr: mr}
		case <-ctx.Done():
			return
		}
	}
}
