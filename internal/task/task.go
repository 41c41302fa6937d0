// Package task implements per-task lifecycle bookkeeping in Moe: the
// state machine a child task moves through from creation to reaping, and
// the parent-capability exit notification spec §3 "Task" describes.
package task

import (
	"sync"

	"l4rt/internal/defs"
	"l4rt/internal/factory"
	"l4rt/internal/ipc"
	"l4rt/internal/namespace"
	"l4rt/internal/region"
	"l4rt/internal/signal"
)

// State is a task's lifecycle stage.
type State int

const (
	Initializing State = iota
	Running
	Zombie
	Reaped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	case Reaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// Task is one child task's server-side record: its own factory (for
// quota-scoped capability creation), region map, signal manager and
// local namespace, plus the lifecycle state and exit notification wiring
// (spec §3 "Task", §4.8).
type Task struct {
	mu       sync.Mutex
	id       defs.Tid_t
	state    State
	exitCode int32
	Factory  *factory.Factory
	Regions  *region.Map
	Signals  *signal.Manager
	Local    *namespace.Namespace
	parent   ipc.Label
	waiters  []chan struct{}
}

// Pool tracks every live task by id, the object pool spec §3 describes
// Moe keeping so a parent can look up and reap its children.
type Pool struct {
	mu    sync.Mutex
	tasks map[defs.Tid_t]*Task
}

// NewPool creates an empty task pool.
func NewPool() *Pool { return &Pool{tasks: make(map[defs.Tid_t]*Task)} }

// New creates a task in the Initializing state, registers it in the
// pool, and returns it.
func (p *Pool) New(id defs.Tid_t, fac *factory.Factory, rm *region.Map, sig *signal.Manager, ns *namespace.Namespace, parent ipc.Label) *Task {
	t := &Task{id: id, state: Initializing, Factory: fac, Regions: rm, Signals: sig, Local: ns, parent: parent}
	p.mu.Lock()
	p.tasks[id] = t
	p.mu.Unlock()
	return t
}

// Get looks up a task by id.
func (p *Pool) Get(id defs.Tid_t) (*Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	return t, ok
}

// Reap removes a Zombie task from the pool, returning its exit code.
// Reaping a task that is not a zombie fails with EBUSY.
func (p *Pool) Reap(id defs.Tid_t) (int32, defs.Err_t) {
	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if !ok {
		return 0, defs.ENOENT
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Zombie {
		return 0, defs.EBUSY
	}
	t.state = Reaped
	p.mu.Lock()
	delete(p.tasks, id)
	p.mu.Unlock()
	return t.exitCode, defs.EOK
}

// Start transitions a task from Initializing to Running.
func (t *Task) Start() defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Initializing {
		return defs.EBUSY
	}
	t.state = Running
	return defs.EOK
}

// Exit transitions a Running task to Zombie, records its exit code, and
// wakes any goroutine blocked in Wait (the in-process stand-in for the
// IPC notification Moe sends to the parent's exit-watch capability, spec
// §3 "parent-capability exit notification").
func (t *Task) Exit(code int32) defs.Err_t {
	t.mu.Lock()
	if t.state != Running {
		t.mu.Unlock()
		return defs.EBUSY
	}
	t.state = Zombie
	t.exitCode = code
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return defs.EOK
}

// State returns the task's current lifecycle stage.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Parent returns the capability label of the task's creator, notified on
// exit.
func (t *Task) Parent() ipc.Label { return t.parent }

// Wait blocks until the task becomes a Zombie, returning immediately if
// it already is one.
func (t *Task) Wait() {
	t.mu.Lock()
	if t.state == Zombie || t.state == Reaped {
		t.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()
	<-ch
}
