// Package moe implements the root memory allocator and dataspace engine
// (spec §2 "Moe"): the process every other task in the system ultimately
// gets its memory, namespace entries and child factories from. It wires
// together pagealloc, quota, dataspace, region, namespace, factory,
// scheduler, bootfs and task into the single root server object cmd/moe
// starts, grounded on the overall client/server shape of
// original_source/moe/server/src/server.cc (the root task that owns the
// physical memory pool and answers every other task's first requests).
package moe

import (
	"l4rt/internal/bootfs"
	"l4rt/internal/capability"
	"l4rt/internal/config"
	"l4rt/internal/dataspace"
	"l4rt/internal/defs"
	"l4rt/internal/diag"
	"l4rt/internal/elfloader"
	"l4rt/internal/errs"
	"l4rt/internal/factory"
	"l4rt/internal/ipc"
	"l4rt/internal/itas"
	"l4rt/internal/logging"
	"l4rt/internal/namespace"
	"l4rt/internal/pagealloc"
	"l4rt/internal/region"
	"l4rt/internal/scheduler"
	"l4rt/internal/task"
)

// defaultArenaBytes is the size of the physical page pool Moe mmaps on
// startup when the caller does not size it explicitly (e.g. from a
// manifest's root_quota). 256 MiB is enough headroom for the boot
// modules and the demo-sized clients this runtime is exercised with.
const defaultArenaBytes = 256 << 20

// rootRegionBase/rootRegionLimit bound the address range Moe's own
// region map (and each child task's, until told otherwise) manages; the
// base is 4 MiB, the conventional x86-64 link address at which
// elfloader.Load attaches PT_LOAD segments, so the low 4 MiB stay
// unmapped.
const (
	rootRegionBase  = 0x400000
	rootRegionLimit = 0x7fffffffffff
)

// Root is the running root server: the physical allocator, the root
// factory hanging off it, the root namespace every client looks things
// up in, the scheduler proxy template, and the pool of tasks it has
// started.
type Root struct {
	log    *logging.Logger
	alloc  *pagealloc.Allocator
	fac    *factory.Factory
	ns     *namespace.Namespace
	sched  *scheduler.Proxy
	tasks  *task.Pool
	caps   *capability.Table
	labels map[defs.CapIndex]ipc.Label
	mods   []dataspace.Dataspace
	raw    map[string][]byte
}

// New starts a root server: it mmaps an arena-byte physical pool,
// creates the root factory with rootQuota bytes (quota.Unlimited for
// none), and registers cfg.Clients as pre-reserved child quotas the way
// the original's manifest-driven client list does.
func New(cfg config.MoeConfig, log *logging.Logger, arenaBytes int) (*Root, error) {
	if arenaBytes <= 0 {
		arenaBytes = defaultArenaBytes
	}
	alloc, err := pagealloc.New(arenaBytes)
	if err != nil {
		return nil, errs.New("moe", "New", defs.ENOMEM, err)
	}

	fac := factory.New(alloc, cfg.RootQuota, 4096, log)
	ns := namespace.New(nil)
	r := &Root{
		log:    log,
		alloc:  alloc,
		fac:    fac,
		ns:     ns,
		tasks:  task.NewPool(),
		caps:   capability.NewTable(4096),
		labels: make(map[defs.CapIndex]ipc.Label),
		raw:    make(map[string][]byte),
	}
	r.sched = scheduler.New(^uint64(0), r.runThread)

	for _, c := range cfg.Clients {
		if _, _, err := fac.CreateFactory(c.Quota, 256); err != defs.EOK {
			log.Warnf("moe: reserving client %q quota: %s", c.Name, err)
		}
	}
	return r, nil
}

// Factory returns the root factory, for callers (ned, tests) that need
// to create their own child factories/dataspaces/namespaces directly.
func (r *Root) Factory() *factory.Factory { return r.fac }

// Namespace returns the root namespace.
func (r *Root) Namespace() *namespace.Namespace { return r.ns }

// Tasks returns the pool of tasks this root has started, for callers
// (ned) that start tasks of their own directly through a factory rather
// than through Root.StartTask.
func (r *Root) Tasks() *task.Pool { return r.tasks }

// Close releases the physical page pool.
func (r *Root) Close() error { return r.alloc.Close() }

// LoadBootModules registers mods as static read-only dataspaces under
// the root namespace's "rom" entry (spec §4.9 boot-fs), assigning each a
// fresh capability label. A namespace lookup yields that label; the
// module bytes are kept in a name-keyed cache that ReadBootModule reads.
func (r *Root) LoadBootModules(mods []bootfs.Module) error {
	out, err := bootfs.Register(r.ns, mods, r.labelFor)
	if err != defs.EOK {
		return errs.New("moe", "LoadBootModules", err, nil)
	}
	r.mods = append(r.mods, out...)
	for _, m := range mods {
		r.raw[m.Name()] = m.Data
	}
	return nil
}

func (r *Root) labelFor(ds dataspace.Dataspace) ipc.Label {
	idx, cerr := r.caps.Alloc(ipc.Label(0), ipc.RightRead)
	if cerr != defs.EOK {
		return ipc.Label(-1)
	}
	lbl := ipc.Label(int64(idx) + 1)
	r.labels[idx] = lbl
	return lbl
}

// ReadBootModule returns the bytes of a module registered under rom/name,
// satisfying the func(string) ([]byte, error) shape internal/ned needs to
// resolve a default_loader:start() program name. The namespace lookup
// confirms the module is actually registered (and not yet revoked)
// before falling back to the raw byte cache populated by LoadBootModules.
func (r *Root) ReadBootModule(name string) ([]byte, error) {
	if _, _, err := r.ns.Query("rom/" + name); err != defs.EOK {
		return nil, errs.New("moe", "ReadBootModule", err, nil)
	}
	data, ok := r.raw[name]
	if !ok {
		return nil, errs.New("moe", "ReadBootModule", defs.ENOENT, nil)
	}
	return data, nil
}

// StartTask loads an ELF image into a freshly created task and starts
// it, creating that task's own factory (borrowing quota bytes from the
// root factory), region map and ITAS instance as one unit, per spec §2's
// "Moe's factory creates the region map, ITAS and signal manager for a
// new task as part of task creation".
func (r *Root) StartTask(tid defs.Tid_t, elfImage []byte, argv, envp []string, quotaBytes uint64) (*task.Task, *itas.Itas, defs.Err_t) {
	_, childFac, ferr := r.fac.CreateFactory(quotaBytes, 256)
	if ferr != defs.EOK {
		return nil, nil, ferr
	}
	rm := region.NewMap(rootRegionBase, rootRegionLimit)
	local := namespace.New(nil)

	it := itas.New(rm, childFac)

	if _, lerr := elfloader.Load(rm, childFac, elfImage, argv, envp); lerr != defs.EOK {
		return nil, nil, lerr
	}

	t := r.tasks.New(tid, childFac, rm, it.Signals(), local, ipc.Label(0))
	if serr := t.Start(); serr != defs.EOK {
		return nil, nil, serr
	}
	return t, it, defs.EOK
}

// Wait blocks until tid reaches Zombie or Reaped, mirroring a parent
// task's wait() on a child capability.
func (r *Root) Wait(tid defs.Tid_t) defs.Err_t {
	t, ok := r.tasks.Get(tid)
	if !ok {
		return defs.ENOENT
	}
	t.Wait()
	return defs.EOK
}

// Reap releases a zombie task's bookkeeping and returns its exit code.
func (r *Root) Reap(tid defs.Tid_t) (int32, defs.Err_t) {
	return r.tasks.Reap(tid)
}

func (r *Root) runThread(tid defs.Tid_t, p scheduler.Params) defs.Err_t {
	if _, ok := r.tasks.Get(tid); !ok {
		return defs.ENOENT
	}
	return defs.EOK
}

// Diagnostics returns a single summary sample of kind "root" whose Count
// is the number of registered boot-module dataspaces. Bytes is always 0;
// per-task quota and dataspace usage is not collected.
func (r *Root) Diagnostics() *diag.Sample {
	return &diag.Sample{Kind: "root", Bytes: 0, Count: int64(len(r.mods))}
}
