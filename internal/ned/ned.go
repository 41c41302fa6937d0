// Package ned implements the Lua-scripted launcher: a thin
// github.com/yuin/gopher-lua binding layer exposing an "L4" global table
// with a default_loader object and namespace query/register operations,
// grounded on original_source/ned/server/src/lua_ns.cc (the
// Name_space Lua metatable's __index/__query/__register) and
// lua_exec.cc (Default_loader::start), reimplemented as ordinary Go
// closures registered as Lua functions rather than raw lua_State C
// stack manipulation.
package ned

import (
	lua "github.com/yuin/gopher-lua"

	"l4rt/internal/defs"
	"l4rt/internal/elfloader"
	"l4rt/internal/factory"
	"l4rt/internal/ipc"
	"l4rt/internal/logging"
	"l4rt/internal/namespace"
	"l4rt/internal/region"
	"l4rt/internal/signal"
	"l4rt/internal/task"
)

// StartSpec is what default_loader:start(prog, opts) resolves to before
// handing off to the ELF loader.
type StartSpec struct {
	Program string
	Argv    []string
	Envp    []string
}

// Launcher owns the Lua state and the server-side objects a script can
// reach: the root factory (for creating each child task's own factory,
// region map, signals, namespace) and the task pool tracking what it
// starts.
type Launcher struct {
	L        *lua.LState
	rootFac  *factory.Factory
	rootNS   *namespace.Namespace
	pool     *task.Pool
	log      *logging.Logger
	nextTid  defs.Tid_t
	readELF  func(path string) ([]byte, error)
	addrBase uintptr
}

// New creates a launcher bound to rootFac/rootNS/pool, wires the "L4"
// global table into a fresh Lua state, and returns it ready to run a
// script via Run or RunString.
func New(rootFac *factory.Factory, rootNS *namespace.Namespace, pool *task.Pool, log *logging.Logger, readELF func(string) ([]byte, error)) *Launcher {
	ld := &Launcher{
		L:        lua.NewState(),
		rootFac:  rootFac,
		rootNS:   rootNS,
		pool:     pool,
		log:      log,
		readELF:  readELF,
		addrBase: 0x400000,
	}
	ld.install()
	return ld
}

// Close releases the Lua state.
func (ld *Launcher) Close() { ld.L.Close() }

// Run executes the Lua script at path.
func (ld *Launcher) Run(path string) error { return ld.L.DoFile(path) }

// RunString executes an inline Lua chunk, used by ned's "-e" flag.
func (ld *Launcher) RunString(src string) error { return ld.L.DoString(src) }

func (ld *Launcher) install() {
	L := ld.L

	l4 := L.NewTable()
	L.SetGlobal("L4", l4)

	loader := L.NewTable()
	L.SetField(loader, "start", L.NewFunction(ld.luaStart))
	L.SetField(l4, "default_loader", loader)

	ns := ld.wrapNamespace(ld.rootNS)
	L.SetField(l4, "global_env", ns)

	L.SetField(l4, "sleep", L.NewFunction(ld.luaSleep))
}

// luaStart implements L4.default_loader:start(prog[, opts]). prog is a
// path resolved via readELF (typically the "rom" boot-module namespace);
// opts, if given, is a table with an optional "args" array and "env"
// array, mirroring the original's Default_loader::start argument table.
func (ld *Launcher) luaStart(L *lua.LState) int {
	self := L.CheckAny(1) // the default_loader table itself (method-call form)
	_ = self
	prog := L.CheckString(2)

	var argv, envp []string
	if opts, ok := L.Get(3).(*lua.LTable); ok {
		if a, ok := opts.RawGetString("args").(*lua.LTable); ok {
			a.ForEach(func(_, v lua.LValue) { argv = append(argv, v.String()) })
		}
		if e, ok := opts.RawGetString("env").(*lua.LTable); ok {
			e.ForEach(func(_, v lua.LValue) { envp = append(envp, v.String()) })
		}
	}
	argv = append([]string{prog}, argv...)

	tid, err := ld.start(StartSpec{Program: prog, Argv: argv, Envp: envp})
	if err != defs.EOK {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(tid))
	return 1
}

// luaSleep implements L4.sleep(seconds), a no-op timing hint in this
// simulation: scripts use it to pace sequential starts, and blocking the
// whole interpreter for real would make batch-mode "ned -e" scripts slow
// to a crawl in tests, so it is intentionally a no-op here.
func (ld *Launcher) luaSleep(L *lua.LState) int { return 0 }

// start loads prog's bytes, creates a fresh task (own factory, region
// map, signal manager, local namespace), loads the ELF image into it,
// and registers the task in the pool.
func (ld *Launcher) start(spec StartSpec) (defs.Tid_t, defs.Err_t) {
	data, rerr := ld.readELF(spec.Program)
	if rerr != nil {
		return 0, defs.ENOENT
	}

	_, childFac, ferr := ld.rootFac.CreateFactory(0, 256)
	if ferr != defs.EOK {
		return 0, ferr
	}
	rm := region.NewMap(ld.addrBase, 0x7fffffffffff)
	sig := signal.NewManager()
	localNS := namespace.New(nil)

	res, lerr := elfloader.Load(rm, childFac, data, spec.Argv, spec.Envp)
	if lerr != defs.EOK {
		return 0, lerr
	}

	tid := ld.nextTid
	ld.nextTid++
	t := ld.pool.New(tid, childFac, rm, sig, localNS, ipc.Label(0))
	if err := t.Start(); err != defs.EOK {
		return 0, err
	}

	ld.log.Infof("ned: started %q tid=%d entry=%#x sp=%#x", spec.Program, tid, res.EntryPC, res.StackSP)
	return tid, defs.EOK
}

// wrapNamespace exposes ns to Lua as a table with query/register
// closures, the same pair of entry points original_source's Name_space
// Lua binding offers (__query/__register in lua_ns.cc), minus the raw
// capability-rights bit twiddling that only matters on the real kernel.
func (ld *Launcher) wrapNamespace(ns *namespace.Namespace) *lua.LTable {
	L := ld.L
	t := L.NewTable()
	L.SetField(t, "query", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(2)
		cap, _, err := ns.Query(path)
		if err != defs.EOK {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(cap))
		return 1
	}))
	L.SetField(t, "register", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(2)
		capVal := L.CheckNumber(3)
		err := ns.Register(name, ipc.Label(int64(capVal)), namespace.RW)
		L.Push(lua.LBool(err == defs.EOK))
		return 1
	}))
	return t
}
