// Package elfloader implements the ELF loader frontend that turns a
// PT_LOAD-segmented x86-64 ELF binary into attached dataspaces in a
// child task's region map, grounded on Go's standard debug/elf package
// the way biscuit's kernel/chentry.go (a build-time ELF-header rewriter)
// uses it, extended here to actually materialize segment contents rather
// than just patch the entry field (spec §3 "ELF loader", §4.7).
package elfloader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"l4rt/internal/dataspace"
	"l4rt/internal/defs"
	"l4rt/internal/factory"
	"l4rt/internal/pagealloc"
	"l4rt/internal/region"
	"l4rt/internal/util"
)

// AuxEntry is one (type, value) pair of the ELF auxiliary vector handed
// to the new process's startup code.
type AuxEntry struct {
	Type  uint64
	Value uint64
}

// Standard AT_* auxv types. buildStack writes only AT_ENTRY and the
// terminating AT_NULL; AT_PHDR, AT_PHENT and AT_PHNUM are not filled in.
const (
	AT_NULL  = 0
	AT_PHDR  = 3
	AT_PHENT = 4
	AT_PHNUM = 5
	AT_ENTRY = 9
)

// Result is what the caller (internal/moe's task-creation path) needs to
// start the new thread: its entry PC and initial stack pointer.
type Result struct {
	EntryPC uintptr
	StackSP uintptr
}

const defaultStackSize = 1 << 20 // 1 MiB

// Load parses an ELF64 x86-64 executable, attaches one dataspace per
// PT_LOAD segment into rm (writable per PF_W, pre-faulted eagerly), adds
// a stack dataspace seeded with argv/envp/auxv in System V ABI layout,
// and returns the entry point and initial stack pointer.
func Load(rm *region.Map, fac *factory.Factory, elfBytes []byte, argv, envp []string) (Result, defs.Err_t) {
	ef, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return Result{}, defs.ENOEXEC
	}
	if ef.Class != elf.ELFCLASS64 || ef.Machine != elf.EM_X86_64 {
		return Result{}, defs.ENOEXEC
	}
	if ef.Type != elf.ET_EXEC && ef.Type != elf.ET_DYN {
		return Result{}, defs.ENOEXEC
	}

	alloc := fac.Allocator()
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := loadSegment(rm, fac, alloc, ef, prog); err != defs.EOK {
			return Result{}, err
		}
	}

	sp, serr := buildStack(rm, fac, alloc, uintptr(ef.Entry), argv, envp)
	if serr != defs.EOK {
		return Result{}, serr
	}

	return Result{EntryPC: uintptr(ef.Entry), StackSP: sp}, defs.EOK
}

func loadSegment(rm *region.Map, fac *factory.Factory, alloc *pagealloc.Allocator, ef *elf.File, prog *elf.Prog) defs.Err_t {
	pageSize := uint64(pagealloc.PageSize)
	vStart := util.Rounddown(prog.Vaddr, pageSize)
	vEnd := util.Roundup(prog.Vaddr+prog.Memsz, pageSize)
	size := vEnd - vStart

	_, ds, cerr := fac.CreateDataspace(size, factory.DsPaged, pagealloc.PageSize, false)
	if cerr != defs.EOK {
		return cerr
	}

	data := make([]byte, prog.Filesz)
	if _, err := prog.ReadAt(data, 0); err != nil {
		return defs.EIO
	}
	inSegOff := prog.Vaddr - vStart
	if err := writeBytes(ds, alloc, inSegOff, data); err != defs.EOK {
		return err
	}

	writable := prog.Flags&elf.PF_W != 0
	_, aerr := rm.Attach(uintptr(vStart), size, ds, 0, writable, true)
	return aerr
}

// writeBytes materializes and fills [offset, offset+len(data)) of ds,
// crossing page boundaries as needed. Each Address call triggers the
// dataspace's own lazy-allocation path (spec §4.2), so no page is touched
// until the loader actually has bytes for it.
func writeBytes(ds dataspace.Dataspace, alloc *pagealloc.Allocator, offset uint64, data []byte) defs.Err_t {
	written := uint64(0)
	for written < uint64(len(data)) {
		res, err := ds.Address(offset+written, true)
		if err != defs.EOK {
			return err
		}
		n := res.Size
		if remain := uint64(len(data)) - written; n > remain {
			n = remain
		}
		copy(alloc.Bytes(res.Phys, int(n)), data[written:written+n])
		written += n
	}
	return defs.EOK
}

// buildStack creates the process's initial stack dataspace and writes the
// System V AMD64 startup layout: argc, argv[], NULL, envp[], NULL, auxv[],
// NULL, then the actual argument/environment string bytes, all below a
// 16-byte-aligned top-of-stack pointer.
func buildStack(rm *region.Map, fac *factory.Factory, alloc *pagealloc.Allocator, entry uintptr, argv, envp []string) (uintptr, defs.Err_t) {
	_, ds, cerr := fac.CreateDataspace(defaultStackSize, factory.DsPaged, pagealloc.PageSize, false)
	if cerr != defs.EOK {
		return 0, cerr
	}

	const stackBase = uintptr(0x7f0000000000)
	if _, err := rm.Attach(stackBase, defaultStackSize, ds, 0, true, false); err != defs.EOK {
		return 0, err
	}

	var strs bytes.Buffer
	argvOff := make([]uint64, len(argv))
	envpOff := make([]uint64, len(envp))
	for i, s := range argv {
		argvOff[i] = uint64(strs.Len())
		strs.WriteString(s)
		strs.WriteByte(0)
	}
	for i, s := range envp {
		envpOff[i] = uint64(strs.Len())
		strs.WriteString(s)
		strs.WriteByte(0)
	}

	auxv := []AuxEntry{
		{AT_ENTRY, uint64(entry)},
		{AT_NULL, 0},
	}

	var hdr bytes.Buffer
	put := func(v uint64) { binary.Write(&hdr, binary.LittleEndian, v) }
	put(uint64(len(argv)))
	strTableOff := uint64(0) // patched below once total header size is known

	headerWords := 1 + len(argv) + 1 + len(envp) + 1 + len(auxv)*2
	headerBytes := uint64(headerWords * 8)
	total := int(util.Roundup(headerBytes+uint64(strs.Len()), 16))
	sp := (stackBase + defaultStackSize - uintptr(total)) &^ 15
	strTableOff = uint64(sp) + headerBytes

	for _, off := range argvOff {
		put(strTableOff + off)
	}
	put(0)
	for _, off := range envpOff {
		put(strTableOff + off)
	}
	put(0)
	for _, a := range auxv {
		put(a.Type)
		put(a.Value)
	}

	if err := writeBytes(ds, alloc, uint64(sp-stackBase), hdr.Bytes()); err != defs.EOK {
		return 0, err
	}
	if err := writeBytes(ds, alloc, uint64(sp-stackBase)+uint64(hdr.Len()), strs.Bytes()); err != defs.EOK {
		return 0, err
	}
	return sp, defs.EOK
}
