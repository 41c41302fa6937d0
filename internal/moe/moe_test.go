package moe

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4rt/internal/bootfs"
	"l4rt/internal/config"
	"l4rt/internal/defs"
	"l4rt/internal/logging"
	"l4rt/internal/pagealloc"
	"l4rt/internal/task"
)

func buildELF(t *testing.T, vaddr, entry uint64, code []byte) []byte {
	t.Helper()
	const ehSize, phSize = 64, 56
	fileOff := uint64(ehSize + phSize)

	var buf bytes.Buffer
	eh := elf.Header64{
		Ident:     [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehSize,
		Ehsize:    ehSize,
		Phentsize: phSize,
		Phnum:     1,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, eh))
	ph := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    fileOff,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(code)),
		Memsz:  uint64(len(code)),
		Align:  uint64(pagealloc.PageSize),
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ph))
	buf.Write(code)
	return buf.Bytes()
}

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	r, err := New(config.MoeConfig{RootQuota: 0}, logging.New(nil), 16*pagealloc.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNewRootExposesFactoryAndNamespace(t *testing.T) {
	r := newTestRoot(t)
	assert.NotNil(t, r.Factory())
	assert.NotNil(t, r.Namespace())
	assert.NotNil(t, r.Tasks())
}

func TestLoadBootModulesRegistersUnderRomAndIsReadable(t *testing.T) {
	r := newTestRoot(t)
	mods := []bootfs.Module{{Cmdline: "rom/init", Data: []byte("payload")}}
	require.NoError(t, r.LoadBootModules(mods))

	data, err := r.ReadBootModule("init")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestReadBootModuleUnknownNameFails(t *testing.T) {
	r := newTestRoot(t)
	_, err := r.ReadBootModule("nope")
	assert.Error(t, err)
}

func TestStartTaskWaitAndReap(t *testing.T) {
	r := newTestRoot(t)
	img := buildELF(t, 0x400000, 0x400000, []byte{0xc3})

	tk, it, serr := r.StartTask(1, img, []string{"prog"}, nil, pagealloc.PageSize*8)
	require.Equal(t, defs.EOK, serr)
	assert.Equal(t, task.Running, tk.State())
	assert.NotNil(t, it.Signals())
	assert.NotNil(t, it.RegionMap())

	require.Equal(t, defs.EOK, tk.Exit(0))
	require.Equal(t, defs.EOK, r.Wait(1))

	code, rerr := r.Reap(1)
	require.Equal(t, defs.EOK, rerr)
	assert.Zero(t, code)
}
