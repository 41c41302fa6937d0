package bootfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4rt/internal/dataspace"
	"l4rt/internal/defs"
	"l4rt/internal/ipc"
	"l4rt/internal/namespace"
)

func TestNameStripsPathAndTrailingArgs(t *testing.T) {
	assert.Equal(t, "init", Module{Cmdline: "rom/init -verbose"}.Name())
	assert.Equal(t, "ned", Module{Cmdline: "ned"}.Name())
}

func TestNameKeepsEscapedSpace(t *testing.T) {
	assert.Equal(t, `weird\ name`, Module{Cmdline: `weird\ name`}.Name())
}

func TestRegisterCreatesRomNamespaceWithEachModule(t *testing.T) {
	root := namespace.New(nil)
	mods := []Module{
		{Cmdline: "rom/init", Data: []byte("init-bytes")},
		{Cmdline: "rom/ned -e x", Data: []byte("ned-bytes")},
	}

	seen := map[ipc.Label]dataspace.Dataspace{}
	var next ipc.Label = 1
	labelFor := func(ds dataspace.Dataspace) ipc.Label {
		l := next
		next++
		seen[l] = ds
		return l
	}

	out, err := Register(root, mods, labelFor)
	require.Equal(t, defs.EOK, err)
	assert.Len(t, out, 2)

	capInit, _, qerr := root.Query("rom/init")
	require.Equal(t, defs.EOK, qerr)
	initDS := seen[capInit].(*dataspace.Static)
	initAddr, aerr := initDS.Address(0, false)
	require.Equal(t, defs.EOK, aerr)
	assert.EqualValues(t, len(mods[0].Data), initAddr.Size)

	capNed, _, qerr := root.Query("rom/ned")
	require.Equal(t, defs.EOK, qerr)
	nedDS := seen[capNed].(*dataspace.Static)
	nedAddr, aerr := nedDS.Address(0, false)
	require.Equal(t, defs.EOK, aerr)
	assert.EqualValues(t, len(mods[1].Data), nedAddr.Size)
}

func TestRegisterDuplicateRomNamespaceFails(t *testing.T) {
	root := namespace.New(nil)
	require.Equal(t, defs.EOK, root.RegisterNamespace("rom", namespace.New(nil), namespace.Static))

	_, err := Register(root, nil, func(dataspace.Dataspace) ipc.Label { return 0 })
	assert.Equal(t, defs.EEXIST, err)
}
