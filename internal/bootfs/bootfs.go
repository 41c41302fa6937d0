// Package bootfs implements the boot-module list Moe exposes as static,
// read-only dataspaces under the root namespace's "rom" entry, grounded
// on original_source/moe/server/src/boot_fs.cc (Moe::Boot_fs), which
// parses the multiboot module list and registers one Name_space entry per
// module using its command-line name.
package bootfs

import (
	"strings"

	"l4rt/internal/dataspace"
	"l4rt/internal/defs"
	"l4rt/internal/ipc"
	"l4rt/internal/namespace"
	"l4rt/internal/pagealloc"
)

// Module is one boot-time payload: a name (the module's command-line,
// parsed the same way the original's cmdline_to_name strips path and
// trailing options) and its raw bytes.
type Module struct {
	Cmdline string
	Data    []byte
}

// Name returns the basename of the module's command line up to the first
// unescaped space, matching original_source's cmdline_to_name.
func (m Module) Name() string {
	cmdl := m.Cmdline
	end := len(cmdl)
	for i := 1; i < len(cmdl); i++ {
		if cmdl[i] == ' ' && cmdl[i-1] != '\\' {
			end = i
			break
		}
	}
	head := cmdl[:end]
	if idx := strings.LastIndexByte(head, '/'); idx >= 0 {
		head = head[idx+1:]
	}
	return head
}

// Register wraps every module as a Static dataspace and registers it
// under rootNS's "rom" child namespace, keyed by Name(). labelFor assigns
// each dataspace a stable capability label the caller's cap table can
// resolve back to the underlying dataspace.Dataspace.
func Register(rootNS *namespace.Namespace, mods []Module, labelFor func(dataspace.Dataspace) ipc.Label) ([]dataspace.Dataspace, defs.Err_t) {
	rom := namespace.New(nil)
	if err := rootNS.RegisterNamespace("rom", rom, namespace.Static|namespace.Trusted); err != defs.EOK {
		return nil, err
	}

	out := make([]dataspace.Dataspace, 0, len(mods))
	for _, m := range mods {
		ds := dataspace.NewStatic(0, m.Data, pagealloc.PageShift)
		cap := labelFor(ds)
		if err := rom.Register(m.Name(), cap, namespace.Static|namespace.Trusted|namespace.Cap); err != defs.EOK {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, defs.EOK
}
