// Package config parses Moe's optional TOML boot manifest and merges it
// with command-line flags (CLI always wins), matching the layered
// configuration the spec's ambient stack calls for: a manifest describing
// boot-time quotas per namespace client and default debug bits, read with
// github.com/pelletier/go-toml/v2.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"l4rt/internal/logging"
)

// ClientQuota is one entry of the manifest's [[client]] array: the quota
// in bytes granted to a named namespace entry at boot.
type ClientQuota struct {
	Name  string `toml:"name"`
	Quota uint64 `toml:"quota"`
}

// Manifest is the on-disk shape of Moe's optional boot configuration.
type Manifest struct {
	DebugBits string        `toml:"debug"`
	RootQuota uint64        `toml:"root_quota"`
	Clients   []ClientQuota `toml:"client"`
}

// Load reads and parses a TOML manifest from path. A missing file is not
// an error: it returns a zero Manifest, so callers fall back to flag
// defaults.
func Load(path string) (Manifest, error) {
	if path == "" {
		return Manifest{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// MoeConfig is the fully resolved configuration cmd/moe runs with, after
// merging a Manifest with CLI flags.
type MoeConfig struct {
	DebugBits map[logging.Bit]bool
	RootQuota uint64
	Clients   []ClientQuota
	Init      string // path of the first program to load
	L4ReDbg   string // pass-through legacy debug-level string, kept for log parity with original flags
	LdrFlags  string
}

// ResolveMoe merges manifest defaults with explicit CLI flag values; an
// empty/zero flag value means "use the manifest's", consistent with
// "CLI always wins" only where the user actually set something.
func ResolveMoe(m Manifest, debugFlag string, rootQuotaFlag uint64, init, l4reDbg, ldrFlags string) MoeConfig {
	bits := m.DebugBits
	if debugFlag != "" {
		bits = debugFlag
	}
	quota := m.RootQuota
	if rootQuotaFlag != 0 {
		quota = rootQuotaFlag
	}
	return MoeConfig{
		DebugBits: logging.ParseBits(bits),
		RootQuota: quota,
		Clients:   m.Clients,
		Init:      init,
		L4ReDbg:   l4reDbg,
		LdrFlags:  ldrFlags,
	}
}
