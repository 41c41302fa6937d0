package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingPathReturnsZeroManifest(t *testing.T) {
	m, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Manifest{}, m)
}

func TestLoadNonexistentFileReturnsZeroManifest(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Manifest{}, m)
}

func TestLoadParsesManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moe.toml")
	body := `
debug = "warn,err"
root_quota = 1048576

[[client]]
name = "ned"
quota = 65536

[[client]]
name = "shell"
quota = 32768
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn,err", m.DebugBits)
	assert.Equal(t, uint64(1048576), m.RootQuota)
	require.Len(t, m.Clients, 2)
	assert.Equal(t, ClientQuota{Name: "ned", Quota: 65536}, m.Clients[0])
	assert.Equal(t, ClientQuota{Name: "shell", Quota: 32768}, m.Clients[1])
}

func TestLoadMalformedManifestReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolveMoePrefersManifestWhenFlagsAreZeroValue(t *testing.T) {
	m := Manifest{DebugBits: "warn", RootQuota: 4096}
	cfg := ResolveMoe(m, "", 0, "init", "dbg", "flags")
	assert.True(t, cfg.DebugBits["warn"])
	assert.Equal(t, uint64(4096), cfg.RootQuota)
}

func TestResolveMoeCLIOverridesManifest(t *testing.T) {
	m := Manifest{DebugBits: "warn", RootQuota: 4096}
	cfg := ResolveMoe(m, "err", 8192, "init", "dbg", "flags")
	assert.True(t, cfg.DebugBits["err"])
	assert.False(t, cfg.DebugBits["warn"])
	assert.Equal(t, uint64(8192), cfg.RootQuota)
}

func TestResolveMoeCarriesThroughPassThroughFields(t *testing.T) {
	cfg := ResolveMoe(Manifest{}, "", 0, "rom/init", "0x3", "--foo")
	assert.Equal(t, "rom/init", cfg.Init)
	assert.Equal(t, "0x3", cfg.L4ReDbg)
	assert.Equal(t, "--foo", cfg.LdrFlags)
}
