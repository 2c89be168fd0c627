package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHostRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), HostsFile)
	require.NoError(t, os.WriteFile(path, []byte(`
[sn1]
host = 198.51.100.7
port = 2222
user = ubuntu
identity_file = /keys/lab_ed25519

[sn2]
host = 198.51.100.8
`), 0o644))

	hosts, err := LoadHostRegistry(path)
	require.NoError(t, err)
	require.Len(t, hosts, 2)

	assert.Equal(t, "198.51.100.7", hosts["sn1"].Host)
	assert.Equal(t, 2222, hosts["sn1"].Port)
	assert.Equal(t, "ubuntu", hosts["sn1"].User)
	assert.Equal(t, "/keys/lab_ed25519", hosts["sn1"].IdentityFile)

	// defaults stay zero here; the device layer fills them in
	assert.Equal(t, "198.51.100.8", hosts["sn2"].Host)
	assert.Zero(t, hosts["sn2"].Port)
}

func TestLoadHostRegistryMissingFile(t *testing.T) {
	hosts, err := LoadHostRegistry(filepath.Join(t.TempDir(), HostsFile))
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestLoadHostRegistryRequiresHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), HostsFile)
	require.NoError(t, os.WriteFile(path, []byte("[sn1]\nuser = ubuntu\n"), 0o644))

	_, err := LoadHostRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no host")
}
