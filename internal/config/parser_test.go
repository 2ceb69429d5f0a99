package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReader_FullConfig(t *testing.T) {
	content := `
data_dir: /var/lib/shelldeck
vault:
  key_file: /etc/shelldeck/vault.key
timeouts:
  dial: 10s
  disconnect: 5s
  wake_wait: 30s
pty:
  term: vt220
  width: 132
  height: 50
`
	cfg, err := NewParser().LoadReader(content)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/shelldeck", cfg.DataDir)
	assert.Equal(t, "/etc/shelldeck/vault.key", cfg.VaultKeyFile)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.DisconnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.WakeWait)
	assert.Equal(t, "vt220", cfg.Pty.Term)
	assert.Equal(t, uint32(132), cfg.Pty.Width)
	assert.Equal(t, uint32(50), cfg.Pty.Height)
}

func TestLoadReader_DefaultsApplied(t *testing.T) {
	cfg, err := NewParser().LoadReader("data_dir: /tmp/sd\n")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/sd", cfg.DataDir)
	assert.Equal(t, filepath.Join("/tmp/sd", "vault.key"), cfg.VaultKeyFile)
	assert.Equal(t, models.DefaultPtyConfig(), cfg.Pty)
	assert.Equal(t, 30*time.Second, cfg.DialTimeout)
	assert.Equal(t, 2*time.Second, cfg.DisconnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.WakeWait)
}

func TestLoadReader_PartialPtySection(t *testing.T) {
	content := `
data_dir: /tmp/sd
pty:
  term: screen-256color
`
	cfg, err := NewParser().LoadReader(content)
	require.NoError(t, err)

	assert.Equal(t, "screen-256color", cfg.Pty.Term)
	assert.Equal(t, uint32(80), cfg.Pty.Width)
	assert.Equal(t, uint32(24), cfg.Pty.Height)
}

func TestLoadReader_ExpandsEnvVars(t *testing.T) {
	t.Setenv("SHELLDECK_TEST_DIR", "/srv/deck")

	cfg, err := NewParser().LoadReader("data_dir: $SHELLDECK_TEST_DIR/data\n")
	require.NoError(t, err)
	assert.Equal(t, "/srv/deck/data", cfg.DataDir)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: "+dir+"\n"), 0o600))

	cfg, err := NewParser().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := NewParser().LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "vault.key"), cfg.VaultKeyFile)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	require.Error(t, Validate(nil))

	cfg := Default()
	cfg.DataDir = ""
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Pty.Width = 0
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.DisconnectTimeout = 0
	require.Error(t, Validate(cfg))
}
