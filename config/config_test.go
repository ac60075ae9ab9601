package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-labs/gapi/accounts"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
client_id: id-1
client_secret: secret-1
scopes:
  - scope-a
  - scope-b
listen_port: 8089
timeout: 2m30s
use_keyring: false
accounts_file: /tmp/accounts.json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "id-1", cfg.ClientID)
	assert.Equal(t, "secret-1", cfg.ClientSecret)
	assert.Equal(t, []string{"scope-a", "scope-b"}, cfg.Scopes)
	assert.Equal(t, 8089, cfg.ListenPort)
	require.NoError(t, cfg.Validate())

	opts, err := cfg.AuthOptions()
	require.NoError(t, err)
	assert.Equal(t, 8089, opts.ListenPort)
	assert.Equal(t, 2*time.Minute+30*time.Second, opts.Timeout)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.ClientID)
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "client_id: from-file\nclient_secret: s\n")
	t.Setenv("GAPI_CLIENT_ID", "from-env")
	t.Setenv("GAPI_LISTEN_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, 9999, cfg.ListenPort)

	t.Setenv("GAPI_LISTEN_PORT", "not-a-port")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestAuthOptionsRejectsBadTimeout(t *testing.T) {
	cfg := &Config{Timeout: "soon"}
	_, err := cfg.AuthOptions()
	assert.Error(t, err)
}

func TestStorageSelection(t *testing.T) {
	no := false
	cfg := &Config{UseKeyring: &no, AccountsFile: filepath.Join(t.TempDir(), "accounts.json")}
	s, err := cfg.Storage()
	require.NoError(t, err)
	assert.IsType(t, &accounts.FileStorage{}, s)

	cfg = &Config{}
	s, err = cfg.Storage()
	require.NoError(t, err)
	assert.IsType(t, &accounts.KeyringStorage{}, s)
}
