package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) *Paths {
	dir := t.TempDir()
	return &Paths{
		ConfigDir: filepath.Join(dir, "config"),
		DataDir:   filepath.Join(dir, "data"),
		CacheDir:  filepath.Join(dir, "cache"),
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	paths := testPaths(t)

	cfg, err := LoadFile(paths.ConfigFile(), paths)
	require.NoError(t, err)

	assert.Equal(t, 210*time.Second, cfg.Connection.ConnectTimeout.Duration)
	assert.Equal(t, 45*time.Second, cfg.Connection.ComposingTimeout.Duration)
	assert.Equal(t, 4096, cfg.Transfer.IBBBlockSize)
	assert.True(t, cfg.Storage.SaveMessages)
	assert.Equal(t, paths.DataDir, cfg.General.DataDir)
	assert.Equal(t, filepath.Join(paths.DataDir, "plugins"), cfg.Plugins.PluginDir)
	assert.Equal(t, filepath.Join(paths.DataDir, "gossip.log"), cfg.Logging.File)
	assert.Equal(t, filepath.Join(paths.DataDir, "downloads"), cfg.Transfer.DownloadDir)
}

func TestLoadFile(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, paths.EnsureDirectories())
	require.NoError(t, os.WriteFile(paths.ConfigFile(), []byte(`
[logging]
level = "debug"

[connection]
connect_timeout = "30s"
composing_timeout = "1m"
random_resource = true

[transfer]
download_dir = "/srv/incoming"
offer_ibb = false
ibb_block_size = 8192
listen_host = "192.0.2.10"
`), 0600))

	cfg, err := LoadFile(paths.ConfigFile(), paths)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Connection.ConnectTimeout.Duration)
	assert.Equal(t, time.Minute, cfg.Connection.ComposingTimeout.Duration)
	assert.True(t, cfg.Connection.RandomResource)
	assert.Equal(t, "/srv/incoming", cfg.Transfer.DownloadDir)
	assert.False(t, cfg.Transfer.OfferIBB)
	assert.Equal(t, 8192, cfg.Transfer.IBBBlockSize)
	assert.Equal(t, "192.0.2.10", cfg.Transfer.ListenHost)
	assert.True(t, cfg.Storage.SaveRoster, "unset keys keep their defaults")
}

func TestLoadFileRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "[connection]\nconnect_timeout = \"soon\"\n",
		"zero timeout":   "[connection]\ncomposing_timeout = \"0s\"\n",
		"negative":       "[connection]\nconnect_timeout = \"-5s\"\n",
		"block too big":  "[transfer]\nibb_block_size = 70000\n",
		"malformed toml": "[connection\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			paths := testPaths(t)
			require.NoError(t, paths.EnsureDirectories())
			require.NoError(t, os.WriteFile(paths.ConfigFile(), []byte(body), 0600))

			_, err := LoadFile(paths.ConfigFile(), paths)
			assert.Error(t, err)
		})
	}
}

func TestLoadAccountsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[accounts]]
jid = "me@example.com"
password = "secret"

[[accounts]]
jid = "work@corp.example"
server = "xmpp.corp.example"
port = 5223
use_ssl = true
resource = "desk"
priority = 5

[accounts.proxy]
enabled = true
host = "127.0.0.1"
`), 0600))

	accounts, err := LoadAccountsFile(path)
	require.NoError(t, err)
	require.Len(t, accounts.Accounts, 2)

	me := accounts.Accounts[0]
	assert.Equal(t, 5222, me.Port)
	assert.Equal(t, "gossip", me.Resource)
	assert.Nil(t, me.Proxy)

	work, ok := accounts.Find("work@corp.example")
	require.True(t, ok)
	assert.Equal(t, 5223, work.Port)
	assert.True(t, work.UseSSL)
	assert.Equal(t, "desk", work.Resource)
	assert.Equal(t, 5, work.Priority)
	require.NotNil(t, work.Proxy)
	assert.Equal(t, 1080, work.Proxy.Port)

	_, ok = accounts.Find("nobody@example.com")
	assert.False(t, ok)
}

func TestLoadAccountsFileMissing(t *testing.T) {
	accounts, err := LoadAccountsFile(filepath.Join(t.TempDir(), "accounts.toml"))
	require.NoError(t, err)
	assert.Empty(t, accounts.Accounts)
}

func TestLoadAccountsFileRequiresJID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[accounts]]\npassword = \"x\"\n"), 0600))

	_, err := LoadAccountsFile(path)
	assert.Error(t, err)
}

func TestSaveAccountsSkipsSessionAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.toml")
	err := SaveAccountsFile(path, &AccountsConfig{Accounts: []Account{
		{JID: "kept@example.com", Port: 5222, Resource: "gossip"},
		{JID: "temp@example.com", Session: true},
	}})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	accounts, err := LoadAccountsFile(path)
	require.NoError(t, err)
	require.Len(t, accounts.Accounts, 1)
	assert.Equal(t, "kept@example.com", accounts.Accounts[0].JID)
}

func TestGetPathsHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "c"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "d"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "k"))

	paths, err := GetPaths()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c", "gossip"), paths.ConfigDir)
	assert.Equal(t, filepath.Join(dir, "d", "gossip"), paths.DataDir)
	assert.Equal(t, filepath.Join(dir, "k", "gossip"), paths.CacheDir)
	assert.Equal(t, filepath.Join(dir, "c", "gossip", "accounts.toml"), paths.AccountsFile())
}
