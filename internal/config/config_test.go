package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/craquehouse/vintagestory-server-sub000/internal/installer"
	"github.com/craquehouse/vintagestory-server-sub000/internal/logbuf"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vsmgr.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, `root = "/srv/vintagestory"`))
	require.NoError(t, err)

	require.Equal(t, "/srv/vintagestory", c.Root)
	require.Equal(t, DefaultAPIBase, c.Releases.APIBase)
	require.Equal(t, DefaultCDNBase, c.Releases.CDNBase)
	require.Equal(t, installer.DefaultPrefixDigits, c.Install.PrefixDigits)
	require.Equal(t, logbuf.DefaultCapacity, c.Console.BufferLines)
	require.Equal(t, DefaultListen, c.HTTP.Listen)
	require.Equal(t, DefaultModDBBase, c.Mods.APIBase)
	require.Equal(t, DefaultModCacheTTL, c.Mods.CacheTTL)
}

func TestLoadFullConfig(t *testing.T) {
	c, err := Load(writeConfig(t, `
root = "/srv/vs"

[log]
level = "debug"
format = "json"

[log.file]
path = "/var/log/vsmgr.log"
max_size_mb = 5

[http]
listen = "0.0.0.0:8080"
base_path = "/api"

[http.auth]
enabled = true
jwt_secret = "sekrit"
username = "admin"
password = "hunter2"
token_ttl = "1h"

[releases]
api_base = "https://mirror.example/api"
cdn_base = "https://mirror.example/files"

[install]
prefix_digits = 11

[console]
buffer_lines = 2000

[process]
command = ["mono", "VintagestoryServer.exe"]
stop_timeout = "45s"

[mods]
cache_ttl = "5m"
refresh_schedule = "@every 30m"
`))
	require.NoError(t, err)

	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, "/var/log/vsmgr.log", c.Log.File.Path)
	require.Equal(t, "0.0.0.0:8080", c.HTTP.Listen)
	require.True(t, c.HTTP.Auth.Enabled)
	require.Equal(t, time.Hour, c.HTTP.Auth.TokenTTL)
	require.Equal(t, "https://mirror.example/api", c.Releases.APIBase)
	require.Equal(t, 11, c.Install.PrefixDigits)
	require.Equal(t, 2000, c.Console.BufferLines)
	require.Equal(t, []string{"mono", "VintagestoryServer.exe"}, c.Process.Command)
	require.Equal(t, 45*time.Second, c.Process.StopTimeout)
	require.Equal(t, 5*time.Minute, c.Mods.CacheTTL)
	require.Equal(t, "@every 30m", c.Mods.RefreshSchedule)
}

func TestLoadRejectsMissingRoot(t *testing.T) {
	_, err := Load(writeConfig(t, `[console]
buffer_lines = 10`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "root is required")
}

func TestLoadRejectsAuthWithoutSecret(t *testing.T) {
	_, err := Load(writeConfig(t, `
root = "/srv/vs"
[http.auth]
enabled = true
username = "admin"
password = "pw"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "jwt_secret")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
