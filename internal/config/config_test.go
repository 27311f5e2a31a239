package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Token:               "bot-token",
		SpotifyClientID:     "client-id",
		SpotifyClientSecret: "client-secret",
	}
}

func TestNew_Defaults(t *testing.T) {
	m, err := New(validConfig())
	require.NoError(t, err)

	assert.Equal(t, DefaultPrefix, m.Get(KeyPrefix))
	assert.Equal(t, "bot-token", m.Get(KeyToken))
	assert.Equal(t, "http://localhost:4481/", m.Get(KeySpotifyRedirectURL))
	assert.Equal(t, "", m.Get("unknown"))
	assert.Equal(t, []NodeConfig{{Host: "localhost", Port: 2333, Password: "12345"}}, m.Nodes())
	assert.Equal(t, DatabaseSection{Driver: "sqlite3", DSN: "spoticord.db"}, m.Database())
	assert.Equal(t, time.Hour, m.LinkTTL())
	assert.Zero(t, m.BootstrapTimeout())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Token = "" },
			wantErr: ErrDiscordTokenNotSet,
		},
		{
			name:    "missing spotify secret",
			mutate:  func(c *Config) { c.SpotifyClientSecret = "" },
			wantErr: ErrSpotifyCredentialsNotSet,
		},
		{
			name:    "prefix with whitespace",
			mutate:  func(c *Config) { c.Prefix = " !" },
			wantErr: ErrInvalidPrefix,
		},
		{
			name:    "relative redirect",
			mutate:  func(c *Config) { c.SpotifyRedirectURL = "/link/" },
			wantErr: ErrInvalidRedirectURL,
		},
		{
			name:    "bad node port",
			mutate:  func(c *Config) { c.Nodes = []NodeConfig{{Host: "lava", Port: 0}} },
			wantErr: ErrInvalidNode,
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mongo" },
			wantErr: ErrInvalidDriver,
		},
		{
			name:    "bad timeout",
			mutate:  func(c *Config) { c.BootstrapTimeout = "soon" },
			wantErr: ErrInvalidDuration,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: ErrInvalidLogLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			m, err := New(cfg)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_RedirectGetsTrailingSlash(t *testing.T) {
	cfg := validConfig()
	cfg.SpotifyRedirectURL = "https://link.example.com/spotify"

	m, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://link.example.com/spotify/", m.Get(KeySpotifyRedirectURL))
}

func TestParseNodes(t *testing.T) {
	nodes, err := ParseNodes([]string{"lava-1:2333:pa:ss", " lava-2:2444:secret ", ""})
	require.NoError(t, err)
	assert.Equal(t, []NodeConfig{
		{Host: "lava-1", Port: 2333, Password: "pa:ss"},
		{Host: "lava-2", Port: 2444, Password: "secret"},
	}, nodes)

	_, err = ParseNodes([]string{"lava-1:2333"})
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = ParseNodes([]string{"lava-1:port:x"})
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
prefix = "!"
token = "file-token"
spotify_client_id = "file-id"
spotify_client_secret = "file-secret"
link_ttl = "30m"

[[nodes]]
host = "lava"
port = 2333
password = "pw"

[database]
driver = "sqlite3"
dsn = "file.db"
`), 0o600))

	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("DB_DSN", "env.db")

	m, err := Load(LoadOptions{ConfigPath: path, ConfigRequired: true})
	require.NoError(t, err)

	assert.Equal(t, "!", m.Prefix())
	assert.Equal(t, "env-token", m.Get(KeyToken))
	assert.Equal(t, "file-id", m.Get(KeySpotifyClientID))
	assert.Equal(t, "env.db", m.Database().DSN)
	assert.Equal(t, 30*time.Minute, m.LinkTTL())
	assert.Equal(t, []NodeConfig{{Host: "lava", Port: 2333, Password: "pw"}}, m.Nodes())
}

func TestLoad_EnvNodes(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "t")
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("LAVALINK_NODES", "a:1:x,b:2:y")

	m, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, m.Nodes(), 2)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.toml"), ConfigRequired: true})
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestLoad_DirtyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("prefix = [broken"), 0o600))

	_, err := Load(LoadOptions{ConfigPath: path})
	assert.Error(t, err)
}
