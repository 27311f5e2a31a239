// Package config loads the bot configuration from a .env file, an optional
// TOML file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/latoulicious/spoticord/pkg/logging"
)

// Keys accepted by Manager.Get.
const (
	KeyPrefix              = "prefix"
	KeyToken               = "token"
	KeySpotifyClientID     = "spotify_client_id"
	KeySpotifyClientSecret = "spotify_client_secret"
	KeySpotifyRedirectURL  = "spotify_redirect_url"
)

// Defaults.
const (
	DefaultPrefix         = "+"
	DefaultRedirectURL    = "http://localhost:4481/"
	DefaultDriver         = "sqlite3"
	DefaultDSN            = "spoticord.db"
	DefaultLinkTTL        = "1h"
	DefaultReaperSchedule = "@every 10m"
)

var (
	ErrConfigMissing            = errors.New("config file not found")
	ErrDiscordTokenNotSet       = errors.New("discord token not set")
	ErrSpotifyCredentialsNotSet = errors.New("spotify client id/secret not set")
	ErrInvalidPrefix            = errors.New("invalid command prefix")
	ErrInvalidRedirectURL       = errors.New("invalid spotify redirect url")
	ErrInvalidNode              = errors.New("invalid audio node")
	ErrInvalidDuration          = errors.New("invalid duration")
	ErrInvalidDriver            = errors.New("invalid database driver")
	ErrInvalidLogLevel          = errors.New("invalid log level")
)

// NodeConfig describes one Lavalink audio node.
type NodeConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
}

// Address returns host:port.
func (n NodeConfig) Address() string {
	return n.Host + ":" + strconv.Itoa(n.Port)
}

// DatabaseSection selects the store backend.
type DatabaseSection struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Config is the file representation of the bot configuration.
type Config struct {
	Prefix              string                `toml:"prefix"`
	Token               string                `toml:"token"`
	SpotifyClientID     string                `toml:"spotify_client_id"`
	SpotifyClientSecret string                `toml:"spotify_client_secret"`
	SpotifyRedirectURL  string                `toml:"spotify_redirect_url"`
	Nodes               []NodeConfig          `toml:"nodes"`
	Database            DatabaseSection       `toml:"database"`
	Logging             logging.LoggingConfig `toml:"logging"`
	BootstrapTimeout    string                `toml:"bootstrap_timeout"` // 0 or empty waits forever
	LinkTTL             string                `toml:"link_ttl"`
	ReaperSchedule      string                `toml:"reaper_schedule"`
}

// envOverrides holds raw env values; set variables replace file values.
type envOverrides struct {
	Prefix              string   `env:"SPOTICORD_PREFIX"`
	Token               string   `env:"DISCORD_TOKEN"`
	SpotifyClientID     string   `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string   `env:"SPOTIFY_CLIENT_SECRET"`
	SpotifyRedirectURL  string   `env:"SPOTIFY_REDIRECT_URL"`
	Nodes               []string `env:"LAVALINK_NODES" envSeparator:","`
	DBDriver            string   `env:"DB_DRIVER"`
	DBDSN               string   `env:"DB_DSN"`
	LogLevel            string   `env:"LOG_LEVEL"`
	LogFormat           string   `env:"LOG_FORMAT"`
	BootstrapTimeout    string   `env:"BOOTSTRAP_TIMEOUT"`
	LinkTTL             string   `env:"LINK_TTL"`
	ReaperSchedule      string   `env:"LINK_REAPER_SCHEDULE"`
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	EnvFile        string // .env path; missing file is ignored
	ConfigPath     string // TOML path; empty skips the file
	ConfigRequired bool   // fail when ConfigPath does not exist
}

// Manager is the validated, read-only configuration shared by all subsystems.
type Manager struct {
	cfg              Config
	bootstrapTimeout time.Duration
	linkTTL          time.Duration
}

// Load reads configuration and validates it. A non-nil error means the
// configuration is dirty or missing and the bot must not start.
func Load(opts LoadOptions) (*Manager, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	var cfg Config
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if opts.ConfigRequired {
				return nil, fmt.Errorf("%w: %s", ErrConfigMissing, opts.ConfigPath)
			}
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", opts.ConfigPath, err)
			}
		}
	}

	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := raw.apply(&cfg); err != nil {
		return nil, err
	}

	return New(cfg)
}

// New validates cfg, applies defaults and returns a Manager.
func New(cfg Config) (*Manager, error) {
	m := &Manager{cfg: cfg}
	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (o envOverrides) apply(cfg *Config) error {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Prefix, o.Prefix)
	set(&cfg.Token, o.Token)
	set(&cfg.SpotifyClientID, o.SpotifyClientID)
	set(&cfg.SpotifyClientSecret, o.SpotifyClientSecret)
	set(&cfg.SpotifyRedirectURL, o.SpotifyRedirectURL)
	set(&cfg.Database.Driver, o.DBDriver)
	set(&cfg.Database.DSN, o.DBDSN)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Logging.Format, o.LogFormat)
	set(&cfg.BootstrapTimeout, o.BootstrapTimeout)
	set(&cfg.LinkTTL, o.LinkTTL)
	set(&cfg.ReaperSchedule, o.ReaperSchedule)

	if len(o.Nodes) > 0 {
		nodes, err := ParseNodes(o.Nodes)
		if err != nil {
			return err
		}
		cfg.Nodes = nodes
	}
	return nil
}

// ParseNodes parses "host:port:password" entries.
func ParseNodes(specs []string) ([]NodeConfig, error) {
	nodes := make([]NodeConfig, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %q, want host:port:password", ErrInvalidNode, spec)
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: bad port", ErrInvalidNode, spec)
		}
		nodes = append(nodes, NodeConfig{Host: parts[0], Port: port, Password: parts[2]})
	}
	return nodes, nil
}

func (m *Manager) applyDefaults() {
	c := &m.cfg
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.SpotifyRedirectURL == "" {
		c.SpotifyRedirectURL = DefaultRedirectURL
	}
	if !strings.HasSuffix(c.SpotifyRedirectURL, "/") {
		c.SpotifyRedirectURL += "/"
	}
	if len(c.Nodes) == 0 {
		c.Nodes = []NodeConfig{{Host: "localhost", Port: 2333, Password: "12345"}}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.DSN == "" {
		c.Database.DSN = DefaultDSN
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.LinkTTL == "" {
		c.LinkTTL = DefaultLinkTTL
	}
	if c.ReaperSchedule == "" {
		c.ReaperSchedule = DefaultReaperSchedule
	}
}

func (m *Manager) validate() error {
	c := m.cfg
	var errs []error

	if c.Token == "" {
		errs = append(errs, ErrDiscordTokenNotSet)
	}
	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		errs = append(errs, ErrSpotifyCredentialsNotSet)
	}
	if strings.TrimSpace(c.Prefix) != c.Prefix {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPrefix, c.Prefix))
	}
	if u, err := url.Parse(c.SpotifyRedirectURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidRedirectURL, c.SpotifyRedirectURL))
	}
	for _, n := range c.Nodes {
		if n.Host == "" || n.Port <= 0 || n.Port > 65535 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidNode, n.Address()))
		}
	}
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidDriver, c.Database.Driver))
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level))
	}

	var err error
	if m.bootstrapTimeout, err = parseDuration("bootstrap_timeout", c.BootstrapTimeout); err != nil {
		errs = append(errs, err)
	}
	if m.linkTTL, err = parseDuration("link_ttl", c.LinkTTL); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidDuration, field, raw)
	}
	return d, nil
}

// Get returns a string configuration value by key, or "" for unknown keys.
func (m *Manager) Get(key string) string {
	switch key {
	case KeyPrefix:
		return m.cfg.Prefix
	case KeyToken:
		return m.cfg.Token
	case KeySpotifyClientID:
		return m.cfg.SpotifyClientID
	case KeySpotifyClientSecret:
		return m.cfg.SpotifyClientSecret
	case KeySpotifyRedirectURL:
		return m.cfg.SpotifyRedirectURL
	default:
		return ""
	}
}

func (m *Manager) Prefix() string                  { return m.cfg.Prefix }
func (m *Manager) Nodes() []NodeConfig             { return append([]NodeConfig(nil), m.cfg.Nodes...) }
func (m *Manager) Database() DatabaseSection       { return m.cfg.Database }
func (m *Manager) Logging() logging.LoggingConfig  { return m.cfg.Logging }
func (m *Manager) BootstrapTimeout() time.Duration { return m.bootstrapTimeout }
func (m *Manager) LinkTTL() time.Duration          { return m.linkTTL }
func (m *Manager) ReaperSchedule() string          { return m.cfg.ReaperSchedule }
