package database

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxDeviceNameLength is the longest device name Spotify Connect shows for the bot.
const MaxDeviceNameLength = 16

// DatabaseConfig holds configuration for the store
type DatabaseConfig struct {
	// Connection settings
	Driver            string        `json:"driver" toml:"driver"` // sqlite3 or pgx
	DSN               string        `json:"dsn" toml:"dsn"`
	MaxConnections    int           `json:"max_connections" toml:"max_connections"`
	ConnectionTimeout time.Duration `json:"connection_timeout" toml:"connection_timeout"`

	// SQLite performance settings
	WALMode         bool   `json:"wal_mode" toml:"wal_mode"`
	SynchronousMode string `json:"synchronous_mode" toml:"synchronous_mode"`
	BusyTimeoutMS   int    `json:"busy_timeout_ms" toml:"busy_timeout_ms"`
}

// DefaultDatabaseConfig returns a configuration with sensible defaults
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Driver:            "sqlite3",
		DSN:               "spoticord.db",
		MaxConnections:    10,
		ConnectionTimeout: 30 * time.Second,
		WALMode:           true,
		SynchronousMode:   "NORMAL",
		BusyTimeoutMS:     5000,
	}
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	if c.Driver != "sqlite3" && c.Driver != "pgx" {
		return ErrInvalidDriver
	}
	if c.DSN == "" {
		return ErrInvalidDSN
	}
	if c.MaxConnections <= 0 {
		return ErrInvalidMaxConnections
	}
	if c.ConnectionTimeout <= 0 {
		return ErrInvalidConnectionTimeout
	}
	if c.Driver == "sqlite3" && c.SynchronousMode != "OFF" && c.SynchronousMode != "NORMAL" && c.SynchronousMode != "FULL" {
		return ErrInvalidSynchronousMode
	}
	return nil
}

// Credentials are the Spotify OAuth tokens attached to a completed link.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// LinkToken binds a Discord user to a Spotify authorization flow. A token
// without credentials is pending: the user has not finished the OAuth flow.
type LinkToken struct {
	UserID      string
	LinkID      string
	CreatedAt   time.Time
	LinkedAt    time.Time // zero while pending
	Credentials Credentials
}

// Pending reports whether the OAuth flow for this link has not completed.
func (t *LinkToken) Pending() bool {
	return t.LinkedAt.IsZero()
}

// DeviceName is the per-user Spotify Connect device name.
type DeviceName struct {
	UserID    string
	Name      string
	UpdatedAt time.Time
}

// ValidDeviceName reports whether name may be stored: non-blank and at most
// MaxDeviceNameLength characters, measured before trimming.
func ValidDeviceName(name string) bool {
	return strings.TrimSpace(name) != "" && utf8.RuneCountInString(name) <= MaxDeviceNameLength
}

// Migration represents an applied migration row
type Migration struct {
	Version   int
	Name      string
	Checksum  string
	AppliedAt time.Time
}
