package database

import (
	"context"
	"time"
)

// Store is the persistent store shared by the bot, the linker and the
// command handlers. Every call is atomic on its own; no call spans another.
type Store interface {
	// Lifecycle
	Initialize(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Link tokens
	GetToken(ctx context.Context, userID string) (*LinkToken, error)
	InitializeLink(ctx context.Context, userID string) (string, error)
	CreateLink(ctx context.Context, userID string) (linkID string, created bool, err error)
	GetLink(ctx context.Context, linkID string) (*LinkToken, error)
	CompleteLink(ctx context.Context, linkID string, creds Credentials) error
	UpdateCredentials(ctx context.Context, userID string, creds Credentials) error
	DeleteToken(ctx context.Context, userID string) error
	PurgePendingLinks(ctx context.Context, olderThan time.Time) (int64, error)

	// Device names
	SetDeviceName(ctx context.Context, userID, name string) error
	GetDeviceName(ctx context.Context, userID string) (string, error)
}

// MigrationManager defines the interface for database migrations
type MigrationManager interface {
	GetCurrentVersion(ctx context.Context) (int, error)
	GetLatestVersion() int
	Migrate(ctx context.Context) error
	GetMigrationHistory(ctx context.Context) ([]*Migration, error)
}
