package database

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/latoulicious/spoticord/pkg/logging"
)

// migrationManager implements the MigrationManager interface
type migrationManager struct {
	db         *sql.DB
	dialect    dialect
	migrations []*migrationScript
	log        logging.Logger
}

// migrationScript represents a single database migration
type migrationScript struct {
	Version int
	Name    string
	UpSQL   []string
}

func (m *migrationScript) checksum() string {
	h := md5.New()
	for _, stmt := range m.UpSQL {
		h.Write([]byte(stmt))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// schema is the ordered list of migrations. Statements are written in the
// subset of SQL shared by SQLite and Postgres.
var schema = []*migrationScript{
	{
		Version: 1,
		Name:    "create_link_tokens",
		UpSQL: []string{
			`CREATE TABLE IF NOT EXISTS link_tokens (
				user_id TEXT PRIMARY KEY,
				link_id TEXT UNIQUE NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_link_tokens_created_at ON link_tokens(created_at)`,
		},
	},
	{
		Version: 2,
		Name:    "create_device_names",
		UpSQL: []string{
			`CREATE TABLE IF NOT EXISTS device_names (
				user_id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
		},
	},
	{
		Version: 3,
		Name:    "add_link_credentials",
		UpSQL: []string{
			`ALTER TABLE link_tokens ADD COLUMN access_token TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE link_tokens ADD COLUMN refresh_token TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE link_tokens ADD COLUMN token_type TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE link_tokens ADD COLUMN expiry TIMESTAMP NULL`,
			`ALTER TABLE link_tokens ADD COLUMN linked_at TIMESTAMP NULL`,
		},
	},
}

// NewMigrationManager creates a new migration manager and ensures the
// tracking table exists.
func NewMigrationManager(ctx context.Context, db *sql.DB, d dialect, log logging.Logger) (MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	mm := &migrationManager{
		db:         db,
		dialect:    d,
		migrations: append([]*migrationScript(nil), schema...),
		log:        log,
	}
	sort.Slice(mm.migrations, func(i, j int) bool {
		return mm.migrations[i].Version < mm.migrations[j].Version
	})

	if err := mm.initializeMigrationTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migration table: %w", err)
	}

	return mm, nil
}

// initializeMigrationTable creates the migration tracking table
func (mm *migrationManager) initializeMigrationTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`

	if _, err := mm.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// GetCurrentVersion returns the highest applied version, 0 for a fresh database.
func (mm *migrationManager) GetCurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := mm.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func (mm *migrationManager) GetLatestVersion() int {
	if len(mm.migrations) == 0 {
		return 0
	}
	return mm.migrations[len(mm.migrations)-1].Version
}

// Migrate applies every pending migration, each in its own transaction, and
// verifies checksums of the ones already applied.
func (mm *migrationManager) Migrate(ctx context.Context) error {
	applied, err := mm.GetMigrationHistory(ctx)
	if err != nil {
		return err
	}
	done := make(map[int]*Migration, len(applied))
	for _, m := range applied {
		done[m.Version] = m
	}

	for _, script := range mm.migrations {
		if prev, ok := done[script.Version]; ok {
			if prev.Checksum != script.checksum() {
				return fmt.Errorf("%w: version %d (%s)", ErrChecksumMismatch, script.Version, script.Name)
			}
			continue
		}
		if err := mm.apply(ctx, script); err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, script.Version, script.Name, err)
		}
		mm.log.Info("applied migration", logging.Int("version", script.Version), logging.String("name", script.Name))
	}
	return nil
}

func (mm *migrationManager) apply(ctx context.Context, script *migrationScript) error {
	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range script.UpSQL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		mm.dialect.rebind(`INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`),
		script.Version, script.Name, script.checksum(), time.Now().UTC())
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetMigrationHistory returns applied migrations in version order.
func (mm *migrationManager) GetMigrationHistory(ctx context.Context) ([]*Migration, error) {
	rows, err := mm.db.QueryContext(ctx, `SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration history: %w", err)
	}
	defer rows.Close()

	var history []*Migration
	for rows.Next() {
		m := &Migration{}
		if err := rows.Scan(&m.Version, &m.Name, &m.Checksum, &m.AppliedAt); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	return history, rows.Err()
}
