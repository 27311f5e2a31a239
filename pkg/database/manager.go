package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/latoulicious/spoticord/pkg/logging"
)

// dialect papers over the placeholder difference between SQLite and Postgres.
type dialect string

const (
	dialectSQLite   dialect = "sqlite3"
	dialectPostgres dialect = "pgx"
)

// rebind rewrites ? placeholders to $n for Postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements Store on database/sql.
type sqlStore struct {
	config  *DatabaseConfig
	dialect dialect
	db      *sql.DB
	log     logging.Logger

	// State management
	connected bool
	mutex     sync.RWMutex

	now func() time.Time
}

// NewStore creates a store; no connection is made until Initialize.
func NewStore(config *DatabaseConfig, log logging.Logger) (Store, error) {
	if config == nil {
		config = DefaultDatabaseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if log == nil {
		log = logging.NullLogger()
	}

	return &sqlStore{
		config:  config,
		dialect: dialect(config.Driver),
		log:     log.With(logging.Component("store")),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Initialize opens the connection, verifies it and applies migrations.
func (s *sqlStore) Initialize(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.connected {
		return nil
	}

	db, err := sql.Open(s.config.Driver, s.buildConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(max(s.config.MaxConnections/2, 1))
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, s.config.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	mm, err := NewMigrationManager(ctx, db, s.dialect, s.log)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migration manager: %w", err)
	}
	if err := mm.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.db = db
	s.connected = true

	version, _ := mm.GetCurrentVersion(ctx)
	s.log.Info("database initialized", logging.String("driver", s.config.Driver), logging.Int("schema_version", version))
	return nil
}

// buildConnectionString adds SQLite pragmas; Postgres DSNs pass through.
func (s *sqlStore) buildConnectionString() string {
	if s.dialect != dialectSQLite {
		return s.config.DSN
	}

	sep := "?"
	if strings.Contains(s.config.DSN, "?") {
		sep = "&"
	}
	connStr := s.config.DSN + sep
	if s.config.WALMode {
		connStr += "_journal_mode=WAL&"
	}
	connStr += fmt.Sprintf("_synchronous=%s&", s.config.SynchronousMode)
	connStr += fmt.Sprintf("_busy_timeout=%d&", s.config.BusyTimeoutMS)
	connStr += "_foreign_keys=on"

	return connStr
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Ping tests the database connection
func (s *sqlStore) Ping(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *sqlStore) conn() (*sql.DB, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.connected || s.db == nil {
		return nil, ErrDatabaseNotConnected
	}
	return s.db, nil
}

const linkColumns = `user_id, link_id, created_at, access_token, refresh_token, token_type, expiry, linked_at`

func scanLink(row interface{ Scan(...any) error }) (*LinkToken, error) {
	var (
		t        LinkToken
		expiry   sql.NullTime
		linkedAt sql.NullTime
	)
	err := row.Scan(&t.UserID, &t.LinkID, &t.CreatedAt,
		&t.Credentials.AccessToken, &t.Credentials.RefreshToken, &t.Credentials.TokenType,
		&expiry, &linkedAt)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		t.Credentials.Expiry = expiry.Time
	}
	if linkedAt.Valid {
		t.LinkedAt = linkedAt.Time
	}
	return &t, nil
}

// GetToken returns the link token of a user or ErrTokenNotFound.
func (s *sqlStore) GetToken(ctx context.Context, userID string) (*LinkToken, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+linkColumns+` FROM link_tokens WHERE user_id = ?`), userID)
	t, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

// InitializeLink creates a pending link token for userID and returns its link
// id. A user keeps at most one token; if one exists its link id is returned.
func (s *sqlStore) InitializeLink(ctx context.Context, userID string) (string, error) {
	linkID, _, err := s.CreateLink(ctx, userID)
	return linkID, err
}

// CreateLink is InitializeLink that also reports whether this call inserted
// the token. Concurrent callers share one link id; exactly one sees created.
func (s *sqlStore) CreateLink(ctx context.Context, userID string) (string, bool, error) {
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}

	res, err := db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO link_tokens (user_id, link_id, created_at) VALUES (?, ?, ?) ON CONFLICT (user_id) DO NOTHING`),
		userID, uuid.NewString(), s.now())
	if err != nil {
		return "", false, fmt.Errorf("failed to create link: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to create link: %w", err)
	}

	var linkID string
	err = db.QueryRowContext(ctx, s.dialect.rebind(`SELECT link_id FROM link_tokens WHERE user_id = ?`), userID).Scan(&linkID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read link: %w", err)
	}
	return linkID, inserted == 1, nil
}

// GetLink resolves a link id to its token or ErrLinkNotFound.
func (s *sqlStore) GetLink(ctx context.Context, linkID string) (*LinkToken, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+linkColumns+` FROM link_tokens WHERE link_id = ?`), linkID)
	t, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return t, nil
}

// CompleteLink attaches Spotify credentials to a link and marks it linked.
func (s *sqlStore) CompleteLink(ctx context.Context, linkID string, creds Credentials) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE link_tokens
		SET access_token = ?, refresh_token = ?, token_type = ?, expiry = ?, linked_at = ?
		WHERE link_id = ?`),
		creds.AccessToken, creds.RefreshToken, creds.TokenType, nullTime(creds.Expiry), s.now(), linkID)
	if err != nil {
		return fmt.Errorf("failed to complete link: %w", err)
	}
	return requireRow(res, ErrLinkNotFound)
}

// UpdateCredentials stores refreshed credentials for a linked user.
func (s *sqlStore) UpdateCredentials(ctx context.Context, userID string, creds Credentials) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE link_tokens
		SET access_token = ?, refresh_token = ?, token_type = ?, expiry = ?
		WHERE user_id = ?`),
		creds.AccessToken, creds.RefreshToken, creds.TokenType, nullTime(creds.Expiry), userID)
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	return requireRow(res, ErrTokenNotFound)
}

// DeleteToken removes the user's link token. Deleting a missing token is not an error.
func (s *sqlStore) DeleteToken(ctx context.Context, userID string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM link_tokens WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// PurgePendingLinks deletes links never completed and created before olderThan.
func (s *sqlStore) PurgePendingLinks(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx,
		s.dialect.rebind(`DELETE FROM link_tokens WHERE linked_at IS NULL AND created_at < ?`),
		olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge pending links: %w", err)
	}
	return res.RowsAffected()
}

// SetDeviceName stores the user's device name.
func (s *sqlStore) SetDeviceName(ctx context.Context, userID, name string) error {
	if !ValidDeviceName(name) {
		return ErrInvalidDeviceName
	}

	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO device_names (user_id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`),
		userID, strings.TrimSpace(name), s.now())
	if err != nil {
		return fmt.Errorf("failed to set device name: %w", err)
	}
	return nil
}

// GetDeviceName returns the stored device name or ErrDeviceNameNotFound.
func (s *sqlStore) GetDeviceName(ctx context.Context, userID string) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}

	var name string
	err = db.QueryRowContext(ctx, s.dialect.rebind(`SELECT name FROM device_names WHERE user_id = ?`), userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrDeviceNameNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get device name: %w", err)
	}
	return name, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
