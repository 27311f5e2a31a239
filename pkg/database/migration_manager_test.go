package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/spoticord/pkg/logging"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationManager_MigrateFreshDatabase(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)

	mm, err := NewMigrationManager(ctx, db, dialectSQLite, logging.NullLogger())
	require.NoError(t, err)

	version, err := mm.GetCurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, mm.Migrate(ctx))

	version, err = mm.GetCurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, mm.GetLatestVersion(), version)

	history, err := mm.GetMigrationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, len(schema))
	for i, m := range history {
		assert.Equal(t, schema[i].Version, m.Version)
		assert.Equal(t, schema[i].checksum(), m.Checksum)
	}

	// Re-running is a no-op.
	require.NoError(t, mm.Migrate(ctx))
}

func TestMigrationManager_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	db := openRawDB(t)

	mm, err := NewMigrationManager(ctx, db, dialectSQLite, logging.NullLogger())
	require.NoError(t, err)
	require.NoError(t, mm.Migrate(ctx))

	_, err = db.ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'tampered' WHERE version = 1`)
	require.NoError(t, err)

	err = mm.Migrate(ctx)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestMigrationManager_NilDB(t *testing.T) {
	_, err := NewMigrationManager(context.Background(), nil, dialectSQLite, logging.NullLogger())
	assert.Error(t, err)
}

func TestDialectRebind(t *testing.T) {
	q := `UPDATE t SET a = ?, b = ? WHERE c = ?`
	assert.Equal(t, q, dialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE c = $3`, dialectPostgres.rebind(q))
}
