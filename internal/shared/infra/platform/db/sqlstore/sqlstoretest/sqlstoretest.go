// Package sqlstoretest abre bases de datos migradas para los tests.
package sqlstoretest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/davicafu/txmessaging/internal/shared/infra/platform/db/sqlstore"
	"github.com/stretchr/testify/require"
)

// NewSQLite crea una base SQLite en un directorio temporal y aplica las migraciones.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "txmessaging.db")
	db, err := sqlstore.Open(context.Background(), sqlstore.SQLite, path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewPostgres conecta con DATABASE_URL o salta el test si no está definida.
// Las tablas se vacían antes de devolver la conexión.
func NewPostgres(t testing.TB) *sql.DB {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping Postgres integration test: DATABASE_URL not set")
	}

	db, err := sqlstore.Open(context.Background(), sqlstore.Postgres, dsn)
	require.NoError(t, err)

	_, err = db.Exec(`TRUNCATE outbox, inbox, idempotency, orders`)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}
