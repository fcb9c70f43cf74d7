package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/store"
)

func TestOpenAppliesSchemaToInMemoryDB(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx,
		`INSERT INTO threads (id, status, capabilities, max_spend, created_at, updated_at)
		 VALUES ('t1', 'created', '[]', 0, datetime('now'), datetime('now'))`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM threads").Scan(&count))
	require.Equal(t, 1, count)
}

func TestWithImmediateTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	sentinel := require.New(t)
	err = db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		_, execErr := conn.ExecContext(ctx,
			`INSERT INTO threads (id, status, capabilities, max_spend, created_at, updated_at)
			 VALUES ('t1', 'created', '[]', 0, datetime('now'), datetime('now'))`)
		sentinel.NoError(execErr)
		return context.DeadlineExceeded
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM threads").Scan(&count))
	require.Equal(t, 0, count)
}

func TestWithImmediateTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	err = db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		_, execErr := conn.ExecContext(ctx,
			`INSERT INTO threads (id, status, capabilities, max_spend, created_at, updated_at)
			 VALUES ('t1', 'created', '[]', 0, datetime('now'), datetime('now'))`)
		return execErr
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM threads").Scan(&count))
	require.Equal(t, 1, count)
}
