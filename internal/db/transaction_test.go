package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	n, err := database.MigrateUp(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(migrations), n)
	return database
}

func TestTransactionWithRetryRetriesOnBusy(t *testing.T) {
	database := setupTestDB(t)
	attempts := 0

	err := database.TransactionWithRetry(context.Background(), 3, time.Millisecond, func(*sql.Tx) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestTransactionWithRetryStopsOnOtherErrors(t *testing.T) {
	database := setupTestDB(t)
	attempts := 0

	err := database.TransactionWithRetry(context.Background(), 3, time.Millisecond, func(*sql.Tx) error {
		attempts++
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, 1, attempts)
}

func TestTransactionWithRetryGivesUp(t *testing.T) {
	database := setupTestDB(t)
	attempts := 0

	err := database.TransactionWithRetry(context.Background(), 2, time.Millisecond, func(*sql.Tx) error {
		attempts++
		return errors.New("SQLITE_BUSY")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestTransactionWithRetryHonorsContext(t *testing.T) {
	database := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := database.TransactionWithRetry(ctx, 3, time.Millisecond, func(*sql.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMigrateUpIsRepeatable(t *testing.T) {
	database := setupTestDB(t)
	_, err := database.MigrateUp(context.Background())
	assert.NoError(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
