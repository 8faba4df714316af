package tokens

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sqlDB opens the database named by FOCUSKIT_TEST_DB_DRIVER and
// FOCUSKIT_TEST_DB_DSN, or skips. The kit itself carries no SQL driver; the
// test binary only has one when the importing project registers it.
func sqlDB(t *testing.T) *sql.DB {
	t.Helper()

	driver := os.Getenv("FOCUSKIT_TEST_DB_DRIVER")
	dsn := os.Getenv("FOCUSKIT_TEST_DB_DSN")
	if driver == "" || dsn == "" {
		t.Skip("Skipping integration test: FOCUSKIT_TEST_DB_DRIVER/FOCUSKIT_TEST_DB_DSN not set")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		t.Skipf("Skipping integration test: cannot open database (%v)", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("Skipping integration test: database not available (%v)", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLStore_RoundTrip(t *testing.T) {
	db := sqlDB(t)
	ctx := context.Background()

	store := NewSQLStore(db, WithTable("focus_tokens_test"))
	t.Cleanup(func() { _, _ = db.Exec("DROP TABLE IF EXISTS focus_tokens_test") })

	// The table is created lazily, so the very first read works too.
	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	token := &Token{
		AccessToken:  "A1",
		RefreshToken: "R1",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
	}
	require.NoError(t, store.Save(ctx, token))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", got.AccessToken)
	assert.Equal(t, "R1", got.RefreshToken)
	assert.False(t, got.UpdatedAt.IsZero())

	// Second save takes the update path; still a single row.
	token.AccessToken = "A2"
	require.NoError(t, store.Save(ctx, token))

	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", got.AccessToken)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Get(ctx)
	assert.ErrorIs(t, err, ErrNoToken)
}
