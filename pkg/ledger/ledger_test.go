package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	pgUser := os.Getenv("PGUSER")
	pgPassword := os.Getenv("PGPASSWORD")
	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgDB := os.Getenv("PGDATABASE")

	if pgUser == "" {
		pgUser = "user"
	}
	if pgPassword == "" {
		pgPassword = "password"
	}
	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgDB == "" {
		pgDB = "testdb"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("skipping ledger tests: could not connect to postgres: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS loyalty_program (
			customer_id UUID PRIMARY KEY,
			points_balance BIGINT NOT NULL DEFAULT 0,
			lifetime_points BIGINT NOT NULL DEFAULT 0,
			tier_level TEXT NOT NULL DEFAULT 'bronze',
			last_points_earned_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS loyalty_transactions (
			id BIGSERIAL PRIMARY KEY,
			customer_id UUID NOT NULL,
			points BIGINT NOT NULL,
			transaction_type TEXT NOT NULL,
			description TEXT,
			order_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func testTier(lifetime int64) string {
	switch {
	case lifetime >= 1000:
		return "gold"
	case lifetime >= 500:
		return "silver"
	default:
		return "bronze"
	}
}

func TestAppendEarnAndRedeem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	l := New(db, testTier)
	ctx := context.Background()
	customerID := uuid.New()

	account, err := l.Append(ctx, customerID, 600, "order_completion", "order points", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(600), account.PointsBalance)
	assert.Equal(t, int64(600), account.LifetimePoints)
	assert.Equal(t, "silver", account.TierLevel)
	assert.NotNil(t, account.LastPointsEarnedAt)

	account, err = l.Append(ctx, customerID, -200, "points_redemption", "reward", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(400), account.PointsBalance)
	assert.Equal(t, int64(600), account.LifetimePoints, "lifetime points never decrease")
	assert.Equal(t, "silver", account.TierLevel, "tier follows lifetime, not balance")

	entries, err := l.ListEntries(ctx, customerID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-200), entries[0].Points)
	assert.Equal(t, int64(600), entries[1].Points)
}

func TestAppendRejectsOverdraw(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	l := New(db, testTier)
	ctx := context.Background()
	customerID := uuid.New()

	_, err := l.Append(ctx, customerID, 30, "order_completion", "order points", nil)
	require.NoError(t, err)

	_, err = l.Append(ctx, customerID, -50, "points_redemption", "reward", nil)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	account, err := l.GetAccount(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), account.PointsBalance, "balance unchanged after rejected redemption")

	entries, err := l.ListEntries(ctx, customerID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no entry recorded for rejected redemption")
}

// Two concurrent redemptions that each look affordable alone must not both
// land when their sum overdraws the account.
func TestConcurrentRedemptions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	l := New(db, testTier)
	ctx := context.Background()
	customerID := uuid.New()

	_, err := l.Append(ctx, customerID, 100, "order_completion", "order points", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, customerID, -80, "points_redemption", "reward", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of the overdrawing redemptions may succeed")

	account, err := l.GetAccount(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), account.PointsBalance)
	assert.GreaterOrEqual(t, account.PointsBalance, int64(0))
}

func TestGetAccountMissing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	l := New(db, testTier)

	account, err := l.GetAccount(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, account)
}
