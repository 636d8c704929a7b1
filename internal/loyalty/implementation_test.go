package loyalty

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/errs"
)

func TestRecordTransactionValidation(t *testing.T) {
	// Validation runs before any storage access, so no database is needed.
	s := NewService(nil)
	ctx := context.Background()
	customerID := uuid.New()

	cases := []struct {
		name   string
		points int64
		kind   TransactionType
	}{
		{"unknown type", 100, TransactionType("store_credit")},
		{"zero delta", 0, TypeManualAdjustment},
		{"negative earn", -50, TypeOrderCompletion},
		{"negative referral", -10, TypeReferralBonus},
		{"negative birthday", -10, TypeBirthdayBonus},
		{"positive redemption", 50, TypePointsRedemption},
		{"positive expiry", 50, TypePointsExpiry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.RecordTransaction(ctx, customerID, tc.points, tc.kind, "test", nil)
			assert.True(t, errs.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestAwardOrderPointsRequiresPositive(t *testing.T) {
	s := NewService(nil)

	_, err := s.AwardOrderPoints(context.Background(), uuid.New(), 0, uuid.New())
	assert.True(t, errs.IsValidation(err))

	_, err = s.AwardOrderPoints(context.Background(), uuid.New(), -5, uuid.New())
	assert.True(t, errs.IsValidation(err))
}

func TestTierForLadder(t *testing.T) {
	s := NewService(nil).(*service)
	s.ladder = []TierThreshold{
		{Level: "bronze", MinPoints: 0},
		{Level: "silver", MinPoints: 500},
		{Level: "gold", MinPoints: 1000},
	}

	assert.Equal(t, "bronze", s.tierFor(0))
	assert.Equal(t, "bronze", s.tierFor(499))
	assert.Equal(t, "silver", s.tierFor(500))
	assert.Equal(t, "gold", s.tierFor(1500))
}

func setupLoyaltyTestDB(t testing.TB) *sql.DB {
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
		t.Skipf("skipping loyalty tests: could not connect to postgres: %v", err)
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
		CREATE UNIQUE INDEX IF NOT EXISTS loyalty_transactions_order_accrual
			ON loyalty_transactions (order_id, transaction_type)
			WHERE order_id IS NOT NULL;
		CREATE TABLE IF NOT EXISTS loyalty_tiers (
			level TEXT PRIMARY KEY,
			min_points BIGINT NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func TestAwardOrderPointsIdempotentPerOrder(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	defer db.Close()
	s := NewService(db)
	ctx := context.Background()
	customerID := uuid.New()
	orderID := uuid.New()

	account, err := s.AwardOrderPoints(ctx, customerID, 120, orderID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), account.PointsBalance)

	_, err = s.AwardOrderPoints(ctx, customerID, 120, orderID)
	assert.True(t, errs.IsConflict(err), "second accrual for the same order must conflict, got %v", err)

	account, err = s.GetAccount(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), account.PointsBalance, "balance unchanged by the rejected duplicate")
}

func TestRedemptionOverdrawSurfacesInsufficientBalance(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	defer db.Close()
	s := NewService(db)
	ctx := context.Background()
	customerID := uuid.New()

	_, err := s.RecordTransaction(ctx, customerID, 40, TypeManualAdjustment, "seed", nil)
	require.NoError(t, err)

	_, err = s.RecordTransaction(ctx, customerID, -100, TypePointsRedemption, "reward", nil)
	assert.True(t, errs.IsInsufficientBalance(err), "got %v", err)
}

func TestTierLadderFromTable(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, err := db.Exec(`
		INSERT INTO loyalty_tiers (level, min_points) VALUES
			('member', 0), ('insider', 300), ('vip', 900)
		ON CONFLICT (level) DO UPDATE SET min_points = EXCLUDED.min_points
	`)
	require.NoError(t, err)
	defer db.Exec(`DELETE FROM loyalty_tiers`)

	s := NewService(db)
	ladder, err := s.TierLadder(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ladder), 3)

	impl := s.(*service)
	assert.Equal(t, "member", impl.tierFor(0))
	assert.Equal(t, "insider", impl.tierFor(300))
	assert.Equal(t, "vip", impl.tierFor(1200))
}

func TestGetAccountMissingCustomer(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	defer db.Close()
	s := NewService(db)

	_, err := s.GetAccount(context.Background(), uuid.New())
	assert.True(t, errs.IsNotFound(err))
}
