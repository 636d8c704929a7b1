package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("concurrent ledger write conflict")
)

// Entry is one immutable balance change. Entries are append-only: the full
// sequence for an account is the audit trail from which its balance can be
// reconstructed.
type Entry struct {
	ID          int64      `json:"id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	Points      int64      `json:"points"`
	Kind        string     `json:"transaction_type"`
	Description string     `json:"description"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Account is the current state of one customer's points.
type Account struct {
	CustomerID         uuid.UUID  `json:"customer_id"`
	PointsBalance      int64      `json:"points_balance"`
	LifetimePoints     int64      `json:"lifetime_points"`
	TierLevel          string     `json:"tier_level"`
	LastPointsEarnedAt *time.Time `json:"last_points_earned_at,omitempty"`
}

// TierFunc maps lifetime points to a tier level name. Tier thresholds are
// configuration data supplied by the caller, not logic baked in here.
type TierFunc func(lifetimePoints int64) string

// Ledger guards the loyalty_program balance rows and the append-only
// loyalty_transactions log. A balance update and its entry land in one
// transaction or not at all.
type Ledger struct {
	db     *sql.DB
	tier   TierFunc
	tracer trace.Tracer
}

// New creates a ledger over db. tier may be nil, in which case tier levels
// are left untouched on append.
func New(db *sql.DB, tier TierFunc) *Ledger {
	return &Ledger{
		db:     db,
		tier:   tier,
		tracer: otel.Tracer("storefront/ledger"),
	}
}

// Append applies a points delta to an account and records the entry
// atomically. The account row is locked for the duration, so two concurrent
// redemptions that jointly overdraw cannot both pass the balance check.
// A negative delta that would take the balance below zero fails with
// ErrInsufficientBalance and writes nothing.
func (l *Ledger) Append(ctx context.Context, customerID uuid.UUID, points int64, kind, description string, orderID *uuid.UUID) (*Account, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(
			attribute.String("account.id", customerID.String()),
			attribute.Int64("points.delta", points),
			attribute.String("entry.kind", kind),
		),
	)
	defer span.End()

	// Read committed plus FOR UPDATE: the row lock serializes concurrent
	// deltas for the same customer, and the locked re-read sees the winner's
	// committed balance.
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// First earn creates the account row; the ON CONFLICT no-op keeps
	// concurrent creators from failing.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO loyalty_program (customer_id, points_balance, lifetime_points, tier_level)
		VALUES ($1, 0, 0, 'bronze')
		ON CONFLICT (customer_id) DO NOTHING
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	account := &Account{CustomerID: customerID}
	err = tx.QueryRowContext(ctx, `
		SELECT points_balance, lifetime_points, tier_level, last_points_earned_at
		FROM loyalty_program
		WHERE customer_id = $1
		FOR UPDATE
	`, customerID).Scan(
		&account.PointsBalance,
		&account.LifetimePoints,
		&account.TierLevel,
		&account.LastPointsEarnedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("lock account row: %w", err)
	}

	if account.PointsBalance+points < 0 {
		span.SetAttributes(
			attribute.Int64("account.balance", account.PointsBalance),
			attribute.Bool("rejected.insufficient", true),
		)
		return nil, ErrInsufficientBalance
	}

	account.PointsBalance += points
	if points > 0 {
		account.LifetimePoints += points
		now := time.Now().UTC()
		account.LastPointsEarnedAt = &now
	}
	if l.tier != nil {
		account.TierLevel = l.tier(account.LifetimePoints)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE loyalty_program
		SET points_balance = $1, lifetime_points = $2, tier_level = $3,
		    last_points_earned_at = $4, updated_at = NOW()
		WHERE customer_id = $5
	`, account.PointsBalance, account.LifetimePoints, account.TierLevel, account.LastPointsEarnedAt, customerID)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	var entryID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO loyalty_transactions (customer_id, points, transaction_type, description, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, customerID, points, kind, description, orderID, time.Now().UTC()).Scan(&entryID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	span.AddEvent("entry.appended", trace.WithAttributes(
		attribute.Int64("entry.id", entryID),
		attribute.Int64("account.balance", account.PointsBalance),
	))
	return account, nil
}

// GetAccount loads the current state of an account, or nil when the customer
// has no loyalty history yet.
func (l *Ledger) GetAccount(ctx context.Context, customerID uuid.UUID) (*Account, error) {
	account := &Account{CustomerID: customerID}
	err := l.db.QueryRowContext(ctx, `
		SELECT points_balance, lifetime_points, tier_level, last_points_earned_at
		FROM loyalty_program
		WHERE customer_id = $1
	`, customerID).Scan(
		&account.PointsBalance,
		&account.LifetimePoints,
		&account.TierLevel,
		&account.LastPointsEarnedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

// ListEntries returns an account's entries newest first.
func (l *Ledger) ListEntries(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Entry, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.list_entries",
		trace.WithAttributes(attribute.String("account.id", customerID.String())),
	)
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, customer_id, points, transaction_type, description, order_id, created_at
		FROM loyalty_transactions
		WHERE customer_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Points, &e.Kind, &e.Description, &e.OrderID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	span.SetAttributes(attribute.Int("entries.loaded", len(entries)))
	return entries, nil
}
