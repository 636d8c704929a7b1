// internal/loyalty/implementation.go
package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/errs"
	"storefront/pkg/ledger"
)

// defaultLadder applies until the loyalty_tiers table has been read, and
// whenever it is empty.
var defaultLadder = []TierThreshold{
	{Level: "bronze", MinPoints: 0},
	{Level: "silver", MinPoints: 500},
	{Level: "gold", MinPoints: 2000},
	{Level: "platinum", MinPoints: 5000},
}

// service implements the Service interface.
type service struct {
	db     *sql.DB
	ledger *ledger.Ledger
	tracer trace.Tracer

	mu     sync.RWMutex
	ladder []TierThreshold
}

// NewService creates a new loyalty service instance. The tier ladder is read
// from loyalty_tiers on first use and re-read on every TierLadder call.
func NewService(db *sql.DB) Service {
	s := &service{
		db:     db,
		tracer: otel.Tracer("storefront/loyalty"),
		ladder: defaultLadder,
	}
	s.ledger = ledger.New(db, s.tierFor)
	return s
}

// tierFor maps lifetime points to the highest ladder level reached.
func (s *service) tierFor(lifetimePoints int64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	level := s.ladder[0].Level
	for _, t := range s.ladder {
		if lifetimePoints >= t.MinPoints {
			level = t.Level
		}
	}
	return level
}

func (s *service) refreshLadder(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT level, min_points FROM loyalty_tiers ORDER BY min_points ASC`)
	if err != nil {
		return errs.Dependency("query tier ladder", err)
	}
	defer rows.Close()

	var ladder []TierThreshold
	for rows.Next() {
		var t TierThreshold
		if err := rows.Scan(&t.Level, &t.MinPoints); err != nil {
			return errs.Dependency("scan tier threshold", err)
		}
		ladder = append(ladder, t)
	}
	if err := rows.Err(); err != nil {
		return errs.Dependency("iterate tier ladder", err)
	}
	if len(ladder) == 0 {
		ladder = defaultLadder
	}
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].MinPoints < ladder[j].MinPoints })

	s.mu.Lock()
	s.ladder = ladder
	s.mu.Unlock()
	return nil
}

// RecordTransaction validates the type and sign policy, then defers to the
// ledger for the atomic balance change.
func (s *service) RecordTransaction(ctx context.Context, customerID uuid.UUID, points int64, kind TransactionType, description string, orderID *uuid.UUID) (*Account, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.record_transaction",
		trace.WithAttributes(
			attribute.String("customer.id", customerID.String()),
			attribute.String("transaction.type", string(kind)),
		),
	)
	defer span.End()

	if !kind.valid() {
		return nil, errs.Validationf("unknown transaction type %q", kind)
	}
	if points == 0 {
		return nil, errs.Validationf("points delta must be non-zero")
	}
	if kind.earns() && points < 0 {
		return nil, errs.Validationf("%s transactions must add points", kind)
	}
	if kind.spends() && points > 0 {
		return nil, errs.Validationf("%s transactions must remove points", kind)
	}

	account, err := s.ledger.Append(ctx, customerID, points, string(kind), description, orderID)
	if err != nil {
		return nil, translateLedgerError(err, points)
	}
	return account, nil
}

// AwardOrderPoints is the accrual path the promotions checkout calls.
func (s *service) AwardOrderPoints(ctx context.Context, customerID uuid.UUID, points int64, orderID uuid.UUID) (*Account, error) {
	if points <= 0 {
		return nil, errs.Validationf("order accrual requires a positive points amount")
	}
	desc := fmt.Sprintf("points earned for order %s", orderID)
	return s.RecordTransaction(ctx, customerID, points, TypeOrderCompletion, desc, &orderID)
}

func (s *service) GetAccount(ctx context.Context, customerID uuid.UUID) (*Account, error) {
	account, err := s.ledger.GetAccount(ctx, customerID)
	if err != nil {
		return nil, errs.Dependency("load loyalty account", err)
	}
	if account == nil {
		return nil, &errs.NotFoundError{Entity: "loyalty account", ID: customerID.String()}
	}
	return account, nil
}

func (s *service) ListTransactions(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Entry, error) {
	entries, err := s.ledger.ListEntries(ctx, customerID, limit, offset)
	if err != nil {
		return nil, errs.Dependency("list loyalty transactions", err)
	}
	return entries, nil
}

// TierLadder re-reads the ladder so admin edits to loyalty_tiers take effect
// without a restart.
func (s *service) TierLadder(ctx context.Context) ([]TierThreshold, error) {
	if err := s.refreshLadder(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TierThreshold, len(s.ladder))
	copy(out, s.ladder)
	return out, nil
}

func translateLedgerError(err error, points int64) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return &errs.InsufficientBalanceError{Requested: -points}
	case errors.Is(err, ledger.ErrConflict):
		return &errs.ConflictError{Msg: "duplicate loyalty transaction"}
	}
	return errs.Dependency("append ledger entry", err)
}
