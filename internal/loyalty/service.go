// internal/loyalty/service.go
package loyalty

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the loyalty service.
type Service interface {
	// RecordTransaction validates the transaction type and sign, then
	// appends the points change to the customer's ledger.
	RecordTransaction(ctx context.Context, customerID uuid.UUID, points int64, kind TransactionType, description string, orderID *uuid.UUID) (*Account, error)

	// AwardOrderPoints credits points for a completed order. Idempotent
	// per order: a repeated award for the same order is rejected.
	AwardOrderPoints(ctx context.Context, customerID uuid.UUID, points int64, orderID uuid.UUID) (*Account, error)

	GetAccount(ctx context.Context, customerID uuid.UUID) (*Account, error)
	ListTransactions(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Entry, error)
	TierLadder(ctx context.Context) ([]TierThreshold, error)
}
