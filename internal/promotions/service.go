// internal/promotions/service.go
package promotions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the promotions service.
type Service interface {
	CreatePromotion(ctx context.Context, p *Promotion) (*Promotion, error)
	UpdatePromotion(ctx context.Context, id uuid.UUID, p *Promotion, version int) (*Promotion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (*Promotion, error)
	ListPromotions(ctx context.Context) ([]*Promotion, error)
	DeletePromotion(ctx context.Context, id uuid.UUID) error

	// ApplicablePromotions returns the promotions that apply to the cart
	// after eligibility and stacking rules.
	ApplicablePromotions(ctx context.Context, cart Cart, now time.Time) ([]*Promotion, error)

	// ComputeOrderDiscount prices the cart's discount without touching
	// usage counters.
	ComputeOrderDiscount(ctx context.Context, cart Cart, now time.Time) (*OrderDiscount, error)

	// ApplyOrderDiscounts recomputes the discount at checkout, consumes
	// usage atomically, and awards loyalty points for the order.
	ApplyOrderDiscounts(ctx context.Context, cart Cart, orderID uuid.UUID, now time.Time) (*OrderDiscount, error)
}

// SegmentLookup is the slice of the segments service the resolver needs.
type SegmentLookup interface {
	SegmentsForCustomer(ctx context.Context, customerID uuid.UUID) ([]uuid.UUID, error)
}

// LoyaltyAccrual awards points for a completed order.
type LoyaltyAccrual interface {
	AwardOrderPoints(ctx context.Context, customerID uuid.UUID, points int64, orderID uuid.UUID) error
}
