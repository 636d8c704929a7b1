// internal/segments/service.go
package segments

import (
	"context"

	"github.com/google/uuid"

	"storefront/internal/rules"
)

// Service defines the interface for the segments service.
type Service interface {
	CreateSegment(ctx context.Context, name string, description *string, criteria rules.Criteria) (*Segment, error)
	UpdateSegment(ctx context.Context, id uuid.UUID, name string, description *string, criteria rules.Criteria, version int) (*Segment, error)
	GetSegment(ctx context.Context, id uuid.UUID) (*Segment, error)
	ListSegments(ctx context.Context) ([]*Segment, error)
	DeleteSegment(ctx context.Context, id uuid.UUID) error

	// Refresh atomically replaces the segment's membership rows with the
	// freshly resolved set.
	Refresh(ctx context.Context, id uuid.UUID) (int, error)

	// Preview resolves criteria in memory and aggregates the matched
	// customers' order history. Nothing is persisted.
	Preview(ctx context.Context, criteria rules.Criteria) (*Preview, error)

	// SegmentsForCustomer returns the ids of segments the customer is a
	// member of, for promotion segment targeting.
	SegmentsForCustomer(ctx context.Context, customerID uuid.UUID) ([]uuid.UUID, error)
}
