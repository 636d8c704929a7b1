// internal/segments/domain.go
package segments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/rules"
)

// CustomerSchema lists the customer fields segment criteria may reference.
// Keys double as column names of the customers table; criteria validation
// rejects anything else before query building.
var CustomerSchema = rules.Schema{
	"email":             rules.KindFreeText,
	"name":              rules.KindFreeText,
	"city":              rules.KindText,
	"country":           rules.KindText,
	"total_spent":       rules.KindNumeric,
	"total_orders":      rules.KindNumeric,
	"accepts_marketing": rules.KindBool,
	"created_at":        rules.KindTime,
	"last_order_at":     rules.KindTime,
}

// Segment is a named, rule-defined subset of customers.
type Segment struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Criteria    rules.Criteria `json:"criteria"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Preview summarizes who would match a criteria and what they buy, without
// persisting anything.
type Preview struct {
	EstimatedSize     int             `json:"estimated_size"`
	TopProducts       []RankedItem    `json:"top_products"`
	TopCategories     []RankedItem    `json:"top_categories"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	OrderFrequency    float64         `json:"order_frequency"`
}

// RankedItem is a product or category ranked by order-line count.
type RankedItem struct {
	ID         uuid.UUID `json:"id"`
	OrderCount int       `json:"order_count"`
}

func marshalCriteria(cr rules.Criteria) ([]byte, error) {
	data, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal criteria: %w", err)
	}
	return data, nil
}

func unmarshalCriteria(data []byte) (rules.Criteria, error) {
	var cr rules.Criteria
	if err := json.Unmarshal(data, &cr); err != nil {
		return cr, fmt.Errorf("failed to unmarshal criteria: %w", err)
	}
	return cr, nil
}
