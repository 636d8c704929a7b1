// internal/promotions/domain.go
package promotions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/rules"
)

// PromotionType selects the discount computation.
type PromotionType string

const (
	TypePercentage   PromotionType = "percentage"
	TypeFixedAmount  PromotionType = "fixed_amount"
	TypeBuyXGetY     PromotionType = "buy_x_get_y"
	TypeFreeShipping PromotionType = "free_shipping"
	TypeTierDiscount PromotionType = "tier_discount"
)

func (t PromotionType) valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeBuyXGetY, TypeFreeShipping, TypeTierDiscount:
		return true
	}
	return false
}

// TargetKind says what a target or exclusion references.
type TargetKind string

const (
	TargetProduct    TargetKind = "product"
	TargetCategory   TargetKind = "category"
	TargetCollection TargetKind = "collection"
	TargetSegment    TargetKind = "segment"
)

func (k TargetKind) valid() bool {
	switch k {
	case TargetProduct, TargetCategory, TargetCollection, TargetSegment:
		return true
	}
	return false
}

// Target scopes a promotion to a product, category, collection, or customer
// segment. A promotion with no targets applies to the whole cart.
type Target struct {
	Kind  TargetKind `json:"kind"`
	RefID uuid.UUID  `json:"ref_id"`
}

// Exclusion subtracts lines from the targeted set. Same shape as Target but
// segment exclusions are not supported.
type Exclusion struct {
	Kind  TargetKind `json:"kind"`
	RefID uuid.UUID  `json:"ref_id"`
}

// Tier is one quantity band of a tier_discount promotion. Tiers are kept
// sorted ascending by min_quantity; the highest band at or below the cart's
// eligible quantity wins.
type Tier struct {
	MinQuantity   int             `json:"min_quantity"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

// BXGYRule is one buy-X-get-Y rule. Nil product ids mean "any eligible line".
type BXGYRule struct {
	BuyQuantity        int             `json:"buy_quantity"`
	GetQuantity        int             `json:"get_quantity"`
	BuyProductID       *uuid.UUID      `json:"buy_product_id,omitempty"`
	GetProductID       *uuid.UUID      `json:"get_product_id,omitempty"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// Promotion is a discount campaign with targeting and stacking rules.
type Promotion struct {
	ID                uuid.UUID        `json:"id"`
	Name              string           `json:"name"`
	Code              *string          `json:"code,omitempty"`
	Type              PromotionType    `json:"type"`
	Value             *decimal.Decimal `json:"value,omitempty"`
	MinPurchaseAmount *decimal.Decimal `json:"min_purchase_amount,omitempty"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
	StartsAt          time.Time        `json:"starts_at"`
	EndsAt            *time.Time       `json:"ends_at,omitempty"`
	UsageLimit        *int             `json:"usage_limit,omitempty"`
	UsedCount         int              `json:"used_count"`
	IsStackable       bool             `json:"is_stackable"`
	Priority          int              `json:"priority"`
	Conditions        *rules.Criteria  `json:"conditions,omitempty"`
	Targets           []Target         `json:"targets"`
	Exclusions        []Exclusion      `json:"exclusions"`
	Tiers             []Tier           `json:"tiers,omitempty"`
	BXGYRules         []BXGYRule       `json:"bxgy_rules,omitempty"`
	Version           int              `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// CartItem is one line of a checkout cart.
type CartItem struct {
	ProductID    uuid.UUID       `json:"product_id"`
	CategoryID   *uuid.UUID      `json:"category_id,omitempty"`
	CollectionID *uuid.UUID      `json:"collection_id,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

func (i CartItem) lineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the checkout-time view a discount is computed against.
type Cart struct {
	CustomerID     uuid.UUID       `json:"customer_id"`
	Items          []CartItem      `json:"items"`
	ShippingAmount decimal.Decimal `json:"shipping_amount"`
}

// Subtotal is the pre-discount item total, shipping excluded.
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.lineTotal())
	}
	return total
}

// Total is the pre-discount order total including shipping; the summed
// discount may never exceed it.
func (c Cart) Total() decimal.Decimal {
	return c.Subtotal().Add(c.ShippingAmount)
}

// CustomerContext is what eligibility checks know about the shopper.
type CustomerContext struct {
	Record     rules.Record
	SegmentIDs []uuid.UUID
}

// AppliedDiscount is one promotion's contribution to an order discount.
type AppliedDiscount struct {
	PromotionID uuid.UUID       `json:"promotion_id"`
	Code        *string         `json:"code,omitempty"`
	Type        PromotionType   `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
}

// OrderDiscount is the full checkout discount breakdown.
type OrderDiscount struct {
	Total   decimal.Decimal   `json:"total"`
	Applied []AppliedDiscount `json:"applied"`
}
