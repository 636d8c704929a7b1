// internal/promotions/discount.go
//
// Pure eligibility and discount arithmetic. Everything here operates on
// loaded promotions and an in-memory cart; persistence lives in
// implementation.go.
package promotions

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/rules"
	"storefront/internal/segments"
)

var oneHundred = decimal.NewFromInt(100)

// Eligible reports whether a promotion can apply to this cart and customer
// at the given instant.
func Eligible(p *Promotion, cart Cart, cust CustomerContext, now time.Time) (bool, error) {
	if now.Before(p.StartsAt) {
		return false, nil
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return false, nil
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return false, nil
	}

	minPurchase := decimal.Zero
	if p.MinPurchaseAmount != nil {
		minPurchase = *p.MinPurchaseAmount
	}
	if cart.Subtotal().LessThan(minPurchase) {
		return false, nil
	}

	// Segment targeting: when present, the customer must belong to at
	// least one targeted segment.
	if segTargets := segmentTargets(p); len(segTargets) > 0 {
		member := false
		for _, want := range segTargets {
			for _, have := range cust.SegmentIDs {
				if want == have {
					member = true
					break
				}
			}
		}
		if !member {
			return false, nil
		}
	}

	// Line targeting: after exclusion subtraction at least one eligible
	// line must remain.
	if len(eligibleItems(p, cart)) == 0 {
		return false, nil
	}

	if p.Conditions != nil {
		ok, err := matchConditions(*p.Conditions, cust.Record)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchConditions(cr rules.Criteria, rec rules.Record) (bool, error) {
	pred, err := rules.Compile(cr, segments.CustomerSchema)
	if err != nil {
		return false, err
	}
	return pred(rec)
}

func segmentTargets(p *Promotion) []uuid.UUID {
	var ids []uuid.UUID
	for _, t := range p.Targets {
		if t.Kind == TargetSegment {
			ids = append(ids, t.RefID)
		}
	}
	return ids
}

// eligibleItems returns the cart lines a promotion's discount applies to:
// lines matching any non-segment target (or every line when there are none),
// minus lines matching any exclusion.
func eligibleItems(p *Promotion, cart Cart) []CartItem {
	lineTargets := make([]Target, 0, len(p.Targets))
	for _, t := range p.Targets {
		if t.Kind != TargetSegment {
			lineTargets = append(lineTargets, t)
		}
	}

	var items []CartItem
	for _, item := range cart.Items {
		if len(lineTargets) > 0 {
			matched := false
			for _, t := range lineTargets {
				if itemMatchesRef(item, t.Kind, t.RefID) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}

		excluded := false
		for _, e := range p.Exclusions {
			if itemMatchesRef(item, e.Kind, e.RefID) {
				excluded = true
				break
			}
		}
		if !excluded {
			items = append(items, item)
		}
	}
	return items
}

func itemMatchesRef(item CartItem, kind TargetKind, refID uuid.UUID) bool {
	switch kind {
	case TargetProduct:
		return item.ProductID == refID
	case TargetCategory:
		return item.CategoryID != nil && *item.CategoryID == refID
	case TargetCollection:
		return item.CollectionID != nil && *item.CollectionID == refID
	}
	return false
}

// SelectStacking filters eligible promotions down to the set that applies
// together: every stackable one, plus at most the single best non-stackable
// one (highest priority, ties broken by earliest starts_at).
func SelectStacking(eligible []*Promotion) []*Promotion {
	var applied []*Promotion
	var bestExclusive *Promotion

	for _, p := range eligible {
		if p.IsStackable {
			applied = append(applied, p)
			continue
		}
		if bestExclusive == nil {
			bestExclusive = p
			continue
		}
		if p.Priority > bestExclusive.Priority ||
			(p.Priority == bestExclusive.Priority && p.StartsAt.Before(bestExclusive.StartsAt)) {
			bestExclusive = p
		}
	}
	if bestExclusive != nil {
		applied = append(applied, bestExclusive)
	}

	sort.SliceStable(applied, func(i, j int) bool {
		if applied[i].Priority != applied[j].Priority {
			return applied[i].Priority > applied[j].Priority
		}
		return applied[i].StartsAt.Before(applied[j].StartsAt)
	})
	return applied
}

// ComputeDiscount computes one promotion's discount against the cart,
// dispatched by type. The result is never negative and never exceeds what
// the eligible lines (plus shipping, for free_shipping) are worth.
func ComputeDiscount(p *Promotion, cart Cart) decimal.Decimal {
	items := eligibleItems(p, cart)

	subtotal := decimal.Zero
	quantity := 0
	for _, item := range items {
		subtotal = subtotal.Add(item.lineTotal())
		quantity += item.Quantity
	}

	var discount decimal.Decimal
	switch p.Type {
	case TypePercentage:
		if p.Value == nil {
			return decimal.Zero
		}
		discount = subtotal.Mul(*p.Value).Div(oneHundred)
		if p.MaxDiscountAmount != nil && discount.GreaterThan(*p.MaxDiscountAmount) {
			discount = *p.MaxDiscountAmount
		}

	case TypeFixedAmount:
		if p.Value == nil {
			return decimal.Zero
		}
		discount = *p.Value
		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}

	case TypeTierDiscount:
		discount = tierDiscount(p.Tiers, quantity, subtotal)

	case TypeBuyXGetY:
		discount = bxgyDiscount(p.BXGYRules, items, cart)

	case TypeFreeShipping:
		discount = cart.ShippingAmount
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// tierDiscount applies the highest band whose min_quantity the cart reaches;
// no qualifying band means no discount.
func tierDiscount(tiers []Tier, quantity int, subtotal decimal.Decimal) decimal.Decimal {
	var selected *Tier
	for i := range tiers {
		if tiers[i].MinQuantity <= quantity {
			if selected == nil || tiers[i].MinQuantity > selected.MinQuantity {
				selected = &tiers[i]
			}
		}
	}
	if selected == nil {
		return decimal.Zero
	}
	return subtotal.Mul(selected.DiscountValue).Div(oneHundred)
}

// bxgyDiscount evaluates each rule independently: complete buy groups earn
// discounted get units, capped at the get units actually in the cart.
func bxgyDiscount(bxgyRules []BXGYRule, eligible []CartItem, cart Cart) decimal.Decimal {
	total := decimal.Zero

	for _, rule := range bxgyRules {
		if rule.BuyQuantity <= 0 || rule.GetQuantity <= 0 {
			continue
		}

		buyUnits := 0
		for _, item := range eligible {
			if rule.BuyProductID == nil || item.ProductID == *rule.BuyProductID {
				buyUnits += item.Quantity
			}
		}
		groups := buyUnits / rule.BuyQuantity
		if groups == 0 {
			continue
		}

		// Get pool: the named get product's cart lines, or the eligible
		// lines when the rule does not pin one.
		getUnits := 0
		getUnitPrice := decimal.Zero
		if rule.GetProductID != nil {
			for _, item := range cart.Items {
				if item.ProductID == *rule.GetProductID {
					getUnits += item.Quantity
					getUnitPrice = item.UnitPrice
				}
			}
		} else {
			for _, item := range eligible {
				getUnits += item.Quantity
				if getUnitPrice.IsZero() || item.UnitPrice.LessThan(getUnitPrice) {
					getUnitPrice = item.UnitPrice
				}
			}
		}

		discounted := groups * rule.GetQuantity
		if discounted > getUnits {
			discounted = getUnits
		}
		if discounted == 0 {
			continue
		}

		total = total.Add(
			getUnitPrice.
				Mul(decimal.NewFromInt(int64(discounted))).
				Mul(rule.DiscountPercentage).
				Div(oneHundred),
		)
	}
	return total
}

// ComputeOrderDiscount applies the stacking-selected promotions and sums
// their discounts, capping the running total at the pre-discount order total
// so an order can never go negative.
func ComputeOrderDiscount(applied []*Promotion, cart Cart) OrderDiscount {
	result := OrderDiscount{Total: decimal.Zero, Applied: []AppliedDiscount{}}
	remaining := cart.Total()

	for _, p := range applied {
		amount := ComputeDiscount(p, cart)
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		if amount.IsZero() {
			continue
		}
		result.Applied = append(result.Applied, AppliedDiscount{
			PromotionID: p.ID,
			Code:        p.Code,
			Type:        p.Type,
			Amount:      amount,
		})
		result.Total = result.Total.Add(amount)
		remaining = remaining.Sub(amount)
	}
	return result
}
