// internal/promotions/implementation.go
package promotions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/errs"
	"storefront/internal/rules"
	"storefront/internal/segments"
)

// service implements the Service interface.
type service struct {
	db       *sql.DB
	segments SegmentLookup
	loyalty  LoyaltyAccrual
	tracer   trace.Tracer
}

// NewService creates a new promotions service instance.
func NewService(db *sql.DB, segmentLookup SegmentLookup, loyalty LoyaltyAccrual) Service {
	return &service{
		db:       db,
		segments: segmentLookup,
		loyalty:  loyalty,
		tracer:   otel.Tracer("storefront/promotions"),
	}
}

func validatePromotion(p *Promotion) error {
	if p.Name == "" {
		return errs.Validationf("promotion name is required")
	}
	if !p.Type.valid() {
		return errs.Validationf("unknown promotion type %q", p.Type)
	}
	if p.StartsAt.IsZero() {
		return errs.Validationf("starts_at is required")
	}
	if p.EndsAt != nil && p.EndsAt.Before(p.StartsAt) {
		return errs.Validationf("ends_at must not precede starts_at")
	}

	switch p.Type {
	case TypePercentage, TypeFixedAmount:
		if p.Value == nil || p.Value.IsNegative() {
			return errs.Validationf("%s promotions require a non-negative value", p.Type)
		}
	case TypeTierDiscount:
		if len(p.Tiers) == 0 {
			return errs.Validationf("tier_discount promotions require at least one tier")
		}
		for i, tier := range p.Tiers {
			if tier.MinQuantity <= 0 {
				return errs.Validationf("tier %d: min_quantity must be positive", i)
			}
			if i > 0 && tier.MinQuantity <= p.Tiers[i-1].MinQuantity {
				return errs.Validationf("tiers must be sorted ascending by min_quantity")
			}
		}
	case TypeBuyXGetY:
		if len(p.BXGYRules) == 0 {
			return errs.Validationf("buy_x_get_y promotions require at least one rule")
		}
		for i, rule := range p.BXGYRules {
			if rule.BuyQuantity <= 0 || rule.GetQuantity <= 0 {
				return errs.Validationf("bxgy rule %d: buy_quantity and get_quantity must be positive", i)
			}
		}
	}

	for _, t := range p.Targets {
		if !t.Kind.valid() {
			return errs.Validationf("unknown target kind %q", t.Kind)
		}
	}
	for _, e := range p.Exclusions {
		if !e.Kind.valid() {
			return errs.Validationf("unknown exclusion kind %q", e.Kind)
		}
		if e.Kind == TargetSegment {
			return errs.Validationf("segment exclusions are not supported")
		}
	}

	if p.Conditions != nil {
		if err := p.Conditions.Validate(segments.CustomerSchema); err != nil {
			return err
		}
	}
	return nil
}

// CreatePromotion validates and stores a promotion with its child
// collections in one transaction.
func (s *service) CreatePromotion(ctx context.Context, p *Promotion) (*Promotion, error) {
	if err := validatePromotion(p); err != nil {
		return nil, err
	}

	p.ID = uuid.New()
	p.Version = 1
	p.UsedCount = 0

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Dependency("begin create promotion", err)
	}
	defer tx.Rollback()

	var conditionsJSON any
	if p.Conditions != nil {
		data, err := json.Marshal(p.Conditions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conditions: %w", err)
		}
		conditionsJSON = data
	}

	query := `
		INSERT INTO promotions (id, name, code, type, value, min_purchase_amount, max_discount_amount,
		                        starts_at, ends_at, usage_limit, used_count, is_stackable, priority,
		                        conditions, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $13, 1)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		p.ID, p.Name, p.Code, p.Type, p.Value, p.MinPurchaseAmount, p.MaxDiscountAmount,
		p.StartsAt, p.EndsAt, p.UsageLimit, p.IsStackable, p.Priority, conditionsJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, &errs.ConflictError{Msg: fmt.Sprintf("promotion code %v already exists", p.Code)}
		}
		return nil, errs.Dependency("insert promotion", err)
	}

	if err := insertChildren(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Dependency("commit create promotion", err)
	}
	return p, nil
}

// UpdatePromotion replaces the promotion and its child collections behind an
// optimistic version check.
func (s *service) UpdatePromotion(ctx context.Context, id uuid.UUID, p *Promotion, version int) (*Promotion, error) {
	if err := validatePromotion(p); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Dependency("begin update promotion", err)
	}
	defer tx.Rollback()

	var conditionsJSON any
	if p.Conditions != nil {
		data, err := json.Marshal(p.Conditions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conditions: %w", err)
		}
		conditionsJSON = data
	}

	query := `
		UPDATE promotions
		SET name = $1, code = $2, type = $3, value = $4, min_purchase_amount = $5,
		    max_discount_amount = $6, starts_at = $7, ends_at = $8, usage_limit = $9,
		    is_stackable = $10, priority = $11, conditions = $12,
		    version = version + 1, updated_at = NOW()
		WHERE id = $13 AND version = $14
	`
	res, err := tx.ExecContext(ctx, query,
		p.Name, p.Code, p.Type, p.Value, p.MinPurchaseAmount, p.MaxDiscountAmount,
		p.StartsAt, p.EndsAt, p.UsageLimit, p.IsStackable, p.Priority, conditionsJSON,
		id, version,
	)
	if err != nil {
		return nil, errs.Dependency("update promotion", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errs.Dependency("update promotion", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM promotions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, errs.Dependency("check promotion", err)
		}
		if !exists {
			return nil, &errs.NotFoundError{Entity: "promotion", ID: id.String()}
		}
		return nil, &errs.ConflictError{Msg: fmt.Sprintf("promotion %s was modified concurrently", id)}
	}

	// Child collections are a wholesale replace, never a merge.
	for _, table := range []string{"promotion_targets", "promotion_exclusions", "promotion_tiers", "promotion_bxgy_rules"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE promotion_id = $1`, table), id); err != nil {
			return nil, errs.Dependency("clear promotion children", err)
		}
	}
	p.ID = id
	if err := insertChildren(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.Dependency("commit update promotion", err)
	}
	return s.GetPromotion(ctx, id)
}

func insertChildren(ctx context.Context, tx *sql.Tx, p *Promotion) error {
	for _, t := range p.Targets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_targets (promotion_id, kind, ref_id) VALUES ($1, $2, $3)
		`, p.ID, t.Kind, t.RefID); err != nil {
			return errs.Dependency("insert target", err)
		}
	}
	for _, e := range p.Exclusions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_exclusions (promotion_id, kind, ref_id) VALUES ($1, $2, $3)
		`, p.ID, e.Kind, e.RefID); err != nil {
			return errs.Dependency("insert exclusion", err)
		}
	}
	for _, tier := range p.Tiers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_tiers (promotion_id, min_quantity, discount_value) VALUES ($1, $2, $3)
		`, p.ID, tier.MinQuantity, tier.DiscountValue); err != nil {
			return errs.Dependency("insert tier", err)
		}
	}
	for _, rule := range p.BXGYRules {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_bxgy_rules (promotion_id, buy_quantity, get_quantity, buy_product_id, get_product_id, discount_percentage)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, rule.BuyQuantity, rule.GetQuantity, rule.BuyProductID, rule.GetProductID, rule.DiscountPercentage); err != nil {
			return errs.Dependency("insert bxgy rule", err)
		}
	}
	return nil
}

const promotionColumns = `
	id, name, code, type, value, min_purchase_amount, max_discount_amount,
	starts_at, ends_at, usage_limit, used_count, is_stackable, priority,
	conditions, version, created_at, updated_at
`

func scanPromotion(row interface{ Scan(...any) error }) (*Promotion, error) {
	p := &Promotion{Targets: []Target{}, Exclusions: []Exclusion{}}
	var conditionsJSON []byte
	err := row.Scan(
		&p.ID, &p.Name, &p.Code, &p.Type, &p.Value, &p.MinPurchaseAmount, &p.MaxDiscountAmount,
		&p.StartsAt, &p.EndsAt, &p.UsageLimit, &p.UsedCount, &p.IsStackable, &p.Priority,
		&conditionsJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(conditionsJSON) > 0 {
		var cr rules.Criteria
		if err := json.Unmarshal(conditionsJSON, &cr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
		p.Conditions = &cr
	}
	return p, nil
}

// GetPromotion retrieves a promotion and its child collections.
func (s *service) GetPromotion(ctx context.Context, id uuid.UUID) (*Promotion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id)
	p, err := scanPromotion(row)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFoundError{Entity: "promotion", ID: id.String()}
	}
	if err != nil {
		return nil, errs.Dependency("get promotion", err)
	}
	if err := s.loadChildren(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPromotions returns all promotions, highest priority first.
func (s *service) ListPromotions(ctx context.Context) ([]*Promotion, error) {
	return s.queryPromotions(ctx, `SELECT `+promotionColumns+` FROM promotions ORDER BY priority DESC, starts_at ASC`)
}

func (s *service) queryPromotions(ctx context.Context, query string, args ...any) ([]*Promotion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Dependency("query promotions", err)
	}
	defer rows.Close()

	var list []*Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, errs.Dependency("scan promotion", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Dependency("iterate promotions", err)
	}
	for _, p := range list {
		if err := s.loadChildren(ctx, p); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *service) loadChildren(ctx context.Context, p *Promotion) error {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, ref_id FROM promotion_targets WHERE promotion_id = $1`, p.ID)
	if err != nil {
		return errs.Dependency("query targets", err)
	}
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.Kind, &t.RefID); err != nil {
			rows.Close()
			return errs.Dependency("scan target", err)
		}
		p.Targets = append(p.Targets, t)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT kind, ref_id FROM promotion_exclusions WHERE promotion_id = $1`, p.ID)
	if err != nil {
		return errs.Dependency("query exclusions", err)
	}
	for rows.Next() {
		var e Exclusion
		if err := rows.Scan(&e.Kind, &e.RefID); err != nil {
			rows.Close()
			return errs.Dependency("scan exclusion", err)
		}
		p.Exclusions = append(p.Exclusions, e)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT min_quantity, discount_value FROM promotion_tiers
		WHERE promotion_id = $1 ORDER BY min_quantity ASC
	`, p.ID)
	if err != nil {
		return errs.Dependency("query tiers", err)
	}
	for rows.Next() {
		var tier Tier
		if err := rows.Scan(&tier.MinQuantity, &tier.DiscountValue); err != nil {
			rows.Close()
			return errs.Dependency("scan tier", err)
		}
		p.Tiers = append(p.Tiers, tier)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT buy_quantity, get_quantity, buy_product_id, get_product_id, discount_percentage
		FROM promotion_bxgy_rules WHERE promotion_id = $1
	`, p.ID)
	if err != nil {
		return errs.Dependency("query bxgy rules", err)
	}
	for rows.Next() {
		var rule BXGYRule
		if err := rows.Scan(&rule.BuyQuantity, &rule.GetQuantity, &rule.BuyProductID, &rule.GetProductID, &rule.DiscountPercentage); err != nil {
			rows.Close()
			return errs.Dependency("scan bxgy rule", err)
		}
		p.BXGYRules = append(p.BXGYRules, rule)
	}
	rows.Close()
	return nil
}

// DeletePromotion removes the promotion and its children in one transaction.
func (s *service) DeletePromotion(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Dependency("begin delete promotion", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"promotion_targets", "promotion_exclusions", "promotion_tiers", "promotion_bxgy_rules"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE promotion_id = $1`, table), id); err != nil {
			return errs.Dependency("delete promotion children", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM promotions WHERE id = $1`, id)
	if err != nil {
		return errs.Dependency("delete promotion", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.Dependency("delete promotion", err)
	}
	if affected == 0 {
		return &errs.NotFoundError{Entity: "promotion", ID: id.String()}
	}
	return tx.Commit()
}

// ApplicablePromotions loads active candidates and filters them through
// eligibility and stacking.
func (s *service) ApplicablePromotions(ctx context.Context, cart Cart, now time.Time) ([]*Promotion, error) {
	ctx, span := s.tracer.Start(ctx, "promotions.applicable",
		trace.WithAttributes(attribute.String("customer.id", cart.CustomerID.String())),
	)
	defer span.End()

	if len(cart.Items) == 0 {
		return nil, nil
	}

	candidates, err := s.queryPromotions(ctx, `
		SELECT `+promotionColumns+` FROM promotions
		WHERE starts_at <= $1 AND (ends_at IS NULL OR ends_at >= $1)
		ORDER BY priority DESC, starts_at ASC
	`, now)
	if err != nil {
		return nil, err
	}

	cust, err := s.customerContext(ctx, cart.CustomerID)
	if err != nil {
		return nil, err
	}

	var eligible []*Promotion
	for _, p := range candidates {
		ok, err := Eligible(p, cart, cust, now)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = append(eligible, p)
		}
	}

	applied := SelectStacking(eligible)
	span.SetAttributes(
		attribute.Int("candidates.count", len(candidates)),
		attribute.Int("applied.count", len(applied)),
	)
	return applied, nil
}

func (s *service) customerContext(ctx context.Context, customerID uuid.UUID) (CustomerContext, error) {
	var (
		email, name      sql.NullString
		city, country    sql.NullString
		totalSpent       sql.NullFloat64
		totalOrders      sql.NullInt64
		acceptsMarketing sql.NullBool
		createdAt        time.Time
		lastOrderAt      sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT email, name, city, country, total_spent, total_orders,
		       accepts_marketing, created_at, last_order_at
		FROM customers WHERE id = $1
	`, customerID).Scan(&email, &name, &city, &country, &totalSpent, &totalOrders, &acceptsMarketing, &createdAt, &lastOrderAt)
	if err == sql.ErrNoRows {
		return CustomerContext{}, &errs.NotFoundError{Entity: "customer", ID: customerID.String()}
	}
	if err != nil {
		return CustomerContext{}, errs.Dependency("load customer", err)
	}

	rec := rules.Record{"created_at": createdAt}
	if email.Valid {
		rec["email"] = email.String
	}
	if name.Valid {
		rec["name"] = name.String
	}
	if city.Valid {
		rec["city"] = city.String
	}
	if country.Valid {
		rec["country"] = country.String
	}
	if totalSpent.Valid {
		rec["total_spent"] = totalSpent.Float64
	}
	if totalOrders.Valid {
		rec["total_orders"] = totalOrders.Int64
	}
	if acceptsMarketing.Valid {
		rec["accepts_marketing"] = acceptsMarketing.Bool
	}
	if lastOrderAt.Valid {
		rec["last_order_at"] = lastOrderAt.Time
	}

	segmentIDs, err := s.segments.SegmentsForCustomer(ctx, customerID)
	if err != nil {
		return CustomerContext{}, errs.Dependency("lookup customer segments", err)
	}
	return CustomerContext{Record: rec, SegmentIDs: segmentIDs}, nil
}

// ComputeOrderDiscount prices the cart without consuming usage.
func (s *service) ComputeOrderDiscount(ctx context.Context, cart Cart, now time.Time) (*OrderDiscount, error) {
	applied, err := s.ApplicablePromotions(ctx, cart, now)
	if err != nil {
		return nil, err
	}
	result := ComputeOrderDiscount(applied, cart)
	return &result, nil
}

// ApplyOrderDiscounts finalizes the discount at checkout: usage counters for
// every applying promotion are consumed in one transaction, then loyalty
// points are awarded for the discounted total. A failed accrual rolls the
// usage back before the error surfaces.
func (s *service) ApplyOrderDiscounts(ctx context.Context, cart Cart, orderID uuid.UUID, now time.Time) (*OrderDiscount, error) {
	ctx, span := s.tracer.Start(ctx, "promotions.apply_order",
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
	defer span.End()

	applied, err := s.ApplicablePromotions(ctx, cart, now)
	if err != nil {
		return nil, err
	}
	result := ComputeOrderDiscount(applied, cart)

	if len(result.Applied) > 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, errs.Dependency("begin apply discounts", err)
		}
		defer tx.Rollback()

		for _, d := range result.Applied {
			res, err := tx.ExecContext(ctx, `
				UPDATE promotions
				SET used_count = used_count + 1, updated_at = NOW()
				WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
			`, d.PromotionID)
			if err != nil {
				return nil, errs.Dependency("consume promotion usage", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, errs.Dependency("consume promotion usage", err)
			}
			if affected == 0 {
				// Another checkout exhausted the promotion between
				// computation and consumption.
				return nil, &errs.ConflictError{Msg: fmt.Sprintf("promotion %s usage exhausted", d.PromotionID)}
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, errs.Dependency("commit apply discounts", err)
		}
	}

	points := cart.Total().Sub(result.Total).IntPart()
	if points > 0 {
		if err := s.loyalty.AwardOrderPoints(ctx, cart.CustomerID, points, orderID); err != nil {
			s.compensateUsage(ctx, result.Applied)
			return nil, errs.Dependency("award loyalty points", err)
		}
	}

	span.SetAttributes(attribute.String("discount.total", result.Total.String()))
	return &result, nil
}

func (s *service) compensateUsage(ctx context.Context, applied []AppliedDiscount) {
	for _, d := range applied {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE promotions SET used_count = used_count - 1, updated_at = NOW()
			WHERE id = $1 AND used_count > 0
		`, d.PromotionID); err != nil {
			log.Printf("failed to compensate usage for promotion %s: %v", d.PromotionID, err)
		}
	}
}
