// internal/segments/implementation.go
package segments

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
	"golang.org/x/time/rate"

	"storefront/internal/errs"
	"storefront/internal/rules"
)

// ErrRateLimited is returned when preview requests arrive faster than the
// service is willing to scan the customer table.
var ErrRateLimited = errors.New("rate limit exceeded")

// service implements the Service interface.
type service struct {
	db             *sql.DB
	tracer         trace.Tracer
	previewLimiter *rate.Limiter
}

// NewService creates a new segments service instance.
func NewService(db *sql.DB) Service {
	return &service{
		db:     db,
		tracer: otel.Tracer("storefront/segments"),
		// Preview scans the whole customer table; 10 per minute is plenty
		// for an admin screen.
		previewLimiter: rate.NewLimiter(rate.Every(6*time.Second), 10),
	}
}

// CreateSegment validates and stores a segment, then resolves its membership
// immediately.
func (s *service) CreateSegment(ctx context.Context, name string, description *string, criteria rules.Criteria) (*Segment, error) {
	if name == "" {
		return nil, errs.Validationf("segment name is required")
	}
	if err := criteria.Validate(CustomerSchema); err != nil {
		return nil, err
	}

	seg := &Segment{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Criteria:    criteria,
		Version:     1,
	}

	criteriaJSON, err := marshalCriteria(criteria)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO customer_segments (id, name, description, criteria, version)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, seg.ID, seg.Name, seg.Description, criteriaJSON, seg.Version).
		Scan(&seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, &errs.ConflictError{Msg: fmt.Sprintf("segment name %q already exists", name)}
		}
		return nil, errs.Dependency("insert segment", err)
	}

	if _, err := s.Refresh(ctx, seg.ID); err != nil {
		return nil, err
	}
	return seg, nil
}

// UpdateSegment replaces a segment's definition behind an optimistic version
// check, then recomputes membership from scratch. Memberships are a cache of
// the stored criteria and are never patched incrementally.
func (s *service) UpdateSegment(ctx context.Context, id uuid.UUID, name string, description *string, criteria rules.Criteria, version int) (*Segment, error) {
	if name == "" {
		return nil, errs.Validationf("segment name is required")
	}
	if err := criteria.Validate(CustomerSchema); err != nil {
		return nil, err
	}

	criteriaJSON, err := marshalCriteria(criteria)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE customer_segments
		SET name = $1, description = $2, criteria = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
	`
	res, err := s.db.ExecContext(ctx, query, name, description, criteriaJSON, id, version)
	if err != nil {
		return nil, errs.Dependency("update segment", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errs.Dependency("update segment", err)
	}
	if affected == 0 {
		if _, err := s.GetSegment(ctx, id); err != nil {
			return nil, err
		}
		return nil, &errs.ConflictError{Msg: fmt.Sprintf("segment %s was modified concurrently", id)}
	}

	if _, err := s.Refresh(ctx, id); err != nil {
		return nil, err
	}
	return s.GetSegment(ctx, id)
}

// GetSegment retrieves a segment by its ID.
func (s *service) GetSegment(ctx context.Context, id uuid.UUID) (*Segment, error) {
	query := `
		SELECT id, name, description, criteria, version, created_at, updated_at
		FROM customer_segments
		WHERE id = $1
	`
	seg := &Segment{}
	var criteriaJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&seg.ID,
		&seg.Name,
		&seg.Description,
		&criteriaJSON,
		&seg.Version,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &errs.NotFoundError{Entity: "segment", ID: id.String()}
	}
	if err != nil {
		return nil, errs.Dependency("get segment", err)
	}
	if seg.Criteria, err = unmarshalCriteria(criteriaJSON); err != nil {
		return nil, err
	}
	return seg, nil
}

// ListSegments returns all segments, newest first.
func (s *service) ListSegments(ctx context.Context) ([]*Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, criteria, version, created_at, updated_at
		FROM customer_segments
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, errs.Dependency("list segments", err)
	}
	defer rows.Close()

	var list []*Segment
	for rows.Next() {
		seg := &Segment{}
		var criteriaJSON []byte
		if err := rows.Scan(&seg.ID, &seg.Name, &seg.Description, &criteriaJSON, &seg.Version, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
			return nil, errs.Dependency("scan segment", err)
		}
		if seg.Criteria, err = unmarshalCriteria(criteriaJSON); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Dependency("iterate segments", err)
	}
	return list, nil
}

// DeleteSegment removes the segment and its membership cache in one
// transaction.
func (s *service) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Dependency("begin delete segment", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM customer_segment_memberships WHERE segment_id = $1`, id); err != nil {
		return errs.Dependency("delete memberships", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM customer_segments WHERE id = $1`, id)
	if err != nil {
		return errs.Dependency("delete segment", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.Dependency("delete segment", err)
	}
	if affected == 0 {
		return &errs.NotFoundError{Entity: "segment", ID: id.String()}
	}
	if err := tx.Commit(); err != nil {
		return errs.Dependency("commit delete segment", err)
	}
	return nil
}

// Refresh recomputes the membership set as delete-all-then-reinsert inside a
// single transaction. A per-segment advisory lock serializes refreshes of the
// same segment; different segments proceed in parallel. Either the old set or
// the new set is visible, never a mix.
func (s *service) Refresh(ctx context.Context, id uuid.UUID) (int, error) {
	ctx, span := s.tracer.Start(ctx, "segments.refresh",
		trace.WithAttributes(attribute.String("segment.id", id.String())),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Dependency("begin refresh", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "segment_refresh:"+id.String()); err != nil {
		return 0, errs.Dependency("acquire refresh lock", err)
	}

	var criteriaJSON []byte
	err = tx.QueryRowContext(ctx, `SELECT criteria FROM customer_segments WHERE id = $1`, id).Scan(&criteriaJSON)
	if err == sql.ErrNoRows {
		return 0, &errs.NotFoundError{Entity: "segment", ID: id.String()}
	}
	if err != nil {
		return 0, errs.Dependency("load segment criteria", err)
	}
	criteria, err := unmarshalCriteria(criteriaJSON)
	if err != nil {
		return 0, err
	}

	where, args, err := rules.SQLFilter(criteria, CustomerSchema)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM customer_segment_memberships WHERE segment_id = $1`, id); err != nil {
		return 0, errs.Dependency("clear memberships", err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO customer_segment_memberships (customer_id, segment_id)
		SELECT id, $%d FROM customers WHERE %s
	`, len(args)+1, where)
	res, err := tx.ExecContext(ctx, insert, append(args, id)...)
	if err != nil {
		return 0, errs.Dependency("insert memberships", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Dependency("insert memberships", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.Dependency("commit refresh", err)
	}

	span.SetAttributes(attribute.Int64("members.count", inserted))
	return int(inserted), nil
}

// SegmentsForCustomer returns the segment ids the customer currently belongs to.
func (s *service) SegmentsForCustomer(ctx context.Context, customerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id FROM customer_segment_memberships WHERE customer_id = $1
	`, customerID)
	if err != nil {
		return nil, errs.Dependency("query memberships", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Dependency("scan membership", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Dependency("iterate memberships", err)
	}
	return ids, nil
}

// Preview evaluates criteria per candidate with the in-memory predicate,
// then aggregates the matched customers' order history.
func (s *service) Preview(ctx context.Context, criteria rules.Criteria) (*Preview, error) {
	if !s.previewLimiter.Allow() {
		return nil, ErrRateLimited
	}

	ctx, span := s.tracer.Start(ctx, "segments.preview")
	defer span.End()

	pred, err := rules.Compile(criteria, CustomerSchema)
	if err != nil {
		return nil, err
	}

	matched, err := s.resolveInMemory(ctx, pred)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("matched.count", len(matched)))

	if len(matched) == 0 {
		return &Preview{
			TopProducts:       []RankedItem{},
			TopCategories:     []RankedItem{},
			AverageOrderValue: zeroMoney(),
			TotalRevenue:      zeroMoney(),
		}, nil
	}

	orders, err := s.loadOrders(ctx, matched)
	if err != nil {
		return nil, err
	}
	lines, err := s.loadOrderLines(ctx, matched)
	if err != nil {
		return nil, err
	}

	return buildPreview(len(matched), orders, lines), nil
}

func (s *service) resolveInMemory(ctx context.Context, pred rules.Predicate) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, city, country, total_spent, total_orders,
		       accepts_marketing, created_at, last_order_at
		FROM customers
	`)
	if err != nil {
		return nil, errs.Dependency("scan customers", err)
	}
	defer rows.Close()

	var matched []uuid.UUID
	for rows.Next() {
		var (
			id               uuid.UUID
			email, name      sql.NullString
			city, country    sql.NullString
			totalSpent       sql.NullFloat64
			totalOrders      sql.NullInt64
			acceptsMarketing sql.NullBool
			createdAt        time.Time
			lastOrderAt      sql.NullTime
		)
		if err := rows.Scan(&id, &email, &name, &city, &country, &totalSpent, &totalOrders, &acceptsMarketing, &createdAt, &lastOrderAt); err != nil {
			return nil, errs.Dependency("scan customer", err)
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

		ok, err := pred(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Dependency("iterate customers", err)
	}
	return matched, nil
}

func (s *service) loadOrders(ctx context.Context, customerIDs []uuid.UUID) ([]orderStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, total, created_at
		FROM orders
		WHERE customer_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, pq.Array(customerIDs))
	if err != nil {
		return nil, errs.Dependency("query orders", err)
	}
	defer rows.Close()

	var orders []orderStat
	for rows.Next() {
		var o orderStat
		if err := rows.Scan(&o.ID, &o.Total, &o.CreatedAt); err != nil {
			return nil, errs.Dependency("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Dependency("iterate orders", err)
	}
	return orders, nil
}

func (s *service) loadOrderLines(ctx context.Context, customerIDs []uuid.UUID) ([]orderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.product_id, p.category_id
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		WHERE o.customer_id = ANY($1)
		ORDER BY o.created_at ASC, o.id ASC, oi.id ASC
	`, pq.Array(customerIDs))
	if err != nil {
		return nil, errs.Dependency("query order items", err)
	}
	defer rows.Close()

	var lines []orderLine
	for rows.Next() {
		var l orderLine
		var categoryID uuid.NullUUID
		if err := rows.Scan(&l.ProductID, &categoryID); err != nil {
			return nil, errs.Dependency("scan order item", err)
		}
		if categoryID.Valid {
			l.CategoryID = &categoryID.UUID
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Dependency("iterate order items", err)
	}
	return lines, nil
}
