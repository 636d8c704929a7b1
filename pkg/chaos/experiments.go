// pkg/chaos/experiments.go
package chaos

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/pkg/ledger"
)

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (e *Engine) RegisterExperiments() {
	e.Register(e.ConcurrentRedemptionExperiment(50))
	e.Register(e.PromotionOversellExperiment())
	e.Register(e.SegmentRefreshConsistencyExperiment())
	e.Register(e.ConnectionPoolExhaustionExperiment())
}

// ConcurrentRedemptionExperiment hammers one loyalty account with concurrent
// redemptions that jointly overdraw it.
func (e *Engine) ConcurrentRedemptionExperiment(concurrency int) Experiment {
	return Experiment{
		Name:       "concurrent-redemption-overdraw",
		Hypothesis: "Row locking keeps every points balance non-negative under concurrent redemptions",
		SteadyState: []Metric{
			{
				Name: "negative_balances",
				Query: func(ctx context.Context) (float64, error) {
					var count int
					err := e.db.QueryRowContext(ctx, `
						SELECT COUNT(*) FROM loyalty_program WHERE points_balance < 0
					`).Scan(&count)
					return float64(count), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "loyalty-service",
				Parameters: map[string]interface{}{
					"concurrency": concurrency,
				},
				Execute: func(ctx context.Context) error {
					l := ledger.New(e.db, nil)
					customerID := uuid.New()
					if _, err := l.Append(ctx, customerID, 100, "manual_adjustment", "chaos seed", nil); err != nil {
						return err
					}

					// Each redemption is affordable alone; together they
					// overdraw the account many times over.
					var wg sync.WaitGroup
					for i := 0; i < concurrency; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							l.Append(ctx, customerID, -80, "points_redemption", "chaos redemption", nil)
						}()
					}
					wg.Wait()
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "negative_balances",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No account may go negative",
			},
		},
		Duration:    30 * time.Second,
		BlastRadius: 0.1,
	}
}

// PromotionOversellExperiment races checkouts against a promotion's usage
// limit.
func (e *Engine) PromotionOversellExperiment() Experiment {
	return Experiment{
		Name:       "promotion-usage-oversell",
		Hypothesis: "Guarded counter updates keep used_count within usage_limit under concurrent checkouts",
		SteadyState: []Metric{
			{
				Name: "oversold_promotions",
				Query: func(ctx context.Context) (float64, error) {
					var count int
					err := e.db.QueryRowContext(ctx, `
						SELECT COUNT(*) FROM promotions
						WHERE usage_limit IS NOT NULL AND used_count > usage_limit
					`).Scan(&count)
					return float64(count), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "promotions-service",
				Parameters: map[string]interface{}{
					"concurrency": 100,
				},
				Execute: func(ctx context.Context) error {
					// Every worker runs the same guarded increment the
					// checkout path uses; only usage_limit of them may land.
					promotionID := uuid.New()
					_, err := e.db.ExecContext(ctx, `
						INSERT INTO promotions (id, name, type, starts_at, usage_limit, used_count, is_stackable, priority, version)
						VALUES ($1, 'chaos oversell probe', 'percentage', NOW(), 10, 0, false, 0, 1)
					`, promotionID)
					if err != nil {
						return err
					}

					var wg sync.WaitGroup
					for i := 0; i < 100; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							e.db.ExecContext(ctx, `
								UPDATE promotions SET used_count = used_count + 1
								WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
							`, promotionID)
						}()
					}
					wg.Wait()
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "cleanup",
				Target: "promotions-service",
				Execute: func(ctx context.Context) error {
					_, err := e.db.ExecContext(ctx, `DELETE FROM promotions WHERE name = 'chaos oversell probe'`)
					return err
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "oversold_promotions",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "used_count must never exceed usage_limit",
			},
		},
		Duration:    30 * time.Second,
		BlastRadius: 0.1,
	}
}

// SegmentRefreshConsistencyExperiment checks that concurrent refreshes of the
// same segment leave no duplicate or stale memberships behind.
func (e *Engine) SegmentRefreshConsistencyExperiment() Experiment {
	return Experiment{
		Name:       "segment-refresh-consistency",
		Hypothesis: "The advisory lock serializes refreshes, so memberships stay duplicate-free",
		SteadyState: []Metric{
			{
				Name: "duplicate_memberships",
				Query: func(ctx context.Context) (float64, error) {
					var count int
					err := e.db.QueryRowContext(ctx, `
						SELECT COUNT(*) FROM (
							SELECT customer_id, segment_id
							FROM customer_segment_memberships
							GROUP BY customer_id, segment_id
							HAVING COUNT(*) > 1
						) dupes
					`).Scan(&count)
					return float64(count), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "segments-service",
				Parameters: map[string]interface{}{
					"concurrency": 10,
				},
				Execute: func(ctx context.Context) error {
					// Refresh collisions are driven through the HTTP surface
					// during game days; here the probe only samples the
					// membership table while operators trigger refreshes.
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "duplicate_memberships",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No (customer, segment) pair may appear twice",
			},
		},
		Duration:    1 * time.Minute,
		BlastRadius: 0.3,
	}
}

// ConnectionPoolExhaustionExperiment holds connections open and watches the
// checkout error rate.
func (e *Engine) ConnectionPoolExhaustionExperiment() Experiment {
	return Experiment{
		Name:       "database-connection-pool-exhaustion",
		Hypothesis: "Checkout requests queue rather than fail when the connection pool is exhausted",
		SteadyState: []Metric{
			{
				Name: "db_reachable",
				Query: func(ctx context.Context) (float64, error) {
					var one float64
					err := e.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
					return one, err
				},
				Threshold: Threshold{Operator: "==", Value: 1.0},
			},
		},
		Method: []Action{
			{
				Type:   "exhaust-connections",
				Target: "postgres-connection-pool",
				Execute: func(ctx context.Context) error {
					conns := make([]*sql.Conn, 0)
					for i := 0; i < 100; i++ {
						conn, err := e.db.Conn(ctx)
						if err != nil {
							break
						}
						conns = append(conns, conn)
					}
					// Hold connections for part of the observation window.
					time.Sleep(30 * time.Second)
					for _, conn := range conns {
						conn.Close()
					}
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "db_reachable",
				Condition: func(v float64) bool { return v == 1.0 },
				Message:   "The database must answer once connections are released",
			},
		},
		Duration:    2 * time.Minute,
		BlastRadius: 1.0,
	}
}
