// internal/segments/preview.go
package segments

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type orderStat struct {
	ID        uuid.UUID
	Total     decimal.Decimal
	CreatedAt time.Time
}

// orderLine is one order item row, already ordered by the order it was
// encountered in. That ordering is what breaks ranking ties.
type orderLine struct {
	ProductID  uuid.UUID
	CategoryID *uuid.UUID
}

func zeroMoney() decimal.Decimal { return decimal.Zero }

// buildPreview aggregates matched customers' order history. Orders must be
// sorted ascending by creation time.
func buildPreview(matchedCount int, orders []orderStat, lines []orderLine) *Preview {
	p := &Preview{
		EstimatedSize: matchedCount,
		TopProducts:   []RankedItem{},
		TopCategories: []RankedItem{},
		TotalRevenue:  decimal.Zero,
	}

	for _, o := range orders {
		p.TotalRevenue = p.TotalRevenue.Add(o.Total)
	}
	if len(orders) > 0 {
		p.AverageOrderValue = p.TotalRevenue.DivRound(decimal.NewFromInt(int64(len(orders))), 2)
	} else {
		p.AverageOrderValue = decimal.Zero
	}

	// Mean days between consecutive orders; zero rather than NaN for fewer
	// than two orders.
	if len(orders) >= 2 {
		var totalDays float64
		for i := 1; i < len(orders); i++ {
			totalDays += orders[i].CreatedAt.Sub(orders[i-1].CreatedAt).Hours() / 24
		}
		p.OrderFrequency = totalDays / float64(len(orders)-1)
	}

	p.TopProducts = rankTop(lines, func(l orderLine) (uuid.UUID, bool) {
		return l.ProductID, true
	})
	p.TopCategories = rankTop(lines, func(l orderLine) (uuid.UUID, bool) {
		if l.CategoryID == nil {
			return uuid.Nil, false
		}
		return *l.CategoryID, true
	})
	return p
}

// rankTop counts line occurrences per key and returns the five most frequent,
// descending, with ties going to the key seen in the earliest order line.
func rankTop(lines []orderLine, key func(orderLine) (uuid.UUID, bool)) []RankedItem {
	counts := make(map[uuid.UUID]int)
	firstSeen := make(map[uuid.UUID]int)

	for i, l := range lines {
		k, ok := key(l)
		if !ok {
			continue
		}
		if _, seen := counts[k]; !seen {
			firstSeen[k] = i
		}
		counts[k]++
	}

	ranked := make([]RankedItem, 0, len(counts))
	for k, n := range counts {
		ranked = append(ranked, RankedItem{ID: k, OrderCount: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].OrderCount != ranked[j].OrderCount {
			return ranked[i].OrderCount > ranked[j].OrderCount
		}
		return firstSeen[ranked[i].ID] < firstSeen[ranked[j].ID]
	})

	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	return ranked
}
