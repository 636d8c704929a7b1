package segments

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestBuildPreviewNoOrders(t *testing.T) {
	p := buildPreview(3, nil, nil)

	assert.Equal(t, 3, p.EstimatedSize)
	assert.True(t, p.AverageOrderValue.IsZero(), "average must be zero, not NaN, with no orders")
	assert.True(t, p.TotalRevenue.IsZero())
	assert.Zero(t, p.OrderFrequency)
	assert.Empty(t, p.TopProducts)
	assert.Empty(t, p.TopCategories)
}

func TestBuildPreviewRevenueAndFrequency(t *testing.T) {
	orders := []orderStat{
		{ID: uuid.New(), Total: decimal.NewFromInt(100), CreatedAt: day(0)},
		{ID: uuid.New(), Total: decimal.NewFromInt(50), CreatedAt: day(2)},
		{ID: uuid.New(), Total: decimal.NewFromInt(30), CreatedAt: day(6)},
	}

	p := buildPreview(2, orders, nil)

	assert.True(t, p.TotalRevenue.Equal(decimal.NewFromInt(180)), "got %s", p.TotalRevenue)
	assert.True(t, p.AverageOrderValue.Equal(decimal.NewFromInt(60)), "got %s", p.AverageOrderValue)
	// Gaps of 2 and 4 days.
	assert.InDelta(t, 3.0, p.OrderFrequency, 1e-9)
}

func TestBuildPreviewSingleOrderFrequencyZero(t *testing.T) {
	orders := []orderStat{{ID: uuid.New(), Total: decimal.NewFromInt(10), CreatedAt: day(0)}}
	p := buildPreview(1, orders, nil)
	assert.Zero(t, p.OrderFrequency, "fewer than two orders means no frequency")
}

func TestBuildPreviewTopRankingAndTieBreak(t *testing.T) {
	catA, catB := uuid.New(), uuid.New()
	prods := make([]uuid.UUID, 7)
	for i := range prods {
		prods[i] = uuid.New()
	}

	var lines []orderLine
	// prods[0] appears 3 times, prods[1] and prods[2] twice each with
	// prods[1] seen first, the rest once.
	lines = append(lines,
		orderLine{ProductID: prods[0], CategoryID: &catA},
		orderLine{ProductID: prods[1], CategoryID: &catA},
		orderLine{ProductID: prods[2], CategoryID: &catB},
		orderLine{ProductID: prods[0], CategoryID: &catA},
		orderLine{ProductID: prods[1], CategoryID: &catB},
		orderLine{ProductID: prods[2], CategoryID: &catB},
		orderLine{ProductID: prods[0], CategoryID: &catA},
	)
	for _, p := range prods[3:] {
		lines = append(lines, orderLine{ProductID: p, CategoryID: nil})
	}

	p := buildPreview(5, nil, lines)

	require.Len(t, p.TopProducts, 5, "top list is capped at five")
	assert.Equal(t, prods[0], p.TopProducts[0].ID)
	assert.Equal(t, 3, p.TopProducts[0].OrderCount)
	assert.Equal(t, prods[1], p.TopProducts[1].ID, "tie broken by first encounter")
	assert.Equal(t, prods[2], p.TopProducts[2].ID)
	assert.Equal(t, prods[3], p.TopProducts[3].ID)
	assert.Equal(t, prods[4], p.TopProducts[4].ID)

	require.Len(t, p.TopCategories, 2)
	assert.Equal(t, catA, p.TopCategories[0].ID)
	assert.Equal(t, 4, p.TopCategories[0].OrderCount)
	assert.Equal(t, catB, p.TopCategories[1].ID)
	assert.Equal(t, 3, p.TopCategories[1].OrderCount)
}
