package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/crm-insights/internal/dashboard"
	"github.com/sells-group/crm-insights/internal/model"
)

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "0.00", formatMoney(0))
	assert.Equal(t, "1,234.50", formatMoney(1234.5))
	assert.Equal(t, "1,000,000.00", formatMoney(1e6))
}

func TestFormatReport(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.Local)
	v := &dashboard.View{
		Criteria: model.FilterCriteria{Window: model.Window{Start: &start, End: &end}, Source: "Site"},
		Metrics: model.DerivedMetrics{
			Funnel:    model.Funnel{TotalLeads: 40, TotalDeals: 10, WonDeals: 4, LeadToDeal: 25, DealToWon: 40, LeadToWon: 10},
			Financial: model.Financial{Revenue: 12500, Pipeline: 3000},
			Pacing: []model.ChannelPacing{
				{Channel: "Site", Metric: model.PacingRevenue, Target: 20000, Realized: 12500, Progress: 62.5, ExpectedProgress: 48.4},
			},
			Sellers: []model.SellerTotal{
				{Name: "Bia", Count: 1, Value: 2500},
				{Name: "Ana", Count: 3, Value: 10000},
			},
			Segments: []model.SegmentTotal{
				{Category: model.CategoryProject, WonDeals: 2, Revenue: 9000, OpenDeals: 1, Pipeline: 1234.5},
			},
			Traceability: model.Traceability{
				Total:     10,
				Traced:    7,
				TracedPct: 70,
				ByTier:    map[model.MatchTier]int{model.TierExactReference: 5, model.TierLocalPhone: 2, model.TierUnmatched: 3},
			},
		},
	}

	var buf bytes.Buffer
	formatReport(&buf, v)
	out := buf.String()

	assert.Contains(t, out, "[2025-03-01, 2025-03-31]")
	assert.Contains(t, out, "source=Site region=all")
	assert.Contains(t, out, "12,500.00")
	assert.Contains(t, out, "62.5%")
	assert.Contains(t, out, "exact-reference:")
	assert.Contains(t, out, "7/10")
	assert.Contains(t, out, "--- Segments ---")
	assert.Contains(t, out, "1,234.50")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Ana")), bytes.Index(buf.Bytes(), []byte("Bia")), "sellers ranked by value")
}
