// Package metrics derives dashboard KPIs from segmented and reconciled
// records. Every function is pure; ratios guard against division by zero and
// report 0 instead of NaN.
package metrics

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/crm-insights/internal/catalog"
	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/segment"
)

// NotAvailable buckets records with no value for the grouping field.
const NotAvailable = "N/A"

// Funnel counts leads, deals and wins and the conversion between them.
// Deals in the window stand in for leads that progressed.
func Funnel(leads []model.Lead, deals []model.Deal) model.Funnel {
	f := model.Funnel{TotalLeads: len(leads), TotalDeals: len(deals)}
	for _, d := range deals {
		if d.Status == model.DealStatusWon {
			f.WonDeals++
			f.WonValue += d.Value
		}
	}
	f.LeadToDeal = Percent(float64(f.TotalDeals), float64(f.TotalLeads))
	f.DealToWon = Percent(float64(f.WonDeals), float64(f.TotalDeals))
	f.LeadToWon = Percent(float64(f.WonDeals), float64(f.TotalLeads))
	return f
}

// Financial sums deal values per status. realized holds deals bucketed on
// their revenue date and supplies won and lost totals; created holds deals
// bucketed on creation date and supplies open pipeline.
func Financial(realized, created segment.DealBuckets) model.Financial {
	f := model.Financial{
		Revenue:   sum(realized.Won),
		Lost:      sum(realized.Lost),
		Pipeline:  sum(created.Open),
		WonCount:  len(realized.Won),
		LostCount: len(realized.Lost),
		OpenCount: len(created.Open),
	}
	f.AvgTicket = safeDiv(f.Revenue, float64(f.WonCount))
	return f
}

// Segments breaks revenue and pipeline down by deal category. Every
// category is present, in model.Categories order.
func Segments(realized, created segment.DealBuckets) []model.SegmentTotal {
	out := make([]model.SegmentTotal, 0, len(model.Categories))
	for _, c := range model.Categories {
		st := model.SegmentTotal{Category: c}
		for _, d := range realized.ByCategory(c) {
			if d.Status == model.DealStatusWon {
				st.WonDeals++
				st.Revenue += d.Value
			}
		}
		for _, d := range created.ByCategory(c) {
			if d.Status != model.DealStatusWon && d.Status != model.DealStatusLost {
				st.OpenDeals++
				st.Pipeline += d.Value
			}
		}
		out = append(out, st)
	}
	return out
}

// Leads summarizes lead buckets. Channel counts use friendly source names.
func Leads(b segment.LeadBuckets, cat *catalog.Catalog) model.LeadKPIs {
	k := model.LeadKPIs{
		Total:     b.Total(),
		Active:    len(b.Active),
		Discarded: len(b.Discarded),
		Converted: len(b.Converted),
	}
	k.ConversionRate = Percent(float64(k.Converted), float64(k.Total))
	k.DiscardRate = Percent(float64(k.Discarded), float64(k.Total))

	reasons := map[string]int{}
	for _, l := range b.Discarded {
		reasons[orNA(l.DiscardReason)]++
	}
	k.DiscardReasons = ranked(reasons)

	channels := map[string]int{}
	for _, group := range [][]model.Lead{b.Active, b.Discarded, b.Converted} {
		for _, l := range group {
			channels[cat.FriendlySource(l.Source)]++
		}
	}
	k.ByChannel = ranked(channels)
	return k
}

// Sellers groups won deals by salesperson, highest value first.
func Sellers(won []model.Deal) []model.SellerTotal {
	by := map[string]*model.SellerTotal{}
	for _, d := range won {
		name := orNA(d.AssignedTo)
		s, ok := by[name]
		if !ok {
			s = &model.SellerTotal{Name: name}
			by[name] = s
		}
		s.Count++
		s.Value += d.Value
	}

	out := make([]model.SellerTotal, 0, len(by))
	for _, s := range by {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Traceability counts reconciliation records per tier.
func Traceability(records []model.ReconciliationRecord) model.Traceability {
	t := model.Traceability{
		Total:  len(records),
		ByTier: make(map[model.MatchTier]int, len(model.Tiers)),
	}
	for _, tier := range model.Tiers {
		t.ByTier[tier] = 0
	}
	for _, r := range records {
		t.ByTier[r.Tier]++
		if r.Tier.Matched() {
			t.Traced++
		}
	}
	t.TracedPct = Percent(float64(t.Traced), float64(t.Total))
	return t
}

// Percent returns part/whole*100 rounded to one decimal, or 0 when whole is 0.
func Percent(part, whole float64) float64 {
	return Round1(safeDiv(part, whole) * 100)
}

// Round1 rounds to one decimal place.
func Round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func safeDiv(a, b float64) float64 {
	if b == 0 || math.IsNaN(a) || math.IsNaN(b) {
		return 0
	}
	r := a / b
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return 0
	}
	return r
}

func sum(deals []model.Deal) float64 {
	var total float64
	for _, d := range deals {
		total += d.Value
	}
	return total
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return NotAvailable
	}
	return s
}

func ranked(counts map[string]int) []model.NamedCount {
	out := make([]model.NamedCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, model.NamedCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
