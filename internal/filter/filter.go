// Package filter restricts lead and deal sets to a time window and a set of
// categorical filters. Every function is pure and order-preserving.
package filter

import (
	"strings"

	"github.com/sells-group/crm-insights/internal/catalog"
	"github.com/sells-group/crm-insights/internal/model"
)

// MetaChannel is a synthetic source filter value that matches every channel
// whose name mentions Facebook or Instagram.
const MetaChannel = "Meta"

var metaNeedles = []string{"facebook", "instagram"}

// DateBasis selects which deal date the time window applies to.
type DateBasis int

const (
	// BasisCreated filters deals by creation date (pipeline metrics).
	BasisCreated DateBasis = iota
	// BasisRevenue filters deals by closing date when present, creation
	// date otherwise (realized revenue metrics).
	BasisRevenue
)

// Engine applies filter criteria using a catalog for source and region
// lookups.
type Engine struct {
	catalog *catalog.Catalog
}

// New returns an Engine. A nil catalog uses the default tables.
func New(c *catalog.Catalog) *Engine {
	if c == nil {
		c = catalog.Default()
	}
	return &Engine{catalog: c}
}

// Result holds the filtered record sets for one criteria.
type Result struct {
	Leads []model.Lead
	// PipelineDeals are deals created inside the window.
	PipelineDeals []model.Deal
	// RevenueDeals are deals whose revenue date falls inside the window.
	RevenueDeals []model.Deal
}

// Apply filters a batch for both deal date bases.
func (e *Engine) Apply(b model.Batch, c model.FilterCriteria) Result {
	return Result{
		Leads:         e.Leads(b.Leads, c),
		PipelineDeals: e.Deals(b.Deals, c, BasisCreated),
		RevenueDeals:  e.Deals(b.Deals, c, BasisRevenue),
	}
}

// Leads keeps leads created inside the window that pass the source, region
// and state filters. Leads carry no segment, so the segment filter does not
// apply to them.
func (e *Engine) Leads(leads []model.Lead, c model.FilterCriteria) []model.Lead {
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		if !c.Window.Contains(l.CreatedAt) {
			continue
		}
		if !e.common(l.Source, l.State, c) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Deals keeps deals whose basis date is inside the window and that pass
// every categorical filter.
func (e *Engine) Deals(deals []model.Deal, c model.FilterCriteria, basis DateBasis) []model.Deal {
	out := make([]model.Deal, 0, len(deals))
	for _, d := range deals {
		when := d.CreatedAt
		if basis == BasisRevenue {
			when = d.RevenueDate()
		}
		if !c.Window.Contains(when) {
			continue
		}
		if !e.common(d.Source, d.State, c) {
			continue
		}
		if active(c.Segment) && string(e.catalog.Category(d.CategoryCode)) != c.Segment {
			continue
		}
		out = append(out, d)
	}
	return out
}

// SourceMatches reports whether a raw source code passes a source filter
// value. Comparison is on the friendly channel name so codes sharing a name
// are one filter value.
func (e *Engine) SourceMatches(raw, want string) bool {
	if !active(want) {
		return true
	}
	friendly := catalog.Fold(e.catalog.FriendlySource(raw))
	if strings.EqualFold(strings.TrimSpace(want), MetaChannel) {
		for _, needle := range metaNeedles {
			if strings.Contains(friendly, needle) {
				return true
			}
		}
		return false
	}
	return friendly == catalog.Fold(want)
}

func (e *Engine) common(source, state string, c model.FilterCriteria) bool {
	if !e.SourceMatches(source, c.Source) {
		return false
	}
	if active(c.State) && state != c.State {
		return false
	}
	if active(c.Region) && e.catalog.Region(state) != c.Region {
		return false
	}
	return true
}

func active(v string) bool {
	return v != "" && v != model.AllValues
}
