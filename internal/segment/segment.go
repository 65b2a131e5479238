// Package segment partitions filtered records into mutually exclusive
// buckets: deals by status and by category, leads by lifecycle.
package segment

import (
	"github.com/sells-group/crm-insights/internal/catalog"
	"github.com/sells-group/crm-insights/internal/model"
)

// DealBuckets partitions one deal set. Every deal appears in exactly one
// status bucket and exactly one category bucket.
type DealBuckets struct {
	Won  []model.Deal
	Lost []model.Deal
	// Open holds open deals and deals whose stage code was not recognized.
	Open []model.Deal

	Retail  []model.Deal
	Project []model.Deal
	Other   []model.Deal
}

// Total is the size of the partitioned set.
func (b DealBuckets) Total() int {
	return len(b.Won) + len(b.Lost) + len(b.Open)
}

// ByCategory returns the bucket for a segment.
func (b DealBuckets) ByCategory(c model.Category) []model.Deal {
	switch c {
	case model.CategoryRetail:
		return b.Retail
	case model.CategoryProject:
		return b.Project
	default:
		return b.Other
	}
}

// LeadBuckets partitions one lead set into lifecycle buckets.
type LeadBuckets struct {
	Active    []model.Lead
	Discarded []model.Lead
	Converted []model.Lead
}

// Total is the size of the partitioned set.
func (b LeadBuckets) Total() int {
	return len(b.Active) + len(b.Discarded) + len(b.Converted)
}

// Engine segments records using a catalog for category codes.
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

// Deals partitions deals by status and category in one pass.
func (e *Engine) Deals(deals []model.Deal) DealBuckets {
	var b DealBuckets
	for _, d := range deals {
		switch d.Status {
		case model.DealStatusWon:
			b.Won = append(b.Won, d)
		case model.DealStatusLost:
			b.Lost = append(b.Lost, d)
		default:
			b.Open = append(b.Open, d)
		}

		switch e.catalog.Category(d.CategoryCode) {
		case model.CategoryRetail:
			b.Retail = append(b.Retail, d)
		case model.CategoryProject:
			b.Project = append(b.Project, d)
		default:
			b.Other = append(b.Other, d)
		}
	}
	return b
}

// Leads partitions leads. A lead is converted when its status says so or
// when any deal references it by exact id, since the CRM status can lag
// behind deal creation. Conversion takes precedence over discard.
func (e *Engine) Leads(leads []model.Lead, deals []model.Deal) LeadBuckets {
	referenced := ReferencedLeads(deals)

	var b LeadBuckets
	for _, l := range leads {
		_, linked := referenced[l.ID]
		switch {
		case l.Status == model.LeadStatusConverted || (l.ID != "" && linked):
			b.Converted = append(b.Converted, l)
		case l.Discarded():
			b.Discarded = append(b.Discarded, l)
		default:
			b.Active = append(b.Active, l)
		}
	}
	return b
}

// ReferencedLeads returns the set of lead ids that deals point at.
func ReferencedLeads(deals []model.Deal) map[string]struct{} {
	out := make(map[string]struct{}, len(deals))
	for _, d := range deals {
		if d.HasLeadReference() {
			out[d.LeadID] = struct{}{}
		}
	}
	return out
}
