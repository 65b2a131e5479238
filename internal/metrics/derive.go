package metrics

import (
	"github.com/sells-group/crm-insights/internal/catalog"
	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/segment"
)

// Input is one filter state's worth of records.
type Input struct {
	Window model.Window
	Leads  []model.Lead
	// PipelineDeals are filtered on creation date.
	PipelineDeals []model.Deal
	// RevenueDeals are filtered on revenue date.
	RevenueDeals []model.Deal
	// LinkDeals are the deals whose lead references mark leads converted.
	// When nil, PipelineDeals are used.
	LinkDeals []model.Deal
	Records   []model.ReconciliationRecord
	Pacing    PacingInput
}

// Engine derives the full metric set for the dashboard.
type Engine struct {
	catalog *catalog.Catalog
	seg     *segment.Engine
	matcher SourceMatcher
}

// New returns an Engine. A nil catalog uses the default tables.
func New(cat *catalog.Catalog, m SourceMatcher) *Engine {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Engine{catalog: cat, seg: segment.New(cat), matcher: m}
}

// Derive computes every metric. It has no side effects.
func (e *Engine) Derive(in Input) model.DerivedMetrics {
	realized := e.seg.Deals(in.RevenueDeals)
	created := e.seg.Deals(in.PipelineDeals)

	link := in.LinkDeals
	if link == nil {
		link = in.PipelineDeals
	}
	leads := e.seg.Leads(in.Leads, link)

	out := model.DerivedMetrics{
		Window:          in.Window,
		Funnel:          Funnel(in.Leads, in.PipelineDeals),
		Financial:       Financial(realized, created),
		Leads:           Leads(leads, e.catalog),
		Sellers:         Sellers(realized.Won),
		Segments:        Segments(realized, created),
		LeadTimeline:    Timeline(LeadEntries(in.Leads), in.Window, false),
		RevenueTimeline: Timeline(RevenueEntries(in.RevenueDeals), in.Window, true),
		Traceability:    Traceability(in.Records),
	}
	if e.matcher != nil {
		out.Pacing = Pacing(in.Pacing, e.matcher)
	}
	out.RequiredPipeline = RequiredPipeline(in.Pacing.Goals)
	return out
}
