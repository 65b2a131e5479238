// Package export writes dashboard views to spreadsheets for offline audit.
package export

import (
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crm-insights/internal/model"
)

// Sheet names, in workbook order.
const (
	SheetSummary      = "Summary"
	SheetSellers      = "Sellers"
	SheetSegments     = "Segments"
	SheetPacing       = "Pacing"
	SheetTimeline     = "Revenue Timeline"
	SheetTraceability = "Traceability"
)

// Report is what gets exported.
type Report struct {
	Criteria model.FilterCriteria
	Metrics  model.DerivedMetrics
	Records  []model.ReconciliationRecord
}

// Workbook builds the spreadsheet for r.
func Workbook(r Report) (*xlsx.File, error) {
	f := xlsx.NewFile()
	builders := []struct {
		name  string
		build func(*xlsx.Sheet, Report)
	}{
		{SheetSummary, summarySheet},
		{SheetSellers, sellersSheet},
		{SheetSegments, segmentsSheet},
		{SheetPacing, pacingSheet},
		{SheetTimeline, timelineSheet},
		{SheetTraceability, traceabilitySheet},
	}
	for _, b := range builders {
		sheet, err := f.AddSheet(b.name)
		if err != nil {
			return nil, eris.Wrapf(err, "xlsx: add sheet %s", b.name)
		}
		b.build(sheet, r)
	}
	return f, nil
}

// WriteFile saves the workbook for r at path.
func WriteFile(path string, r Report) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

// Write streams the workbook for r to w.
func Write(w io.Writer, r Report) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "xlsx: write")
}

func summarySheet(s *xlsx.Sheet, r Report) {
	m := r.Metrics
	c := r.Criteria

	addStrings(s, "Metric", "Value")
	addStrings(s, "Window", c.Window.String())
	addStrings(s, "Source", orAll(c.Source))
	addStrings(s, "Region", orAll(c.Region))
	addStrings(s, "State", orAll(c.State))
	addStrings(s, "Segment", orAll(c.Segment))

	addInt(s, "Leads", m.Funnel.TotalLeads)
	addInt(s, "Deals", m.Funnel.TotalDeals)
	addInt(s, "Won deals", m.Funnel.WonDeals)
	addFloat(s, "Lead to deal %", m.Funnel.LeadToDeal)
	addFloat(s, "Deal to won %", m.Funnel.DealToWon)
	addFloat(s, "Lead to won %", m.Funnel.LeadToWon)

	addFloat(s, "Revenue", m.Financial.Revenue)
	addFloat(s, "Pipeline", m.Financial.Pipeline)
	addFloat(s, "Lost", m.Financial.Lost)
	addFloat(s, "Average ticket", m.Financial.AvgTicket)

	addInt(s, "Active leads", m.Leads.Active)
	addInt(s, "Converted leads", m.Leads.Converted)
	addInt(s, "Discarded leads", m.Leads.Discarded)
	addFloat(s, "Conversion rate %", m.Leads.ConversionRate)
	addFloat(s, "Discard rate %", m.Leads.DiscardRate)
	addFloat(s, "Required pipeline", m.RequiredPipeline)
	addFloat(s, "Traced %", m.Traceability.TracedPct)
}

func sellersSheet(s *xlsx.Sheet, r Report) {
	addStrings(s, "Seller", "Won deals", "Value")
	for _, st := range r.Metrics.Sellers {
		row := s.AddRow()
		row.AddCell().SetString(st.Name)
		row.AddCell().SetInt(st.Count)
		row.AddCell().SetFloat(st.Value)
	}
}

func segmentsSheet(s *xlsx.Sheet, r Report) {
	addStrings(s, "Segment", "Won deals", "Revenue", "Open deals", "Pipeline")
	for _, st := range r.Metrics.Segments {
		row := s.AddRow()
		row.AddCell().SetString(string(st.Category))
		row.AddCell().SetInt(st.WonDeals)
		row.AddCell().SetFloat(st.Revenue)
		row.AddCell().SetInt(st.OpenDeals)
		row.AddCell().SetFloat(st.Pipeline)
	}
}

func pacingSheet(s *xlsx.Sheet, r Report) {
	addStrings(s, "Channel", "Metric", "Target", "Realized", "Progress %", "Expected %",
		"Pacing", "Projection", "Gap", "Daily required", "Remaining days")
	for _, p := range r.Metrics.Pacing {
		row := s.AddRow()
		row.AddCell().SetString(p.Channel)
		row.AddCell().SetString(string(p.Metric))
		for _, v := range []float64{p.Target, p.Realized, p.Progress, p.ExpectedProgress, p.Pacing, p.Projection, p.Gap, p.DailyRequired} {
			row.AddCell().SetFloat(v)
		}
		row.AddCell().SetInt(p.RemainingDays)
	}
}

func timelineSheet(s *xlsx.Sheet, r Report) {
	addStrings(s, "Date", "Won deals", "Revenue", "Cumulative")
	for _, p := range r.Metrics.RevenueTimeline {
		row := s.AddRow()
		row.AddCell().SetString(p.Date.Format(model.DateLayout))
		row.AddCell().SetInt(p.Count)
		row.AddCell().SetFloat(p.Value)
		row.AddCell().SetFloat(p.Cumulative)
	}
}

func traceabilitySheet(s *xlsx.Sheet, r Report) {
	addStrings(s, "Deal", "Tier", "Lead")
	records := append([]model.ReconciliationRecord(nil), r.Records...)
	sort.SliceStable(records, func(i, j int) bool { return records[i].DealID < records[j].DealID })
	for _, rec := range records {
		addStrings(s, rec.DealID, string(rec.Tier), rec.LeadID)
	}
}

func addStrings(s *xlsx.Sheet, values ...string) {
	row := s.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addInt(s *xlsx.Sheet, label string, v int) {
	row := s.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt(v)
}

func addFloat(s *xlsx.Sheet, label string, v float64) {
	row := s.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetFloat(v)
}

func orAll(v string) string {
	if v == "" {
		return model.AllValues
	}
	return v
}
