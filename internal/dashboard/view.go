package dashboard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-insights/internal/filter"
	"github.com/sells-group/crm-insights/internal/metrics"
	"github.com/sells-group/crm-insights/internal/model"
)

func (s *Service) view(ctx context.Context, sess *session, c model.FilterCriteria) *View {
	now := s.opts.Now()
	goals, err := s.Goals(ctx)
	if err != nil {
		zap.L().Warn("dashboard: using default goals", zap.Error(err))
		goals = model.DemandGoals{}.WithDefaults(s.opts.DefaultGoals)
	}

	fr := s.filter.Apply(sess.batch, c)
	records := recordsFor(sess.result.Records, fr.PipelineDeals)

	// Pacing tracks each channel separately, so the source filter does not
	// apply to it.
	month := pacingMonth(c.Window, now)
	pc := c
	pc.Window = model.MonthWindow(month)
	pc.Source = ""

	m := s.metrics.Derive(metrics.Input{
		Window:        c.Window,
		Leads:         fr.Leads,
		PipelineDeals: fr.PipelineDeals,
		RevenueDeals:  fr.RevenueDeals,
		LinkDeals:     sess.batch.Deals,
		Records:       records,
		Pacing: metrics.PacingInput{
			Goals:         goals,
			Month:         month,
			Now:           now,
			RevenueDeals:  s.filter.Deals(sess.batch.Deals, pc, filter.BasisRevenue),
			PipelineDeals: s.filter.Deals(sess.batch.Deals, pc, filter.BasisCreated),
		},
	})

	return &View{
		Criteria: c,
		Metrics:  m,
		Records:  records,
		Scan:     s.engine.Progress(),
		LoadedAt: sess.loadedAt,
	}
}

// pacingMonth is the month goals are paced against: the month of the
// window's end when that lies in the past, the current month otherwise.
func pacingMonth(w model.Window, now time.Time) time.Time {
	if w.End != nil && w.End.Before(now) {
		return *w.End
	}
	return now
}

// recordsFor keeps the records of the given deals, in deal order.
func recordsFor(records []model.ReconciliationRecord, deals []model.Deal) []model.ReconciliationRecord {
	byDeal := make(map[string]model.ReconciliationRecord, len(records))
	for _, r := range records {
		byDeal[r.DealID] = r
	}
	out := make([]model.ReconciliationRecord, 0, len(deals))
	for _, d := range deals {
		if r, ok := byDeal[d.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}
