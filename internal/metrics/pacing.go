package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/crm-insights/internal/model"
)

// SourceMatcher decides whether a raw source code belongs to a channel.
type SourceMatcher interface {
	SourceMatches(raw, channel string) bool
}

// MonthDays returns how many days of month's calendar month have elapsed at
// now, and how many days the month has. Today counts as elapsed. A month in
// the past is fully elapsed and a month in the future has none elapsed.
func MonthDays(month, now time.Time) (elapsed, total int) {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	total = first.AddDate(0, 1, -1).Day()

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case today.Before(first):
		return 0, total
	case today.Year() == first.Year() && today.Month() == first.Month():
		return today.Day(), total
	default:
		return total, total
	}
}

// Pace computes progress toward one target given the elapsed and total days
// of the month.
func Pace(target, realized float64, elapsed, total int) model.ChannelPacing {
	if total < 1 {
		total = 1
	}
	elapsed = min(max(elapsed, 0), total)
	remaining := total - elapsed

	p := model.ChannelPacing{
		Target:        target,
		Realized:      realized,
		ElapsedDays:   elapsed,
		TotalDays:     total,
		RemainingDays: remaining,
	}
	p.Progress = Round1(safeDiv(realized, target) * 100)
	p.DisplayProgress = math.Min(p.Progress, 100)
	p.ExpectedProgress = Round1(clamp(float64(elapsed)/float64(total)*100, 0, 100))
	p.Pacing = Round1(p.Progress - p.ExpectedProgress)
	p.Projection = safeDiv(realized*float64(total), float64(elapsed))
	p.Gap = math.Max(0, target-realized)
	p.DailyRequired = p.Gap / float64(max(1, remaining))
	return p
}

// PacingInput is what channel pacing needs for one month.
type PacingInput struct {
	Goals model.DemandGoals
	// Month is any instant in the month being paced.
	Month time.Time
	Now   time.Time
	// RevenueDeals are deals whose revenue date falls in Month; only won
	// deals count toward revenue.
	RevenueDeals []model.Deal
	// PipelineDeals are deals created in Month, in any status.
	PipelineDeals []model.Deal
}

// Pacing computes revenue and pipeline pacing for every channel with a
// positive target, ordered by channel then metric.
//
// A deal created in one month and won in the next counts toward the first
// month's pipeline and the second month's revenue.
func Pacing(in PacingInput, m SourceMatcher) []model.ChannelPacing {
	elapsed, total := MonthDays(in.Month, in.Now)

	channels := make([]string, 0, len(in.Goals.Channels))
	for name := range in.Goals.Channels {
		channels = append(channels, name)
	}
	sort.Strings(channels)

	var out []model.ChannelPacing
	for _, ch := range channels {
		goal := in.Goals.Channels[ch]
		if goal.Revenue > 0 {
			var realized float64
			for _, d := range in.RevenueDeals {
				if d.Status == model.DealStatusWon && m.SourceMatches(d.Source, ch) {
					realized += d.Value
				}
			}
			p := Pace(goal.Revenue, realized, elapsed, total)
			p.Channel, p.Metric = ch, model.PacingRevenue
			out = append(out, p)
		}
		if goal.Pipeline > 0 {
			var realized float64
			for _, d := range in.PipelineDeals {
				if m.SourceMatches(d.Source, ch) {
					realized += d.Value
				}
			}
			p := Pace(goal.Pipeline, realized, elapsed, total)
			p.Channel, p.Metric = ch, model.PacingPipeline
			out = append(out, p)
		}
	}
	return out
}

// RequiredPipeline is the pipeline value needed to reach the total revenue
// target at the configured conversion rate.
func RequiredPipeline(g model.DemandGoals) float64 {
	if g.ConversionRate <= 0 {
		return 0
	}
	var revenue float64
	for _, cg := range g.Channels {
		revenue += cg.Revenue
	}
	return revenue * 100 / g.ConversionRate
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
