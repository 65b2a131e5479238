package metrics

import (
	"sort"
	"time"

	"github.com/sells-group/crm-insights/internal/model"
)

// Entry is one record's contribution to a time series.
type Entry struct {
	At    time.Time
	Value float64
}

// LeadEntries turns leads into entries on their creation date.
func LeadEntries(leads []model.Lead) []Entry {
	out := make([]Entry, 0, len(leads))
	for _, l := range leads {
		out = append(out, Entry{At: l.CreatedAt, Value: 1})
	}
	return out
}

// RevenueEntries turns won deals into entries on their revenue date.
func RevenueEntries(deals []model.Deal) []Entry {
	out := make([]Entry, 0, len(deals))
	for _, d := range deals {
		if d.Status == model.DealStatusWon {
			out = append(out, Entry{At: d.RevenueDate(), Value: d.Value})
		}
	}
	return out
}

// Timeline groups entries by calendar day. Only days with entries are
// returned unless dense is set, in which case every day of the window is
// present and empty days are zero. An open window side falls back to the
// earliest or latest entry. Entries with a zero time are ignored.
func Timeline(entries []Entry, w model.Window, dense bool) []model.TimelinePoint {
	byDay := map[time.Time]*model.TimelinePoint{}
	var first, last time.Time
	for _, e := range entries {
		if e.At.IsZero() || !w.Contains(e.At) {
			continue
		}
		d := day(e.At)
		p, ok := byDay[d]
		if !ok {
			p = &model.TimelinePoint{Date: d}
			byDay[d] = p
		}
		p.Count++
		p.Value += e.Value
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}

	var out []model.TimelinePoint
	if dense {
		if w.Start != nil {
			first = day(*w.Start)
		}
		if w.End != nil {
			last = day(*w.End)
		}
		if first.IsZero() || last.IsZero() {
			return []model.TimelinePoint{}
		}
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			if p, ok := byDay[d]; ok {
				out = append(out, *p)
			} else {
				out = append(out, model.TimelinePoint{Date: d})
			}
		}
	} else {
		out = make([]model.TimelinePoint, 0, len(byDay))
		for _, p := range byDay {
			out = append(out, *p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	}

	var running float64
	for i := range out {
		running += out[i].Value
		out[i].Cumulative = running
	}
	if out == nil {
		out = []model.TimelinePoint{}
	}
	return out
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
