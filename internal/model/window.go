package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DateLayout is the date-only format used for window boundaries.
const DateLayout = "2006-01-02"

// AllValues bypasses a categorical filter dimension.
const AllValues = "all"

// Window is a closed date range. A nil bound is unconstrained on that side.
type Window struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ParseWindow parses YYYY-MM-DD bounds. Empty strings leave a side open.
func ParseWindow(start, end string) (Window, error) {
	var w Window
	if start != "" {
		t, err := time.ParseInLocation(DateLayout, start, time.Local)
		if err != nil {
			return Window{}, eris.Wrapf(err, "model: parse window start %q", start)
		}
		w.Start = &t
	}
	if end != "" {
		t, err := time.ParseInLocation(DateLayout, end, time.Local)
		if err != nil {
			return Window{}, eris.Wrapf(err, "model: parse window end %q", end)
		}
		w.End = &t
	}
	return w, nil
}

// MonthWindow returns the window covering the calendar month of ref.
func MonthWindow(ref time.Time) Window {
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	last := first.AddDate(0, 1, -1)
	return Window{Start: &first, End: &last}
}

// Contains reports whether t falls inside the window, comparing calendar
// dates only. Both bounds are inclusive.
func (w Window) Contains(t time.Time) bool {
	d := dateOf(t)
	if w.Start != nil && d.Before(dateOf(*w.Start)) {
		return false
	}
	if w.End != nil && d.After(dateOf(*w.End)) {
		return false
	}
	return true
}

// Key returns the deterministic signature of the window, used to key
// per-window persisted state.
func (w Window) Key() string {
	return boundString(w.Start) + "_" + boundString(w.End)
}

// Equal reports whether two windows cover the same dates.
func (w Window) Equal(o Window) bool {
	return w.Key() == o.Key()
}

func (w Window) String() string {
	return "[" + boundString(w.Start) + ", " + boundString(w.End) + "]"
}

func boundString(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "open"
	}
	return t.Format(DateLayout)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FilterCriteria restricts a record set. Empty or "all" fields do not
// restrict their dimension.
type FilterCriteria struct {
	Window  Window `json:"window"`
	Source  string `json:"source,omitempty"`
	Region  string `json:"region,omitempty"`
	State   string `json:"state,omitempty"`
	Segment string `json:"segment,omitempty"`
}
