package main

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/sells-group/crm-insights/internal/model"
)

// criteriaFlags are the filter flags shared by report and scan.
type criteriaFlags struct {
	start, end                     string
	source, region, state, segment string
}

func (f *criteriaFlags) register(cmd *cobra.Command, withFilters bool) {
	cmd.Flags().StringVar(&f.start, "start", "", "window start date (YYYY-MM-DD, default first day of this month)")
	cmd.Flags().StringVar(&f.end, "end", "", "window end date (YYYY-MM-DD, default last day of this month)")
	if !withFilters {
		return
	}
	cmd.Flags().StringVar(&f.source, "source", "", "acquisition channel, or Meta")
	cmd.Flags().StringVar(&f.region, "region", "", "region")
	cmd.Flags().StringVar(&f.state, "state", "", "state code")
	cmd.Flags().StringVar(&f.segment, "segment", "", "deal segment (retail, project, other)")
}

func (f *criteriaFlags) criteria() (model.FilterCriteria, error) {
	w, err := parseWindow(f.start, f.end)
	if err != nil {
		return model.FilterCriteria{}, err
	}
	return model.FilterCriteria{
		Window:  w,
		Source:  f.source,
		Region:  f.region,
		State:   f.state,
		Segment: f.segment,
	}, nil
}

// criteriaFromQuery reads filter criteria from request query parameters.
func criteriaFromQuery(q url.Values) (model.FilterCriteria, error) {
	f := criteriaFlags{
		start:   q.Get("start"),
		end:     q.Get("end"),
		source:  q.Get("source"),
		region:  q.Get("region"),
		state:   q.Get("state"),
		segment: q.Get("segment"),
	}
	return f.criteria()
}

// parseWindow defaults to the current month when both bounds are empty.
// The literal "open" leaves a side unbounded.
func parseWindow(start, end string) (model.Window, error) {
	if start == "" && end == "" {
		return model.MonthWindow(now()), nil
	}
	if start == "open" {
		start = ""
	}
	if end == "open" {
		end = ""
	}
	return model.ParseWindow(start, end)
}
