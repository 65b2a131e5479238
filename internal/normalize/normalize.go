// Package normalize maps raw CRM payloads into canonical leads and deals.
//
// Normalization never fails: missing numbers become zero, missing lists
// become empty, and unrecognized status codes are kept verbatim so that
// aggregation can bucket them instead of dropping the record.
package normalize

import (
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sells-group/crm-insights/internal/model"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// Lead normalizes one raw lead record.
func Lead(raw []byte) model.Lead {
	r := parse(raw)
	return model.Lead{
		ID:            first(r, "ID", "id"),
		Name:          leadName(r),
		Source:        first(r, "SOURCE_ID", "source"),
		Status:        leadStatus(first(r, "STATUS_ID", "status")),
		CreatedAt:     date(first(r, "DATE_CREATE", "created_at")),
		State:         strings.ToUpper(first(r, "UF_CRM_STATE", "ADDRESS_PROVINCE", "state")),
		DiscardReason: first(r, "UF_CRM_DISCARD_REASON", "discard_reason"),
		Phones:        phones(r),
		AssignedTo:    first(r, "ASSIGNED_BY_NAME", "assigned_to", "ASSIGNED_BY_ID"),
	}
}

// Deal normalizes one raw deal record.
func Deal(raw []byte) model.Deal {
	r := parse(raw)
	status := dealStatus(r)

	d := model.Deal{
		ID:           first(r, "ID", "id"),
		Title:        first(r, "TITLE", "title"),
		Value:        amount(r, "OPPORTUNITY", "value"),
		Status:       status,
		CategoryCode: first(r, "CATEGORY_ID", "category_code"),
		CreatedAt:    date(first(r, "DATE_CREATE", "created_at")),
		Source:       first(r, "SOURCE_ID", "source"),
		State:        strings.ToUpper(first(r, "UF_CRM_STATE", "state")),
		LeadID:       leadRef(first(r, "LEAD_ID", "lead_id")),
		Phones:       phones(r),
		AssignedTo:   first(r, "ASSIGNED_BY_NAME", "assigned_to", "ASSIGNED_BY_ID"),
	}

	// Open deals carry a planned close date in the CRM; only a finished deal
	// has a real closing date.
	closed := strings.EqualFold(first(r, "CLOSED", "closed"), "Y") ||
		strings.EqualFold(first(r, "CLOSED", "closed"), "true") ||
		status == model.DealStatusWon || status == model.DealStatusLost
	if closed {
		if t := date(first(r, "CLOSEDATE", "closed_at")); !t.IsZero() {
			d.ClosedAt = &t
		}
	}
	return d
}

// Batch normalizes a fetch cycle worth of raw records, one output per input.
func Batch(leads, deals [][]byte) model.Batch {
	b := model.Batch{
		Leads: make([]model.Lead, 0, len(leads)),
		Deals: make([]model.Deal, 0, len(deals)),
	}
	for _, raw := range leads {
		b.Leads = append(b.Leads, Lead(raw))
	}
	for _, raw := range deals {
		b.Deals = append(b.Deals, Deal(raw))
	}
	return b
}

// PhoneValues extracts every raw phone string from a record: the primary
// PHONE field (string, list of strings or list of {VALUE}) and the repeated
// UF_CRM_PHONE custom field.
func PhoneValues(raw []byte) []string {
	return phones(parse(raw))
}

func parse(raw []byte) gjson.Result {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

// first returns the first non-empty string among paths.
func first(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := r.Get(p)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

func amount(r gjson.Result, paths ...string) float64 {
	for _, p := range paths {
		v := r.Get(p)
		if !v.Exists() {
			continue
		}
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return 0
		}
		return f
	}
	return 0
}

// date parses s into the CRM time zone. Timestamps carrying an offset are
// converted so calendar days follow crm.location, not the record's offset.
func date(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.In(time.Local)
		}
	}
	return time.Time{}
}

func leadName(r gjson.Result) string {
	if title := first(r, "TITLE", "name"); title != "" {
		return title
	}
	return strings.TrimSpace(first(r, "NAME") + " " + first(r, "LAST_NAME"))
}

func leadRef(s string) string {
	if s == "0" {
		return ""
	}
	return s
}

func phones(r gjson.Result) []string {
	out := []string{}
	for _, path := range []string{"PHONE", "UF_CRM_PHONE", "phones", "phone"} {
		v := r.Get(path)
		switch {
		case !v.Exists() || v.Type == gjson.Null:
		case v.IsArray():
			for _, item := range v.Array() {
				out = appendPhone(out, item)
			}
		default:
			out = appendPhone(out, v)
		}
	}
	return out
}

func appendPhone(out []string, v gjson.Result) []string {
	var s string
	if v.IsObject() {
		s = first(v, "VALUE", "value")
	} else {
		s = strings.TrimSpace(v.String())
	}
	if s == "" {
		return out
	}
	return append(out, s)
}

func leadStatus(code string) model.LeadStatus {
	switch strings.ToUpper(code) {
	case "", "NEW":
		return model.LeadStatusNew
	case "IN_PROCESS", "PROCESSED", "IN_PROGRESS":
		return model.LeadStatusInProgress
	case "CONVERTED":
		return model.LeadStatusConverted
	case "JUNK", "DISCARDED":
		return model.LeadStatusDiscarded
	default:
		return model.LeadStatus(code)
	}
}

func dealStatus(r gjson.Result) model.DealStatus {
	switch strings.ToUpper(first(r, "STAGE_SEMANTIC_ID")) {
	case "S":
		return model.DealStatusWon
	case "F":
		return model.DealStatusLost
	case "P":
		return model.DealStatusOpen
	}

	stage := first(r, "STAGE_ID", "status")
	upper := strings.ToUpper(stage)
	switch {
	case stage == "":
		return model.DealStatusOpen
	case upper == "WON" || strings.HasSuffix(upper, ":WON"):
		return model.DealStatusWon
	case upper == "LOSE" || upper == "LOST" || strings.HasSuffix(upper, ":LOSE"):
		return model.DealStatusLost
	case upper == "OPEN":
		return model.DealStatusOpen
	default:
		return model.DealStatus(stage)
	}
}
