// Package crm adapts CRM backends to the dashboard: bulk record fetches for a
// time window and the remote lookups the deep scan needs.
package crm

import (
	"context"
	"encoding/json"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/normalize"
	"github.com/sells-group/crm-insights/internal/reconcile"
)

// RawBatch is one fetch worth of raw records, before normalization.
type RawBatch struct {
	Leads [][]byte
	Deals [][]byte
}

// Normalize converts the batch into canonical records.
func (b RawBatch) Normalize() model.Batch {
	return normalize.Batch(b.Leads, b.Deals)
}

// Source fetches every lead and deal relevant to a window. Deals are
// returned when either their creation or their closing date falls in the
// window.
type Source interface {
	Fetch(ctx context.Context, w model.Window) (RawBatch, error)
}

// Backend is a Source that also serves deep-scan lookups.
type Backend interface {
	Source
	reconcile.Remote
}

func rawMessages(in []json.RawMessage) [][]byte {
	out := make([][]byte, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}
