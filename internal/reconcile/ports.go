// Package reconcile links deals to the leads they came from.
//
// Tiers are evaluated in order and short-circuit on the first success:
// the deal's explicit lead reference, then a phone match against the loaded
// leads, then a remote phone search against the CRM. Remote confirmations are
// persisted per time window so later sessions over the same window skip the
// remote calls.
package reconcile

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-insights/internal/model"
)

// Cache is the persisted key-value store deep-scan confirmations live in.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Remote is the CRM capability the deep scan relies on.
type Remote interface {
	// GetDeal returns the full raw deal record.
	GetDeal(ctx context.Context, dealID string) ([]byte, error)
	// SearchLeadsByPhone returns the ids of leads registered with phone.
	SearchLeadsByPhone(ctx context.Context, phone string) ([]string, error)
}

// CachePrefix namespaces deep-scan entries in the cache.
const CachePrefix = "deep-scan:"

// CacheKey returns the cache key for a window.
func CacheKey(w model.Window) string {
	return CachePrefix + w.Key()
}

// DecodeConfirmed parses a cached value into a set of deal ids.
func DecodeConfirmed(value string) (map[string]struct{}, error) {
	var ids []string
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		return nil, eris.Wrap(err, "reconcile: decode cached confirmations")
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

// EncodeConfirmed serializes a set of deal ids as a sorted JSON array.
func EncodeConfirmed(set map[string]struct{}) string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, _ := json.Marshal(ids)
	return string(data)
}
