package reconcile

import (
	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/phone"
)

// LeadPhoneIndex indexes every plausible phone of every lead.
func LeadPhoneIndex(leads []model.Lead) phone.Index {
	idx := make(phone.Index, len(leads))
	for _, l := range leads {
		idx.AddRaw(l.ID, l.Phones...)
	}
	return idx
}

// Local resolves every deal against the first two tiers and against
// previously confirmed deep-scan ids. It makes no remote calls. One record is
// returned per deal, in input order.
func Local(leads []model.Lead, deals []model.Deal, confirmed map[string]struct{}, validateRefs bool) []model.ReconciliationRecord {
	known := make(map[string]struct{}, len(leads))
	for _, l := range leads {
		known[l.ID] = struct{}{}
	}
	idx := LeadPhoneIndex(leads)

	out := make([]model.ReconciliationRecord, 0, len(deals))
	for _, d := range deals {
		out = append(out, resolveLocal(d, known, idx, confirmed, validateRefs))
	}
	return out
}

func resolveLocal(d model.Deal, known map[string]struct{}, idx phone.Index, confirmed map[string]struct{}, validateRefs bool) model.ReconciliationRecord {
	rec := model.ReconciliationRecord{DealID: d.ID, Tier: model.TierUnmatched}

	if d.HasLeadReference() {
		_, ok := known[d.LeadID]
		if ok || !validateRefs {
			rec.Tier = model.TierExactReference
			rec.LeadID = d.LeadID
			return rec
		}
	}

	if _, owner, ok := idx.FirstMatch(phone.Candidates(d.Phones...)); ok {
		rec.Tier = model.TierLocalPhone
		rec.LeadID = owner
		return rec
	}

	if _, ok := confirmed[d.ID]; ok {
		rec.Tier = model.TierRemoteDeepScan
	}
	return rec
}
