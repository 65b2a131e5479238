package crm

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/pkg/bitrix"
)

var (
	bitrixLeadFields = []string{
		"ID", "TITLE", "NAME", "LAST_NAME", "SOURCE_ID", "STATUS_ID", "DATE_CREATE",
		"UF_CRM_STATE", "ADDRESS_PROVINCE", "UF_CRM_DISCARD_REASON", "PHONE",
		"UF_CRM_PHONE", "ASSIGNED_BY_ID",
	}
	bitrixDealFields = []string{
		"ID", "TITLE", "OPPORTUNITY", "STAGE_ID", "STAGE_SEMANTIC_ID", "CATEGORY_ID",
		"DATE_CREATE", "CLOSEDATE", "CLOSED", "SOURCE_ID", "LEAD_ID", "UF_CRM_STATE",
		"UF_CRM_PHONE", "ASSIGNED_BY_ID",
	}
)

// Bitrix reads records from a Bitrix24 portal.
type Bitrix struct {
	client bitrix.Client
}

// NewBitrix returns a Bitrix backend.
func NewBitrix(client bitrix.Client) *Bitrix {
	return &Bitrix{client: client}
}

// Fetch implements Source. Leads are filtered on creation date. Deals are
// listed twice, on creation and on closing date, and merged by ID.
func (b *Bitrix) Fetch(ctx context.Context, w model.Window) (RawBatch, error) {
	var leads, created, closed []json.RawMessage

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		leads, err = b.client.ListLeads(gctx, bitrix.ListParams{
			Filter: windowFilter("DATE_CREATE", w),
			Select: bitrixLeadFields,
		})
		return eris.Wrap(err, "crm: list bitrix leads")
	})
	g.Go(func() error {
		var err error
		created, err = b.client.ListDeals(gctx, bitrix.ListParams{
			Filter: windowFilter("DATE_CREATE", w),
			Select: bitrixDealFields,
		})
		return eris.Wrap(err, "crm: list bitrix deals by creation")
	})
	if w.Start != nil || w.End != nil {
		g.Go(func() error {
			var err error
			closed, err = b.client.ListDeals(gctx, bitrix.ListParams{
				Filter: windowFilter("CLOSEDATE", w),
				Select: bitrixDealFields,
			})
			return eris.Wrap(err, "crm: list bitrix deals by closing")
		})
	}
	if err := g.Wait(); err != nil {
		return RawBatch{}, err
	}

	return RawBatch{
		Leads: rawMessages(leads),
		Deals: mergeByID(created, closed),
	}, nil
}

// GetDeal implements reconcile.Remote.
func (b *Bitrix) GetDeal(ctx context.Context, dealID string) ([]byte, error) {
	raw, err := b.client.GetDeal(ctx, dealID)
	if err != nil {
		return nil, eris.Wrapf(err, "crm: get bitrix deal %s", dealID)
	}
	return raw, nil
}

// SearchLeadsByPhone implements reconcile.Remote.
func (b *Bitrix) SearchLeadsByPhone(ctx context.Context, phone string) ([]string, error) {
	ids, err := b.client.FindLeadsByPhone(ctx, phone)
	if err != nil {
		return nil, eris.Wrap(err, "crm: search bitrix leads by phone")
	}
	return ids, nil
}

func windowFilter(field string, w model.Window) map[string]any {
	f := map[string]any{}
	if w.Start != nil {
		s := *w.Start
		f[">="+field] = s.Format(model.DateLayout) + "T00:00:00"
	}
	if w.End != nil {
		e := *w.End
		f["<="+field] = e.Format(model.DateLayout) + "T23:59:59"
	}
	return f
}

// mergeByID concatenates record lists, keeping the first record per ID.
func mergeByID(lists ...[]json.RawMessage) [][]byte {
	seen := make(map[string]bool)
	var out [][]byte
	for _, list := range lists {
		for _, raw := range list {
			id := gjson.GetBytes(raw, "ID").String()
			if id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			out = append(out, raw)
		}
	}
	if out == nil {
		out = [][]byte{}
	}
	return out
}
