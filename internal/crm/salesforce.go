package crm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-insights/internal/model"
	"github.com/sells-group/crm-insights/internal/phone"
	sfpkg "github.com/sells-group/crm-insights/pkg/salesforce"
)

// Salesforce reads Leads and Opportunities from a Salesforce org and emits
// them in the canonical record shape.
type Salesforce struct {
	client sfpkg.Client
}

// NewSalesforce returns a Salesforce backend.
func NewSalesforce(client sfpkg.Client) *Salesforce {
	return &Salesforce{client: client}
}

// sfRecord is the canonical-keyed raw shape the normalizer reads.
type sfRecord struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	Title         string   `json:"title,omitempty"`
	Value         *float64 `json:"value,omitempty"`
	Source        string   `json:"source"`
	Status        string   `json:"status"`
	CategoryCode  string   `json:"category_code,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	ClosedAt      string   `json:"closed_at,omitempty"`
	Closed        bool     `json:"closed,omitempty"`
	State         string   `json:"state,omitempty"`
	LeadID        string   `json:"lead_id,omitempty"`
	Phones        []string `json:"phones"`
	AssignedTo    string   `json:"assigned_to,omitempty"`
	DiscardReason string   `json:"discard_reason,omitempty"`
}

// Fetch implements Source. Opportunities are linked to the lead that was
// converted into them.
func (s *Salesforce) Fetch(ctx context.Context, w model.Window) (RawBatch, error) {
	var (
		leads []sfpkg.Lead
		opps  []sfpkg.Opportunity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		leads, err = sfpkg.ListLeads(gctx, s.client, w.Start, w.End)
		return eris.Wrap(err, "crm: list salesforce leads")
	})
	g.Go(func() error {
		var err error
		opps, err = sfpkg.ListOpportunities(gctx, s.client, w.Start, w.End)
		return eris.Wrap(err, "crm: list salesforce opportunities")
	})
	if err := g.Wait(); err != nil {
		return RawBatch{}, err
	}

	converted := make(map[string]string, len(leads))
	out := RawBatch{Leads: make([][]byte, 0, len(leads)), Deals: make([][]byte, 0, len(opps))}
	for _, l := range leads {
		if l.ConvertedOpportunityID != "" {
			converted[l.ConvertedOpportunityID] = l.ID
		}
		raw, err := json.Marshal(sfLead(l))
		if err != nil {
			return RawBatch{}, eris.Wrap(err, "crm: encode salesforce lead")
		}
		out.Leads = append(out.Leads, raw)
	}
	for _, o := range opps {
		raw, err := json.Marshal(sfOpportunity(o, converted[o.ID]))
		if err != nil {
			return RawBatch{}, eris.Wrap(err, "crm: encode salesforce opportunity")
		}
		out.Deals = append(out.Deals, raw)
	}
	return out, nil
}

// GetDeal implements reconcile.Remote.
func (s *Salesforce) GetDeal(ctx context.Context, dealID string) ([]byte, error) {
	opp, err := sfpkg.GetOpportunity(ctx, s.client, dealID)
	if err != nil {
		return nil, eris.Wrap(err, "crm: get salesforce opportunity")
	}
	if opp == nil {
		return nil, eris.Errorf("crm: salesforce opportunity %s not found", dealID)
	}
	return json.Marshal(sfOpportunity(*opp, ""))
}

// SearchLeadsByPhone implements reconcile.Remote. Hits of the SOSL phone
// search are kept only when a stored number normalizes to the same key.
func (s *Salesforce) SearchLeadsByPhone(ctx context.Context, number string) ([]string, error) {
	key := phone.Normalize(number)
	leads, err := sfpkg.FindLeadsByPhone(ctx, s.client, key)
	if err != nil {
		return nil, eris.Wrap(err, "crm: search salesforce leads by phone")
	}
	var ids []string
	for _, l := range leads {
		if phone.Normalize(l.Phone) == key || phone.Normalize(l.MobilePhone) == key {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func sfLead(l sfpkg.Lead) sfRecord {
	name := l.Name
	if name == "" {
		name = l.Company
	}
	rec := sfRecord{
		ID:        l.ID,
		Name:      name,
		Source:    l.LeadSource,
		Status:    sfLeadStatus(l),
		CreatedAt: sfTime(l.CreatedDate),
		State:     l.State,
		Phones:    nonEmpty(l.Phone, l.MobilePhone),
	}
	if rec.Status == string(model.LeadStatusDiscarded) {
		rec.DiscardReason = l.Status
	}
	if l.Owner != nil {
		rec.AssignedTo = l.Owner.Name
	}
	return rec
}

func sfOpportunity(o sfpkg.Opportunity, leadID string) sfRecord {
	amount := o.Amount
	rec := sfRecord{
		ID:           o.ID,
		Title:        o.Name,
		Value:        &amount,
		Source:       o.LeadSource,
		Status:       sfDealStatus(o),
		CategoryCode: o.Type,
		CreatedAt:    sfTime(o.CreatedDate),
		Closed:       o.IsClosed,
		LeadID:       leadID,
		Phones:       []string{},
	}
	if o.IsClosed {
		rec.ClosedAt = sfTime(o.CloseDate)
	}
	if o.Account != nil {
		rec.Phones = nonEmpty(o.Account.Phone)
	}
	if o.Owner != nil {
		rec.AssignedTo = o.Owner.Name
	}
	return rec
}

// sfLeadStatus maps the default Salesforce lead statuses.
func sfLeadStatus(l sfpkg.Lead) string {
	if l.IsConverted {
		return string(model.LeadStatusConverted)
	}
	s := strings.ToLower(l.Status)
	switch {
	case s == "" || strings.Contains(s, "not contacted"):
		return string(model.LeadStatusNew)
	case strings.Contains(s, "unqualified") || strings.Contains(s, "not converted"):
		return string(model.LeadStatusDiscarded)
	case strings.Contains(s, "working") || strings.Contains(s, "contacted") || strings.Contains(s, "qualified"):
		return string(model.LeadStatusInProgress)
	default:
		return l.Status
	}
}

func sfDealStatus(o sfpkg.Opportunity) string {
	switch {
	case o.IsWon:
		return string(model.DealStatusWon)
	case o.IsClosed:
		return string(model.DealStatusLost)
	default:
		return string(model.DealStatusOpen)
	}
}

// sfTime converts a Salesforce timestamp to local RFC 3339.
func sfTime(s string) string {
	t := sfpkg.ParseTime(s)
	if t.IsZero() {
		return ""
	}
	if len(s) == len(model.DateLayout) {
		return s
	}
	return t.In(time.Local).Format(time.RFC3339)
}

func nonEmpty(values ...string) []string {
	out := []string{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
