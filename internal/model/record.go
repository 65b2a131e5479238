package model

import "time"

// LeadStatus is the lifecycle status of a lead. Codes the normalizer does not
// recognize are kept verbatim.
type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusInProgress LeadStatus = "in_progress"
	LeadStatusConverted  LeadStatus = "converted"
	LeadStatusDiscarded  LeadStatus = "discarded"
)

// DealStatus is the lifecycle status of a deal. Unrecognized stage codes are
// kept verbatim and count as open pipeline.
type DealStatus string

const (
	DealStatusOpen DealStatus = "open"
	DealStatusWon  DealStatus = "won"
	DealStatusLost DealStatus = "lost"
)

// Category is the business segment a deal belongs to.
type Category string

const (
	CategoryRetail  Category = "retail"
	CategoryProject Category = "project"
	CategoryOther   Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryRetail, CategoryProject, CategoryOther}

// Lead is a normalized prospective-customer record.
type Lead struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Source        string     `json:"source"`
	Status        LeadStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	State         string     `json:"state"`
	DiscardReason string     `json:"discard_reason,omitempty"`
	Phones        []string   `json:"phones"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
}

// Discarded reports whether the CRM marked the lead as junk or recorded a
// reason for dropping it.
func (l Lead) Discarded() bool {
	return l.Status == LeadStatusDiscarded || l.DiscardReason != ""
}

// Deal is a normalized sales opportunity.
type Deal struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Value        float64    `json:"value"`
	Status       DealStatus `json:"status"`
	CategoryCode string     `json:"category_code"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	Source       string     `json:"source"`
	State        string     `json:"state"`
	LeadID       string     `json:"lead_id,omitempty"`
	Phones       []string   `json:"phones"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
}

// HasLeadReference reports whether the CRM linked the deal to a lead.
func (d Deal) HasLeadReference() bool {
	return d.LeadID != "" && d.LeadID != "0"
}

// RevenueDate is the date a deal contributes realized revenue on: its closing
// date when known, otherwise its creation date.
func (d Deal) RevenueDate() time.Time {
	if d.ClosedAt != nil && !d.ClosedAt.IsZero() {
		return *d.ClosedAt
	}
	return d.CreatedAt
}

// Batch is one fetch cycle worth of normalized records.
type Batch struct {
	Leads []Lead `json:"leads"`
	Deals []Deal `json:"deals"`
}
