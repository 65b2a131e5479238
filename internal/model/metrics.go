package model

import "time"

// Funnel summarizes how leads progress into deals and wins.
type Funnel struct {
	TotalLeads int     `json:"total_leads"`
	TotalDeals int     `json:"total_deals"`
	WonDeals   int     `json:"won_deals"`
	WonValue   float64 `json:"won_value"`
	LeadToDeal float64 `json:"lead_to_deal_pct"`
	DealToWon  float64 `json:"deal_to_won_pct"`
	LeadToWon  float64 `json:"lead_to_won_pct"`
}

// Financial holds revenue-side KPIs.
type Financial struct {
	Revenue   float64 `json:"revenue"`
	Pipeline  float64 `json:"pipeline"`
	Lost      float64 `json:"lost"`
	AvgTicket float64 `json:"avg_ticket"`
	WonCount  int     `json:"won_count"`
	OpenCount int     `json:"open_count"`
	LostCount int     `json:"lost_count"`
}

// NamedCount is a label with a count, used for ranked breakdowns.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LeadKPIs summarizes the lead side of the funnel.
type LeadKPIs struct {
	Total          int          `json:"total"`
	Active         int          `json:"active"`
	Discarded      int          `json:"discarded"`
	Converted      int          `json:"converted"`
	ConversionRate float64      `json:"conversion_rate"`
	DiscardRate    float64      `json:"discard_rate"`
	DiscardReasons []NamedCount `json:"discard_reasons"`
	ByChannel      []NamedCount `json:"by_channel"`
}

// SellerTotal is the won-deal tally for one salesperson.
type SellerTotal struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// PacingMetric names what a channel goal measures.
type PacingMetric string

const (
	PacingRevenue  PacingMetric = "revenue"
	PacingPipeline PacingMetric = "pipeline"
)

// ChannelPacing reports progress toward one monthly channel target.
type ChannelPacing struct {
	Channel          string       `json:"channel"`
	Metric           PacingMetric `json:"metric"`
	Target           float64      `json:"target"`
	Realized         float64      `json:"realized"`
	Progress         float64      `json:"progress"`
	DisplayProgress  float64      `json:"display_progress"`
	ExpectedProgress float64      `json:"expected_progress"`
	Pacing           float64      `json:"pacing"`
	Projection       float64      `json:"projection"`
	Gap              float64      `json:"gap"`
	DailyRequired    float64      `json:"daily_required"`
	ElapsedDays      int          `json:"elapsed_days"`
	TotalDays        int          `json:"total_days"`
	RemainingDays    int          `json:"remaining_days"`
}

// TimelinePoint is one calendar day of a time series.
type TimelinePoint struct {
	Date       time.Time `json:"date"`
	Count      int       `json:"count"`
	Value      float64   `json:"value"`
	Cumulative float64   `json:"cumulative"`
}

// Traceability summarizes how many deals were linked back to a lead.
type Traceability struct {
	Total     int               `json:"total"`
	ByTier    map[MatchTier]int `json:"by_tier"`
	Traced    int               `json:"traced"`
	TracedPct float64           `json:"traced_pct"`
}

// SegmentTotal is the deal mix of one category: won deals by revenue date
// and open deals created in the window.
type SegmentTotal struct {
	Category  Category `json:"category"`
	WonDeals  int      `json:"won_deals"`
	Revenue   float64  `json:"revenue"`
	OpenDeals int      `json:"open_deals"`
	Pipeline  float64  `json:"pipeline"`
}

// DerivedMetrics is everything the dashboard renders for one filter state.
// It is recomputed on every change and never persisted.
type DerivedMetrics struct {
	Window           Window          `json:"window"`
	Funnel           Funnel          `json:"funnel"`
	Financial        Financial       `json:"financial"`
	Leads            LeadKPIs        `json:"leads"`
	Sellers          []SellerTotal   `json:"sellers"`
	Segments         []SegmentTotal  `json:"segments"`
	Pacing           []ChannelPacing `json:"pacing"`
	RequiredPipeline float64         `json:"required_pipeline"`
	LeadTimeline     []TimelinePoint `json:"lead_timeline"`
	RevenueTimeline  []TimelinePoint `json:"revenue_timeline"`
	Traceability     Traceability    `json:"traceability"`
}
