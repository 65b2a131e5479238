package model

import "time"

// MatchTier is the strategy that linked a deal to a lead.
type MatchTier string

const (
	TierExactReference MatchTier = "exact-reference"
	TierLocalPhone     MatchTier = "local-phone"
	TierRemoteDeepScan MatchTier = "remote-deep-scan"
	TierUnmatched      MatchTier = "unmatched"
)

// Tiers lists every tier in priority order, unmatched last.
var Tiers = []MatchTier{TierExactReference, TierLocalPhone, TierRemoteDeepScan, TierUnmatched}

// Matched reports whether the tier links the deal to a lead.
func (t MatchTier) Matched() bool {
	return t != "" && t != TierUnmatched
}

// ReconciliationRecord maps one deal to the tier that resolved it.
type ReconciliationRecord struct {
	DealID string    `json:"deal_id"`
	Tier   MatchTier `json:"tier"`
	LeadID string    `json:"lead_id,omitempty"`
}

// ScanTrigger identifies what started a deep scan.
type ScanTrigger string

const (
	ScanTriggerAuto   ScanTrigger = "auto"
	ScanTriggerManual ScanTrigger = "manual"
)

// ScanStatus is the lifecycle status of a recorded scan run.
type ScanStatus string

const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusComplete  ScanStatus = "complete"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// ScanRun is the audit record of one deep scan.
type ScanRun struct {
	ID           string      `json:"id"`
	WindowKey    string      `json:"window_key"`
	Trigger      ScanTrigger `json:"trigger"`
	Status       ScanStatus  `json:"status"`
	Attempted    int         `json:"attempted"`
	Confirmed    int         `json:"confirmed"`
	RemoteErrors int         `json:"remote_errors"`
	Skipped      int         `json:"skipped"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// ScanCounts are the outcome counters recorded when a scan run finishes.
type ScanCounts struct {
	Attempted    int `json:"attempted"`
	Confirmed    int `json:"confirmed"`
	RemoteErrors int `json:"remote_errors"`
	Skipped      int `json:"skipped"`
}
