package model

import "time"

// AuditStatus represents the lifecycle state of an audit.
// Transitions are strictly forward: pending -> running -> {completed, failed}.
type AuditStatus string

const (
	AuditStatusPending   AuditStatus = "pending"
	AuditStatusRunning   AuditStatus = "running"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusFailed    AuditStatus = "failed"
)

// Terminal reports whether the status is final.
func (s AuditStatus) Terminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusFailed
}

// Rank orders statuses along the lifecycle lattice. Both terminal states
// share the same rank: an audit never moves between them.
func (s AuditStatus) Rank() int {
	switch s {
	case AuditStatusPending:
		return 0
	case AuditStatusRunning:
		return 1
	case AuditStatusCompleted, AuditStatusFailed:
		return 2
	default:
		return -1
	}
}

// AuditRequest is the validated input that creates an audit.
type AuditRequest struct {
	BrandName     string            `json:"brand_name"`
	TargetBrand   string            `json:"target_brand"`
	Keywords      []string          `json:"keywords"`
	TargetWebsite string            `json:"target_website,omitempty"`
	Competitors   []string          `json:"competitors,omitempty"`
	GroundTruth   map[string]string `json:"ground_truth,omitempty"`
}

// AuditRecord is the persisted state of one audit. It is single-writer
// (only its own pipeline run mutates it) and multi-reader. A record never
// holds both GeoScore and Error.
type AuditRecord struct {
	ID            string            `json:"id"`
	BrandName     string            `json:"brand_name"`
	TargetBrand   string            `json:"target_brand"`
	Keywords      []string          `json:"keywords"`
	TargetWebsite string            `json:"target_website,omitempty"`
	Competitors   []string          `json:"competitors,omitempty"`
	GroundTruth   map[string]string `json:"ground_truth,omitempty"`
	Status        AuditStatus       `json:"status"`
	GeoScore      *GeoScore         `json:"geo_score,omitempty"`
	Error         string            `json:"error,omitempty"`
	Failures      []DispatchFailure `json:"failures,omitempty"`
	Discarded     int               `json:"discarded,omitempty"` // probes dropped by extraction
	TotalCost     float64           `json:"total_cost,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// AuditStats aggregates completed audits for the stats endpoint.
type AuditStats struct {
	TotalAudits     int      `json:"total_audits"`
	CompletedAudits int      `json:"completed_audits"`
	FailedAudits    int      `json:"failed_audits"`
	AverageScore    *float64 `json:"average_score,omitempty"`
	TotalBrands     int      `json:"total_brands"`
}
