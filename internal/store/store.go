// Package store persists audit records behind a driver-agnostic interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/geolens/geo-audit/internal/model"
)

// ErrNotFound is returned when no audit exists for the given ID.
var ErrNotFound = eris.New("audit not found")

// ErrInvalidTransition is returned when a status update would move an audit
// backwards through its lifecycle.
var ErrInvalidTransition = eris.New("invalid status transition")

// ListFilter specifies criteria for listing audits.
type ListFilter struct {
	Status model.AuditStatus `json:"status,omitempty"`
	Brand  string            `json:"brand,omitempty"`
	Skip   int               `json:"skip,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

// ResultUpdate carries everything a finished pipeline run writes back.
type ResultUpdate struct {
	Score     *model.GeoScore
	Failures  []model.DispatchFailure
	Discarded int
	TotalCost float64
}

// Store defines the persistence interface for the audit pipeline.
type Store interface {
	// Audits
	CreateAudit(ctx context.Context, req model.AuditRequest) (*model.AuditRecord, error)
	UpdateAuditStatus(ctx context.Context, auditID string, status model.AuditStatus) error
	SetAuditResult(ctx context.Context, auditID string, update ResultUpdate) error
	SetAuditError(ctx context.Context, auditID string, errMsg string) error
	GetAudit(ctx context.Context, auditID string) (*model.AuditRecord, error)
	ListAudits(ctx context.Context, filter ListFilter) ([]model.AuditRecord, int, error)
	DeleteAudit(ctx context.Context, auditID string) error

	// Aggregates
	Stats(ctx context.Context) (*model.AuditStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// allowedPrev maps a target status to the statuses an audit may hold before
// the transition. Terminal states are unreachable from one another.
func allowedPrev(to model.AuditStatus) []model.AuditStatus {
	switch to {
	case model.AuditStatusRunning:
		return []model.AuditStatus{model.AuditStatusPending}
	case model.AuditStatusCompleted:
		return []model.AuditStatus{model.AuditStatusRunning}
	case model.AuditStatusFailed:
		return []model.AuditStatus{model.AuditStatusPending, model.AuditStatusRunning}
	default:
		return nil
	}
}
