package engine

import (
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/reconcile"
)

// Status is the final outcome of a sync.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusLocked    Status = "locked"
)

// Phase is a sync state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseLocked      Phase = "locked"
	PhaseDiscovering Phase = "discovering"
	PhasePersisting  Phase = "persisting"
)

// Report describes one sync.
type Report struct {
	TroupeID   string          `json:"troupe_id"`
	RunID      string          `json:"run_id"`
	Status     Status          `json:"status"`
	Phase      Phase           `json:"phase"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   time.Duration   `json:"duration_ns"`
	Stats      reconcile.Stats `json:"stats"`
	QuotaDelta quota.Limits    `json:"quota_delta,omitempty"`

	Published    bool   `json:"published"`
	PublishError string `json:"publish_error,omitempty"`
	Error        string `json:"error,omitempty"`

	// Err and PublishErr keep the typed errors for callers; the string
	// fields above are their serialized form.
	Err        *SyncError `json:"-"`
	PublishErr *SyncError `json:"-"`
}

// Succeeded reports whether the sync committed.
func (r *Report) Succeeded() bool {
	return r.Status == StatusSucceeded
}
