package engine

import (
	"errors"
	"fmt"
)

// Code categorizes sync failures.
type Code string

const (
	// CodeLocked indicates another sync holds the troupe's lease.
	CodeLocked Code = "LOCKED"

	// CodeNotFound indicates the troupe does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeDiscoveryFailed indicates loading state or folder traversal failed.
	CodeDiscoveryFailed Code = "DISCOVERY_FAILED"

	// CodeAudienceFailed indicates a discovery delegate failed.
	CodeAudienceFailed Code = "AUDIENCE_FAILED"

	// CodePersistFailed indicates the commit transaction failed.
	CodePersistFailed Code = "PERSIST_FAILED"

	// CodeQuotaExceeded indicates the ledger refused the sync's quota delta.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"

	// CodePublishFailed indicates the record log could not be updated.
	CodePublishFailed Code = "PUBLISH_FAILED"
)

// SyncError is returned by Sync when a troupe sync does not complete.
type SyncError struct {
	// Code identifies the error category.
	Code Code

	// TroupeID identifies the affected troupe.
	TroupeID string

	// Phase is the last phase the sync reached.
	Phase Phase

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: troupe %s (phase=%s)", e.Code, e.TroupeID, e.Phase)
	}
	return fmt.Sprintf("%s: troupe %s (phase=%s): %v", e.Code, e.TroupeID, e.Phase, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a wrapped SyncError, or "" if err is not one.
func CodeOf(err error) Code {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsLocked returns true if the error reports lease contention.
// Uses errors.As to handle wrapped errors.
func IsLocked(err error) bool {
	return CodeOf(err) == CodeLocked
}

// IsNotFound returns true if the error reports a missing troupe.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}
