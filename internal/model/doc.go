// Package model defines the canonical record set tracked per troupe.
//
// This package contains type definitions and small invariant helpers only.
// Every other internal package imports model; model imports nothing internal.
//
// Key constraints:
//   - A troupe holds at most MaxEventTypes event types
//   - A source folder is owned by at most one event type
//   - An event's SourceURI is unique within its troupe
//   - A member's cross-sync identity is its MemberIDProperty value, not its ID
//   - Attendance buckets hold at most MaxPageSize records
package model
