// Package engine implements the stringplay sync orchestrator.
//
// A sync reconciles one troupe's canonical records with its external
// sources. It runs in four phases:
//
//  1. Locked: the troupe's lease is acquired atomically. A held, unexpired
//     lease fails the sync before any state is read or written.
//  2. Discovering: folders are traversed into events, then every event's
//     audience is extracted and merged into the member set.
//  3. Persisting: the reconciled change set and the quota delta commit in a
//     single transaction. Nothing is visible unless everything is.
//  4. Idle: the lease is released on every exit path, including failures
//     and caller cancellation.
//
// Failures are logged and returned. The Report records the last phase
// reached; the returned *SyncError carries a Code for callers that branch on
// the failure kind.
//
// After a successful commit an optional Publisher receives the events and
// members for the troupe's record log. A publication failure is reported but
// never rolls back the commit.
package engine
