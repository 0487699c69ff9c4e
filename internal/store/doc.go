// Package store provides SQLite-backed storage for the per-troupe record set.
//
// Collections:
//   - troupes: troupe documents plus the sync lease columns
//   - dashboards: one derived dashboard per troupe, replaced on every sync
//   - events: unique per (troupe_id, source_uri) when a source is set
//   - members: keyed by storage id; cross-sync identity lives in the document
//   - attendance_buckets: fixed-capacity pages, unique per (member_id, page)
//   - limits: the quota ledger's remaining counters
//
// All writes are upsert-by-id or delete. Commit applies a sync's complete
// ChangeSet inside one transaction; nothing of it is visible unless all of it
// is.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Buckets cascade with their member
package store
