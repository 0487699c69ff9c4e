// Package reconcile turns the outcome of discovery into the single change
// set a sync commits: paginated attendance buckets, the recomputed
// dashboard, and the quota delta.
package reconcile
