// Package audience extracts event attendees from their source documents and
// merges them into the troupe's member set.
//
// One Delegate exists per source kind. Delegates run concurrently, one call
// per event, and write into a shared Accumulator. Every merge the
// Accumulator performs is associative and order-independent: property values
// resolve by (mapping override, timestamp, value), attendance records are
// keyed by event id, and points are recomputed from the final record set.
// The outcome therefore does not depend on delegate scheduling.
package audience
