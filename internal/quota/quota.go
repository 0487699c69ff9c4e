// Package quota tracks the per-troupe resource allowances that gate discovery.
//
// Accounting happens in two phases. During discovery a Projection admits new
// resources against a snapshot of the ledger without touching storage. At
// commit the Projection's aggregate Delta is applied to the Ledger inside the
// same transaction as the discovered records, and the Ledger has the final
// say.
package quota

import (
	"errors"
	"fmt"
	"sort"
)

// Kind names a limited resource.
type Kind string

const (
	Events        Kind = "events"
	SourceFolders Kind = "sourceFolders"
	Members       Kind = "members"
	EventTypes    Kind = "eventTypes"
)

// Kinds lists every resource kind in a stable order.
var Kinds = []Kind{Events, SourceFolders, Members, EventTypes}

// ErrExceeded is returned when an increment would drive a counter below zero.
var ErrExceeded = errors.New("quota exceeded")

// Limits maps resource kinds to counts. As ledger state the counts are
// remaining allowances; as a delta they are signed changes to those
// allowances, negative when resources are consumed.
type Limits map[Kind]int

// DefaultLimits returns the allowances seeded for a new troupe.
func DefaultLimits() Limits {
	return Limits{
		Events:        200,
		SourceFolders: 20,
		Members:       200,
		EventTypes:    10,
	}
}

// Clone returns a copy of l.
func (l Limits) Clone() Limits {
	out := make(Limits, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Zero reports whether every count is zero.
func (l Limits) Zero() bool {
	for _, v := range l {
		if v != 0 {
			return false
		}
	}
	return true
}

// Apply returns l+delta and the first kind, in sorted order, that went
// negative, if any. Every kind of delta is applied either way.
func (l Limits) Apply(delta Limits) (Limits, Kind, bool) {
	out := l.Clone()
	var neg Kind
	for _, k := range sortedKinds(delta) {
		out[k] += delta[k]
		if out[k] < 0 && neg == "" {
			neg = k
		}
	}
	return out, neg, neg == ""
}

func (l Limits) String() string {
	s := ""
	for i, k := range sortedKinds(l) {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", k, l[k])
	}
	return s
}

func sortedKinds(l Limits) []Kind {
	kinds := make([]Kind, 0, len(l))
	for k := range l {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ExceededError reports which counter refused an increment.
type ExceededError struct {
	TroupeID  string
	Kind      Kind
	Remaining int
	Delta     int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("troupe %s: %s quota exceeded: %d remaining, delta %d",
		e.TroupeID, e.Kind, e.Remaining, e.Delta)
}

// Unwrap lets errors.Is match ErrExceeded.
func (e *ExceededError) Unwrap() error {
	return ErrExceeded
}

// IsExceeded returns true if err is a quota refusal.
// Uses errors.As to handle wrapped errors.
func IsExceeded(err error) bool {
	var ee *ExceededError
	return errors.As(err, &ee) || errors.Is(err, ErrExceeded)
}
