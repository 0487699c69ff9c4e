package quota

import "sync"

// Projection is the local, discovery-time view of a troupe's allowances.
//
// It admits resources against a snapshot taken at the start of a sync and
// accumulates the signed delta to apply at commit. Safe for concurrent use;
// audience delegates take member units from parallel goroutines.
type Projection struct {
	mu       sync.Mutex
	snapshot Limits
	delta    Limits
}

// NewProjection creates a projection over a ledger snapshot.
func NewProjection(snapshot Limits) *Projection {
	return &Projection{
		snapshot: snapshot.Clone(),
		delta:    Limits{},
	}
}

// Unlimited returns a projection that always admits. Used when the ledger is
// bypassed for a troupe.
func Unlimited() *Projection {
	p := NewProjection(nil)
	p.snapshot = nil
	return p
}

// Take admits one unit of kind if snapshot+delta-1 stays non-negative.
func (p *Projection) Take(kind Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snapshot != nil && p.snapshot[kind]+p.delta[kind]-1 < 0 {
		return false
	}
	p.delta[kind]--
	return true
}

// Refund returns one unit of kind.
func (p *Projection) Refund(kind Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delta[kind]++
}

// Remaining returns the projected allowance of kind, or -1 when unlimited.
func (p *Projection) Remaining(kind Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return -1
	}
	return p.snapshot[kind] + p.delta[kind]
}

// Delta returns a copy of the accumulated signed delta, omitting zero kinds.
func (p *Projection) Delta() Limits {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Limits{}
	for k, v := range p.delta {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
