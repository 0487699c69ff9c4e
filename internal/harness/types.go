package harness

import (
	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
)

// State is the persisted troupe state after the last sync.
type State struct {
	Troupe    *model.Troupe
	Events    []model.Event
	Members   []model.Member
	Buckets   map[string][]model.AttendanceBucket
	Dashboard *model.Dashboard // nil if no sync committed
	Limits    quota.Limits
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every sync expectation and assertion held.
	Pass bool `json:"pass"`

	// Reports holds one report per sync, in order.
	Reports []*engine.Report `json:"reports"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	State *State `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Reports: []*engine.Report{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// member returns the stored member with identifier, if any.
func (s *State) member(identifier string) (model.Member, bool) {
	for _, m := range s.Members {
		if m.Identifier() == identifier {
			return m, true
		}
	}
	return model.Member{}, false
}
