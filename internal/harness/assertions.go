package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cloudydaiyz/stringplay-core/internal/quota"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluateAssertion dispatches one assertion against the final state.
func evaluateAssertion(s *State, a Assertion) error {
	switch a.Type {
	case AssertMember:
		return assertMember(s, a)
	case AssertMemberCount:
		if len(s.Members) != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d members", *a.Count),
				Actual:   fmt.Sprintf("%d members %v", len(s.Members), identifiers(s)),
			}
		}
		return nil
	case AssertEvents:
		return assertEvents(s, a)
	case AssertFolders:
		return assertFolders(s, a)
	case AssertLimits:
		return assertLimits(s, a)
	case AssertDashboard:
		return assertDashboard(s, a)
	case AssertUnlocked:
		if s.Troupe.Locked() {
			return &AssertionError{Type: a.Type, Expected: "no lease", Actual: "lease held by " + s.Troupe.Lease.Owner}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func identifiers(s *State) []string {
	ids := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.Identifier())
	}
	sort.Strings(ids)
	return ids
}

func assertMember(s *State, a Assertion) error {
	m, ok := s.member(a.Identifier)
	if a.Absent {
		if ok {
			return &AssertionError{Type: a.Type, Expected: a.Identifier + " absent", Actual: "present"}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: a.Identifier + " present",
			Actual:   fmt.Sprintf("members %v", identifiers(s)),
		}
	}
	for name, want := range a.Points {
		if got := m.Points[name]; got != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s points = %d", a.Identifier, name, want),
				Actual:   fmt.Sprintf("%d (all points %v)", got, m.Points),
			}
		}
	}
	for name, want := range a.Properties {
		if got := m.Properties[name].Value; got != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s = %q", a.Identifier, name, want),
				Actual:   fmt.Sprintf("%q", got),
			}
		}
	}
	return nil
}

func assertEvents(s *State, a Assertion) error {
	uris := make([]string, 0, len(s.Events))
	for _, ev := range s.Events {
		uris = append(uris, ev.SourceURI)
	}
	sort.Strings(uris)

	if a.Count != nil && len(s.Events) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d events", *a.Count),
			Actual:   fmt.Sprintf("%d events %v", len(s.Events), uris),
		}
	}
	if a.SourceURIs != nil {
		want := append([]string(nil), a.SourceURIs...)
		sort.Strings(want)
		if !reflect.DeepEqual(want, uris) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("source uris %v", want),
				Actual:   fmt.Sprintf("%v", uris),
			}
		}
	}
	return nil
}

func assertFolders(s *State, a Assertion) error {
	et, ok := s.Troupe.EventTypes[a.EventType]
	if !ok {
		return &AssertionError{Type: a.Type, Expected: "event type " + a.EventType, Actual: "missing"}
	}
	got := et.SourceFolderURIs
	if got == nil {
		got = []string{}
	}
	want := a.Folders
	if want == nil {
		want = []string{}
	}
	if !reflect.DeepEqual(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s folders %v", a.EventType, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertLimits(s *State, a Assertion) error {
	for _, kind := range quota.Kinds {
		want, ok := a.Limits[kind]
		if !ok {
			continue
		}
		if got := s.Limits[kind]; got != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s remaining = %d", kind, want),
				Actual:   fmt.Sprintf("%d (limits %s)", got, s.Limits),
			}
		}
	}
	return nil
}

func assertDashboard(s *State, a Assertion) error {
	if s.Dashboard == nil {
		return &AssertionError{Type: a.Type, Expected: "a dashboard", Actual: "none committed"}
	}
	raw, err := json.Marshal(s.Dashboard)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	names := make([]string, 0, len(a.Totals))
	for name := range a.Totals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		got, ok := fields[name].(float64)
		if !ok || int(got) != a.Totals[name] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s = %d", name, a.Totals[name]),
				Actual:   fmt.Sprintf("%v", fields[name]),
			}
		}
	}
	return nil
}
