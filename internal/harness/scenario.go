package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
)

// Scenario defines an end-to-end sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the clock's starting time.
	Now time.Time `yaml:"now"`

	// Troupe is seeded before the first sync.
	Troupe TroupeSetup `yaml:"troupe"`

	// Drive describes the source folders and documents.
	Drive source.FixtureData `yaml:"drive"`

	// Syncs run in order against the same database.
	Syncs []SyncStep `yaml:"syncs"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// TroupeSetup is the seeded troupe with its initial collections.
type TroupeSetup struct {
	model.Troupe `yaml:",inline"`

	// Limits default to quota.DefaultLimits when omitted.
	Limits  quota.Limits   `yaml:"limits,omitempty"`
	Events  []model.Event  `yaml:"events,omitempty"`
	Members []model.Member `yaml:"members,omitempty"`
}

// SyncStep is one sync with the edits and faults that precede it.
type SyncStep struct {
	// Advance moves the clock before the sync.
	Advance time.Duration `yaml:"advance,omitempty"`

	// MapFields replaces the field map of the event with each source URI.
	MapFields map[string]map[string]model.FieldMapping `yaml:"map_fields,omitempty"`

	// Fail lists source ids whose reads fail during this sync.
	Fail []string `yaml:"fail,omitempty"`

	// HeldBy, if set, leaves a live lease owned by this id on the troupe.
	HeldBy string `yaml:"held_by,omitempty"`

	BypassQuota bool `yaml:"bypass_quota,omitempty"`

	// Expect validates the sync's report. If nil, the sync must succeed.
	Expect *SyncExpect `yaml:"expect,omitempty"`
}

// SyncExpect specifies the expected report.
type SyncExpect struct {
	Status engine.Status `yaml:"status"`
	Code   engine.Code   `yaml:"code,omitempty"`

	// Stats is a subset match on the report's stats by JSON name.
	Stats map[string]int `yaml:"stats,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "member": a member's points and properties (subset), or absence
	// - "member_count": number of stored members
	// - "events": number of events and, optionally, their source URIs
	// - "folders": an event type's folder set, in order
	// - "limits": remaining quota (subset)
	// - "dashboard": dashboard totals (subset, by JSON name)
	// - "unlocked": no lease remains
	Type string `yaml:"type"`

	// Identifier selects the member (used by member).
	Identifier string            `yaml:"identifier,omitempty"`
	Points     map[string]int    `yaml:"points,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`
	Absent     bool              `yaml:"absent,omitempty"`

	// Count is the expected size (used by member_count and events).
	Count *int `yaml:"count,omitempty"`

	// SourceURIs are the expected event source URIs in any order (used by events).
	SourceURIs []string `yaml:"source_uris,omitempty"`

	// EventType and Folders are used by folders.
	EventType string   `yaml:"event_type,omitempty"`
	Folders   []string `yaml:"folders,omitempty"`

	// Limits is used by limits.
	Limits quota.Limits `yaml:"limits,omitempty"`

	// Totals is used by dashboard.
	Totals map[string]int `yaml:"totals,omitempty"`
}

// Assertion type constants.
const (
	AssertMember      = "member"
	AssertMemberCount = "member_count"
	AssertEvents      = "events"
	AssertFolders     = "folders"
	AssertLimits      = "limits"
	AssertDashboard   = "dashboard"
	AssertUnlocked    = "unlocked"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Now.IsZero() {
		return fmt.Errorf("now is required")
	}
	if s.Troupe.ID == "" {
		return fmt.Errorf("troupe.id is required")
	}
	if len(s.Syncs) == 0 {
		return fmt.Errorf("syncs list is required and must be non-empty")
	}
	for i, step := range s.Syncs {
		if step.Expect != nil && step.Expect.Status == "" {
			return fmt.Errorf("syncs[%d].expect: status is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertMember:
		if a.Identifier == "" {
			return fmt.Errorf("assertions[%d]: identifier is required for member", index)
		}
	case AssertMemberCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for member_count", index)
		}
	case AssertEvents:
		if a.Count == nil && a.SourceURIs == nil {
			return fmt.Errorf("assertions[%d]: count or source_uris is required for events", index)
		}
	case AssertFolders:
		if a.EventType == "" {
			return fmt.Errorf("assertions[%d]: event_type is required for folders", index)
		}
	case AssertLimits:
		if len(a.Limits) == 0 {
			return fmt.Errorf("assertions[%d]: limits is required for limits", index)
		}
	case AssertDashboard:
		if len(a.Totals) == 0 {
			return fmt.Errorf("assertions[%d]: totals is required for dashboard", index)
		}
	case AssertUnlocked:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
