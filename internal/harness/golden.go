package harness

import (
	"sort"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/reconcile"
)

// Snapshot is the id-free view of a scenario's final state. Events are keyed
// by source URI and members by identifier, so a snapshot does not change when
// id allocation order does.
type Snapshot struct {
	ScenarioName string              `json:"scenario_name"`
	Syncs        []SyncSnapshot      `json:"syncs"`
	FolderSets   map[string][]string `json:"folder_sets"`
	Events       []EventSnapshot     `json:"events"`
	Members      []MemberSnapshot    `json:"members"`
	Dashboard    *DashboardSnapshot  `json:"dashboard"`
	Limits       quota.Limits        `json:"limits"`
}

// SyncSnapshot is one report without timing or run ids.
type SyncSnapshot struct {
	Status engine.Status   `json:"status"`
	Code   engine.Code     `json:"code,omitempty"`
	Stats  reconcile.Stats `json:"stats"`
}

// EventSnapshot is one event.
type EventSnapshot struct {
	SourceURI   string    `json:"source_uri"`
	Title       string    `json:"title"`
	EventTypeID string    `json:"event_type_id"`
	Value       int       `json:"value"`
	StartDate   time.Time `json:"start_date"`
}

// MemberSnapshot is one member with the source URIs of attended events in
// start order.
type MemberSnapshot struct {
	Identifier string            `json:"identifier"`
	Properties map[string]string `json:"properties"`
	Points     map[string]int    `json:"points"`
	Attended   []string          `json:"attended"`
}

// DashboardSnapshot is the dashboard with birthdays keyed by identifier.
type DashboardSnapshot struct {
	TotalMembers         int                             `json:"total_members"`
	TotalEvents          int                             `json:"total_events"`
	TotalAttendees       int                             `json:"total_attendees"`
	AvgAttendeesPerEvent int                             `json:"avg_attendees_per_event"`
	EventTypes           map[string]model.EventTypeStats `json:"event_types"`
	UpcomingBirthdays    []BirthdaySnapshot              `json:"upcoming_birthdays"`
}

// BirthdaySnapshot is one upcoming birthday.
type BirthdaySnapshot struct {
	Identifier string `json:"identifier"`
	Birthday   string `json:"birthday"`
	DaysAway   int    `json:"days_away"`
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(name string, result *Result) *Snapshot {
	s := result.State
	snap := &Snapshot{
		ScenarioName: name,
		Syncs:        make([]SyncSnapshot, 0, len(result.Reports)),
		FolderSets:   make(map[string][]string, len(s.Troupe.EventTypes)),
		Events:       make([]EventSnapshot, 0, len(s.Events)),
		Members:      make([]MemberSnapshot, 0, len(s.Members)),
		Limits:       s.Limits,
	}
	for _, r := range result.Reports {
		ss := SyncSnapshot{Status: r.Status, Stats: r.Stats}
		if r.Err != nil {
			ss.Code = r.Err.Code
		}
		snap.Syncs = append(snap.Syncs, ss)
	}
	for id, et := range s.Troupe.EventTypes {
		folders := et.SourceFolderURIs
		if folders == nil {
			folders = []string{}
		}
		snap.FolderSets[id] = folders
	}

	uriByID := make(map[string]string, len(s.Events))
	for _, ev := range s.Events {
		uriByID[ev.ID] = ev.SourceURI
		snap.Events = append(snap.Events, EventSnapshot{
			SourceURI:   ev.SourceURI,
			Title:       ev.Title,
			EventTypeID: ev.EventTypeID,
			Value:       ev.Value,
			StartDate:   ev.StartDate,
		})
	}

	identByID := make(map[string]string, len(s.Members))
	for _, m := range s.Members {
		identByID[m.ID] = m.Identifier()
		props := map[string]string{}
		for name, p := range m.Properties {
			if p.Value != "" {
				props[name] = p.Value
			}
		}
		var records []model.AttendanceRecord
		for _, b := range s.Buckets[m.ID] {
			records = append(records, b.Events...)
		}
		sort.SliceStable(records, func(i, j int) bool {
			if !records[i].StartDate.Equal(records[j].StartDate) {
				return records[i].StartDate.Before(records[j].StartDate)
			}
			return uriByID[records[i].EventID] < uriByID[records[j].EventID]
		})
		attended := make([]string, 0, len(records))
		for _, r := range records {
			attended = append(attended, uriByID[r.EventID])
		}
		snap.Members = append(snap.Members, MemberSnapshot{
			Identifier: m.Identifier(),
			Properties: props,
			Points:     m.Points,
			Attended:   attended,
		})
	}
	sort.Slice(snap.Members, func(i, j int) bool { return snap.Members[i].Identifier < snap.Members[j].Identifier })

	if d := s.Dashboard; d != nil {
		ds := &DashboardSnapshot{
			TotalMembers:         d.TotalMembers,
			TotalEvents:          d.TotalEvents,
			TotalAttendees:       d.TotalAttendees,
			AvgAttendeesPerEvent: d.AvgAttendeesPerEvent,
			EventTypes:           d.EventTypes,
			UpcomingBirthdays:    []BirthdaySnapshot{},
		}
		for _, b := range d.UpcomingBirthdays.Members {
			ds.UpcomingBirthdays = append(ds.UpcomingBirthdays, BirthdaySnapshot{
				Identifier: identByID[b.MemberID],
				Birthday:   b.Birthday,
				DaysAway:   b.DaysAway,
			})
		}
		snap.Dashboard = ds
	}
	return snap
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already-run result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	// Compare with golden file using goldie
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
