package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// createTestStore creates a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTroupe writes a troupe with one event type.
func createTestTroupe(t *testing.T, s *Store, id string) *model.Troupe {
	t.Helper()
	tr := model.NewTroupe(id, "Troupe "+id)
	tr.EventTypes["rehearsal"] = model.EventType{ID: "rehearsal", Title: "Rehearsal", Value: 5, SourceFolderURIs: []string{"folder-1"}}
	if err := s.CreateTroupe(context.Background(), tr); err != nil {
		t.Fatalf("CreateTroupe() failed: %v", err)
	}
	return tr
}

func testEvent(id, troupeID, uri string, start time.Time) model.Event {
	return model.Event{
		ID:          id,
		TroupeID:    troupeID,
		Title:       "Event " + id,
		SourceKind:  model.SourceForms,
		SourceURI:   uri,
		EventTypeID: "rehearsal",
		Value:       5,
		StartDate:   start,
	}
}

func testMember(id, troupeID, identifier string) model.Member {
	return model.Member{
		ID:       id,
		TroupeID: troupeID,
		Properties: map[string]model.Property{
			model.MemberIDProperty: {Value: identifier},
		},
		Points: map[string]int{model.TotalPointType: 0},
	}
}
