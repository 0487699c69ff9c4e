// Package publish writes a troupe's human-readable record log after a sync.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// ErrBadLocation is returned for log locations that escape the log directory.
var ErrBadLocation = errors.New("log location outside log directory")

// Log is the published document.
type Log struct {
	TroupeID    string      `json:"troupe_id"`
	TroupeName  string      `json:"troupe_name"`
	LastUpdated time.Time   `json:"last_updated"`
	PointTypes  []string    `json:"point_types"`
	Events      []LogEvent  `json:"events"`
	Members     []LogMember `json:"members"`
}

// LogEvent is one row of the events table.
type LogEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	EventType string    `json:"event_type"`
	Value     int       `json:"value"`
	StartDate time.Time `json:"start_date"`
	SourceURI string    `json:"source_uri"`
}

// LogMember is one row of the members table.
type LogMember struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	Points     map[string]int    `json:"points"`
}

// FileLog writes one JSON document per troupe under Dir.
type FileLog struct {
	Dir string
}

// NewFileLog creates a publisher rooted at dir.
func NewFileLog(dir string) *FileLog {
	return &FileLog{Dir: dir}
}

// Path resolves the file a location refers to. An empty location falls back
// to "<troupe-id>.json".
func (f *FileLog) Path(location, troupeID string) (string, error) {
	if location == "" {
		location = troupeID + ".json"
	}
	if !filepath.IsLocal(location) {
		return "", fmt.Errorf("%w: %q", ErrBadLocation, location)
	}
	return filepath.Join(f.Dir, location), nil
}

// UpdateLog replaces the log at location. Events and members are written in
// the order given. The file is swapped in atomically.
func (f *FileLog) UpdateLog(ctx context.Context, location string, troupe *model.Troupe, events []model.Event, members []model.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.Path(location, troupe.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(BuildLog(troupe, events, members), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".log-*")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	defer os.Remove(tmp.Name()) // No-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace log: %w", err)
	}
	return nil
}

// BuildLog flattens troupe state into the published document.
func BuildLog(troupe *model.Troupe, events []model.Event, members []model.Member) *Log {
	doc := &Log{
		TroupeID:    troupe.ID,
		TroupeName:  troupe.Name,
		LastUpdated: troupe.LastUpdated,
		PointTypes:  pointTypes(troupe),
		Events:      make([]LogEvent, 0, len(events)),
		Members:     make([]LogMember, 0, len(members)),
	}
	for _, ev := range events {
		title := ""
		if et, ok := troupe.EventTypes[ev.EventTypeID]; ok {
			title = et.Title
		}
		doc.Events = append(doc.Events, LogEvent{
			ID:        ev.ID,
			Title:     ev.Title,
			EventType: title,
			Value:     ev.Value,
			StartDate: ev.StartDate,
			SourceURI: ev.SourceURI,
		})
	}
	for _, m := range members {
		props := make(map[string]string, len(m.Properties))
		for name, p := range m.Properties {
			if p.Value != "" {
				props[name] = p.Value
			}
		}
		doc.Members = append(doc.Members, LogMember{ID: m.ID, Properties: props, Points: m.Points})
	}
	return doc
}

// pointTypes lists point type names with Total first, the rest sorted.
func pointTypes(t *model.Troupe) []string {
	names := []string{model.TotalPointType}
	rest := make([]string, 0, len(t.PointTypes))
	for name := range t.PointTypes {
		if name != model.TotalPointType {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
