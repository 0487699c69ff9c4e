package source

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FixtureData is the YAML layout of a fixture drive.
//
//	folders:
//	  folder-1:
//	    - id: form-1
//	      name: Rehearsal
//	      mime_type: application/vnd.google-apps.form
//	      created_time: 2024-03-01T18:00:00Z
//	forms:
//	  form-1:
//	    - id: r1
//	      submitted_at: 2024-03-01T19:00:00Z
//	      answers: {q-email: alice@example.com}
//	sheets:
//	  sheet-1: [[email, first], [bob@example.com, Bob]]
//	documents:
//	  cal-1: "BEGIN:VCALENDAR ..."
//	failing: [folder-9]
type FixtureData struct {
	Folders   map[string][]Entry        `yaml:"folders" validate:"dive,dive"`
	Forms     map[string][]FormResponse `yaml:"forms"`
	Sheets    map[string][][]string     `yaml:"sheets"`
	Documents map[string]string         `yaml:"documents"`
	Failing   []string                  `yaml:"failing"`
}

// Fixture is an in-memory Drive described by FixtureData. Ids listed in
// Failing, or registered with Fail, return an error from every read.
type Fixture struct {
	mu       sync.RWMutex
	data     FixtureData
	failures map[string]error
	calls    map[string]int
}

var validate = validator.New()

// NewFixture builds a fixture from parsed data.
func NewFixture(data FixtureData) (*Fixture, error) {
	if err := validate.Struct(data); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	f := &Fixture{
		data:     data,
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	for _, id := range data.Failing {
		f.failures[id] = fmt.Errorf("fixture: %s unavailable", id)
	}
	return f, nil
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(raw []byte) (*Fixture, error) {
	var data FixtureData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return NewFixture(data)
}

// LoadFixture reads a YAML fixture from path.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(raw)
}

// Fail makes every read of id return err. A nil err clears the failure.
func (f *Fixture) Fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, id)
		return
	}
	f.failures[id] = err
}

// Calls returns how many reads of id were attempted.
func (f *Fixture) Calls(id string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[id]
}

func (f *Fixture) begin(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.failures[id]
}

// ListChildren implements FolderLister.
func (f *Fixture) ListChildren(ctx context.Context, folderID string) ([]Entry, error) {
	if err := f.begin(ctx, folderID); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	children, ok := f.data.Folders[folderID]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", folderID, ErrNotFound)
	}
	return append([]Entry(nil), children...), nil
}

// FormResponses implements FormReader.
func (f *Fixture) FormResponses(ctx context.Context, formID string) ([]FormResponse, error) {
	if err := f.begin(ctx, formID); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	responses, ok := f.data.Forms[formID]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", formID, ErrNotFound)
	}
	return append([]FormResponse(nil), responses...), nil
}

// SheetValues implements SheetReader.
func (f *Fixture) SheetValues(ctx context.Context, sheetID string) ([][]string, error) {
	if err := f.begin(ctx, sheetID); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	values, ok := f.data.Sheets[sheetID]
	if !ok {
		return nil, fmt.Errorf("sheet %s: %w", sheetID, ErrNotFound)
	}
	return values, nil
}

// Document implements DocumentReader.
func (f *Fixture) Document(ctx context.Context, documentID string) ([]byte, error) {
	if err := f.begin(ctx, documentID); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, ok := f.data.Documents[documentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return []byte(doc), nil
}
