// Package source is the boundary to the external document store holding a
// troupe's folders, forms, spreadsheets and calendar files.
//
// The engine only sees the interfaces declared here. Fixture implements them
// from a YAML description of a drive; Guard wraps any implementation with a
// circuit breaker and a rate limiter.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// MIME types recognized during folder traversal.
const (
	MIMEFolder   = "application/vnd.google-apps.folder"
	MIMEForm     = "application/vnd.google-apps.form"
	MIMESheet    = "application/vnd.google-apps.spreadsheet"
	MIMECalendar = "text/calendar"
)

// ErrNotFound is returned when a folder or document does not exist.
var ErrNotFound = errors.New("source not found")

// Entry is one child of a listed folder.
type Entry struct {
	ID          string    `yaml:"id" validate:"required"`
	Name        string    `yaml:"name"`
	MIMEType    string    `yaml:"mime_type" validate:"required"`
	CreatedTime time.Time `yaml:"created_time"`
}

// IsFolder reports whether the entry is a folder.
func (e Entry) IsFolder() bool {
	return e.MIMEType == MIMEFolder
}

// KindForMIME maps a file MIME type to the event source kind it produces.
func KindForMIME(mime string) (model.SourceKind, bool) {
	switch mime {
	case MIMEForm:
		return model.SourceForms, true
	case MIMESheet:
		return model.SourceSheets, true
	case MIMECalendar:
		return model.SourceCalendar, true
	default:
		return model.SourceNone, false
	}
}

// FormResponse is one submitted form response. Answers are keyed by
// question id.
type FormResponse struct {
	ID          string            `yaml:"id"`
	SubmittedAt time.Time         `yaml:"submitted_at"`
	Answers     map[string]string `yaml:"answers"`
}

// FolderLister lists the direct children of a folder.
type FolderLister interface {
	ListChildren(ctx context.Context, folderID string) ([]Entry, error)
}

// FormReader reads the responses of a form.
type FormReader interface {
	FormResponses(ctx context.Context, formID string) ([]FormResponse, error)
}

// SheetReader reads the value grid of a spreadsheet's first sheet. The first
// row is the header.
type SheetReader interface {
	SheetValues(ctx context.Context, sheetID string) ([][]string, error)
}

// DocumentReader reads a raw document such as an ICS file.
type DocumentReader interface {
	Document(ctx context.Context, documentID string) ([]byte, error)
}

// Drive is a complete source backend.
type Drive interface {
	FolderLister
	FormReader
	SheetReader
	DocumentReader
}
