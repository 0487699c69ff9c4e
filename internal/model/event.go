package model

import (
	"sort"
	"time"
)

// SourceKind identifies the external document type an event originates from.
type SourceKind string

const (
	SourceNone     SourceKind = ""
	SourceForms    SourceKind = "forms"
	SourceSheets   SourceKind = "sheets"
	SourceCalendar SourceKind = "calendar"
)

// Event is one occurrence attendees earn points for.
type Event struct {
	ID          string     `json:"id" yaml:"id"`
	TroupeID    string     `json:"troupe_id" yaml:"troupe_id"`
	Title       string     `json:"title" yaml:"title"`
	SourceKind  SourceKind `json:"source_kind" yaml:"source_kind"`
	SourceURI   string     `json:"source_uri" yaml:"source_uri"`
	EventTypeID string     `json:"event_type_id,omitempty" yaml:"event_type_id,omitempty"`
	Value       int        `json:"value" yaml:"value"`
	StartDate   time.Time  `json:"start_date" yaml:"start_date"`
	LastUpdated time.Time  `json:"last_updated" yaml:"last_updated,omitempty"`

	// FieldToPropertyMap routes source fields (form question ids, sheet
	// headers, calendar attendee parameters) to member properties.
	FieldToPropertyMap map[string]FieldMapping `json:"field_to_property_map" yaml:"field_to_property_map"`
}

// FieldMapping binds a source field to a member property.
type FieldMapping struct {
	Property string `json:"property" yaml:"property"`
	Override bool   `json:"override" yaml:"override"`
}

// PropertyForField returns the property a field maps to, if any.
func (e *Event) PropertyForField(field string) (string, bool) {
	m, ok := e.FieldToPropertyMap[field]
	if !ok || m.Property == "" {
		return "", false
	}
	return m.Property, true
}

// IdentifierField returns the source field mapped to MemberIDProperty.
// When several fields map to it, the lowest field name wins.
func (e *Event) IdentifierField() (string, bool) {
	var fields []string
	for field, m := range e.FieldToPropertyMap {
		if m.Property == MemberIDProperty {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return "", false
	}
	sort.Strings(fields)
	return fields[0], true
}
