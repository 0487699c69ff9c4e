package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxEventTypes bounds the number of event types a troupe may define.
const MaxEventTypes = 10

// Built-in member properties. MemberIDProperty is the stable identity used to
// match attendees across syncs.
const (
	MemberIDProperty  = "member-id"
	FirstNameProperty = "first-name"
	LastNameProperty  = "last-name"
	EmailProperty     = "email"
	BirthdayProperty  = "birthday"
)

// TotalPointType is always present and has an unbounded window.
const TotalPointType = "Total"

// PropertyKind is the value type of a member property.
type PropertyKind string

const (
	PropertyString  PropertyKind = "string"
	PropertyNumber  PropertyKind = "number"
	PropertyBoolean PropertyKind = "boolean"
	PropertyDate    PropertyKind = "date"
)

// DigestFrequency controls the upcoming-birthday window on the dashboard.
type DigestFrequency string

const (
	DigestWeekly  DigestFrequency = "weekly"
	DigestMonthly DigestFrequency = "monthly"
)

// Troupe is an organization whose events and members are tracked.
type Troupe struct {
	ID               string                  `json:"id" yaml:"id"`
	Name             string                  `json:"name" yaml:"name"`
	LastUpdated      time.Time               `json:"last_updated" yaml:"last_updated,omitempty"`
	LogLocation      string                  `json:"log_location" yaml:"log_location"`
	EventTypes       map[string]EventType    `json:"event_types" yaml:"event_types"`
	MemberProperties map[string]PropertyType `json:"member_properties" yaml:"member_properties"`
	PointTypes       map[string]PointType    `json:"point_types" yaml:"point_types"`
	BirthdayDigest   DigestFrequency         `json:"birthday_digest" yaml:"birthday_digest"`

	// Lease is populated from the store's lock columns and never serialized
	// with the troupe document.
	Lease *Lease `json:"-" yaml:"-"`
}

// EventType is a category of events carrying a point value and a set of
// owned source folders.
type EventType struct {
	ID               string   `json:"id" yaml:"id"`
	Title            string   `json:"title" yaml:"title"`
	Value            int      `json:"value" yaml:"value"`
	SourceFolderURIs []string `json:"source_folder_uris" yaml:"source_folder_uris"`
}

// PropertyType describes one entry of the member property schema.
type PropertyType struct {
	Kind     PropertyKind `json:"kind" yaml:"kind"`
	Required bool         `json:"required" yaml:"required"`
}

// PointType is a named points window. Zero Start or End means unbounded on
// that side.
type PointType struct {
	Start time.Time `json:"start" yaml:"start,omitempty"`
	End   time.Time `json:"end" yaml:"end,omitempty"`
}

// Contains reports whether t falls inside the window (inclusive).
func (p PointType) Contains(t time.Time) bool {
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && t.After(p.End) {
		return false
	}
	return true
}

// Lease is the per-troupe sync exclusivity lock.
type Lease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease may be taken over at now.
func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// Locked reports whether a sync currently holds the troupe.
func (t *Troupe) Locked() bool {
	return t.Lease != nil
}

// NewTroupe returns a troupe populated with the built-in schema.
func NewTroupe(id, name string) *Troupe {
	t := &Troupe{ID: id, Name: name}
	t.ApplyDefaults()
	return t
}

// ApplyDefaults fills in built-in properties, the Total point type, and the
// default digest frequency. Existing entries are kept.
func (t *Troupe) ApplyDefaults() {
	if t.EventTypes == nil {
		t.EventTypes = map[string]EventType{}
	}
	if t.MemberProperties == nil {
		t.MemberProperties = map[string]PropertyType{}
	}
	builtin := map[string]PropertyType{
		MemberIDProperty:  {Kind: PropertyString, Required: true},
		FirstNameProperty: {Kind: PropertyString},
		LastNameProperty:  {Kind: PropertyString},
		EmailProperty:     {Kind: PropertyString},
		BirthdayProperty:  {Kind: PropertyDate},
	}
	for name, pt := range builtin {
		if _, ok := t.MemberProperties[name]; !ok {
			t.MemberProperties[name] = pt
		}
	}
	if t.PointTypes == nil {
		t.PointTypes = map[string]PointType{}
	}
	t.PointTypes[TotalPointType] = PointType{}
	if t.BirthdayDigest == "" {
		t.BirthdayDigest = DigestMonthly
	}
}

// EventTypeIDs returns event type ids in sorted order.
func (t *Troupe) EventTypeIDs() []string {
	ids := make([]string, 0, len(t.EventTypes))
	for id := range t.EventTypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PropertyNames returns schema property names in sorted order.
func (t *Troupe) PropertyNames() []string {
	names := make([]string, 0, len(t.MemberProperties))
	for name := range t.MemberProperties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrInvalidTroupe is wrapped by every Validate failure.
var ErrInvalidTroupe = errors.New("invalid troupe")

// Validate checks the troupe-level invariants.
func (t *Troupe) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTroupe)
	}
	if len(t.EventTypes) > MaxEventTypes {
		return fmt.Errorf("%w: %d event types exceeds maximum %d", ErrInvalidTroupe, len(t.EventTypes), MaxEventTypes)
	}
	owners := make(map[string]string)
	for _, id := range t.EventTypeIDs() {
		et := t.EventTypes[id]
		if et.ID != id {
			return fmt.Errorf("%w: event type key %q does not match id %q", ErrInvalidTroupe, id, et.ID)
		}
		for _, folder := range et.SourceFolderURIs {
			if prev, ok := owners[folder]; ok {
				return fmt.Errorf("%w: folder %q owned by both %q and %q", ErrInvalidTroupe, folder, prev, id)
			}
			owners[folder] = id
		}
	}
	idProp, ok := t.MemberProperties[MemberIDProperty]
	if !ok || !idProp.Required {
		return fmt.Errorf("%w: %q must be a required property", ErrInvalidTroupe, MemberIDProperty)
	}
	return nil
}
