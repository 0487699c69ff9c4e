package model

import "time"

// MaxPageSize is the capacity of one attendance bucket.
const MaxPageSize = 30

// Member is one tracked person in a troupe.
type Member struct {
	ID          string              `json:"id" yaml:"id"`
	TroupeID    string              `json:"troupe_id" yaml:"troupe_id"`
	Properties  map[string]Property `json:"properties" yaml:"properties"`
	Points      map[string]int      `json:"points" yaml:"points"`
	LastUpdated time.Time           `json:"last_updated" yaml:"last_updated,omitempty"`
}

// Property is a member property value. Override marks a value set by an
// operator that syncs must not replace.
type Property struct {
	Value    string `json:"value" yaml:"value"`
	Override bool   `json:"override" yaml:"override"`
}

// Identifier returns the member's cross-sync identity.
func (m *Member) Identifier() string {
	return m.Properties[MemberIDProperty].Value
}

// TotalPoints returns the member's Total point count.
func (m *Member) TotalPoints() int {
	return m.Points[TotalPointType]
}

// AttendanceRecord attributes one event to one member.
type AttendanceRecord struct {
	EventID   string    `json:"event_id"`
	TypeID    string    `json:"type_id,omitempty"`
	Value     int       `json:"value"`
	StartDate time.Time `json:"start_date"`
}

// AttendanceBucket is one fixed-capacity page of a member's attendance
// history. A member's history is its buckets concatenated by Page.
type AttendanceBucket struct {
	ID       string             `json:"id"`
	TroupeID string             `json:"troupe_id"`
	MemberID string             `json:"member_id"`
	Page     int                `json:"page"`
	Events   []AttendanceRecord `json:"events"`
}
