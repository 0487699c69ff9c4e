package model

import "time"

// Dashboard is the derived per-troupe summary. It is replaced in full on
// every successful sync.
type Dashboard struct {
	TroupeID             string                    `json:"troupe_id"`
	LastUpdated          time.Time                 `json:"last_updated"`
	TotalMembers         int                       `json:"total_members"`
	TotalEvents          int                       `json:"total_events"`
	TotalAttendees       int                       `json:"total_attendees"`
	AvgAttendeesPerEvent int                       `json:"avg_attendees_per_event"`
	EventTypes           map[string]EventTypeStats `json:"event_types"`
	UpcomingBirthdays    BirthdayDigest            `json:"upcoming_birthdays"`
}

// EventTypeStats aggregates one event type. Percentages are whole numbers
// in [0, 100].
type EventTypeStats struct {
	Title           string `json:"title"`
	TotalEvents     int    `json:"total_events"`
	TotalAttendees  int    `json:"total_attendees"`
	AvgAttendees    int    `json:"avg_attendees"`
	EventPercent    int    `json:"event_percent"`
	AttendeePercent int    `json:"attendee_percent"`
}

// BirthdayDigest lists members with a birthday inside the digest window.
type BirthdayDigest struct {
	Frequency DigestFrequency `json:"frequency"`
	Members   []BirthdayEntry `json:"members"`
}

// BirthdayEntry is one upcoming birthday.
type BirthdayEntry struct {
	MemberID  string `json:"member_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Birthday  string `json:"birthday"`
	DaysAway  int    `json:"days_away"`
}
