package reconcile

import (
	"math"
	"sort"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/audience"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// birthdayLayouts are the accepted birthday property formats.
var birthdayLayouts = []string{"2006-01-02", "01/02/2006", "01-02"}

// BuildDashboard recomputes the troupe dashboard from scratch.
//
// Attendees are counted per attendance: a member at three events counts
// three times. Averages and shares are rounded to whole numbers and are 0
// when their denominator is 0.
func BuildDashboard(t *model.Troupe, events []model.Event, members []audience.MemberState, now time.Time) *model.Dashboard {
	attendees := make(map[string]int, len(events))
	for _, ms := range members {
		for _, r := range ms.Records {
			attendees[r.EventID]++
		}
	}

	d := &model.Dashboard{
		TroupeID:     t.ID,
		LastUpdated:  now,
		TotalMembers: len(members),
		TotalEvents:  len(events),
		EventTypes:   make(map[string]model.EventTypeStats, len(t.EventTypes)),
	}
	for id, et := range t.EventTypes {
		d.EventTypes[id] = model.EventTypeStats{Title: et.Title}
	}
	for _, ev := range events {
		n := attendees[ev.ID]
		d.TotalAttendees += n
		stats, ok := d.EventTypes[ev.EventTypeID]
		if !ok {
			continue
		}
		stats.TotalEvents++
		stats.TotalAttendees += n
		d.EventTypes[ev.EventTypeID] = stats
	}

	d.AvgAttendeesPerEvent = ratio(d.TotalAttendees, d.TotalEvents, 1)
	for id, stats := range d.EventTypes {
		stats.AvgAttendees = ratio(stats.TotalAttendees, stats.TotalEvents, 1)
		stats.EventPercent = ratio(stats.TotalEvents, d.TotalEvents, 100)
		stats.AttendeePercent = ratio(stats.TotalAttendees, d.TotalAttendees, 100)
		d.EventTypes[id] = stats
	}

	d.UpcomingBirthdays = upcomingBirthdays(t.BirthdayDigest, members, now)
	return d
}

// ratio returns round(scale*num/den), or 0 when den is 0.
func ratio(num, den, scale int) int {
	if den == 0 {
		return 0
	}
	return int(math.Round(float64(scale*num) / float64(den)))
}

// DigestWindow returns the look-ahead of a digest frequency in days.
func DigestWindow(f model.DigestFrequency) int {
	if f == model.DigestWeekly {
		return 7
	}
	return 30
}

func upcomingBirthdays(freq model.DigestFrequency, members []audience.MemberState, now time.Time) model.BirthdayDigest {
	window := DigestWindow(freq)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	digest := model.BirthdayDigest{Frequency: freq, Members: []model.BirthdayEntry{}}
	for _, ms := range members {
		raw := ms.Member.Properties[model.BirthdayProperty].Value
		month, day, ok := parseBirthday(raw)
		if !ok {
			continue
		}
		away := daysUntil(today, month, day)
		if away > window {
			continue
		}
		digest.Members = append(digest.Members, model.BirthdayEntry{
			MemberID:  ms.Member.ID,
			FirstName: ms.Member.Properties[model.FirstNameProperty].Value,
			LastName:  ms.Member.Properties[model.LastNameProperty].Value,
			Birthday:  raw,
			DaysAway:  away,
		})
	}
	sort.Slice(digest.Members, func(i, j int) bool {
		a, b := digest.Members[i], digest.Members[j]
		if a.DaysAway != b.DaysAway {
			return a.DaysAway < b.DaysAway
		}
		return a.MemberID < b.MemberID
	})
	return digest
}

func parseBirthday(raw string) (time.Month, int, bool) {
	if raw == "" {
		return 0, 0, false
	}
	for _, layout := range birthdayLayouts {
		if b, err := time.Parse(layout, raw); err == nil {
			return b.Month(), b.Day(), true
		}
	}
	return 0, 0, false
}

// daysUntil returns the days from today to the next month/day on or after
// today. February 29 falls on March 1 in common years.
func daysUntil(today time.Time, month time.Month, day int) int {
	next := time.Date(today.Year(), month, day, 0, 0, 0, 0, time.UTC)
	if next.Before(today) {
		next = time.Date(today.Year()+1, month, day, 0, 0, 0, 0, time.UTC)
	}
	return int(next.Sub(today).Hours() / 24)
}
