package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudydaiyz/stringplay-core/internal/audience"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

func dashTroupe() *model.Troupe {
	tr := model.NewTroupe("t1", "Troupe")
	tr.EventTypes["rehearsal"] = model.EventType{ID: "rehearsal", Title: "Rehearsal", Value: 5}
	tr.EventTypes["show"] = model.EventType{ID: "show", Title: "Show", Value: 10}
	tr.EventTypes["empty"] = model.EventType{ID: "empty", Title: "Empty", Value: 1}
	return tr
}

func attendee(id string, props map[string]string, eventIDs ...string) audience.MemberState {
	ms := audience.MemberState{Member: model.Member{ID: id, Properties: map[string]model.Property{}}}
	for k, v := range props {
		ms.Member.Properties[k] = model.Property{Value: v}
	}
	for _, e := range eventIDs {
		ms.Records = append(ms.Records, model.AttendanceRecord{EventID: e})
	}
	return ms
}

func TestBuildDashboard_Stats(t *testing.T) {
	events := []model.Event{
		{ID: "r1", EventTypeID: "rehearsal"},
		{ID: "r2", EventTypeID: "rehearsal"},
		{ID: "s1", EventTypeID: "show"},
		{ID: "x1"},
	}
	members := []audience.MemberState{
		attendee("m1", nil, "r1", "r2", "s1"),
		attendee("m2", nil, "r1"),
		attendee("m3", nil),
	}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	d := BuildDashboard(dashTroupe(), events, members, now)

	assert.Equal(t, 3, d.TotalMembers)
	assert.Equal(t, 4, d.TotalEvents)
	assert.Equal(t, 4, d.TotalAttendees)
	assert.Equal(t, 1, d.AvgAttendeesPerEvent)

	r := d.EventTypes["rehearsal"]
	assert.Equal(t, "Rehearsal", r.Title)
	assert.Equal(t, 2, r.TotalEvents)
	assert.Equal(t, 3, r.TotalAttendees)
	assert.Equal(t, 2, r.AvgAttendees, "1.5 rounds up")
	assert.Equal(t, 50, r.EventPercent)
	assert.Equal(t, 75, r.AttendeePercent)

	s := d.EventTypes["show"]
	assert.Equal(t, 25, s.EventPercent)
	assert.Equal(t, 25, s.AttendeePercent)
}

func TestBuildDashboard_ZeroEventType(t *testing.T) {
	d := BuildDashboard(dashTroupe(), []model.Event{{ID: "r1", EventTypeID: "rehearsal"}}, nil, time.Now())

	e := d.EventTypes["empty"]
	assert.Equal(t, 0, e.TotalEvents)
	assert.Equal(t, 0, e.AvgAttendees)
	assert.Equal(t, 0, e.EventPercent)
	assert.Equal(t, 0, e.AttendeePercent)
}

func TestBuildDashboard_NoEventsAtAll(t *testing.T) {
	d := BuildDashboard(dashTroupe(), nil, nil, time.Now())

	assert.Equal(t, 0, d.AvgAttendeesPerEvent)
	for _, stats := range d.EventTypes {
		assert.Equal(t, 0, stats.EventPercent)
		assert.Equal(t, 0, stats.AttendeePercent)
	}
	assert.NotNil(t, d.UpcomingBirthdays.Members)
}

func TestBuildDashboard_BirthdayWindows(t *testing.T) {
	now := time.Date(2024, 12, 28, 15, 0, 0, 0, time.UTC)
	members := []audience.MemberState{
		attendee("today", map[string]string{model.BirthdayProperty: "1990-12-28", model.FirstNameProperty: "Tia"}),
		attendee("newyear", map[string]string{model.BirthdayProperty: "2001-01-02"}),
		attendee("mid", map[string]string{model.BirthdayProperty: "01/20/1985"}),
		attendee("far", map[string]string{model.BirthdayProperty: "1999-03-01"}),
		attendee("past", map[string]string{model.BirthdayProperty: "1999-12-27"}),
		attendee("bad", map[string]string{model.BirthdayProperty: "soon"}),
	}

	tr := dashTroupe()
	tr.BirthdayDigest = model.DigestWeekly
	weekly := BuildDashboard(tr, nil, members, now).UpcomingBirthdays
	require.Len(t, weekly.Members, 2)
	assert.Equal(t, "today", weekly.Members[0].MemberID)
	assert.Equal(t, 0, weekly.Members[0].DaysAway)
	assert.Equal(t, "Tia", weekly.Members[0].FirstName)
	assert.Equal(t, "newyear", weekly.Members[1].MemberID, "window wraps the year")
	assert.Equal(t, 5, weekly.Members[1].DaysAway)

	tr.BirthdayDigest = model.DigestMonthly
	monthly := BuildDashboard(tr, nil, members, now).UpcomingBirthdays
	require.Len(t, monthly.Members, 3)
	assert.Equal(t, "mid", monthly.Members[2].MemberID)
	assert.Equal(t, 23, monthly.Members[2].DaysAway)
	assert.Equal(t, model.DigestMonthly, monthly.Frequency)
}

func TestDigestWindow(t *testing.T) {
	assert.Equal(t, 7, DigestWindow(model.DigestWeekly))
	assert.Equal(t, 30, DigestWindow(model.DigestMonthly))
}
