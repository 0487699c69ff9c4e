package audience

import (
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
)

// Observation is one attendee signal read from a source.
type Observation struct {
	// Properties maps member property names to values. Override marks a
	// value from a field mapping that takes precedence over unmarked ones.
	Properties map[string]model.Property

	// Stamp orders competing property values; the latest wins.
	Stamp time.Time

	Record model.AttendanceRecord
}

// RecordFor builds the attendance record an event contributes.
func RecordFor(ev model.Event) model.AttendanceRecord {
	return model.AttendanceRecord{
		EventID:   ev.ID,
		TypeID:    ev.EventTypeID,
		Value:     ev.Value,
		StartDate: ev.StartDate,
	}
}

// candidate is the current winning value of one property.
type candidate struct {
	value    string
	override bool
	stamp    time.Time
}

// beats reports whether c should replace cur.
func (c candidate) beats(cur candidate) bool {
	if c.override != cur.override {
		return c.override
	}
	if !c.stamp.Equal(cur.stamp) {
		return c.stamp.After(cur.stamp)
	}
	return c.value > cur.value
}

type memberState struct {
	member   model.Member
	existing bool
	props    map[string]candidate
	records  map[string]model.AttendanceRecord
	buckets  []model.AttendanceBucket
}

// Accumulator is the shared, mutex-guarded merge target of all delegates.
type Accumulator struct {
	mu      sync.Mutex
	troupe  *model.Troupe
	proj    *quota.Projection
	ids     model.IDGenerator
	now     time.Time
	fold    cases.Caser
	members map[string]*memberState
	created int
	skipped int

	// duplicates are stored members whose identity collided with a kept one.
	duplicates []*memberState
}

// NewAccumulator loads the stored members and prepares them for a sync:
// points are reset to zero for every point type, every non-overridden
// schema property is blanked and the record set starts empty. Stored
// buckets are kept only so pagination can reuse their ids.
//
// Stored members whose identifiers normalize to the same key collapse into
// the one with the lowest id; the others are deleted at Finalize.
func NewAccumulator(
	troupe *model.Troupe,
	members []model.Member,
	buckets map[string][]model.AttendanceBucket,
	proj *quota.Projection,
	ids model.IDGenerator,
	now time.Time,
) *Accumulator {
	a := &Accumulator{
		troupe:  troupe,
		proj:    proj,
		ids:     ids,
		now:     now,
		fold:    cases.Fold(),
		members: make(map[string]*memberState, len(members)),
	}
	for _, m := range members {
		st := &memberState{
			member:   m,
			existing: true,
			props:    make(map[string]candidate),
			records:  make(map[string]model.AttendanceRecord),
			buckets:  buckets[m.ID],
		}
		st.member.Properties = a.resetProperties(m.Properties)
		st.member.Points = a.zeroPoints()
		key := a.normalize(m.Identifier())
		if key == "" {
			// No identity: nothing can attribute to it, and validation
			// flags it for deletion below.
			key = "\x00" + m.ID
		}
		if prev, ok := a.members[key]; ok {
			keep, dup := prev, st
			if st.member.ID < prev.member.ID {
				keep, dup = st, prev
			}
			a.members[key] = keep
			a.duplicates = append(a.duplicates, dup)
			continue
		}
		a.members[key] = st
	}
	return a
}

func (a *Accumulator) resetProperties(stored map[string]model.Property) map[string]model.Property {
	out := make(map[string]model.Property, len(a.troupe.MemberProperties))
	for _, name := range a.troupe.PropertyNames() {
		if p, ok := stored[name]; ok && p.Override {
			out[name] = p
			continue
		}
		out[name] = model.Property{}
	}
	return out
}

func (a *Accumulator) zeroPoints() map[string]int {
	points := make(map[string]int, len(a.troupe.PointTypes))
	for name := range a.troupe.PointTypes {
		points[name] = 0
	}
	return points
}

// normalize must be called with mu held; the Caser is not safe for
// concurrent use.
func (a *Accumulator) normalize(identifier string) string {
	s := strings.TrimSpace(identifier)
	if s == "" {
		return ""
	}
	return a.fold.String(norm.NFC.String(s))
}

// Attend merges one observation for identifier. It returns false when the
// identifier is blank or a new member cannot be admitted under the members
// quota.
func (a *Accumulator) Attend(identifier string, obs Observation) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.normalize(identifier)
	if key == "" {
		return false
	}
	st, ok := a.members[key]
	if !ok {
		if !a.proj.Take(quota.Members) {
			a.skipped++
			return false
		}
		st = &memberState{
			member: model.Member{
				ID:         a.ids.Generate(),
				TroupeID:   a.troupe.ID,
				Properties: a.resetProperties(nil),
				Points:     a.zeroPoints(),
			},
			props:   make(map[string]candidate),
			records: make(map[string]model.AttendanceRecord),
		}
		a.members[key] = st
		a.created++
	}

	for name, p := range obs.Properties {
		if _, inSchema := a.troupe.MemberProperties[name]; !inSchema || p.Value == "" {
			continue
		}
		if st.member.Properties[name].Override {
			continue
		}
		c := candidate{value: p.Value, override: p.Override, stamp: obs.Stamp}
		if cur, seen := st.props[name]; seen && !c.beats(cur) {
			continue
		}
		st.props[name] = c
		st.member.Properties[name] = model.Property{Value: c.value}
	}

	if obs.Record.EventID != "" {
		st.records[obs.Record.EventID] = obs.Record
	}
	return true
}

// Len returns the number of tracked members, existing and new.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.members)
}

// MemberState is the finalized view of one member.
type MemberState struct {
	Member   model.Member
	Existing bool
	Records  []model.AttendanceRecord
	Buckets  []model.AttendanceBucket
}

// Outcome is the finalized accumulator.
type Outcome struct {
	// Kept members, ordered by member id.
	Kept []MemberState

	// Deleted holds existing members that failed validation or duplicated
	// a kept member's identity.
	Deleted []MemberState

	NewMembers     int
	DroppedMembers int
	QuotaSkipped   int
}

// Finalize validates members and recomputes points from records.
//
// Records are refreshed from the current events and records of vanished
// events are dropped. Each record's value is added to Total and to every
// point type whose window contains the event start. Members missing a
// required property are flagged; existing ones are deleted, new ones are
// dropped and their member quota refunded. Duplicate stored identities are
// deleted.
func (a *Accumulator) Finalize(events []model.Event) *Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	byID := make(map[string]model.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	required := []string{}
	for _, name := range a.troupe.PropertyNames() {
		if a.troupe.MemberProperties[name].Required {
			required = append(required, name)
		}
	}

	out := &Outcome{QuotaSkipped: a.skipped}
	for _, st := range a.members {
		records := make([]model.AttendanceRecord, 0, len(st.records))
		points := a.zeroPoints()
		for id := range st.records {
			ev, ok := byID[id]
			if !ok {
				continue
			}
			r := RecordFor(ev)
			records = append(records, r)
			for name, pt := range a.troupe.PointTypes {
				if pt.Contains(r.StartDate) {
					points[name] += r.Value
				}
			}
		}
		SortRecords(records)
		st.member.Points = points
		st.member.LastUpdated = a.now

		ms := MemberState{
			Member:   st.member,
			Existing: st.existing,
			Records:  records,
			Buckets:  st.buckets,
		}
		if valid(st.member, required) {
			out.Kept = append(out.Kept, ms)
			if !st.existing {
				out.NewMembers++
			}
			continue
		}
		if st.existing {
			out.Deleted = append(out.Deleted, ms)
			continue
		}
		a.proj.Refund(quota.Members)
		out.DroppedMembers++
	}

	for _, st := range a.duplicates {
		st.member.LastUpdated = a.now
		out.Deleted = append(out.Deleted, MemberState{
			Member:   st.member,
			Existing: true,
			Records:  []model.AttendanceRecord{},
			Buckets:  st.buckets,
		})
	}

	sort.Slice(out.Kept, func(i, j int) bool { return out.Kept[i].Member.ID < out.Kept[j].Member.ID })
	sort.Slice(out.Deleted, func(i, j int) bool { return out.Deleted[i].Member.ID < out.Deleted[j].Member.ID })
	return out
}

func valid(m model.Member, required []string) bool {
	for _, name := range required {
		if m.Properties[name].Value == "" {
			return false
		}
	}
	return true
}

// SortRecords orders records by start date, then event id.
func SortRecords(records []model.AttendanceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartDate.Equal(records[j].StartDate) {
			return records[i].StartDate.Before(records[j].StartDate)
		}
		return records[i].EventID < records[j].EventID
	})
}
