package audience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
)

// Calendar fields available to an event's field map.
const (
	CalendarFieldEmail = "email"
	CalendarFieldName  = "CN"
)

// CalendarDelegate reads ICS documents. Each VEVENT starting at or before
// the cutoff contributes its ATTENDEE entries: the mailto address is the
// identifier and the CN parameter is mapped through the field map.
type CalendarDelegate struct {
	reader source.DocumentReader
}

// NewCalendarDelegate creates a calendar delegate.
func NewCalendarDelegate(reader source.DocumentReader) *CalendarDelegate {
	return &CalendarDelegate{reader: reader}
}

// Ready implements Delegate.
func (d *CalendarDelegate) Ready(ctx context.Context) error {
	if d.reader == nil {
		return errors.New("no document reader configured")
	}
	return ctx.Err()
}

// DiscoverAudience implements Delegate.
func (d *CalendarDelegate) DiscoverAudience(ctx context.Context, acc *Accumulator, ev model.Event, cutoff time.Time) error {
	body, err := d.reader.Document(ctx, ev.SourceURI)
	if err != nil {
		return fmt.Errorf("calendar %s: %w", ev.SourceURI, err)
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calendar %s: parse: %w", ev.SourceURI, err)
	}

	record := RecordFor(ev)
	for _, ve := range cal.Events() {
		start, err := ve.GetStartAt()
		if err != nil {
			logging.Debug().Err(err).Str("event_id", ev.ID).Msg("vevent without start, skipping")
			continue
		}
		if start.After(cutoff) {
			continue
		}
		for _, att := range ve.GetProperties(ical.ComponentPropertyAttendee) {
			email := mailto(att.Value)
			if email == "" {
				continue
			}
			fields := map[string]string{CalendarFieldEmail: email}
			if cn, ok := att.ICalParameters[CalendarFieldName]; ok && len(cn) > 0 {
				fields[CalendarFieldName] = cn[0]
			}
			props := mapFields(ev, fields)
			if _, mapped := props[model.MemberIDProperty]; !mapped {
				props[model.MemberIDProperty] = model.Property{Value: email}
			}
			acc.Attend(email, Observation{
				Properties: props,
				Stamp:      start,
				Record:     record,
			})
		}
	}
	return nil
}

// mailto strips a case-insensitive mailto: scheme.
func mailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return v
}
