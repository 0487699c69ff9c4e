package audience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
)

// FormsDelegate reads form responses. The question mapped to member-id
// yields the identifier; responses submitted after the cutoff are ignored.
type FormsDelegate struct {
	reader source.FormReader
}

// NewFormsDelegate creates a forms delegate.
func NewFormsDelegate(reader source.FormReader) *FormsDelegate {
	return &FormsDelegate{reader: reader}
}

// Ready implements Delegate.
func (d *FormsDelegate) Ready(ctx context.Context) error {
	if d.reader == nil {
		return errors.New("no form reader configured")
	}
	return ctx.Err()
}

// DiscoverAudience implements Delegate.
func (d *FormsDelegate) DiscoverAudience(ctx context.Context, acc *Accumulator, ev model.Event, cutoff time.Time) error {
	idField, ok := ev.IdentifierField()
	if !ok {
		logging.Debug().Str("event_id", ev.ID).Msg("form has no member-id mapping, skipping")
		return nil
	}
	responses, err := d.reader.FormResponses(ctx, ev.SourceURI)
	if err != nil {
		return fmt.Errorf("form %s: %w", ev.SourceURI, err)
	}

	record := RecordFor(ev)
	for _, resp := range responses {
		if resp.SubmittedAt.After(cutoff) {
			continue
		}
		identifier := resp.Answers[idField]
		if identifier == "" {
			continue
		}
		acc.Attend(identifier, Observation{
			Properties: mapFields(ev, resp.Answers),
			Stamp:      resp.SubmittedAt,
			Record:     record,
		})
	}
	return nil
}
