package audience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
)

// SheetsDelegate reads attendance grids. The header row names the fields;
// rows without an identifier are skipped. Every row is stamped with the
// event start.
type SheetsDelegate struct {
	reader source.SheetReader
}

// NewSheetsDelegate creates a sheets delegate.
func NewSheetsDelegate(reader source.SheetReader) *SheetsDelegate {
	return &SheetsDelegate{reader: reader}
}

// Ready implements Delegate.
func (d *SheetsDelegate) Ready(ctx context.Context) error {
	if d.reader == nil {
		return errors.New("no sheet reader configured")
	}
	return ctx.Err()
}

// DiscoverAudience implements Delegate.
func (d *SheetsDelegate) DiscoverAudience(ctx context.Context, acc *Accumulator, ev model.Event, _ time.Time) error {
	idField, ok := ev.IdentifierField()
	if !ok {
		return nil
	}
	values, err := d.reader.SheetValues(ctx, ev.SourceURI)
	if err != nil {
		return fmt.Errorf("sheet %s: %w", ev.SourceURI, err)
	}
	if len(values) == 0 {
		return nil
	}

	header := values[0]
	idCol := -1
	for i, name := range header {
		if name == idField {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil
	}

	record := RecordFor(ev)
	for _, row := range values[1:] {
		if idCol >= len(row) || row[idCol] == "" {
			continue
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				fields[name] = row[i]
			}
		}
		acc.Attend(row[idCol], Observation{
			Properties: mapFields(ev, fields),
			Stamp:      ev.StartDate,
			Record:     record,
		})
	}
	return nil
}
