package audience

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
)

// Delegate extracts the audience of events of one source kind.
type Delegate interface {
	// Ready reports whether the delegate can serve calls. Awaited once per
	// sync before any DiscoverAudience call.
	Ready(ctx context.Context) error

	// DiscoverAudience reads the event's source and merges every attendee
	// observed up to cutoff into acc.
	DiscoverAudience(ctx context.Context, acc *Accumulator, ev model.Event, cutoff time.Time) error
}

// Registry maps source kinds to delegates. New kinds register here without
// any change to the dispatcher.
type Registry struct {
	delegates map[model.SourceKind]Delegate
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{delegates: make(map[model.SourceKind]Delegate)}
}

// DefaultRegistry registers the forms, sheets and calendar delegates over
// drive.
func DefaultRegistry(drive source.Drive) *Registry {
	r := NewRegistry()
	r.Register(model.SourceForms, NewFormsDelegate(drive))
	r.Register(model.SourceSheets, NewSheetsDelegate(drive))
	r.Register(model.SourceCalendar, NewCalendarDelegate(drive))
	return r
}

// Register binds d to kind, replacing any previous binding.
func (r *Registry) Register(kind model.SourceKind, d Delegate) {
	r.delegates[kind] = d
}

// Lookup returns the delegate for kind.
func (r *Registry) Lookup(kind model.SourceKind) (Delegate, bool) {
	d, ok := r.delegates[kind]
	return d, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []model.SourceKind {
	kinds := make([]model.SourceKind, 0, len(r.delegates))
	for k := range r.delegates {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Ready awaits every registered delegate.
func (r *Registry) Ready(ctx context.Context) error {
	for _, kind := range r.Kinds() {
		if err := r.delegates[kind].Ready(ctx); err != nil {
			return fmt.Errorf("%s delegate not ready: %w", kind, err)
		}
	}
	return nil
}

// mapFields routes source field values to member properties through the
// event's field map. Empty values are skipped.
func mapFields(ev model.Event, fields map[string]string) map[string]model.Property {
	props := make(map[string]model.Property, len(fields))
	for field, value := range fields {
		if value == "" {
			continue
		}
		m, ok := ev.FieldToPropertyMap[field]
		if !ok || m.Property == "" {
			continue
		}
		props[m.Property] = model.Property{Value: value, Override: m.Override}
	}
	return props
}
