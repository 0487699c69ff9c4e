package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/metrics"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
)

// Discoverer traverses folder hierarchies through a source.FolderLister.
type Discoverer struct {
	lister source.FolderLister
	ids    model.IDGenerator
	log    zerolog.Logger
}

// New creates a discoverer.
func New(lister source.FolderLister, ids model.IDGenerator) *Discoverer {
	return &Discoverer{
		lister: lister,
		ids:    ids,
		log:    logging.Component("discovery"),
	}
}

// Input is the state a traversal starts from.
type Input struct {
	Troupe     *model.Troupe
	Events     []model.Event
	Projection *quota.Projection
	Now        time.Time
}

// Result is the outcome of a traversal.
type Result struct {
	// Events holds every troupe event, known and new, ordered by start date
	// then id.
	Events []model.Event

	// Changed holds the ids of events that are new or were modified and must
	// be written at commit.
	Changed map[string]bool

	// FolderSets is the final folder set of every event type.
	FolderSets map[string][]string

	NewEvents      int
	InitialFolders int
	FinalFolders   int
}

// ChangedEvents returns the events to upsert, in Events order.
func (r *Result) ChangedEvents() []model.Event {
	out := []model.Event{}
	for _, ev := range r.Events {
		if r.Changed[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

// workItem is one pending folder expansion.
type workItem struct {
	folder string
	owner  int
}

// traversal is the state of one Discover call.
type traversal struct {
	d     *Discoverer
	in    Input
	types []model.EventType

	claims   map[string]int // folder id -> owner index
	counts   []int          // discovered files per owner index
	order    []string       // folders in first-claim order
	seen     map[string]bool
	expanded map[workItem]bool
	stack    []workItem

	bySource map[string]*model.Event
	events   []*model.Event
	changed  map[string]bool
	created  int
}

// Discover runs the traversal. The only errors returned come from ctx; a
// failing listing is logged and isolated.
func (d *Discoverer) Discover(ctx context.Context, in Input) (*Result, error) {
	t := &traversal{
		d:        d,
		in:       in,
		claims:   make(map[string]int),
		seen:     make(map[string]bool),
		expanded: make(map[workItem]bool),
		bySource: make(map[string]*model.Event),
		changed:  make(map[string]bool),
	}
	for _, id := range in.Troupe.EventTypeIDs() {
		t.types = append(t.types, in.Troupe.EventTypes[id])
	}
	t.counts = make([]int, len(t.types))

	for i := range in.Events {
		ev := in.Events[i]
		t.events = append(t.events, &ev)
		if ev.SourceURI != "" {
			t.bySource[ev.SourceURI] = &ev
		}
	}

	t.seed()
	initial := len(t.claims)

	for len(t.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.expand(ctx, item)
	}

	res := &Result{
		Changed:        t.changed,
		FolderSets:     t.folderSets(),
		NewEvents:      t.created,
		InitialFolders: initial,
		FinalFolders:   len(t.claims),
	}
	for _, ev := range t.events {
		res.Events = append(res.Events, *ev)
	}
	sortEvents(res.Events)

	d.log.Debug().
		Str("troupe_id", in.Troupe.ID).
		Int("events", len(res.Events)).
		Int("new_events", res.NewEvents).
		Int("folders", res.FinalFolders).
		Msg("folder traversal complete")
	return res, nil
}

// seed claims every declared folder for its event type, in sorted type order
// and declared folder order.
func (t *traversal) seed() {
	for i, et := range t.types {
		for _, folder := range et.SourceFolderURIs {
			if _, owned := t.claims[folder]; owned {
				continue
			}
			t.own(folder, i)
			t.push(folder, i)
		}
	}
}

func (t *traversal) push(folder string, owner int) {
	t.stack = append(t.stack, workItem{folder: folder, owner: owner})
}

func (t *traversal) own(folder string, owner int) {
	t.claims[folder] = owner
	if !t.seen[folder] {
		t.seen[folder] = true
		t.order = append(t.order, folder)
	}
}

func (t *traversal) expand(ctx context.Context, item workItem) {
	if owner, ok := t.claims[item.folder]; !ok || owner != item.owner {
		return // ownership moved since this item was queued
	}
	if t.expanded[item] {
		return
	}
	t.expanded[item] = true

	entries, err := t.d.lister.ListChildren(ctx, item.folder)
	if err != nil {
		delete(t.claims, item.folder)
		t.in.Projection.Refund(quota.SourceFolders)
		metrics.FolderListFailures.Inc()
		t.d.log.Warn().
			Err(err).
			Str("troupe_id", t.in.Troupe.ID).
			Str("folder", item.folder).
			Str("event_type", t.types[item.owner].ID).
			Msg("folder listing failed, dropping folder")
		return
	}

	for _, entry := range entries {
		if entry.IsFolder() {
			t.claim(entry.ID, item.owner)
			continue
		}
		t.file(entry, item.owner)
	}
}

// claim offers folder to challenger.
func (t *traversal) claim(folder string, challenger int) {
	owner, owned := t.claims[folder]
	switch {
	case !owned:
		if !t.in.Projection.Take(quota.SourceFolders) {
			t.d.log.Debug().
				Str("troupe_id", t.in.Troupe.ID).
				Str("folder", folder).
				Msg("source folder quota exhausted, skipping folder")
			return
		}
		t.own(folder, challenger)
		t.push(folder, challenger)
	case owner == challenger:
		return
	case t.counts[owner] < t.counts[challenger]:
		return // owner keeps it
	default:
		t.counts[owner]--
		t.counts[challenger]++
		t.own(folder, challenger)
		t.push(folder, challenger)
		t.d.log.Debug().
			Str("folder", folder).
			Str("from", t.types[owner].ID).
			Str("to", t.types[challenger].ID).
			Msg("folder ownership transferred")
	}
}

// file handles one non-folder entry found under owner.
func (t *traversal) file(entry source.Entry, owner int) {
	kind, ok := source.KindForMIME(entry.MIMEType)
	if !ok {
		return
	}
	t.counts[owner]++
	et := t.types[owner]

	if ev, known := t.bySource[entry.ID]; known {
		metrics.DiscoveredEvents.WithLabelValues("known").Inc()
		if ev.EventTypeID == "" {
			ev.EventTypeID = et.ID
			ev.Value = et.Value
			ev.LastUpdated = t.in.Now
			t.changed[ev.ID] = true
		}
		return
	}

	if !t.in.Projection.Take(quota.Events) {
		metrics.DiscoveredEvents.WithLabelValues("quota_skipped").Inc()
		t.d.log.Debug().
			Str("troupe_id", t.in.Troupe.ID).
			Str("source_uri", entry.ID).
			Msg("event quota exhausted, skipping file")
		return
	}

	ev := &model.Event{
		ID:                 t.d.ids.Generate(),
		TroupeID:           t.in.Troupe.ID,
		Title:              entry.Name,
		SourceKind:         kind,
		SourceURI:          entry.ID,
		EventTypeID:        et.ID,
		Value:              et.Value,
		StartDate:          entry.CreatedTime.UTC(),
		LastUpdated:        t.in.Now,
		FieldToPropertyMap: map[string]model.FieldMapping{},
	}
	t.events = append(t.events, ev)
	t.bySource[ev.SourceURI] = ev
	t.changed[ev.ID] = true
	t.created++
	metrics.DiscoveredEvents.WithLabelValues("new").Inc()
}

// folderSets lists each event type's owned folders in first-claim order.
func (t *traversal) folderSets() map[string][]string {
	sets := make(map[string][]string, len(t.types))
	for _, et := range t.types {
		sets[et.ID] = []string{}
	}
	for _, folder := range t.order {
		owner, ok := t.claims[folder]
		if !ok {
			continue
		}
		id := t.types[owner].ID
		sets[id] = append(sets[id], folder)
	}
	return sets
}

func sortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].StartDate.Equal(events[j].StartDate) {
			return events[i].StartDate.Before(events[j].StartDate)
		}
		return events[i].ID < events[j].ID
	})
}

// ApplyFolderSets rewrites the troupe's event-type folder sets.
func ApplyFolderSets(t *model.Troupe, sets map[string][]string) error {
	for id, folders := range sets {
		et, ok := t.EventTypes[id]
		if !ok {
			return fmt.Errorf("apply folder sets: unknown event type %q", id)
		}
		et.SourceFolderURIs = folders
		t.EventTypes[id] = et
	}
	return nil
}
