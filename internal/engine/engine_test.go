package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudydaiyz/stringplay-core/internal/audience"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
	"github.com/cloudydaiyz/stringplay-core/internal/testutil"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const testDriveYAML = `
folders:
  rehearsals:
    - id: form-1
      name: Rehearsal 1
      mime_type: application/vnd.google-apps.form
      created_time: 2024-03-01T18:00:00Z
    - id: nested
      name: Nested
      mime_type: application/vnd.google-apps.folder
  nested:
    - id: sheet-1
      name: Rehearsal 2
      mime_type: application/vnd.google-apps.spreadsheet
      created_time: 2024-03-08T18:00:00Z
forms:
  form-1:
    - id: r1
      submitted_at: 2024-03-01T19:00:00Z
      answers: {q-email: alice@example.com, q-first: Alice}
    - id: r2
      submitted_at: 2024-03-01T19:05:00Z
      answers: {q-email: bob@example.com, q-first: Bob}
sheets:
  sheet-1:
    - [Email, First]
    - [alice@example.com, Alice]
`

type harness struct {
	store  *store.Store
	ledger *quota.Ledger
	drive  *source.Fixture
	clock  *testutil.FixedClock
	ids    *testutil.SequenceGenerator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	drive, err := source.ParseFixture([]byte(testDriveYAML))
	require.NoError(t, err)

	return &harness{
		store:  s,
		ledger: quota.NewLedger(s.DB()),
		drive:  drive,
		clock:  testutil.NewFixedClock(testNow),
		ids:    testutil.NewSequenceGenerator("id"),
	}
}

func (h *harness) engine(opts ...Option) *Engine {
	base := []Option{WithClock(h.clock), WithIDGenerator(h.ids)}
	return New(h.store, h.ledger, h.drive, append(base, opts...)...)
}

// seed creates troupe id owning the "rehearsals" folder.
func (h *harness) seed(t *testing.T, id string, limits quota.Limits) {
	t.Helper()
	ctx := context.Background()
	tr := model.NewTroupe(id, "Troupe "+id)
	tr.LogLocation = id + ".json"
	tr.EventTypes["rehearsal"] = model.EventType{
		ID: "rehearsal", Title: "Rehearsal", Value: 5, SourceFolderURIs: []string{"rehearsals"},
	}
	require.NoError(t, h.store.CreateTroupe(ctx, tr))
	require.NoError(t, h.ledger.Init(ctx, id, limits))
}

// mapFields gives discovered events their field maps, as an operator would
// between syncs.
func (h *harness) mapFields(t *testing.T, troupeID string) {
	t.Helper()
	ctx := context.Background()
	events, err := h.store.ReadEvents(ctx, troupeID)
	require.NoError(t, err)
	for _, ev := range events {
		switch ev.SourceURI {
		case "form-1":
			ev.FieldToPropertyMap = map[string]model.FieldMapping{
				"q-email": {Property: model.MemberIDProperty},
				"q-first": {Property: model.FirstNameProperty},
			}
		case "sheet-1":
			ev.FieldToPropertyMap = map[string]model.FieldMapping{
				"Email": {Property: model.MemberIDProperty},
				"First": {Property: model.FirstNameProperty},
			}
		}
		require.NoError(t, h.store.UpsertEvent(ctx, ev))
	}
}

func assertUnlocked(t *testing.T, s *store.Store, troupeID string) {
	t.Helper()
	tr, err := s.ReadTroupe(context.Background(), troupeID)
	require.NoError(t, err)
	assert.False(t, tr.Locked(), "lease must be released after every sync")
}

func syncMapped(t *testing.T, h *harness, e *Engine) {
	t.Helper()
	_, err := e.Sync(context.Background(), "t1")
	require.NoError(t, err)
	h.mapFields(t, "t1")
}

func TestSync_DiscoversEventsAndMembers(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	e := h.engine()
	ctx := context.Background()

	first, err := e.Sync(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, first.Status)
	assert.Equal(t, 2, first.Stats.NewEvents)
	assert.Equal(t, 0, first.Stats.NewMembers, "no field maps yet")
	assertUnlocked(t, h.store, "t1")

	h.mapFields(t, "t1")
	second, err := e.Sync(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Stats.NewEvents)
	assert.Equal(t, 2, second.Stats.NewMembers)

	members, err := h.store.ReadMembers(ctx, "t1")
	require.NoError(t, err)
	points := map[string]int{}
	for _, m := range members {
		points[m.Identifier()] = m.TotalPoints()
	}
	assert.Equal(t, map[string]int{"alice@example.com": 10, "bob@example.com": 5}, points)

	tr, err := h.store.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rehearsals", "nested"}, tr.EventTypes["rehearsal"].SourceFolderURIs)
	assert.True(t, tr.LastUpdated.Equal(testNow))

	dash, err := e.Dashboard(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, dash.TotalMembers)
	assert.Equal(t, 2, dash.TotalEvents)
	assert.Equal(t, 3, dash.TotalAttendees)
	assert.Equal(t, 2, dash.AvgAttendeesPerEvent)
	assert.Equal(t, 100, dash.EventTypes["rehearsal"].EventPercent)

	limits, err := h.ledger.Get(ctx, "t1")
	require.NoError(t, err)
	defaults := quota.DefaultLimits()
	assert.Equal(t, defaults[quota.Events]-2, limits[quota.Events])
	assert.Equal(t, defaults[quota.Members]-2, limits[quota.Members])
	assert.Equal(t, defaults[quota.SourceFolders]-1, limits[quota.SourceFolders])
}

func TestSync_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	e := h.engine()
	ctx := context.Background()
	syncMapped(t, h, e)

	snapshot := func() (map[string]string, map[string]int, quota.Limits) {
		events, err := h.store.ReadEvents(ctx, "t1")
		require.NoError(t, err)
		uris := map[string]string{}
		for _, ev := range events {
			uris[ev.SourceURI] = ev.ID
		}
		members, err := h.store.ReadMembers(ctx, "t1")
		require.NoError(t, err)
		points := map[string]int{}
		for _, m := range members {
			points[m.Identifier()] = m.TotalPoints()
		}
		limits, err := h.ledger.Get(ctx, "t1")
		require.NoError(t, err)
		return uris, points, limits
	}

	_, err := e.Sync(ctx, "t1")
	require.NoError(t, err)
	uris1, points1, limits1 := snapshot()

	report, err := e.Sync(ctx, "t1")
	require.NoError(t, err)
	uris2, points2, limits2 := snapshot()

	assert.Equal(t, uris1, uris2, "stable source uris and event ids")
	assert.Equal(t, points1, points2)
	assert.Equal(t, limits1, limits2)
	assert.Equal(t, 0, report.Stats.NewEvents)
	assert.Equal(t, 0, report.Stats.NewMembers)
	assert.Equal(t, 0, report.Stats.BucketUpserts, "unchanged pages are not rewritten")
}

func TestSync_NewRequiredPropertyDeletesMembers(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	ctx := context.Background()
	syncMapped(t, h, h.engine())

	_, err := h.engine().Sync(ctx, "t1")
	require.NoError(t, err)
	members, err := h.store.ReadMembers(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	buckets, err := h.store.ReadBuckets(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	// Nobody maps a field to phone, so every member now fails validation,
	// including carol, who attends for the first time.
	tr, err := h.store.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	tr.MemberProperties["phone"] = model.PropertyType{Kind: model.PropertyString, Required: true}
	require.NoError(t, h.store.CreateTroupe(ctx, tr))
	h.drive, err = source.ParseFixture([]byte(testDriveYAML + "    - [carol@example.com, Carol]\n"))
	require.NoError(t, err)

	report, err := h.engine().Sync(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, report.Status)
	assert.Equal(t, 2, report.Stats.DeletedMembers)
	assert.Equal(t, 1, report.Stats.DroppedMembers)
	assert.Equal(t, 0, report.Stats.NewMembers)

	members, err = h.store.ReadMembers(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, members, "carol was never written")
	buckets, err = h.store.ReadBuckets(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, buckets)

	limits, err := h.ledger.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, quota.DefaultLimits()[quota.Members], limits[quota.Members])

	dash, err := h.engine().Dashboard(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, dash.TotalMembers)
	assert.Equal(t, 0, dash.TotalAttendees)
}

func TestSync_LockedFailsFastWithoutTouchingState(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	ctx := context.Background()

	_, err := h.store.AcquireLease(ctx, "t1", "other-sync", testNow, time.Hour)
	require.NoError(t, err)

	report, err := h.engine().Sync(ctx, "t1")
	require.Error(t, err)
	assert.True(t, IsLocked(err))
	assert.Equal(t, StatusLocked, report.Status)
	assert.Equal(t, PhaseIdle, report.Phase)
	assert.Equal(t, 0, h.drive.Calls("rehearsals"), "no source reads")

	tr, err := h.store.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	require.True(t, tr.Locked())
	assert.Equal(t, "other-sync", tr.Lease.Owner, "the holder's lease is untouched")
}

func TestSync_ExpiredLeaseTakenOver(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	ctx := context.Background()

	_, err := h.store.AcquireLease(ctx, "t1", "crashed", testNow.Add(-time.Hour), time.Minute)
	require.NoError(t, err)

	report, err := h.engine().Sync(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assertUnlocked(t, h.store, "t1")
}

func TestSync_NotFound(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine().Sync(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, CodeNotFound, report.Err.Code)
}

func TestSync_DelegateFailureAbortsAndReleases(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	e := h.engine()
	syncMapped(t, h, e)
	ctx := context.Background()

	before, err := h.store.ReadMembers(ctx, "t1")
	require.NoError(t, err)
	require.Empty(t, before)

	h.drive.Fail("form-1", errors.New("forms api unavailable"))
	report, err := e.Sync(ctx, "t1")
	require.Error(t, err)

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, CodeAudienceFailed, se.Code)
	assert.Equal(t, PhaseDiscovering, report.Phase)
	assert.Equal(t, StatusFailed, report.Status)
	assert.NotEmpty(t, report.Error)
	assertUnlocked(t, h.store, "t1")

	after, err := h.store.ReadMembers(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, after, "nothing persisted after a delegate failure")
}

// cancelingDelegate cancels the sync's context mid-flight.
type cancelingDelegate struct{ cancel context.CancelFunc }

func (d cancelingDelegate) Ready(context.Context) error { return nil }

func (d cancelingDelegate) DiscoverAudience(ctx context.Context, _ *audience.Accumulator, _ model.Event, _ time.Time) error {
	d.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestSync_CanceledContextStillReleases(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := audience.NewRegistry()
	reg.Register(model.SourceForms, cancelingDelegate{cancel: cancel})

	_, err := h.engine(WithRegistry(reg)).Sync(ctx, "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assertUnlocked(t, h.store, "t1")
}

// drainingDelegate consumes member quota directly in the ledger while the
// sync is discovering, like a concurrent CRUD request would.
type drainingDelegate struct {
	ledger *quota.Ledger
	once   sync.Once
}

func (d *drainingDelegate) Ready(context.Context) error { return nil }

func (d *drainingDelegate) DiscoverAudience(ctx context.Context, acc *audience.Accumulator, ev model.Event, _ time.Time) error {
	var err error
	d.once.Do(func() {
		_, err = d.ledger.Increment(ctx, ev.TroupeID, quota.Limits{quota.Members: -1}, nil)
	})
	if err != nil {
		return err
	}
	acc.Attend("carol@example.com", audience.Observation{
		Properties: map[string]model.Property{model.MemberIDProperty: {Value: "carol@example.com"}},
		Stamp:      ev.StartDate,
		Record:     audience.RecordFor(ev),
	})
	return nil
}

func TestSync_LedgerRefusalAbortsCommit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.Limits{quota.Events: 10, quota.SourceFolders: 10, quota.Members: 1})
	ctx := context.Background()

	reg := audience.NewRegistry()
	reg.Register(model.SourceForms, &drainingDelegate{ledger: h.ledger})

	report, err := h.engine(WithRegistry(reg)).Sync(ctx, "t1")
	require.Error(t, err)
	assert.Equal(t, CodeQuotaExceeded, CodeOf(err))
	assert.ErrorIs(t, err, quota.ErrExceeded)
	assert.Equal(t, PhasePersisting, report.Phase)
	assertUnlocked(t, h.store, "t1")

	events, err := h.store.ReadEvents(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, events, "commit rolled back as a whole")
}

func TestSync_QuotaBypass(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.Limits{})
	ctx := quota.WithBypass(context.Background(), "t1", true)

	report, err := h.engine().Sync(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.NewEvents)

	limits, err := h.ledger.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, -2, limits[quota.Events])
}

func TestSync_EventQuotaZero(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.Limits{quota.SourceFolders: 10, quota.Members: 10})

	report, err := h.engine().Sync(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stats.NewEvents)

	events, err := h.store.ReadEvents(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

type recordingPublisher struct {
	mu       sync.Mutex
	location string
	events   []model.Event
	members  []model.Member
	err      error
}

func (p *recordingPublisher) UpdateLog(_ context.Context, location string, _ *model.Troupe, events []model.Event, members []model.Member) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location, p.events, p.members = location, events, members
	return p.err
}

func TestSync_Publishes(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	pub := &recordingPublisher{}
	e := h.engine(WithPublisher(pub))
	syncMapped(t, h, e)

	report, err := e.Sync(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, report.Published)
	assert.Equal(t, "t1.json", pub.location)
	require.Len(t, pub.events, 2)
	assert.True(t, pub.events[0].StartDate.Before(pub.events[1].StartDate))
	require.Len(t, pub.members, 2)
	assert.Equal(t, "bob@example.com", pub.members[0].Identifier(), "ascending by total points")
}

func TestSync_PublishFailureKeepsCommit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	pub := &recordingPublisher{err: errors.New("disk full")}

	report, err := h.engine(WithPublisher(pub)).Sync(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.False(t, report.Published)
	require.NotNil(t, report.PublishErr)
	assert.Equal(t, CodePublishFailed, report.PublishErr.Code)

	events, err := h.store.ReadEvents(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSyncAll_IsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a", quota.DefaultLimits())
	h.seed(t, "b", quota.DefaultLimits())
	ctx := context.Background()
	_, err := h.store.AcquireLease(ctx, "b", "other", testNow, time.Hour)
	require.NoError(t, err)

	reports, err := h.engine(WithConcurrency(2)).SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "a", reports[0].TroupeID)
	assert.Equal(t, StatusSucceeded, reports[0].Status)
	assert.Equal(t, StatusLocked, reports[1].Status)
}

func TestUnlock(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "t1", quota.DefaultLimits())
	ctx := context.Background()
	_, err := h.store.AcquireLease(ctx, "t1", "stuck", testNow, time.Hour)
	require.NoError(t, err)

	e := h.engine()
	require.NoError(t, e.Unlock(ctx, "t1"))
	assertUnlocked(t, h.store, "t1")

	_, err = e.Sync(ctx, "t1")
	assert.NoError(t, err)
}
