package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
	"github.com/cloudydaiyz/stringplay-core/internal/testutil"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func folder(id string) source.Entry {
	return source.Entry{ID: id, Name: id, MIMEType: source.MIMEFolder}
}

func form(id string, day int) source.Entry {
	return source.Entry{
		ID:          id,
		Name:        "Form " + id,
		MIMEType:    source.MIMEForm,
		CreatedTime: time.Date(2024, 3, day, 18, 0, 0, 0, time.UTC),
	}
}

// twoTypeTroupe declares event type "a" owning fa and "b" owning fb. LIFO
// seeding expands fb before fa.
func twoTypeTroupe() *model.Troupe {
	tr := model.NewTroupe("t1", "Troupe")
	tr.EventTypes["a"] = model.EventType{ID: "a", Title: "A", Value: 1, SourceFolderURIs: []string{"fa"}}
	tr.EventTypes["b"] = model.EventType{ID: "b", Title: "B", Value: 2, SourceFolderURIs: []string{"fb"}}
	return tr
}

func discover(t *testing.T, folders map[string][]source.Entry, in Input) (*Result, *source.Fixture) {
	t.Helper()
	fx, err := source.NewFixture(source.FixtureData{Folders: folders})
	require.NoError(t, err)
	if in.Projection == nil {
		in.Projection = quota.NewProjection(quota.DefaultLimits())
	}
	if in.Now.IsZero() {
		in.Now = testNow
	}
	d := New(fx, testutil.NewSequenceGenerator("ev"))
	res, err := d.Discover(context.Background(), in)
	require.NoError(t, err)
	return res, fx
}

func TestDiscover_TieBreak_LargerOwnerLosesToChallenger(t *testing.T) {
	// b claims "shared" holding 2 files; a challenges holding 1.
	folders := map[string][]source.Entry{
		"fb":     {form("b1", 1), form("b2", 2), folder("shared")},
		"fa":     {form("a1", 3), folder("shared")},
		"shared": {},
	}
	res, _ := discover(t, folders, Input{Troupe: twoTypeTroupe()})

	assert.Equal(t, []string{"fa", "shared"}, res.FolderSets["a"])
	assert.Equal(t, []string{"fb"}, res.FolderSets["b"])
}

func TestDiscover_TieBreak_EqualCountsTransfer(t *testing.T) {
	folders := map[string][]source.Entry{
		"fb":     {form("b1", 1), folder("shared")},
		"fa":     {form("a1", 3), folder("shared")},
		"shared": {},
	}
	res, _ := discover(t, folders, Input{Troupe: twoTypeTroupe()})

	assert.Equal(t, []string{"fa", "shared"}, res.FolderSets["a"])
	assert.Equal(t, []string{"fb"}, res.FolderSets["b"])
}

func TestDiscover_TieBreak_SmallerOwnerKeeps(t *testing.T) {
	folders := map[string][]source.Entry{
		"fb":     {folder("shared")},
		"fa":     {form("a1", 3), folder("shared")},
		"shared": {},
	}
	res, _ := discover(t, folders, Input{Troupe: twoTypeTroupe()})

	assert.Equal(t, []string{"fa"}, res.FolderSets["a"])
	assert.Equal(t, []string{"fb", "shared"}, res.FolderSets["b"])
}

func TestDiscover_TransferredFolderReexpandedUnderNewOwner(t *testing.T) {
	folders := map[string][]source.Entry{
		"fb":     {form("b1", 1), folder("shared")},
		"fa":     {form("a1", 3), folder("shared")},
		"shared": {form("s1", 5)},
	}
	res, fx := discover(t, folders, Input{Troupe: twoTypeTroupe()})

	assert.Equal(t, 2, fx.Calls("shared"), "expanded once per owner")
	byURI := map[string]model.Event{}
	for _, ev := range res.Events {
		byURI[ev.SourceURI] = ev
	}
	// s1 was first created under b; later expansions only backfill a missing type.
	assert.Equal(t, "b", byURI["s1"].EventTypeID)
	assert.Equal(t, 2, byURI["s1"].Value)
}

func TestDiscover_MutualNestingTerminates(t *testing.T) {
	folders := map[string][]source.Entry{
		"fa": {form("a1", 1), folder("fb")},
		"fb": {form("b1", 2), folder("fa")},
	}
	res, _ := discover(t, folders, Input{Troupe: twoTypeTroupe()})

	total := len(res.FolderSets["a"]) + len(res.FolderSets["b"])
	assert.Equal(t, 2, total, "every folder has exactly one owner")
	assert.Equal(t, 2, res.NewEvents)
}

func TestDiscover_CreatesEvents(t *testing.T) {
	folders := map[string][]source.Entry{
		"fa": {
			form("a1", 3),
			{ID: "cal-1", Name: "Cal", MIMEType: source.MIMECalendar, CreatedTime: testNow.AddDate(0, -1, 0)},
			{ID: "pdf-1", Name: "Ignored", MIMEType: "application/pdf"},
		},
		"fb": {},
	}
	res, _ := discover(t, folders, Input{Troupe: twoTypeTroupe()})

	require.Len(t, res.Events, 2)
	assert.Equal(t, 2, res.NewEvents)
	first := res.Events[0]
	assert.Equal(t, "a1", first.SourceURI)
	assert.Equal(t, model.SourceForms, first.SourceKind)
	assert.Equal(t, "Form a1", first.Title)
	assert.Equal(t, "a", first.EventTypeID)
	assert.Equal(t, 1, first.Value)
	assert.Equal(t, "t1", first.TroupeID)
	assert.True(t, res.Changed[first.ID])
	assert.Equal(t, model.SourceCalendar, res.Events[1].SourceKind)
}

func TestDiscover_EventQuotaExhausted(t *testing.T) {
	known := model.Event{
		ID:         "known",
		TroupeID:   "t1",
		SourceKind: model.SourceForms,
		SourceURI:  "a1",
		StartDate:  time.Date(2024, 3, 3, 18, 0, 0, 0, time.UTC),
	}
	folders := map[string][]source.Entry{
		"fa": {form("a1", 3), form("a2", 4)},
		"fb": {},
	}
	proj := quota.NewProjection(quota.Limits{quota.Events: 0, quota.SourceFolders: 5})
	res, _ := discover(t, folders, Input{
		Troupe:     twoTypeTroupe(),
		Events:     []model.Event{known},
		Projection: proj,
	})

	require.Len(t, res.Events, 1, "no new events while quota is zero")
	assert.Equal(t, 0, res.NewEvents)
	assert.Equal(t, "a", res.Events[0].EventTypeID, "known event backfilled")
	assert.Equal(t, 1, res.Events[0].Value)
	assert.True(t, res.Changed["known"])
	assert.Empty(t, proj.Delta())
}

func TestDiscover_KnownEventWithTypeUnchanged(t *testing.T) {
	known := model.Event{ID: "known", TroupeID: "t1", SourceURI: "a1", EventTypeID: "b", Value: 9}
	folders := map[string][]source.Entry{"fa": {form("a1", 3)}, "fb": {}}
	res, _ := discover(t, folders, Input{Troupe: twoTypeTroupe(), Events: []model.Event{known}})

	assert.Equal(t, "b", res.Events[0].EventTypeID)
	assert.Equal(t, 9, res.Events[0].Value)
	assert.Empty(t, res.Changed)
	assert.Empty(t, res.ChangedEvents())
}

func TestDiscover_FolderQuotaGatesNewFolders(t *testing.T) {
	folders := map[string][]source.Entry{
		"fa":   {folder("sub1"), folder("sub2")},
		"fb":   {},
		"sub1": {},
		"sub2": {},
	}
	proj := quota.NewProjection(quota.Limits{quota.Events: 10, quota.SourceFolders: 1})
	res, _ := discover(t, folders, Input{Troupe: twoTypeTroupe(), Projection: proj})

	assert.Equal(t, []string{"fa", "sub1"}, res.FolderSets["a"])
	assert.Equal(t, 2, res.InitialFolders)
	assert.Equal(t, 3, res.FinalFolders)
	assert.Equal(t, quota.Limits{quota.SourceFolders: -1}, proj.Delta())
}

func TestDiscover_ListingFailureIsolated(t *testing.T) {
	fx, err := source.NewFixture(source.FixtureData{
		Folders: map[string][]source.Entry{
			"fa": {form("a1", 3)},
		},
		Failing: []string{"fb"},
	})
	require.NoError(t, err)
	proj := quota.NewProjection(quota.DefaultLimits())

	d := New(fx, testutil.NewSequenceGenerator("ev"))
	res, err := d.Discover(context.Background(), Input{Troupe: twoTypeTroupe(), Projection: proj, Now: testNow})
	require.NoError(t, err)

	assert.Empty(t, res.FolderSets["b"])
	assert.Equal(t, []string{"fa"}, res.FolderSets["a"])
	assert.Equal(t, 1, res.NewEvents, "traversal continued past the failure")
	assert.Equal(t, quota.Limits{quota.SourceFolders: 1, quota.Events: -1}, proj.Delta())
}

func TestDiscover_GuardedListingFailureKeepsHealthyFolders(t *testing.T) {
	fx, err := source.NewFixture(source.FixtureData{
		Folders: map[string][]source.Entry{
			"fa": {form("a1", 3)},
			"fb": {form("b1", 4)},
		},
		Failing: []string{"fc"},
	})
	require.NoError(t, err)
	guard := source.NewGuard(fx, source.GuardConfig{Name: "discovery-test", BreakerFailures: 1, BreakerTimeout: time.Hour})
	tr := model.NewTroupe("t1", "Troupe")
	tr.EventTypes["a"] = model.EventType{ID: "a", Title: "A", Value: 1, SourceFolderURIs: []string{"fa", "fb", "fc"}}

	// fc is expanded first and fails.
	res, err := New(guard, testutil.NewSequenceGenerator("ev")).Discover(context.Background(), Input{
		Troupe:     tr,
		Projection: quota.Unlimited(),
		Now:        testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"fa", "fb"}, res.FolderSets["a"])
	assert.Equal(t, 2, res.NewEvents)
}

func TestDiscover_CanceledContext(t *testing.T) {
	fx, err := source.NewFixture(source.FixtureData{Folders: map[string][]source.Entry{"fa": {}, "fb": {}}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = New(fx, testutil.NewSequenceGenerator("ev")).Discover(ctx, Input{
		Troupe:     twoTypeTroupe(),
		Projection: quota.Unlimited(),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApplyFolderSets(t *testing.T) {
	tr := twoTypeTroupe()
	require.NoError(t, ApplyFolderSets(tr, map[string][]string{"a": {"x"}, "b": {}}))
	assert.Equal(t, []string{"x"}, tr.EventTypes["a"].SourceFolderURIs)
	assert.Empty(t, tr.EventTypes["b"].SourceFolderURIs)

	assert.Error(t, ApplyFolderSets(tr, map[string][]string{"zzz": {}}))
}
