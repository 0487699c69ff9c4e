package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
	"github.com/cloudydaiyz/stringplay-core/internal/testutil"
)

// errInjected is returned by sources listed in a sync step's fail list.
var errInjected = errors.New("injected source failure")

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary database for isolation.
// Execution flow:
//  1. Seed the troupe, its events, members and limits
//  2. For each sync: apply field maps, faults and leases, advance the clock,
//     run the sync and check the report
//  3. Read the final state and evaluate assertions
//
// The returned error reports harness failures (bad fixture, unreadable
// database), never scenario failures; those are in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "stringplay-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "harness.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	ledger := quota.NewLedger(st.DB())
	if err := seed(ctx, st, ledger, &scenario.Troupe); err != nil {
		return nil, err
	}

	drive, err := source.NewFixture(scenario.Drive)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewFixedClock(scenario.Now)
	eng := engine.New(st, ledger, drive,
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		engine.WithDelegateConcurrency(1),
		engine.WithConcurrency(1),
	)

	troupeID := scenario.Troupe.ID
	result := NewResult()
	for i, step := range scenario.Syncs {
		clock.Advance(step.Advance)
		if err := applyFieldMaps(ctx, st, troupeID, step.MapFields); err != nil {
			return nil, fmt.Errorf("syncs[%d]: %w", i, err)
		}
		if step.HeldBy != "" {
			if _, err := st.AcquireLease(ctx, troupeID, step.HeldBy, clock.Now(), engine.DefaultLeaseTTL); err != nil {
				return nil, fmt.Errorf("syncs[%d]: hold lease: %w", i, err)
			}
		}
		for _, id := range step.Fail {
			drive.Fail(id, errInjected)
		}

		syncCtx := ctx
		if step.BypassQuota {
			syncCtx = quota.WithBypass(ctx, troupeID, true)
		}
		report, _ := eng.Sync(syncCtx, troupeID)
		result.Reports = append(result.Reports, report)
		checkReport(result, i, report, step.Expect)

		for _, id := range step.Fail {
			drive.Fail(id, nil)
		}
		if step.HeldBy != "" {
			if err := st.ReleaseLease(ctx, troupeID, step.HeldBy); err != nil {
				return nil, fmt.Errorf("syncs[%d]: release held lease: %w", i, err)
			}
		}
	}

	state, err := readState(ctx, st, ledger, troupeID)
	if err != nil {
		return nil, err
	}
	result.State = state

	for _, a := range scenario.Assertions {
		if err := evaluateAssertion(state, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func seed(ctx context.Context, st *store.Store, ledger *quota.Ledger, setup *TroupeSetup) error {
	tr := setup.Troupe
	tr.ApplyDefaults()
	if err := st.CreateTroupe(ctx, &tr); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	for _, ev := range setup.Events {
		ev.TroupeID = tr.ID
		if err := st.UpsertEvent(ctx, ev); err != nil {
			return fmt.Errorf("seed event %s: %w", ev.ID, err)
		}
	}
	for _, m := range setup.Members {
		m.TroupeID = tr.ID
		if err := st.UpsertMember(ctx, m); err != nil {
			return fmt.Errorf("seed member %s: %w", m.ID, err)
		}
	}
	limits := setup.Limits
	if limits == nil {
		limits = quota.DefaultLimits()
	}
	return ledger.Init(ctx, tr.ID, limits)
}

func applyFieldMaps(ctx context.Context, st *store.Store, troupeID string, maps map[string]map[string]model.FieldMapping) error {
	if len(maps) == 0 {
		return nil
	}
	events, err := st.ReadEvents(ctx, troupeID)
	if err != nil {
		return err
	}
	found := 0
	for _, ev := range events {
		fm, ok := maps[ev.SourceURI]
		if !ok {
			continue
		}
		ev.FieldToPropertyMap = fm
		if err := st.UpsertEvent(ctx, ev); err != nil {
			return err
		}
		found++
	}
	if found != len(maps) {
		return fmt.Errorf("map_fields: %d of %d source uris have no event", len(maps)-found, len(maps))
	}
	return nil
}

func checkReport(result *Result, index int, r *engine.Report, expect *SyncExpect) {
	if expect == nil {
		expect = &SyncExpect{Status: engine.StatusSucceeded}
	}
	if r.Status != expect.Status {
		result.AddError(fmt.Sprintf("syncs[%d]: status %s, want %s (error: %s)", index, r.Status, expect.Status, r.Error))
	}
	if expect.Code != "" {
		got := engine.Code("")
		if r.Err != nil {
			got = r.Err.Code
		}
		if got != expect.Code {
			result.AddError(fmt.Sprintf("syncs[%d]: code %q, want %q", index, got, expect.Code))
		}
	}
	if len(expect.Stats) == 0 {
		return
	}
	raw, _ := json.Marshal(r.Stats)
	var stats map[string]int
	_ = json.Unmarshal(raw, &stats)
	names := make([]string, 0, len(expect.Stats))
	for name := range expect.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		got, ok := stats[name]
		if !ok {
			result.AddError(fmt.Sprintf("syncs[%d]: unknown stat %q", index, name))
			continue
		}
		if got != expect.Stats[name] {
			result.AddError(fmt.Sprintf("syncs[%d]: stat %s = %d, want %d", index, name, got, expect.Stats[name]))
		}
	}
}

func readState(ctx context.Context, st *store.Store, ledger *quota.Ledger, troupeID string) (*State, error) {
	s := &State{}
	var err error
	if s.Troupe, err = st.ReadTroupe(ctx, troupeID); err != nil {
		return nil, err
	}
	if s.Events, err = st.ReadEvents(ctx, troupeID); err != nil {
		return nil, err
	}
	if s.Members, err = st.ReadMembers(ctx, troupeID); err != nil {
		return nil, err
	}
	if s.Buckets, err = st.ReadBuckets(ctx, troupeID); err != nil {
		return nil, err
	}
	if s.Limits, err = ledger.Get(ctx, troupeID); err != nil {
		return nil, err
	}
	d, err := st.ReadDashboard(ctx, troupeID)
	switch {
	case err == nil:
		s.Dashboard = d
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return s, nil
}
