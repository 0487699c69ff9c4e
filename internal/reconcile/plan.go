package reconcile

import (
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/audience"
	"github.com/cloudydaiyz/stringplay-core/internal/discovery"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
)

// Input is everything the reconciler needs from one sync.
type Input struct {
	Troupe     *model.Troupe
	Discovery  *discovery.Result
	Audience   *audience.Outcome
	Projection *quota.Projection
	Now        time.Time
	PageSize   int
	IDs        model.IDGenerator
}

// Plan is the reconciled change set and the quota delta to apply with it.
type Plan struct {
	ChangeSet store.ChangeSet
	Delta     quota.Limits
	Stats     Stats
}

// Stats summarizes a plan for reports and logs.
type Stats struct {
	NewEvents      int `json:"new_events"`
	UpdatedEvents  int `json:"updated_events"`
	NewMembers     int `json:"new_members"`
	DeletedMembers int `json:"deleted_members"`
	DroppedMembers int `json:"dropped_members"`
	BucketUpserts  int `json:"bucket_upserts"`
	BucketDeletes  int `json:"bucket_deletes"`
}

// Build produces the plan. The troupe's event-type folder sets are replaced
// with the discovered ones and its last-updated time set to now.
func Build(in Input) (*Plan, error) {
	troupe := *in.Troupe
	troupe.EventTypes = make(map[string]model.EventType, len(in.Troupe.EventTypes))
	for id, et := range in.Troupe.EventTypes {
		troupe.EventTypes[id] = et
	}
	if err := discovery.ApplyFolderSets(&troupe, in.Discovery.FolderSets); err != nil {
		return nil, err
	}
	troupe.LastUpdated = in.Now
	troupe.Lease = nil

	changed := in.Discovery.ChangedEvents()
	cs := store.ChangeSet{
		Troupe:        &troupe,
		Dashboard:     BuildDashboard(&troupe, in.Discovery.Events, in.Audience.Kept, in.Now),
		Events:        changed,
		Members:       []model.Member{},
		DeleteMembers: []string{},
		Buckets:       []model.AttendanceBucket{},
		DeleteBuckets: []string{},
	}

	for _, ms := range in.Audience.Kept {
		cs.Members = append(cs.Members, ms.Member)
		upserts, deletes := Paginate(troupe.ID, ms.Member.ID, ms.Records, ms.Buckets, in.PageSize, in.IDs)
		cs.Buckets = append(cs.Buckets, upserts...)
		cs.DeleteBuckets = append(cs.DeleteBuckets, deletes...)
	}
	for _, ms := range in.Audience.Deleted {
		cs.DeleteMembers = append(cs.DeleteMembers, ms.Member.ID)
		for _, b := range ms.Buckets {
			cs.DeleteBuckets = append(cs.DeleteBuckets, b.ID)
		}
	}

	return &Plan{
		ChangeSet: cs,
		Delta:     QuotaDelta(in.Projection, in.Audience),
		Stats: Stats{
			NewEvents:      in.Discovery.NewEvents,
			UpdatedEvents:  len(changed) - in.Discovery.NewEvents,
			NewMembers:     in.Audience.NewMembers,
			DeletedMembers: len(in.Audience.Deleted),
			DroppedMembers: in.Audience.DroppedMembers,
			BucketUpserts:  len(cs.Buckets),
			BucketDeletes:  len(cs.DeleteBuckets),
		},
	}, nil
}

// QuotaDelta is the projection's delta plus one member unit returned for
// every deleted existing member.
func QuotaDelta(proj *quota.Projection, out *audience.Outcome) quota.Limits {
	delta := proj.Delta()
	if n := len(out.Deleted); n > 0 {
		delta[quota.Members] += n
		if delta[quota.Members] == 0 {
			delete(delta, quota.Members)
		}
	}
	return delta
}
