package reconcile

import (
	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// Paginate splits records into pages of pageSize and reconciles them with
// the member's stored buckets.
//
// Page i reuses the stored bucket at page i (same id, updated in place) or
// gets a new id. Unchanged stored pages are not rewritten. Stored pages at or
// beyond the new page count are returned for deletion.
func Paginate(
	troupeID, memberID string,
	records []model.AttendanceRecord,
	stored []model.AttendanceBucket,
	pageSize int,
	ids model.IDGenerator,
) (upserts []model.AttendanceBucket, deletes []string) {
	if pageSize <= 0 {
		pageSize = model.MaxPageSize
	}
	byPage := make(map[int]model.AttendanceBucket, len(stored))
	for _, b := range stored {
		byPage[b.Page] = b
	}

	pages := (len(records) + pageSize - 1) / pageSize
	upserts = []model.AttendanceBucket{}
	for i := 0; i < pages; i++ {
		end := (i + 1) * pageSize
		if end > len(records) {
			end = len(records)
		}
		page := append([]model.AttendanceRecord(nil), records[i*pageSize:end]...)

		prev, ok := byPage[i]
		if ok && sameRecords(prev.Events, page) && prev.TroupeID == troupeID {
			continue
		}
		id := prev.ID
		if !ok {
			id = ids.Generate()
		}
		upserts = append(upserts, model.AttendanceBucket{
			ID:       id,
			TroupeID: troupeID,
			MemberID: memberID,
			Page:     i,
			Events:   page,
		})
	}

	deletes = []string{}
	for _, b := range stored {
		if b.Page >= pages {
			deletes = append(deletes, b.ID)
		}
	}
	return upserts, deletes
}

func sameRecords(a, b []model.AttendanceRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].EventID != b[i].EventID ||
			a[i].TypeID != b[i].TypeID ||
			a[i].Value != b[i].Value ||
			!a[i].StartDate.Equal(b[i].StartDate) {
			return false
		}
	}
	return true
}
