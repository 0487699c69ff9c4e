// Package harness runs end-to-end sync scenarios against the real engine.
//
// A scenario seeds one troupe into a fresh database, describes the source
// drive as fixture data, runs a sequence of syncs and checks the final state.
// Every run uses a fixed clock, sequential ids and one delegate call at a
// time, so the final state is reproducible and can be compared against a
// golden snapshot.
//
// # Scenario Format
//
//	name: nested_folders
//	description: "Folders found inside owned folders join the owner's set"
//	now: 2024-06-01T12:00:00Z
//	troupe:
//	  id: t1
//	  name: Players
//	  event_types:
//	    rehearsal: {id: rehearsal, title: Rehearsal, value: 5, source_folder_uris: [f1]}
//	  limits: {events: 10, sourceFolders: 10, members: 10}
//	drive:
//	  folders:
//	    f1:
//	      - {id: form-1, mime_type: application/vnd.google-apps.form, created_time: 2024-03-01T18:00:00Z}
//	  forms:
//	    form-1:
//	      - {id: r1, submitted_at: 2024-03-01T19:00:00Z, answers: {q1: alice@example.com}}
//	syncs:
//	  - expect: {status: succeeded, stats: {new_events: 1}}
//	  - map_fields:
//	      form-1: {q1: {property: member-id}}
//	    expect: {status: succeeded, stats: {new_members: 1}}
//	assertions:
//	  - type: member
//	    identifier: alice@example.com
//	    points: {Total: 5}
//	  - type: unlocked
//
// # Sync Steps
//
// map_fields edits event field maps by source URI before the sync, the way
// an operator would. fail makes the listed source ids fail for that sync
// only. held_by leaves a live lease owned by another sync in place.
// advance moves the clock before the sync.
//
// # Golden Files
//
// RunWithGolden compares a Snapshot of the final state against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
