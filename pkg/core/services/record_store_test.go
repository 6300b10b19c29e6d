package services

import (
	"context"
	"errors"
	"testing"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
)

func visit(uin, ts int64) domain.VisitorRecord {
	return domain.VisitorRecord{VisitorID: uin, Timestamp: ts}
}

func TestRecordStoreMergeIsIdempotent(t *testing.T) {
	journal := &memJournal{}
	snapshot := &memSnapshot{}
	store := NewRecordStore(journal, snapshot, discardLogger())
	ctx := context.Background()

	batch := []domain.VisitorRecord{
		visit(1, 100),
		visit(2, 200),
		visit(1, 100), // duplicate within the batch
		visit(1, 300),
	}

	added, err := store.Merge(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 3 {
		t.Fatalf("first merge added %d, want 3", len(added))
	}

	added, err = store.Merge(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 0 {
		t.Errorf("second merge added %d, want 0", len(added))
	}
	if store.Len() != 3 {
		t.Errorf("store holds %d records, want 3", store.Len())
	}
	if journal.appends != 1 {
		t.Errorf("journal appended %d times, want 1", journal.appends)
	}
}

func TestRecordStoreSinks(t *testing.T) {
	journal := &memJournal{}
	snapshot := &memSnapshot{}
	store := NewRecordStore(journal, snapshot, discardLogger())
	ctx := context.Background()

	if _, err := store.Merge(ctx, []domain.VisitorRecord{visit(1, 100), visit(2, 300)}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Merge(ctx, []domain.VisitorRecord{visit(3, 200), visit(2, 300), visit(4, 50)}); err != nil {
		t.Fatal(err)
	}

	// journal keeps batch order and only new records
	wantJournal := []int64{1, 2, 3, 4}
	if len(journal.rows) != len(wantJournal) {
		t.Fatalf("journal has %d rows, want %d", len(journal.rows), len(wantJournal))
	}
	for i, id := range wantJournal {
		if journal.rows[i].VisitorID != id {
			t.Errorf("journal[%d] = visitor %d, want %d", i, journal.rows[i].VisitorID, id)
		}
	}

	// snapshot holds everything, newest first
	wantSnapshot := []int64{300, 200, 100, 50}
	if len(snapshot.rows) != len(wantSnapshot) {
		t.Fatalf("snapshot has %d rows, want %d", len(snapshot.rows), len(wantSnapshot))
	}
	for i, ts := range wantSnapshot {
		if snapshot.rows[i].Timestamp != ts {
			t.Errorf("snapshot[%d].Timestamp = %d, want %d", i, snapshot.rows[i].Timestamp, ts)
		}
	}

	// nothing new: no rewrite
	writes := snapshot.writes
	if _, err := store.Merge(ctx, []domain.VisitorRecord{visit(1, 100)}); err != nil {
		t.Fatal(err)
	}
	if snapshot.writes != writes {
		t.Errorf("snapshot rewritten without new records")
	}
}

func TestRecordStoreSnapshotFailureIsReconciled(t *testing.T) {
	journal := &memJournal{}
	snapshot := &memSnapshot{err: errors.New("file locked")}
	store := NewRecordStore(journal, snapshot, discardLogger())
	ctx := context.Background()

	added, err := store.Merge(ctx, []domain.VisitorRecord{visit(1, 100)})
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Sink != "snapshot" {
		t.Fatalf("expected snapshot PersistenceError, got %v", err)
	}
	if len(added) != 1 || len(journal.rows) != 1 {
		t.Fatalf("journal must still receive the record: added=%d journal=%d", len(added), len(journal.rows))
	}

	// the lock goes away; a merge with nothing new still rewrites
	snapshot.err = nil
	if _, err := store.Merge(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.rows) != 1 {
		t.Errorf("snapshot not reconciled, has %d rows", len(snapshot.rows))
	}
}

func TestRecordStoreJournalFailure(t *testing.T) {
	journal := &memJournal{err: errors.New("disk full")}
	snapshot := &memSnapshot{}
	store := NewRecordStore(journal, snapshot, discardLogger())

	_, err := store.Merge(context.Background(), []domain.VisitorRecord{visit(1, 100)})
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Sink != "journal" {
		t.Fatalf("expected journal PersistenceError, got %v", err)
	}
	if len(snapshot.rows) != 1 {
		t.Errorf("snapshot should still be written, has %d rows", len(snapshot.rows))
	}
}

func TestRecordStoreRecover(t *testing.T) {
	journal := &memJournal{rows: []domain.VisitorRecord{visit(1, 100), visit(2, 200), visit(3, 300)}}
	snapshot := &memSnapshot{rows: []domain.VisitorRecord{visit(2, 200), visit(1, 100)}}
	store := NewRecordStore(journal, snapshot, discardLogger())
	ctx := context.Background()

	if err := store.Recover(ctx); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 3 {
		t.Fatalf("recovered %d records, want 3", store.Len())
	}

	got := store.Snapshot()
	if got[0].VisitorID != 3 {
		t.Errorf("newest record = visitor %d, want 3", got[0].VisitorID)
	}

	// the journal-only record makes the snapshot stale until the next merge
	if _, err := store.Merge(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.rows) != 3 {
		t.Errorf("snapshot has %d rows after reconcile, want 3", len(snapshot.rows))
	}
	if len(journal.rows) != 3 {
		t.Errorf("recovery must not append to the journal, has %d rows", len(journal.rows))
	}
}
