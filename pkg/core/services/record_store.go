package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

// RecordStore keeps the deduplicated visit collection in memory and mirrors it
// to two sinks: the journal receives only new records and is what makes a
// visit durable; the snapshot is the full sorted collection, rebuilt from
// memory on each merge and reconciled after a failed write.
type RecordStore struct {
	mu      sync.RWMutex
	records []domain.VisitorRecord
	keys    map[domain.VisitKey]struct{}
	dirty   bool

	journal  ports.VisitJournal
	snapshot ports.SnapshotSink
	log      *slog.Logger
}

func NewRecordStore(journal ports.VisitJournal, snapshot ports.SnapshotSink, logger *slog.Logger) *RecordStore {
	return &RecordStore{
		keys:     make(map[domain.VisitKey]struct{}),
		journal:  journal,
		snapshot: snapshot,
		log:      logger.With("component", "record_store"),
	}
}

// Recover loads the snapshot and then replays the journal over it. Records
// found only in the journal mark the snapshot dirty so the next merge rewrites it.
func (s *RecordStore) Recover(ctx context.Context) error {
	fromSnapshot, err := s.snapshot.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	fromJournal, err := s.journal.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = s.records[:0]
	s.keys = make(map[domain.VisitKey]struct{}, len(fromSnapshot))
	s.absorb(fromSnapshot)
	replayed := s.absorb(fromJournal)
	if len(replayed) > 0 {
		s.dirty = true
	}

	s.log.Info("record store recovered",
		"snapshot", len(fromSnapshot),
		"journal", len(fromJournal),
		"replayed", len(replayed),
		"total", len(s.records))
	return nil
}

// Merge adds the records of batch whose identity key is not yet known,
// including duplicates within batch itself, and returns them in batch order.
// A sink failure is returned as a *domain.PersistenceError; the in-memory
// state has been updated regardless.
func (s *RecordStore) Merge(ctx context.Context, batch []domain.VisitorRecord) ([]domain.VisitorRecord, error) {
	s.mu.Lock()
	added := s.absorb(batch)
	rewrite := len(added) > 0 || s.dirty
	var full []domain.VisitorRecord
	if rewrite {
		full = s.sortedCopy()
	}
	s.mu.Unlock()

	var errs []error
	if len(added) > 0 {
		if err := s.journal.Append(ctx, added); err != nil {
			errs = append(errs, &domain.PersistenceError{Sink: "journal", Err: err})
		}
	}

	if rewrite {
		err := s.snapshot.Write(ctx, full)
		s.mu.Lock()
		s.dirty = err != nil
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("snapshot rewrite failed, will retry on next merge", "error", err)
			errs = append(errs, &domain.PersistenceError{Sink: "snapshot", Err: err})
		}
	}

	return added, errors.Join(errs...)
}

// Snapshot returns every record, newest first.
func (s *RecordStore) Snapshot() []domain.VisitorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedCopy()
}

func (s *RecordStore) Records(ctx context.Context) ([]domain.VisitorRecord, error) {
	return s.Snapshot(), nil
}

func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// absorb must be called with mu held.
func (s *RecordStore) absorb(batch []domain.VisitorRecord) []domain.VisitorRecord {
	var added []domain.VisitorRecord
	for _, r := range batch {
		key := r.Key()
		if _, ok := s.keys[key]; ok {
			continue
		}
		s.keys[key] = struct{}{}
		s.records = append(s.records, r)
		added = append(added, r)
	}
	return added
}

func (s *RecordStore) sortedCopy() []domain.VisitorRecord {
	out := make([]domain.VisitorRecord, len(s.records))
	copy(out, s.records)
	domain.SortNewestFirst(out)
	return out
}

var _ ports.RecordStore = (*RecordStore)(nil)
