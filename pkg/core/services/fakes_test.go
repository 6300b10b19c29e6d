package services

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memJournal struct {
	mu      sync.Mutex
	rows    []domain.VisitorRecord
	appends int
	err     error
}

func (j *memJournal) Append(ctx context.Context, records []domain.VisitorRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appends++
	if j.err != nil {
		return j.err
	}
	j.rows = append(j.rows, records...)
	return nil
}

func (j *memJournal) ReadAll(ctx context.Context) ([]domain.VisitorRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.VisitorRecord(nil), j.rows...), nil
}

type memSnapshot struct {
	mu     sync.Mutex
	rows   []domain.VisitorRecord
	writes int
	err    error
}

func (s *memSnapshot) Write(ctx context.Context, records []domain.VisitorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	s.rows = append([]domain.VisitorRecord(nil), records...)
	return nil
}

func (s *memSnapshot) Read(ctx context.Context) ([]domain.VisitorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.VisitorRecord(nil), s.rows...), nil
}

// countingSource serves fixed records and counts how often it was asked.
type countingSource struct {
	mu      sync.Mutex
	records []domain.VisitorRecord
	calls   int
}

func (c *countingSource) Records(ctx context.Context) ([]domain.VisitorRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.records, nil
}

func (c *countingSource) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type memCredentials struct {
	cred  *domain.CredentialSet
	saves int
}

func (m *memCredentials) Load(ctx context.Context) (*domain.CredentialSet, error) {
	if m.cred == nil {
		return nil, domain.ErrNoCredential
	}
	return m.cred, nil
}

func (m *memCredentials) Save(ctx context.Context, cred *domain.CredentialSet) error {
	m.saves++
	m.cred = cred
	return nil
}

type fakeBroker struct {
	store *memCredentials
	calls int
	err   error
}

func (b *fakeBroker) Refresh(ctx context.Context) (*domain.CredentialSet, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	cred, err := domain.NewCredentialSet(map[string]string{"p_skey": "fresh"}, testNow)
	if err != nil {
		return nil, err
	}
	if b.store != nil {
		_ = b.store.Save(ctx, cred)
	}
	return cred, nil
}

// scriptedFetcher returns one scripted response per call, then repeats the last.
type scriptedFetcher struct {
	responses []fetchResponse
	calls     int
	seen      []*domain.CredentialSet
}

type fetchResponse struct {
	records []domain.VisitorRecord
	err     error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, cred *domain.CredentialSet) ([]domain.VisitorRecord, error) {
	f.seen = append(f.seen, cred)
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i].records, f.responses[i].err
}
