package ports

import (
	"context"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
)

// CredentialStore persists the single credential set of the monitored identity
type CredentialStore interface {
	// Load returns domain.ErrNoCredential when nothing has been stored yet.
	Load(ctx context.Context) (*domain.CredentialSet, error)
	Save(ctx context.Context, cred *domain.CredentialSet) error
}

// CredentialBroker acquires a fresh credential set from the login relay
type CredentialBroker interface {
	Refresh(ctx context.Context) (*domain.CredentialSet, error)
}

// VisitorFetcher pulls the latest visits from the origin API, already flattened
type VisitorFetcher interface {
	Fetch(ctx context.Context, cred *domain.CredentialSet) ([]domain.VisitorRecord, error)
}

// VisitJournal is the append-only record sink
type VisitJournal interface {
	Append(ctx context.Context, records []domain.VisitorRecord) error
	ReadAll(ctx context.Context) ([]domain.VisitorRecord, error)
}

// SnapshotSink holds the canonical, fully rewritten record collection
type SnapshotSink interface {
	Write(ctx context.Context, records []domain.VisitorRecord) error
	Read(ctx context.Context) ([]domain.VisitorRecord, error)
}

// RecordSource is anything reports can be computed from
type RecordSource interface {
	Records(ctx context.Context) ([]domain.VisitorRecord, error)
}

// RecordStore is the deduplicated visit collection
type RecordStore interface {
	RecordSource
	Merge(ctx context.Context, batch []domain.VisitorRecord) ([]domain.VisitorRecord, error)
	Snapshot() []domain.VisitorRecord
}

// ReportService defines the read side served over HTTP
type ReportService interface {
	Generate(ctx context.Context, startTs, endTs, bucketSeconds int64) (*domain.Report, error)
	GenerateWeekly(ctx context.Context, weekOffset int) (*domain.WeeklyReport, error)
	Cached(ctx context.Context) (*domain.Report, error)

	// Admin
	WeekLabel(weekOffset int) string
	TopVisitors(ctx context.Context, n int) ([]domain.TopVisitor, error)
	UniqueTotal(ctx context.Context) (int, error)
	VisitorHistory(ctx context.Context, visitorID int64, limit int) ([]domain.VisitorHistoryEntry, error)
}

// Restarter lets the HTTP surface ask the surrounding supervisor for a restart
type Restarter interface {
	RequestRestart(reason string) bool
}

// Admitter decides whether a client may make another request
type Admitter interface {
	Admit(clientKey string) bool
}
