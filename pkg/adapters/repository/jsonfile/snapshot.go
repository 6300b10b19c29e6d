package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

// SnapshotFile is the canonical visitor database: one JSON array, newest first.
type SnapshotFile struct {
	path string
}

func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

func (f *SnapshotFile) Path() string { return f.path }

func (f *SnapshotFile) Write(ctx context.Context, records []domain.VisitorRecord) error {
	if records == nil {
		records = []domain.VisitorRecord{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return atomicWriteFile(f.path, data, 0o644)
}

// Read returns an empty collection when the file does not exist yet.
func (f *SnapshotFile) Read(ctx context.Context) ([]domain.VisitorRecord, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	records, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", f.path, err)
	}
	return records, nil
}

// Records lets reports run straight off the file.
func (f *SnapshotFile) Records(ctx context.Context) ([]domain.VisitorRecord, error) {
	return f.Read(ctx)
}

var (
	_ ports.SnapshotSink = (*SnapshotFile)(nil)
	_ ports.RecordSource = (*SnapshotFile)(nil)
)
