package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
)

func TestSnapshotFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "visitors.json")
	f := NewSnapshotFile(path)
	ctx := context.Background()

	got, err := f.Read(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("missing file should read empty, got %v, %v", got, err)
	}

	records := []domain.VisitorRecord{
		{Timestamp: 200, VisitorID: 2, DisplayName: "bob", PostID: "abc", IsYellowVIP: true},
		{Timestamp: 100, VisitorID: 1},
	}
	if err := f.Write(ctx, records); err != nil {
		t.Fatal(err)
	}

	got, err = f.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != records[0] || got[1] != records[1] {
		t.Errorf("read back %+v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestSnapshotFileReadsLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	legacy := `[
    {"time": 1706000000, "time_str": "2024-01-23 16:53:20", "uin": 12345, "name": "alice",
     "src": 0, "platform_src": 2, "service_src": 0, "hide_from": 0, "is_hide_visit": 1,
     "yellow": -1, "supervip": 3, "shuoshuo_id": "post-1"},
    {"time": 1705000000, "uin": 777, "name": null, "src": null, "hide_from": null, "yellow": true, "shuoshuo_id": null}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewSnapshotFile(path).Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.VisitorRecord{
		{Timestamp: 1706000000, VisitorID: 12345, DisplayName: "alice", PlatformSource: 2, IsHiddenVisit: true, IsSuperVIP: true, PostID: "post-1"},
		{Timestamp: 1705000000, VisitorID: 777, IsYellowVIP: true},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %+v", got)
	}
}

func TestSnapshotFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("[{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSnapshotFile(path).Read(context.Background()); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestCredentialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "COOKIE", "cookies-1.json")
	f := NewCredentialFile(path)
	ctx := context.Background()

	if _, err := f.Load(ctx); !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}

	cred, err := domain.NewCredentialSet(map[string]string{"p_skey": "abc", "uin": "o1"}, time.Unix(1700000000, 0).UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Save(ctx, cred); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("credential file mode = %o, want 600", perm)
	}

	loaded, err := f.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Checksum != 193485963 || loaded.Cookies["uin"] != "o1" || !loaded.IssuedAt.Equal(cred.IssuedAt) {
		t.Errorf("loaded %+v", loaded)
	}
}
