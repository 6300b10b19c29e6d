package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/qzone"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/adapters/repository/jsonfile"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
)

type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{
		"visitor": {"uin": 10001, "nickname": "cli"},
		"db_file": %q,
		"journal_url": %q,
		"cookie_file": %q,
		"timezone": "UTC",
		"log": {"level": "error"}
	}`, filepath.Join(dir, "visitors.json"), filepath.Join(dir, "journal.db"), filepath.Join(dir, "COOKIE", "cookies.json"))
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return testEnv{dir: dir, config: path}
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const legacyData = `[
    {"time": 1700000300, "time_str": "2023-11-14 22:18:20", "uin": 5, "name": "eve", "hide_from": 0, "yellow": 1, "shuoshuo_id": "post-9"},
    {"time": 1700000100, "uin": 6, "name": "frank", "is_hide_visit": 1},
    {"time": 1700000300, "uin": 5, "name": "eve again"}
]`

func TestImportExportAndCount(t *testing.T) {
	env := newTestEnv(t)
	legacy := filepath.Join(env.dir, "legacy.json")
	if err := os.WriteFile(legacy, []byte(legacyData), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "import", "--file", legacy)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 2 of 3 records") {
		t.Errorf("import output = %q", out)
	}

	// A second import adds nothing.
	out, err = env.run(t, "import", "--file", legacy)
	if err != nil || !strings.Contains(out, "Imported 0 of 3 records") {
		t.Errorf("re-import = %q, %v", out, err)
	}

	out, err = env.run(t, "journal-count")
	if err != nil || strings.TrimSpace(out) != "2" {
		t.Errorf("journal-count = %q, %v", out, err)
	}

	out, err = env.run(t, "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var exported []domain.VisitorRecord
	if err := json.Unmarshal([]byte(out), &exported); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if len(exported) != 2 || exported[0].VisitorID != 5 || !exported[0].IsYellowVIP || exported[1].VisitorID != 6 {
		t.Errorf("exported = %+v", exported)
	}

	target := filepath.Join(env.dir, "out.json")
	if _, err := env.run(t, "export", "--out", target); err != nil {
		t.Fatalf("export --out: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	fromFile, err := jsonfile.DecodeRecords(data)
	if err != nil || len(fromFile) != 2 {
		t.Errorf("export file = %d records, %v", len(fromFile), err)
	}
}

func TestImportRequiresFile(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.run(t, "import"); err == nil {
		t.Error("expected an error without --file")
	}
	if _, err := env.run(t, "import", "--file", filepath.Join(env.dir, "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestImportHelpRequiresStoppedServer(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"import"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(cmd.Long, "Stop the server first") {
		t.Errorf("import help = %q", cmd.Long)
	}
}

func TestReport(t *testing.T) {
	env := newTestEnv(t)
	legacy := filepath.Join(env.dir, "legacy.json")
	os.WriteFile(legacy, []byte(legacyData), 0o644)
	if _, err := env.run(t, "import", "--file", legacy); err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "report", "--start", "1700000000", "--end", "1700003600", "--scale", "600")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var report domain.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Summary.TotalVisits != 2 || report.Summary.UniqueVisitors != 2 || len(report.Series.Values) != 6 {
		t.Errorf("report = %+v", report)
	}

	out, err = env.run(t, "report", "--week", "-1")
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	var weekly domain.WeeklyReport
	if err := json.Unmarshal([]byte(out), &weekly); err != nil || weekly.Week == "" {
		t.Errorf("weekly = %+v, %v", weekly, err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"start without end", []string{"report", "--start", "1"}},
		{"zero scale", []string{"report", "--start", "1", "--end", "2", "--scale", "0"}},
		{"too many buckets", []string{"report", "--start", "0", "--end", "100000000", "--scale", "1"}},
		{"overflowing span", []string{"report", "--start=-9000000000000000000", "--end", "9000000000000000000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.run(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRefreshCredentials(t *testing.T) {
	env := newTestEnv(t)

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "pt_local_token", Value: "tok"})
	})
	mux.HandleFunc("GET /agent", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "clientkey", Value: "ck"})
		fmt.Fprint(w, "ptui_getst_CB({keyindex: 19})")
	})
	mux.HandleFunc("GET /jump", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ptui_qlogin_CB('0', '0', '%s/final', '')", srv.URL)
	})
	mux.HandleFunc("GET /final", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "p_skey", Value: "sess"})
		w.WriteHeader(http.StatusFound)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	out, err := env.run(t, "refresh-credentials",
		"--login-page-url", srv.URL+"/login",
		"--local-agent-url", srv.URL+"/agent",
		"--jump-url", srv.URL+"/jump",
	)
	if err != nil {
		t.Fatalf("refresh-credentials: %v", err)
	}
	if !strings.Contains(out, "Stored") {
		t.Errorf("output = %q", out)
	}

	cred, err := jsonfile.NewCredentialFile(filepath.Join(env.dir, "COOKIE", "cookies.json")).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cred.Cookies["p_skey"] != "sess" || cred.Checksum != domain.Checksum("sess") {
		t.Errorf("credential = %+v", cred)
	}
}

func TestRefreshCredentialsFailure(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := env.run(t, "refresh-credentials",
		"--login-page-url", srv.URL+"/login",
		"--local-agent-url", srv.URL+"/agent",
		"--jump-url", srv.URL+"/jump",
	)
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) || credErr.Step != qzone.StepLoginPage {
		t.Errorf("err = %v, want a login page failure", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"visitor": {"uin": 0}}`), 0o644)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "journal-count"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "visitor.uin is required") {
		t.Errorf("err = %v", err)
	}
}
