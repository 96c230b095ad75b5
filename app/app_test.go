package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"siteclone/apiclients/platform"
	"siteclone/clone"
	"siteclone/internal/token"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

const testAccessToken = "test-access-token"

// fakePlatform is an in-memory platform API. Sites are keyed by name and
// environments by site id and environment name.
type fakePlatform struct {
	mu sync.Mutex

	sites        map[string]platform.Site
	environments map[string]platform.Environment
	backups      map[string][]platform.Backup // keyed by environment id
	workflow     platform.Workflow
	workflowErrs []int // status codes answered to the next workflow requests

	created  []string   // environment ids backed up
	elements [][]string // elements requested per backup
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		sites: map[string]platform.Site{
			"site1": {ID: "s-1", Name: "site1", Label: "Site One", Framework: "drupal"},
		},
		environments: map[string]platform.Environment{
			"s-1/live": {ID: "e-live", Name: "live", PHPVersion: "8.2"},
			"s-1/test": {ID: "e-test", Name: "test", PHPVersion: "8.2"},
		},
		backups: map[string][]platform.Backup{
			"e-live": {
				{ID: "b-db-old", Element: "database", CreatedAt: platform.Timestamp{Time: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}, Finished: true},
				{ID: "b-db-new", Element: "database", CreatedAt: platform.Timestamp{Time: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}, Finished: true},
				{ID: "b-code", Element: "code", CreatedAt: platform.Timestamp{Time: time.Date(2026, 10, 19, 9, 1, 0, 0, time.UTC)}, Finished: true},
				{ID: "b-files", Element: "files", CreatedAt: platform.Timestamp{Time: time.Date(2026, 10, 19, 9, 2, 0, 0, time.UTC)}, Finished: true},
				{ID: "b-files-unfinished", Element: "files", CreatedAt: platform.Timestamp{Time: time.Date(2026, 10, 19, 9, 3, 0, 0, time.UTC)}},
			},
		},
		workflow: platform.Workflow{Status: platform.WorkflowSucceeded},
	}
}

// createdBackups returns the environment ids backed up so far and the elements
// requested for each.
func (f *fakePlatform) createdBackups() ([]string, [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...), append([][]string(nil), f.elements...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handler serves the platform endpoints, requiring the test bearer token.
func (f *fakePlatform) handler(t *testing.T, serverURL func() string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /sites/{site}", func(w http.ResponseWriter, r *http.Request) {
		site, ok := f.sites[r.PathValue("site")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, site)
	})
	mux.HandleFunc("GET /sites/{site}/environments/{env}", func(w http.ResponseWriter, r *http.Request) {
		env, ok := f.environments[r.PathValue("site")+"/"+r.PathValue("env")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, env)
	})
	mux.HandleFunc("POST /sites/{site}/environments/{env}/backups", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Elements []string `json:"elements"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("could not decode backup request: %v", err)
		}
		f.mu.Lock()
		f.created = append(f.created, r.PathValue("env"))
		f.elements = append(f.elements, body.Elements)
		f.mu.Unlock()
		writeJSON(w, map[string]string{"workflow_id": "wf-" + r.PathValue("env")})
	})
	mux.HandleFunc("GET /sites/{site}/environments/{env}/backups", func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.URL.Query().Get("status"), platform.BackupStatusFinished; got != want {
			t.Errorf("backup list status got %q want %q", got, want)
		}
		element := r.URL.Query().Get("element")
		list := []platform.Backup{}
		for _, b := range f.backups[r.PathValue("env")] {
			if b.Element == element {
				list = append(list, b)
			}
		}
		writeJSON(w, list)
	})
	mux.HandleFunc("GET /sites/{site}/environments/{env}/backups/{id}/url", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"url": serverURL() + "/download/" + r.PathValue("id")})
	})
	mux.HandleFunc("GET /workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if len(f.workflowErrs) > 0 {
			code := f.workflowErrs[0]
			f.workflowErrs = f.workflowErrs[1:]
			f.mu.Unlock()
			http.Error(w, http.StatusText(code), code)
			return
		}
		wf := f.workflow
		f.mu.Unlock()
		wf.ID = r.PathValue("id")
		writeJSON(w, wf)
	})
	mux.HandleFunc("GET /download/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "archive %s", r.PathValue("id"))
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Authorization"), "Bearer "+testAccessToken; got != want {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// setupApp starts a fake platform, writes a configuration file and a cached
// token for it and returns an App writing to out.
func setupApp(t *testing.T, fp *fakePlatform) (app *App, cfgPath string, out *bytes.Buffer, dir string) {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewServer(fp.handler(t, func() string { return server.URL }))
	t.Cleanup(server.Close)

	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	tokenPath := filepath.Join(dir, "token.json")
	cfg := fmt.Sprintf(`
platform:
  base_url: %s
  token_url: %s/oauth2/token
  client_id: siteclone
  client_secret: secret
  token_file_path: %s
history:
  database_path: %s
polling:
  initial_interval: 1ms
  max_interval: 5ms
  max_wait: 5s
`, server.URL, server.URL, tokenPath, filepath.Join(dir, "history.db"))
	if err := os.WriteFile(cfgPath, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	ct := &token.CachedToken{
		Token: &oauth2.Token{
			AccessToken: testAccessToken,
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(time.Hour),
		},
		BaseURL: server.URL,
	}
	if err := ct.Save(tokenPath); err != nil {
		t.Fatal(err)
	}

	out = &bytes.Buffer{}
	app = New(log.New(io.Discard), strings.NewReader(""), out, false)
	return app, cfgPath, out, dir
}

func TestClone(t *testing.T) {
	fp := newFakePlatform()
	app, cfgPath, out, _ := setupApp(t, fp)

	req := clone.Request{Source: "site1.live", Destination: "site1.test", SkipCode: true}
	if err := app.Clone(context.Background(), cfgPath, req, CloneOptions{}); err != nil {
		t.Fatal(err)
	}

	created, requested := fp.createdBackups()
	if diff := cmp.Diff([]string{"e-live", "e-test"}, created); diff != "" {
		t.Errorf("backups created mismatch (-want +got):\n%s", diff)
	}
	for i, elements := range requested {
		if len(elements) != 0 {
			t.Errorf("backup %d should be of the whole environment, got %v", i, elements)
		}
	}

	got := out.String()
	for _, want := range []string{"site1.live to site1.test", "/download/b-db-new", "/download/b-files"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	for _, notWant := range []string{"b-db-old", "b-code", "b-files-unfinished"} {
		if strings.Contains(got, notWant) {
			t.Errorf("output should not contain %q:\n%s", notWant, got)
		}
	}

	out.Reset()
	if err := app.History(context.Background(), cfgPath, 10); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"site1.live", "site1.test", "database,files", "succeeded"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("history missing %q:\n%s", want, out.String())
		}
	}
}

func TestCloneDownloads(t *testing.T) {
	fp := newFakePlatform()
	app, cfgPath, out, dir := setupApp(t, fp)

	downloadDir := filepath.Join(dir, "downloads")
	req := clone.Request{Source: "site1.live", Destination: "site1.test", SkipCode: true, SkipFiles: true}
	if err := app.Clone(context.Background(), cfgPath, req, CloneOptions{DownloadDir: downloadDir}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(downloadDir, "site1-live-database-20261019T090000Z.sql.gz")
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(contents), "archive b-db-new"; got != want {
		t.Errorf("download got %q want %q", got, want)
	}
	if !strings.Contains(out.String(), "downloaded "+path) {
		t.Errorf("output missing download path:\n%s", out.String())
	}
}

func TestCloneFailedBackupIsRecorded(t *testing.T) {
	fp := newFakePlatform()
	fp.workflow = platform.Workflow{Status: platform.WorkflowFailed, Message: "disk full"}
	app, cfgPath, out, _ := setupApp(t, fp)

	req := clone.Request{Source: "site1.live", Destination: "site1.test"}
	err := app.Clone(context.Background(), cfgPath, req, CloneOptions{})
	if !errors.Is(err, clone.ErrBackupFailed) {
		t.Fatalf("expected a backup failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error should carry the platform message: %v", err)
	}
	created, _ := fp.createdBackups()
	if diff := cmp.Diff([]string{"e-live"}, created); diff != "" {
		t.Errorf("the destination should not be backed up after the source fails (-want +got):\n%s", diff)
	}

	if err := app.History(context.Background(), cfgPath, 5); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "failed") {
		t.Errorf("history should record the failed run:\n%s", out.String())
	}
}

func TestCloneVersionMismatchNonInteractive(t *testing.T) {
	fp := newFakePlatform()
	fp.environments["s-1/test"] = platform.Environment{ID: "e-test", Name: "test", PHPVersion: "7.4"}
	app, cfgPath, out, _ := setupApp(t, fp)

	req := clone.Request{Source: "site1.live", Destination: "site1.test"}
	if err := app.Clone(context.Background(), cfgPath, req, CloneOptions{}); err != nil {
		t.Fatal(err)
	}
	if created, _ := fp.createdBackups(); len(created) != 0 {
		t.Errorf("no backups should be created, got %v", created)
	}
	if !strings.Contains(out.String(), "Clone cancelled") {
		t.Errorf("output should report the cancellation:\n%s", out.String())
	}

	// --yes answers the question.
	out.Reset()
	if err := app.Clone(context.Background(), cfgPath, req, CloneOptions{AssumeYes: true}); err != nil {
		t.Fatal(err)
	}
	created, _ := fp.createdBackups()
	if got, want := len(created), 2; got != want {
		t.Errorf("got %d backups want %d", got, want)
	}
}

func TestCloneUnknownSite(t *testing.T) {
	app, cfgPath, _, _ := setupApp(t, newFakePlatform())

	req := clone.Request{Source: "nosuchsite.live", Destination: "site1.test"}
	err := app.Clone(context.Background(), cfgPath, req, CloneOptions{})
	if !errors.Is(err, clone.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("the platform error should be kept: %v", err)
	}
}

func TestBackup(t *testing.T) {
	fp := newFakePlatform()
	app, cfgPath, out, _ := setupApp(t, fp)

	if err := app.Backup(context.Background(), cfgPath, "site1.test"); err != nil {
		t.Fatal(err)
	}
	created, _ := fp.createdBackups()
	if diff := cmp.Diff([]string{"e-test"}, created); diff != "" {
		t.Errorf("backups created mismatch (-want +got):\n%s", diff)
	}
	if got, want := out.String(), "Backup wf-e-test of site1.test finished\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	if err := app.Backup(context.Background(), cfgPath, "site1"); !errors.Is(err, clone.ErrMalformedIdentifier) {
		t.Errorf("expected a malformed identifier error, got %v", err)
	}
}

func TestBackupRetriesServerErrors(t *testing.T) {
	fp := newFakePlatform()
	fp.workflowErrs = []int{http.StatusBadGateway, http.StatusServiceUnavailable}
	app, cfgPath, out, _ := setupApp(t, fp)

	if err := app.Backup(context.Background(), cfgPath, "site1.test"); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "Backup wf-e-test of site1.test finished\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	fp.mu.Lock()
	fp.workflowErrs = []int{http.StatusForbidden}
	fp.mu.Unlock()
	err := app.Backup(context.Background(), cfgPath, "site1.test")
	if err == nil || !strings.Contains(err.Error(), "status 403") {
		t.Errorf("expected the forbidden status to end the wait, got %v", err)
	}
}

func TestNotLoggedIn(t *testing.T) {
	app, cfgPath, _, dir := setupApp(t, newFakePlatform())

	if err := app.Logout(context.Background(), cfgPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "token.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("token file should be deleted, got %v", err)
	}
	// Logging out twice is fine.
	if err := app.Logout(context.Background(), cfgPath); err != nil {
		t.Fatal(err)
	}

	req := clone.Request{Source: "site1.live", Destination: "site1.test"}
	if err := app.Clone(context.Background(), cfgPath, req, CloneOptions{}); !errors.Is(err, token.ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestTokenForOtherPlatform(t *testing.T) {
	app, cfgPath, _, dir := setupApp(t, newFakePlatform())

	tokenPath := filepath.Join(dir, "token.json")
	ct, err := token.Load(tokenPath)
	if err != nil {
		t.Fatal(err)
	}
	ct.BaseURL = "https://other.example.com"
	if err := ct.Save(tokenPath); err != nil {
		t.Fatal(err)
	}

	err = app.Backup(context.Background(), cfgPath, "site1.live")
	if err == nil || !strings.Contains(err.Error(), "other.example.com") {
		t.Errorf("expected a platform mismatch error, got %v", err)
	}
}

func TestHistoryEmpty(t *testing.T) {
	app, cfgPath, out, _ := setupApp(t, newFakePlatform())

	if err := app.History(context.Background(), cfgPath, 10); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "No clone runs recorded.\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestExportSQL(t *testing.T) {
	out := &bytes.Buffer{}
	app := New(log.New(io.Discard), strings.NewReader(""), out, false)

	dir := filepath.Join(t.TempDir(), "sql")
	if err := app.ExportSQL(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), filepath.Join(dir, "schema.sql")) {
		t.Errorf("export output missing schema.sql:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "runs.sql")); err != nil {
		t.Error(err)
	}

	// A second export does not overwrite the edited files.
	if err := app.ExportSQL(context.Background(), dir); err == nil {
		t.Error("expected an error exporting over existing files")
	}
}
