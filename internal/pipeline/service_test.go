package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"mailcheck/internal"
	"mailcheck/internal/backend"
	"mailcheck/internal/config"
	"mailcheck/internal/logger"
	"mailcheck/internal/storage"
)

type fakeBackend struct {
	uploads atomic.Int32
	tasks   atomic.Int32
	srv     *httptest.Server
	// jobs per task id; a missing id answers 404
	jobs map[string]string
}

func newFakeBackend(t *testing.T, jobs map[string]string) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{jobs: jobs}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		fb.uploads.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var acks []map[string]any
		for _, fh := range r.MultipartForm.File["files[]"] {
			acks = append(acks, map[string]any{"filename": fh.Filename, "task_id": "task-" + strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))})
		}
		_ = json.NewEncoder(w).Encode(acks)
	})
	mux.HandleFunc("POST /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		fb.tasks.Add(1)
		_, _ = w.Write([]byte(`{"task_id":"manual-1"}`))
	})
	mux.HandleFunc("GET /v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, ok := fb.jobs[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func testService(t *testing.T, fb *fakeBackend) (*VerificationService, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	client := backend.NewClient(config.Backend{
		BaseURL:      fb.srv.URL + "/v1",
		Token:        "test",
		RateLimitRPS: 1000,
		MaxAttempts:  1,
	})
	return NewVerificationService(client, db, logger.Discard(), 2), db
}

func TestSmokeUploadToSummary(t *testing.T) {
	fb := newFakeBackend(t, map[string]string{
		"task-a": `{"id":"task-a","jobs":[
			{"email_address":"1@x.com","status":"exists"},
			{"email_address":"2@x.com","status":"catchall"},
			{"email":{"email_address":"3@x.com","status":"not_exists"}}
		]}`,
	})
	svc, db := testService(t, fb)
	ctx := context.Background()

	files := []internal.UploadedFile{
		{Name: "a.csv", Content: []byte("email\n1@x.com\n2@x.com\n3@x.com\n")},
		{Name: "b.xlsx", Content: mkXLSX([][]any{{"Email"}, {"4@x.com"}})},
	}
	meta := []internal.FileMeta{{EmailColumn: "A", HasHeader: true}, {EmailColumn: "A", HasHeader: true}}

	res, err := svc.SubmitUpload(ctx, "user-1", files, meta)
	if err != nil {
		t.Fatal(err)
	}
	if res.Unmatched != 0 || len(res.Batch.Files) != 2 || res.Batch.ID == "" {
		t.Fatalf("result=%+v", res)
	}

	summary, err := svc.Summary(ctx, "user-1", res.Batch.ID)
	if err != nil {
		t.Fatal(err)
	}
	a, b := summary.Files[0], summary.Files[1]
	if a.Status != internal.FileDownload || *a.TotalEmails != 3 || *a.Valid != 1 || *a.CatchAll != 1 || *a.Invalid != 1 {
		t.Fatalf("a.csv=%+v", a)
	}
	if b.Status != internal.FilePending || b.TotalEmails != nil {
		t.Fatalf("b.xlsx=%+v", b)
	}
	if !summary.HasTotals || *summary.TotalEmails != 3 {
		t.Fatalf("totals=%+v", summary)
	}

	pending, err := db.ListPendingTaskIDs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != "task-b" {
		t.Fatalf("pending=%v", pending)
	}
}

func TestSummaryIsScopedToOwner(t *testing.T) {
	fb := newFakeBackend(t, map[string]string{
		"task-secret": `{"jobs":[{"email_address":"1@x.com","status":"exists"}]}`,
	})
	svc, _ := testService(t, fb)
	ctx := context.Background()

	res, err := svc.SubmitUpload(ctx, "alice",
		[]internal.UploadedFile{{Name: "secret.csv", Content: []byte("email\n1@x.com\n")}},
		[]internal.FileMeta{{EmailColumn: "A", HasHeader: true}},
	)
	if err != nil {
		t.Fatal(err)
	}

	for _, user := range []string{"bob", ""} {
		if _, err := svc.Summary(ctx, user, res.Batch.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("user %q: expected ErrNotFound, got %v", user, err)
		}
	}
	if _, err := svc.Summary(ctx, "alice", res.Batch.ID); err != nil {
		t.Fatalf("owner: %v", err)
	}
}

func TestSubmitUploadRejectsMultiSheetBeforeUpload(t *testing.T) {
	fb := newFakeBackend(t, nil)
	svc, _ := testService(t, fb)

	files := []internal.UploadedFile{
		{Name: "ok.csv", Content: []byte("email\n")},
		{Name: "two.xlsx", Content: mkXLSX([][]any{{"email"}}, "Second")},
	}
	meta := []internal.FileMeta{{EmailColumn: "A"}, {EmailColumn: "A"}}

	_, err := svc.SubmitUpload(context.Background(), "user-1", files, meta)
	if !errors.Is(err, ErrAmbiguousSpreadsheet) {
		t.Fatalf("expected ambiguous spreadsheet, got %v", err)
	}
	if fb.uploads.Load() != 0 {
		t.Fatal("backend received an upload")
	}
}

func TestSubmitManual(t *testing.T) {
	fb := newFakeBackend(t, nil)
	svc, _ := testService(t, fb)

	if _, err := svc.SubmitManual(context.Background(), "u", " \n, "); !errors.Is(err, ErrNoEmails) {
		t.Fatalf("expected ErrNoEmails, got %v", err)
	}
	res, err := svc.SubmitManual(context.Background(), "u", "a@x.com, a@x.com\nb@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if res.TaskID != "manual-1" || len(res.Emails) != 2 || fb.tasks.Load() != 1 {
		t.Fatalf("res=%+v tasks=%d", res, fb.tasks.Load())
	}
}

func TestRefreshPending(t *testing.T) {
	fb := newFakeBackend(t, map[string]string{
		"task-a": `{"jobs":[{"email_address":"1@x.com","status":"queued"}]}`,
		"task-b": `{"jobs":[{"email_address":"2@x.com","status":"exists"}]}`,
	})
	svc, db := testService(t, fb)
	ctx := context.Background()

	batch := internal.UploadBatch{ID: "b", UserID: "u", Files: []internal.BatchFile{
		{Position: 0, FileName: "a.csv", TaskID: strp("task-a")},
		{Position: 1, FileName: "b.csv", TaskID: strp("task-b")},
		{Position: 2, FileName: "c.csv", TaskID: strp("task-c")},
	}}
	if err := db.SaveUpload(ctx, batch); err != nil {
		t.Fatal(err)
	}

	res, err := svc.RefreshPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Checked != 3 || len(res.Finished) != 1 || res.Failed != 1 {
		t.Fatalf("res=%+v", res)
	}

	pending, _ := db.ListPendingTaskIDs(ctx, 10)
	if len(pending) != 2 {
		t.Fatalf("pending=%v", pending)
	}
}
