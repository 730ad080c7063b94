package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkdata/internal/catalog"
)

const docketCSV = "id,court_id,docket_number\n1,scotus,22-451\n2,ca9,23-1001\n"

// objectStore is a fake bulk-data bucket.
type objectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	advertise map[string]int64 // HEAD size override
	failGets  map[string]int   // serve 500 for the first n GETs
	unsized   map[string]bool  // no Content-Length on HEAD, chunked GET
	heads     int
	gets      int
}

func newObjectStore() *objectStore {
	return &objectStore{
		objects:   make(map[string][]byte),
		advertise: make(map[string]int64),
		failGets:  make(map[string]int),
		unsized:   make(map[string]bool),
	}
}

func (s *objectStore) routes() http.Handler {
	r := chi.NewRouter()
	r.Head("/bulk-data/{name}", s.head)
	r.Get("/bulk-data/{name}", s.get)
	return r
}

func (s *objectStore) head(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads++

	name := chi.URLParam(r, "name")
	body, ok := s.objects[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.unsized[name] {
		w.WriteHeader(http.StatusOK)
		return
	}
	size := int64(len(body))
	if adv, ok := s.advertise[name]; ok {
		size = adv
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *objectStore) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.gets++
	name := chi.URLParam(r, "name")
	body, ok := s.objects[name]
	unsized := s.unsized[name]
	if s.failGets[name] > 0 {
		s.failGets[name]--
		s.mu.Unlock()
		http.Error(w, "try later", http.StatusInternalServerError)
		return
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if unsized {
		half := len(body) / 2
		w.Write(body[:half])
		w.(http.Flusher).Flush()
		w.Write(body[half:])
		return
	}
	w.Write(body)
}

func (s *objectStore) requests() (heads, gets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads, s.gets
}

type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	result error
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return r.result
}

func newTestWorker(maxAttempts int) (*Worker, *sleepRecorder) {
	w := NewWorker(Config{MaxAttempts: maxAttempts, BackoffBase: time.Millisecond})
	rec := &sleepRecorder{}
	w.sleep = rec.sleep
	return w, rec
}

func taskFor(t *testing.T, srv *httptest.Server, name, dest string) Task {
	t.Helper()
	ref, ok := catalog.NewFileReference(srv.URL + "/bulk-data/" + name)
	if !ok {
		t.Fatalf("bad reference for %q", name)
	}
	return Task{Ref: ref, DestDir: dest}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestTransfer_SkipsExistingOutput(t *testing.T) {
	tests := []struct {
		name     string
		remote   string
		existing string
	}{
		{"extracted csv present", "dockets-2025-07-01.csv.bz2", "dockets-2025-07-01.csv"},
		{"csv sibling present", "schema-2025-07-01.sql.bz2", "schema-2025-07-01.sql.csv"},
		{"extracted script present", "schema-2025-07-01.sql.bz2", "schema-2025-07-01.sql"},
		{"plain file present", "people-2025-07-01.csv", "people-2025-07-01.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newObjectStore()
			store.objects[tt.remote] = []byte("irrelevant")
			srv := httptest.NewServer(store.routes())
			defer srv.Close()

			dest := t.TempDir()
			existing := filepath.Join(dest, tt.existing)
			if err := os.WriteFile(existing, []byte("kept"), 0o644); err != nil {
				t.Fatal(err)
			}

			w, _ := newTestWorker(3)
			out := w.Transfer(context.Background(), taskFor(t, srv, tt.remote, dest))

			if out.Status != Skipped {
				t.Fatalf("Status = %v, want skipped (err %v)", out.Status, out.Err)
			}
			if out.Path != existing {
				t.Errorf("Path = %q, want %q", out.Path, existing)
			}
			if heads, gets := store.requests(); heads+gets != 0 {
				t.Errorf("made %d HEAD and %d GET requests, want none", heads, gets)
			}
			if b, _ := os.ReadFile(existing); string(b) != "kept" {
				t.Errorf("existing output modified: %q", b)
			}
		})
	}
}

func TestTransfer_UnknownSizeIsAccepted(t *testing.T) {
	store := newObjectStore()
	store.objects["courts-2025-07-01.csv"] = []byte(docketCSV)
	store.unsized["courts-2025-07-01.csv"] = true
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	dest := t.TempDir()
	w, rec := newTestWorker(3)
	out := w.Transfer(context.Background(), taskFor(t, srv, "courts-2025-07-01.csv", dest))

	if out.Status != Succeeded {
		t.Fatalf("Status = %v, err = %v", out.Status, out.Err)
	}
	if out.Bytes != int64(len(docketCSV)) {
		t.Errorf("Bytes = %d, want %d", out.Bytes, len(docketCSV))
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
	if len(rec.waits) != 0 {
		t.Errorf("waits = %v, want none", rec.waits)
	}

	got, err := os.ReadFile(filepath.Join(dest, "courts-2025-07-01.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != docketCSV {
		t.Errorf("content = %q", got)
	}
}

func TestTransfer_PlainFile(t *testing.T) {
	store := newObjectStore()
	store.objects["courts-2025-07-01.csv"] = []byte(docketCSV)
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	dest := t.TempDir()
	w, _ := newTestWorker(3)
	out := w.Transfer(context.Background(), taskFor(t, srv, "courts-2025-07-01.csv", dest))

	if out.Status != Succeeded {
		t.Fatalf("Status = %v, err = %v", out.Status, out.Err)
	}
	if out.Bytes != int64(len(docketCSV)) {
		t.Errorf("Bytes = %d, want %d", out.Bytes, len(docketCSV))
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}

	got, err := os.ReadFile(filepath.Join(dest, "courts-2025-07-01.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != docketCSV {
		t.Errorf("content = %q", got)
	}
	if names := dirEntries(t, dest); len(names) != 1 {
		t.Errorf("dest contains %v, want only the final file", names)
	}
}

func TestTransfer_Bz2LeavesOnlyExtractedFile(t *testing.T) {
	store := newObjectStore()
	store.objects["dockets-2025-07-01.csv.bz2"] = readFixture(t, "dockets.csv.bz2")
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	dest := t.TempDir()
	w, _ := newTestWorker(3)
	out := w.Transfer(context.Background(), taskFor(t, srv, "dockets-2025-07-01.csv.bz2", dest))

	if out.Status != Succeeded {
		t.Fatalf("Status = %v, err = %v", out.Status, out.Err)
	}
	want := filepath.Join(dest, "dockets-2025-07-01.csv")
	if out.Path != want {
		t.Errorf("Path = %q, want %q", out.Path, want)
	}

	names := dirEntries(t, dest)
	if len(names) != 1 || names[0] != "dockets-2025-07-01.csv" {
		t.Fatalf("dest contains %v, want only dockets-2025-07-01.csv", names)
	}
	got, _ := os.ReadFile(want)
	if string(got) != docketCSV {
		t.Errorf("extracted content = %q", got)
	}
}

func TestTransfer_SizeMismatchExhaustsAttempts(t *testing.T) {
	const name = "dockets-2025-07-01.csv.bz2"
	body := readFixture(t, "dockets.csv.bz2")

	store := newObjectStore()
	store.objects[name] = body
	store.advertise[name] = int64(len(body) + 10)
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	dest := t.TempDir()
	w, rec := newTestWorker(3)
	out := w.Transfer(context.Background(), taskFor(t, srv, name, dest))

	if out.Status != Failed {
		t.Fatalf("Status = %v, want failed", out.Status)
	}
	if !errors.Is(out.Err, ErrSizeMismatch) {
		t.Errorf("Err = %v, want ErrSizeMismatch", out.Err)
	}
	var re *RetryableError
	if !errors.As(out.Err, &re) {
		t.Errorf("Err = %T, want *RetryableError", out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	if _, gets := store.requests(); gets != 3 {
		t.Errorf("GET requests = %d, want 3", gets)
	}

	wantWaits := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}
	if len(rec.waits) != len(wantWaits) {
		t.Fatalf("waits = %v, want %v", rec.waits, wantWaits)
	}
	for i := range wantWaits {
		if rec.waits[i] != wantWaits[i] {
			t.Errorf("wait[%d] = %v, want %v", i, rec.waits[i], wantWaits[i])
		}
	}

	if names := dirEntries(t, dest); len(names) != 0 {
		t.Errorf("dest contains %v after failed transfer, want empty", names)
	}
}

func TestTransfer_RetriesServerErrors(t *testing.T) {
	const name = "courts-2025-07-01.csv"
	store := newObjectStore()
	store.objects[name] = []byte(docketCSV)
	store.failGets[name] = 2
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	w, rec := newTestWorker(5)
	out := w.Transfer(context.Background(), taskFor(t, srv, name, t.TempDir()))

	if out.Status != Succeeded {
		t.Fatalf("Status = %v, err = %v", out.Status, out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	if len(rec.waits) != 2 {
		t.Errorf("slept %d times, want 2", len(rec.waits))
	}
}

func TestTransfer_NotFoundIsFatal(t *testing.T) {
	srv := httptest.NewServer(newObjectStore().routes())
	defer srv.Close()

	w, rec := newTestWorker(5)
	out := w.Transfer(context.Background(), taskFor(t, srv, "missing-2025-07-01.csv", t.TempDir()))

	if out.Status != Failed {
		t.Fatalf("Status = %v, want failed", out.Status)
	}
	if !IsFatal(out.Err) {
		t.Errorf("Err = %v, want fatal", out.Err)
	}
	if StatusCode(out.Err) != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", StatusCode(out.Err))
	}
	if out.Attempts != 1 || len(rec.waits) != 0 {
		t.Errorf("attempts = %d, waits = %d; want 1 and 0", out.Attempts, len(rec.waits))
	}
}

func TestTransfer_CorruptArchiveIsNotRetried(t *testing.T) {
	const name = "dockets-2025-07-01.csv.bz2"
	store := newObjectStore()
	store.objects[name] = []byte("this is not bzip2 data")
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	dest := t.TempDir()
	w, _ := newTestWorker(5)
	out := w.Transfer(context.Background(), taskFor(t, srv, name, dest))

	if out.Status != Failed || !IsFatal(out.Err) {
		t.Fatalf("Status = %v, Err = %v; want fatal failure", out.Status, out.Err)
	}
	if _, gets := store.requests(); gets != 1 {
		t.Errorf("GET requests = %d, want 1", gets)
	}
	if _, err := os.Stat(filepath.Join(dest, "dockets-2025-07-01.csv")); !os.IsNotExist(err) {
		t.Errorf("extracted file should not exist, stat err = %v", err)
	}
	if names := dirEntries(t, dest); len(names) != 1 || names[0] != name {
		t.Errorf("dest contains %v, want only the compressed original", names)
	}
}

func TestTransfer_BackoffInterrupted(t *testing.T) {
	const name = "courts-2025-07-01.csv"
	store := newObjectStore()
	store.objects[name] = []byte(docketCSV)
	store.failGets[name] = 10
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	w, rec := newTestWorker(5)
	rec.result = context.Canceled
	out := w.Transfer(context.Background(), taskFor(t, srv, name, t.TempDir()))

	if out.Status != Failed {
		t.Fatalf("Status = %v, want failed", out.Status)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
}

func TestTransfer_CancelledContext(t *testing.T) {
	store := newObjectStore()
	store.objects["a-2025-07-01.csv"] = []byte(docketCSV)
	srv := httptest.NewServer(store.routes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w, rec := newTestWorker(5)
	out := w.Transfer(ctx, taskFor(t, srv, "a-2025-07-01.csv", t.TempDir()))

	if out.Status != Failed {
		t.Fatalf("Status = %v, want failed", out.Status)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
	if len(rec.waits) != 0 {
		t.Errorf("slept %d times after cancellation", len(rec.waits))
	}
}

func TestWorker_Backoff(t *testing.T) {
	w := NewWorker(Config{})
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range want {
		if got := w.Backoff(i + 1); got != d {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, d)
		}
	}

	for _, attempt := range []int{10, 40, 63, 64, 1000} {
		if got := w.Backoff(attempt); got != MaxBackoff {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, MaxBackoff)
		}
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepCtx() = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx() = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepCtx did not return promptly on cancellation")
	}
}

func TestProgressWriter_LogsEachDecile(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	p := newProgressWriter(logger, 100)
	for i := 0; i < 100; i += 5 {
		p.Write(make([]byte, 5))
	}

	if got := bytes.Count(buf.Bytes(), []byte("download progress")); got != 10 {
		t.Errorf("logged %d progress lines, want 10", got)
	}
}

func TestProgressWriter_UnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressWriter(newTestLogger(&buf), -1)
	p.Write(make([]byte, 1<<16))

	if buf.Len() != 0 {
		t.Errorf("unexpected output with unknown total: %s", buf.String())
	}
	if p.written != 1<<16 {
		t.Errorf("written = %d", p.written)
	}
}
