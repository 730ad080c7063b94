// Package transfer downloads resolved catalog files: one retrying,
// size-checked, atomically committed download per task, fanned out across a
// bounded pool by the Orchestrator.
//
// A task's file appears at its final path only through os.Rename from a
// staging file in the same directory, so readers never observe a partial
// download. Compressed artifacts are expanded the same way and the original
// is removed, leaving exactly one file per dataset.
package transfer

import (
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/bulkdata/internal/catalog"
	"github.com/JonMunkholm/bulkdata/internal/logging"
)

// Defaults match the fetch section of the configuration.
const (
	DefaultMaxAttempts   = 5
	DefaultBackoffBase   = time.Second
	DefaultProbeTimeout  = 30 * time.Second
	DefaultStreamTimeout = 60 * time.Second

	// MaxBackoff bounds a single wait between attempts.
	MaxBackoff = 10 * time.Minute
)

// Status is the terminal state of one task.
type Status int

const (
	Skipped Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Task is one file to materialize in DestDir.
type Task struct {
	Ref     catalog.FileReference
	DestDir string

	// MaxAttempts overrides the worker default when > 0.
	MaxAttempts int
}

// Outcome reports what happened to a task.
type Outcome struct {
	Task     Task
	Status   Status
	Path     string // final local path; set for Skipped and Succeeded
	Bytes    int64  // bytes downloaded (compressed size for bz2)
	Attempts int
	Duration time.Duration
	Err      error // last error; set for Failed
}

// Config controls retry and timeout behavior of a Worker.
type Config struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	ProbeTimeout  time.Duration
	StreamTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	return c
}

// Worker performs individual transfers. It is safe for concurrent use.
type Worker struct {
	cfg    Config
	probe  *http.Client
	stream *http.Client

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a worker. Zero fields in cfg take package defaults.
func NewWorker(cfg Config) *Worker {
	cfg = cfg.withDefaults()

	// The body stream may legitimately take far longer than any fixed
	// deadline, so only the wait for response headers is bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.StreamTimeout

	return &Worker{
		cfg:    cfg,
		probe: &http.Client{
			Timeout:   cfg.ProbeTimeout,
			Transport: &loggingTransport{next: http.DefaultTransport},
		},
		stream: &http.Client{Transport: &loggingTransport{next: transport}},
		sleep:  sleepCtx,
	}
}

// Backoff returns the wait after the given 1-based failed attempt, doubling
// from BackoffBase up to MaxBackoff.
func (w *Worker) Backoff(attempt int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 0; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	return min(d, MaxBackoff)
}

// Transfer materializes one file. It never returns an error directly: every
// result, including failure, is an Outcome.
func (w *Worker) Transfer(ctx context.Context, task Task) (out Outcome) {
	start := time.Now()
	ref := task.Ref
	log := logging.WithFields(ctx, "file", ref.Name)

	out = Outcome{Task: task}
	defer func() { out.Duration = time.Since(start) }()

	if path, ok := existingOutput(task); ok {
		log.Info("skipping, output already present", "path", path)
		out.Status = Skipped
		out.Path = path
		return out
	}

	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.cfg.MaxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		alog := log.With("attempt", attempt, "max_attempts", maxAttempts)

		path, n, err := w.attempt(ctx, alog, task)
		if err == nil {
			alog.Info("transfer complete", "path", path, "bytes", n)
			out.Status = Succeeded
			out.Path = path
			out.Bytes = n
			out.Err = nil
			return out
		}
		out.Err = err

		if IsFatal(err) {
			alog.Error("transfer failed, not retrying", "error", err)
			break
		}
		if ctx.Err() != nil {
			alog.Warn("transfer cancelled", "error", err)
			break
		}

		if attempt < maxAttempts {
			wait := w.Backoff(attempt)
			alog.Warn("transfer attempt failed, retrying", "error", err, "backoff", wait)
			if serr := w.sleep(ctx, wait); serr != nil {
				out.Err = fmt.Errorf("%w (backoff interrupted: %v)", err, serr)
				break
			}
		} else {
			alog.Error("transfer failed, attempts exhausted", "error", err)
		}
	}

	out.Status = Failed
	return out
}

// existingOutput reports the first final-form path already on disk.
func existingOutput(task Task) (string, bool) {
	for _, name := range task.Ref.FinalNames() {
		p := filepath.Join(task.DestDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// attempt runs probe, stream, verify, commit and extract once.
func (w *Worker) attempt(ctx context.Context, log *slog.Logger, task Task) (string, int64, error) {
	ref := task.Ref

	expected, err := w.contentLength(ctx, ref.Source)
	if err != nil {
		return "", 0, err
	}
	if expected <= 0 {
		log.Warn("remote did not advertise a size, skipping size check")
	}

	tmp, n, err := w.download(ctx, log, task, expected)
	if err != nil {
		return "", 0, err
	}

	if expected > 0 && n != expected {
		os.Remove(tmp)
		return "", 0, retryable("verify", fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, n, expected))
	}

	final := filepath.Join(task.DestDir, ref.Name)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", 0, retryable("commit", err)
	}

	if ref.Compression != catalog.Bz2Compressed {
		return final, n, nil
	}

	extracted := filepath.Join(task.DestDir, ref.ExtractedName())
	log.Info("extracting", "to", extracted)
	if err := extractBz2(final, extracted); err != nil {
		return "", n, fatal("extract", err)
	}
	if err := os.Remove(final); err != nil {
		return "", n, fatal("remove compressed original", err)
	}

	return extracted, n, nil
}

// contentLength issues the HEAD probe. A missing length is reported as -1.
func (w *Worker) contentLength(ctx context.Context, src string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, src, nil)
	if err != nil {
		return 0, fatal("probe", err)
	}

	resp, err := w.probe.Do(req)
	if err != nil {
		return 0, retryable("probe", err)
	}
	resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return 0, wrapStatus("probe", resp.StatusCode, err)
	}

	return resp.ContentLength, nil
}

// download streams the body to a fresh staging file in DestDir and returns
// its path. The staging file is removed on any error.
func (w *Worker) download(ctx context.Context, log *slog.Logger, task Task, expected int64) (path string, n int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.Ref.Source, nil)
	if err != nil {
		return "", 0, fatal("download", err)
	}

	resp, err := w.stream.Do(req)
	if err != nil {
		return "", 0, retryable("download", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", 0, wrapStatus("download", resp.StatusCode, err)
	}

	f, err := os.CreateTemp(task.DestDir, "."+task.Ref.Name+".*.part")
	if err != nil {
		return "", 0, retryable("create staging file", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	progress := newProgressWriter(log, expected)
	n, err = io.Copy(io.MultiWriter(f, progress), resp.Body)
	if err != nil {
		return "", n, retryable("download", err)
	}
	if err = f.Sync(); err != nil {
		return "", n, retryable("download", err)
	}
	if err = f.Close(); err != nil {
		return "", n, retryable("download", err)
	}

	return f.Name(), n, nil
}

// statusError is a non-2xx response.
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return "unexpected status " + e.Status
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &statusError{Code: resp.StatusCode, Status: resp.Status}
}

// wrapStatus treats client errors as permanent, except timeouts and rate
// limiting which are worth another attempt.
func wrapStatus(op string, code int, err error) error {
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return fatal(op, err)
	}
	return retryable(op, err)
}

// extractBz2 expands src into dst through a staging file next to dst.
func extractBz2(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(out.Name())
		}
	}()

	if _, err = io.Copy(out, bzip2.NewReader(in)); err != nil {
		return fmt.Errorf("decompress %s: %w", filepath.Base(src), err)
	}
	if err = out.Close(); err != nil {
		return err
	}

	return os.Rename(out.Name(), dst)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusCode extracts the HTTP status from a transfer error, or 0.
func StatusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
