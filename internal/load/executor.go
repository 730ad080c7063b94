package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/bulkdata/internal/logging"
)

// Phase is a step in applying one file.
//
//	Opened -> Begun -> Applied -> Committed
//	                \-> Failed -> RolledBack
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseOpened     Phase = "opened"
	PhaseBegun      Phase = "begun"
	PhaseApplied    Phase = "applied"
	PhaseCommitted  Phase = "committed"
	PhaseFailed     Phase = "failed"
	PhaseRolledBack Phase = "rolled_back"
)

// Outcome reports how far one file got.
type Outcome struct {
	File     File
	Phase    Phase   // last phase reached
	Trace    []Phase // every phase reached, in order
	Rows     int64   // rows copied; zero for scripts
	Duration time.Duration
	Err      error
}

// Committed reports whether the file's effects are durable.
func (o Outcome) Committed() bool {
	return o.Phase == PhaseCommitted
}

func (o *Outcome) enter(p Phase) {
	o.Phase = p
	o.Trace = append(o.Trace, p)
}

// ApplyError is returned when a file fails to load.
type ApplyError struct {
	File  File
	Phase Phase // phase in which the failure happened
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("load %s (%s): %v", e.File.Name(), e.Phase, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Executor applies files to a Store sequentially.
type Executor struct {
	store Store
}

// NewExecutor creates an executor over store.
func NewExecutor(store Store) *Executor {
	return &Executor{store: store}
}

// Apply loads files in order and stops at the first failure. The returned
// outcomes cover every file attempted, including the failed one.
func (e *Executor) Apply(ctx context.Context, files []File) ([]Outcome, error) {
	log := logging.FromContext(ctx)
	outcomes := make([]Outcome, 0, len(files))

	for i, f := range files {
		out := e.ApplyFile(ctx, f)
		outcomes = append(outcomes, out)
		if out.Err != nil {
			log.Error("load halted",
				"file", f.Name(),
				"phase", out.Phase,
				"remaining", len(files)-i-1,
				"error", out.Err,
			)
			return outcomes, out.Err
		}
	}

	log.Info("load complete", "files", len(outcomes))
	return outcomes, nil
}

// ApplyFile loads a single file inside its own transaction.
func (e *Executor) ApplyFile(ctx context.Context, f File) (out Outcome) {
	start := time.Now()
	log := logging.WithFields(ctx, "file", f.Name(), "kind", f.Kind.String())
	if f.Kind == Tabular {
		log = log.With("table", f.Table)
	}

	out = Outcome{File: f, Phase: PhasePending}
	defer func() { out.Duration = time.Since(start) }()

	fail := func(phase Phase, err error) Outcome {
		out.Err = &ApplyError{File: f, Phase: phase, Err: err}
		out.enter(PhaseFailed)
		return out
	}

	body, err := openText(f.Path)
	if err != nil {
		log.Error("open failed", "error", err)
		return fail(PhasePending, err)
	}
	defer body.Close()

	var script string
	if f.Kind == Script {
		b, err := io.ReadAll(body)
		if err != nil {
			return fail(PhasePending, fmt.Errorf("read script: %w", err))
		}
		script = string(b)
	}
	out.enter(PhaseOpened)

	tx, err := e.store.Begin(ctx)
	if err != nil {
		log.Error("begin failed", "error", err)
		return fail(PhaseOpened, fmt.Errorf("begin transaction: %w", err))
	}
	out.enter(PhaseBegun)

	switch f.Kind {
	case Script:
		err = tx.Exec(ctx, script)
	case Tabular:
		out.Rows, err = tx.CopyCSV(ctx, f.Table, body)
	default:
		err = fmt.Errorf("unknown file kind %s", f.Kind)
	}
	if err == nil {
		out.enter(PhaseApplied)
		if err = tx.Commit(ctx); err == nil {
			out.enter(PhaseCommitted)
			log.Info("file committed", "rows", out.Rows, "duration", time.Since(start))
			return out
		}
		err = fmt.Errorf("commit: %w", err)
	}

	failedIn := out.Phase
	fail(failedIn, err)

	// The original error is what the caller needs; a rollback error only
	// adds context.
	if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
		log.Error("rollback failed", "error", rbErr)
		out.Err = &ApplyError{File: f, Phase: failedIn, Err: errors.Join(err, fmt.Errorf("rollback: %w", rbErr))}
	} else {
		out.enter(PhaseRolledBack)
	}

	log.Error("file load failed", "phase", failedIn, "final_phase", out.Phase, "error", err)
	return out
}
