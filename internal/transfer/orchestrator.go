package transfer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/JonMunkholm/bulkdata/internal/logging"
)

// Transferer performs one task. *Worker is the production implementation.
type Transferer interface {
	Transfer(ctx context.Context, task Task) Outcome
}

// Orchestrator fans tasks out across a bounded pool. One task's failure,
// including a panic, never cancels or fails its siblings.
type Orchestrator struct {
	worker Transferer
	slots  *slots
}

// NewOrchestrator creates an orchestrator running at most workers transfers
// at a time (DefaultWorkers when workers <= 0).
func NewOrchestrator(worker Transferer, workers int) *Orchestrator {
	return &Orchestrator{
		worker: worker,
		slots:  newSlots(workers),
	}
}

// Run executes every task and returns their outcomes in completion order.
// It returns once all tasks have finished. A cancelled ctx makes tasks that
// have not yet started report Failed with the context error.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) []Outcome {
	log := logging.FromContext(ctx)
	log.Info("starting transfers", "tasks", len(tasks), "workers", o.slots.capacity())

	results := make(chan Outcome, len(tasks))
	for _, task := range tasks {
		go func(task Task) {
			results <- o.runOne(ctx, task)
		}(task)
	}

	outcomes := make([]Outcome, 0, len(tasks))
	for range tasks {
		outcomes = append(outcomes, <-results)
	}

	s := Summarize(outcomes)
	log.Info("transfers finished",
		"succeeded", s.Succeeded,
		"skipped", s.Skipped,
		"failed", s.Failed,
	)
	return outcomes
}

func (o *Orchestrator) runOne(ctx context.Context, task Task) (out Outcome) {
	if err := o.slots.acquire(ctx); err != nil {
		return Outcome{Task: task, Status: Failed, Err: err}
	}
	defer o.slots.release()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.WithFields(ctx, "file", task.Ref.Name).Error("transfer panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = Outcome{
				Task:     task,
				Status:   Failed,
				Duration: time.Since(start),
				Err:      fmt.Errorf("transfer panicked: %v", r),
			}
		}
	}()

	logging.WithFields(ctx, "file", task.Ref.Name).Debug("transfer slot acquired", "in_use", o.slots.inUse())
	return o.worker.Transfer(ctx, task)
}

// Summary counts outcomes by status.
type Summary struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// Total is the number of outcomes counted.
func (s Summary) Total() int {
	return s.Succeeded + s.Skipped + s.Failed
}

// Summarize tallies outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case Succeeded:
			s.Succeeded++
		case Skipped:
			s.Skipped++
		case Failed:
			s.Failed++
		}
	}
	return s
}

// Failures returns only the failed outcomes.
func Failures(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if o.Status == Failed {
			failed = append(failed, o)
		}
	}
	return failed
}
