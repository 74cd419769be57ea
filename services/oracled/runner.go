package oracled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"alkahest/journal"
	"alkahest/oracle"
)

// HeadReader reports the current chain head.
type HeadReader interface {
	Head(ctx context.Context) (uint64, error)
}

// Arbitrator is the engine entry point the runner drives.
type Arbitrator interface {
	ArbitrateMany(ctx context.Context, decider oracle.Decider, callback oracle.Callback, opts oracle.Options) (oracle.Result, error)
}

// RunStatus summarises the most recent arbitration run.
type RunStatus struct {
	RunID      string    `json:"run_id"`
	FromBlock  uint64    `json:"from_block"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Decisions  int       `json:"decisions"`
	Skipped    int       `json:"skipped"`
	Failures   int       `json:"submission_failures"`
	Error      string    `json:"error,omitempty"`
}

// Runner loops arbitration runs, journals every decision and advances the
// persisted checkpoint after each successful run.
type Runner struct {
	engine  Arbitrator
	decider oracle.Decider
	store   *journal.Store
	head    HeadReader
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu      sync.RWMutex
	last    RunStatus
	healthy bool
}

// RunnerOption customises the runner.
type RunnerOption func(*Runner)

// WithRunnerLogger overrides the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRunnerClock sets the function used to timestamp journal entries.
func WithRunnerClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = clock }
}

// NewRunner wires a runner.
func NewRunner(engine Arbitrator, decider oracle.Decider, store *journal.Store, head HeadReader, cfg Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:  engine,
		decider: decider,
		store:   store,
		head:    head,
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: NewMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run loops until ctx is cancelled. Fatal run errors are retried after the
// configured backoff.
func (r *Runner) Run(ctx context.Context) error {
	for {
		err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := r.cfg.RestartBackoff.Duration
		if err != nil {
			r.metrics.RecordRestart()
			r.logger.Error("arbitration run failed; restarting", "error", err, "backoff", wait)
		} else if r.cfg.Mode.Listens() {
			wait = 0
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

// RunOnce performs one arbitration run from the checkpoint.
func (r *Runner) RunOnce(ctx context.Context) error {
	from, err := r.startBlock()
	if err != nil {
		return err
	}
	head, err := r.head.Head(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}

	runID := uuid.NewString()
	status := RunStatus{RunID: runID, FromBlock: from, StartedAt: r.now()}
	callback := oracle.CallbackFunc(func(_ context.Context, d oracle.Decision) {
		if err := r.record(runID, d); err != nil {
			r.logger.Error("journal live decision", "uid", d.FulfillmentUID.Hex(), "error", err)
		}
	})
	opts := r.cfg.Options(from)
	opts.RunID = runID
	result, runErr := r.engine.ArbitrateMany(ctx, r.decider, callback, opts)

	for _, d := range result.Decisions {
		if d.Phase != oracle.PhasePast {
			continue
		}
		if err := r.record(runID, d); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("journal decision %s: %w", d.FulfillmentUID.Hex(), err))
		}
	}
	checkpoint, advance := resumeCheckpoint(head, result)

	status.FinishedAt = r.now()
	status.Decisions = len(result.Decisions)
	status.Skipped = len(result.Skipped)
	status.Failures = result.SubmissionFailures
	if runErr != nil {
		status.Error = runErr.Error()
	}
	r.setStatus(status, runErr == nil)
	r.metrics.MarkRun(status.FinishedAt)

	if runErr != nil {
		return runErr
	}
	if !advance {
		return nil
	}
	if err := r.store.SetCheckpoint(checkpoint); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	if stored, ok, err := r.store.Checkpoint(); err == nil && ok {
		r.metrics.SetCheckpoint(stored)
	}
	return nil
}

// resumeCheckpoint returns the last block the next run may skip. It covers
// everything seen this run, but stops below the earliest request whose
// submission failed or whose decider errored so that request is scanned again.
// It reports false when nothing may be skipped.
func resumeCheckpoint(head uint64, result oracle.Result) (uint64, bool) {
	highest := head
	retry, pending := uint64(0), false
	lowest := func(block uint64) {
		if !pending || block < retry {
			retry, pending = block, true
		}
	}
	for _, d := range result.Decisions {
		if d.BlockNumber > highest {
			highest = d.BlockNumber
		}
		if d.Err != nil {
			lowest(d.BlockNumber)
		}
	}
	for _, s := range result.Skipped {
		if s.Event.BlockNumber > highest {
			highest = s.Event.BlockNumber
		}
		if s.Reason == oracle.SkipDeciderError {
			lowest(s.Event.BlockNumber)
		}
	}
	if !pending {
		return highest, true
	}
	if retry == 0 {
		return 0, false
	}
	return retry - 1, true
}

func (r *Runner) startBlock() (uint64, error) {
	checkpoint, ok, err := r.store.Checkpoint()
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		return r.cfg.FromBlock, nil
	}
	if checkpoint+1 < r.cfg.FromBlock {
		return r.cfg.FromBlock, nil
	}
	return checkpoint + 1, nil
}

// record journals one decision. Listen-phase decisions arrive through the
// callback as they are made; past-phase ones are taken from the Result.
func (r *Runner) record(runID string, d oracle.Decision) error {
	entry := journal.Entry{
		FulfillmentUID: d.FulfillmentUID,
		Oracle:         d.Oracle,
		Decision:       d.Decision,
		TxHash:         d.TxHash,
		Submitted:      d.Submitted,
		BlockNumber:    d.BlockNumber,
		Phase:          string(d.Phase),
		RunID:          runID,
		RecordedAt:     r.now().UTC(),
	}
	if d.Err != nil {
		entry.Error = d.Err.Error()
	}
	return r.store.Record(entry)
}

func (r *Runner) setStatus(status RunStatus, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = status
	r.healthy = healthy
}

// Status returns the last run summary and whether it succeeded.
func (r *Runner) Status() (RunStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.healthy
}
