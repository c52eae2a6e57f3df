// Package engine drains batch lanes against the provider with bounded
// concurrency, splitting on overflow, retrying transient failures, and
// checkpointing every terminal outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/hivemind/internal/checkpoint"
	"github.com/ShayCichocki/hivemind/internal/planner"
	"github.com/ShayCichocki/hivemind/internal/provider"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

// ErrUnauthorized aborts a run: the provider rejected credentials and no
// further invocation can succeed.
var ErrUnauthorized = errors.New("provider rejected credentials")

// Options configures an Engine.
type Options struct {
	// Invoker is the external capability the engine calls per batch.
	Invoker provider.Invoker
	// Log receives one record per terminal task.
	Log checkpoint.Log
	// Workers is the worker pool size; one worker drains one lane.
	Workers int
	// MaxConcurrent is the admission gate capacity across all lanes.
	MaxConcurrent int
	// Retry governs transient failure handling.
	Retry RetryPolicy
	// InvokeTimeout is the wall-clock timeout per invocation.
	InvokeTimeout time.Duration
	// ResponseTokens is the token budget passed to each invocation.
	ResponseTokens int
	// PromptFor renders the execution prompt for one task.
	PromptFor func(*models.Task) string
	// OnProgress, if set, is called after each completed task with
	// (completed, total). It is a side effect only and never gates
	// correctness.
	OnProgress func(completed, total int)
}

// Stats holds aggregate engine counters for one run.
type Stats struct {
	ProviderCalls int
	Retries       int
	Splits        int
	TokensUsed    int64
}

// workerStats tracks per-worker totals, logged at run end.
type workerStats struct {
	processed int
	failed    int
	calls     int
	latency   time.Duration
}

// Engine executes planned batches. One Engine instance runs one phase.
type Engine struct {
	opts Options
	gate *Gate

	mu        sync.Mutex
	tasks     map[string]*models.Task
	results   []*models.Result
	stats     Stats
	perWorker []workerStats
	completed int
	total     int
	aborted   bool
	fatalErr  error

	queues  []chan *models.Batch
	pending sync.WaitGroup
}

// New creates an Engine with the given options.
func New(opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = opts.Workers * 2
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = 2 * time.Minute
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.PromptFor == nil {
		opts.PromptFor = func(t *models.Task) string { return t.Prompt }
	}
	return &Engine{
		opts: opts,
		gate: NewGate(opts.MaxConcurrent),
	}
}

// Run drains all batches to terminal outcomes and returns the collected
// results in completion order. Cancelling ctx stops admitting new
// invocations; in-flight invocations drain to a recorded outcome, and
// batches never admitted are recorded as cancelled, so no task is left
// in-flight. Run returns ErrUnauthorized if the provider rejected
// credentials; individual task failures are results, not errors.
func (e *Engine) Run(ctx context.Context, tasks []*models.Task, batches []*models.Batch) ([]*models.Result, error) {
	e.tasks = make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		e.tasks[t.ID] = t
	}
	e.results = nil
	e.completed = 0
	e.total = len(tasks)
	e.perWorker = make([]workerStats, e.opts.Workers)

	// Capacity covers the worst case: bisecting a batch of n members
	// creates at most 2n-1 descendants.
	capacity := 2*len(tasks) + len(batches) + 16
	e.queues = make([]chan *models.Batch, e.opts.Workers)
	for i := range e.queues {
		e.queues[i] = make(chan *models.Batch, capacity)
	}

	for _, b := range batches {
		e.pending.Add(1)
		e.queues[b.Lane%len(e.queues)] <- b
	}

	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()

	var wg sync.WaitGroup
	for w := 0; w < e.opts.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.drain(ctx, worker, done)
		}(w)
	}
	wg.Wait()

	e.logWorkerStats()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatalErr != nil {
		return e.results, e.fatalErr
	}
	return e.results, nil
}

// Stats returns aggregate counters for the last run.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// drain consumes one lane's queue until all batches are terminal.
func (e *Engine) drain(ctx context.Context, worker int, done <-chan struct{}) {
	q := e.queues[worker]
	for {
		select {
		case batch := <-q:
			e.process(ctx, worker, batch)
			e.pending.Done()
		case <-done:
			// Flush anything racing onto the queue before shutdown.
			select {
			case batch := <-q:
				e.process(ctx, worker, batch)
				e.pending.Done()
			default:
				return
			}
		}
	}
}

// process drives one batch to a terminal outcome for every member.
func (e *Engine) process(ctx context.Context, worker int, batch *models.Batch) {
	members := e.members(batch)
	if len(members) == 0 {
		return
	}

	if e.stopped(ctx) {
		e.recordAll(worker, members, "", models.ErrorKindCancelled, 0, 0)
		return
	}

	if err := e.gate.Acquire(ctx); err != nil {
		// Admission refused by cancellation; the batch was never in flight.
		e.recordAll(worker, members, "", models.ErrorKindCancelled, 0, 0)
		return
	}

	e.setStatus(members, models.TaskStatusInFlight)
	prompt := e.batchPrompt(members)
	budget := e.opts.ResponseTokens
	if budget <= 0 {
		budget = batch.EstimatedTokens
	}

	start := time.Now()
	output, usage, err := e.invokeWithRetry(ctx, worker, prompt, budget)
	e.gate.Release()
	latency := time.Since(start)

	if err == nil {
		e.recordSuccess(worker, members, output, usage, latency)
		return
	}

	switch kind := provider.KindOf(err); kind {
	case models.ErrorKindContextOverflow:
		e.split(worker, batch, members, latency)
	case models.ErrorKindUnauthorized:
		e.recordAll(worker, members, "", models.ErrorKindUnauthorized, usage.Total(), latency)
		e.abort(fmt.Errorf("%w: %v", ErrUnauthorized, err))
	case models.ErrorKindCancelled:
		e.recordAll(worker, members, "", models.ErrorKindCancelled, usage.Total(), latency)
	default:
		// Transient kinds arrive here with retries exhausted.
		e.recordAll(worker, members, "", models.ErrorKindProviderUnavailable, usage.Total(), latency)
	}
}

// invokeWithRetry calls the provider, retrying transient failures with
// backoff. The invocation context is detached from the run context so a
// cancelled run lets in-flight calls drain; only the per-call timeout
// bounds them.
func (e *Engine) invokeWithRetry(ctx context.Context, worker int, prompt string, budget int) (string, provider.Usage, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		ictx, cancel := context.WithTimeout(context.Background(), e.opts.InvokeTimeout)
		output, usage, err := e.opts.Invoker.Invoke(ictx, prompt, budget)
		cancel()

		e.mu.Lock()
		e.stats.ProviderCalls++
		e.perWorker[worker].calls++
		e.mu.Unlock()

		if err == nil {
			return output, usage, nil
		}
		lastErr = err

		kind := provider.KindOf(err)
		if !provider.Transient(kind) {
			return "", usage, err
		}
		if attempt >= e.opts.Retry.MaxAttempts {
			log.Printf("[engine] worker %d: retries exhausted after %d attempts: %v", worker, attempt, err)
			return "", usage, lastErr
		}

		delay := e.opts.Retry.Delay(attempt)
		log.Printf("[engine] worker %d: transient %s, retrying in %v (attempt %d/%d)",
			worker, kind, delay, attempt, e.opts.Retry.MaxAttempts)

		e.mu.Lock()
		e.stats.Retries++
		e.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Run cancelled mid-backoff: the last invocation already
			// completed, so record its failure rather than retrying.
			return "", usage, lastErr
		}
	}
}

// split bisects an overflowing batch and resubmits both halves on the
// same lane. Members are reissued under new generation IDs; the originals
// end terminal with a split record. A singleton that still overflows is a
// terminal content-too-large failure, never retried.
func (e *Engine) split(worker int, batch *models.Batch, members []*models.Task, latency time.Duration) {
	if len(members) == 1 {
		e.recordAll(worker, members, "", models.ErrorKindContentTooLarge, 0, latency)
		return
	}

	log.Printf("[engine] worker %d: batch %s overflowed, bisecting %d members", worker, batch.ID, len(members))

	reissued := make(map[string]string, len(members))
	e.mu.Lock()
	e.stats.Splits++
	for _, t := range members {
		clone := *t
		clone.ID = models.NextGeneration(t.ID)
		clone.Status = models.TaskStatusAssigned
		e.tasks[clone.ID] = &clone
		reissued[t.ID] = clone.ID
	}
	e.mu.Unlock()

	for _, t := range members {
		e.record(worker, t, &checkpoint.Record{
			TaskID:  t.ID,
			Status:  models.TaskStatusSplit,
			Latency: latency,
		})
	}

	left, right := planner.Bisect(batch, func(id string) int {
		e.mu.Lock()
		defer e.mu.Unlock()
		if t, ok := e.tasks[id]; ok {
			return t.EstimatedTokens
		}
		return 0
	})
	for _, half := range []*models.Batch{left, right} {
		for i, id := range half.TaskIDs {
			half.TaskIDs[i] = reissued[id]
		}
		e.pending.Add(1)
		e.queues[half.Lane%len(e.queues)] <- half
	}
}

// members resolves a batch's task IDs against the task table.
func (e *Engine) members(batch *models.Batch) []*models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.Task, 0, len(batch.TaskIDs))
	for _, id := range batch.TaskIDs {
		if t, ok := e.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// batchPrompt concatenates the member prompts into one provider call.
func (e *Engine) batchPrompt(members []*models.Task) string {
	if len(members) == 1 {
		return e.opts.PromptFor(members[0])
	}
	var b []byte
	for i, t := range members {
		if i > 0 {
			b = append(b, "\n\n---\n\n"...)
		}
		b = append(b, e.opts.PromptFor(t)...)
	}
	return string(b)
}

func (e *Engine) setStatus(members []*models.Task, status models.TaskStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range members {
		t.Status = status
	}
}

// recordSuccess marks every member succeeded, attributing the batch
// output to each and dividing reported usage evenly.
func (e *Engine) recordSuccess(worker int, members []*models.Task, output string, usage provider.Usage, latency time.Duration) {
	per := usage.Total() / int64(len(members))
	for i, t := range members {
		tokens := per
		if i == 0 {
			tokens += usage.Total() % int64(len(members))
		}
		e.record(worker, t, &checkpoint.Record{
			TaskID:     t.ID,
			Status:     models.TaskStatusSucceeded,
			Output:     output,
			TokensUsed: tokens,
			Latency:    latency,
		})
	}
}

// recordAll marks every member failed with the given kind.
func (e *Engine) recordAll(worker int, members []*models.Task, output string, kind models.ErrorKind, tokens int64, latency time.Duration) {
	for _, t := range members {
		e.record(worker, t, &checkpoint.Record{
			TaskID:     t.ID,
			Status:     models.TaskStatusFailed,
			Output:     output,
			ErrorKind:  kind,
			TokensUsed: tokens,
			Latency:    latency,
		})
	}
}

// record appends one terminal outcome to the checkpoint log and the
// in-memory result set. The append happens before the worker moves on, so
// an interrupted run can resume from the log.
func (e *Engine) record(worker int, task *models.Task, rec *checkpoint.Record) {
	rec.Timestamp = time.Now().UTC()
	if e.opts.Log != nil {
		if err := e.opts.Log.Append(rec); err != nil {
			log.Printf("[engine] checkpoint append failed for task %s: %v", rec.TaskID, err)
		}
	}

	e.mu.Lock()
	task.Status = rec.Status
	e.stats.TokensUsed += rec.TokensUsed
	if rec.Status != models.TaskStatusSplit {
		e.results = append(e.results, rec.Result())
		e.completed++
		if rec.Status == models.TaskStatusSucceeded {
			e.perWorker[worker].processed++
		} else {
			e.perWorker[worker].failed++
		}
	}
	e.perWorker[worker].latency += rec.Latency
	completed, total := e.completed, e.total
	progress := e.opts.OnProgress
	e.mu.Unlock()

	if progress != nil {
		progress(completed, total)
	}
}

// abort stops admission after a fatal provider error. Queued batches are
// recorded as cancelled when their worker reaches them.
func (e *Engine) abort(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.aborted {
		e.aborted = true
		e.fatalErr = err
		log.Printf("[engine] aborting run: %v", err)
	}
}

func (e *Engine) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// logWorkerStats logs per-worker totals at run end.
func (e *Engine) logWorkerStats() {
	e.mu.Lock()
	defer e.mu.Unlock()

	processed, failed := 0, 0
	for _, ws := range e.perWorker {
		processed += ws.processed
		failed += ws.failed
	}
	log.Printf("[engine] run complete: %d succeeded, %d failed, %d provider calls, %d retries, %d splits",
		processed, failed, e.stats.ProviderCalls, e.stats.Retries, e.stats.Splits)
	for i, ws := range e.perWorker {
		if ws.calls == 0 {
			continue
		}
		log.Printf("[engine] worker %d: processed=%d failed=%d calls=%d total_latency=%v",
			i, ws.processed, ws.failed, ws.calls, ws.latency)
	}
}
