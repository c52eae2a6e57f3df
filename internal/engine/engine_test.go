package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/hivemind/internal/checkpoint"
	"github.com/ShayCichocki/hivemind/internal/planner"
	"github.com/ShayCichocki/hivemind/internal/provider"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

// memLog is an in-memory checkpoint log for engine tests.
type memLog struct {
	mu   sync.Mutex
	recs []*checkpoint.Record
}

func (l *memLog) Append(rec *checkpoint.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *rec
	l.recs = append(l.recs, &c)
	return nil
}

func (l *memLog) Replay() (map[string]*checkpoint.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := make(map[string]*checkpoint.Record)
	for _, rec := range l.recs {
		if _, seen := state[rec.TaskID]; !seen {
			state[rec.TaskID] = rec
		}
	}
	return state, nil
}

func (l *memLog) Close() error { return nil }

// fakeInvoker routes invocations through a per-prompt function.
type fakeInvoker struct {
	mu    sync.Mutex
	calls int
	fn    func(prompt string) (string, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt string, tokenBudget int) (string, provider.Usage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", provider.Usage{}, &provider.Error{Kind: models.ErrorKindCancelled, Err: err}
	}
	out, err := f.fn(prompt)
	if err != nil {
		return "", provider.Usage{}, err
	}
	return out, provider.Usage{InputTokens: 10, OutputTokens: 20}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func makeTasks(ids ...string) []*models.Task {
	out := make([]*models.Task, len(ids))
	for i, id := range ids {
		out[i] = &models.Task{
			ID:              id,
			FocusPath:       []string{"f"},
			Prompt:          "analyze " + id,
			EstimatedTokens: 100,
			Status:          models.TaskStatusAssigned,
		}
	}
	return out
}

func planBatches(tasks []*models.Task, maxItems int) []*models.Batch {
	p := planner.Plan{TokenBudgetPerBatch: 1 << 20, MaxItemsPerBatch: maxItems, LaneCount: 2}
	return p.Batches(tasks)
}

func TestRunAllSucceed(t *testing.T) {
	tasks := makeTasks("t1", "t2", "t3", "t4", "t5")
	batches := planBatches(tasks, 2)
	logStore := &memLog{}

	eng := New(Options{
		Invoker: &fakeInvoker{fn: func(string) (string, error) { return "findings", nil }},
		Log:     logStore,
		Workers: 2,
		Retry:   fastRetry(3),
	})

	results, err := eng.Run(context.Background(), tasks, batches)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Succeeded() {
			t.Errorf("task %s failed: %s", r.TaskID, r.ErrorKind)
		}
	}

	state, _ := logStore.Replay()
	if len(state) != 5 {
		t.Errorf("expected 5 checkpoint records, got %d", len(state))
	}
	for _, task := range tasks {
		if task.Status != models.TaskStatusSucceeded {
			t.Errorf("task %s status %q, want succeeded", task.ID, task.Status)
		}
	}
}

func TestRunTransientFailureIsolated(t *testing.T) {
	// Tasks under "b" always hit the rate limiter; tasks under "a" succeed.
	// One batch's failure never blocks sibling batches.
	tasks := makeTasks("a_1", "a_2", "a_3", "b_1", "b_2")
	for _, task := range tasks {
		if strings.HasPrefix(task.ID, "b") {
			task.FocusPath = []string{"b"}
		} else {
			task.FocusPath = []string{"a"}
		}
	}
	batches := planBatches(tasks, 1)

	inv := &fakeInvoker{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "analyze b_") {
			return "", &provider.Error{Kind: models.ErrorKindRateLimited, Err: errors.New("429")}
		}
		return "ok", nil
	}}

	eng := New(Options{
		Invoker: inv,
		Log:     &memLog{},
		Workers: 2,
		Retry:   fastRetry(3),
	})

	results, err := eng.Run(context.Background(), tasks, batches)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		} else {
			failed++
			if r.ErrorKind != models.ErrorKindProviderUnavailable {
				t.Errorf("task %s: error kind %q, want provider_unavailable", r.TaskID, r.ErrorKind)
			}
		}
	}
	if succeeded != 3 || failed != 2 {
		t.Errorf("expected 3 succeeded / 2 failed, got %d / %d", succeeded, failed)
	}

	// Each failed batch was retried to the ceiling: 3 successes + 2*3 failures.
	if got := inv.callCount(); got != 9 {
		t.Errorf("expected 9 provider calls, got %d", got)
	}
	if eng.Stats().Retries != 4 {
		t.Errorf("expected 4 retries, got %d", eng.Stats().Retries)
	}
}

func TestRunOverflowBisection(t *testing.T) {
	tasks := makeTasks("t1", "t2", "t3", "t4")
	batches := planBatches(tasks, 4)
	logStore := &memLog{}

	// Multi-member prompts overflow; singletons succeed.
	inv := &fakeInvoker{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "---") {
			return "", &provider.Error{Kind: models.ErrorKindContextOverflow, Err: errors.New("prompt too long")}
		}
		return "ok", nil
	}}

	eng := New(Options{
		Invoker: inv,
		Log:     logStore,
		Workers: 1,
		Retry:   fastRetry(2),
	})

	results, err := eng.Run(context.Background(), tasks, batches)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Every original member ends in exactly one terminal lineage outcome.
	byRoot := make(map[string]int)
	for _, r := range results {
		if !r.Succeeded() {
			t.Errorf("lineage of %s failed: %s", r.TaskID, r.ErrorKind)
		}
		byRoot[models.LineageRoot(r.TaskID)]++
	}
	for _, task := range tasks {
		if byRoot[task.ID] != 1 {
			t.Errorf("task %s: %d terminal outcomes, want 1", task.ID, byRoot[task.ID])
		}
	}

	if eng.Stats().Splits == 0 {
		t.Error("expected at least one split")
	}

	// Split members carry split records in the log.
	state, _ := logStore.Replay()
	if state["t1"] == nil || state["t1"].Status != models.TaskStatusSplit {
		t.Errorf("expected split record for t1, got %+v", state["t1"])
	}
}

func TestRunSingletonOverflowIsContentTooLarge(t *testing.T) {
	tasks := makeTasks("huge")
	batches := planBatches(tasks, 1)

	inv := &fakeInvoker{fn: func(string) (string, error) {
		return "", &provider.Error{Kind: models.ErrorKindContextOverflow, Err: errors.New("prompt too long")}
	}}

	eng := New(Options{Invoker: inv, Log: &memLog{}, Workers: 1, Retry: fastRetry(3)})

	results, err := eng.Run(context.Background(), tasks, batches)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ErrorKind != models.ErrorKindContentTooLarge {
		t.Errorf("error kind %q, want content_too_large", results[0].ErrorKind)
	}
	// Overflow on a singleton is terminal, never retried.
	if inv.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", inv.callCount())
	}
}

func TestRunUnauthorizedAborts(t *testing.T) {
	tasks := makeTasks("t1", "t2", "t3", "t4")
	batches := planBatches(tasks, 1)

	inv := &fakeInvoker{fn: func(string) (string, error) {
		return "", &provider.Error{Kind: models.ErrorKindUnauthorized, Err: errors.New("401")}
	}}

	eng := New(Options{Invoker: inv, Log: &memLog{}, Workers: 1, Retry: fastRetry(3)})

	results, err := eng.Run(context.Background(), tasks, batches)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Every task still reaches a terminal recorded outcome.
	if len(results) != len(tasks) {
		t.Errorf("expected %d results, got %d", len(tasks), len(results))
	}
	for _, task := range tasks {
		if !task.Status.Terminal() {
			t.Errorf("task %s left non-terminal after abort: %q", task.ID, task.Status)
		}
	}
}

func TestRunCancellationDrains(t *testing.T) {
	tasks := makeTasks("t1", "t2", "t3", "t4", "t5", "t6")
	batches := planBatches(tasks, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inv := &fakeInvoker{fn: func(string) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return "ok", nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	eng := New(Options{
		Invoker:       inv,
		Log:           &memLog{},
		Workers:       1,
		MaxConcurrent: 1,
		Retry:         fastRetry(1),
	})

	done := make(chan struct{})
	var results []*models.Result
	var runErr error
	go func() {
		results, runErr = eng.Run(ctx, tasks, batches)
		close(done)
	}()

	<-started
	cancel()
	close(release)
	<-done

	if runErr != nil {
		t.Fatalf("Run failed: %v", runErr)
	}

	// The in-flight batch drains to success; the rest are cancelled.
	// Nothing is left in flight.
	if len(results) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(results))
	}
	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		} else if r.ErrorKind != models.ErrorKindCancelled {
			t.Errorf("task %s: error kind %q, want cancelled", r.TaskID, r.ErrorKind)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly 1 in-flight success, got %d", succeeded)
	}
	for _, task := range tasks {
		if task.Status == models.TaskStatusInFlight {
			t.Errorf("task %s left in flight after cancelled run", task.ID)
		}
	}
}

func TestRunProgressCallback(t *testing.T) {
	tasks := makeTasks("t1", "t2", "t3")
	batches := planBatches(tasks, 1)

	var mu sync.Mutex
	var last int
	eng := New(Options{
		Invoker: &fakeInvoker{fn: func(string) (string, error) { return "ok", nil }},
		Workers: 1,
		Retry:   fastRetry(1),
		OnProgress: func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			if total != 3 {
				t.Errorf("progress total %d, want 3", total)
			}
			last = completed
		},
	})

	if _, err := eng.Run(context.Background(), tasks, batches); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if last != 3 {
		t.Errorf("final progress %d, want 3", last)
	}
}
