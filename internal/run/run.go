// Package run wires a full hivemind run: task tree, agent pool, planner,
// two engine phases, synthesis, and report output.
package run

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/hivemind/internal/agentpool"
	"github.com/ShayCichocki/hivemind/internal/checkpoint"
	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/internal/engine"
	"github.com/ShayCichocki/hivemind/internal/planner"
	"github.com/ShayCichocki/hivemind/internal/provider"
	"github.com/ShayCichocki/hivemind/internal/report"
	"github.com/ShayCichocki/hivemind/internal/synth"
	"github.com/ShayCichocki/hivemind/internal/tasktree"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

// aggregateClip caps how much of each phase-one finding feeds the
// phase-two aggregate.
const aggregateClip = 1500

// progressEvery controls intermediate progress log frequency.
const progressEvery = 5

// Runner executes one complete run against a provider.
type Runner struct {
	cfg     *config.Config
	invoker provider.Invoker
}

// NewRunner creates a Runner. The invoker is injected so tests can run
// without a provider.
func NewRunner(cfg *config.Config, invoker provider.Invoker) *Runner {
	return &Runner{cfg: cfg, invoker: invoker}
}

// Execute runs both phases, synthesizes the report, and writes run
// artifacts. It returns the report and the output directory. Prior
// terminal outcomes in the checkpoint log are honored: their tasks are
// not re-invoked, so an interrupted run resumes where it stopped.
func (r *Runner) Execute(ctx context.Context) (*models.Report, string, error) {
	cfg := r.cfg
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, "", &tasktree.ConfigurationError{Level: "topic", Reason: "topic must not be empty"}
	}

	builder := tasktree.NewBuilder(cfg.Topic, cfg.Prompts.SubtaskExecution)
	phaseOne, err := builder.Build(cfg.FocusLevels)
	if err != nil {
		return nil, "", err
	}

	pool := agentpool.New(cfg.Topic, cfg.Anthropic.Model, cfg.Prompts)
	pool.Assign(phaseOne)

	store, err := checkpoint.Open(r.checkpointPath())
	if err != nil {
		return nil, "", err
	}
	defer store.Close()

	prior, err := store.Replay()
	if err != nil {
		return nil, "", err
	}
	results := resultsFromLog(prior)
	settled := settledLineages(prior)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// The watcher needs the directory to exist before the first batch runs.
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating output dir %s: %w", cfg.Output.Dir, err)
	}
	if sw, err := engine.NewStopWatcher(cfg.Output.Dir); err != nil {
		log.Printf("[run] stop watcher unavailable: %v", err)
	} else {
		defer sw.Close()
		go func() {
			select {
			case <-sw.C():
				log.Printf("[run] stop requested, draining in-flight work")
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	engOpts := r.engineOptions(store, pool)
	plan := planner.Plan{
		LaneCount:           engOpts.Workers,
		TokenBudgetPerBatch: cfg.Planner.TokenBudgetPerBatch,
		MaxItemsPerBatch:    cfg.Planner.MaxItemsPerBatch,
	}

	var stats engine.Stats

	// Phase one: the focus hierarchy.
	pending := unsettled(phaseOne, settled)
	if skipped := len(phaseOne) - len(pending); skipped > 0 {
		log.Printf("[run] resuming: %d of %d tasks already terminal in checkpoint log", skipped, len(phaseOne))
	}
	if err := r.runPhase(runCtx, engOpts, plan, pending, results, &stats); err != nil {
		return nil, "", err
	}

	// Phase two admits only after every phase-one task is terminal, which
	// the engine's return guarantees.
	phaseTwo := append(
		pool.SpawnSpecial(cfg.AnalysisAgents, models.AgentKindAnalysis),
		pool.SpawnSpecial(cfg.DeepDiveAgents, models.AgentKindDeepDive)...,
	)
	if len(phaseTwo) > 0 {
		aggregate := buildAggregate(phaseOne, results)
		if aggregate == "" {
			// Nothing to analyze; the tasks surface in the report's
			// incomplete list rather than being silently dropped.
			log.Printf("[run] no phase-one findings, skipping %d phase-two tasks", len(phaseTwo))
			for _, t := range phaseTwo {
				t.Status = models.TaskStatusFailed
			}
		} else {
			twoOpts := engOpts
			twoOpts.PromptFor = func(t *models.Task) string {
				return pool.ProducePhaseTwoPrompt(t, aggregate)
			}
			aggTokens := tasktree.EstimateTokens(aggregate)
			for _, t := range phaseTwo {
				t.EstimatedTokens += aggTokens
			}
			pendingTwo := unsettled(phaseTwo, settled)
			if err := r.runPhase(runCtx, twoOpts, plan, pendingTwo, results, &stats); err != nil {
				return nil, "", err
			}
		}
	}

	allTasks := append(append([]*models.Task{}, phaseOne...), phaseTwo...)
	restoreStatuses(allTasks, results)

	syn := synth.New(cfg.Topic, cfg.Prompts, plan, engOpts)
	rep, err := syn.Synthesize(ctx, allTasks, results)
	if err != nil {
		return nil, "", err
	}
	synStats := syn.Stats()
	rep.Stats.ProviderCalls = stats.ProviderCalls + synStats.ProviderCalls
	rep.Stats.Retries = stats.Retries + synStats.Retries
	rep.Stats.Splits = stats.Splits + synStats.Splits

	dir, err := report.NewWriter(cfg.Output.Dir).Write(&report.Artifacts{
		Report:  rep,
		Tasks:   allTasks,
		Agents:  pool.Agents(),
		Results: sortedResults(results),
	})
	if err != nil {
		return rep, "", err
	}
	log.Printf("[run] report written to %s (completeness %.0f%%)", dir, rep.Completeness*100)
	return rep, dir, nil
}

// runPhase plans and drains one phase, folding results and stats in.
func (r *Runner) runPhase(ctx context.Context, opts engine.Options, plan planner.Plan, tasks []*models.Task, results map[string]*models.Result, stats *engine.Stats) error {
	if len(tasks) == 0 {
		return nil
	}
	batches := plan.Batches(tasks)
	log.Printf("[run] executing %d tasks in %d batches across %d workers", len(tasks), len(batches), opts.Workers)

	eng := engine.New(opts)
	phaseResults, err := eng.Run(ctx, tasks, batches)
	for _, res := range phaseResults {
		if _, ok := results[res.TaskID]; !ok {
			results[res.TaskID] = res
		}
	}
	st := eng.Stats()
	stats.ProviderCalls += st.ProviderCalls
	stats.Retries += st.Retries
	stats.Splits += st.Splits
	stats.TokensUsed += st.TokensUsed
	return err
}

func (r *Runner) engineOptions(store checkpoint.Log, pool *agentpool.Pool) engine.Options {
	retry := engine.DefaultRetryPolicy()
	if r.cfg.Engine.RetryMaxAttempts > 0 {
		retry.MaxAttempts = r.cfg.Engine.RetryMaxAttempts
	}
	if r.cfg.Engine.RetryBaseDelay > 0 {
		retry.BaseDelay = r.cfg.Engine.RetryBaseDelay
	}
	return engine.Options{
		Invoker:       r.invoker,
		Log:           store,
		Workers:       r.cfg.Engine.Workers(),
		MaxConcurrent: r.cfg.Engine.Admission(),
		Retry:         retry,
		InvokeTimeout: r.cfg.Engine.InvokeTimeout,
		PromptFor:     pool.ProducePrompt,
		OnProgress: func(completed, total int) {
			if completed%progressEvery == 0 || completed == total {
				log.Printf("[run] progress: %d/%d tasks complete", completed, total)
			}
		},
	}
}

func (r *Runner) checkpointPath() string {
	if r.cfg.Engine.CheckpointPath != "" {
		return r.cfg.Engine.CheckpointPath
	}
	return filepath.Join(r.cfg.Output.Dir, "hivemind.db")
}

// resultsFromLog converts replayed terminal records to results. Split
// records carry no outcome and are excluded.
func resultsFromLog(prior map[string]*checkpoint.Record) map[string]*models.Result {
	results := make(map[string]*models.Result, len(prior))
	for id, rec := range prior {
		if rec.Status == models.TaskStatusSplit {
			continue
		}
		results[id] = rec.Result()
	}
	return results
}

// settledLineages returns the lineage roots that already hold a
// non-split terminal outcome. Lineages whose only records are splits
// re-run from their original prompt.
func settledLineages(prior map[string]*checkpoint.Record) map[string]bool {
	settled := make(map[string]bool)
	for id, rec := range prior {
		if rec.Status != models.TaskStatusSplit {
			settled[models.LineageRoot(id)] = true
		}
	}
	return settled
}

// unsettled filters tasks down to those without a prior terminal outcome.
func unsettled(tasks []*models.Task, settled map[string]bool) []*models.Task {
	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if !settled[models.LineageRoot(t.ID)] {
			out = append(out, t)
		}
	}
	return out
}

// restoreStatuses marks tasks terminal from replayed results so resumed
// runs report consistent task state in the artifacts.
func restoreStatuses(tasks []*models.Task, results map[string]*models.Result) {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			if res, ok := results[t.ID]; ok {
				if res.Succeeded() {
					t.Status = models.TaskStatusSucceeded
				} else {
					t.Status = models.TaskStatusFailed
				}
			}
		}
	}
}

// buildAggregate concatenates succeeded phase-one findings, folded by
// lineage and clipped per task, for the phase-two prompt.
func buildAggregate(tasks []*models.Task, results map[string]*models.Result) string {
	seen := make(map[string]bool)
	var parts []string
	for _, t := range tasks {
		root := models.LineageRoot(t.ID)
		if seen[root] {
			continue
		}
		res := lineageOutcome(root, results)
		if res == nil || !res.Succeeded() {
			continue
		}
		seen[root] = true
		output := res.Output
		if len(output) > aggregateClip {
			output = output[:aggregateClip] + "..."
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", strings.Join(t.FocusPath, " / "), output))
	}
	return strings.Join(parts, "\n\n")
}

// lineageOutcome finds the first succeeded result in a lineage, or any
// terminal result if none succeeded.
func lineageOutcome(root string, results map[string]*models.Result) *models.Result {
	ids := make([]string, 0, 4)
	for id := range results {
		if models.LineageRoot(id) == root {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var fallback *models.Result
	for _, id := range ids {
		res := results[id]
		if res.Succeeded() {
			return res
		}
		if fallback == nil {
			fallback = res
		}
	}
	return fallback
}

func sortedResults(results map[string]*models.Result) []*models.Result {
	out := make([]*models.Result, 0, len(results))
	for _, res := range results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
