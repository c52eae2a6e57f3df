// Package synth rolls partial results up through the focus hierarchy and
// produces the final report.
package synth

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/hivemind/internal/agentpool"
	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/internal/engine"
	"github.com/ShayCichocki/hivemind/internal/planner"
	"github.com/ShayCichocki/hivemind/internal/tasktree"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

// resultClip caps how much of a single task's output feeds a summary
// prompt, leaving headroom for the synthesis instructions.
const resultClip = 1500

// Synthesizer aggregates task results into one report. Its own provider
// calls go through the planner and engine, so synthesis input that
// exceeds one batch's budget is chunked and split by the same rules as
// task execution.
type Synthesizer struct {
	topic   string
	prompts config.PromptsConfig
	plan    planner.Plan
	engOpts engine.Options

	mu    sync.Mutex
	stats engine.Stats
}

// New creates a Synthesizer. engOpts is reused for synthesis
// invocations; its checkpoint log is not carried over, synthesis calls
// are not checkpointed.
func New(topic string, prompts config.PromptsConfig, plan planner.Plan, engOpts engine.Options) *Synthesizer {
	engOpts.Log = nil
	engOpts.OnProgress = nil
	// Synthesis tasks carry fully rendered prompts already.
	engOpts.PromptFor = nil
	return &Synthesizer{
		topic:   topic,
		prompts: prompts,
		plan:    plan,
		engOpts: engOpts,
	}
}

// Synthesize builds the report from the full, possibly partial, result
// set. Result arrival order carries no meaning; ordering is
// reconstructed from task metadata. The report always renders, even with
// zero successes.
func (s *Synthesizer) Synthesize(ctx context.Context, tasks []*models.Task, results map[string]*models.Result) (*models.Report, error) {
	start := time.Now()

	lineages := foldLineages(tasks, results)

	var sections []models.FocusSection
	for _, node := range buildTree(tasks) {
		sections = append(sections, s.summarizeNode(ctx, node, lineages))
	}

	executive := s.executive(ctx, sections)

	report := &models.Report{
		Topic:       s.topic,
		Sections:    sections,
		Executive:   executive,
		GeneratedAt: time.Now().UTC(),
	}
	s.fillBookkeeping(report, tasks, lineages)
	report.Stats.WallClock = time.Since(start)

	return report, nil
}

// Stats returns cumulative engine counters for the synthesizer's own
// provider calls.
func (s *Synthesizer) Stats() engine.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// lineage is the folded outcome of one original task across every
// reissued generation.
type lineage struct {
	root      string
	focusPath []string
	output    string
	succeeded bool
	errorKind models.ErrorKind
	tokens    int64
}

// foldLineages reduces per-generation results to one outcome per
// original task. A lineage succeeded if any generation succeeded.
func foldLineages(tasks []*models.Task, results map[string]*models.Result) map[string]*lineage {
	out := make(map[string]*lineage)
	for _, t := range tasks {
		root := models.LineageRoot(t.ID)
		if _, ok := out[root]; !ok {
			out[root] = &lineage{root: root, focusPath: t.FocusPath}
		}
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		res := results[id]
		root := models.LineageRoot(id)
		ln, ok := out[root]
		if !ok {
			ln = &lineage{root: root}
			out[root] = ln
		}
		ln.tokens += res.TokensUsed
		if res.Succeeded() {
			ln.succeeded = true
			ln.output = res.Output
			ln.errorKind = models.ErrorKindNone
		} else if !ln.succeeded {
			ln.errorKind = res.ErrorKind
		}
	}
	return out
}

// node is one focus in the rollup tree.
type node struct {
	focus    string
	path     []string
	taskIDs  []string // lineage roots of tasks at exactly this node
	children []*node
}

// buildTree constructs the focus trie from task focus paths, preserving
// first-seen order so identical input yields an identical report layout.
func buildTree(tasks []*models.Task) []*node {
	var roots []*node
	index := make(map[string]*node)

	for _, t := range tasks {
		if len(t.FocusPath) == 0 {
			continue
		}
		root := models.LineageRoot(t.ID)

		var parent *node
		for depth := range t.FocusPath {
			key := strings.Join(t.FocusPath[:depth+1], "\x00")
			n, ok := index[key]
			if !ok {
				n = &node{
					focus: t.FocusPath[depth],
					path:  append([]string{}, t.FocusPath[:depth+1]...),
				}
				index[key] = n
				if parent == nil {
					roots = append(roots, n)
				} else {
					parent.children = append(parent.children, n)
				}
			}
			parent = n
		}
		if !contains(parent.taskIDs, root) {
			parent.taskIDs = append(parent.taskIDs, root)
		}
	}
	return roots
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// summarizeNode rolls a node up leaf-first: children are summarized
// before their parent, and the parent summary is produced over the child
// summaries plus the node's own findings.
func (s *Synthesizer) summarizeNode(ctx context.Context, n *node, lineages map[string]*lineage) models.FocusSection {
	section := models.FocusSection{Focus: n.focus}

	var parts []string
	for _, child := range n.children {
		cs := s.summarizeNode(ctx, child, lineages)
		section.Children = append(section.Children, cs)
		if cs.Summary != "" {
			parts = append(parts, fmt.Sprintf("%s:\n%s", cs.Focus, cs.Summary))
		}
	}

	sort.Strings(n.taskIDs)
	for _, root := range n.taskIDs {
		ln := lineages[root]
		if ln == nil || !ln.succeeded {
			continue
		}
		section.TaskIDs = append(section.TaskIDs, root)
		parts = append(parts, fmt.Sprintf("%s: %s", root, clip(ln.output)))
	}

	if len(parts) == 0 {
		return section
	}

	label := strings.Join(n.path, "/")
	summary, err := s.summarizeText(ctx, label, strings.Join(parts, "\n\n"))
	if err != nil {
		log.Printf("[synth] summary for %s failed: %v", label, err)
		// The report still renders; the section simply carries no rollup.
		return section
	}
	section.Summary = summary
	return section
}

// executive produces the final synthesis over all section summaries.
func (s *Synthesizer) executive(ctx context.Context, sections []models.FocusSection) string {
	var parts []string
	for _, sec := range sections {
		if sec.Summary != "" {
			parts = append(parts, fmt.Sprintf("%s:\n%s", sec.Focus, sec.Summary))
		}
	}
	if len(parts) == 0 {
		return ""
	}

	out, err := s.summarizeText(ctx, "executive", strings.Join(parts, "\n\n---\n\n"))
	if err != nil {
		log.Printf("[synth] executive synthesis failed: %v", err)
		return ""
	}
	return out
}

// maxReduceDepth bounds summary-of-summaries recursion when the model
// keeps returning output near the budget.
const maxReduceDepth = 5

// summarizeText summarizes arbitrary text through the engine. Text over
// the batch budget is chunked, each chunk summarized, and the joined
// summaries summarized again, recursively.
func (s *Synthesizer) summarizeText(ctx context.Context, label, text string) (string, error) {
	return s.reduce(ctx, label, text, 0)
}

func (s *Synthesizer) reduce(ctx context.Context, label, text string, depth int) (string, error) {
	budget := s.plan.TokenBudgetPerBatch
	if budget <= 0 {
		budget = 8000
	}

	if tasktree.EstimateTokens(text) <= budget {
		return s.invokeChunks(ctx, label, []string{text})
	}

	chunks := chunkText(text, budget*4) // budget tokens at ~4 chars/token
	joined, err := s.invokeChunks(ctx, label, chunks)
	if err != nil {
		return "", err
	}
	if tasktree.EstimateTokens(joined) <= budget {
		return s.invokeChunks(ctx, label, []string{joined})
	}
	if depth+1 >= maxReduceDepth {
		log.Printf("[synth] %s: summaries still over budget after %d passes, keeping joined text", label, maxReduceDepth)
		return joined, nil
	}
	return s.reduce(ctx, label, joined, depth+1)
}

// invokeChunks runs one summary task per chunk through the engine and
// joins the summaries in chunk order.
func (s *Synthesizer) invokeChunks(ctx context.Context, label string, chunks []string) (string, error) {
	tasks := make([]*models.Task, len(chunks))
	for i, chunk := range chunks {
		prompt := agentpool.RenderTemplate(s.prompts.Synthesizer, map[string]string{
			"persona": agentpool.DerivePersona("synthesizer", s.topic),
			"subtask": chunk,
			"topic":   s.topic,
		})
		tasks[i] = &models.Task{
			ID:              fmt.Sprintf("synth_%s_%d", slug(label), i+1),
			FocusPath:       []string{"synthesis", label},
			Prompt:          prompt,
			EstimatedTokens: tasktree.EstimateTokens(prompt),
			Status:          models.TaskStatusAssigned,
			Phase:           models.PhaseAnalysis,
		}
	}

	plan := s.plan
	plan.LaneCount = s.engOpts.Workers
	batches := plan.Batches(tasks)

	eng := engine.New(s.engOpts)
	results, err := eng.Run(ctx, tasks, batches)
	st := eng.Stats()
	s.mu.Lock()
	s.stats.ProviderCalls += st.ProviderCalls
	s.stats.Retries += st.Retries
	s.stats.Splits += st.Splits
	s.stats.TokensUsed += st.TokensUsed
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	// Reassemble in chunk order regardless of completion order.
	byRoot := make(map[string]string, len(results))
	for _, r := range results {
		if r.Succeeded() {
			byRoot[models.LineageRoot(r.TaskID)] = r.Output
		}
	}
	var out []string
	for _, t := range tasks {
		if text, ok := byRoot[t.ID]; ok {
			out = append(out, text)
		}
	}
	if len(out) == 0 {
		return "", fmt.Errorf("all %d summary chunks for %s failed", len(chunks), label)
	}
	return strings.Join(out, "\n\n"), nil
}

// fillBookkeeping computes completeness and the incomplete task list.
func (s *Synthesizer) fillBookkeeping(report *models.Report, tasks []*models.Task, lineages map[string]*lineage) {
	roots := make([]string, 0, len(lineages))
	for root := range lineages {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		ln := lineages[root]
		report.Stats.TotalTasks++
		report.Stats.TotalTokens += ln.tokens
		if ln.succeeded {
			report.Stats.Succeeded++
			continue
		}
		report.Stats.Failed++
		report.Incomplete = append(report.Incomplete, models.IncompleteTask{
			TaskID:    root,
			FocusPath: ln.focusPath,
			ErrorKind: ln.errorKind,
		})
	}

	if report.Stats.TotalTasks > 0 {
		report.Completeness = float64(report.Stats.Succeeded) / float64(report.Stats.TotalTasks)
	}
}

// chunkText splits text into pieces of at most maxChars, preferring
// paragraph boundaries.
func chunkText(text string, maxChars int) []string {
	if maxChars < 1 {
		maxChars = 1
	}
	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		// Hard-split paragraphs that alone exceed the chunk size.
		for len(para) > maxChars {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, para[:maxChars])
			para = para[maxChars:]
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// clip truncates a single result for inclusion in a summary prompt.
func clip(s string) string {
	if len(s) <= resultClip {
		return s
	}
	return s[:resultClip] + "..."
}

func slug(s string) string {
	out := strings.ToLower(s)
	out = strings.NewReplacer(" ", "_", "/", "_").Replace(out)
	return out
}
