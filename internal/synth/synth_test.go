package synth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/internal/engine"
	"github.com/ShayCichocki/hivemind/internal/planner"
	"github.com/ShayCichocki/hivemind/internal/provider"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

// echoInvoker summarizes by returning a fixed marker plus a digest of
// the prompt, and records every prompt it saw.
type echoInvoker struct {
	mu      sync.Mutex
	prompts []string
	reply   string
}

func (f *echoInvoker) Invoke(ctx context.Context, prompt string, tokenBudget int) (string, provider.Usage, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	reply := f.reply
	if reply == "" {
		reply = "summary"
	}
	return reply, provider.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (f *echoInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *echoInvoker) sawSubstring(sub string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.prompts {
		if strings.Contains(p, sub) {
			return true
		}
	}
	return false
}

func newSynth(inv provider.Invoker, budget int) *Synthesizer {
	return New("distributed systems", config.Default().Prompts, planner.Plan{
		TokenBudgetPerBatch: budget,
		MaxItemsPerBatch:    10,
	}, engine.Options{
		Invoker:       inv,
		Workers:       2,
		Retry:         engine.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		InvokeTimeout: time.Second,
	})
}

func task(id string, path ...string) *models.Task {
	return &models.Task{
		ID:        id,
		FocusPath: path,
		Status:    models.TaskStatusSucceeded,
	}
}

func ok(id, output string) *models.Result {
	return &models.Result{TaskID: id, Output: output, TokensUsed: 100}
}

func failed(id string, kind models.ErrorKind) *models.Result {
	return &models.Result{TaskID: id, ErrorKind: kind}
}

func TestSynthesizeRollup(t *testing.T) {
	inv := &echoInvoker{}
	s := newSynth(inv, 8000)

	tasks := []*models.Task{
		task("a_1", "consensus"),
		task("a_x_1", "consensus", "raft"),
		task("b_1", "replication"),
	}
	results := map[string]*models.Result{
		"a_1":   ok("a_1", "finding about consensus"),
		"a_x_1": ok("a_x_1", "finding about raft"),
		"b_1":   ok("b_1", "finding about replication"),
	}

	report, err := s.Synthesize(context.Background(), tasks, results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(report.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(report.Sections))
	}
	if report.Sections[0].Focus != "consensus" || report.Sections[1].Focus != "replication" {
		t.Errorf("section order = %q, %q", report.Sections[0].Focus, report.Sections[1].Focus)
	}
	if len(report.Sections[0].Children) != 1 || report.Sections[0].Children[0].Focus != "raft" {
		t.Fatalf("consensus children = %+v, want one raft child", report.Sections[0].Children)
	}
	for _, sec := range report.Sections {
		if sec.Summary == "" {
			t.Errorf("section %s has empty summary", sec.Focus)
		}
	}
	if report.Executive == "" {
		t.Error("executive summary is empty")
	}
	if report.Completeness != 1.0 {
		t.Errorf("completeness = %v, want 1.0", report.Completeness)
	}
	if len(report.Incomplete) != 0 {
		t.Errorf("incomplete = %+v, want none", report.Incomplete)
	}
	if report.Stats.Succeeded != 3 || report.Stats.Failed != 0 {
		t.Errorf("stats = %+v", report.Stats)
	}
	if !inv.sawSubstring("finding about raft") {
		t.Error("leaf finding never reached a summary prompt")
	}
}

func TestSynthesizeChildSummaryFeedsParent(t *testing.T) {
	inv := &echoInvoker{reply: "child-rollup"}
	s := newSynth(inv, 8000)

	tasks := []*models.Task{
		task("p_1", "storage"),
		task("c_1", "storage", "lsm trees"),
	}
	results := map[string]*models.Result{
		"p_1": ok("p_1", "parent finding"),
		"c_1": ok("c_1", "child finding"),
	}

	if _, err := s.Synthesize(context.Background(), tasks, results); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !inv.sawSubstring("lsm trees:\nchild-rollup") {
		t.Error("parent prompt does not include the child's summary")
	}
}

func TestSynthesizeIncompleteBookkeeping(t *testing.T) {
	inv := &echoInvoker{}
	s := newSynth(inv, 8000)

	tasks := []*models.Task{
		task("a_1", "consensus"),
		task("a_2", "consensus"),
	}
	results := map[string]*models.Result{
		"a_1": ok("a_1", "good finding"),
		"a_2": failed("a_2", models.ErrorKindProviderUnavailable),
	}

	report, err := s.Synthesize(context.Background(), tasks, results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if report.Completeness != 0.5 {
		t.Errorf("completeness = %v, want 0.5", report.Completeness)
	}
	if len(report.Incomplete) != 1 {
		t.Fatalf("incomplete = %+v, want one entry", report.Incomplete)
	}
	inc := report.Incomplete[0]
	if inc.TaskID != "a_2" || inc.ErrorKind != models.ErrorKindProviderUnavailable {
		t.Errorf("incomplete entry = %+v", inc)
	}
	if len(inc.FocusPath) != 1 || inc.FocusPath[0] != "consensus" {
		t.Errorf("incomplete focus path = %v", inc.FocusPath)
	}
	// Failed outputs must not leak into summaries.
	for _, sec := range report.Sections {
		for _, id := range sec.TaskIDs {
			if id == "a_2" {
				t.Error("failed task listed as a summary source")
			}
		}
	}
}

func TestSynthesizeFoldsLineages(t *testing.T) {
	inv := &echoInvoker{}
	s := newSynth(inv, 8000)

	// a_1 was split; its second generation succeeded. The report must
	// count the lineage once, as succeeded.
	tasks := []*models.Task{
		task("a_1", "consensus"),
	}
	tasks[0].Status = models.TaskStatusSplit
	results := map[string]*models.Result{
		"a_1~2": ok("a_1~2", "reissued finding"),
	}

	report, err := s.Synthesize(context.Background(), tasks, results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if report.Stats.TotalTasks != 1 || report.Stats.Succeeded != 1 {
		t.Errorf("stats = %+v, want 1 task 1 succeeded", report.Stats)
	}
	if report.Completeness != 1.0 {
		t.Errorf("completeness = %v, want 1.0", report.Completeness)
	}
	if len(report.Sections) != 1 || len(report.Sections[0].TaskIDs) != 1 || report.Sections[0].TaskIDs[0] != "a_1" {
		t.Errorf("sections = %+v, want lineage root a_1", report.Sections)
	}
}

func TestSynthesizeZeroTasks(t *testing.T) {
	inv := &echoInvoker{}
	s := newSynth(inv, 8000)

	report, err := s.Synthesize(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if report == nil {
		t.Fatal("report is nil")
	}
	if report.Completeness != 0 {
		t.Errorf("completeness = %v, want 0", report.Completeness)
	}
	if inv.calls() != 0 {
		t.Errorf("provider calls = %d, want 0", inv.calls())
	}
}

func TestSynthesizeChunksOverBudgetInput(t *testing.T) {
	inv := &echoInvoker{reply: "short"}
	// Tiny budget so a handful of findings exceed one batch.
	s := newSynth(inv, 50)

	big := strings.Repeat("finding text ", 40)
	tasks := []*models.Task{
		task("a_1", "consensus"),
		task("a_2", "consensus"),
	}
	results := map[string]*models.Result{
		"a_1": ok("a_1", big),
		"a_2": ok("a_2", big),
	}

	report, err := s.Synthesize(context.Background(), tasks, results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if inv.calls() < 3 {
		t.Errorf("provider calls = %d, want chunked map plus reduce", inv.calls())
	}
	if report.Sections[0].Summary == "" {
		t.Error("chunked section summary is empty")
	}
}

func TestChunkText(t *testing.T) {
	text := strings.Join([]string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 90),
	}, "\n\n")

	chunks := chunkText(text, 70)
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want at least 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 70 {
			t.Errorf("chunk %d is %d chars, over the limit", i, len(c))
		}
	}
	joined := strings.Join(chunks, "")
	for _, ch := range []string{"a", "b", "c"} {
		want := strings.Count(text, ch)
		if got := strings.Count(joined, ch); got != want {
			t.Errorf("lost content: %q count = %d, want %d", ch, got, want)
		}
	}
}

func TestClip(t *testing.T) {
	short := "short output"
	if clip(short) != short {
		t.Errorf("clip changed a short string")
	}
	long := strings.Repeat("x", resultClip+100)
	clipped := clip(long)
	if len(clipped) != resultClip+3 {
		t.Errorf("clipped length = %d, want %d", len(clipped), resultClip+3)
	}
	if !strings.HasSuffix(clipped, "...") {
		t.Error("clipped string missing ellipsis")
	}
}
