package models

import "time"

// IncompleteTask records a task that never reached a Succeeded result,
// listed explicitly in the report rather than silently omitted.
type IncompleteTask struct {
	// TaskID identifies the unresolved task.
	TaskID string `json:"task_id" yaml:"task_id"`
	// FocusPath is the task's focus lineage, for grouping in the report.
	FocusPath []string `json:"focus_path" yaml:"focus_path"`
	// ErrorKind is the terminal failure class, or empty if the task never
	// reached a terminal status.
	ErrorKind ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// FocusSection is the rolled-up summary for one focus and its children.
type FocusSection struct {
	// Focus is the focus name this section covers.
	Focus string `json:"focus" yaml:"focus"`
	// Summary is the layer summary for this focus.
	Summary string `json:"summary" yaml:"summary"`
	// TaskIDs lists the succeeded tasks the summary was built from.
	TaskIDs []string `json:"task_ids" yaml:"task_ids"`
	// Children are the nested sections for child focuses.
	Children []FocusSection `json:"children,omitempty" yaml:"children,omitempty"`
}

// RunStats holds bookkeeping totals for a run.
type RunStats struct {
	TotalTasks     int           `json:"total_tasks" yaml:"total_tasks"`
	Succeeded      int           `json:"succeeded" yaml:"succeeded"`
	Failed         int           `json:"failed" yaml:"failed"`
	TotalTokens    int64         `json:"total_tokens" yaml:"total_tokens"`
	ProviderCalls  int           `json:"provider_calls" yaml:"provider_calls"`
	Retries        int           `json:"retries" yaml:"retries"`
	Splits         int           `json:"splits" yaml:"splits"`
	WallClock      time.Duration `json:"wall_clock" yaml:"wall_clock"`
}

// Report is the read-only aggregate produced once per run by the
// synthesizer.
type Report struct {
	// Topic is the root topic the run analyzed.
	Topic string `json:"topic" yaml:"topic"`
	// Sections are the per-focus layer summaries.
	Sections []FocusSection `json:"sections" yaml:"sections"`
	// Executive is the final synthesis over all layer summaries.
	Executive string `json:"executive" yaml:"executive"`
	// Incomplete lists every task without a Succeeded result.
	Incomplete []IncompleteTask `json:"incomplete" yaml:"incomplete"`
	// Completeness is succeeded/total in the range [0, 1]. It is 0 for a
	// run with zero tasks, never undefined.
	Completeness float64 `json:"completeness" yaml:"completeness"`
	// Stats holds run totals.
	Stats RunStats `json:"stats" yaml:"stats"`
	// GeneratedAt is when the report was produced.
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
}
