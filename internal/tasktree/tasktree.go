// Package tasktree expands a topic and focus hierarchy into a flat,
// deterministic sequence of tasks.
package tasktree

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

// perTaskOverheadTokens pads every estimate for the persona preamble and
// template boilerplate added at prompt-render time.
const perTaskOverheadTokens = 200

// charsPerToken is the rough character-to-token ratio used for estimates.
// The engine tolerates the estimate being wrong in either direction.
const charsPerToken = 4

// ConfigurationError is a fatal pre-run error: the focus hierarchy cannot
// produce a valid task tree. No invocation is attempted after one.
type ConfigurationError struct {
	// Level is the focus level name the error was detected in.
	Level string
	// Reason describes what is wrong.
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Level == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error in level %q: %s", e.Level, e.Reason)
}

// Builder expands focus levels into tasks.
type Builder struct {
	topic string
	// templateTokens is the token cost of the execution prompt template,
	// folded into every task's estimate.
	templateTokens int
}

// NewBuilder creates a Builder for the given topic. templateText is the
// subtask execution template; its length contributes to token estimates.
func NewBuilder(topic, templateText string) *Builder {
	return &Builder{
		topic:          topic,
		templateTokens: EstimateTokens(templateText),
	}
}

// EstimateTokens converts text length to a rough token count.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Distribute splits count across n slots using remainder balancing:
// the first count%n slots receive one extra item. The returned slice
// always sums to exactly count.
func Distribute(count, n int) []int {
	if n <= 0 {
		return nil
	}
	base := count / n
	remainder := count % n
	out := make([]int, n)
	for i := range out {
		out[i] = base
		if i < remainder {
			out[i]++
		}
	}
	return out
}

// Build expands the focus levels into an ordered task sequence. Allocation
// is deterministic given the same input order: identical input produces
// identical task IDs, focus paths, and ordering.
func (b *Builder) Build(levels []config.FocusLevel) ([]*models.Task, error) {
	// lineage maps each declared focus name to its full path, so later
	// levels can resolve their parent.
	lineage := make(map[string][]string)
	now := time.Now().UTC()

	var tasks []*models.Task
	for _, level := range levels {
		if len(level.Focuses) == 0 {
			return nil, &ConfigurationError{Level: level.Name, Reason: "no focuses declared"}
		}
		if level.AgentCount < 0 {
			return nil, &ConfigurationError{
				Level:  level.Name,
				Reason: fmt.Sprintf("agent_count must be >= 0, got %d", level.AgentCount),
			}
		}

		var parentPath []string
		if level.ParentFocus != "" {
			path, ok := lineage[level.ParentFocus]
			if !ok {
				return nil, &ConfigurationError{
					Level:  level.Name,
					Reason: fmt.Sprintf("parent focus %q not declared by any earlier level", level.ParentFocus),
				}
			}
			parentPath = path
		}

		counts := Distribute(level.AgentCount, len(level.Focuses))
		for i, focus := range level.Focuses {
			path := append(append([]string{}, parentPath...), focus)
			if _, seen := lineage[focus]; !seen {
				lineage[focus] = path
			}

			for j := 0; j < counts[i]; j++ {
				desc := b.describe(level, focus, j+1)
				tasks = append(tasks, &models.Task{
					ID:              taskID(level.Name, focus, j+1),
					FocusPath:       path,
					Prompt:          desc,
					EstimatedTokens: EstimateTokens(desc) + b.templateTokens + perTaskOverheadTokens,
					Status:          models.TaskStatusPending,
					Phase:           models.PhaseFocus,
					CreatedAt:       now,
				})
			}
		}
	}

	return tasks, nil
}

// describe renders the subtask description for one task.
func (b *Builder) describe(level config.FocusLevel, focus string, n int) string {
	parent := level.ParentFocus
	if parent == "" {
		parent = "Root"
	}
	return fmt.Sprintf(
		"Focus: %s within %s\nParent Focus: %s\nTask: Analyze and provide insights for %s",
		focus, level.Name, parent, b.topic,
	)
}

// taskID builds the stable slug identifier for a task.
func taskID(level, focus string, n int) string {
	return slug(fmt.Sprintf("%s_%s_%d", level, focus, n))
}

func slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}
