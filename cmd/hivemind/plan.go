package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hivemind/internal/agentpool"
	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/internal/planner"
	"github.com/ShayCichocki/hivemind/internal/tasktree"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

var planCmd = &cobra.Command{
	Use:   "plan <config.yaml>",
	Short: "Show the task tree and batch layout without executing",
	Long: `Expand the configuration into its task tree and batch layout, then
print both without making any provider calls.

Use this to sanity-check a configuration before spending tokens: it
shows exactly which tasks would run, which personas own them, and how
the planner packs them into batches and lanes.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return &tasktree.ConfigurationError{Level: "topic", Reason: "topic must not be empty"}
	}

	builder := tasktree.NewBuilder(cfg.Topic, cfg.Prompts.SubtaskExecution)
	tasks, err := builder.Build(cfg.FocusLevels)
	if err != nil {
		return err
	}

	pool := agentpool.New(cfg.Topic, cfg.Anthropic.Model, cfg.Prompts)
	pool.Assign(tasks)

	workers := cfg.Engine.Workers()
	plan := planner.Plan{
		LaneCount:           workers,
		TokenBudgetPerBatch: cfg.Planner.TokenBudgetPerBatch,
		MaxItemsPerBatch:    cfg.Planner.MaxItemsPerBatch,
	}
	batches := plan.Batches(tasks)

	bold := color.New(color.Bold)
	bold.Printf("Topic: %s\n", cfg.Topic)
	fmt.Printf("Tasks: %d  Batches: %d  Workers: %d  Budget: %d tokens/batch\n\n",
		len(tasks), len(batches), workers, cfg.Planner.TokenBudgetPerBatch)

	bold.Println("Task tree")
	for _, t := range tasks {
		indent := strings.Repeat("  ", len(t.FocusPath)-1)
		fmt.Printf("  %s%s (%s, ~%d tokens)\n", indent, t.ID, t.Leaf(), t.EstimatedTokens)
	}

	phaseTwo := len(cfg.AnalysisAgents) + len(cfg.DeepDiveAgents)
	if phaseTwo > 0 {
		fmt.Println()
		bold.Println("Phase two")
		for _, t := range pool.SpawnSpecial(cfg.AnalysisAgents, models.AgentKindAnalysis) {
			fmt.Printf("  %s\n", t.ID)
		}
		for _, t := range pool.SpawnSpecial(cfg.DeepDiveAgents, models.AgentKindDeepDive) {
			fmt.Printf("  %s\n", t.ID)
		}
	}

	fmt.Println()
	bold.Println("Batch layout")
	for _, b := range batches {
		fmt.Printf("  %s lane=%d tokens=%d tasks=%s\n",
			b.ID, b.Lane, b.EstimatedTokens, strings.Join(b.TaskIDs, ", "))
	}

	return nil
}
