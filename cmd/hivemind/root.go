package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hivemind",
	Short: "Batch-orchestrated multi-agent topic analysis",
	Long: `Hivemind decomposes a topic into a hierarchy of focused analysis tasks,
assigns each task a specialized agent persona, and executes them against
the Anthropic API in token-budgeted batches with bounded concurrency.

Every terminal outcome is checkpointed, so an interrupted run resumes
where it stopped. A synthesis pass rolls the findings up through the
focus hierarchy into a single report with explicit completeness
bookkeeping.

Core capabilities:
- Remainder-balanced task distribution across focus areas
- Token-budgeted batching with overflow bisection
- Retry with exponential backoff and jitter for transient failures
- Append-only checkpoint log for crash-safe resume
- Two-phase execution: focus analysis, then cross-cutting deep dives`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
