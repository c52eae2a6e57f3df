package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/internal/provider"
	"github.com/ShayCichocki/hivemind/internal/run"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

var (
	runTopic     string
	runOutputDir string
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Execute a full analysis run",
	Long: `Execute a full analysis run from a run configuration file.

The run decomposes the configured topic into tasks, batches them under
the token budget, executes them with bounded concurrency, and writes the
synthesized report to a timestamped output directory.

Terminal outcomes are checkpointed as they happen. If the run is
interrupted, 'hivemind resume' picks up where it stopped. Dropping a
file named "stop" into the output directory requests a graceful stop:
in-flight work drains, nothing new is admitted.

Examples:
  hivemind run analysis.yaml
  hivemind run analysis.yaml --topic "Kafka internals"
  hivemind run analysis.yaml --output ./results`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(args[0], false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <config.yaml>",
	Short: "Resume an interrupted run",
	Long: `Resume an interrupted run from its checkpoint log.

Tasks that already reached a terminal outcome are not re-invoked; their
recorded results feed straight into synthesis. The configuration must
match the interrupted run, otherwise task identities will not line up
with the log.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(args[0], true)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringVar(&runTopic, "topic", "", "Override the configured topic")
		c.Flags().StringVar(&runOutputDir, "output", "", "Override the output directory")
	}
}

func executeRun(configPath string, resume bool) error {
	cfg, err := loadRunConfig(configPath)
	if err != nil {
		return err
	}

	if resume {
		if _, err := os.Stat(checkpointPath(cfg)); os.IsNotExist(err) {
			return fmt.Errorf("no checkpoint log at %s; nothing to resume", checkpointPath(cfg))
		}
	}

	client, err := provider.NewClient(provider.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("creating provider client: %w", err)
	}

	// A signal requests a graceful stop: admission closes, in-flight
	// invocations drain to recorded outcomes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Analyzing %q with %s\n\n", cfg.Topic, cfg.Anthropic.Model)

	report, dir, err := run.NewRunner(cfg, client).Execute(ctx)
	if err != nil {
		return err
	}

	printRunSummary(report, dir)
	return nil
}

// loadRunConfig loads and validates configuration for run/resume.
func loadRunConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if runTopic != "" {
		cfg.Topic = runTopic
	}
	if runOutputDir != "" {
		cfg.Output.Dir = runOutputDir
	}
	if cfg.Anthropic.APIKey == "" && !cfg.Anthropic.UseAWSBedrock {
		return nil, fmt.Errorf("no API key: set anthropic.api_key in the config or the ANTHROPIC_API_KEY environment variable")
	}
	return cfg, nil
}

func checkpointPath(cfg *config.Config) string {
	if cfg.Engine.CheckpointPath != "" {
		return cfg.Engine.CheckpointPath
	}
	return cfg.Output.Dir + "/hivemind.db"
}

func printRunSummary(report *models.Report, dir string) {
	fmt.Println()
	if report.Completeness == 1.0 {
		color.Green("✓ Run complete: all %d tasks succeeded", report.Stats.TotalTasks)
	} else {
		color.Yellow("⚠ Run complete with gaps: %d of %d tasks succeeded (%.0f%%)",
			report.Stats.Succeeded, report.Stats.TotalTasks, report.Completeness*100)
		for _, inc := range report.Incomplete {
			kind := string(inc.ErrorKind)
			if kind == "" {
				kind = "unresolved"
			}
			fmt.Printf("    %s: %s\n", inc.TaskID, kind)
		}
	}
	fmt.Printf("\nProvider calls: %d (retries: %d, batch splits: %d)\n",
		report.Stats.ProviderCalls, report.Stats.Retries, report.Stats.Splits)
	fmt.Printf("Tokens used: %d\n", report.Stats.TotalTokens)
	fmt.Printf("Report: %s\n", dir)
}
