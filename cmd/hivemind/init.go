package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hivemind/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Create a starter run configuration",
	Long: `Initialize a directory for use with hivemind.

This command sets up everything needed for a first run:
  - Checks that an API key is available
  - Creates the output directory
  - Writes an example run configuration (hivemind.yaml)

The directory argument is optional and defaults to the current directory.

Examples:
  hivemind init              # Initialize current directory
  hivemind init ./analysis   # Initialize specific directory
  hivemind init --force      # Overwrite an existing hivemind.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing hivemind in %s...\n\n", absPath)

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	outputDir := filepath.Join(absPath, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	printStatus("✓", "Created output directory", color.FgGreen)

	configPath := filepath.Join(absPath, "hivemind.yaml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		printStatus("⚠", "hivemind.yaml already exists, use --force to overwrite", color.FgYellow)
	} else {
		if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
			return fmt.Errorf("writing example config: %w", err)
		}
		printStatus("✓", "Created hivemind.yaml", color.FgGreen)
	}

	fmt.Printf("\n%s Initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		fmt.Println("  1. Set your API key:")
		fmt.Println("     export ANTHROPIC_API_KEY=your-key-here")
		fmt.Println()
	}
	fmt.Println("  2. Edit hivemind.yaml: set your topic and focus areas")
	fmt.Println()
	fmt.Println("  3. Preview the plan, then run:")
	fmt.Println("     hivemind plan hivemind.yaml")
	fmt.Println("     hivemind run hivemind.yaml")
	fmt.Println()
	fmt.Printf("User config: %s\n", config.GetUserConfigPath())

	return nil
}

// printStatus prints a colored status line.
func printStatus(symbol, message string, c color.Attribute) {
	color.New(c).Printf("%s ", symbol)
	fmt.Println(message)
}

const exampleConfig = `# Hivemind run configuration.
topic: "Distributed database internals"

# Ordered focus hierarchy. Levels referencing a parent_focus must come
# after the level that declares that focus. agent_count tasks are spread
# across the focuses with remainder balancing.
focus_levels:
  - name: areas
    focuses: [storage engines, query processing, replication]
    agent_count: 6
  - name: storage_details
    parent_focus: storage engines
    focuses: [lsm trees, b-trees]
    agent_count: 2

# Phase-two agents run after every phase-one task is terminal and see
# the aggregated findings.
analysis_agents:
  - name: cross_cutting
    agent_types:
      - name: risk analyst
        focus: identify operational risks
        agent_count: 1

deep_dive_agents: []

anthropic:
  # Overridden by the ANTHROPIC_API_KEY environment variable.
  api_key: ${ANTHROPIC_API_KEY}
  model: claude-sonnet-4-20250514

planner:
  token_budget_per_batch: 8000
  max_items_per_batch: 10

engine:
  agents_per_core: 2
  retry_max_attempts: 3
  retry_base_delay: 1s
  invoke_timeout: 2m

output:
  dir: output
`
