package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hivemind/internal/checkpoint"
	"github.com/ShayCichocki/hivemind/internal/config"
	"github.com/ShayCichocki/hivemind/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <config.yaml>",
	Short: "Show checkpoint progress for a run",
	Long: `Display the terminal outcomes recorded in a run's checkpoint log.

Shows how many tasks succeeded, failed, or were split, and which task
IDs are settled. Useful before 'hivemind resume' to see how much work
remains.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	path := checkpointPath(cfg)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No checkpoint log. Run 'hivemind run <config>' to start.")
		return nil
	}

	store, err := checkpoint.Open(path)
	if err != nil {
		return fmt.Errorf("open checkpoint log: %w", err)
	}
	defer store.Close()

	records, err := store.Replay()
	if err != nil {
		return fmt.Errorf("replay checkpoint log: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("Checkpoint log is empty.")
		return nil
	}

	counts := make(map[models.TaskStatus]int)
	var tokens int64
	ids := make([]string, 0, len(records))
	for id, rec := range records {
		counts[rec.Status]++
		tokens += rec.TokensUsed
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("Checkpoint log: %s\n\n", path)
	fmt.Printf("  Succeeded: %d\n", counts[models.TaskStatusSucceeded])
	fmt.Printf("  Failed:    %d\n", counts[models.TaskStatusFailed])
	fmt.Printf("  Split:     %d\n", counts[models.TaskStatusSplit])
	fmt.Printf("  Tokens:    %d\n\n", tokens)

	for _, id := range ids {
		rec := records[id]
		line := fmt.Sprintf("  %-40s %s", id, rec.Status)
		if rec.ErrorKind != models.ErrorKindNone {
			line += fmt.Sprintf(" (%s)", rec.ErrorKind)
		}
		fmt.Println(line)
	}
	return nil
}
