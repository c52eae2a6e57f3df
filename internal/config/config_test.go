package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Anthropic.Model != "claude-sonnet-4-20250514" {
		t.Errorf("expected default model claude-sonnet-4-20250514, got %q", cfg.Anthropic.Model)
	}

	if cfg.Planner.TokenBudgetPerBatch != 8000 {
		t.Errorf("expected token budget 8000, got %d", cfg.Planner.TokenBudgetPerBatch)
	}

	if cfg.Planner.MaxItemsPerBatch != 10 {
		t.Errorf("expected max items 10, got %d", cfg.Planner.MaxItemsPerBatch)
	}

	if cfg.Engine.RetryMaxAttempts != 3 {
		t.Errorf("expected retry ceiling 3, got %d", cfg.Engine.RetryMaxAttempts)
	}

	if cfg.Engine.RetryBaseDelay != time.Second {
		t.Errorf("expected retry base delay 1s, got %v", cfg.Engine.RetryBaseDelay)
	}

	if cfg.Engine.InvokeTimeout != 2*time.Minute {
		t.Errorf("expected invoke timeout 2m, got %v", cfg.Engine.InvokeTimeout)
	}
}

func TestEngineWorkers(t *testing.T) {
	e := EngineConfig{AgentsPerCore: 3}
	if e.Workers()%3 != 0 {
		t.Errorf("expected workers to be a multiple of 3, got %d", e.Workers())
	}

	// Zero falls back to two workers per core.
	zero := EngineConfig{}
	if zero.Workers() < 2 {
		t.Errorf("expected at least 2 workers, got %d", zero.Workers())
	}
}

func TestEngineAdmission(t *testing.T) {
	explicit := EngineConfig{MaxConcurrentInvocations: 7}
	if explicit.Admission() != 7 {
		t.Errorf("expected admission 7, got %d", explicit.Admission())
	}

	derived := EngineConfig{AgentsPerCore: 1}
	if derived.Admission() != derived.Workers()*2 {
		t.Errorf("expected admission %d, got %d", derived.Workers()*2, derived.Admission())
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "run.yaml")

	content := `topic: "Engineering plant based protein for sarcopenia reduction"
focus_levels:
  - name: "Primary Analysis"
    focuses: ["sources", "processing"]
    agent_count: 5
planner:
  token_budget_per_batch: 4000
engine:
  retry_max_attempts: 5
  invoke_timeout: 30s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Topic != "Engineering plant based protein for sarcopenia reduction" {
		t.Errorf("unexpected topic: %q", cfg.Topic)
	}

	if len(cfg.FocusLevels) != 1 {
		t.Fatalf("expected 1 focus level, got %d", len(cfg.FocusLevels))
	}

	level := cfg.FocusLevels[0]
	if level.Name != "Primary Analysis" {
		t.Errorf("unexpected level name: %q", level.Name)
	}
	if level.AgentCount != 5 {
		t.Errorf("expected agent_count 5, got %d", level.AgentCount)
	}
	if len(level.Focuses) != 2 {
		t.Errorf("expected 2 focuses, got %d", len(level.Focuses))
	}

	// File values override defaults; untouched defaults survive.
	if cfg.Planner.TokenBudgetPerBatch != 4000 {
		t.Errorf("expected token budget 4000, got %d", cfg.Planner.TokenBudgetPerBatch)
	}
	if cfg.Planner.MaxItemsPerBatch != 10 {
		t.Errorf("expected default max items 10, got %d", cfg.Planner.MaxItemsPerBatch)
	}
	if cfg.Engine.RetryMaxAttempts != 5 {
		t.Errorf("expected retry ceiling 5, got %d", cfg.Engine.RetryMaxAttempts)
	}
	if cfg.Engine.InvokeTimeout != 30*time.Second {
		t.Errorf("expected invoke timeout 30s, got %v", cfg.Engine.InvokeTimeout)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestAPIKeyExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "run.yaml")

	t.Setenv("HIVEMIND_TEST_KEY", "sk-test-123")

	content := `topic: "Expansion check topic"
anthropic:
  api_key: "${HIVEMIND_TEST_KEY}"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("expected expanded api key, got %q", cfg.Anthropic.APIKey)
	}
}
