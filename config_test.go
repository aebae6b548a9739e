package ctxbudget

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/youssefsiam38/ctxbudget/budget"
	"github.com/youssefsiam38/ctxbudget/internal/testutil"
	"github.com/youssefsiam38/ctxbudget/types"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}

	if config.Storage.Driver != StorageMemory {
		t.Errorf("Storage.Driver = %q, want %q", config.Storage.Driver, StorageMemory)
	}
	if config.Optimizer.BudgetLimit != config.Budget.Total {
		t.Errorf("Optimizer.BudgetLimit = %d, want %d", config.Optimizer.BudgetLimit, config.Budget.Total)
	}
	if config.Analyzer.WarningThreshold != config.Budget.WarningThreshold {
		t.Errorf("Analyzer.WarningThreshold = %v, want %v", config.Analyzer.WarningThreshold, config.Budget.WarningThreshold)
	}
	if config.WatchInterval.Std() != DefaultWatchInterval {
		t.Errorf("WatchInterval = %v, want %v", config.WatchInterval, DefaultWatchInterval)
	}
	if config.Retention.MaxAge.Std() != DefaultRetentionMaxAge {
		t.Errorf("Retention.MaxAge = %v, want %v", config.Retention.MaxAge, DefaultRetentionMaxAge)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := testutil.WriteFile(t, "ctxbudget.yaml", `
budget:
  total: 100000
  system: 0
  conversation: 80000
  tool_results: 5000
  reserve: 15000
optimizer:
  default_strategy: aggressive
  auto_checkpoint: true
  summarize_timeout: 5s
storage:
  driver: sqlite
  path: ~/ctxbudget/checkpoints.db
retention:
  enabled: true
  max_age: 48h
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Budget.Total != 100000 {
		t.Errorf("Budget.Total = %d, want 100000", config.Budget.Total)
	}
	if config.Budget.System != 0 {
		t.Errorf("Budget.System = %d, want 0", config.Budget.System)
	}
	if config.Optimizer.BudgetLimit != 100000 {
		t.Errorf("Optimizer.BudgetLimit = %d, want 100000", config.Optimizer.BudgetLimit)
	}
	if config.Optimizer.DefaultStrategy != types.StrategyAggressive {
		t.Errorf("Optimizer.DefaultStrategy = %q, want aggressive", config.Optimizer.DefaultStrategy)
	}
	if !config.Optimizer.AutoCheckpoint {
		t.Error("Optimizer.AutoCheckpoint = false, want true")
	}
	if config.Optimizer.SummarizeTimeout.Std() != 5*time.Second {
		t.Errorf("Optimizer.SummarizeTimeout = %v, want 5s", config.Optimizer.SummarizeTimeout)
	}
	if !config.Retention.Enabled || config.Retention.MaxAge.Std() != 48*time.Hour {
		t.Errorf("Retention = %+v, want enabled with 48h", config.Retention)
	}
	// Unset sections keep their defaults.
	if config.Retention.Interval.Std() != DefaultRetentionInterval {
		t.Errorf("Retention.Interval = %v, want %v", config.Retention.Interval, DefaultRetentionInterval)
	}
	if config.Compaction.SummarizerModel == "" {
		t.Error("Compaction.SummarizerModel is empty")
	}

	if strings.HasPrefix(config.Storage.Path, "~") {
		t.Errorf("Storage.Path = %q, want ~ expanded", config.Storage.Path)
	}
	if filepath.Base(config.Storage.Path) != "checkpoints.db" {
		t.Errorf("Storage.Path = %q, want .../checkpoints.db", config.Storage.Path)
	}
}

func TestLoadConfigTOML(t *testing.T) {
	path := testutil.WriteFile(t, "ctxbudget.toml", `
watch_interval = "5s"

[budget]
total = 100000
system = 10000
conversation = 60000
tool_results = 20000
reserve = 10000

[optimizer]
trigger_level = "critical"
protected_kinds = ["system", "files"]

[checkpoint]
keyframe_interval = 4
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.WatchInterval.Std() != 5*time.Second {
		t.Errorf("WatchInterval = %v, want 5s", config.WatchInterval)
	}
	if config.Budget.ToolResults != 20000 {
		t.Errorf("Budget.ToolResults = %d, want 20000", config.Budget.ToolResults)
	}
	if config.Optimizer.TriggerLevel != types.WarningCritical {
		t.Errorf("Optimizer.TriggerLevel = %q, want critical", config.Optimizer.TriggerLevel)
	}
	want := []types.SectionKind{types.SectionSystem, types.SectionFiles}
	if len(config.Optimizer.ProtectedKinds) != len(want) {
		t.Fatalf("Optimizer.ProtectedKinds = %v, want %v", config.Optimizer.ProtectedKinds, want)
	}
	for i := range want {
		if config.Optimizer.ProtectedKinds[i] != want[i] {
			t.Errorf("Optimizer.ProtectedKinds[%d] = %q, want %q", i, config.Optimizer.ProtectedKinds[i], want[i])
		}
	}
	if config.Checkpoint.KeyframeInterval != 4 {
		t.Errorf("Checkpoint.KeyframeInterval = %d, want 4", config.Checkpoint.KeyframeInterval)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		target  error
	}{
		{
			name: "caps exceed lowered total",
			file: "caps.yaml",
			content: `
budget:
  total: 100000
  conversation: 80000
  tool_results: 5000
  reserve: 15000
`,
			target: budget.ErrInvalidConfig,
		},
		{
			name:    "unknown storage driver",
			file:    "driver.yaml",
			content: "storage:\n  driver: redis\n",
			target:  ErrUnknownStorageDriver,
		},
		{
			name:    "sqlite without path",
			file:    "sqlite.yaml",
			content: "storage:\n  driver: sqlite\n",
			target:  ErrInvalidConfig,
		},
		{
			name:    "bad duration",
			file:    "duration.toml",
			content: `watch_interval = "soon"`,
			target:  ErrInvalidConfig,
		},
		{
			name:    "unsupported extension",
			file:    "ctxbudget.json",
			content: "{}",
			target:  ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(testutil.WriteFile(t, tt.file, tt.content))
			if !errors.Is(err, tt.target) {
				t.Errorf("LoadConfig() error = %v, want %v", err, tt.target)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("LoadConfig() error = %v, want it to wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(testutil.TempPath(t, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig() error = %v, want os.ErrNotExist", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~/data/cp.db", filepath.Join(home, "data/cp.db")},
		{"/var/lib/cp.db", "/var/lib/cp.db"},
		{"relative.db", "relative.db"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandPath(tt.input); got != tt.expected {
			t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
