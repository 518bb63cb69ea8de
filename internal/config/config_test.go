package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearContextEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("CI", "")
	t.Setenv("CS_NON_INTERACTIVE", "")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearContextEnv(t)
	t.Setenv("CS_SPREADSHEET_ID", "sheet-123")
	t.Setenv("CS_PROPERTY_ID", "464149233")
	t.Setenv("CS_TOKEN_SLOT", "REDIS")
	t.Setenv("CS_REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("CS_REFRESH_RETRIES", "2")
	t.Setenv("CS_DISCOVER_MIN_INTERVAL", "2s")
	t.Setenv("CS_TELEGRAM_CHAT_ID", "-1001")
	t.Setenv("CS_SCOPES", "a b")
	t.Setenv("CS_JOB_KEYS", "viral / paid_youtube, other ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sheets.SpreadsheetID != "sheet-123" {
		t.Fatalf("expected spreadsheet id override")
	}
	if cfg.Analytics.PropertyID != "464149233" {
		t.Fatalf("expected property id override")
	}
	if cfg.Auth.Slot != SlotRedis {
		t.Fatalf("expected redis slot, got %q", cfg.Auth.Slot)
	}
	if cfg.Auth.RefreshRetries != 2 {
		t.Fatalf("expected refresh retries override")
	}
	if cfg.Discover.MinInterval != 2*time.Second {
		t.Fatalf("expected min interval override")
	}
	if cfg.Notify.TelegramChatID != -1001 {
		t.Fatalf("expected telegram chat id override")
	}
	if len(cfg.Auth.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %v", cfg.Auth.Scopes)
	}
	if len(cfg.Jobs) != 1 || len(cfg.Jobs[0].Keys) != 2 || cfg.Jobs[0].Keys[0] != "viral / paid_youtube" {
		t.Fatalf("expected default job keys override, got %+v", cfg.Jobs)
	}
	if !cfg.Interactive() {
		t.Fatalf("expected interactive context by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestMissingSettingsAreAllReported(t *testing.T) {
	clearContextEnv(t)
	t.Setenv("CS_SPREADSHEET_ID", "")
	t.Setenv("CS_PROPERTY_ID", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load should leave required settings to Validate: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected missing settings error")
	}
	for _, want := range []string{"analytics.property_id", "sheets.spreadsheet_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestCIForcesNonInteractive(t *testing.T) {
	clearContextEnv(t)
	t.Setenv("CS_SPREADSHEET_ID", "sheet-123")
	t.Setenv("GITHUB_ACTIONS", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interactive() {
		t.Fatalf("expected non-interactive context under GITHUB_ACTIONS")
	}
}

func TestLoadYAMLJobs(t *testing.T) {
	clearContextEnv(t)
	t.Setenv("CS_SPREADSHEET_ID", "")
	path := filepath.Join(t.TempDir(), "clicksync.yaml")
	data := `
sheets:
  spreadsheet_id: from-file
analytics:
  property_id: "1"
jobs:
  - name: search-terms
    key_column: B
    dimension: sessionSource
    overrides:
      sba: 22
      closet: 11
  - name: campaigns
    key_column: B
    filter_column: E
    dimension: sessionCampaignName
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sheets.SpreadsheetID != "from-file" {
		t.Fatalf("expected spreadsheet id from file")
	}
	job, ok := cfg.Job("campaigns")
	if !ok || job.FilterColumn != "E" {
		t.Fatalf("expected campaigns job with filter column, got %+v", job)
	}
	first, _ := cfg.Job("")
	if first.Overrides["sba"] != 22 {
		t.Fatalf("expected overrides on first job, got %v", first.Overrides)
	}
	if cfg.Analytics.EventName != "click" {
		t.Fatalf("expected default event name to survive file load")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Analytics.StartDate = "02/01/2025"
	cfg.Auth.Slot = "vault"
	cfg.Jobs = []Job{{Name: "a", KeyColumn: "B", Dimension: "sessionSource"}, {Name: "a"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"property_id", "spreadsheet_id", "start_date", "duplicated", "jobs[1].key_column", "jobs[1].dimension", "auth.slot"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
