package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DateLayout = "2006-01-02"

// Slot kinds for the persisted OAuth credential.
const (
	SlotFile     = "file"
	SlotPostgres = "postgres"
	SlotRedis    = "redis"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Auth struct {
		ClientSecretPath string   `yaml:"client_secret_path"`
		Scopes           []string `yaml:"scopes"`
		Slot             string   `yaml:"slot"`
		TokenPath        string   `yaml:"token_path"`
		SlotKey          string   `yaml:"slot_key"`
		SealKey          string   `yaml:"seal_key"`
		NonInteractive   bool     `yaml:"non_interactive"`
		RefreshRetries   int      `yaml:"refresh_retries"`
		CallbackAddr     string   `yaml:"callback_addr"`
	} `yaml:"auth"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Analytics struct {
		PropertyID string `yaml:"property_id"`
		StartDate  string `yaml:"start_date"`
		EventName  string `yaml:"event_name"`
		RowLimit   int64  `yaml:"row_limit"`
		Timezone   string `yaml:"timezone"`
	} `yaml:"analytics"`
	Sheets struct {
		SpreadsheetID string `yaml:"spreadsheet_id"`
		Breaker       struct {
			Enabled     bool          `yaml:"enabled"`
			MaxFailures uint32        `yaml:"max_failures"`
			OpenTimeout time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"sheets"`
	Jobs     []Job `yaml:"jobs"`
	Discover struct {
		Sheet       string        `yaml:"sheet"`
		KeyColumn   string        `yaml:"key_column"`
		MinInterval time.Duration `yaml:"min_interval"`
		Wiki        struct {
			URL            string `yaml:"url"`
			PageID         string `yaml:"page_id"`
			Username       string `yaml:"username"`
			Password       string `yaml:"password"`
			CampaignMarker string `yaml:"campaign_marker"`
			SourceParam    string `yaml:"source_param"`
		} `yaml:"wiki"`
	} `yaml:"discover"`
	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
	} `yaml:"metrics"`
	Notify struct {
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID int64  `yaml:"telegram_chat_id"`
	} `yaml:"notify"`
	Schedule struct {
		Cron string `yaml:"cron"`
	} `yaml:"schedule"`
}

// Job is one reconciliation profile: which keys to read, which analytics
// dimension they filter on and which corrections apply to them.
type Job struct {
	Name string `yaml:"name"`
	// Sheet is the tab name; empty addresses the first tab.
	Sheet     string `yaml:"sheet"`
	KeyColumn string `yaml:"key_column"`
	// FilterColumn, when set, keeps only rows whose cell in this column is non-blank.
	FilterColumn string `yaml:"filter_column"`
	Dimension    string `yaml:"dimension"`
	// Keys replaces the catalog-derived key list when non-empty.
	Keys      []string         `yaml:"keys"`
	Overrides map[string]int64 `yaml:"overrides"`
}

func DefaultJob() Job {
	return Job{
		Name:      "search-terms",
		KeyColumn: "B",
		Dimension: "sessionSource",
	}
}

func Default() Config {
	var cfg Config
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Auth.ClientSecretPath = "./client_secret.json"
	cfg.Auth.Scopes = []string{
		"https://www.googleapis.com/auth/analytics.readonly",
		"https://www.googleapis.com/auth/spreadsheets",
	}
	cfg.Auth.Slot = SlotFile
	cfg.Auth.TokenPath = "./ga_token.json"
	cfg.Auth.SlotKey = "clicksync:ga_token"
	cfg.Auth.CallbackAddr = "127.0.0.1:0"
	cfg.Analytics.StartDate = "2025-02-01"
	cfg.Analytics.EventName = "click"
	cfg.Analytics.RowLimit = 1000
	cfg.Analytics.Timezone = "Local"
	cfg.Sheets.Breaker.MaxFailures = 5
	cfg.Sheets.Breaker.OpenTimeout = time.Minute
	cfg.Discover.KeyColumn = "B"
	cfg.Discover.MinInterval = 500 * time.Millisecond
	cfg.Discover.Wiki.CampaignMarker = "utm_campaign=pr"
	cfg.Discover.Wiki.SourceParam = "utm_source"
	cfg.Schedule.Cron = "0 0 9 * * *"
	return cfg
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	if len(cfg.Jobs) == 0 {
		cfg.Jobs = []Job{DefaultJob()}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Validate checks the settings needed by the sync jobs. Every missing setting is
// reported, not just the first.
func (c Config) Validate() error {
	var problems []string
	if c.Analytics.PropertyID == "" {
		problems = append(problems, "analytics.property_id (CS_PROPERTY_ID)")
	}
	if c.Sheets.SpreadsheetID == "" {
		problems = append(problems, "sheets.spreadsheet_id (CS_SPREADSHEET_ID)")
	}
	if _, err := time.Parse(DateLayout, c.Analytics.StartDate); err != nil {
		problems = append(problems, fmt.Sprintf("analytics.start_date must be YYYY-MM-DD, got %q", c.Analytics.StartDate))
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("analytics.timezone %q: %v", c.Analytics.Timezone, err))
	}
	seen := make(map[string]bool)
	for i, job := range c.Jobs {
		switch {
		case job.Name == "":
			problems = append(problems, fmt.Sprintf("jobs[%d].name", i))
		case seen[job.Name]:
			problems = append(problems, fmt.Sprintf("jobs[%d].name %q is duplicated", i, job.Name))
		}
		seen[job.Name] = true
		if job.KeyColumn == "" {
			problems = append(problems, fmt.Sprintf("jobs[%d].key_column", i))
		}
		if job.Dimension == "" {
			problems = append(problems, fmt.Sprintf("jobs[%d].dimension", i))
		}
	}
	switch c.Auth.Slot {
	case SlotFile, SlotPostgres, SlotRedis:
	default:
		problems = append(problems, fmt.Sprintf("auth.slot %q must be file, postgres or redis", c.Auth.Slot))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Job returns the named job, or the first job when name is empty.
func (c Config) Job(name string) (Job, bool) {
	if name == "" && len(c.Jobs) > 0 {
		return c.Jobs[0], true
	}
	for _, job := range c.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

func (c Config) Location() (*time.Location, error) {
	if c.Analytics.Timezone == "" || c.Analytics.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Analytics.Timezone)
}

// Interactive reports whether a human can complete a browser authorization.
func (c Config) Interactive() bool {
	return !c.Auth.NonInteractive
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("CS_CLIENT_SECRET_PATH"); v != "" {
		cfg.Auth.ClientSecretPath = v
	}
	if v := os.Getenv("CS_SCOPES"); v != "" {
		cfg.Auth.Scopes = strings.Fields(v)
	}
	if v := os.Getenv("CS_TOKEN_SLOT"); v != "" {
		cfg.Auth.Slot = strings.ToLower(v)
	}
	if v := os.Getenv("CS_TOKEN_PATH"); v != "" {
		cfg.Auth.TokenPath = v
	}
	if v := os.Getenv("CS_TOKEN_SLOT_KEY"); v != "" {
		cfg.Auth.SlotKey = v
	}
	if v := os.Getenv("CS_TOKEN_SEAL_KEY"); v != "" {
		cfg.Auth.SealKey = v
	}
	if v := os.Getenv("CS_NON_INTERACTIVE"); v != "" {
		cfg.Auth.NonInteractive = parseBool(v, cfg.Auth.NonInteractive)
	}
	// Hosted CI runners can never complete a browser flow.
	if parseBool(os.Getenv("GITHUB_ACTIONS"), false) || parseBool(os.Getenv("CI"), false) {
		cfg.Auth.NonInteractive = true
	}
	if v := os.Getenv("CS_REFRESH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Auth.RefreshRetries = n
		}
	}
	if v := os.Getenv("CS_CALLBACK_ADDR"); v != "" {
		cfg.Auth.CallbackAddr = v
	}
	if v := os.Getenv("CS_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CS_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CS_PROPERTY_ID"); v != "" {
		cfg.Analytics.PropertyID = v
	}
	if v := os.Getenv("CS_START_DATE"); v != "" {
		cfg.Analytics.StartDate = v
	}
	if v := os.Getenv("CS_EVENT_NAME"); v != "" {
		cfg.Analytics.EventName = v
	}
	if v := os.Getenv("CS_TIMEZONE"); v != "" {
		cfg.Analytics.Timezone = v
	}
	if v := os.Getenv("CS_SPREADSHEET_ID"); v != "" {
		cfg.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv("CS_SHEETS_BREAKER"); v != "" {
		cfg.Sheets.Breaker.Enabled = parseBool(v, cfg.Sheets.Breaker.Enabled)
	}
	if v := os.Getenv("CS_DISCOVER_SHEET"); v != "" {
		cfg.Discover.Sheet = v
	}
	if v := os.Getenv("CS_DISCOVER_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Discover.MinInterval = d
		}
	}
	if v := os.Getenv("CS_WIKI_URL"); v != "" {
		cfg.Discover.Wiki.URL = v
	}
	if v := os.Getenv("CS_WIKI_PAGE_ID"); v != "" {
		cfg.Discover.Wiki.PageID = v
	}
	if v := os.Getenv("CS_WIKI_USERNAME"); v != "" {
		cfg.Discover.Wiki.Username = v
	}
	if v := os.Getenv("CS_WIKI_PASSWORD"); v != "" {
		cfg.Discover.Wiki.Password = v
	}
	if v := os.Getenv("CS_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("CS_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("CS_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.TelegramChatID = id
		}
	}
	if v := os.Getenv("CS_SCHEDULE"); v != "" {
		cfg.Schedule.Cron = v
	}
	if v := os.Getenv("CS_JOB_KEYS"); v != "" && len(cfg.Jobs) == 1 {
		cfg.Jobs[0].Keys = splitCSV(v)
	}
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}
