// Package config loads the ingest configuration from TOML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FLOWCELL_INGEST_WEB_TOKEN
const EnvPrefix = "FLOWCELL_INGEST"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Web           WebConfig           `toml:"web"`
	Ingest        IngestConfig        `toml:"ingest"`
	Adapters      AdaptersConfig      `toml:"adapters"`
	Notifications NotificationsConfig `toml:"notifications"`
	Daemon        DaemonConfig        `toml:"daemon"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	Threads      int    `toml:"threads"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	LogToken     bool   `toml:"log_token"`
	DatabasePath string `toml:"database_path"`
}

// WebConfig holds the registry endpoint
type WebConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// IngestConfig controls which folders are ingested and what may be written
type IngestConfig struct {
	ProjectUUID       string   `toml:"project_uuid"`
	Path              []string `toml:"path"`
	Operator          string   `toml:"operator"`
	Register          bool     `toml:"register"`
	Update            bool     `toml:"update"`
	AnalyzeAdapters   bool     `toml:"analyze_adapters"`
	PostAdapters      bool     `toml:"post_adapters"`
	SkipIfStatusFinal bool     `toml:"skip_if_status_final"`
}

// AdaptersConfig tunes index sampling
type AdaptersConfig struct {
	SampleReadsPerTile int     `toml:"sample_reads_per_tile"`
	MinIndexFraction   float64 `toml:"min_index_fraction"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// DaemonConfig holds daemon mode settings
type DaemonConfig struct {
	Schedule string `toml:"schedule"`
	Watch    bool   `toml:"watch"`
	Debounce string `toml:"debounce"`
}

// DebounceDuration parses Debounce
func (d DaemonConfig) DebounceDuration() (time.Duration, error) {
	return time.ParseDuration(d.Debounce)
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			Threads:      1,
			LogLevel:     "info",
			LogFormat:    "text",
			DatabasePath: filepath.Join(home, ".local", "share", "flowcell-ingest", "ledger.db"),
		},
		Ingest: IngestConfig{
			Register: true,
			Update:   true,
		},
		Adapters: AdaptersConfig{
			SampleReadsPerTile: 5000,
			MinIndexFraction:   0.001,
		},
		Daemon: DaemonConfig{
			Schedule: "*/30 * * * *",
			Watch:    true,
			Debounce: "10s",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults,
// then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	for i, p := range cfg.Ingest.Path {
		cfg.Ingest.Path[i] = ExpandPath(p)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with FLOWCELL_INGEST_<SECTION>_<KEY> variables.
// FLOWCELL_INGEST_INGEST_PATH is a list separated like PATH.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	strs := map[string]*string{
		"general.log_level":           &cfg.General.LogLevel,
		"general.log_format":          &cfg.General.LogFormat,
		"general.database_path":       &cfg.General.DatabasePath,
		"web.url":                     &cfg.Web.URL,
		"web.token":                   &cfg.Web.Token,
		"ingest.project_uuid":         &cfg.Ingest.ProjectUUID,
		"ingest.operator":             &cfg.Ingest.Operator,
		"notifications.slack_webhook": &cfg.Notifications.SlackWebhook,
		"daemon.schedule":             &cfg.Daemon.Schedule,
		"daemon.debounce":             &cfg.Daemon.Debounce,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	bools := map[string]*bool{
		"general.log_token":           &cfg.General.LogToken,
		"ingest.register":             &cfg.Ingest.Register,
		"ingest.update":               &cfg.Ingest.Update,
		"ingest.analyze_adapters":     &cfg.Ingest.AnalyzeAdapters,
		"ingest.post_adapters":        &cfg.Ingest.PostAdapters,
		"ingest.skip_if_status_final": &cfg.Ingest.SkipIfStatusFinal,
		"daemon.watch":                &cfg.Daemon.Watch,
	}
	for key, dst := range bools {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	ints := map[string]*int{
		"general.threads":                &cfg.General.Threads,
		"adapters.sample_reads_per_tile": &cfg.Adapters.SampleReadsPerTile,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	if v.IsSet("adapters.min_index_fraction") {
		cfg.Adapters.MinIndexFraction = v.GetFloat64("adapters.min_index_fraction")
	}
	if v.IsSet("ingest.path") {
		cfg.Ingest.Path = filepath.SplitList(v.GetString("ingest.path"))
	}
}

// Validate checks that cfg can drive an ingestion. dryRun relaxes the registry requirements.
func (c *Config) Validate(dryRun bool) error {
	var errs []error
	if _, err := uuid.Parse(c.Ingest.ProjectUUID); err != nil {
		errs = append(errs, fmt.Errorf("ingest.project_uuid %q is not a UUID", c.Ingest.ProjectUUID))
	}
	if c.Web.URL == "" && !dryRun {
		errs = append(errs, errors.New("web.url is required"))
	}
	if c.General.Threads < 1 {
		errs = append(errs, fmt.Errorf("general.threads must be at least 1, got %d", c.General.Threads))
	}
	if c.Adapters.SampleReadsPerTile < 1 {
		errs = append(errs, fmt.Errorf("adapters.sample_reads_per_tile must be at least 1, got %d", c.Adapters.SampleReadsPerTile))
	}
	if c.Adapters.MinIndexFraction < 0 || c.Adapters.MinIndexFraction > 1 {
		errs = append(errs, fmt.Errorf("adapters.min_index_fraction must be within [0, 1], got %v", c.Adapters.MinIndexFraction))
	}
	if c.Ingest.PostAdapters && !c.Ingest.AnalyzeAdapters {
		errs = append(errs, errors.New("ingest.post_adapters requires ingest.analyze_adapters"))
	}
	return errors.Join(errs...)
}

// ValidateDaemon checks the daemon section
func (c *Config) ValidateDaemon() error {
	if _, err := cron.ParseStandard(c.Daemon.Schedule); err != nil {
		return fmt.Errorf("daemon.schedule %q: %w", c.Daemon.Schedule, err)
	}
	if d, err := c.Daemon.DebounceDuration(); err != nil || d <= 0 {
		return fmt.Errorf("daemon.debounce %q is not a positive duration", c.Daemon.Debounce)
	}
	return nil
}

// RedactedToken returns the registry token for logging, masked unless log_token is set
func (c *Config) RedactedToken() string {
	if c.General.LogToken || c.Web.Token == "" {
		return c.Web.Token
	}
	return "***"
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "flowcell-ingest", "config.toml")
}
