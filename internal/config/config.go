// Package config loads and validates downloader configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/submission-downloader/internal/downloader"
	"github.com/JakeFAU/submission-downloader/internal/filter"
	"github.com/JakeFAU/submission-downloader/internal/hash"
	"github.com/JakeFAU/submission-downloader/internal/hashstore"
	"github.com/JakeFAU/submission-downloader/internal/naming"
	"github.com/JakeFAU/submission-downloader/internal/records"
)

// EnvPrefix namespaces environment overrides, e.g. BULKDL_DOWNLOAD_DIRECTORY.
const EnvPrefix = "BULKDL"

// Hash store backend names.
const (
	BackendFlat     = "flat"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures all downloader configuration knobs loaded via Viper.
type Config struct {
	Download   DownloadConfig   `mapstructure:"download"`
	Extractors ExtractorsConfig `mapstructure:"extractors"`
	Hashes     HashesConfig     `mapstructure:"hashes"`
	Filters    filter.Config    `mapstructure:"filters"`
	Records    records.Config   `mapstructure:"records"`
	Server     ServerConfig     `mapstructure:"server"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DownloadConfig governs the run itself.
type DownloadConfig struct {
	Directory        string  `mapstructure:"directory"`
	Input            string  `mapstructure:"input"`
	Concurrency      int     `mapstructure:"concurrency"`
	QueueDepth       int     `mapstructure:"queue_depth"`
	NoDupes          bool    `mapstructure:"no_dupes"`
	HardLinks        bool    `mapstructure:"hard_links"`
	SearchExisting   bool    `mapstructure:"search_existing"`
	MaxWaitSeconds   int     `mapstructure:"max_wait_seconds"`
	BaseDelaySeconds int     `mapstructure:"base_delay_seconds"`
	FailFast         bool    `mapstructure:"fail_fast"`
	AbortOnFatal     bool    `mapstructure:"abort_on_fatal"`
	RatePerDomain    float64 `mapstructure:"rate_per_domain"`
	FileScheme       string  `mapstructure:"file_scheme"`
	FolderScheme     string  `mapstructure:"folder_scheme"`
	FSProfile        string  `mapstructure:"fs_profile"`
	SummaryFile      string  `mapstructure:"summary_file"`
}

// ExtractorsConfig toggles resolution strategies.
type ExtractorsConfig struct {
	Disabled []string `mapstructure:"disabled"`
	// Headless registers the browser-backed fallback.
	Headless bool `mapstructure:"headless"`
}

// HashesConfig selects and tunes the hash store.
type HashesConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Backend        string `mapstructure:"backend"`
	Dir            string `mapstructure:"dir"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	PostgresTable  string `mapstructure:"postgres_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
	FlushThreshold int    `mapstructure:"flush_threshold"`
	Algorithm      string `mapstructure:"algorithm"`
	Migrate        bool   `mapstructure:"migrate"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures outbound fetches.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// NewViper returns a viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates the settings held by v. Flags bound to v
// take precedence over file and environment values.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download.directory", ".")
	v.SetDefault("download.input", "-")
	v.SetDefault("download.concurrency", 1)
	v.SetDefault("download.queue_depth", 64)
	v.SetDefault("download.max_wait_seconds", 120)
	v.SetDefault("download.base_delay_seconds", 60)
	v.SetDefault("download.rate_per_domain", 2.0)
	v.SetDefault("download.file_scheme", naming.DefaultFileScheme)
	v.SetDefault("download.folder_scheme", naming.DefaultFolderScheme)
	v.SetDefault("download.fs_profile", naming.ProfilePOSIX)
	v.SetDefault("hashes.enabled", true)
	v.SetDefault("hashes.backend", BackendFlat)
	v.SetDefault("hashes.postgres_table", "resource_hashes")
	v.SetDefault("hashes.flush_threshold", hashstore.DefaultFlushThreshold)
	v.SetDefault("hashes.algorithm", string(downloader.AlgorithmMD5))
	v.SetDefault("records.sink", records.KindNone)
	v.SetDefault("server.port", 8080)
	v.SetDefault("http.user_agent", "submission-downloader/0.1")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Download.Directory == "" {
		return fmt.Errorf("download.directory must be set")
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be > 0")
	}
	if c.Download.QueueDepth < 0 {
		return fmt.Errorf("download.queue_depth must be >= 0")
	}
	if c.Download.MaxWaitSeconds <= 0 || c.Download.BaseDelaySeconds <= 0 {
		return fmt.Errorf("download.max_wait_seconds and download.base_delay_seconds must be > 0")
	}
	if c.Download.BaseDelaySeconds > c.Download.MaxWaitSeconds {
		return fmt.Errorf("download.base_delay_seconds must not exceed download.max_wait_seconds")
	}
	switch c.Download.FSProfile {
	case naming.ProfilePOSIX, naming.ProfileWindows:
	default:
		return fmt.Errorf("download.fs_profile %q is not one of posix, windows", c.Download.FSProfile)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Extractors.Headless && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the headless extractor is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if err := c.Hashes.validate(); err != nil {
		return err
	}
	return c.Records.Validate()
}

func (h HashesConfig) validate() error {
	if _, err := hash.New(downloader.Algorithm(h.Algorithm)); err != nil {
		return fmt.Errorf("hashes.algorithm: %w", err)
	}
	if !h.Enabled {
		return nil
	}
	switch h.Backend {
	case BackendFlat:
	case BackendSQLite:
	case BackendPostgres:
		if h.PostgresDSN == "" {
			return fmt.Errorf("hashes.postgres_dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("hashes.backend %q is not one of flat, sqlite, postgres", h.Backend)
	}
	return nil
}

// RetryWaits converts the retry settings into durations.
func (c Config) RetryWaits() (base, maxWait time.Duration) {
	return time.Duration(c.Download.BaseDelaySeconds) * time.Second,
		time.Duration(c.Download.MaxWaitSeconds) * time.Second
}

// HTTPTimeout is the per-request fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout is the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// HashDir is where the flat hash files live, defaulting to the download directory.
func (c Config) HashDir() string {
	if c.Hashes.Dir != "" {
		return c.Hashes.Dir
	}
	return c.Download.Directory
}

// SQLitePath defaults to hashes.db inside HashDir.
func (c Config) SQLitePath() string {
	if c.Hashes.SQLitePath != "" {
		return c.Hashes.SQLitePath
	}
	return filepath.Join(c.HashDir(), "hashes.db")
}
