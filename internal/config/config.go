// Package config loads the application configuration.
//
// Values come, in increasing precedence, from built-in defaults, an optional
// config file (TOML or YAML) and environment variables prefixed with
// CATALOGSYNC_, where nested keys use underscores (CATALOGSYNC_SYNC_PAGE_SIZE).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/catalog"
	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/logger"
	"github.com/custodia-labs/catalog-sync/internal/telemetry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CATALOGSYNC"

// Config is the resolved application configuration.
type Config struct {
	// DataDir holds the SQLite database.
	DataDir string

	// ProfilesFile is the TOML file defining scopes.
	ProfilesFile string

	Catalog   catalog.Config
	Sync      domain.SyncSettings
	Scheduler domain.SchedulerConfig
	Log       logger.Options
	Metrics   telemetry.Config

	// Rates are exchange rates per unit of a base currency, keyed by currency code.
	Rates map[string]float64

	// WebhookURL receives failure notifications when set.
	WebhookURL string

	// PollInterval is how often an idle queue worker polls.
	PollInterval time.Duration

	// VisibilityTimeout is how long a claimed queue task stays hidden.
	VisibilityTimeout time.Duration
}

// New returns a viper instance carrying the defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".catalogsync")

	v.SetDefault("data_dir", filepath.Join(root, "data"))
	v.SetDefault("profiles_file", filepath.Join(root, "profiles.toml"))

	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.token_url", "")
	v.SetDefault("catalog.client_id", "")
	v.SetDefault("catalog.client_secret", "")
	v.SetDefault("catalog.scopes", []string{})
	v.SetDefault("catalog.rate_limit", catalog.DefaultRate)
	v.SetDefault("catalog.burst", catalog.DefaultBurst)
	v.SetDefault("catalog.timeout", catalog.DefaultTimeout)
	v.SetDefault("catalog.max_tries", catalog.MaxTries)

	d := domain.DefaultSyncSettings()
	v.SetDefault("sync.page_size", d.PageSize)
	v.SetDefault("sync.batch_size", d.BatchSize)
	v.SetDefault("sync.min_batch_size", d.MinBatchSize)
	v.SetDefault("sync.max_failures", d.MaxFailures)
	v.SetDefault("sync.max_pages", d.MaxPages)
	v.SetDefault("sync.start_delay", d.StartDelay)
	v.SetDefault("sync.sub_batch_delay", d.SubBatchDelay)
	v.SetDefault("sync.page_delay", d.PageDelay)
	v.SetDefault("sync.retry_delay", d.RetryDelay)
	v.SetDefault("sync.stock_delay", d.StockDelay)
	v.SetDefault("sync.lease_timeout", d.LeaseTimeout)
	v.SetDefault("sync.paused_lease_timeout", d.PausedLeaseTimeout)

	s := domain.DefaultSchedulerConfig()
	v.SetDefault("scheduler.enabled", s.Enabled)
	v.SetDefault("scheduler.check_interval", s.CheckInterval)
	v.SetDefault("scheduler.history_keep", s.HistoryKeep)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.endpoint", telemetry.DefaultEndpoint)
	v.SetDefault("metrics.insecure", false)
	v.SetDefault("metrics.interval", telemetry.DefaultMetricsInterval)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.visibility_timeout", 10*time.Minute)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. An empty path looks for config.toml or
// config.yaml in ~/.catalogsync; a missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".catalogsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:      v.GetString("data_dir"),
		ProfilesFile: v.GetString("profiles_file"),
		Catalog: catalog.Config{
			BaseURL:      v.GetString("catalog.base_url"),
			TokenURL:     v.GetString("catalog.token_url"),
			ClientID:     v.GetString("catalog.client_id"),
			ClientSecret: v.GetString("catalog.client_secret"),
			Scopes:       v.GetStringSlice("catalog.scopes"),
			RateLimit:    v.GetFloat64("catalog.rate_limit"),
			Burst:        v.GetInt("catalog.burst"),
			Timeout:      v.GetDuration("catalog.timeout"),
			MaxTries:     v.GetUint("catalog.max_tries"),
		},
		Sync: domain.SyncSettings{
			PageSize:           v.GetInt("sync.page_size"),
			BatchSize:          v.GetInt("sync.batch_size"),
			MinBatchSize:       v.GetInt("sync.min_batch_size"),
			MaxFailures:        v.GetInt("sync.max_failures"),
			MaxPages:           v.GetInt("sync.max_pages"),
			StartDelay:         v.GetDuration("sync.start_delay"),
			SubBatchDelay:      v.GetDuration("sync.sub_batch_delay"),
			PageDelay:          v.GetDuration("sync.page_delay"),
			RetryDelay:         v.GetDuration("sync.retry_delay"),
			StockDelay:         v.GetDuration("sync.stock_delay"),
			LeaseTimeout:       v.GetDuration("sync.lease_timeout"),
			PausedLeaseTimeout: v.GetDuration("sync.paused_lease_timeout"),
		},
		Scheduler: domain.SchedulerConfig{
			Enabled:       v.GetBool("scheduler.enabled"),
			CheckInterval: v.GetDuration("scheduler.check_interval"),
			HistoryKeep:   v.GetInt("scheduler.history_keep"),
		},
		Log: logger.Options{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Metrics: telemetry.Config{
			Enabled:  v.GetBool("metrics.enabled"),
			Endpoint: v.GetString("metrics.endpoint"),
			Insecure: v.GetBool("metrics.insecure"),
			Interval: v.GetDuration("metrics.interval"),
		},
		WebhookURL:        v.GetString("notify.webhook_url"),
		PollInterval:      v.GetDuration("worker.poll_interval"),
		VisibilityTimeout: v.GetDuration("worker.visibility_timeout"),
	}

	rates := v.GetStringMap("currency.rates")
	if len(rates) > 0 {
		cfg.Rates = make(map[string]float64, len(rates))
		for code := range rates {
			cfg.Rates[strings.ToUpper(code)] = v.GetFloat64("currency.rates." + code)
		}
	}

	if err := cfg.Sync.Validate(); err != nil {
		return nil, fmt.Errorf("sync settings: %w", err)
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("log settings: %w", err)
	}
	return cfg, nil
}
