// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Periodic worker names as they appear under `workers:` in the config file.
const (
	WorkerEmailDelivery = "email-delivery"
	WorkerSMSDelivery   = "sms-delivery"
	WorkerPushDelivery  = "push-delivery"
	WorkerReaper        = "reaper"
	WorkerJanitor       = "janitor"
)

// defaultWorkers is applied for every worker missing from the config file.
var defaultWorkers = map[string]WorkerConfig{
	WorkerEmailDelivery: {Enabled: true, IntervalSeconds: 60, BatchSize: 100, RespectQuietHours: true, Timeout: 10000},
	WorkerSMSDelivery:   {Enabled: true, IntervalSeconds: 60, BatchSize: 100, RespectQuietHours: true, Timeout: 10000},
	WorkerPushDelivery:  {Enabled: true, IntervalSeconds: 30, BatchSize: 100, RespectQuietHours: true, Timeout: 10000},
	WorkerReaper:        {Enabled: true, IntervalSeconds: 60},
	WorkerJanitor:       {Enabled: true, IntervalSeconds: 3600},
}

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// environment overlay, optional
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads the first .env found between the working directory and the project root.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// Direct override if secrets are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Integrations.SMTP.Password == "" {
		if val := os.Getenv("SMTP_PASSWORD"); val != "" {
			cfg.Integrations.SMTP.Password = val
		}
	}
	if cfg.Integrations.PushGateway.APIKey == "" {
		if val := os.Getenv("PUSH_GATEWAY_API_KEY"); val != "" {
			cfg.Integrations.PushGateway.APIKey = val
		}
	}
	if len(cfg.PII.Keys) == 0 {
		if val := os.Getenv("PII_ENCRYPTION_KEY"); val != "" {
			cfg.PII.Keys = []string{val}
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "notifier"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15000
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.DeliveryLog == "" {
		cfg.Database.Elasticsearch.DeliveryLog = "notification-delivery-logs"
	}

	if cfg.Integrations.EmailProvider == "" {
		cfg.Integrations.EmailProvider = "ses"
	}
	if cfg.Integrations.PushProvider == "" {
		cfg.Integrations.PushProvider = "sns"
	}
	if cfg.Integrations.SMTP.Port == 0 {
		cfg.Integrations.SMTP.Port = 587
	}

	n := &cfg.Notifications
	if n.MaxAttempts == 0 {
		n.MaxAttempts = 3
	}
	if len(n.BackoffMinutes) == 0 {
		n.BackoffMinutes = []int{5, 15, 30}
	}
	if n.StaleClaimMinutes == 0 {
		n.StaleClaimMinutes = 10
	}
	if n.QueueRetentionDays == 0 {
		n.QueueRetentionDays = 30
	}
	if n.LogRetentionDays == 0 {
		n.LogRetentionDays = 90
	}
	if n.EventsChannelPrefix == "" {
		n.EventsChannelPrefix = "events:"
	}
	if n.TemplateCacheTTLSeconds == 0 {
		n.TemplateCacheTTLSeconds = 300
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Workers == nil {
		cfg.Workers = make(map[string]WorkerConfig, len(defaultWorkers))
	}
	for name, def := range defaultWorkers {
		worker, exists := cfg.Workers[name]
		if !exists {
			cfg.Workers[name] = def
			continue
		}
		if worker.IntervalSeconds == 0 {
			worker.IntervalSeconds = def.IntervalSeconds
		}
		if worker.BatchSize == 0 {
			worker.BatchSize = def.BatchSize
		}
		if worker.Timeout == 0 {
			worker.Timeout = def.Timeout
		}
		cfg.Workers[name] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when elasticsearch is enabled")
	}

	switch cfg.Integrations.EmailProvider {
	case "ses", "smtp":
	default:
		return fmt.Errorf("integrations.email_provider must be ses or smtp, got %q", cfg.Integrations.EmailProvider)
	}
	switch cfg.Integrations.PushProvider {
	case "sns", "http":
	default:
		return fmt.Errorf("integrations.push_provider must be sns or http, got %q", cfg.Integrations.PushProvider)
	}

	if cfg.Notifications.MaxAttempts < 1 {
		return fmt.Errorf("notifications.max_attempts must be at least 1")
	}
	for _, m := range cfg.Notifications.BackoffMinutes {
		if m <= 0 {
			return fmt.Errorf("notifications.backoff_minutes must be positive")
		}
	}
	for trigger, rl := range cfg.Notifications.RateLimits {
		if rl.Max <= 0 {
			return fmt.Errorf("notifications.rate_limits.%s.max must be positive", trigger)
		}
		if _, err := PeriodDuration(rl.Period); err != nil {
			return fmt.Errorf("notifications.rate_limits.%s: %w", trigger, err)
		}
	}

	for name, w := range cfg.Workers {
		if w.Enabled && w.IntervalSeconds <= 0 {
			return fmt.Errorf("workers.%s.interval_seconds must be positive", name)
		}
	}

	return nil
}

// PeriodDuration converts a rate limit period name to its window length.
func PeriodDuration(period string) (time.Duration, error) {
	switch period {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown period %q (want hourly, daily or weekly)", period)
	}
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// Interval returns the worker tick interval.
func (w WorkerConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	if def, exists := defaultWorkers[workerName]; exists {
		return def
	}
	return WorkerConfig{Enabled: false}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	return GetWorkerConfig(cfg, workerName).Enabled
}
