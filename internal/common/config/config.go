// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	PII           PIIConfig               `mapstructure:"pii"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name            string `mapstructure:"name"`
	Version         string `mapstructure:"version"`
	Environment     string `mapstructure:"environment"`
	BaseURL         string `mapstructure:"base_url"`
	TrackingBaseURL string `mapstructure:"tracking_base_url"`
}

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	DeliveryLog string   `mapstructure:"delivery_log_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the scheduling settings of one periodic worker.
type WorkerConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	IntervalSeconds   int  `mapstructure:"interval_seconds"`
	BatchSize         int  `mapstructure:"batch_size"`
	RespectQuietHours bool `mapstructure:"respect_quiet_hours"`
	Timeout           int  `mapstructure:"timeout"` // milliseconds, per transport call
}

// IntegrationConfig holds settings for the channel transports.
type IntegrationConfig struct {
	EmailProvider string `mapstructure:"email_provider"` // ses | smtp
	PushProvider  string `mapstructure:"push_provider"`  // sns | http

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
			FromName  string `mapstructure:"from_name"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
			SMSType            string `mapstructure:"sms_type"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	SMTP struct {
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		UseTLS      bool   `mapstructure:"use_tls"`
		DefaultFrom string `mapstructure:"default_from"`
	} `mapstructure:"smtp"`

	PushGateway struct {
		URL    string `mapstructure:"url"`
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"push_gateway"`
}

// RateLimitConfig caps notifications per recipient for one trigger.
type RateLimitConfig struct {
	Max    int    `mapstructure:"max"`
	Period string `mapstructure:"period"` // hourly | daily | weekly
}

// NotificationConfig holds queue, retry and tracking policy.
type NotificationConfig struct {
	MaxAttempts             int                        `mapstructure:"max_attempts"`
	BackoffMinutes          []int                      `mapstructure:"backoff_minutes"`
	StaleClaimMinutes       int                        `mapstructure:"stale_claim_minutes"`
	QueueRetentionDays      int                        `mapstructure:"queue_retention_days"`
	LogRetentionDays        int                        `mapstructure:"log_retention_days"`
	AllowedRedirectHosts    []string                   `mapstructure:"allowed_redirect_hosts"`
	RateLimits              map[string]RateLimitConfig `mapstructure:"rate_limits"`
	EventsChannelPrefix     string                     `mapstructure:"events_channel_prefix"`
	TemplateCacheTTLSeconds int                        `mapstructure:"template_cache_ttl_seconds"`
}

// PIIConfig holds the keys used to decrypt stored contact fields.
type PIIConfig struct {
	Keys []string `mapstructure:"keys"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
