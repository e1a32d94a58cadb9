package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
app:
  name: notifier
  base_url: https://app.example.com
database:
  postgres:
    host: localhost
    port: 5432
    database: notifications
    user: notifier
    password: ${TEST_NOTIFIER_DB_PASSWORD}
  redis:
    address: localhost:6379
workers:
  sms-delivery:
    enabled: true
    interval_seconds: 15
notifications:
  rate_limits:
    profile_view:
      max: 5
      period: daily
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_DefaultsAndExpansion(t *testing.T) {
	t.Setenv("TEST_NOTIFIER_DB_PASSWORD", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Notifications.MaxAttempts)
	assert.Equal(t, []int{5, 15, 30}, cfg.Notifications.BackoffMinutes)
	assert.Equal(t, 10, cfg.Notifications.StaleClaimMinutes)
	assert.Equal(t, 30, cfg.Notifications.QueueRetentionDays)
	assert.Equal(t, 90, cfg.Notifications.LogRetentionDays)
	assert.Equal(t, "events:", cfg.Notifications.EventsChannelPrefix)
	assert.Equal(t, "ses", cfg.Integrations.EmailProvider)
	assert.Equal(t, "sns", cfg.Integrations.PushProvider)

	sms := GetWorkerConfig(cfg, WorkerSMSDelivery)
	assert.True(t, sms.Enabled)
	assert.Equal(t, 15*time.Second, sms.Interval())
	assert.Equal(t, 100, sms.BatchSize)
	assert.Equal(t, 10000, sms.Timeout)

	email := GetWorkerConfig(cfg, WorkerEmailDelivery)
	assert.True(t, email.Enabled)
	assert.Equal(t, 60*time.Second, email.Interval())
	assert.True(t, email.RespectQuietHours)

	assert.Equal(t, RateLimitConfig{Max: 5, Period: "daily"}, cfg.Notifications.RateLimits["profile_view"])
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing postgres host",
			body:    "database:\n  redis:\n    address: localhost:6379\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "bad email provider",
			body:    minimalYAML + "integrations:\n  email_provider: pigeon\n",
			wantErr: "integrations.email_provider",
		},
		{
			name: "bad rate limit period",
			body: `
database:
  postgres: {host: h, database: d, user: u}
  redis: {address: r:6379}
notifications:
  rate_limits:
    new_message: {max: 3, period: monthly}
`,
			wantErr: "unknown period",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPeriodDuration(t *testing.T) {
	d, err := PeriodDuration("hourly")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = PeriodDuration("weekly")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	_, err = PeriodDuration("yearly")
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", p.GetDSN())
}
