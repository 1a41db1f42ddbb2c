package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
camunda:
  broker_address: localhost:26500
redis:
  address: localhost:6379
workers:
  cleanup-sessions:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:26500", cfg.Camunda.BrokerAddress)
	assert.True(t, cfg.Camunda.UsePlaintextConnection)
	assert.Equal(t, 30000, cfg.Camunda.RequestTimeout)
	assert.True(t, cfg.Scheduling.AutoSetup)
	assert.Equal(t, "default", cfg.Scheduling.DefaultTaskQueue)
	assert.Equal(t, "UTC", cfg.Scheduling.Timezone)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "json", cfg.Logging.Format)

	worker := cfg.Workers["cleanup-sessions"]
	assert.True(t, worker.Enabled)
	assert.Equal(t, 5, worker.MaxJobsActive)
	assert.Equal(t, 30000, worker.Timeout)
}

func TestLoadFromFile_ExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
camunda:
  broker_address: zeebe:26500
  use_plaintext: false
redis:
  address: redis:6379
scheduling:
  auto_setup: false
  default_task_queue: reports
  timezone: Europe/Berlin
  allow_list:
    - camunda-discovery/internal/workers/reporting.Component
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.False(t, cfg.Camunda.UsePlaintextConnection)
	assert.False(t, cfg.Scheduling.AutoSetup)
	assert.Equal(t, "reports", cfg.Scheduling.DefaultTaskQueue)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduling.Timezone)
	assert.Equal(t, []string{"camunda-discovery/internal/workers/reporting.Component"}, cfg.Scheduling.AllowList)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_REDIS_HOST", "cache.internal:6380")
	path := writeConfig(t, `
camunda:
  broker_address: localhost:26500
redis:
  address: ${TEST_REDIS_HOST}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Address)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing broker",
			body:    "redis:\n  address: localhost:6379\n",
			wantErr: "camunda.broker_address is required",
		},
		{
			name:    "missing redis",
			body:    "camunda:\n  broker_address: localhost:26500\n",
			wantErr: "redis.address is required",
		},
		{
			name:    "bad timezone",
			body:    "camunda:\n  broker_address: a\nredis:\n  address: b\nscheduling:\n  timezone: Mars/Olympus\n",
			wantErr: "scheduling.timezone",
		},
		{
			name:    "tracing without endpoint",
			body:    "camunda:\n  broker_address: a\nredis:\n  address: b\ntracing:\n  enabled: true\n",
			wantErr: "tracing.jaeger_endpoint",
		},
		{
			name:    "postgres without host",
			body:    "camunda:\n  broker_address: a\nredis:\n  address: b\npostgres:\n  enabled: true\n",
			wantErr: "postgres.host",
		},
		{
			name:    "sns without topic",
			body:    "camunda:\n  broker_address: a\nredis:\n  address: b\naws:\n  sns:\n    enabled: true\n",
			wantErr: "aws.sns.alert_topic_arn",
		},
		{
			name:    "ses without sender",
			body:    "camunda:\n  broker_address: a\nredis:\n  address: b\naws:\n  ses:\n    enabled: true\n",
			wantErr: "aws.ses.from_email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ZEEBE_ADDRESS", "")
			t.Setenv("REDIS_ADDR", "")
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetWorkerConfig(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"generate-report": {Enabled: false, MaxJobsActive: 2},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "generate-report"))
	assert.Equal(t, 2, GetWorkerConfig(cfg, "generate-report").MaxJobsActive)

	assert.True(t, IsWorkerEnabled(cfg, "unknown"))
	def := GetWorkerConfig(cfg, "unknown")
	assert.True(t, def.Enabled)
	assert.Equal(t, 5, def.MaxJobsActive)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
	assert.Equal(t, 2*time.Second, CamundaConfig{RequestTimeout: 2000}.RequestTimeoutDuration())
}
