package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New("")
	require.NoError(t, err)

	assert.Equal(t, RabbitMQ{
		Host:        "localhost",
		Port:        5672,
		VirtualHost: "/",
		Username:    "guest",
		Password:    "guest",
		Heartbeat:   600 * time.Second,
		MaxRetries:  5,
		RetryDelay:  time.Second,
	}, cfg.RabbitMQ)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestNew_Env(t *testing.T) {
	t.Setenv("RABBIT_HOST", "rabbit")
	t.Setenv("RABBIT_PORT", "5673")
	t.Setenv("RABBIT_VHOST", "/jobs")
	t.Setenv("RABBIT_HEARTBEAT", "30s")
	t.Setenv("RABBIT_MAX_RETRIES", "2")
	t.Setenv("RABBIT_RETRY_DELAY", "250ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg, err := New("")
	require.NoError(t, err)

	assert.Equal(t, "rabbit", cfg.RabbitMQ.Host)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, "/jobs", cfg.RabbitMQ.VirtualHost)
	assert.Equal(t, 30*time.Second, cfg.RabbitMQ.Heartbeat)
	assert.Equal(t, 2, cfg.RabbitMQ.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RabbitMQ.RetryDelay)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Len(t, cfg.RabbitMQ.Options(), 7)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
metrics:
  addr: ":9200"
`), 0o600))

	t.Setenv("RABBIT_MAX_RETRIES", "3")

	cfg, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.Metrics.Addr)
	assert.Equal(t, 3, cfg.RabbitMQ.MaxRetries)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		err  error
	}{
		{name: "port", env: map[string]string{"RABBIT_PORT": "0"}, err: ErrInvalidPort},
		{name: "retries", env: map[string]string{"RABBIT_MAX_RETRIES": "0"}, err: ErrInvalidRetries},
		{name: "level", env: map[string]string{"LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := New("")
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestNew_MissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestDescription(t *testing.T) {
	help := Description()
	assert.Contains(t, help, "RABBIT_HOST")
	assert.Contains(t, help, "METRICS_ADDR")
}
