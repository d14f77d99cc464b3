package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "roleguard_session", cfg.SessionCookie)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyRetention)
	assert.Empty(t, cfg.RolesFile)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresCSRFSecret(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("SESSION_TTL", "soon")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"env":"production"`)

	buf.Reset()
	newLogger(&Config{AppEnv: "production"}, &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	buf.Reset()
	newLogger(nil, &buf).Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestLoadConfigRejectsShortRetention(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("IDEMPOTENCY_RETENTION", "10m")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	for value, want := range map[string]bool{"1": true, "true": true, "0": false, "": false, "yes": false} {
		t.Setenv(TestModeEnv, value)
		assert.Equal(t, want, InTestMode(), "value %q", value)
	}
}
