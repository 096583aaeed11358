// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "---\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, 5, cfg.Challenge.MaxAttempts)
	assert.Equal(t, "challenges.cloudflare.com", cfg.Challenge.ProviderPattern)
	assert.Equal(t, 4, cfg.Captcha.MaxTries)
	assert.Equal(t, 4, cfg.Captcha.MinCodeLength)
	assert.Equal(t, 3*time.Second, cfg.Recovery.SettleWait)
	assert.NotEmpty(t, cfg.Artifacts.Dir)
	assert.Empty(t, cfg.Store.DSN)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logger:
  level: debug
  format: json
browser:
  headless: false
challenge:
  max_attempts: 2
workflow:
  step_url: https://portal.example/renew?step=2
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 2, cfg.Challenge.MaxAttempts)
	assert.Equal(t, "https://portal.example/renew?step=2", cfg.Workflow.StepURL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RENEW_CAPTCHA_ENDPOINT", "http://ocr.internal:9090/solve")

	cfg, err := Load(writeConfig(t, "---\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://ocr.internal:9090/solve", cfg.Captcha.Endpoint)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "zero challenge attempts",
			content: "challenge:\n  max_attempts: 0\n",
		},
		{
			name:    "zero captcha tries",
			content: "captcha:\n  max_tries: 0\n",
		},
		{
			name:    "bad logger format",
			content: "logger:\n  format: xml\n",
		},
		{
			name:    "non-positive navigation timeout",
			content: "network:\n  navigation_timeout: 0s\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	// Point the search path away from any real config.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Challenge.MaxAttempts)
}
