package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "xscraper/pkg/errors"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Identities = []IdentityConfig{{Handle: "alice", Secret: "a"}, {Handle: "bob", Secret: "b"}}
	cfg.Keywords = []string{"golang", "rust"}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.TargetPerKeyword != 100 {
		t.Errorf("Expected default target per keyword to be 100, got %d", config.TargetPerKeyword)
	}

	if config.FailureBudgetPerKeyword != 10 {
		t.Errorf("Expected default failure budget to be 10, got %d", config.FailureBudgetPerKeyword)
	}

	if config.Output.Path != "twitter_scrape_results.json" {
		t.Errorf("Expected default output path to be twitter_scrape_results.json, got %s", config.Output.Path)
	}

	assert.True(t, config.UseProxyRotation)
	assert.Equal(t, RunnerBrowser, config.Session.Runner)
	assert.Len(t, config.Proxy.Sources, 2)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("XSCRAPER_KEYWORDS", "golang, rust ,,zig")
	t.Setenv("XSCRAPER_IDENTITIES", "alice:pw1,bob")
	t.Setenv("XSCRAPER_TARGET_PER_KEYWORD", "25")
	t.Setenv("XSCRAPER_FAILURE_BUDGET", "4")
	t.Setenv("XSCRAPER_USE_PROXY_ROTATION", "false")
	t.Setenv("XSCRAPER_WORKERS", "2")
	t.Setenv("XSCRAPER_OUTPUT", "/tmp/out.json")
	t.Setenv("XSCRAPER_RUNNER", "mock")
	t.Setenv("XSCRAPER_LOG_LEVEL", "debug")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, []string{"golang", "rust", "zig"}, config.Keywords)
	assert.Equal(t, []IdentityConfig{{Handle: "alice", Secret: "pw1"}, {Handle: "bob"}}, config.Identities)
	assert.Equal(t, 25, config.TargetPerKeyword)
	assert.Equal(t, 4, config.FailureBudgetPerKeyword)
	assert.False(t, config.UseProxyRotation)
	assert.Equal(t, 2, config.Workers)
	assert.Equal(t, "/tmp/out.json", config.Output.Path)
	assert.Equal(t, RunnerMock, config.Session.Runner)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("XSCRAPER_TARGET_PER_KEYWORD", "lots")

	config := DefaultConfig()
	assert.Error(t, config.LoadFromEnv())
}

func TestLoadFromEnvRejectsBadWorkers(t *testing.T) {
	t.Setenv("XSCRAPER_WORKERS", "many")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XSCRAPER_WORKERS")
	assert.Equal(t, 1, config.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"no identities", func(c *Config) { c.Identities = nil }, true},
		{"duplicate handle", func(c *Config) { c.Identities[1].Handle = "alice" }, true},
		{"empty handle", func(c *Config) { c.Identities[0].Handle = " " }, true},
		{"no keywords", func(c *Config) { c.Keywords = nil }, true},
		{"blank keyword", func(c *Config) { c.Keywords = []string{""} }, true},
		{"duplicate keyword", func(c *Config) { c.Keywords = []string{"golang", "rust", "golang"} }, true},
		{"zero target", func(c *Config) { c.TargetPerKeyword = 0 }, true},
		{"negative budget", func(c *Config) { c.FailureBudgetPerKeyword = -1 }, true},
		{"zero budget allowed", func(c *Config) { c.FailureBudgetPerKeyword = 0 }, false},
		{"max below min", func(c *Config) { c.PaceDelay = DelayRange{Min: 2 * time.Second, Max: time.Second} }, true},
		{"zero pacing allowed", func(c *Config) { c.PaceDelay = DelayRange{} }, false},
		{"rotation without sources", func(c *Config) { c.Proxy.Sources = nil }, true},
		{"no sources without rotation", func(c *Config) { c.Proxy.Sources = nil; c.UseProxyRotation = false }, false},
		{"unknown runner", func(c *Config) { c.Session.Runner = "curl" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad multiplier", func(c *Config) { c.Identity.Multiplier = 0.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.ErrorTypeConfig), "expected config error, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := validConfig()
	cfg.PaceDelay = DelayRange{Min: time.Second, Max: 3 * time.Second}
	cfg.Session.Runner = RunnerMock
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg.Keywords, loaded.Keywords)
	assert.Equal(t, cfg.Identities, loaded.Identities)
	assert.Equal(t, cfg.PaceDelay, loaded.PaceDelay)
	assert.Equal(t, RunnerMock, loaded.Session.Runner)
}

func TestLoadFromFileDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
identities:
  - handle: alice
keywords: [golang]
pace_delay:
  min: 250ms
  max: 2s
session:
  open_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, 250*time.Millisecond, cfg.PaceDelay.Min)
	assert.Equal(t, 2*time.Second, cfg.PaceDelay.Max)
	assert.Equal(t, 30*time.Second, cfg.Session.OpenTimeout)
	// unspecified nested values keep their defaults
	assert.Equal(t, 60*time.Second, cfg.Session.SearchTimeout)
	assert.Equal(t, []string{"alice"}, cfg.MissingSecrets())
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
identities:
  - handle: alice
    secret: pw
keywords: [from-file]
target_per_keyword: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("XSCRAPER_TARGET_PER_KEYWORD", "20")

	cfg, err := Load(path, map[string]interface{}{
		"keywords": []string{"from-flag"},
		"no-proxy": true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"from-flag"}, cfg.Keywords)
	assert.Equal(t, 20, cfg.TargetPerKeyword)
	assert.False(t, cfg.UseProxyRotation)
}

func TestLoadInvalidIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keywords: [a]\n"), 0644))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeConfig))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeConfig))
}

func TestParseIdentities(t *testing.T) {
	ids, err := ParseIdentities("alice:p:w, bob")
	require.NoError(t, err)
	assert.Equal(t, []IdentityConfig{{Handle: "alice", Secret: "p:w"}, {Handle: "bob"}}, ids)

	_, err = ParseIdentities(":secret")
	assert.Error(t, err)
}
