package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	errs "xscraper/pkg/errors"
)

// Config holds all configuration options for a scrape run
type Config struct {
	// Login identities, rotated round-robin
	Identities []IdentityConfig `yaml:"identities" json:"identities"`

	// Search terms, processed in this order
	Keywords []string `yaml:"keywords" json:"keywords"`

	TargetPerKeyword        int        `yaml:"target_per_keyword" json:"target_per_keyword"`
	UseProxyRotation        bool       `yaml:"use_proxy_rotation" json:"use_proxy_rotation"`
	FailureBudgetPerKeyword int        `yaml:"failure_budget_per_keyword" json:"failure_budget_per_keyword"`
	StallLimitPerKeyword    int        `yaml:"stall_limit_per_keyword" json:"stall_limit_per_keyword"`
	PaceDelay               DelayRange `yaml:"pace_delay" json:"pace_delay"`
	Workers                 int        `yaml:"workers" json:"workers"`

	Identity   IdentityPolicy   `yaml:"identity" json:"identity"`
	Proxy      ProxyConfig      `yaml:"proxy" json:"proxy"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// IdentityConfig is one login identity. An empty secret is resolved from the credential store.
type IdentityConfig struct {
	Handle string `yaml:"handle" json:"handle"`
	Secret string `yaml:"secret,omitempty" json:"-"`
}

// DelayRange is an inclusive random delay window
type DelayRange struct {
	Min time.Duration `yaml:"min" json:"min"`
	Max time.Duration `yaml:"max" json:"max"`
}

// IdentityPolicy controls cooldown after a failed session
type IdentityPolicy struct {
	Cooldown     time.Duration `yaml:"cooldown" json:"cooldown"`
	MaxCooldown  time.Duration `yaml:"max_cooldown" json:"max_cooldown"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	DisableAfter int           `yaml:"disable_after" json:"disable_after"`
}

// ProxyConfig holds proxy list sources and health checking options
type ProxyConfig struct {
	Sources             []string      `yaml:"sources" json:"sources"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	FetchAttempts       int           `yaml:"fetch_attempts" json:"fetch_attempts"`
	Validate            bool          `yaml:"validate" json:"validate"`
	ValidateURL         string        `yaml:"validate_url" json:"validate_url"`
	ValidateTimeout     time.Duration `yaml:"validate_timeout" json:"validate_timeout"`
	ValidateConcurrency int           `yaml:"validate_concurrency" json:"validate_concurrency"`
	EvictAfter          int           `yaml:"evict_after" json:"evict_after"`
}

// SessionConfig holds browser session settings
type SessionConfig struct {
	Runner            string        `yaml:"runner" json:"runner"`
	OpenTimeout       time.Duration `yaml:"open_timeout" json:"open_timeout"`
	SearchTimeout     time.Duration `yaml:"search_timeout" json:"search_timeout"`
	Headless          bool          `yaml:"headless" json:"headless"`
	BrowserBin        string        `yaml:"browser_bin" json:"browser_bin"`
	LoginURL          string        `yaml:"login_url" json:"login_url"`
	SearchURL         string        `yaml:"search_url" json:"search_url"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	SessionsPerMinute int           `yaml:"sessions_per_minute" json:"sessions_per_minute"`
}

// OutputConfig holds result destinations
type OutputConfig struct {
	Path            string `yaml:"path" json:"path"`
	MongoURI        string `yaml:"mongo_uri" json:"-"`
	MongoDatabase   string `yaml:"mongo_database" json:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection" json:"mongo_collection"`
}

// CheckpointConfig controls progress persistence between runs
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

const (
	RunnerBrowser = "browser"
	RunnerMock    = "mock"
)

// DefaultProxySources are public free proxy lists in host:port-per-line format
var DefaultProxySources = []string{
	"https://www.proxy-list.download/api/v1/get?type=http",
	"https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list-raw.txt",
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		TargetPerKeyword:        100,
		UseProxyRotation:        true,
		FailureBudgetPerKeyword: 10,
		StallLimitPerKeyword:    5,
		PaceDelay:               DelayRange{Min: 5 * time.Second, Max: 15 * time.Second},
		Workers:                 1,
		Identity: IdentityPolicy{
			Cooldown:     time.Minute,
			MaxCooldown:  15 * time.Minute,
			Multiplier:   2.0,
			DisableAfter: 0,
		},
		Proxy: ProxyConfig{
			Sources:             append([]string(nil), DefaultProxySources...),
			FetchTimeout:        15 * time.Second,
			FetchAttempts:       2,
			ValidateURL:         "http://example.com",
			ValidateTimeout:     10 * time.Second,
			ValidateConcurrency: 16,
			EvictAfter:          3,
		},
		Session: SessionConfig{
			Runner:        RunnerBrowser,
			OpenTimeout:   90 * time.Second,
			SearchTimeout: 60 * time.Second,
			Headless:      true,
			LoginURL:      "https://x.com/i/flow/login",
			SearchURL:     "https://x.com/search?q={query}&src=typed_query",
		},
		Output: OutputConfig{
			Path:            "twitter_scrape_results.json",
			MongoDatabase:   "xscraper",
			MongoCollection: "posts",
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if keywords := os.Getenv("XSCRAPER_KEYWORDS"); keywords != "" {
		c.Keywords = splitList(keywords)
	}

	if identities := os.Getenv("XSCRAPER_IDENTITIES"); identities != "" {
		parsed, err := ParseIdentities(identities)
		if err != nil {
			return err
		}
		c.Identities = parsed
	}

	if target := os.Getenv("XSCRAPER_TARGET_PER_KEYWORD"); target != "" {
		var val int
		if _, err := fmt.Sscanf(target, "%d", &val); err != nil {
			return fmt.Errorf("invalid XSCRAPER_TARGET_PER_KEYWORD %q: %w", target, err)
		}
		c.TargetPerKeyword = val
	}

	if budget := os.Getenv("XSCRAPER_FAILURE_BUDGET"); budget != "" {
		var val int
		if _, err := fmt.Sscanf(budget, "%d", &val); err != nil {
			return fmt.Errorf("invalid XSCRAPER_FAILURE_BUDGET %q: %w", budget, err)
		}
		c.FailureBudgetPerKeyword = val
	}

	if useProxy := os.Getenv("XSCRAPER_USE_PROXY_ROTATION"); useProxy != "" {
		c.UseProxyRotation = strings.ToLower(useProxy) == "true"
	}

	if workers := os.Getenv("XSCRAPER_WORKERS"); workers != "" {
		var val int
		if _, err := fmt.Sscanf(workers, "%d", &val); err != nil {
			return fmt.Errorf("invalid XSCRAPER_WORKERS %q: %w", workers, err)
		}
		if val > 0 {
			c.Workers = val
		}
	}

	if output := os.Getenv("XSCRAPER_OUTPUT"); output != "" {
		c.Output.Path = output
	}

	if mongoURI := os.Getenv("XSCRAPER_MONGO_URI"); mongoURI != "" {
		c.Output.MongoURI = mongoURI
	}

	if runner := os.Getenv("XSCRAPER_RUNNER"); runner != "" {
		c.Session.Runner = runner
	}

	if logLevel := os.Getenv("XSCRAPER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// ParseIdentities parses "handle:secret,handle2:secret2". The secret part is optional.
func ParseIdentities(raw string) ([]IdentityConfig, error) {
	var identities []IdentityConfig
	for _, item := range splitList(raw) {
		handle, secret, _ := strings.Cut(item, ":")
		handle = strings.TrimSpace(handle)
		if handle == "" {
			return nil, errs.Config("identity entry %q has no handle", item)
		}
		identities = append(identities, IdentityConfig{Handle: handle, Secret: secret})
	}
	return identities, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".xscraper.yaml",
		".xscraper.yml",
		filepath.Join(home, ".config", "xscraper", "config.yaml"),
		filepath.Join(home, ".config", "xscraper", "config.yml"),
		filepath.Join(home, ".xscraper.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid. Failures are reported as a single config error.
func (c *Config) Validate() error {
	var problems []error

	if len(c.Identities) == 0 {
		problems = append(problems, errors.New("at least one identity is required"))
	}
	seen := make(map[string]bool, len(c.Identities))
	for i, id := range c.Identities {
		if strings.TrimSpace(id.Handle) == "" {
			problems = append(problems, fmt.Errorf("identity %d has an empty handle", i))
			continue
		}
		if seen[id.Handle] {
			problems = append(problems, fmt.Errorf("identity %q is listed twice", id.Handle))
		}
		seen[id.Handle] = true
	}

	if len(c.Keywords) == 0 {
		problems = append(problems, errors.New("at least one keyword is required"))
	}
	seenKeywords := make(map[string]bool, len(c.Keywords))
	for i, kw := range c.Keywords {
		if strings.TrimSpace(kw) == "" {
			problems = append(problems, fmt.Errorf("keyword %d is empty", i))
			continue
		}
		if seenKeywords[kw] {
			problems = append(problems, fmt.Errorf("keyword %q is listed twice", kw))
		}
		seenKeywords[kw] = true
	}

	if c.TargetPerKeyword <= 0 {
		problems = append(problems, errors.New("target per keyword must be positive"))
	}
	if c.FailureBudgetPerKeyword < 0 {
		problems = append(problems, errors.New("failure budget per keyword cannot be negative"))
	}
	if c.StallLimitPerKeyword < 0 {
		problems = append(problems, errors.New("stall limit per keyword cannot be negative"))
	}
	if c.PaceDelay.Min < 0 {
		problems = append(problems, errors.New("pace delay min cannot be negative"))
	}
	if c.PaceDelay.Max < c.PaceDelay.Min {
		problems = append(problems, errors.New("pace delay max must not be below min"))
	}
	if c.Workers <= 0 {
		problems = append(problems, errors.New("workers must be positive"))
	}

	if c.Identity.Cooldown < 0 || c.Identity.MaxCooldown < c.Identity.Cooldown {
		problems = append(problems, errors.New("identity cooldown must be non-negative and not exceed max_cooldown"))
	}
	if c.Identity.Multiplier < 1 {
		problems = append(problems, errors.New("identity cooldown multiplier must be at least 1"))
	}
	if c.Identity.DisableAfter < 0 {
		problems = append(problems, errors.New("identity disable_after cannot be negative"))
	}

	if c.UseProxyRotation && len(c.Proxy.Sources) == 0 {
		problems = append(problems, errors.New("proxy rotation needs at least one proxy source"))
	}
	if c.Proxy.FetchTimeout <= 0 {
		problems = append(problems, errors.New("proxy fetch timeout must be positive"))
	}
	if c.Proxy.Validate && c.Proxy.ValidateURL == "" {
		problems = append(problems, errors.New("proxy validation needs a validate_url"))
	}

	switch c.Session.Runner {
	case RunnerBrowser, RunnerMock:
	default:
		problems = append(problems, fmt.Errorf("unknown session runner %q", c.Session.Runner))
	}
	if c.Session.OpenTimeout <= 0 || c.Session.SearchTimeout <= 0 {
		problems = append(problems, errors.New("session timeouts must be positive"))
	}
	if c.Session.SessionsPerMinute < 0 {
		problems = append(problems, errors.New("sessions per minute cannot be negative"))
	}

	if c.Output.Path == "" {
		problems = append(problems, errors.New("output path is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		problems = append(problems, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		problems = append(problems, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	if len(problems) > 0 {
		return &errs.Error{Type: errs.ErrorTypeConfig, Message: "invalid configuration", Err: errors.Join(problems...)}
	}

	return nil
}

// MissingSecrets returns handles of identities whose secret is still empty
func (c *Config) MissingSecrets() []string {
	var missing []string
	for _, id := range c.Identities {
		if id.Secret == "" {
			missing = append(missing, id.Handle)
		}
	}
	return missing
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags that were explicitly set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if keywords, ok := flags["keywords"].([]string); ok && len(keywords) > 0 {
		c.Keywords = keywords
	}
	if target, ok := flags["target"].(int); ok {
		c.TargetPerKeyword = target
	}
	if budget, ok := flags["budget"].(int); ok {
		c.FailureBudgetPerKeyword = budget
	}
	if noProxy, ok := flags["no-proxy"].(bool); ok && noProxy {
		c.UseProxyRotation = false
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Workers = workers
	}
	if output, ok := flags["output"].(string); ok && output != "" {
		c.Output.Path = output
	}
	if runner, ok := flags["runner"].(string); ok && runner != "" {
		c.Session.Runner = runner
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Session.Headless = headless
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat, ok := flags["log-format"].(string); ok && logFormat != "" {
		c.Logging.Format = logFormat
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: command line flags > environment (.env included) > config file > defaults.
// Any failure is returned as a config error.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".xscraper.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, err, "load config file")
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, err, "load environment")
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
