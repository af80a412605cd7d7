// Package config loads pipeline configuration from defaults, an optional
// YAML file, and the environment.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/matsen/citewatch/internal/observability"
	"github.com/matsen/citewatch/internal/openalex"
	"github.com/matsen/citewatch/internal/work"
)

const (
	// EnvPrefix prefixes every environment override (CITEWATCH_DATA_DIR, ...).
	EnvPrefix = "CITEWATCH"

	// ConfigName is the config file looked up in the working directory.
	ConfigName = "citewatch"

	// DefaultTargetDOI is the publication whose citations are tracked.
	DefaultTargetDOI = "10.1145/3183713.3196909"
)

// ErrInvalid indicates a configuration that failed validation or could not be read.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all pipeline settings.
type Config struct {
	// TargetDOI is the cited publication.
	TargetDOI string `mapstructure:"target_doi"`
	// Mailto is the contact address sent to the API (polite pool).
	Mailto string `mapstructure:"mailto"`
	// UserAgent overrides the HTTP User-Agent product token.
	UserAgent string `mapstructure:"user_agent"`

	API APIConfig `mapstructure:"api"`

	// DataDir holds citations.json, stats.json and the raw snapshot.
	DataDir string `mapstructure:"data_dir"`
	// OverridesPath is the curator patch file; absent means no overrides.
	OverridesPath string `mapstructure:"overrides_path"`
	// TagRulesPath is an optional rule file replacing the built-in rules.
	TagRulesPath string `mapstructure:"tag_rules_path"`
	// TopAuthors caps the author ranking; 0 keeps every author.
	TopAuthors int `mapstructure:"top_authors"`
	// Workers is the classification parallelism.
	Workers int `mapstructure:"workers"`
	// MetricsFile receives Prometheus text metrics after a successful run.
	MetricsFile string `mapstructure:"metrics_file"`

	Logging observability.LoggingConfig `mapstructure:"logging"`
}

// APIConfig holds bibliographic API client settings.
type APIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	PerPage         int           `mapstructure:"per_page"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// legacyEnv lists unprefixed environment names still honored per key.
var legacyEnv = map[string][]string{
	"target_doi": {"TARGET_DOI"},
	"mailto":     {"OPENALEX_MAILTO", "OPENALEX_EMAIL"},
	"user_agent": {"USER_AGENT"},
}

// New returns a viper instance with defaults, environment bindings and the
// config file loaded. An explicit configFile must exist; otherwise
// citewatch.yml in the working directory is read when present.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(key)}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(ExpandPath(configFile))
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: reading config file: %w", ErrInvalid, err)
		}
	}

	return v, nil
}

// Load builds and validates a Config. See New for the lookup order.
func Load(configFile string) (*Config, error) {
	v, err := New(configFile)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes, normalizes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("target_doi", DefaultTargetDOI)
	v.SetDefault("mailto", "")
	v.SetDefault("user_agent", openalex.DefaultUserAgent)

	v.SetDefault("api.base_url", openalex.BaseURL)
	v.SetDefault("api.per_page", openalex.DefaultPerPage)
	v.SetDefault("api.request_interval", openalex.DefaultRequestInterval)
	v.SetDefault("api.max_retries", openalex.DefaultMaxRetries)
	v.SetDefault("api.retry_base_delay", openalex.DefaultRetryBaseDelay)
	v.SetDefault("api.timeout", openalex.DefaultTimeout)

	v.SetDefault("data_dir", filepath.Join("docs", "data"))
	v.SetDefault("overrides_path", filepath.Join("data", "overrides.yml"))
	v.SetDefault("tag_rules_path", filepath.Join("data", "tag_rules.yml"))
	v.SetDefault("top_authors", 0)
	v.SetDefault("workers", 4)
	v.SetDefault("metrics_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) normalize() {
	c.TargetDOI = work.NormalizeDOI(c.TargetDOI)
	c.Mailto = strings.TrimSpace(c.Mailto)
	c.DataDir = ExpandPath(c.DataDir)
	c.OverridesPath = ExpandPath(c.OverridesPath)
	c.TagRulesPath = ExpandPath(c.TagRulesPath)
	c.MetricsFile = ExpandPath(c.MetricsFile)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true,
	"warning": true, "error": true, "off": true, "disabled": true,
}

var validLogFormats = map[string]bool{"json": true, "console": true, "pretty": true}

// Validate checks every setting and reports the first problem. The target
// DOI is checked when it is resolved, so a malformed DOI fails as a
// resolution error rather than a configuration error.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.PerPage < 1 || c.API.PerPage > openalex.MaxPerPage {
		return fmt.Errorf("api.per_page must be between 1 and %d, got %d", openalex.MaxPerPage, c.API.PerPage)
	}
	if c.API.RequestInterval < 0 {
		return fmt.Errorf("api.request_interval must not be negative")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries)
	}
	if c.API.RetryBaseDelay <= 0 {
		return fmt.Errorf("api.retry_base_delay must be positive")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.TopAuthors < 0 {
		return fmt.Errorf("top_authors must not be negative, got %d", c.TopAuthors)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}

// ClientOptions returns the API client options these settings describe.
func (c *Config) ClientOptions() []openalex.ClientOption {
	return []openalex.ClientOption{
		openalex.WithHTTPClient(&http.Client{Timeout: c.API.Timeout}),
		openalex.WithBaseURL(c.API.BaseURL),
		openalex.WithMailto(c.Mailto),
		openalex.WithUserAgent(c.UserAgent),
		openalex.WithPerPage(c.API.PerPage),
		openalex.WithRequestInterval(c.API.RequestInterval),
		openalex.WithRetry(c.API.MaxRetries, c.API.RetryBaseDelay),
	}
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
