package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load consults so host settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix+"_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	for _, names := range legacyEnv {
		for _, name := range names {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetDOI != DefaultTargetDOI {
		t.Errorf("TargetDOI = %q, want %q", cfg.TargetDOI, DefaultTargetDOI)
	}
	if cfg.API.PerPage != 50 {
		t.Errorf("API.PerPage = %d, want 50", cfg.API.PerPage)
	}
	if cfg.API.RequestInterval != time.Second {
		t.Errorf("API.RequestInterval = %v, want 1s", cfg.API.RequestInterval)
	}
	if cfg.API.MaxRetries != 3 {
		t.Errorf("API.MaxRetries = %d, want 3", cfg.API.MaxRetries)
	}
	if cfg.DataDir != filepath.Join("docs", "data") {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.OverridesPath != filepath.Join("data", "overrides.yml") {
		t.Errorf("OverridesPath = %q", cfg.OverridesPath)
	}
	if cfg.TopAuthors != 0 {
		t.Errorf("TopAuthors = %d, want 0 (unbounded)", cfg.TopAuthors)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CITEWATCH_DATA_DIR", "/srv/data")
	t.Setenv("CITEWATCH_API_PER_PAGE", "200")
	t.Setenv("CITEWATCH_API_REQUEST_INTERVAL", "250ms")
	t.Setenv("CITEWATCH_TOP_AUTHORS", "25")
	t.Setenv("TARGET_DOI", "https://doi.org/10.1145/3318464.3389711")
	t.Setenv("OPENALEX_EMAIL", " me@example.com ")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != "/srv/data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.API.PerPage != 200 {
		t.Errorf("API.PerPage = %d, want 200", cfg.API.PerPage)
	}
	if cfg.API.RequestInterval != 250*time.Millisecond {
		t.Errorf("API.RequestInterval = %v, want 250ms", cfg.API.RequestInterval)
	}
	if cfg.TopAuthors != 25 {
		t.Errorf("TopAuthors = %d, want 25", cfg.TopAuthors)
	}
	if cfg.TargetDOI != "10.1145/3318464.3389711" {
		t.Errorf("TargetDOI = %q, want normalized legacy value", cfg.TargetDOI)
	}
	if cfg.Mailto != "me@example.com" {
		t.Errorf("Mailto = %q, want me@example.com", cfg.Mailto)
	}
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	clearEnv(t)
	t.Setenv("CITEWATCH_MAILTO", "new@example.com")
	t.Setenv("OPENALEX_MAILTO", "old@example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mailto != "new@example.com" {
		t.Errorf("Mailto = %q, want new@example.com", cfg.Mailto)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "citewatch.yml")
	content := `target_doi: 10.14778/3421424.3421425
api:
  max_retries: 5
  retry_base_delay: 2s
workers: 8
logging:
  level: DEBUG
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CITEWATCH_WORKERS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetDOI != "10.14778/3421424.3421425" {
		t.Errorf("TargetDOI = %q", cfg.TargetDOI)
	}
	if cfg.API.MaxRetries != 5 || cfg.API.RetryBaseDelay != 2*time.Second {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2 (environment overrides file)", cfg.Workers)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"per page too large", map[string]string{"CITEWATCH_API_PER_PAGE": "500"}},
		{"negative retries", map[string]string{"CITEWATCH_API_MAX_RETRIES": "-1"}},
		{"zero workers", map[string]string{"CITEWATCH_WORKERS": "0"}},
		{"negative top authors", map[string]string{"CITEWATCH_TOP_AUTHORS": "-3"}},
		{"relative base url", map[string]string{"CITEWATCH_API_BASE_URL": "api.openalex.org"}},
		{"bad log format", map[string]string{"CITEWATCH_LOGGING_FORMAT": "xml"}},
		{"bad duration", map[string]string{"CITEWATCH_API_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_MalformedDOIIsNotConfigError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CITEWATCH_TARGET_DOI", "DOI:not-a-doi")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v, want nil (DOI is checked at resolution)", err)
	}
	if cfg.TargetDOI != "not-a-doi" {
		t.Errorf("TargetDOI = %q, want normalized %q", cfg.TargetDOI, "not-a-doi")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/data", filepath.Join(home, "data")},
		{"/abs/path", "/abs/path"},
		{"rel/path", "rel/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClientOptions(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(cfg.ClientOptions()); got == 0 {
		t.Error("ClientOptions() returned no options")
	}
}
