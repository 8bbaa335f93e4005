package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "schemaprobe.yaml"

// Backend drivers.
const (
	DriverREST    = "rest"
	DriverSQLite  = "sqlite"
	DriverFixture = "fixture"
)

// Config represents the runtime configuration from schemaprobe.yaml.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Backend  BackendConfig `yaml:"backend"`
	Probe    ProbeConfig   `yaml:"probe"`
	Catalog  string        `yaml:"catalog"` // path to a catalog file; empty means the built-in catalog
	Report   ReportConfig  `yaml:"report"`
	History  HistoryConfig `yaml:"history"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// BackendConfig selects and addresses the backend under test.
type BackendConfig struct {
	Driver  string `yaml:"driver"` // "rest", "sqlite", "fixture"
	URL     string `yaml:"url"`
	Key     string `yaml:"key"`
	AnonKey string `yaml:"anon_key"`
	DSN     string `yaml:"dsn"` // sqlite DSN or fixture path
}

// ProbeConfig bounds individual probes.
type ProbeConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the per-probe timeout.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ReportConfig defines report output.
type ReportConfig struct {
	Format string `yaml:"format"` // "text", "json", "markdown"; empty picks by terminal
}

// HistoryConfig defines where past reports are kept.
type HistoryConfig struct {
	Dir string `yaml:"dir"`
}

// NotifyConfig holds notification targets.
type NotifyConfig struct {
	GitHub GitHubConfig `yaml:"github"`
}

// GitHubConfig holds GitHub issue notification settings.
type GitHubConfig struct {
	Token  string   `yaml:"token"`
	Repo   string   `yaml:"repo"` // owner/name
	Labels []string `yaml:"labels"`
}

// Enabled reports whether issues should be opened.
func (g GitHubConfig) Enabled() bool {
	return g.Repo != ""
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Backend: BackendConfig{
			Driver: DriverREST,
		},
		Probe: ProbeConfig{
			TimeoutSeconds: 10,
		},
		Notify: NotifyConfig{
			GitHub: GitHubConfig{
				Labels: []string{"backend-verification"},
			},
		},
	}
}

// LoadConfig reads and parses a runtime config YAML file, then applies
// environment overrides. Returns the default config if the file doesn't
// exist.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		interpolated := interpolateEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets the environment override file values.
func applyEnv(cfg *Config) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"BACKEND_URL", &cfg.Backend.URL},
		{"BACKEND_KEY", &cfg.Backend.Key},
		{"BACKEND_ANON_KEY", &cfg.Backend.AnonKey},
		{"BACKEND_DRIVER", &cfg.Backend.Driver},
		{"BACKEND_DSN", &cfg.Backend.DSN},
		{"SCHEMAPROBE_LOG_LEVEL", &cfg.LogLevel},
		{"GITHUB_TOKEN", &cfg.Notify.GitHub.Token},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate checks that the selected driver has what it needs.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend.Driver {
	case DriverREST:
		if c.Backend.URL == "" {
			errs = append(errs, errors.New("backend.url (BACKEND_URL) is required for the rest driver"))
		}
		if c.Backend.Key == "" {
			errs = append(errs, errors.New("backend.key (BACKEND_KEY) is required for the rest driver"))
		}
		if c.Backend.AnonKey == "" {
			errs = append(errs, errors.New("backend.anon_key (BACKEND_ANON_KEY) is required for the rest driver"))
		}
	case DriverSQLite, DriverFixture:
		if c.Backend.DSN == "" {
			errs = append(errs, fmt.Errorf("backend.dsn is required for the %s driver", c.Backend.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend driver %q", c.Backend.Driver))
	}

	if c.Probe.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("probe.timeout_seconds must be positive, got %d", c.Probe.TimeoutSeconds))
	}

	switch c.Report.Format {
	case "", "text", "json", "markdown", "md":
	default:
		errs = append(errs, fmt.Errorf("unknown report format %q", c.Report.Format))
	}

	if repo := c.Notify.GitHub.Repo; repo != "" {
		if _, _, err := SplitRepo(repo); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SplitRepo splits "owner/name".
func SplitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("notify.github.repo must be owner/name, got %q", repo)
	}
	return owner, name, nil
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
