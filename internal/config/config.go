// Package config loads and validates archiver configuration via Viper.
// Values come from flags, then EPRINTS_ARCHIVER_* environment variables, then
// an optional config file, then defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid marks a configuration value that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config captures every run setting.
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	Dest        DestConfig        `mapstructure:"dest"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Report      ReportConfig      `mapstructure:"report"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// APIConfig identifies the repository and the login for it.
type APIConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DestConfig selects destinations and dispatch behavior.
type DestConfig struct {
	// Names is "all" or a comma-separated list of destination names.
	Names   string `mapstructure:"names"`
	Force   bool   `mapstructure:"force"`
	DelayMs int    `mapstructure:"delay_ms"`
}

// FilterConfig holds the raw record filter expressions.
type FilterConfig struct {
	IDList  string `mapstructure:"id_list"`
	LastMod string `mapstructure:"lastmod"`
	Status  string `mapstructure:"status"`
}

// DiscoveryConfig governs the discovery worker pool.
type DiscoveryConfig struct {
	// Threads of zero means half the available CPUs.
	Threads  int    `mapstructure:"threads"`
	ErrorOut bool   `mapstructure:"error_out"`
	Selector string `mapstructure:"selector"`
}

// HTTPConfig configures the shared HTTP client and repository retries.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	UserAgent        string `mapstructure:"user_agent"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// LoggingConfig toggles console output and the debug trace.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Quiet       bool `mapstructure:"quiet"`
	NoColor     bool `mapstructure:"no_color"`
	// Debug is a trace file path, "-" for stderr, or empty.
	Debug string `mapstructure:"debug"`
}

// CredentialsConfig controls the credential store.
type CredentialsConfig struct {
	Disabled bool   `mapstructure:"disabled"`
	Path     string `mapstructure:"path"`
}

// ReportConfig names the optional report file.
type ReportConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig exposes run metrics.
type MetricsConfig struct {
	File string `mapstructure:"file"`
	Addr string `mapstructure:"addr"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"api-url":      "api.url",
	"user":         "api.user",
	"password":     "api.password",
	"dest":         "dest.names",
	"force":        "dest.force",
	"delay":        "dest.delay_ms",
	"id-list":      "filter.id_list",
	"lastmod":      "filter.lastmod",
	"status":       "filter.status",
	"threads":      "discovery.threads",
	"error-out":    "discovery.error_out",
	"timeout":      "http.timeout_seconds",
	"quiet":        "logging.quiet",
	"no-color":     "logging.no_color",
	"debug":        "logging.debug",
	"no-keyring":   "credentials.disabled",
	"report":       "report.path",
	"metrics-file": "metrics.file",
	"metrics-addr": "metrics.addr",
}

// Load builds a Config from flags, environment, an optional file and
// defaults. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EPRINTS_ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can see it during Unmarshal.
	v.SetDefault("api.url", "")
	v.SetDefault("api.user", "")
	v.SetDefault("api.password", "")
	v.SetDefault("dest.names", "all")
	v.SetDefault("dest.force", false)
	v.SetDefault("dest.delay_ms", 100)
	v.SetDefault("filter.id_list", "")
	v.SetDefault("filter.lastmod", "")
	v.SetDefault("filter.status", "")
	v.SetDefault("discovery.threads", 0)
	v.SetDefault("discovery.error_out", false)
	v.SetDefault("discovery.selector", "div.ep_tm_page_content")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "eprints-archiver/1.0 (+https://github.com/JakeFAU/eprints-archiver)")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.quiet", false)
	v.SetDefault("logging.no_color", false)
	v.SetDefault("logging.debug", "")
	v.SetDefault("credentials.disabled", false)
	v.SetDefault("credentials.path", "")
	v.SetDefault("report.path", "")
	v.SetDefault("metrics.file", "")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.URL) == "" {
		return fmt.Errorf("%w: api.url is required", ErrInvalid)
	}
	if c.Discovery.Threads < 0 {
		return fmt.Errorf("%w: discovery.threads must be >= 0", ErrInvalid)
	}
	if c.Dest.DelayMs < 0 {
		return fmt.Errorf("%w: dest.delay_ms must be >= 0", ErrInvalid)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: http.timeout_seconds must be > 0", ErrInvalid)
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("%w: http.max_retries must be >= 0", ErrInvalid)
	}
	if c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("%w: http.backoff_max_ms must be >= http.backoff_initial_ms", ErrInvalid)
	}
	if c.API.Password != "" && c.API.User == "" {
		return fmt.Errorf("%w: api.password given without api.user", ErrInvalid)
	}
	return nil
}

// Timeout is the per-call network deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Delay is the pause added between requests to one destination.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Dest.DelayMs) * time.Millisecond
}

// Backoff returns the repository client's initial and maximum retry delays.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
