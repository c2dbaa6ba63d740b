package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/ecairns22/deploywait/internal/health"
)

const defaultConfigPath = "/etc/deploywait/deploywait.conf"
const envOverride = "DEPLOYWAIT_CONFIG"

const (
	HistorySQLite = "sqlite"
	HistoryMySQL  = "mysql"
	HistoryNone   = "none"
)

type Config struct {
	Poll    PollConfig    `toml:"poll"`
	DNS     DNSConfig     `toml:"dns"`
	HTTP    HTTPConfig    `toml:"http"`
	History HistoryConfig `toml:"history"`
	GitHub  GitHubConfig  `toml:"github"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

type PollConfig struct {
	Timeout         Duration `toml:"timeout"`
	Interval        Duration `toml:"interval"`
	RequestTimeout  Duration `toml:"request_timeout"`
	FailOnHTTPError bool     `toml:"fail_on_http_error"`
}

type DNSConfig struct {
	Servers []string `toml:"servers"`
}

type HTTPConfig struct {
	Headers map[string]string `toml:"headers"`
}

type HistoryConfig struct {
	Driver  string `toml:"driver"`
	Path    string `toml:"path"`
	DSNFile string `toml:"dsn_file"`
	DSN     string `toml:"-"` // resolved at load time, never serialized
	Keep    int    `toml:"keep"`
}

type GitHubConfig struct {
	Token string `toml:"token"`
	Owner string `toml:"owner"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile"` // empty = no metrics file
}

// Duration is a time.Duration written as a Go duration string ("5m", "1s").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	if p := os.Getenv(envOverride); p != "" {
		return p
	}
	return defaultConfigPath
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	_ = finalize(cfg) // the sqlite defaults read no files and always validate
	return cfg
}

// Load reads configuration from the default path. A missing file at the
// built-in default location yields defaults; a missing file named by the
// environment override is an error.
func Load() (*Config, error) {
	path := DefaultPath()
	cfg, err := LoadFrom(path)
	if err != nil && path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFrom reads configuration from the given path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize applies defaults, validates, and resolves file references.
func finalize(cfg *Config) error {
	// Apply defaults
	if cfg.Poll.Timeout == 0 {
		cfg.Poll.Timeout = Duration(health.DefaultTimeout)
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(health.DefaultInterval)
	}
	if len(cfg.DNS.Servers) == 0 {
		cfg.DNS.Servers = append([]string(nil), health.DefaultDNSServers...)
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = HistorySQLite
	}
	if cfg.History.Driver == HistorySQLite && cfg.History.Path == "" {
		cfg.History.Path = defaultHistoryPath()
	}
	if cfg.History.Keep == 0 {
		cfg.History.Keep = 500
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	cfg.History.Path = expandHome(cfg.History.Path)
	cfg.Metrics.Textfile = expandHome(cfg.Metrics.Textfile)

	// Validate
	if cfg.Poll.Timeout < 0 {
		return fmt.Errorf("config: poll.timeout must be positive")
	}
	if cfg.Poll.Interval < 0 {
		return fmt.Errorf("config: poll.interval must be positive")
	}
	if cfg.Poll.Interval > cfg.Poll.Timeout {
		return fmt.Errorf("config: poll.interval (%s) exceeds poll.timeout (%s)", cfg.Poll.Interval.Std(), cfg.Poll.Timeout.Std())
	}
	if cfg.Poll.RequestTimeout < 0 {
		return fmt.Errorf("config: poll.request_timeout must not be negative")
	}
	if cfg.History.Keep < 0 {
		return fmt.Errorf("config: history.keep must not be negative")
	}

	switch cfg.History.Driver {
	case HistorySQLite, HistoryNone:
	case HistoryMySQL:
		// Resolve the DSN from file so credentials stay out of the config
		if cfg.History.DSNFile == "" {
			return fmt.Errorf("config: history.dsn_file is required for the mysql driver")
		}
		data, err := os.ReadFile(expandHome(cfg.History.DSNFile))
		if err != nil {
			return fmt.Errorf("reading history DSN from %s: %w", cfg.History.DSNFile, err)
		}
		cfg.History.DSN = strings.TrimSpace(string(data))
		if cfg.History.DSN == "" {
			return fmt.Errorf("config: history DSN file %s is empty", cfg.History.DSNFile)
		}
	default:
		return fmt.Errorf("config: unknown history.driver %q (want sqlite, mysql or none)", cfg.History.Driver)
	}

	return nil
}

// PollerConfig converts the poll settings into a health.Config.
func (c *Config) PollerConfig() health.Config {
	return health.Config{
		Timeout:         c.Poll.Timeout.Std(),
		Interval:        c.Poll.Interval.Std(),
		Headers:         c.HTTP.Headers,
		FailOnHTTPError: c.Poll.FailOnHTTPError,
	}
}

func defaultHistoryPath() string {
	return filepath.Join("~", ".local", "state", "deploywait", "runs.db")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// TemplateConfig returns a TOML template with the default values for first-time setup.
func TemplateConfig() string {
	return `[poll]
timeout            = "5m"
interval           = "1s"
request_timeout    = "0s"   # 0 = only bounded by the overall timeout
fail_on_http_error = false  # true = a connection error ends the wait with an error

[dns]
servers = ["1.1.1.1", "1.0.0.1", "2606:4700:4700::1111", "2606:4700:4700::1001"]

[http]
headers = { "User-Agent" = "deploywait" }

[history]
driver   = "sqlite"                            # sqlite, mysql or none
path     = "~/.local/state/deploywait/runs.db"
dsn_file = ""                                  # mysql only: file holding user:pass@tcp(host:3306)/deploywait
keep     = 500

[github]
token = ""
owner = ""

[log]
level = "warn"

[metrics]
textfile = ""   # e.g. /var/lib/node_exporter/textfile/deploywait.prom
`
}
