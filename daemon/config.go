package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "arbor.yaml"
	homeConfigName    = "config.yaml"
)

// Store drivers accepted in StoreConfig.Driver.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

const (
	defaultTickInterval = 10 * time.Millisecond
	defaultListen       = "127.0.0.1:9464"
)

// Config is the daemon configuration file.
type Config struct {
	// TickInterval is the pass interval used while driving trees.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Listen is the admin HTTP address. Empty disables the admin server.
	Listen string `yaml:"listen"`

	// OTLPEndpoint enables trace export over OTLP/HTTP when set.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	Store     StoreConfig      `yaml:"store"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// StoreConfig selects where run events are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	// DSN is the SQLite connection string.
	DSN string `yaml:"dsn,omitempty"`

	// Addr, Password, DB and Prefix address a Redis server.
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`

	// Retention bounds stored events. Zero keeps everything.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// ScheduleConfig runs the tree in File whenever Cron fires.
type ScheduleConfig struct {
	Name    string        `yaml:"name"`
	Cron    string        `yaml:"cron"`
	File    string        `yaml:"file"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Enabled *bool         `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the schedule should fire. Schedules are enabled
// unless explicitly turned off.
func (s ScheduleConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() Config {
	return Config{
		TickInterval: defaultTickInterval,
		Listen:       defaultListen,
		Store:        StoreConfig{Driver: StoreMemory},
	}
}

// DiscoverConfigPath resolves the config location with first-match semantics:
// the explicit path, then ./arbor.yaml, then ~/.arbor/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".arbor", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads the config at path over DefaultConfig. Values may
// reference environment variables as $VAR or ${VAR}. Relative schedule files
// and SQLite paths resolve against the config file's directory.
func LoadConfig(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for i := range cfg.Schedules {
		cfg.Schedules[i].File = resolveConfigRelative(baseDir, cfg.Schedules[i].File)
	}
	if cfg.Store.Driver == StoreSQLite && !strings.Contains(cfg.Store.DSN, ":memory:") && !strings.HasPrefix(cfg.Store.DSN, "file:") {
		cfg.Store.DSN = resolveConfigRelative(baseDir, cfg.Store.DSN)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a config document.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ARBOR_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("ARBOR_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := getenv("ARBOR_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := getenv("ARBOR_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := getenv("ARBOR_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := getenv("ARBOR_REDIS_ADDR"); v != "" {
		c.Store.Addr = v
	}
	if v := getenv("ARBOR_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ARBOR_TICK_INTERVAL: %w", err)
		}
		c.TickInterval = d
	}
	return c.Validate()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}

	switch c.Store.Driver {
	case "", StoreMemory:
		c.Store.Driver = StoreMemory
	case StoreSQLite:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, errors.New("store: dsn is required for the sqlite driver"))
		}
	case StoreRedis:
		if strings.TrimSpace(c.Store.Addr) == "" {
			errs = append(errs, errors.New("store: addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("schedule %s: name is required", label))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("schedule %q: duplicate name", s.Name))
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.File) == "" {
			errs = append(errs, fmt.Errorf("schedule %s: file is required", label))
		}
		if _, err := parseCronExpressionUTC(s.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", label, err))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("schedule %s: timeout must not be negative", label))
		}
	}
	return errors.Join(errs...)
}

func resolveConfigRelative(baseDir, p string) string {
	if strings.TrimSpace(p) == "" {
		return p
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
