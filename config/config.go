// Package config loads service settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the variable holding the optional YAML file path.
const ConfigPathEnv = "PORTSCAN_CONFIG"

// ErrInvalidConfig wraps every validation and parse failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	ListenAddr string     `yaml:"listen_addr"`
	LogLevel   string     `yaml:"log_level"`
	APIKey     string     `yaml:"api_key"`
	Scan       ScanConfig `yaml:"scan"`
	Redis      Redis      `yaml:"redis"`
	RateLimit  RateLimit  `yaml:"rate_limit"`
	Tasks      Tasks      `yaml:"tasks"`
}

// ScanConfig bounds synchronous and queued scans.
type ScanConfig struct {
	PortTimeout Duration `yaml:"port_timeout"`
	MaxPorts    int      `yaml:"max_ports"`
}

// Redis selects the Redis-backed task store. An empty Addr keeps tasks in
// memory and disables rate limiting.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimit is a fixed-window per-client request budget.
type RateLimit struct {
	Requests int64    `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Tasks configures the asynchronous scan queue.
type Tasks struct {
	Workers int      `yaml:"workers"`
	TTL     Duration `yaml:"ttl"`
}

// Duration wraps time.Duration for YAML unmarshalling from strings like "5s", "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Scan: ScanConfig{
			PortTimeout: Duration{2 * time.Second},
			MaxPorts:    1024,
		},
		RateLimit: RateLimit{
			Requests: 60,
			Window:   Duration{time.Minute},
		},
		Tasks: Tasks{
			Workers: 4,
			TTL:     Duration{24 * time.Hour},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// PORTSCAN_CONFIG, then variables from .env and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.str("LISTEN_ADDR", &c.ListenAddr)
	env.str("LOG_LEVEL", &c.LogLevel)
	env.str("API_KEY", &c.APIKey)
	env.duration("SCAN_PORT_TIMEOUT", &c.Scan.PortTimeout)
	env.integer("SCAN_MAX_PORTS", &c.Scan.MaxPorts)
	env.str("REDIS_ADDR", &c.Redis.Addr)
	env.str("REDIS_PASSWORD", &c.Redis.Password)
	env.integer("REDIS_DB", &c.Redis.DB)
	env.int64("RATE_LIMIT", &c.RateLimit.Requests)
	env.duration("RATE_WINDOW", &c.RateLimit.Window)
	env.integer("SCAN_WORKERS", &c.Tasks.Workers)
	env.duration("TASK_TTL", &c.Tasks.TTL)

	return errors.Join(env.errs...)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.Scan.PortTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("port timeout must be positive, got %s", c.Scan.PortTimeout))
	}
	if c.Scan.MaxPorts < 1 || c.Scan.MaxPorts > 65535 {
		errs = append(errs, fmt.Errorf("max ports must be within 1-65535, got %d", c.Scan.MaxPorts))
	}
	if c.RateLimit.Requests < 1 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %d", c.RateLimit.Requests))
	}
	if c.RateLimit.Window.Duration <= 0 {
		errs = append(errs, fmt.Errorf("rate window must be positive, got %s", c.RateLimit.Window))
	}
	if c.Tasks.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Tasks.Workers))
	}
	if c.Tasks.TTL.Duration <= 0 {
		errs = append(errs, fmt.Errorf("task ttl must be positive, got %s", c.Tasks.TTL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// envReader collects parse failures so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v))
		return
	}
	*dst = n
}

func (e *envReader) int64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, v))
		return
	}
	dst.Duration = d
}
