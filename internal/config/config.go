// Package config resolves pool tuning parameters: environment-variable
// defaults, optionally overridden by a hot-reloadable YAML file — the same
// two-layer shape the teacher project uses for per-tenant pool defaults,
// retargeted here to the single process-wide pool.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// PoolConfig enumerates every tunable the coordinator needs at
// construction time (spec.md §4.4).
type PoolConfig struct {
	BaseSize            int           `yaml:"base_size"`
	Overflow            int           `yaml:"overflow"`
	ConnectionTimeout   time.Duration `yaml:"connection_timeout"`
	MaxIdleTime         time.Duration `yaml:"max_idle_time"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
}

// MaxTotal is the permit ceiling: base_size + overflow (spec.md §2 item 4).
func (c PoolConfig) MaxTotal() int {
	return c.BaseSize + c.Overflow
}

// DefaultPoolConfig returns the built-in defaults applied before any
// environment or file overrides.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		BaseSize:            4,
		Overflow:            4,
		ConnectionTimeout:   5 * time.Second,
		MaxIdleTime:         5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		MaxLifetime:         30 * time.Minute,
		RetryAttempts:       3,
		RetryDelay:          200 * time.Millisecond,
	}
}

// Env variable names for pool tuning.
const (
	EnvBaseSize            = "DBPOOL_BASE_SIZE"
	EnvOverflow            = "DBPOOL_OVERFLOW"
	EnvConnectionTimeout   = "DBPOOL_CONNECTION_TIMEOUT"
	EnvMaxIdleTime         = "DBPOOL_MAX_IDLE_TIME"
	EnvHealthCheckInterval = "DBPOOL_HEALTH_CHECK_INTERVAL"
	EnvMaxLifetime         = "DBPOOL_MAX_LIFETIME"
	EnvRetryAttempts       = "DBPOOL_RETRY_ATTEMPTS"
	EnvRetryDelay          = "DBPOOL_RETRY_DELAY"
)

// FromEnv layers environment-variable overrides on top of DefaultPoolConfig.
func FromEnv() (PoolConfig, error) {
	return fromEnvLookup(os.LookupEnv)
}

func fromEnvLookup(lookup func(string) (string, bool)) (PoolConfig, error) {
	cfg := DefaultPoolConfig()

	if v, ok := lookup(EnvBaseSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvBaseSize, err)
		}
		cfg.BaseSize = n
	}
	if v, ok := lookup(EnvOverflow); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvOverflow, err)
		}
		cfg.Overflow = n
	}
	if v, ok := lookup(EnvConnectionTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvConnectionTimeout, err)
		}
		cfg.ConnectionTimeout = d
	}
	if v, ok := lookup(EnvMaxIdleTime); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvMaxIdleTime, err)
		}
		cfg.MaxIdleTime = d
	}
	if v, ok := lookup(EnvHealthCheckInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvHealthCheckInterval, err)
		}
		cfg.HealthCheckInterval = d
	}
	if v, ok := lookup(EnvMaxLifetime); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvMaxLifetime, err)
		}
		cfg.MaxLifetime = d
	}
	if v, ok := lookup(EnvRetryAttempts); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvRetryAttempts, err)
		}
		cfg.RetryAttempts = n
	}
	if v, ok := lookup(EnvRetryDelay); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", EnvRetryDelay, err)
		}
		cfg.RetryDelay = d
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadOverrideFile reads a YAML pool-tuning file and layers it on top of
// base. Missing keys in the file leave base's values untouched. The file
// is optional: callers typically pass the result of FromEnv as base so an
// absent or partial file degrades to environment/defaults.
func LoadOverrideFile(path string, base PoolConfig) (PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading pool config override: %w", err)
	}
	data = substituteEnvVars(data)

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parsing pool config override: %w", err)
	}
	return cfg, nil
}

// Watcher watches a pool-tuning YAML file for changes and invokes the
// callback with the freshly reloaded config, layered on top of the
// environment baseline. Mirrors the teacher's config.Watcher.
type Watcher struct {
	path     string
	base     PoolConfig
	callback func(PoolConfig)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path for changes, calling callback with the
// reloaded PoolConfig on every debounced write.
func NewWatcher(path string, base PoolConfig, callback func(PoolConfig)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating pool config watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching pool config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		base:     base,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := LoadOverrideFile(cw.path, cw.base)
	if err != nil {
		return
	}
	cw.callback(cfg)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
