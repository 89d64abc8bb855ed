package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/OpenAudit/internal/browser"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/store"
)

// Config holds all auditor configuration.
type Config struct {
	// Default policy for crawls created without explicit limits
	Policy model.Policy `json:"policy" yaml:"policy"`

	// HTTP fetching
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Headless rendering
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Persistence
	Store store.Config `json:"store" yaml:"store"`

	// HTML snapshots
	Snapshots SnapshotConfig `json:"snapshots" yaml:"snapshots"`

	// Stale crawl monitor
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`

	// Crawl worker pool
	Workers WorkerConfig `json:"workers" yaml:"workers"`

	// Logging
	Log LogConfig `json:"log" yaml:"log"`

	// Extra blacklisted domains
	Blacklist BlacklistConfig `json:"blacklist" yaml:"blacklist"`

	// How often a running crawl checks that its record still exists
	LivenessInterval time.Duration `json:"liveness_interval" yaml:"liveness_interval"`
}

// HTTPConfig configures page fetches and link status checks.
type HTTPConfig struct {
	Timeout       time.Duration     `json:"timeout" yaml:"timeout"`
	StatusTimeout time.Duration     `json:"status_timeout" yaml:"status_timeout"`
	MaxBodyBytes  int64             `json:"max_body_bytes" yaml:"max_body_bytes"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	SkipTLSVerify bool              `json:"skip_tls_verify" yaml:"skip_tls_verify"`
}

// SnapshotConfig configures where rendered HTML is kept.
type SnapshotConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
}

// MonitorConfig configures the stale crawl monitor.
type MonitorConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	RunningTimeout time.Duration `json:"running_timeout" yaml:"running_timeout"`
	QueuedTimeout  time.Duration `json:"queued_timeout" yaml:"queued_timeout"`
}

// WorkerConfig configures how many crawls run at once.
type WorkerConfig struct {
	Concurrency  int           `json:"concurrency" yaml:"concurrency"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// BlacklistConfig lists domains added to the built-in blacklist.
type BlacklistConfig struct {
	Custom []string `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Policy: model.DefaultPolicy(),
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			StatusTimeout: 10 * time.Second,
			MaxBodyBytes:  5 * 1024 * 1024,
		},
		Browser: browser.DefaultConfig(),
		Store:   store.DefaultConfig(),
		Snapshots: SnapshotConfig{
			Enabled: true,
			Dir:     "./data/snapshots",
		},
		Monitor: MonitorConfig{
			Interval:       5 * time.Minute,
			RunningTimeout: 30 * time.Minute,
			QueuedTimeout:  60 * time.Minute,
		},
		Workers: WorkerConfig{
			Concurrency:  4,
			PollInterval: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		LivenessInterval: 30 * time.Second,
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. Paths ending in .json are
// written as JSON, everything else as YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}

	if c.Browser.PoolSize < 1 {
		return fmt.Errorf("browser pool size must be at least 1")
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}

	if c.Snapshots.Enabled && c.Snapshots.Dir == "" {
		return fmt.Errorf("snapshot dir is required when snapshots are enabled")
	}

	if c.Workers.Concurrency < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.Monitor.RunningTimeout <= 0 || c.Monitor.QueuedTimeout <= 0 {
		return fmt.Errorf("monitor timeouts must be positive")
	}

	if c.LivenessInterval <= 0 {
		return fmt.Errorf("liveness interval must be positive")
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.HTTP.Headers != nil {
		clone.HTTP.Headers = make(map[string]string, len(c.HTTP.Headers))
		for k, v := range c.HTTP.Headers {
			clone.HTTP.Headers[k] = v
		}
	}
	if c.Browser.Headers != nil {
		clone.Browser.Headers = make(map[string]string, len(c.Browser.Headers))
		for k, v := range c.Browser.Headers {
			clone.Browser.Headers[k] = v
		}
	}
	clone.Blacklist.Custom = append([]string(nil), c.Blacklist.Custom...)
	return &clone
}
