package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/shadowsync/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	StateDirectory string        `yaml:"state_directory"`
	DBPath         string        `yaml:"db_path"`
	MinDiskFree    string        `yaml:"min_disk_free"`
	API            APIConfig     `yaml:"api"`
	Mapping        MappingConfig `yaml:"mapping"`
	Inputs         []InputConfig `yaml:"inputs"`
}

// APIConfig holds credentials and endpoints for the reporting API
type APIConfig struct {
	Key            string `yaml:"key"`
	Secret         string `yaml:"secret"`
	URL            string `yaml:"url"`
	DownloadURL    string `yaml:"download_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MappingConfig holds the field-mapping document settings
type MappingConfig struct {
	URL        string `yaml:"url"`
	AutoUpdate bool   `yaml:"auto_update"`
}

// InputConfig describes one polling target: which reports to pull and
// where the resulting events or notifications go.
type InputConfig struct {
	Name         string     `yaml:"name"`
	Reports      []string   `yaml:"reports"`
	Types        []string   `yaml:"types"`
	EventClassID string     `yaml:"event_class_id"`
	URLPrefix    string     `yaml:"url_prefix"`
	Sink         SinkConfig `yaml:"sink"`
}

// SinkConfig selects and configures a delivery sink. Type is one of
// "syslog", "file", "kafka", "redis", or "stomp"; the remaining fields
// apply per type.
type SinkConfig struct {
	Type string `yaml:"type"`

	// syslog
	Facility string `yaml:"facility"`
	Tag      string `yaml:"tag"`

	// file
	Path string `yaml:"path"`

	// kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// redis / stomp
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Login    string `yaml:"login"`
	Passcode string `yaml:"passcode"`
	Queue    string `yaml:"queue"`
}

// SinkTypes lists the supported sink type names.
var SinkTypes = []string{"syslog", "file", "kafka", "redis", "stomp"}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		StateDirectory: "/var/lib/shadowsync",
		MinDiskFree:    "512MB",
		API: APIConfig{
			URL:            "https://transform.shadowserver.org/api2/",
			DownloadURL:    "https://dl.shadowserver.org/",
			TimeoutSeconds: 45,
		},
		Mapping: MappingConfig{
			URL: "https://interchange.shadowserver.org/elasticsearch/v1/map",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"shadowsync.yaml",
		"/etc/shadowsync/shadowsync.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "shadowsync", "shadowsync.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks that the configuration is usable for a sync run.
func (c *Config) Validate() error {
	if c.StateDirectory == "" {
		return fmt.Errorf("state_directory is required")
	}
	if c.API.Key == "" || c.API.Secret == "" {
		return fmt.Errorf("api.key and api.secret are required")
	}
	if _, err := c.MinDiskFreeBytes(); err != nil {
		return fmt.Errorf("min_disk_free: %w", err)
	}
	if _, err := safety.ValidateHTTPURL(c.API.URL); err != nil {
		return fmt.Errorf("api.url: %w", err)
	}
	if _, err := safety.ValidateHTTPURL(c.API.DownloadURL); err != nil {
		return fmt.Errorf("api.download_url: %w", err)
	}
	if c.Mapping.AutoUpdate || c.Mapping.URL != "" {
		if _, err := safety.ValidateHTTPURL(c.Mapping.URL); err != nil {
			return fmt.Errorf("mapping.url: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Inputs))
	for _, in := range c.Inputs {
		if in.Name == "" {
			return fmt.Errorf("input section without a name")
		}
		if seen[in.Name] {
			return fmt.Errorf("duplicate input section %q", in.Name)
		}
		seen[in.Name] = true

		if err := in.Sink.Validate(); err != nil {
			return fmt.Errorf("input %q: %w", in.Name, err)
		}
	}
	return nil
}

// Validate checks the sink descriptor for a known type and required fields.
func (s *SinkConfig) Validate() error {
	switch s.Type {
	case "syslog":
		// facility defaults to user
	case "file":
		if s.Path == "" {
			return fmt.Errorf("file sink requires a path")
		}
	case "kafka":
		if len(s.Brokers) == 0 || s.Topic == "" {
			return fmt.Errorf("kafka sink requires brokers and a topic")
		}
	case "redis", "stomp":
		if s.Addr == "" || s.Queue == "" {
			return fmt.Errorf("%s sink requires addr and queue", s.Type)
		}
	case "":
		return fmt.Errorf("sink type is required")
	default:
		return fmt.Errorf("unknown sink type %q (supported: %v)", s.Type, SinkTypes)
	}
	return nil
}

// MinDiskFreeBytes parses the configured free-space threshold.
func (c *Config) MinDiskFreeBytes() (uint64, error) {
	n, err := ParseSize(c.MinDiskFree)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// InputDir returns the checkpoint directory for an input section.
func (c *Config) InputDir(name string) string {
	return filepath.Join(c.StateDirectory, name)
}

// MapPath returns the path of the active field-mapping document.
func (c *Config) MapPath() string {
	return filepath.Join(c.StateDirectory, "map.json")
}
