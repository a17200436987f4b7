package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	responsetransformer "github.com/always-cache/entry-cache/pkg/response-transformer"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen string `yaml:"listen"`
	// Origin URL to fetch from.
	Origin string `yaml:"origin"`
	// Hostname sent to the origin, if different from the origin URL.
	Host    string `yaml:"host"`
	DataDir string `yaml:"dataDir"`
	// Metadata DB file name, "memory" for an in-memory db.
	DB              string `yaml:"db"`
	MemoryThreshold int64  `yaml:"memoryThreshold"`
	// Persist entries across restarts.
	Persist               bool                      `yaml:"persist"`
	IgnoreTransportErrors bool                      `yaml:"ignoreTransportErrors"`
	RefreshInterval       string                    `yaml:"refreshInterval"`
	Log                   LogConfig                 `yaml:"log"`
	Rules                 responsetransformer.Rules `yaml:"rules"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

func defaultConfig() Config {
	return Config{
		Listen:  ":8080",
		DataDir: "data",
		DB:      "cache.db",
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load reads the YAML config file at path over the defaults.
func Load(path string) (Config, error) {
	config := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config YAML: %w", err)
	}
	return config, nil
}

func (c Config) OriginURL() (*url.URL, error) {
	return url.Parse(c.Origin)
}

func (c Config) GetRefreshInterval() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.RefreshInterval)
}

func (c Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	u, err := c.OriginURL()
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("origin host is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.DB == "" {
		return fmt.Errorf("db is required")
	}
	if interval, err := c.GetRefreshInterval(); err != nil {
		return fmt.Errorf("invalid refresh interval: %w", err)
	} else if interval < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	if c.RefreshInterval != "" && !c.Persist {
		return fmt.Errorf("refresh requires persist")
	}
	return nil
}
