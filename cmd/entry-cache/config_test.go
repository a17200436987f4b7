package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
origin: https://origin.example.com
host: www.example.com
dataDir: /var/cache/entries
persist: true
refreshInterval: 5m
log:
  file: /var/log/entry-cache.log
  compress: true
rules:
  - prefix: /static/
    default: max-age=3600
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Config invalid: %v", err)
	}
	if config.Listen != ":8080" || config.DB != "cache.db" {
		t.Errorf("Defaults not applied: %+v", config)
	}
	if config.Log.MaxSizeMB != 100 || !config.Log.Compress {
		t.Errorf("Unexpected log config: %+v", config.Log)
	}
	if interval, _ := config.GetRefreshInterval(); interval != 5*time.Minute {
		t.Errorf("Expected refresh interval 5m, got %s", interval)
	}
	if len(config.Rules) != 1 || config.Rules[0].Default != "max-age=3600" {
		t.Errorf("Unexpected rules: %+v", config.Rules)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := defaultConfig()
	valid.Origin = "https://origin.example.com"

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing origin", func(c *Config) { c.Origin = "" }, true},
		{"bad scheme", func(c *Config) { c.Origin = "ftp://origin.example.com" }, true},
		{"missing host", func(c *Config) { c.Origin = "https://" }, true},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, true},
		{"bad interval", func(c *Config) { c.Persist = true; c.RefreshInterval = "soon" }, true},
		{"refresh without persist", func(c *Config) { c.RefreshInterval = "1m" }, true},
		{"refresh with persist", func(c *Config) { c.Persist = true; c.RefreshInterval = "1m" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.modify(&config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
