package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress   string `json:"server_address"`
	DefaultProvider string `json:"default_provider"`
	FileBaseDir     string `json:"file_base_dir"`

	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	QueueSize             int `json:"queue_size"`
	MaxConcurrentCalls    int `json:"max_concurrent_calls"`
	WorkerIdleTimeout     int `json:"worker_idle_timeout_minutes"`
	UploadTTL             int `json:"upload_ttl_minutes"`
	UploadCleanInterval   int `json:"upload_clean_interval_minutes"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}
	if cfg.BasicConfig.DefaultProvider == "" {
		return nil, fmt.Errorf("default_provider must be configured")
	}
	if _, ok := cfg.Providers[cfg.BasicConfig.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %s is not configured", cfg.BasicConfig.DefaultProvider)
	}

	if cfg.BasicConfig.FileBaseDir != "" && !filepath.IsAbs(cfg.BasicConfig.FileBaseDir) {
		cfg.BasicConfig.FileBaseDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.FileBaseDir)
	}

	return &cfg, nil
}
