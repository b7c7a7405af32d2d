// Package config handles configuration loading for the phylo-tiles server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	QuerySizeMB     int `yaml:"query_size_mb"`
	QueryTTLMinutes int `yaml:"query_ttl_minutes"`
	NodeCacheSize   int `yaml:"node_cache_size"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	PreviewWidth  int `yaml:"preview_width"`
	PreviewHeight int `yaml:"preview_height"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			Path: "./data/tree.jsonl.gz",
		},
		Cache: CacheConfig{
			QuerySizeMB:     256,
			QueryTTLMinutes: 10,
			NodeCacheSize:   4096,
		},
		Render: RenderConfig{
			PreviewWidth:  1024,
			PreviewHeight: 768,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.Path == "" {
		cfg.Data.Path = defaults.Data.Path
	}
	if cfg.Cache.QuerySizeMB == 0 {
		cfg.Cache.QuerySizeMB = defaults.Cache.QuerySizeMB
	}
	if cfg.Cache.QueryTTLMinutes == 0 {
		cfg.Cache.QueryTTLMinutes = defaults.Cache.QueryTTLMinutes
	}
	if cfg.Cache.NodeCacheSize == 0 {
		cfg.Cache.NodeCacheSize = defaults.Cache.NodeCacheSize
	}
	if cfg.Render.PreviewWidth == 0 {
		cfg.Render.PreviewWidth = defaults.Render.PreviewWidth
	}
	if cfg.Render.PreviewHeight == 0 {
		cfg.Render.PreviewHeight = defaults.Render.PreviewHeight
	}
}
