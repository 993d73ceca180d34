// Package config loads configuration from environment variables, optionally
// layered over a YAML file named by CDNFS_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds cdnfs configuration shared by the host and the filesystem.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	DAVAddr     string `yaml:"dav_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Broadcast RPC
	ChannelID  string        `yaml:"channel_id"`
	RelayURL   string        `yaml:"relay_url"`
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
	// EmbeddedHost serves host functions in-process instead of using a relay.
	EmbeddedHost bool `yaml:"embedded_host"`

	// Filesystem
	RootSegment     string `yaml:"root_segment"`
	ProjectManifest string `yaml:"project_manifest"`

	// Bundled data sources
	ListingsFile   string `yaml:"listings_file"`
	LibraryPackage string `yaml:"library_package"`
	LibraryDir     string `yaml:"library_dir"`
	AssetPrefix    string `yaml:"asset_prefix"`
	AssetBaseURL   string `yaml:"asset_base_url"` // http(s)://... or s3://bucket/prefix

	// S3 asset store (used when AssetBaseURL is s3://)
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`

	// Registry CDN (host side)
	CDNDataURL string        `yaml:"cdn_data_url"`
	CDNFileURL string        `yaml:"cdn_file_url"`
	CDNTimeout time.Duration `yaml:"cdn_timeout"`
	CDNRetries int           `yaml:"cdn_retries"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:     ":8080",
		MetricsAddr:    ":9090",
		DAVAddr:        ":8081",
		LogLevel:       "info",
		LogFormat:      "json",
		ChannelID:      "cdnfs",
		RelayURL:       "http://localhost:8080",
		RPCTimeout:     10 * time.Second,
		RootSegment:    "/node_modules",
		LibraryPackage: "typescript",
		LibraryDir:     "lib",
		AssetPrefix:    "node_modules/typescript/lib/",
		S3Region:       "us-east-1",
		CDNDataURL:     "https://data.jsdelivr.com",
		CDNFileURL:     "https://cdn.jsdelivr.net",
		CDNTimeout:     30 * time.Second,
		CDNRetries:     3,
	}
}

// Load reads configuration: defaults, then the YAML file named by
// CDNFS_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CDNFS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = envOr("METRICS_ADDR", cfg.MetricsAddr)
	cfg.DAVAddr = envOr("DAV_ADDR", cfg.DAVAddr)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("LOG_FORMAT", cfg.LogFormat)
	cfg.ChannelID = envOr("CDNFS_CHANNEL_ID", cfg.ChannelID)
	cfg.RelayURL = envOr("CDNFS_RELAY_URL", cfg.RelayURL)
	cfg.RPCTimeout = envDuration("CDNFS_RPC_TIMEOUT", cfg.RPCTimeout)
	cfg.EmbeddedHost = envBool("CDNFS_EMBEDDED_HOST", cfg.EmbeddedHost)
	cfg.RootSegment = envOr("CDNFS_ROOT_SEGMENT", cfg.RootSegment)
	cfg.ProjectManifest = envOr("CDNFS_PROJECT_MANIFEST", cfg.ProjectManifest)
	cfg.ListingsFile = envOr("CDNFS_LISTINGS_FILE", cfg.ListingsFile)
	cfg.LibraryPackage = envOr("CDNFS_LIBRARY_PACKAGE", cfg.LibraryPackage)
	cfg.LibraryDir = envOr("CDNFS_LIBRARY_DIR", cfg.LibraryDir)
	cfg.AssetPrefix = envOr("CDNFS_ASSET_PREFIX", cfg.AssetPrefix)
	cfg.AssetBaseURL = envOr("CDNFS_ASSET_BASE_URL", cfg.AssetBaseURL)
	cfg.S3Endpoint = envOr("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = envOr("S3_REGION", cfg.S3Region)
	cfg.S3AccessKey = envOr("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = envOr("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.CDNDataURL = envOr("CDNFS_CDN_DATA_URL", cfg.CDNDataURL)
	cfg.CDNFileURL = envOr("CDNFS_CDN_FILE_URL", cfg.CDNFileURL)
	cfg.CDNTimeout = envDuration("CDNFS_CDN_TIMEOUT", cfg.CDNTimeout)
	cfg.CDNRetries = envInt("CDNFS_CDN_RETRIES", cfg.CDNRetries)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the program relies on.
func (c *Config) Validate() error {
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("rpc timeout must be positive, got %s", c.RPCTimeout)
	}
	if !strings.HasPrefix(c.RootSegment, "/") {
		return fmt.Errorf("root segment must start with /: %q", c.RootSegment)
	}
	if c.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
