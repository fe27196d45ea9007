package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Listen        string `yaml:"listen"`         // Address to listen on
	BaseURL       string `yaml:"base_url"`       // Public URL prefix for published artifacts
	MaxUploadSize int64  `yaml:"max_upload_mib"` // Per-request multipart limit in MiB
}

type SignerConfig struct {
	Command        []string `yaml:"command"`         // External signer command, with placeholders
	TimeoutSeconds int      `yaml:"timeout_seconds"` // Bounded wait for the signer
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Signer SignerConfig `yaml:"signer"`

	DataDir    string `yaml:"data_dir"`    // Credential store root
	WorkDir    string `yaml:"work_dir"`    // Per-request scratch workspaces
	UploadDir  string `yaml:"upload_dir"`  // Spool for uploaded archives
	PublishDir string `yaml:"publish_dir"` // Signed archives and manifests

	LogLevel string `yaml:"log_level"`
}

// ReadFile loads a YAML config and applies defaults.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := new(Config)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := config.Normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Normalize fills in defaults and validates required settings.
func (c *Config) Normalize() error {
	if c.Server.Listen == "" {
		c.Server.Listen = ":3000"
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 512
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.UploadDir == "" {
		c.UploadDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.PublishDir == "" {
		c.PublishDir = filepath.Join(c.DataDir, "signed")
	}
	if c.Signer.TimeoutSeconds <= 0 {
		c.Signer.TimeoutSeconds = 300
	}
	if len(c.Signer.Command) == 0 {
		return fmt.Errorf("signer.command is required")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// SignTimeout returns the signer timeout as a duration.
func (c *Config) SignTimeout() time.Duration {
	return time.Duration(c.Signer.TimeoutSeconds) * time.Second
}

// EnsureDirs creates every directory the daemon writes into.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.WorkDir, c.UploadDir, c.PublishDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
