package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultCompressionLevel = 6

// LoadFromFile reads a JSON config, or YAML when the file has a .yaml/.yml extension.
// The returned config is normalized but not validated.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	default:
		err = json.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, err
	}

	cfg.Normalize()
	return &cfg, nil
}

// Normalize cleans and deduplicates source paths and fills defaults.
func (c *Config) Normalize() {
	c.Method = Method(strings.ToLower(strings.TrimSpace(string(c.Method))))
	c.Destination = strings.TrimSpace(c.Destination)

	paths := make([]string, 0, len(c.SourcePaths))
	for _, p := range c.SourcePaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	c.SourcePaths = paths

	if c.Method == MethodLocal && c.Destination != "" {
		c.Destination = filepath.Clean(c.Destination)
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = defaultCompressionLevel
	}
}

// Validate checks the fields a run needs. It does not touch the filesystem.
func (c *Config) Validate() error {
	var errs []error
	if !c.Method.Valid() {
		errs = append(errs, fmt.Errorf("method must be one of local, repository, remote, got %q", c.Method))
	}
	if len(c.SourcePaths) == 0 {
		errs = append(errs, errors.New("at least one source path is required"))
	}
	for _, p := range c.SourcePaths {
		if !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("source path must be absolute: %s", p))
		}
	}
	if c.Destination == "" {
		errs = append(errs, errors.New("destination is required"))
	}
	if c.RetentionCount < 0 {
		errs = append(errs, fmt.Errorf("retention count must not be negative, got %d", c.RetentionCount))
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		errs = append(errs, fmt.Errorf("compression level must be between 1 and 9, got %d", c.CompressionLevel))
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err))
		}
	}
	for _, pattern := range c.Excludes {
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err))
		}
	}
	return errors.Join(errs...)
}
