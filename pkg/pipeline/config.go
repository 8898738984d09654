package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement/scraping"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/logging"
)

// Environment variables that override file and preset values
const (
	EnvDataDir  = "COURSECRAWL_DATA_DIR"
	EnvLogLevel = "COURSECRAWL_LOG_LEVEL"
	EnvWorkers  = "COURSECRAWL_WORKERS"
	EnvBrowser  = "COURSECRAWL_BROWSER"
	EnvPort     = "COURSECRAWL_PORT"
)

// PipelineConfig holds complete pipeline configuration
type PipelineConfig struct {
	// Logging configuration
	Logging *logging.LogConfig `json:"logging"`

	// Crawl stack configuration
	Scraping scraping.ServiceConfig `json:"scraping"`

	// Server configuration
	Server *ServerConfig `json:"server"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	MaxRequestSize int           `json:"max_request_size"`
	// MaxResultsLimit caps max_results accepted by the scrape endpoint
	MaxResultsLimit int `json:"max_results_limit"`
}

// Address returns host:port for listening
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultPipelineConfig returns a complete default configuration
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Logging:  logging.DefaultLogConfig(),
		Scraping: scraping.DefaultServiceConfig(),
		Server: &ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			MaxRequestSize:  1024 * 1024,
			MaxResultsLimit: 50,
		},
	}
}

// ProductionPipelineConfig returns production-ready configuration
func ProductionPipelineConfig() *PipelineConfig {
	config := DefaultPipelineConfig()

	// Production logging
	config.Logging.Level = "info"
	config.Logging.Format = "json"
	config.Logging.Console = false

	// Production crawling
	config.Scraping.Crawler.Workers = 8
	config.Scraping.BadEntryTTL = 30 * 24 * time.Hour

	return config
}

// DevelopmentPipelineConfig returns development configuration
func DevelopmentPipelineConfig() *PipelineConfig {
	config := DefaultPipelineConfig()

	// Development logging
	config.Logging.Level = "debug"
	config.Logging.Format = "pretty"
	config.Logging.Console = true
	config.Logging.OutputFile = ""

	// Development crawling
	config.Scraping.Crawler.Workers = 2
	config.Scraping.Browser.Headless = false

	return config
}

// PresetConfig returns the named preset: default, development or production
func PresetConfig(name string) (*PipelineConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultPipelineConfig(), nil
	case "dev", "development":
		return DevelopmentPipelineConfig(), nil
	case "prod", "production":
		return ProductionPipelineConfig(), nil
	}
	return nil, fmt.Errorf("unknown config preset %q", name)
}

// LoadConfig overlays the JSON file at path on the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func LoadConfig(path string) (*PipelineConfig, error) {
	return LoadConfigFrom(DefaultPipelineConfig(), path)
}

// LoadConfigFrom is LoadConfig starting from base instead of the defaults
func LoadConfigFrom(base *PipelineConfig, path string) (*PipelineConfig, error) {
	config := base
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv applies COURSECRAWL_* overrides read through lookup
func (c *PipelineConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	var result error

	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Scraping.DataDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvWorkers, err))
		} else {
			c.Scraping.Crawler.Workers = n
		}
	}
	if v, ok := lookup(EnvBrowser); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvBrowser, err))
		} else {
			c.Scraping.UseBrowser = b
		}
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvPort, err))
		} else {
			c.Server.Port = n
		}
	}
	return result
}

// Validate reports every configuration problem at once
func (c *PipelineConfig) Validate() error {
	var result error

	if c.Logging == nil {
		result = multierror.Append(result, fmt.Errorf("logging configuration is required"))
	} else {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid log level %q", c.Logging.Level))
		}
		if c.Logging.Format != "json" && c.Logging.Format != "pretty" {
			result = multierror.Append(result, fmt.Errorf("invalid log format %q", c.Logging.Format))
		}
	}

	if err := c.Scraping.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Server == nil {
		result = multierror.Append(result, fmt.Errorf("server configuration is required"))
	} else {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			result = multierror.Append(result, fmt.Errorf("invalid server port %d", c.Server.Port))
		}
		if c.Server.MaxResultsLimit < 1 {
			result = multierror.Append(result, fmt.Errorf("max_results_limit must be at least 1"))
		}
	}
	return result
}
