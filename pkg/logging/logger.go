package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log formats accepted by SetupLogger
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // json, pretty
	OutputFile string `json:"output_file"` // empty disables file output
	Console    bool   `json:"console"`
}

// DefaultLogConfig logs JSON to stderr and logs/coursecrawl.log
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		Format:     FormatJSON,
		OutputFile: "logs/coursecrawl.log",
		Console:    true,
	}
}

// SetupLogger replaces the global logger. The log file, when configured, is
// always written as JSON; Format only affects console output.
func SetupLogger(config *LogConfig) error {
	if config == nil {
		config = DefaultLogConfig()
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return err
	}
	if config.Format != "" && config.Format != FormatJSON && config.Format != FormatPretty {
		return fmt.Errorf("unknown log format %q", config.Format)
	}

	writers, err := buildWriters(config)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(level)
	switch len(writers) {
	case 0:
		log.Logger = zerolog.Nop()
		return nil
	case 1:
		log.Logger = zerolog.New(writers[0]).With().Timestamp().Logger()
	default:
		log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	}

	log.Debug().
		Str("level", level.String()).
		Str("format", config.Format).
		Str("output_file", config.OutputFile).
		Msg("Logger initialized")
	return nil
}

func buildWriters(config *LogConfig) ([]io.Writer, error) {
	var writers []io.Writer
	if config.Console {
		if config.Format == FormatPretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	if config.OutputFile == "" {
		return writers, nil
	}
	if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return append(writers, file), nil
}

// GetLogger returns a logger tagged with component
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// GetCrawlLogger returns a logger bound to one crawl run
func GetCrawlLogger(runID, query string) zerolog.Logger {
	return log.With().
		Str("run_id", runID).
		Str("query", query).
		Logger()
}

// GetPageLogger returns a logger bound to one candidate page
func GetPageLogger(url, domain string) zerolog.Logger {
	return log.With().
		Str("url", url).
		Str("domain", domain).
		Logger()
}

// GetStorageLogger returns a logger for knowledge base operations
func GetStorageLogger(operation, backend string) zerolog.Logger {
	return log.With().
		Str("storage_operation", operation).
		Str("backend", backend).
		Logger()
}
