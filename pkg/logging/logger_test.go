package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger_WritesToFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	path := filepath.Join(t.TempDir(), "logs", "crawl.log")
	err := SetupLogger(&LogConfig{Level: "debug", Format: "json", OutputFile: path})
	require.NoError(t, err)

	logger := GetLogger("url_state")
	logger.Info().Str("url", "https://example.com").Msg("marked scraped")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"url_state"`)
	assert.Contains(t, string(data), "marked scraped")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	err := SetupLogger(&LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestSetupLogger_Validation(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	tests := []struct {
		name    string
		config  *LogConfig
		wantErr bool
	}{
		{"json console", &LogConfig{Level: "info", Format: FormatJSON, Console: true}, false},
		{"pretty console", &LogConfig{Level: "warn", Format: FormatPretty, Console: true}, false},
		{"no writers", &LogConfig{Level: "info"}, false},
		{"unknown format", &LogConfig{Level: "info", Format: "xml", Console: true}, true},
		{"nested log directory", &LogConfig{Level: "info", OutputFile: filepath.Join(t.TempDir(), "file", "x.log")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetupLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGetPageLogger(t *testing.T) {
	prev := log.Logger
	defer func() { log.Logger = prev }()

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	logger := GetPageLogger("https://docs.example.com/a", "example.com")
	logger.Info().Msg("fetched")

	assert.Contains(t, buf.String(), `"url":"https://docs.example.com/a"`)
	assert.Contains(t, buf.String(), `"domain":"example.com"`)
}
