package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.False(t, cfg.Pretty)
	assert.NotNil(t, cfg.Output)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

// TestSetup_LevelFiltering logs one line per level and checks which survive.
func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{LevelDebug, []string{"page fetch started", "range resolved", "page fetch failed", "error limit critical"}},
		{LevelInfo, []string{"range resolved", "page fetch failed", "error limit critical"}},
		{LevelWarn, []string{"page fetch failed", "error limit critical"}},
		{LevelError, []string{"error limit critical"}},
	}
	all := []string{"page fetch started", "range resolved", "page fetch failed", "error limit critical"}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			logger.Debug().Msg(all[0])
			logger.Info().Msg(all[1])
			logger.Warn().Msg(all[2])
			logger.Error().Msg(all[3])

			output := buf.String()
			for _, msg := range all {
				want := false
				for _, w := range tt.want {
					want = want || w == msg
				}
				assert.Equal(t, want, strings.Contains(output, msg), "message %q at level %s", msg, tt.level)
			}
		})
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger.Info().Int("page", 2).Msg("Page resolved")

	output := buf.String()
	assert.Contains(t, output, "Page resolved")
	assert.False(t, strings.HasPrefix(output, "{"), "pretty output is not JSON")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_PRETTY", "true")

	cfg := ConfigFromEnv()
	assert.Equal(t, LevelDebug, cfg.Level)
	assert.True(t, cfg.Pretty)
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_PRETTY", "not-a-bool")

	cfg := ConfigFromEnv()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.False(t, cfg.Pretty)
}

func TestNewLogger_PageFields(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelDebug, Output: buf})

	logger := NewLogger("paged")
	logger.Debug().Int("page", 3).Str("fetch_id", "abc").Int("waiters", 2).Msg("Joined page fetch")

	output := buf.String()
	require.NotEmpty(t, output)
	for _, want := range []string{`"component":"paged"`, `"page":3`, `"fetch_id":"abc"`, `"waiters":2`, `"time"`} {
		assert.Contains(t, output, want)
	}
}
