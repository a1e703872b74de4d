package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_SetsGlobalLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"info", "info", zerolog.InfoLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"unknown falls back to info", "verbose", zerolog.InfoLevel},
		{"empty falls back to info", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			New(Config{Level: tt.level})
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestNew_UsesRFC3339Timestamps(t *testing.T) {
	New(Config{Level: "info"})
	assert.Equal(t, time.RFC3339, zerolog.TimeFieldFormat)
}

func TestNew_WritesStructuredFields(t *testing.T) {
	l := New(Config{Level: "info"})

	var buf bytes.Buffer
	l = l.Output(&buf)
	l.Info().Str("vault_id", "v-1").Msg("cycle started")

	out := buf.String()
	assert.Contains(t, out, `"vault_id":"v-1"`)
	assert.Contains(t, out, "cycle started")
	assert.Contains(t, out, `"caller"`)
}

func TestNew_PrettyOutput(t *testing.T) {
	l := New(Config{Level: "info", Pretty: true})

	var buf bytes.Buffer
	l = l.Output(&buf)
	l.Info().Msg("pretty message")

	assert.Contains(t, buf.String(), "pretty message")
}

func TestNew_ErrorLevelFiltersInfo(t *testing.T) {
	l := New(Config{Level: "error"})

	var buf bytes.Buffer
	l = l.Output(&buf)

	l.Info().Msg("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	l.Error().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetGlobalLogger(t *testing.T) {
	l := New(Config{Level: "debug"})
	SetGlobalLogger(l)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	SetGlobalLogger(zerolog.Nop())
}
