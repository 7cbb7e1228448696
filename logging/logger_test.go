package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitComponent(t *testing.T) {
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	logger := Component("orchestrator")
	logger.Debug().Int64("user_id", 7).Msg("state")

	out := buf.String()
	assert.Contains(t, out, `"component":"orchestrator"`)
	assert.Contains(t, out, `"user_id":7`)
	assert.Contains(t, out, `"level":"debug"`)
}

func TestInitLevelFilters(t *testing.T) {
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})

	logger := Logger()
	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"off", zerolog.Disabled},
		{"DEBUG", zerolog.DebugLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	id := NewRequestID()
	require.Len(t, id, 36)
	assert.NotEqual(t, id, NewRequestID())

	ctx = ContextWithRequestID(ctx, id)
	assert.Equal(t, id, RequestIDFromContext(ctx))
}
