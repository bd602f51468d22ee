package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("session")
	require.NotNil(t, logger)

	// Must be usable with and without context.
	logger.Info().Msg("plain")
	logger.WithContext(context.Background()).Debug().Msg("with context")
}

func TestSetGlobalLevel(t *testing.T) {
	SetGlobalLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	// Unknown levels fall back to info instead of failing.
	SetGlobalLevel("chatty")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	SetGlobalLevel("info")
}

func TestInitOTEL_NoEndpoint(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitOTEL(ctx, Config{ServiceName: "cloudsweep-test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NotNil(t, PrometheusRegistry)

	assert.NoError(t, shutdown(ctx))
}
