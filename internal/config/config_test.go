package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 259, cfg.MaxRooms)
	assert.Equal(t, 30*time.Minute, cfg.RoomIdleTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("MAX_ROOMS", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 5, cfg.MaxRooms)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsNonPositiveRoomLimit(t *testing.T) {
	t.Setenv("MAX_ROOMS", "0")
	_, err := Load("")
	assert.Error(t, err)
}
