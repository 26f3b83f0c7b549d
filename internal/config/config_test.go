package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token123")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("DEFAULT_TIMEZONE", "")
	t.Setenv("EXPIRY_GRACE_MINUTES", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "token123", cfg.DiscordToken)
	assert.Equal(t, "./data/gyms.db", cfg.DatabasePath)
	assert.Equal(t, "UTC", cfg.DefaultTimezone)
	assert.Equal(t, 5, cfg.ExpiryGraceMinutes)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadValidatesTimezone(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token123")
	t.Setenv("DEFAULT_TIMEZONE", "Nowhere/Nonsense")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadValidatesGrace(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token123")
	t.Setenv("DEFAULT_TIMEZONE", "")
	t.Setenv("EXPIRY_GRACE_MINUTES", "soon")

	_, err := Load()
	assert.Error(t, err)
}
