package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.NotEmpty(t, cfg.AuthSecret)
	assert.Equal(t, "info", cfg.LogLevel)

	// Load is memoized; a second call returns the same snapshot.
	assert.Equal(t, cfg, Load())
}
