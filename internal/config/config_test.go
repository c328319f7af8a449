package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
server:
  port: "9090"
rooms:
  defaultMaxParticipants: 6
  autoEndGrace: 25s
scoring:
  basePoints: 200
  floorFactor: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	t.Setenv("REDIS_ADDR", "localhost:6380")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 6, cfg.Rooms.DefaultMaxParticipants)
	assert.Equal(t, 200, cfg.Scoring.BasePoints)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.Equal(t, 25*time.Second, TTLDuration(cfg.Rooms.AutoEndGrace, time.Second))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.Port)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := Config{}
	cfg.Rooms.DefaultMaxParticipants = 1
	assert.Error(t, cfg.Validate())

	cfg.Rooms.DefaultMaxParticipants = 4
	cfg.Scoring.FloorFactor = 1.5
	assert.Error(t, cfg.Validate())
}

func TestTTLDuration(t *testing.T) {
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("garbage", time.Minute))
	assert.Equal(t, 90*time.Second, TTLDuration("90s", time.Minute))
}
