package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followme/followme-hub/internal/domain/training"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Redis.ProgressTTL)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.BoardRebuild)
	assert.Equal(t, time.Hour, cfg.Scheduler.ChallengeRollover)

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.4, engine.Weights[training.ActivityBike])
	assert.Equal(t, 1.0, engine.Weights[training.ActivitySki])
	assert.Equal(t, 10.0, engine.Score.PointsPerKm)
	assert.Equal(t, int64(50), engine.Score.UnlockBonus)
	assert.Equal(t, []int64{0, 100, 500, 1000, 5000, 10000, 50000}, engine.Score.Curve.Thresholds)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/followme")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_LOCK_WAIT", "2s")
	t.Setenv("PROGRESSION_WEIGHTS_BIKE", "0.5")
	t.Setenv("PROGRESSION_LEVEL_THRESHOLDS", "0,50,200")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/followme", cfg.Database.URL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Redis.LockWait)

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.5, engine.Weights[training.ActivityBike])
	assert.Equal(t, 0.6, engine.Weights[training.ActivityWalk])
	assert.Equal(t, []int64{0, 50, 200}, engine.Score.Curve.Thresholds)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "followme.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: memory
http:
  addr: ":9090"
progression:
  unlock_bonus: 75
catalog:
  path: /etc/followme/catalog.yaml
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, int64(75), cfg.Progression.UnlockBonus)
	assert.Equal(t, "/etc/followme/catalog.yaml", cfg.Catalog.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "STORAGE_DRIVER"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "DATABASE_URL"},
		{"memory in production", func(c *Config) {
			c.Storage.Driver = DriverMemory
			c.App.Environment = EnvProduction
		}, "memory driver"},
		{"unknown activity weight", func(c *Config) { c.Progression.Weights["swim"] = 1 }, "swim"},
		{"negative weight", func(c *Config) { c.Progression.Weights["run"] = -1 }, "negative"},
		{"thresholds not increasing", func(c *Config) { c.Progression.LevelThresholds = []int64{0, 10, 10} }, "strictly increasing"},
		{"thresholds not from zero", func(c *Config) { c.Progression.LevelThresholds = []int64{5, 10} }, "start at 0"},
		{"zero points per km", func(c *Config) { c.Progression.PointsPerKm = 0 }, "POINTS_PER_KM"},
		{"negative job interval", func(c *Config) { c.Scheduler.ChallengeRollover = -time.Minute }, "scheduler intervals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
