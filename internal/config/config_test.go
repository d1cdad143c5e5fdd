package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  api_key: secret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "facewatch.db", cfg.Database.SQLite.Path)
	assert.Equal(t, ProfileAccurate, cfg.Vision.DetectorProfile)
	assert.Equal(t, 640, cfg.Vision.FrameWidth)
	assert.InDelta(t, 0.6, cfg.Recognition.Threshold, 1e-9)
	assert.Equal(t, IndexLinear, cfg.Recognition.Index)
	assert.Equal(t, 30*time.Second, cfg.Recognition.RefreshInterval)
	assert.Equal(t, 24*time.Hour, cfg.MinIO.FrameRetention)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  api_key: k
  cors_origins: ["http://localhost:3000"]
database:
  driver: postgres
  postgres:
    host: db
    name: faces
    user: fw
    password: pw
nats:
  url: nats://queue:4222
minio:
  endpoint: minio:9000
  bucket: faces
  frame_retention: 2h
vision:
  models_dir: /models
  detector_profile: fast
recognition:
  threshold: 0.5
  index: hnsw
  refresh_interval: 10s
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://fw:pw@db:5432/faces?sslmode=disable", cfg.Database.Postgres.DSN())
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
	assert.True(t, cfg.MinIO.Enabled())
	assert.Equal(t, 2*time.Hour, cfg.MinIO.FrameRetention)
	assert.Equal(t, ProfileFast, cfg.Vision.DetectorProfile)
	assert.InDelta(t, 0.5, cfg.Recognition.Threshold, 1e-9)
	assert.Equal(t, IndexHNSW, cfg.Recognition.Index)
	assert.Equal(t, 10*time.Second, cfg.Recognition.RefreshInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")

	t.Setenv("FW_SERVER_PORT", "7070")
	t.Setenv("FW_API_KEY", "from-env")
	t.Setenv("FW_DB_DRIVER", "postgres")
	t.Setenv("FW_DB_HOST", "envdb")
	t.Setenv("FW_RECOGNITION_THRESHOLD", "0.45")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "envdb", cfg.Database.Postgres.Host)
	assert.InDelta(t, 0.45, cfg.Recognition.Threshold, 1e-9)
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "driver", body: "database:\n  driver: oracle\n"},
		{name: "profile", body: "vision:\n  detector_profile: turbo\n"},
		{name: "index", body: "recognition:\n  index: kdtree\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
