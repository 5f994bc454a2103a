package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 127.0.0.1\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)

	assert.Equal(t, "http://localhost:8501", cfg.Model.ServiceURL)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
	assert.Equal(t, "segformer", cfg.Model.DefaultModelType)
	assert.Equal(t, 0.5, cfg.Model.ConfidenceThreshold)
	assert.Equal(t, 100, cfg.Model.MinContourArea)
	assert.Equal(t, 0.005, cfg.Model.PolygonEpsilon)

	assert.Equal(t, 1, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 10, cfg.Jobs.PreviewInterval)
	assert.Equal(t, 70, cfg.Jobs.PreviewJPEGQuality)
	assert.False(t, cfg.Jobs.StageInputs)

	assert.Equal(t, 5, cfg.Motion.SampleInterval)
	assert.Equal(t, 320, cfg.Motion.DownscaleWidth)
	assert.Equal(t, 180, cfg.Motion.DownscaleHeight)

	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join("./data", "projects"), cfg.Storage.ProjectsDir)
	assert.Equal(t, filepath.Join("./data", "inspectord.db"), cfg.Storage.StateDB)
	assert.Equal(t, filepath.Join("./data", "staging"), cfg.Jobs.StagingDir)

	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.False(t, cfg.Metrics.Enabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "stdout", cfg.Log.Output)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 10.0.0.5
  port: 8080
model:
  service_url: http://gpu-node:8501
  timeout: 60s
  default_model_type: yolo
jobs:
  max_concurrent: 2
  stage_inputs: true
  persistent_registry: true
storage:
  data_dir: /var/lib/inspectord
metrics:
  enabled: true
  port: 9100
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://gpu-node:8501", cfg.Model.ServiceURL)
	assert.Equal(t, 60*time.Second, cfg.Model.Timeout)
	assert.Equal(t, "yolo", cfg.Model.DefaultModelType)
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.True(t, cfg.Jobs.StageInputs)
	assert.True(t, cfg.Jobs.PersistentRegistry)
	assert.Equal(t, "/var/lib/inspectord", cfg.Storage.DataDir)
	// Derived paths follow the data directory
	assert.Equal(t, filepath.Join("/var/lib/inspectord", "projects"), cfg.Storage.ProjectsDir)
	assert.Equal(t, filepath.Join("/var/lib/inspectord", "staging"), cfg.Jobs.StagingDir)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: map\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse configuration")
}
