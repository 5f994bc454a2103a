package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Motion  MotionConfig  `yaml:"motion"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// ServerConfig contains the HTTP API server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ModelConfig contains model execution service configuration
type ModelConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	DefaultModelType    string        `yaml:"default_model_type"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MinContourArea      int           `yaml:"min_contour_area"`
	PolygonEpsilon      float64       `yaml:"polygon_epsilon"` // fraction of contour perimeter
}

// JobsConfig contains inference job engine configuration
type JobsConfig struct {
	MaxConcurrent      int    `yaml:"max_concurrent"`
	PreviewInterval    int    `yaml:"preview_interval"` // frames between preview refreshes
	PreviewJPEGQuality int    `yaml:"preview_jpeg_quality"`
	StageInputs        bool   `yaml:"stage_inputs"`
	StagingDir         string `yaml:"staging_dir"`
	PersistentRegistry bool   `yaml:"persistent_registry"`
}

// MotionConfig contains motion analysis configuration
type MotionConfig struct {
	SampleInterval  int `yaml:"sample_interval"` // analyze every Nth frame
	DownscaleWidth  int `yaml:"downscale_width"`
	DownscaleHeight int `yaml:"downscale_height"`
}

// StorageConfig contains local data layout configuration
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	ProjectsDir string `yaml:"projects_dir"`
	StateDB     string `yaml:"state_db"`
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// defaultConfigPath returns the first existing well-known config location
func defaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/inspectord/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}

	if c.Model.ServiceURL == "" {
		c.Model.ServiceURL = "http://localhost:8501"
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = 30 * time.Second
	}
	if c.Model.DefaultModelType == "" {
		c.Model.DefaultModelType = "segformer"
	}
	if c.Model.ConfidenceThreshold == 0 {
		c.Model.ConfidenceThreshold = 0.5
	}
	if c.Model.MinContourArea == 0 {
		c.Model.MinContourArea = 100
	}
	if c.Model.PolygonEpsilon == 0 {
		c.Model.PolygonEpsilon = 0.005
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.ProjectsDir == "" {
		c.Storage.ProjectsDir = filepath.Join(c.Storage.DataDir, "projects")
	}
	if c.Storage.StateDB == "" {
		c.Storage.StateDB = filepath.Join(c.Storage.DataDir, "inspectord.db")
	}

	if c.Jobs.MaxConcurrent == 0 {
		c.Jobs.MaxConcurrent = 1
	}
	if c.Jobs.PreviewInterval == 0 {
		c.Jobs.PreviewInterval = 10
	}
	if c.Jobs.PreviewJPEGQuality == 0 {
		c.Jobs.PreviewJPEGQuality = 70
	}
	if c.Jobs.StagingDir == "" {
		c.Jobs.StagingDir = filepath.Join(c.Storage.DataDir, "staging")
	}

	if c.Motion.SampleInterval == 0 {
		c.Motion.SampleInterval = 5
	}
	if c.Motion.DownscaleWidth == 0 {
		c.Motion.DownscaleWidth = 320
	}
	if c.Motion.DownscaleHeight == 0 {
		c.Motion.DownscaleHeight = 180
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
}
