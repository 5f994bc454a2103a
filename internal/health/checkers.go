package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FFmpegChecker verifies the decode toolchain is still invocable.
type FFmpegChecker struct {
	ffmpegPath string
}

func NewFFmpegChecker(ffmpegPath string) *FFmpegChecker {
	return &FFmpegChecker{ffmpegPath: ffmpegPath}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.ffmpegPath == "" {
		check.Status = StatusUnhealthy
		check.Message = "ffmpeg path not configured"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, c.ffmpegPath, "-version").Run(); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("ffmpeg not invocable: %v", err)
		check.Details["path"] = c.ffmpegPath
		return check
	}

	check.Status = StatusHealthy
	check.Message = "ffmpeg toolchain OK"
	check.Details["path"] = c.ffmpegPath

	return check
}

// ModelServiceChecker checks model service connectivity
type ModelServiceChecker struct {
	serviceURL string
	client     *http.Client
}

func NewModelServiceChecker(serviceURL string) *ModelServiceChecker {
	return &ModelServiceChecker{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (c *ModelServiceChecker) Name() string {
	return "model_service"
}

func (c *ModelServiceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.serviceURL == "" {
		check.Status = StatusDegraded
		check.Message = "Model service URL not configured"
		return check
	}

	healthURL := fmt.Sprintf("%s/health/ready", c.serviceURL)
	req, err := http.NewRequestWithContext(ctx, "GET", healthURL, nil)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to create request: %v", err)
		return check
	}

	resp, err := c.client.Do(req)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Model service unreachable: %v", err)
		check.Details["url"] = c.serviceURL
		return check
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Model service returned status %d", resp.StatusCode)
		check.Details["status_code"] = resp.StatusCode
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Model service is reachable"
	check.Details["url"] = c.serviceURL
	check.Details["status_code"] = resp.StatusCode

	return check
}

// StorageChecker checks that the data directories are writable
type StorageChecker struct {
	dataDir    string
	stagingDir string
}

func NewStorageChecker(dataDir, stagingDir string) *StorageChecker {
	return &StorageChecker{
		dataDir:    dataDir,
		stagingDir: stagingDir,
	}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.dataDir != "" {
		if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
			return check
		}
		probe := filepath.Join(c.dataDir, ".health_probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Data directory not writable: %v", err)
			return check
		}
		os.Remove(probe)
		check.Details["data_dir"] = c.dataDir
		check.Details["data_dir_writable"] = true
	}

	if c.stagingDir != "" {
		if err := os.MkdirAll(c.stagingDir, 0o755); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Failed to create staging directory: %v", err)
			return check
		}
		check.Details["staging_dir"] = c.stagingDir
		check.Details["staging_dir_writable"] = true
	}

	check.Status = StatusHealthy
	check.Message = "Storage directories accessible"

	return check
}

// DatabaseChecker checks job state database connectivity
type DatabaseChecker struct {
	dbPath string
}

func NewDatabaseChecker(dbPath string) *DatabaseChecker {
	return &DatabaseChecker{dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.dbPath == "" {
		check.Status = StatusDegraded
		check.Message = "Database path not configured"
		return check
	}

	if _, err := os.Stat(c.dbPath); os.IsNotExist(err) {
		// First run; the registry creates the file on open.
		check.Status = StatusHealthy
		check.Message = "Database file will be created on first use"
		check.Details["file_exists"] = false
		return check
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to open database: %v", err)
		return check
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	check.Details["file_exists"] = true

	return check
}
