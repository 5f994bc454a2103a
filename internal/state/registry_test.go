package state

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipesight/inspectord/internal/jobs"
	"github.com/pipesight/inspectord/internal/logger"
)

func setupTestRegistry(t *testing.T) (*JobRegistry, *Database) {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "state", "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := NewJobRegistry(db, logger.NewNop())
	require.NoError(t, err)
	return reg, db
}

func TestJobRegistryLifecycle(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	token, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)
	assert.False(t, token.Cancelled())

	// Duplicate id maps onto the registry error
	_, err = reg.Create("job-1", "/videos/b.mp4", "/out", "segformer")
	assert.ErrorIs(t, err, jobs.ErrAlreadyExists)

	require.NoError(t, reg.SetVideoInfo("job-1", 200, 30, 1920, 1080))
	require.NoError(t, reg.UpdateProgress("job-1", 100, 50.0, []byte("preview")))

	snap, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRunning, snap.Status)
	assert.Equal(t, 100, snap.CurrentFrame)
	assert.Equal(t, 50.0, snap.Progress)
	assert.Equal(t, 200, snap.TotalFrames)

	preview, err := reg.Preview("job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("preview"), preview)

	require.NoError(t, reg.Finalize("job-1", jobs.StatusCompleted, "/out/inference_results.json", nil))

	snap, err = reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, snap.Status)
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, "/out/inference_results.json", snap.ResultFile)

	// Terminal jobs reject mutation, same contract as the in-memory registry
	assert.ErrorIs(t, reg.UpdateProgress("job-1", 150, 75.0, nil), jobs.ErrTerminal)
	assert.ErrorIs(t, reg.Finalize("job-1", jobs.StatusFailed, "", errors.New("late")), jobs.ErrTerminal)
	assert.ErrorIs(t, reg.RequestCancel("job-1"), jobs.ErrAlreadyCompleted)
}

func TestJobRegistryNotFound(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = reg.Preview("missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	assert.ErrorIs(t, reg.RequestCancel("missing"), jobs.ErrNotFound)
	assert.ErrorIs(t, reg.UpdateProgress("missing", 1, 1, nil), jobs.ErrNotFound)
}

func TestJobRegistryCancel(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	token, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)

	require.NoError(t, reg.RequestCancel("job-1"))
	assert.True(t, token.Cancelled())

	snap, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelling, snap.Status)

	// Idempotent while the runner winds down
	assert.NoError(t, reg.RequestCancel("job-1"))

	require.NoError(t, reg.Finalize("job-1", jobs.StatusCancelled, "", nil))
	snap, err = reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, snap.Status)
}

func TestJobRegistryNoPreviewPersisted(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	_, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)

	_, err = reg.Preview("job-1")
	assert.ErrorIs(t, err, jobs.ErrNoPreview)
}

func TestJobRegistryList(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	_, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)
	_, err = reg.Create("job-2", "/videos/b.mp4", "/out", "yolo")
	require.NoError(t, err)

	snaps := reg.List()
	require.Len(t, snaps, 2)
}

func TestJobRegistrySweepsOrphansOnStartup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")

	db, err := NewDatabase(dbPath)
	require.NoError(t, err)
	reg, err := NewJobRegistry(db, logger.NewNop())
	require.NoError(t, err)

	_, err = reg.Create("orphan-running", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)
	_, err = reg.Create("orphan-cancelling", "/videos/b.mp4", "/out", "segformer")
	require.NoError(t, err)
	require.NoError(t, reg.RequestCancel("orphan-cancelling"))
	_, err = reg.Create("done", "/videos/c.mp4", "/out", "segformer")
	require.NoError(t, err)
	require.NoError(t, reg.Finalize("done", jobs.StatusCompleted, "/out/inference_results.json", nil))
	require.NoError(t, db.Close())

	// Simulated restart: reopen the database and build a fresh registry
	db2, err := NewDatabase(dbPath)
	require.NoError(t, err)
	defer db2.Close()
	reg2, err := NewJobRegistry(db2, logger.NewNop())
	require.NoError(t, err)

	for _, id := range []string{"orphan-running", "orphan-cancelling"} {
		snap, err := reg2.Get(id)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, snap.Status, id)
		assert.Equal(t, "process restarted during job", snap.Error)
	}

	snap, err := reg2.Get("done")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, snap.Status)
}
