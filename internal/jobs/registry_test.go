package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistryCreateAndGet(t *testing.T) {
	reg := NewMemoryRegistry()

	token, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)
	assert.False(t, token.Cancelled())

	snap, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, "/videos/a.mp4", snap.VideoPath)
	assert.Equal(t, "/out", snap.OutputPath)
	assert.Equal(t, float64(0), snap.Progress)

	// Duplicate id is rejected
	_, err = reg.Create("job-1", "/videos/b.mp4", "/out", "segformer")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Unknown id
	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistryProgressAndFinalize(t *testing.T) {
	reg := NewMemoryRegistry()
	_, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)

	err = reg.SetVideoInfo("job-1", 100, 30.0, 1920, 1080)
	require.NoError(t, err)

	err = reg.UpdateProgress("job-1", 50, 50.0, nil)
	require.NoError(t, err)

	snap, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, 50, snap.CurrentFrame)
	assert.Equal(t, 50.0, snap.Progress)
	assert.Equal(t, 100, snap.TotalFrames)

	err = reg.Finalize("job-1", StatusCompleted, "/out/inference_results.json", nil)
	require.NoError(t, err)

	snap, err = reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.Progress)
	assert.Equal(t, "/out/inference_results.json", snap.ResultFile)

	// Terminal jobs reject further mutation
	err = reg.UpdateProgress("job-1", 60, 60.0, nil)
	assert.ErrorIs(t, err, ErrTerminal)
	err = reg.Finalize("job-1", StatusFailed, "", errors.New("late failure"))
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestMemoryRegistryFinalizeFailedKeepsError(t *testing.T) {
	reg := NewMemoryRegistry()
	_, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)

	err = reg.Finalize("job-1", StatusFailed, "", errors.New("decode failed"))
	require.NoError(t, err)

	snap, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "decode failed", snap.Error)
	assert.Empty(t, snap.ResultFile)
}

func TestMemoryRegistryCancel(t *testing.T) {
	reg := NewMemoryRegistry()
	token, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)

	err = reg.RequestCancel("job-1")
	require.NoError(t, err)
	assert.True(t, token.Cancelled())

	snap, err := reg.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelling, snap.Status)

	// Cancel is idempotent while pending
	err = reg.RequestCancel("job-1")
	assert.NoError(t, err)

	err = reg.Finalize("job-1", StatusCancelled, "", nil)
	require.NoError(t, err)

	// A finished cancellation cannot be cancelled again
	err = reg.RequestCancel("job-1")
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestMemoryRegistryCancelCompleted(t *testing.T) {
	reg := NewMemoryRegistry()
	_, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)

	err = reg.Finalize("job-1", StatusCompleted, "/out/inference_results.json", nil)
	require.NoError(t, err)

	err = reg.RequestCancel("job-1")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	err = reg.RequestCancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistryPreview(t *testing.T) {
	reg := NewMemoryRegistry()
	_, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)

	// No preview before the first periodic refresh
	_, err = reg.Preview("job-1")
	assert.ErrorIs(t, err, ErrNoPreview)

	err = reg.UpdateProgress("job-1", 10, 10.0, []byte("jpeg-bytes"))
	require.NoError(t, err)

	preview, err := reg.Preview("job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), preview)

	// Returned slice is a copy, not the stored buffer
	preview[0] = 'X'
	again, err := reg.Preview("job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), again)

	// A nil preview keeps the previous frame
	err = reg.UpdateProgress("job-1", 11, 11.0, nil)
	require.NoError(t, err)
	again, err = reg.Preview("job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), again)
}

func TestMemoryRegistryList(t *testing.T) {
	reg := NewMemoryRegistry()
	_, err := reg.Create("job-1", "/videos/a.mp4", "/out", "segformer")
	require.NoError(t, err)
	_, err = reg.Create("job-2", "/videos/b.mp4", "/out", "yolo")
	require.NoError(t, err)

	snaps := reg.List()
	assert.Len(t, snaps, 2)
	ids := map[string]bool{}
	for _, s := range snaps {
		ids[s.JobID] = true
	}
	assert.True(t, ids["job-1"])
	assert.True(t, ids["job-2"])
}

func TestNewJobID(t *testing.T) {
	at := time.Unix(1700000000, 0)
	id := NewJobID("/videos/a.mp4", at)
	assert.Len(t, id, 16)

	// Same path at a different instant yields a different id
	other := NewJobID("/videos/a.mp4", at.Add(time.Nanosecond))
	assert.NotEqual(t, id, other)
}
