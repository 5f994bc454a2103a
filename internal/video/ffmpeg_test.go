package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"streams": [{
			"width": 1920,
			"height": 1080,
			"nb_frames": "900",
			"r_frame_rate": "30000/1001",
			"duration": "30.030000"
		}],
		"format": {"duration": "30.050000"}
	}`)

	meta, err := parseProbeOutput(data)
	require.NoError(t, err)
	assert.Equal(t, 1920, meta.Width)
	assert.Equal(t, 1080, meta.Height)
	assert.Equal(t, 900, meta.TotalFrames)
	assert.InDelta(t, 29.97, meta.FPS, 0.001)
	assert.InDelta(t, 30.03, meta.Duration, 0.001)
}

func TestParseProbeOutputCountedFrames(t *testing.T) {
	// DVR exports often omit nb_frames; counting fills nb_read_frames
	data := []byte(`{
		"streams": [{
			"width": 640,
			"height": 480,
			"nb_read_frames": "450",
			"r_frame_rate": "25/1"
		}],
		"format": {"duration": "18.0"}
	}`)

	meta, err := parseProbeOutput(data)
	require.NoError(t, err)
	assert.Equal(t, 450, meta.TotalFrames)
	assert.Equal(t, 25.0, meta.FPS)
	assert.Equal(t, 18.0, meta.Duration)
}

func TestParseProbeOutputNoStream(t *testing.T) {
	_, err := parseProbeOutput([]byte(`{"streams": [], "format": {}}`))
	assert.Error(t, err)

	_, err = parseProbeOutput([]byte(`garbage`))
	assert.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.001)
	assert.Equal(t, 30.0, parseFrameRate("30/1"))
	assert.Equal(t, 25.0, parseFrameRate("25"))
	assert.Equal(t, 0.0, parseFrameRate(""))
	assert.Equal(t, 0.0, parseFrameRate("30/0"))
	assert.Equal(t, 0.0, parseFrameRate("abc/def"))
}
