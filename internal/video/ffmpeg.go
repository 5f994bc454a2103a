package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pipesight/inspectord/internal/logger"
)

// FFmpeg wraps the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	logger      *logger.Logger
	ffmpegPath  string
	ffprobePath string
}

// Metadata describes a video container's stream properties.
type Metadata struct {
	TotalFrames int
	FPS         float64
	Width       int
	Height      int
	Duration    float64
}

// NewFFmpeg locates the ffmpeg and ffprobe executables.
func NewFFmpeg(log *logger.Logger) (*FFmpeg, error) {
	f := &FFmpeg{logger: log}

	ffmpegPath, err := detectBinary("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	f.ffmpegPath = ffmpegPath

	ffprobePath, err := detectBinary("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	f.ffprobePath = ffprobePath

	log.Info("ffmpeg toolchain initialized", "ffmpeg", ffmpegPath, "ffprobe", ffprobePath)
	return f, nil
}

// detectBinary finds an executable in PATH or common locations.
func detectBinary(name string) (string, error) {
	paths := []string{name, "/usr/bin/" + name, "/usr/local/bin/" + name}
	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

// Path returns the resolved ffmpeg binary path.
func (f *FFmpeg) Path() string {
	return f.ffmpegPath
}

// BuildCommand constructs an ffmpeg command with the given arguments.
func (f *FFmpeg) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// probeStream mirrors the ffprobe -show_streams JSON layout.
type probeStream struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	NBFrames     string `json:"nb_frames"`
	NBReadFrames string `json:"nb_read_frames"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads container metadata for the first video stream. When the
// container does not carry a frame count (common for some DVR exports),
// it falls back to counting packets, which is slower but exact.
func (f *FFmpeg) Probe(ctx context.Context, videoPath string) (*Metadata, error) {
	out, err := f.runProbe(ctx, videoPath, false)
	if err != nil {
		return nil, err
	}

	meta, err := parseProbeOutput(out)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", videoPath, err)
	}

	if meta.TotalFrames == 0 {
		counted, err := f.runProbe(ctx, videoPath, true)
		if err != nil {
			return nil, err
		}
		meta, err = parseProbeOutput(counted)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", videoPath, err)
		}
	}

	return meta, nil
}

func (f *FFmpeg) runProbe(ctx context.Context, videoPath string, countFrames bool) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		"-of", "json",
	}
	if countFrames {
		args = append(args, "-count_packets", "-count_frames")
	}
	args = append(args, videoPath)

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", videoPath, err, stderr.String())
	}
	return out, nil
}

// parseProbeOutput extracts Metadata from ffprobe JSON output.
func parseProbeOutput(data []byte) (*Metadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}

	stream := probe.Streams[0]
	meta := &Metadata{
		Width:  stream.Width,
		Height: stream.Height,
	}

	if stream.NBFrames != "" {
		meta.TotalFrames, _ = strconv.Atoi(stream.NBFrames)
	}
	if meta.TotalFrames == 0 && stream.NBReadFrames != "" {
		meta.TotalFrames, _ = strconv.Atoi(stream.NBReadFrames)
	}

	meta.FPS = parseFrameRate(stream.RFrameRate)

	durationStr := stream.Duration
	if durationStr == "" {
		durationStr = probe.Format.Duration
	}
	if durationStr != "" {
		meta.Duration, _ = strconv.ParseFloat(durationStr, 64)
	}

	return meta, nil
}

// parseFrameRate converts an ffprobe rational like "30000/1001" to a float.
func parseFrameRate(rate string) float64 {
	if rate == "" {
		return 0
	}
	parts := strings.SplitN(rate, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}
