package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
)

// Source yields the frames of one video in strictly ascending index order.
type Source interface {
	Meta() Metadata
	Next() (*Frame, error) // io.EOF after the last frame
	Close() error
}

// Opener opens a video for sequential decoding.
type Opener interface {
	Open(ctx context.Context, videoPath string) (Source, error)
}

// Reader decodes a video sequentially through a single ffmpeg process.
// One open per video; re-opening per frame is a severe tax on
// network-mounted storage.
type Reader struct {
	meta   Metadata
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	buf    []byte
	index  int
	closed bool
}

// Open probes the container and starts a sequential rawvideo decode.
func (f *FFmpeg) Open(ctx context.Context, videoPath string) (Source, error) {
	meta, err := f.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if meta.TotalFrames == 0 {
		return nil, fmt.Errorf("%s: %w", videoPath, ErrEmptyVideo)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
	cmd := f.BuildCommand(ctx, args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &Reader{
		meta:   *meta,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		buf:    make([]byte, meta.Width*meta.Height*4),
	}, nil
}

// Meta returns the container metadata read at open time.
func (r *Reader) Meta() Metadata {
	return r.meta
}

// Next decodes the next frame. Returns io.EOF once the stream is exhausted.
func (r *Reader) Next() (*Frame, error) {
	if r.closed {
		return nil, fmt.Errorf("reader closed")
	}

	n, err := io.ReadFull(r.stdout, r.buf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		if n == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("frame %d truncated (%d bytes): %w", r.index, n, ErrFrameDecode)
	}
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w: %v", r.index, ErrFrameDecode, err)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.meta.Width, r.meta.Height))
	copy(img.Pix, r.buf)

	frame := &Frame{
		Index:  r.index,
		Image:  img,
		Width:  r.meta.Width,
		Height: r.meta.Height,
	}
	r.index++
	return frame, nil
}

// Close releases the decoder process.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.stdout.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.cmd.Wait()
	return nil
}

var _ Opener = (*FFmpeg)(nil)
