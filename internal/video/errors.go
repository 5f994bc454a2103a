package video

import (
	"errors"
	"fmt"
)

// ErrFrameDecode indicates a container or codec failure reading a specific frame.
var ErrFrameDecode = errors.New("frame decode failed")

// ErrEmptyVideo indicates a container reporting zero frames.
var ErrEmptyVideo = errors.New("video has no frames")

// OutOfRangeError is returned for frame indices outside [0, TotalFrames).
type OutOfRangeError struct {
	Index       int
	TotalFrames int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("frame %d out of range (0-%d)", e.Index, e.TotalFrames-1)
}

// IsOutOfRange reports whether err is an OutOfRangeError.
func IsOutOfRange(err error) bool {
	var oor *OutOfRangeError
	return errors.As(err, &oor)
}
