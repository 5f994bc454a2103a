package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Frame represents a single decoded video frame.
type Frame struct {
	Index  int         // 0-based container frame index
	Image  *image.RGBA // Decoded pixels
	Width  int
	Height int
}

// EncodeJPEG serializes the frame at the given quality. Raw decoded buffers
// never cross a process or transport boundary unencoded.
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Index, err)
	}
	return buf.Bytes(), nil
}

// Grayscale returns the frame downscaled to the given dimensions as a
// grayscale image. Nearest-neighbor sampling; this is a coarse motion
// proxy, not a photometric-accurate conversion.
func (f *Frame) Grayscale(width, height int) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcY := y * f.Height / height
		for x := 0; x < width; x++ {
			srcX := x * f.Width / width
			i := f.Image.PixOffset(srcX, srcY)
			r := int(f.Image.Pix[i])
			g := int(f.Image.Pix[i+1])
			b := int(f.Image.Pix[i+2])
			// ITU-R BT.601 integer luma approximation
			gray.Pix[y*gray.Stride+x] = uint8((299*r + 587*g + 114*b) / 1000)
		}
	}
	return gray
}
