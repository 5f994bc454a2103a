package inference

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grayMaskPNG encodes a class-id grid as the base64 grayscale PNG the model
// service produces.
func grayMaskPNG(t *testing.T, width, height int, classAt func(x, y int) uint8) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: classAt(x, y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// blockClass returns class id 1 inside the given rectangle, background
// elsewhere.
func blockClass(rect image.Rectangle) func(x, y int) uint8 {
	return func(x, y int) uint8 {
		if image.Pt(x, y).In(rect) {
			return 1
		}
		return 0
	}
}

func TestDecodeClassMask(t *testing.T) {
	encoded := grayMaskPNG(t, 8, 8, blockClass(image.Rect(2, 2, 6, 6)))

	mask, err := DecodeClassMask(encoded)
	require.NoError(t, err)
	assert.Equal(t, 8, mask.Width)
	assert.Equal(t, 8, mask.Height)
	assert.Equal(t, uint8(0), mask.At(0, 0))
	assert.Equal(t, uint8(1), mask.At(3, 3))
	assert.Equal(t, uint8(0), mask.At(6, 6))

	counts := mask.ClassCounts()
	assert.Equal(t, 16, counts[1])
	assert.Equal(t, 48, counts[0])
	assert.Equal(t, []int{0, 1}, mask.Classes())
}

func TestDecodeClassMaskBadInput(t *testing.T) {
	_, err := DecodeClassMask("not base64!!!")
	assert.Error(t, err)

	_, err = DecodeClassMask(base64.StdEncoding.EncodeToString([]byte("not a png")))
	assert.Error(t, err)
}

func TestDominantNonBackground(t *testing.T) {
	mask := &ClassMask{Width: 4, Height: 1, Pix: []uint8{0, 1, 2, 2}}
	dominant, count, found := mask.DominantNonBackground()
	assert.True(t, found)
	assert.Equal(t, uint8(2), dominant)
	assert.Equal(t, 2, count)

	// Pure background reports no dominant class
	empty := &ClassMask{Width: 2, Height: 2, Pix: []uint8{0, 0, 0, 0}}
	_, _, found = empty.DominantNonBackground()
	assert.False(t, found)

	// Ties resolve to the lower class id
	tied := &ClassMask{Width: 4, Height: 1, Pix: []uint8{3, 1, 3, 1}}
	dominant, count, found = tied.DominantNonBackground()
	assert.True(t, found)
	assert.Equal(t, uint8(1), dominant)
	assert.Equal(t, 2, count)
}

func TestFindContoursSingleBlock(t *testing.T) {
	mask := &ClassMask{Width: 8, Height: 8, Pix: make([]uint8, 64)}
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			mask.Pix[y*8+x] = 1
		}
	}

	contours := mask.Binary(1).FindContours()
	require.Len(t, contours, 1)

	// Boundary of a 4x4 block encloses a 3x3 pixel-center square
	assert.InDelta(t, 9.0, contourArea(contours[0]), 0.001)
	assert.Equal(t, [4]int{2, 2, 4, 4}, boundingBox(contours[0]))
}

func TestFindContoursTwoComponents(t *testing.T) {
	mask := &ClassMask{Width: 10, Height: 4, Pix: make([]uint8, 40)}
	// Two blocks separated by background
	for y := 1; y < 3; y++ {
		for x := 1; x < 3; x++ {
			mask.Pix[y*10+x] = 1
		}
		for x := 6; x < 9; x++ {
			mask.Pix[y*10+x] = 1
		}
	}

	contours := mask.Binary(1).FindContours()
	assert.Len(t, contours, 2)
}

func TestFindContoursIsolatedPixel(t *testing.T) {
	mask := &ClassMask{Width: 3, Height: 3, Pix: make([]uint8, 9)}
	mask.Pix[4] = 1

	contours := mask.Binary(1).FindContours()
	require.Len(t, contours, 1)
	assert.Equal(t, []image.Point{{X: 1, Y: 1}}, contours[0])
}

func TestArcLength(t *testing.T) {
	square := []image.Point{{0, 0}, {3, 0}, {3, 3}, {0, 3}}
	assert.InDelta(t, 12.0, arcLength(square), 0.001)
}

func TestLargestContour(t *testing.T) {
	small := []image.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	big := []image.Point{{0, 0}, {5, 0}, {5, 5}, {0, 5}}
	got := largestContour([][]image.Point{small, big})
	assert.Equal(t, big, got)
}

func TestSimplifyContourDropsCollinearPoints(t *testing.T) {
	// A 10x10 square traced point by point along each edge
	var contour []image.Point
	for x := 0; x <= 10; x++ {
		contour = append(contour, image.Pt(x, 0))
	}
	for y := 1; y <= 10; y++ {
		contour = append(contour, image.Pt(10, y))
	}
	for x := 9; x >= 0; x-- {
		contour = append(contour, image.Pt(x, 10))
	}
	for y := 9; y >= 1; y-- {
		contour = append(contour, image.Pt(0, y))
	}

	simplified := simplifyContour(contour, 0.5)
	assert.Less(t, len(simplified), 10)
	// Corners survive simplification
	assert.Contains(t, simplified, image.Pt(0, 0))
	assert.Contains(t, simplified, image.Pt(10, 10))
}

func TestCapPolygon(t *testing.T) {
	points := make([]image.Point, 400)
	for i := range points {
		points[i] = image.Pt(i, i)
	}

	capped := capPolygon(points)
	assert.Len(t, capped, maxPolygonPoints)
	assert.Equal(t, points[0], capped[0])
	assert.Equal(t, points[len(points)-1], capped[len(capped)-1])

	short := points[:10]
	assert.Equal(t, short, capPolygon(short))
}
