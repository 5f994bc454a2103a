package inference

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"
)

// ClassMask is a dense per-pixel class-id map. Class 0 is background.
type ClassMask struct {
	Width  int
	Height int
	Pix    []uint8 // row-major, one class id per pixel
}

// DecodeClassMask parses a base64-encoded grayscale PNG into a ClassMask.
func DecodeClassMask(encoded string) (*ClassMask, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode mask base64: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode mask png: %w", err)
	}

	bounds := img.Bounds()
	mask := &ClassMask{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    make([]uint8, bounds.Dx()*bounds.Dy()),
	}

	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < mask.Height; y++ {
			copy(mask.Pix[y*mask.Width:(y+1)*mask.Width], gray.Pix[y*gray.Stride:y*gray.Stride+mask.Width])
		}
		return mask, nil
	}

	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			mask.Pix[y*mask.Width+x] = uint8(r >> 8)
		}
	}
	return mask, nil
}

// At returns the class id at (x, y).
func (m *ClassMask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// ClassCounts returns the pixel count per class id present in the mask.
func (m *ClassMask) ClassCounts() map[uint8]int {
	counts := make(map[uint8]int)
	for _, c := range m.Pix {
		counts[c]++
	}
	return counts
}

// Classes returns the sorted class ids present in the mask.
func (m *ClassMask) Classes() []int {
	counts := m.ClassCounts()
	classes := make([]int, 0, len(counts))
	for c := 0; c < 256; c++ {
		if counts[uint8(c)] > 0 {
			classes = append(classes, c)
		}
	}
	return classes
}

// DominantNonBackground returns the most frequent class id excluding
// background, its pixel count, and whether any non-background pixel exists.
func (m *ClassMask) DominantNonBackground() (uint8, int, bool) {
	counts := m.ClassCounts()
	var best uint8
	bestCount := 0
	for c, n := range counts {
		if c == 0 {
			continue
		}
		if n > bestCount || (n == bestCount && c < best) {
			best = c
			bestCount = n
		}
	}
	return best, bestCount, bestCount > 0
}

// Binary returns a binary view of the mask selecting one class.
func (m *ClassMask) Binary(classID uint8) *binaryMask {
	b := &binaryMask{width: m.Width, height: m.Height, pix: make([]bool, len(m.Pix))}
	for i, c := range m.Pix {
		b.pix[i] = c == classID
	}
	return b
}

type binaryMask struct {
	width  int
	height int
	pix    []bool
}

func (b *binaryMask) at(x, y int) bool {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return false
	}
	return b.pix[y*b.width+x]
}

// clockwise 8-neighborhood, starting east
var neighborhood = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// FindContours extracts the external boundary of every 8-connected
// component in the binary mask, in row-major discovery order.
func (b *binaryMask) FindContours() [][]image.Point {
	visited := make([]bool, len(b.pix))
	var contours [][]image.Point

	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			idx := y*b.width + x
			if !b.pix[idx] || visited[idx] {
				continue
			}
			contour := b.traceBoundary(image.Pt(x, y))
			contours = append(contours, contour)
			b.markComponent(image.Pt(x, y), visited)
		}
	}
	return contours
}

// traceBoundary walks the outer boundary clockwise (Moore neighborhood)
// starting at the component's first row-major pixel.
func (b *binaryMask) traceBoundary(start image.Point) []image.Point {
	contour := []image.Point{start}

	// The start pixel is the first of its component in row-major order, so
	// its west neighbor is background; begin the clockwise search just
	// after west.
	cur := start
	searchFrom := 5 // index after west (4) in the clockwise neighborhood

	limit := 4 * len(b.pix)
	for step := 0; step < limit; step++ {
		found := -1
		for i := 0; i < 8; i++ {
			dir := (searchFrom + i) % 8
			n := cur.Add(neighborhood[dir])
			if b.at(n.X, n.Y) {
				found = dir
				break
			}
		}
		if found < 0 {
			// isolated pixel
			return contour
		}

		next := cur.Add(neighborhood[found])
		if next == start {
			return contour
		}
		contour = append(contour, next)
		cur = next
		// resume search from the neighbor after the reverse direction
		searchFrom = (found + 5) % 8
	}
	return contour
}

// markComponent flood-fills visited over the 8-connected component of p.
func (b *binaryMask) markComponent(p image.Point, visited []bool) {
	stack := []image.Point{p}
	visited[p.Y*b.width+p.X] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range neighborhood {
			n := cur.Add(d)
			if !b.at(n.X, n.Y) {
				continue
			}
			idx := n.Y*b.width + n.X
			if visited[idx] {
				continue
			}
			visited[idx] = true
			stack = append(stack, n)
		}
	}
}

// contourArea computes the enclosed area of a closed contour (shoelace).
func contourArea(contour []image.Point) float64 {
	if len(contour) < 3 {
		return 0
	}
	sum := 0.0
	for i := range contour {
		a := contour[i]
		b := contour[(i+1)%len(contour)]
		sum += float64(a.X*b.Y - b.X*a.Y)
	}
	return math.Abs(sum) / 2
}

// arcLength computes the perimeter of a closed contour.
func arcLength(contour []image.Point) float64 {
	length := 0.0
	for i := range contour {
		a := contour[i]
		b := contour[(i+1)%len(contour)]
		dx := float64(b.X - a.X)
		dy := float64(b.Y - a.Y)
		length += math.Hypot(dx, dy)
	}
	return length
}

// largestContour returns the contour with the greatest enclosed area.
func largestContour(contours [][]image.Point) []image.Point {
	var best []image.Point
	bestArea := -1.0
	for _, c := range contours {
		if a := contourArea(c); a > bestArea {
			best = c
			bestArea = a
		}
	}
	return best
}

// simplifyContour reduces a closed contour with Douglas-Peucker at the
// given absolute tolerance. The curve is split at its two mutually farthest
// anchor points and each open chain is simplified independently.
func simplifyContour(contour []image.Point, epsilon float64) []image.Point {
	if len(contour) < 4 || epsilon <= 0 {
		return contour
	}

	// anchor 1: first point; anchor 2: point farthest from it
	far := 0
	maxDist := -1.0
	for i, p := range contour {
		d := pointDist(contour[0], p)
		if d > maxDist {
			maxDist = d
			far = i
		}
	}
	if far == 0 {
		return contour
	}

	first := douglasPeucker(contour[:far+1], epsilon)
	second := douglasPeucker(append(contour[far:], contour[0]), epsilon)

	result := make([]image.Point, 0, len(first)+len(second)-2)
	result = append(result, first...)
	if len(second) > 2 {
		result = append(result, second[1:len(second)-1]...)
	}
	return result
}

// douglasPeucker simplifies an open polyline.
func douglasPeucker(points []image.Point, epsilon float64) []image.Point {
	if len(points) < 3 {
		return points
	}

	maxDist := 0.0
	index := 0
	for i := 1; i < len(points)-1; i++ {
		d := perpendicularDist(points[i], points[0], points[len(points)-1])
		if d > maxDist {
			maxDist = d
			index = i
		}
	}

	if maxDist <= epsilon {
		return []image.Point{points[0], points[len(points)-1]}
	}

	left := douglasPeucker(points[:index+1], epsilon)
	right := douglasPeucker(points[index:], epsilon)
	return append(left[:len(left)-1], right...)
}

func pointDist(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// perpendicularDist is the distance from p to the segment (a, b).
func perpendicularDist(p, a, b image.Point) float64 {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	if dx == 0 && dy == 0 {
		return pointDist(p, a)
	}
	num := math.Abs(dy*float64(p.X) - dx*float64(p.Y) + float64(b.X*a.Y) - float64(b.Y*a.X))
	return num / math.Hypot(dx, dy)
}

// boundingBox returns [x, y, w, h] for a contour.
func boundingBox(contour []image.Point) [4]int {
	minX, minY := contour[0].X, contour[0].Y
	maxX, maxY := minX, minY
	for _, p := range contour[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return [4]int{minX, minY, maxX - minX + 1, maxY - minY + 1}
}
