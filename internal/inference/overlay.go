package inference

import (
	"image"
	"image/color"
	"sort"

	"github.com/pipesight/inspectord/internal/video"
)

// Per-class overlay palette, cycled by class id.
var overlayPalette = []color.RGBA{
	{255, 0, 0, 255},
	{255, 255, 0, 255},
	{0, 255, 0, 255},
	{0, 255, 255, 255},
	{255, 0, 255, 255},
	{128, 0, 255, 255},
	{255, 128, 0, 255},
	{0, 128, 255, 255},
}

const overlayAlpha = 0.3

// RenderOverlay blends detections over a copy of the frame for preview:
// polygon interiors at 30% opacity plus a 2px bounding-box outline.
func RenderOverlay(frame *video.Frame, detections []Detection) *image.RGBA {
	out := image.NewRGBA(frame.Image.Bounds())
	copy(out.Pix, frame.Image.Pix)

	for _, det := range detections {
		c := overlayPalette[det.ClassID%len(overlayPalette)]
		if len(det.Polygon) >= 3 {
			fillPolygon(out, det.Polygon, c, overlayAlpha)
		}
		drawRect(out, det.Box, c, 2)
	}
	return out
}

// fillPolygon scanline-fills the polygon interior, alpha-blending color
// over the existing pixels.
func fillPolygon(img *image.RGBA, polygon []Point, c color.RGBA, alpha float64) {
	minY, maxY := polygon[0].Y, polygon[0].Y
	for _, p := range polygon[1:] {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	bounds := img.Bounds()
	if minY < bounds.Min.Y {
		minY = bounds.Min.Y
	}
	if maxY > bounds.Max.Y-1 {
		maxY = bounds.Max.Y - 1
	}

	for y := minY; y <= maxY; y++ {
		var xs []int
		n := len(polygon)
		for i := 0; i < n; i++ {
			a := polygon[i]
			b := polygon[(i+1)%n]
			if (a.Y <= y && b.Y > y) || (b.Y <= y && a.Y > y) {
				x := a.X + (y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
				xs = append(xs, x)
			}
		}
		sort.Ints(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0, x1 := xs[i], xs[i+1]
			if x0 < bounds.Min.X {
				x0 = bounds.Min.X
			}
			if x1 > bounds.Max.X-1 {
				x1 = bounds.Max.X - 1
			}
			for x := x0; x <= x1; x++ {
				blendPixel(img, x, y, c, alpha)
			}
		}
	}
}

// drawRect draws a box outline of the given thickness, clipped to the image.
func drawRect(img *image.RGBA, box [4]int, c color.RGBA, thickness int) {
	rect := image.Rect(box[0], box[1], box[0]+box[2], box[1]+box[3]).Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	for t := 0; t < thickness; t++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			setPixel(img, x, rect.Min.Y+t, c)
			setPixel(img, x, rect.Max.Y-1-t, c)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			setPixel(img, rect.Min.X+t, y, c)
			setPixel(img, rect.Max.X-1-t, y, c)
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if !(image.Pt(x, y).In(img.Bounds())) {
		return
	}
	i := img.PixOffset(x, y)
	img.Pix[i] = c.R
	img.Pix[i+1] = c.G
	img.Pix[i+2] = c.B
	img.Pix[i+3] = 255
}

func blendPixel(img *image.RGBA, x, y int, c color.RGBA, alpha float64) {
	if !(image.Pt(x, y).In(img.Bounds())) {
		return
	}
	i := img.PixOffset(x, y)
	img.Pix[i] = blend(img.Pix[i], c.R, alpha)
	img.Pix[i+1] = blend(img.Pix[i+1], c.G, alpha)
	img.Pix[i+2] = blend(img.Pix[i+2], c.B, alpha)
}

func blend(base, over uint8, alpha float64) uint8 {
	return uint8(float64(base)*(1-alpha) + float64(over)*alpha)
}
