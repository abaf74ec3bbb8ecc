package faces

// BoundingBox is a face rectangle in source pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoxFromCorners converts a [x1, y1, x2, y2] corner box to a BoundingBox.
// Returns a zero box when the slice is malformed.
func BoxFromCorners(bbox []float64) BoundingBox {
	if len(bbox) != 4 {
		return BoundingBox{}
	}
	return BoundingBox{
		X:      bbox[0],
		Y:      bbox[1],
		Width:  bbox[2] - bbox[0],
		Height: bbox[3] - bbox[1],
	}
}

// Corners returns the box as [x1, y1, x2, y2].
func (b BoundingBox) Corners() []float64 {
	return []float64{b.X, b.Y, b.X + b.Width, b.Y + b.Height}
}

// Area returns width*height, or 0 for degenerate boxes.
func (b BoundingBox) Area() float64 {
	if b.Empty() {
		return 0
	}
	return b.Width * b.Height
}

// Empty reports whether the box has no positive extent.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Scale multiplies every coordinate by f.
func (b BoundingBox) Scale(f float64) BoundingBox {
	return BoundingBox{
		X:      b.X * f,
		Y:      b.Y * f,
		Width:  b.Width * f,
		Height: b.Height * f,
	}
}

// Clip intersects the box with the image rectangle [0, width) x [0, height).
// A non-positive width or height leaves the far edges unbounded.
func (b BoundingBox) Clip(width, height float64) BoundingBox {
	x1, y1 := max(b.X, 0), max(b.Y, 0)
	x2, y2 := b.X+b.Width, b.Y+b.Height
	if width > 0 {
		x2 = min(x2, width)
	}
	if height > 0 {
		y2 = min(y2, height)
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Largest returns the index of the detection with the largest box, or -1.
func Largest(dets []Detection) int {
	best, bestArea := -1, -1.0
	for i, d := range dets {
		if a := d.Box.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}
