package nn

import "math"

type Point struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// Rect is an axis-aligned box in pixel coordinates.
// X2 and Y2 are exclusive.
type Rect struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// RectFromCorners builds a Rect from two corners, in any order.
// A span wider than math.MaxInt32 saturates.
func RectFromCorners(x1, y1, x2, y2 int32) Rect {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  sat32(int64(x2) - int64(x1)),
		Height: sat32(int64(y2) - int64(y1)),
	}
}

// sat32 narrows v to int32, saturating instead of wrapping
func sat32(v int64) int32 {
	return int32(max(math.MinInt32, min(math.MaxInt32, v)))
}

func (r Rect) x2() int64 {
	return int64(r.X) + int64(r.Width)
}

func (r Rect) y2() int64 {
	return int64(r.Y) + int64(r.Height)
}

// X2 is the exclusive right edge, saturated to the int32 range
func (r Rect) X2() int32 {
	return sat32(r.x2())
}

// Y2 is the exclusive bottom edge, saturated to the int32 range
func (r Rect) Y2() int32 {
	return sat32(r.y2())
}

func (r Rect) Area() int64 {
	return int64(r.Width) * int64(r.Height)
}

// Empty is true if the rectangle covers no pixels
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(int64(r.X), int64(b.X))
	y1 := max(int64(r.Y), int64(b.Y))
	x2 := min(r.x2(), b.x2())
	y2 := min(r.y2(), b.y2())
	return Rect{
		X:      sat32(x1),
		Y:      sat32(y1),
		Width:  sat32(max(0, x2-x1)),
		Height: sat32(max(0, y2-y1)),
	}
}

// Intersection over Union.
// Returns zero when both rectangles are empty.
func (r Rect) IOU(b Rect) float32 {
	inter := r.Intersection(b).Area()
	union := r.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

func (r Rect) Center() Point {
	return Point{
		X: sat32(int64(r.X) + int64(r.Width)/2),
		Y: sat32(int64(r.Y) + int64(r.Height)/2),
	}
}

func (r *Rect) Offset(dx, dy int32) {
	r.X += dx
	r.Y += dy
}

// Clip returns the portion of r that lies inside a width x height frame.
// Negative widths or heights are normalized first, so a box given with swapped
// corners still clips to the area it describes. The result is Empty when r lies
// entirely outside the frame.
func (r Rect) Clip(width, height int) Rect {
	x1, y1 := int64(r.X), int64(r.Y)
	x2, y2 := r.x2(), r.y2()
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	x1 = max(x1, 0)
	y1 = max(y1, 0)
	x2 = min(x2, int64(width))
	y2 = min(y2, int64(height))
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: sat32(x1), Y: sat32(y1), Width: sat32(x2 - x1), Height: sat32(y2 - y1)}
}
