// Package coords holds the value types of the three coordinate spaces the
// engine works in. Each type is closed over its own algebra; moving between
// spaces goes through a projection or a camera state, never a cast.
package coords

import "math"

// ProjectedCoordinates is a position in the source's native units,
// e.g. longitude/latitude degrees.
type ProjectedCoordinates struct {
	Horizontal float64
	Vertical   float64
}

func (p ProjectedCoordinates) Plus(o ProjectedCoordinates) ProjectedCoordinates {
	return ProjectedCoordinates{p.Horizontal + o.Horizontal, p.Vertical + o.Vertical}
}

func (p ProjectedCoordinates) Minus(o ProjectedCoordinates) ProjectedCoordinates {
	return ProjectedCoordinates{p.Horizontal - o.Horizontal, p.Vertical - o.Vertical}
}

func (p ProjectedCoordinates) Neg() ProjectedCoordinates {
	return ProjectedCoordinates{-p.Horizontal, -p.Vertical}
}

func (p ProjectedCoordinates) Times(s float64) ProjectedCoordinates {
	return ProjectedCoordinates{p.Horizontal * s, p.Vertical * s}
}

func (p ProjectedCoordinates) Div(s float64) ProjectedCoordinates {
	return ProjectedCoordinates{p.Horizontal / s, p.Vertical / s}
}

// CanvasPosition is a position on the infinite map plane, measured in pixels
// at zoom 0.
type CanvasPosition struct {
	Horizontal float64
	Vertical   float64
}

func (c CanvasPosition) Plus(o CanvasPosition) CanvasPosition {
	return CanvasPosition{c.Horizontal + o.Horizontal, c.Vertical + o.Vertical}
}

func (c CanvasPosition) Minus(o CanvasPosition) CanvasPosition {
	return CanvasPosition{c.Horizontal - o.Horizontal, c.Vertical - o.Vertical}
}

func (c CanvasPosition) Neg() CanvasPosition {
	return CanvasPosition{-c.Horizontal, -c.Vertical}
}

func (c CanvasPosition) Times(s float64) CanvasPosition {
	return CanvasPosition{c.Horizontal * s, c.Vertical * s}
}

func (c CanvasPosition) Div(s float64) CanvasPosition {
	return CanvasPosition{c.Horizontal / s, c.Vertical / s}
}

// Length returns the euclidean norm.
func (c CanvasPosition) Length() float64 {
	return math.Hypot(c.Horizontal, c.Vertical)
}

// ScreenOffset is a pixel offset inside the viewport, origin top-left.
type ScreenOffset struct {
	X float64
	Y float64
}

func (s ScreenOffset) Plus(o ScreenOffset) ScreenOffset {
	return ScreenOffset{s.X + o.X, s.Y + o.Y}
}

func (s ScreenOffset) Minus(o ScreenOffset) ScreenOffset {
	return ScreenOffset{s.X - o.X, s.Y - o.Y}
}

func (s ScreenOffset) Neg() ScreenOffset {
	return ScreenOffset{-s.X, -s.Y}
}

func (s ScreenOffset) Times(f float64) ScreenOffset {
	return ScreenOffset{s.X * f, s.Y * f}
}

func (s ScreenOffset) Div(f float64) ScreenOffset {
	return ScreenOffset{s.X / f, s.Y / f}
}

// Length returns the euclidean norm.
func (s ScreenOffset) Length() float64 {
	return math.Hypot(s.X, s.Y)
}
