package camera

import (
	"fmt"
	"math"
	"sync"

	"slippymap/internal/coords"
	"slippymap/internal/projection"
)

// Size is the viewport size in screen pixels.
type Size struct {
	Width  float64
	Height float64
}

// State is a snapshot of where the user is looking. It is a value: readers
// get a copy and never observe a partial update.
type State struct {
	CanvasSize   Size
	ZoomLevel    float64
	AngleDegrees float64
	// RawPosition is the canvas position drawn at the viewport centre.
	RawPosition coords.CanvasPosition
}

// Scale returns the screen pixels per canvas unit, 2^ZoomLevel.
func (s State) Scale() float64 {
	return math.Exp2(s.ZoomLevel)
}

// Center returns the viewport centre in screen pixels.
func (s State) Center() coords.ScreenOffset {
	return coords.ScreenOffset{X: s.CanvasSize.Width / 2, Y: s.CanvasSize.Height / 2}
}

// ToScreenOffset converts a canvas position to a screen offset.
func (s State) ToScreenOffset(p coords.CanvasPosition) coords.ScreenOffset {
	return s.CanvasDeltaToScreen(p.Minus(s.RawPosition)).Plus(s.Center())
}

// ToCanvasPosition converts a screen offset to a canvas position.
func (s State) ToCanvasPosition(o coords.ScreenOffset) coords.CanvasPosition {
	return s.RawPosition.Plus(s.ScreenDeltaToCanvas(o.Minus(s.Center())))
}

// ScreenDeltaToCanvas converts a screen displacement into a canvas
// displacement, undoing rotation and scale but not translation.
func (s State) ScreenDeltaToCanvas(d coords.ScreenOffset) coords.CanvasPosition {
	x, y := rotate(d.X, d.Y, -s.AngleDegrees)
	scale := s.Scale()
	return coords.CanvasPosition{Horizontal: x / scale, Vertical: y / scale}
}

// CanvasDeltaToScreen converts a canvas displacement into a screen displacement.
func (s State) CanvasDeltaToScreen(d coords.CanvasPosition) coords.ScreenOffset {
	scale := s.Scale()
	x, y := rotate(d.Horizontal*scale, d.Vertical*scale, s.AngleDegrees)
	return coords.ScreenOffset{X: x, Y: y}
}

func (s State) String() string {
	return fmt.Sprintf("zoom=%.2f angle=%.1f pos=(%.3f, %.3f) size=%gx%g",
		s.ZoomLevel, s.AngleDegrees, s.RawPosition.Horizontal, s.RawPosition.Vertical,
		s.CanvasSize.Width, s.CanvasSize.Height)
}

func rotate(x, y, degrees float64) (float64, float64) {
	if degrees == 0 {
		return x, y
	}
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	return x*cos - y*sin, x*sin + y*cos
}

// Camera owns the mutable camera state. All position, zoom and rotation
// changes go through ApplyDelta or ApplyDeltaAround, which enforce the
// zoom range and map bounds.
type Camera struct {
	mu    sync.RWMutex
	state State
	props projection.Properties
}

// New creates a camera centred on the given projected coordinates.
func New(props projection.Properties, size Size, center coords.ProjectedCoordinates, zoom float64) (*Camera, error) {
	if err := props.Validate(); err != nil {
		return nil, err
	}
	pos, err := props.Forward(center)
	if err != nil {
		return nil, fmt.Errorf("camera centre: %w", err)
	}
	c := &Camera{props: props}
	c.state = c.clamp(State{
		CanvasSize:  size,
		ZoomLevel:   zoom,
		RawPosition: pos,
	})
	return c, nil
}

// State returns a consistent snapshot of the camera.
func (c *Camera) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Properties returns the map properties the camera was built with.
func (c *Camera) Properties() projection.Properties {
	return c.props
}

// Center returns the projected coordinates at the viewport centre.
func (c *Camera) Center() coords.ProjectedCoordinates {
	return c.props.Inverse(c.State().RawPosition)
}

// SetCanvasSize updates the viewport dimensions.
func (c *Camera) SetCanvasSize(size Size) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.CanvasSize = size
	return c.state
}

// ApplyDelta pans by a canvas displacement, then zooms and rotates around
// the viewport centre.
func (c *Camera) ApplyDelta(pan coords.CanvasPosition, zoomDelta, rotationDelta float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.apply(c.state, c.state.Center(), pan, zoomDelta, rotationDelta)
	return c.state
}

// ApplyDeltaAround pans by a canvas displacement, then zooms and rotates
// keeping the canvas point under focus fixed on screen.
func (c *Camera) ApplyDeltaAround(focus coords.ScreenOffset, pan coords.CanvasPosition, zoomDelta, rotationDelta float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.apply(c.state, focus, pan, zoomDelta, rotationDelta)
	return c.state
}

// MoveTo centres the camera on the given projected coordinates.
func (c *Camera) MoveTo(center coords.ProjectedCoordinates) (State, error) {
	pos, err := c.props.Forward(center)
	if err != nil {
		return c.State(), err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.apply(c.state, c.state.Center(), pos.Minus(c.state.RawPosition), 0, 0)
	return c.state, nil
}

// ZoomTo sets an absolute zoom level around the viewport centre.
func (c *Camera) ZoomTo(zoom float64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.apply(c.state, c.state.Center(), coords.CanvasPosition{}, zoom-c.state.ZoomLevel, 0)
	return c.state
}

func (c *Camera) apply(s State, focus coords.ScreenOffset, pan coords.CanvasPosition, zoomDelta, rotationDelta float64) State {
	next := s
	next.RawPosition = s.RawPosition.Plus(pan)

	if !c.props.RotationEnabled {
		rotationDelta = 0
	}
	if zoomDelta != 0 || rotationDelta != 0 {
		anchor := next.ToCanvasPosition(focus)
		next.ZoomLevel = s.ZoomLevel + zoomDelta
		next.AngleDegrees = s.AngleDegrees + rotationDelta
		next = c.clampZoom(next)
		// put the anchor back under the focus point
		next.RawPosition = anchor.Minus(next.ScreenDeltaToCanvas(focus.Minus(next.Center())))
	}
	return c.clamp(next)
}

func (c *Camera) clampZoom(s State) State {
	zr := c.props.ZoomRange
	s.ZoomLevel = math.Max(float64(zr.Min), math.Min(float64(zr.Max), s.ZoomLevel))
	s.AngleDegrees = math.Mod(s.AngleDegrees, 360)
	if s.AngleDegrees < 0 {
		s.AngleDegrees += 360
	}
	if !c.props.RotationEnabled {
		s.AngleDegrees = 0
	}
	return s
}

// clamp is the only place the camera invariants are enforced.
func (c *Camera) clamp(s State) State {
	s = c.clampZoom(s)
	size := float64(c.props.TileSize)
	s.RawPosition.Horizontal = clampAxis(s.RawPosition.Horizontal, size, c.props.BoundMap.Horizontal, c.props.OutsideTiles.Horizontal)
	s.RawPosition.Vertical = clampAxis(s.RawPosition.Vertical, size, c.props.BoundMap.Vertical, c.props.OutsideTiles.Vertical)
	return s
}

func clampAxis(v, size float64, bound bool, policy projection.OutsideTilesPolicy) float64 {
	switch {
	case bound:
		return math.Max(0, math.Min(size, v))
	case policy == projection.Wrap:
		v = math.Mod(v, size)
		if v < 0 {
			v += size
		}
		return v
	default:
		return v
	}
}
