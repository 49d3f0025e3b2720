package projection

import (
	"errors"
	"fmt"
	"math"

	"slippymap/internal/coords"
	"slippymap/pkg/tiles"
)

// MercatorLatitudeLimit is the latitude at which spherical Mercator becomes square.
const MercatorLatitudeLimit = 85.051129

var (
	// ErrProjectionOutOfRange is returned when a coordinate lies outside the
	// source's coordinate range.
	ErrProjectionOutOfRange = errors.New("projection: coordinate out of range")
	// ErrInvalidProperties is returned by Validate for inconsistent map properties.
	ErrInvalidProperties = errors.New("projection: invalid map properties")
)

// Kind selects the curve applied to the vertical axis.
type Kind int

const (
	Mercator Kind = iota
	Linear
)

func (k Kind) String() string {
	switch k {
	case Mercator:
		return "mercator"
	case Linear:
		return "linear"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "mercator", "":
		return Mercator, nil
	case "linear":
		return Linear, nil
	}
	return 0, fmt.Errorf("%w: unknown projection %q", ErrInvalidProperties, s)
}

// OutsideTilesPolicy decides what happens to tile addresses beyond the grid on one axis.
type OutsideTilesPolicy int

const (
	// None drops tiles outside the coordinate range.
	None OutsideTilesPolicy = iota
	// Wrap loops the axis around, e.g. across the antimeridian.
	Wrap
	// Bound clamps to the range edge.
	Bound
)

func (p OutsideTilesPolicy) String() string {
	switch p {
	case None:
		return "none"
	case Wrap:
		return "wrap"
	case Bound:
		return "bound"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration string to a policy.
func ParsePolicy(s string) (OutsideTilesPolicy, error) {
	switch s {
	case "none", "":
		return None, nil
	case "wrap":
		return Wrap, nil
	case "bound":
		return Bound, nil
	}
	return 0, fmt.Errorf("%w: unknown outside tiles policy %q", ErrInvalidProperties, s)
}

// Orientation tells which end of the vertical range is drawn at the top.
type Orientation int

const (
	NorthUp Orientation = iota
	SouthUp
)

// Range is a closed interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies in the closed interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Span returns Max - Min.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// CoordinateRange is the valid extent of projected coordinates.
type CoordinateRange struct {
	Horizontal  Range
	Vertical    Range
	Orientation Orientation
}

// ZoomRange bounds the camera's fractional zoom level.
type ZoomRange struct {
	Min int
	Max int
}

// BoundMap marks which axes keep the camera inside the coordinate range.
type BoundMap struct {
	Horizontal bool
	Vertical   bool
}

// OutsideTiles holds one policy per axis.
type OutsideTiles struct {
	Horizontal OutsideTilesPolicy
	Vertical   OutsideTilesPolicy
}

// Properties describe a tile source: its projection, extents and zoom levels.
// They are supplied once at construction and never mutated.
type Properties struct {
	Projection      Kind
	BoundMap        BoundMap
	OutsideTiles    OutsideTiles
	ZoomRange       ZoomRange
	CoordinateRange CoordinateRange
	TileSize        int
	RotationEnabled bool
}

// WebMercator returns the properties of a standard spherical Mercator
// slippy map source such as OpenStreetMap.
func WebMercator(tileSize int) Properties {
	return Properties{
		Projection:   Mercator,
		BoundMap:     BoundMap{Horizontal: false, Vertical: true},
		OutsideTiles: OutsideTiles{Horizontal: Wrap, Vertical: None},
		ZoomRange:    ZoomRange{Min: 0, Max: 19},
		CoordinateRange: CoordinateRange{
			Horizontal: Range{Min: -180, Max: 180},
			Vertical:   Range{Min: -MercatorLatitudeLimit, Max: MercatorLatitudeLimit},
		},
		TileSize:        tileSize,
		RotationEnabled: true,
	}
}

// Flat returns properties for a bounded, linearly projected image pyramid,
// e.g. a scanned plan or a game map.
func Flat(horizontal, vertical Range, tileSize, maxZoom int) Properties {
	return Properties{
		Projection:   Linear,
		BoundMap:     BoundMap{Horizontal: true, Vertical: true},
		OutsideTiles: OutsideTiles{Horizontal: None, Vertical: None},
		ZoomRange:    ZoomRange{Min: 0, Max: maxZoom},
		CoordinateRange: CoordinateRange{
			Horizontal: horizontal,
			Vertical:   vertical,
		},
		TileSize: tileSize,
	}
}

// Validate checks that the properties describe a usable source.
func (p Properties) Validate() error {
	if p.TileSize <= 0 {
		return fmt.Errorf("%w: tile size %d", ErrInvalidProperties, p.TileSize)
	}
	if p.ZoomRange.Min < 0 || p.ZoomRange.Max < p.ZoomRange.Min || p.ZoomRange.Max > tiles.MaxZoom {
		return fmt.Errorf("%w: zoom range [%d, %d]", ErrInvalidProperties, p.ZoomRange.Min, p.ZoomRange.Max)
	}
	cr := p.CoordinateRange
	if cr.Horizontal.Span() <= 0 || cr.Vertical.Span() <= 0 {
		return fmt.Errorf("%w: empty coordinate range", ErrInvalidProperties)
	}
	if p.Projection == Mercator {
		if cr.Vertical.Min < -MercatorLatitudeLimit || cr.Vertical.Max > MercatorLatitudeLimit {
			return fmt.Errorf("%w: mercator vertical range [%g, %g] exceeds ±%g",
				ErrInvalidProperties, cr.Vertical.Min, cr.Vertical.Max, MercatorLatitudeLimit)
		}
		// the vertical Mercator axis is bounded, not periodic
		if p.OutsideTiles.Vertical == Wrap {
			return fmt.Errorf("%w: mercator sources cannot wrap vertically", ErrInvalidProperties)
		}
	}
	return nil
}

// MercatorCurve maps a latitude-like value onto the Mercator vertical axis,
// scaled so that ±MercatorLatitudeLimit maps onto itself.
func MercatorCurve(v float64) float64 {
	return math.Log(math.Tan(math.Pi/4+math.Pi*v/360)) / (math.Pi / MercatorLatitudeLimit)
}

// InverseMercatorCurve undoes MercatorCurve.
func InverseMercatorCurve(v float64) float64 {
	return (math.Atan(math.Exp(v*math.Pi/MercatorLatitudeLimit)) - math.Pi/4) * 360 / math.Pi
}

func (p Properties) curve(v float64) float64 {
	if p.Projection == Mercator {
		return MercatorCurve(v)
	}
	return v
}

func (p Properties) inverseCurve(v float64) float64 {
	if p.Projection == Mercator {
		return InverseMercatorCurve(v)
	}
	return v
}

// Forward maps projected coordinates onto the canvas plane. The whole
// coordinate range spans [0, TileSize] on both axes.
func (p Properties) Forward(pc coords.ProjectedCoordinates) (coords.CanvasPosition, error) {
	cr := p.CoordinateRange
	if !cr.Horizontal.Contains(pc.Horizontal) || !cr.Vertical.Contains(pc.Vertical) {
		return coords.CanvasPosition{}, fmt.Errorf("%w: (%g, %g)", ErrProjectionOutOfRange, pc.Horizontal, pc.Vertical)
	}
	size := float64(p.TileSize)
	x := (pc.Horizontal - cr.Horizontal.Min) / cr.Horizontal.Span() * size

	lo, hi := p.curve(cr.Vertical.Min), p.curve(cr.Vertical.Max)
	v := p.curve(pc.Vertical)
	var y float64
	if cr.Orientation == NorthUp {
		y = (hi - v) / (hi - lo) * size
	} else {
		y = (v - lo) / (hi - lo) * size
	}
	return coords.CanvasPosition{Horizontal: x, Vertical: y}, nil
}

// Inverse maps a canvas position back to projected coordinates. Positions
// outside [0, TileSize] extrapolate rather than fail, so wrapped canvases
// can still be labelled.
func (p Properties) Inverse(c coords.CanvasPosition) coords.ProjectedCoordinates {
	cr := p.CoordinateRange
	size := float64(p.TileSize)
	h := cr.Horizontal.Min + c.Horizontal/size*cr.Horizontal.Span()

	lo, hi := p.curve(cr.Vertical.Min), p.curve(cr.Vertical.Max)
	var v float64
	if cr.Orientation == NorthUp {
		v = hi - c.Vertical/size*(hi-lo)
	} else {
		v = lo + c.Vertical/size*(hi-lo)
	}
	return coords.ProjectedCoordinates{Horizontal: h, Vertical: p.inverseCurve(v)}
}

// Extent returns the canvas rectangle covered by the coordinate range.
func (p Properties) Extent() (min, max coords.CanvasPosition) {
	size := float64(p.TileSize)
	return coords.CanvasPosition{}, coords.CanvasPosition{Horizontal: size, Vertical: size}
}

// TileAt returns the address of the tile covering pc at the given zoom.
func (p Properties) TileAt(pc coords.ProjectedCoordinates, zoom int) (tiles.TileAddress, error) {
	c, err := p.Forward(pc)
	if err != nil {
		return tiles.TileAddress{}, err
	}
	n := 1 << zoom
	scale := float64(n) / float64(p.TileSize)
	col := tiles.ClampInZoom(int(math.Floor(c.Horizontal*scale)), zoom)
	row := tiles.ClampInZoom(int(math.Floor(c.Vertical*scale)), zoom)
	return tiles.New(zoom, row, col), nil
}
