package viewport

import (
	"math"
	"sort"

	"slippymap/internal/camera"
	"slippymap/internal/coords"
	"slippymap/internal/projection"
	"slippymap/pkg/tiles"
)

// Placement is one visible tile: the address to fetch plus the unwrapped
// grid cell it is drawn in. With horizontal wrap several placements can
// share one address.
type Placement struct {
	Address tiles.TileAddress
	// GridRow and GridCol are the grid cell before wrap or clamp.
	GridRow int
	GridCol int
	// Distance from the viewport centre, in tiles.
	Distance float64
}

// Origin returns the canvas position of the placement's top-left corner.
func (p Placement) Origin(tileSize int) coords.CanvasPosition {
	span := float64(tileSize) / math.Exp2(float64(p.Address.Zoom))
	return coords.CanvasPosition{Horizontal: float64(p.GridCol) * span, Vertical: float64(p.GridRow) * span}
}

// Result is the visible set for one camera state.
type Result struct {
	Zoom       int
	Placements []Placement
}

// Addresses returns the distinct addresses in placement order, nearest first.
func (r Result) Addresses() []tiles.TileAddress {
	seen := make(map[tiles.TileAddress]struct{}, len(r.Placements))
	out := make([]tiles.TileAddress, 0, len(r.Placements))
	for _, p := range r.Placements {
		if _, ok := seen[p.Address]; ok {
			continue
		}
		seen[p.Address] = struct{}{}
		out = append(out, p.Address)
	}
	return out
}

// Set returns the distinct addresses as a set.
func (r Result) Set() map[tiles.TileAddress]struct{} {
	set := make(map[tiles.TileAddress]struct{}, len(r.Placements))
	for _, p := range r.Placements {
		set[p.Address] = struct{}{}
	}
	return set
}

// TileZoom returns the integer zoom tiles are sampled at for a fractional
// camera zoom. The remainder only scales the drawing.
func TileZoom(zoomLevel float64, zr projection.ZoomRange) int {
	z := int(math.Floor(zoomLevel))
	if z < zr.Min {
		z = zr.Min
	}
	if z > zr.Max {
		z = zr.Max
	}
	return z
}

// Compute returns every tile intersecting the viewport at the sampling zoom,
// ordered by ascending distance from the viewport centre.
func Compute(s camera.State, props projection.Properties) Result {
	z := TileZoom(s.ZoomLevel, props.ZoomRange)
	res := Result{Zoom: z}
	if s.CanvasSize.Width <= 0 || s.CanvasSize.Height <= 0 {
		return res
	}

	// canvas units to tile grid units at zoom z
	gridScale := math.Exp2(float64(z)) / float64(props.TileSize)

	corners := [4]coords.ScreenOffset{
		{X: 0, Y: 0},
		{X: s.CanvasSize.Width, Y: 0},
		{X: 0, Y: s.CanvasSize.Height},
		{X: s.CanvasSize.Width, Y: s.CanvasSize.Height},
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		p := s.ToCanvasPosition(c)
		gx, gy := p.Horizontal*gridScale, p.Vertical*gridScale
		minX, maxX = math.Min(minX, gx), math.Max(maxX, gx)
		minY, maxY = math.Min(minY, gy), math.Max(maxY, gy)
	}

	center := s.RawPosition
	cx, cy := center.Horizontal*gridScale, center.Vertical*gridScale

	colLo, colHi := cellRange(minX, maxX)
	rowLo, rowHi := cellRange(minY, maxY)

	seen := make(map[[2]int]struct{})
	for row := rowLo; row <= rowHi; row++ {
		r, ok := resolve(row, z, props.OutsideTiles.Vertical)
		if !ok {
			continue
		}
		for col := colLo; col <= colHi; col++ {
			c, ok := resolve(col, z, props.OutsideTiles.Horizontal)
			if !ok {
				continue
			}
			gridRow, gridCol := row, col
			if props.OutsideTiles.Vertical == projection.Bound {
				gridRow = r
			}
			if props.OutsideTiles.Horizontal == projection.Bound {
				gridCol = c
			}
			key := [2]int{gridRow, gridCol}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Placements = append(res.Placements, Placement{
				Address:  tiles.New(z, r, c),
				GridRow:  gridRow,
				GridCol:  gridCol,
				Distance: math.Hypot(float64(gridCol)+0.5-cx, float64(gridRow)+0.5-cy),
			})
		}
	}

	sort.SliceStable(res.Placements, func(i, j int) bool {
		a, b := res.Placements[i], res.Placements[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.GridRow != b.GridRow {
			return a.GridRow < b.GridRow
		}
		return a.GridCol < b.GridCol
	})
	return res
}

// cellRange returns the integer cells overlapped by the half-open span [lo, hi).
func cellRange(lo, hi float64) (int, int) {
	first := int(math.Floor(lo))
	last := int(math.Ceil(hi)) - 1
	if last < first {
		last = first
	}
	return first, last
}

func resolve(v, zoom int, policy projection.OutsideTilesPolicy) (int, bool) {
	switch policy {
	case projection.Wrap:
		return tiles.LoopInZoom(v, zoom), true
	case projection.Bound:
		return tiles.ClampInZoom(v, zoom), true
	default:
		n := 1 << zoom
		return v, v >= 0 && v < n
	}
}
