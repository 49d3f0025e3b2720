package tiles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// TileAddress identifies a tile in the quad-tree pyramid.
// Row is the vertical grid index, Col the horizontal one.
type TileAddress struct {
	Zoom int
	Row  int
	Col  int
}

// New returns the address of the tile at zoom, row, col.
func New(zoom, row, col int) TileAddress {
	return TileAddress{Zoom: zoom, Row: row, Col: col}
}

func (t TileAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.Col, t.Row)
}

// Valid reports whether the address is inside the pyramid: zoom >= 0 and
// row, col in [0, 2^zoom).
func (t TileAddress) Valid() bool {
	if t.Zoom < 0 || t.Zoom > MaxZoom {
		return false
	}
	n := 1 << t.Zoom
	return t.Row >= 0 && t.Row < n && t.Col >= 0 && t.Col < n
}

// MaxZoom is the deepest zoom an address may carry without overflowing the grid math.
const MaxZoom = 30

// IsParentOf reports whether t is a strict ancestor of other.
func (t TileAddress) IsParentOf(other TileAddress) bool {
	if t.Zoom < 0 || other.Zoom > MaxZoom || t.Zoom >= other.Zoom {
		return false
	}
	scale := 1 << (other.Zoom - t.Zoom)
	return other.Row/scale == t.Row && other.Col/scale == t.Col
}

// IsChildOf reports whether t is a strict descendant of other.
func (t TileAddress) IsChildOf(other TileAddress) bool {
	return other.IsParentOf(t)
}

// Parent returns the covering tile one zoom level up. The root is its own parent.
func (t TileAddress) Parent() TileAddress {
	if t.Zoom == 0 {
		return t
	}
	return TileAddress{Zoom: t.Zoom - 1, Row: t.Row >> 1, Col: t.Col >> 1}
}

// Ancestor returns the covering tile at the given coarser zoom.
func (t TileAddress) Ancestor(zoom int) TileAddress {
	if zoom >= t.Zoom || zoom < 0 {
		return t
	}
	shift := uint(t.Zoom - zoom)
	return TileAddress{Zoom: zoom, Row: t.Row >> shift, Col: t.Col >> shift}
}

// Children returns the four tiles one zoom level down, in row-major order.
func (t TileAddress) Children() [4]TileAddress {
	z, r, c := t.Zoom+1, t.Row<<1, t.Col<<1
	return [4]TileAddress{
		{Zoom: z, Row: r, Col: c},
		{Zoom: z, Row: r, Col: c + 1},
		{Zoom: z, Row: r + 1, Col: c},
		{Zoom: z, Row: r + 1, Col: c + 1},
	}
}

// LoopInZoom wraps value into [0, 2^zoom) using floored modulo, so negative
// inputs land on the far side of the grid. Zooms outside [0, MaxZoom] are
// treated as the nearest valid zoom.
func LoopInZoom(value, zoom int) int {
	n := 1 << gridZoom(zoom)
	m := value % n
	if m < 0 {
		m += n
	}
	return m
}

// ClampInZoom pins value into [0, 2^zoom), with zoom limited like LoopInZoom.
func ClampInZoom(value, zoom int) int {
	n := 1 << gridZoom(zoom)
	if value < 0 {
		return 0
	}
	if value >= n {
		return n - 1
	}
	return value
}

func gridZoom(zoom int) int {
	return max(0, min(MaxZoom, zoom))
}

// URL expands a {z}/{x}/{y} template for this tile. {x} is the column, {y} the row.
func (t TileAddress) URL(template string) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Zoom),
		"{x}", strconv.Itoa(t.Col),
		"{y}", strconv.Itoa(t.Row),
	)
	return r.Replace(template)
}

// ToMaptile converts a valid address into the orb maptile representation.
func (t TileAddress) ToMaptile() maptile.Tile {
	return maptile.New(uint32(t.Col), uint32(t.Row), maptile.Zoom(t.Zoom))
}

// FromMaptile converts an orb maptile into an address.
func FromMaptile(mt maptile.Tile) TileAddress {
	return TileAddress{Zoom: int(mt.Z), Row: int(mt.Y), Col: int(mt.X)}
}

// Parse reads an address in "z/x/y" form, as produced by String.
func Parse(s string) (TileAddress, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 3 {
		return TileAddress{}, fmt.Errorf("invalid tile path %q", s)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		if i == 2 {
			if dot := strings.IndexByte(p, '.'); dot >= 0 {
				p = p[:dot]
			}
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return TileAddress{}, fmt.Errorf("invalid tile path %q: %w", s, err)
		}
		vals[i] = v
	}
	t := TileAddress{Zoom: vals[0], Col: vals[1], Row: vals[2]}
	if !t.Valid() {
		return TileAddress{}, fmt.Errorf("tile %s outside pyramid", t)
	}
	return t, nil
}
