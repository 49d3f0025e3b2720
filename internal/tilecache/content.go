package tilecache

import (
	"fmt"

	"slippymap/internal/vectortile"
)

// Kind tags the variant held by a Content.
type Kind uint8

const (
	KindNone Kind = iota
	KindPending
	KindFailed
	KindRaster
	KindVector
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPending:
		return "pending"
	case KindFailed:
		return "failed"
	case KindRaster:
		return "raster"
	case KindVector:
		return "vector"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Content is what the cache knows about a tile: encoded raster bytes,
// decoded vector data, or a marker that nothing is available yet.
type Content struct {
	Kind   Kind
	Raster []byte
	Vector *vectortile.TileData
}

// Raster wraps encoded image bytes. Decoding is left to the renderer.
func Raster(data []byte) Content {
	return Content{Kind: KindRaster, Raster: data}
}

// Vector wraps a decoded vector tile.
func Vector(td *vectortile.TileData) Content {
	return Content{Kind: KindVector, Vector: td}
}

// HasPayload reports whether the content carries drawable data.
func (c Content) HasPayload() bool {
	return c.Kind == KindRaster || c.Kind == KindVector
}

// Size returns an approximate payload size in bytes, for logs.
func (c Content) Size() int {
	switch c.Kind {
	case KindRaster:
		return len(c.Raster)
	case KindVector:
		if c.Vector != nil {
			return c.Vector.FeatureCount()
		}
	}
	return 0
}

// State is the lifecycle of one address in the cache.
type State uint8

const (
	StateNotRequested State = iota
	StatePending
	StateCached
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotRequested:
		return "not-requested"
	case StatePending:
		return "pending"
	case StateCached:
		return "cached"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
