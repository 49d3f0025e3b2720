package tilecache

import (
	"context"
	"errors"

	"slippymap/pkg/tiles"
)

// ErrFetchFailure wraps every failed tile fetch.
var ErrFetchFailure = errors.New("tile fetch failed")

// Source provides tile content. It is called once per fetch attempt; any
// returned error, or a panic, counts as a failed attempt.
type Source interface {
	GetTile(ctx context.Context, addr tiles.TileAddress) (Content, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, addr tiles.TileAddress) (Content, error)

func (f SourceFunc) GetTile(ctx context.Context, addr tiles.TileAddress) (Content, error) {
	return f(ctx, addr)
}
