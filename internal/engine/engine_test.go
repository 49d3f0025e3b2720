package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"slippymap/internal/camera"
	"slippymap/internal/coords"
	"slippymap/internal/gesture"
	"slippymap/internal/projection"
	"slippymap/internal/tilecache"
	"slippymap/pkg/tiles"
)

func newEngine(t *testing.T, source tilecache.Source, zoom float64) *Engine {
	t.Helper()
	props := projection.WebMercator(256)
	cam, err := camera.New(props, camera.Size{Width: 512, Height: 512}, coords.ProjectedCoordinates{}, zoom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opts := tilecache.DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	cache := tilecache.New(source, opts, nil)
	e := New(cam, gesture.NewController(cam, gesture.Options{}, nil), cache, nil)
	t.Cleanup(e.Close)
	return e
}

func rasterSource() tilecache.Source {
	return tilecache.SourceFunc(func(ctx context.Context, addr tiles.TileAddress) (tilecache.Content, error) {
		return tilecache.Raster([]byte(addr.String())), nil
	})
}

func waitFrame(t *testing.T, e *Engine, cond func(*Frame) bool) *Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f := e.Frame()
		if cond(f) {
			return f
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for frame, last seq %d", f.Seq)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_LoadsVisibleTiles(t *testing.T) {
	e := newEngine(t, rasterSource(), 1)

	f := e.Frame()
	if f == nil || f.Zoom != 1 {
		t.Fatalf("unexpected first frame %+v", f)
	}
	if len(f.Tiles) != 4 {
		t.Fatalf("expected the 4 tiles of zoom 1, got %d", len(f.Tiles))
	}

	f = waitFrame(t, e, func(f *Frame) bool { return f.Pending() == 0 })
	for _, tv := range f.Tiles {
		if tv.State != tilecache.StateCached || tv.Content.Kind != tilecache.KindRaster || tv.From != tv.Address {
			t.Errorf("tile %v not loaded: %+v", tv.Address, tv)
		}
	}
}

func TestEngine_ZoomFallsBackToAncestors(t *testing.T) {
	release := make(chan struct{})
	src := tilecache.SourceFunc(func(ctx context.Context, addr tiles.TileAddress) (tilecache.Content, error) {
		if addr.Zoom > 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return tilecache.Content{}, ctx.Err()
			}
		}
		return tilecache.Raster([]byte(addr.String())), nil
	})
	e := newEngine(t, src, 1)
	defer close(release)
	waitFrame(t, e, func(f *Frame) bool { return f.Pending() == 0 })

	e.ZoomBy(coords.ScreenOffset{X: 256, Y: 256}, 1)
	f := e.Frame()
	if f.Zoom != 2 {
		t.Fatalf("expected zoom 2, got %d", f.Zoom)
	}
	for _, tv := range f.Tiles {
		if tv.State != tilecache.StatePending {
			t.Errorf("%v: expected pending, got %v", tv.Address, tv.State)
		}
		if !tv.From.IsParentOf(tv.Address) || tv.Content.Kind != tilecache.KindRaster {
			t.Errorf("%v: expected ancestor content, got %v from %v", tv.Address, tv.Content.Kind, tv.From)
		}
	}
}

func TestEngine_PanCancelsStaleFetches(t *testing.T) {
	src := tilecache.SourceFunc(func(ctx context.Context, addr tiles.TileAddress) (tilecache.Content, error) {
		<-ctx.Done()
		return tilecache.Content{}, ctx.Err()
	})
	e := newEngine(t, src, 8)
	before := e.Frame()

	// drag the map a full viewport to the left
	now := time.Now()
	evs := []gesture.PointerEvent{
		{Action: gesture.Down, ID: 1, Position: coords.ScreenOffset{X: 500, Y: 250}, Time: now},
		{Action: gesture.Move, ID: 1, Position: coords.ScreenOffset{X: 0, Y: 250}, Time: now.Add(20 * time.Millisecond)},
		{Action: gesture.Move, ID: 1, Position: coords.ScreenOffset{X: -600, Y: 250}, Time: now.Add(40 * time.Millisecond)},
	}
	for _, ev := range evs {
		if err := e.HandlePointer(ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	after := e.Frame()
	if after.Seq <= before.Seq {
		t.Fatalf("pan did not publish a frame")
	}
	if after.Gesture != gesture.Panning {
		t.Errorf("expected panning, got %v", after.Gesture)
	}
	visible := make(map[tiles.TileAddress]bool)
	for _, tv := range after.Tiles {
		visible[tv.Address] = true
	}
	for _, tv := range before.Tiles {
		if !visible[tv.Address] && e.Cache().State(tv.Address) != tilecache.StateNotRequested {
			t.Errorf("%v left the viewport but is %v", tv.Address, e.Cache().State(tv.Address))
		}
	}
	if n := e.Cache().PendingCount(); n != len(visible) {
		t.Errorf("expected %d pending fetches, got %d", len(visible), n)
	}
}

func TestEngine_InvalidPointerSequence(t *testing.T) {
	e := newEngine(t, rasterSource(), 2)
	before := e.Camera().State()

	err := e.HandlePointer(gesture.PointerEvent{Action: gesture.Up, ID: 4, Time: time.Now()})
	if !errors.Is(err, gesture.ErrInvalidGestureSequence) {
		t.Fatalf("expected ErrInvalidGestureSequence, got %v", err)
	}
	if e.Controller().State().Kind != gesture.Idle {
		t.Errorf("controller not reset")
	}
	if e.Camera().State() != before {
		t.Errorf("invalid event moved the camera")
	}
}

func TestEngine_FlingPublishesFrames(t *testing.T) {
	e := newEngine(t, rasterSource(), 3)
	frames := make(chan *Frame, 256)
	e.OnFrame(func(f *Frame) {
		select {
		case frames <- f:
		default:
		}
	})

	start := time.Now()
	e.Controller().StartFling(coords.CanvasPosition{Horizontal: 5}, start)
	if !e.Tick(start.Add(16 * time.Millisecond)) {
		t.Fatal("fling tick did not move the camera")
	}
	// tile loads publish frames too; look for the one after the tick
	timeout := time.After(time.Second)
	for {
		select {
		case f := <-frames:
			if f.Camera.RawPosition.Horizontal > 128 {
				return
			}
		case <-timeout:
			t.Fatal("no frame published for the fling")
		}
	}
}

func TestEngine_ResizeAndMove(t *testing.T) {
	e := newEngine(t, rasterSource(), 3)

	e.Resize(camera.Size{Width: 1024, Height: 256})
	f := e.Frame()
	if f.Camera.CanvasSize.Width != 1024 {
		t.Errorf("resize not reflected: %v", f.Camera.CanvasSize)
	}

	if err := e.MoveTo(coords.ProjectedCoordinates{Horizontal: 4.9041, Vertical: 52.3676}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	centre := e.Camera().Center()
	if centre.Horizontal < 4.90 || centre.Horizontal > 4.91 {
		t.Errorf("unexpected centre %v", centre)
	}

	err := e.MoveTo(coords.ProjectedCoordinates{Vertical: 89})
	if !errors.Is(err, projection.ErrProjectionOutOfRange) {
		t.Errorf("expected ErrProjectionOutOfRange, got %v", err)
	}

	e.RotateBy(45)
	if a := e.Frame().Camera.AngleDegrees; a != 45 {
		t.Errorf("expected 45 degrees, got %v", a)
	}
	before := e.Frame().Camera.RawPosition
	e.PanBy(coords.ScreenOffset{X: 10})
	if e.Frame().Camera.RawPosition == before {
		t.Errorf("pan did not move the camera")
	}
}

func TestEngine_IdleCameraDoesNotRefetch(t *testing.T) {
	var calls atomic.Int32
	src := tilecache.SourceFunc(func(ctx context.Context, addr tiles.TileAddress) (tilecache.Content, error) {
		calls.Add(1)
		return tilecache.Raster([]byte(addr.String())), nil
	})
	props := projection.WebMercator(256)
	amsterdam := coords.ProjectedCoordinates{Horizontal: 4.9041, Vertical: 52.3676}
	cam, err := camera.New(props, camera.Size{Width: 1920, Height: 1080}, amsterdam, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cache := tilecache.New(src, tilecache.DefaultOptions(), nil)
	e := New(cam, gesture.NewController(cam, gesture.Options{}, nil), cache, nil)
	defer e.Close()

	f := waitFrame(t, e, func(f *Frame) bool {
		for _, tv := range f.Tiles {
			if tv.State != tilecache.StateCached {
				return false
			}
		}
		return true
	})
	visible := len(f.Tiles)
	if visible <= tilecache.DefaultOptions().MaxTiles {
		t.Fatalf("expected more visible tiles than the default capacity, got %d", visible)
	}
	if got := cache.Options().MaxTiles; got < visible {
		t.Fatalf("capacity %d below visible count %d", got, visible)
	}

	settled := calls.Load()
	time.Sleep(200 * time.Millisecond)
	if got := calls.Load(); got != settled || int(got) > visible {
		t.Errorf("idle camera fetched %d tiles (settled at %d) for %d visible", got, settled, visible)
	}
	if cache.Len() != visible {
		t.Errorf("expected all %d visible tiles cached, got %d", visible, cache.Len())
	}
}

func TestEngine_ResizeGrowsCache(t *testing.T) {
	e := newEngine(t, rasterSource(), 3)
	before := e.Cache().Options().MaxTiles

	e.Resize(camera.Size{Width: 2560, Height: 1440})
	after := e.Cache().Options().MaxTiles
	if after <= before || after < len(e.Frame().Tiles) {
		t.Errorf("expected capacity to grow past %d and cover %d tiles, got %d", before, len(e.Frame().Tiles), after)
	}
}

func TestTileBudget(t *testing.T) {
	tests := []struct {
		size camera.Size
		want int
	}{
		{camera.Size{Width: 0, Height: 600}, 0},
		{camera.Size{Width: 256, Height: 256}, 25},
		{camera.Size{Width: 1920, Height: 1080}, 144},
	}
	for _, tt := range tests {
		if got := TileBudget(tt.size, 256); got != tt.want {
			t.Errorf("TileBudget(%v) = %d, want %d", tt.size, got, tt.want)
		}
	}
}
