package engine

import (
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"slippymap/internal/camera"
	"slippymap/internal/coords"
	"slippymap/internal/gesture"
	"slippymap/internal/metrics"
	"slippymap/internal/tilecache"
	"slippymap/internal/viewport"
	"slippymap/pkg/tiles"
)

// TileView is one visible tile together with the best content the cache
// had for it when the frame was built.
type TileView struct {
	viewport.Placement
	Content tilecache.Content
	// From is the address Content belongs to; it differs from Address
	// when an ancestor tile stands in.
	From  tiles.TileAddress
	State tilecache.State
}

// Frame is what the renderer draws. Frames are immutable once published.
type Frame struct {
	Seq     uint64
	Camera  camera.State
	Zoom    int
	Gesture gesture.Kind
	Tiles   []TileView
	Built   time.Time
}

// Pending returns the number of visible tiles still being fetched.
func (f *Frame) Pending() int {
	n := 0
	for _, t := range f.Tiles {
		if t.State == tilecache.StatePending {
			n++
		}
	}
	return n
}

// Has reports whether addr is among the frame's visible tiles.
func (f *Frame) Has(addr tiles.TileAddress) bool {
	for _, t := range f.Tiles {
		if t.Address == addr {
			return true
		}
	}
	return false
}

// Engine connects input, camera, visibility and the tile cache. Every
// camera change recomputes the visible tiles, cancels fetches that left
// the viewport, requests the new ones and publishes a Frame.
type Engine struct {
	cam   *camera.Camera
	ctrl  *gesture.Controller
	cache *tilecache.Cache
	log   logrus.FieldLogger
	// baseTiles is the configured cache capacity, before sizing to the canvas.
	baseTiles int

	mu      sync.Mutex
	seq     uint64
	frame   atomic.Pointer[Frame]
	onFrame func(*Frame)
}

// New wires the components together and publishes the first frame.
func New(cam *camera.Camera, ctrl *gesture.Controller, cache *tilecache.Cache, log logrus.FieldLogger) *Engine {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	e := &Engine{
		cam:   cam,
		ctrl:  ctrl,
		cache: cache,
		log:   log.WithField("component", "engine"),

		baseTiles: cache.Options().MaxTiles,
	}
	cache.SetOnLoadCallback(e.tileLoaded)
	e.fitCache(cam.State().CanvasSize)
	e.Refresh()
	return e
}

// Camera returns the camera driven by the engine.
func (e *Engine) Camera() *camera.Camera {
	return e.cam
}

// Cache returns the tile cache.
func (e *Engine) Cache() *tilecache.Cache {
	return e.cache
}

// Controller returns the gesture controller.
func (e *Engine) Controller() *gesture.Controller {
	return e.ctrl
}

// Frame returns the latest published frame.
func (e *Engine) Frame() *Frame {
	return e.frame.Load()
}

// OnFrame registers a function called with every new frame, outside any
// engine lock. It may be called from fetch goroutines.
func (e *Engine) OnFrame(fn func(*Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFrame = fn
}

// HandlePointer feeds a pointer event to the gesture controller.
func (e *Engine) HandlePointer(ev gesture.PointerEvent) error {
	before := e.cam.State()
	err := e.ctrl.Handle(ev)
	if e.cam.State() != before {
		e.Refresh()
	}
	return err
}

// Tick advances flings and gesture timers.
func (e *Engine) Tick(now time.Time) bool {
	moved := e.ctrl.Tick(now)
	if moved {
		e.Refresh()
	}
	return moved
}

// Resize changes the viewport size.
func (e *Engine) Resize(size camera.Size) {
	e.cam.SetCanvasSize(size)
	e.fitCache(size)
	e.Refresh()
}

// fitCache keeps the cache large enough to hold every tile the canvas can
// show at once. A smaller cache would evict visible tiles as fast as they
// load and refetch them forever.
func (e *Engine) fitCache(size camera.Size) {
	need := TileBudget(size, e.cam.Properties().TileSize)
	n := max(e.baseTiles, need)
	if n == e.cache.Options().MaxTiles {
		return
	}
	e.cache.SetMaxTiles(n)
	e.log.WithFields(logrus.Fields{"maxTiles": n, "configured": e.baseTiles}).Info("cache capacity sized to viewport")
}

// TileBudget returns the most tiles a canvas of the given size can show:
// the canvas diagonal, covering any rotation, plus one ring of margin.
// Tiles are never drawn smaller than tileSize since the camera zoom stays
// inside the zoom range.
func TileBudget(size camera.Size, tileSize int) int {
	if tileSize <= 0 || size.Width <= 0 || size.Height <= 0 {
		return 0
	}
	d := math.Hypot(size.Width, size.Height)
	n := int(math.Ceil(d/float64(tileSize))) + 3
	return n * n
}

// ZoomBy zooms around a screen point.
func (e *Engine) ZoomBy(focus coords.ScreenOffset, delta float64) {
	e.ctrl.ZoomBy(focus, delta)
	e.Refresh()
}

// PanBy moves the map content by a screen displacement.
func (e *Engine) PanBy(delta coords.ScreenOffset) {
	e.ctrl.PanBy(delta)
	e.Refresh()
}

// RotateBy rotates the map around the viewport centre.
func (e *Engine) RotateBy(degrees float64) {
	e.ctrl.RotateBy(degrees)
	e.Refresh()
}

// ZoomTo sets an absolute zoom level around the viewport centre.
func (e *Engine) ZoomTo(zoom float64) {
	e.cam.ZoomTo(zoom)
	e.Refresh()
}

// MoveTo centres the map on projected coordinates.
func (e *Engine) MoveTo(center coords.ProjectedCoordinates) error {
	if _, err := e.cam.MoveTo(center); err != nil {
		return err
	}
	e.Refresh()
	return nil
}

// Refresh rebuilds and publishes the frame for the current camera state.
func (e *Engine) Refresh() *Frame {
	e.mu.Lock()
	s := e.cam.State()
	res := viewport.Compute(s, e.cam.Properties())
	addrs := res.Addresses()

	if n := e.cache.InvalidateIfStale(addrs); n > 0 {
		e.log.WithField("cancelled", n).Debug("viewport moved away from pending tiles")
	}
	lookups := make(map[tiles.TileAddress]tilecache.Lookup, len(addrs))
	for _, addr := range addrs {
		lookups[addr] = e.cache.Request(addr)
	}

	views := make([]TileView, len(res.Placements))
	for i, p := range res.Placements {
		l := lookups[p.Address]
		views[i] = TileView{Placement: p, Content: l.Content, From: l.From, State: l.State}
	}

	e.seq++
	f := &Frame{
		Seq:     e.seq,
		Camera:  s,
		Zoom:    res.Zoom,
		Gesture: e.ctrl.State().Kind,
		Tiles:   views,
		Built:   time.Now(),
	}
	e.frame.Store(f)
	metrics.VisibleTiles.Set(float64(len(addrs)))
	callback := e.onFrame
	e.mu.Unlock()

	if callback != nil {
		callback(f)
	}
	return f
}

func (e *Engine) tileLoaded(addr tiles.TileAddress) {
	if f := e.Frame(); f != nil && !f.Has(addr) {
		return
	}
	e.Refresh()
}

// Close stops all background fetches.
func (e *Engine) Close() {
	e.cache.Close()
}
