package gesture

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/sirupsen/logrus"

	"slippymap/internal/camera"
	"slippymap/internal/coords"
	"slippymap/internal/metrics"
)

type pointer struct {
	id       int64
	down     r2.Point
	downTime time.Time
	pos      r2.Point
	// last is the position already applied to the camera
	last r2.Point
}

type sample struct {
	pos r2.Point
	t   time.Time
}

type tap struct {
	pos r2.Point
	t   time.Time
}

// Controller turns pointer events into camera changes. It is the only
// writer of the camera during gestures; every change goes through
// camera.ApplyDelta or camera.ApplyDeltaAround.
type Controller struct {
	mu       sync.Mutex
	cam      *camera.Camera
	opts     Options
	log      logrus.FieldLogger
	listener Listener

	state    State
	pointers map[int64]*pointer
	order    []int64
	// moved is set once a single pointer leaves the touch slop
	moved bool
	// tappable is cleared by anything that rules out a tap
	tappable   bool
	twist      float64
	samples    []sample
	lastTick   time.Time
	pendingTap *tap
}

// NewController creates a controller driving cam.
func NewController(cam *camera.Camera, opts Options, log logrus.FieldLogger) *Controller {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Controller{
		cam:      cam,
		opts:     opts.withDefaults(),
		log:      log.WithField("component", "gesture"),
		pointers: make(map[int64]*pointer),
	}
}

// SetListener replaces the discrete gesture callbacks.
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// State returns the active gesture.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Options returns the effective tuning.
func (c *Controller) Options() Options {
	return c.opts
}

// Handle feeds one pointer event. Events that do not match the tracked
// pointers reset the controller to Idle and return an error wrapping
// ErrInvalidGestureSequence.
func (c *Controller) Handle(ev PointerEvent) error {
	c.mu.Lock()
	var fired []func()
	fired = c.timersLocked(ev.Time, fired)

	var err error
	switch ev.Action {
	case Down:
		err = c.downLocked(ev)
	case Move:
		err = c.moveLocked(ev)
	case Up:
		fired, err = c.upLocked(ev, fired)
	case Cancel:
		err = c.cancelLocked(ev)
	default:
		err = c.invalidLocked(ev, "unknown action")
	}
	c.mu.Unlock()

	for _, f := range fired {
		f()
	}
	return err
}

// Tick advances time-driven behaviour: fling decay, long press detection
// and delayed single taps. It reports whether the camera moved.
func (c *Controller) Tick(now time.Time) bool {
	c.mu.Lock()
	fired := c.timersLocked(now, nil)
	moved := false

	if c.state.Kind == Flinging {
		dt := now.Sub(c.lastTick).Seconds()
		if dt > 0 {
			next := c.cam.ApplyDelta(c.state.Velocity.Times(dt), 0, 0)
			c.state.Velocity = c.state.Velocity.Times(c.opts.FlingDecay)
			c.lastTick = now
			moved = true
			if c.state.Velocity.Length()*next.Scale() < c.opts.StopVelocity {
				c.setStateLocked(Idle)
			}
		}
	}
	c.mu.Unlock()

	for _, f := range fired {
		f()
	}
	return moved
}

// StartFling starts inertial motion with a velocity in canvas units per second.
func (c *Controller) StartFling(velocity coords.CanvasPosition, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startFlingLocked(velocity, now)
}

// ZoomBy zooms around a screen point, e.g. for a scroll wheel. It stops a
// running fling.
func (c *Controller) ZoomBy(focus coords.ScreenOffset, delta float64) camera.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFlingLocked()
	return c.cam.ApplyDeltaAround(focus, coords.CanvasPosition{}, delta, 0)
}

// PanBy moves the map content by a screen displacement.
func (c *Controller) PanBy(delta coords.ScreenOffset) camera.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFlingLocked()
	return c.cam.ApplyDelta(c.cam.State().ScreenDeltaToCanvas(delta).Neg(), 0, 0)
}

// RotateBy rotates the map around the viewport centre.
func (c *Controller) RotateBy(degrees float64) camera.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopFlingLocked()
	return c.cam.ApplyDelta(coords.CanvasPosition{}, 0, degrees)
}

// Reset drops all tracked pointers and returns to Idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) downLocked(ev PointerEvent) error {
	if _, ok := c.pointers[ev.ID]; ok {
		return c.invalidLocked(ev, "duplicate down")
	}
	wasFlinging := c.state.Kind == Flinging
	c.stopFlingLocked()

	pos := toPoint(ev.Position)
	c.pointers[ev.ID] = &pointer{id: ev.ID, down: pos, downTime: ev.Time, pos: pos, last: pos}
	c.order = append(c.order, ev.ID)

	switch len(c.pointers) {
	case 1:
		c.moved = false
		c.tappable = !wasFlinging
		c.samples = c.samples[:0]
		c.sampleLocked(pos, ev.Time)
		c.setStateLocked(Panning)
	case 2:
		c.moved = true
		c.tappable = false
		c.twist = 0
		for _, p := range c.pointers {
			p.last = p.pos
		}
		c.samples = c.samples[:0]
		c.sampleLocked(c.centroidLocked(), ev.Time)
		c.setStateLocked(Pinching)
	}
	return nil
}

func (c *Controller) moveLocked(ev PointerEvent) error {
	p, ok := c.pointers[ev.ID]
	if !ok {
		return c.invalidLocked(ev, "move without down")
	}
	p.pos = toPoint(ev.Position)

	switch c.state.Kind {
	case Panning:
		if !c.moved {
			if p.pos.Sub(p.down).Norm() <= c.opts.TouchSlop {
				return nil
			}
			c.moved = true
			c.tappable = false
		}
		delta := p.pos.Sub(p.last)
		p.last = p.pos
		s := c.cam.State()
		c.cam.ApplyDelta(s.ScreenDeltaToCanvas(toOffset(delta)).Neg(), 0, 0)
		c.sampleLocked(p.pos, ev.Time)
	case Pinching, Rotating:
		a, b := c.pinchPairLocked()
		if a == nil || (p != a && p != b) {
			return nil
		}
		c.pinchLocked(a, b)
		c.sampleLocked(c.centroidLocked(), ev.Time)
	}
	return nil
}

// pinchLocked applies the change between the last applied and the current
// positions of the two pinching pointers.
func (c *Controller) pinchLocked(a, b *pointer) {
	oldCentre := a.last.Add(b.last).Mul(0.5)
	newCentre := a.pos.Add(b.pos).Mul(0.5)
	oldSpan := b.last.Sub(a.last)
	newSpan := b.pos.Sub(a.pos)
	a.last, b.last = a.pos, b.pos

	zoomDelta := 0.0
	if oldSpan.Norm() > 0 && newSpan.Norm() > 0 {
		zoomDelta = math.Log2(newSpan.Norm() / oldSpan.Norm())
	}

	rotation := 0.0
	if c.cam.Properties().RotationEnabled {
		rotation = math.Atan2(oldSpan.Cross(newSpan), oldSpan.Dot(newSpan)) * 180 / math.Pi
		if c.state.Kind == Pinching {
			c.twist += rotation
			rotation = 0
			if math.Abs(c.twist) >= c.opts.RotationSlop {
				c.setStateLocked(Rotating)
			}
		}
	}

	s := c.cam.State()
	pan := s.ScreenDeltaToCanvas(toOffset(newCentre.Sub(oldCentre))).Neg()
	c.cam.ApplyDeltaAround(toOffset(newCentre), pan, zoomDelta, rotation)
}

func (c *Controller) upLocked(ev PointerEvent, fired []func()) ([]func(), error) {
	p, ok := c.pointers[ev.ID]
	if !ok {
		return fired, c.invalidLocked(ev, "up without down")
	}
	p.pos = toPoint(ev.Position)
	c.removeLocked(ev.ID)

	switch c.state.Kind {
	case Panning:
		if c.moved {
			c.sampleLocked(p.pos, ev.Time)
			v := c.releaseVelocityLocked(ev.Time)
			c.setStateLocked(Idle)
			if v.Norm() >= c.opts.MinFlingVelocity {
				s := c.cam.State()
				c.startFlingLocked(s.ScreenDeltaToCanvas(toOffset(v)).Neg(), ev.Time)
			}
			return fired, nil
		}
		c.setStateLocked(Idle)
		if c.tappable {
			fired = c.tapLocked(p.pos, ev.Time, fired)
		}
	case Pinching, Rotating:
		c.afterPinchLiftLocked(ev.Time)
	case LongPressing:
		if len(c.pointers) == 0 {
			c.setStateLocked(Idle)
		}
	}
	return fired, nil
}

func (c *Controller) cancelLocked(ev PointerEvent) error {
	if _, ok := c.pointers[ev.ID]; !ok {
		return c.invalidLocked(ev, "cancel without down")
	}
	c.removeLocked(ev.ID)
	switch {
	case len(c.pointers) == 0:
		c.samples = c.samples[:0]
		c.tappable = false
		c.setStateLocked(Idle)
	case c.state.Kind == Pinching || c.state.Kind == Rotating:
		c.afterPinchLiftLocked(ev.Time)
	}
	return nil
}

// afterPinchLiftLocked continues with the pointers still down once one of
// the pinching pointers is gone.
func (c *Controller) afterPinchLiftLocked(now time.Time) {
	for _, p := range c.pointers {
		p.last = p.pos
	}
	c.samples = c.samples[:0]
	switch len(c.pointers) {
	case 0:
		c.setStateLocked(Idle)
	case 1:
		c.moved = true
		for _, p := range c.pointers {
			c.sampleLocked(p.pos, now)
		}
		c.setStateLocked(Panning)
	default:
		c.twist = 0
		c.sampleLocked(c.centroidLocked(), now)
	}
}

func (c *Controller) tapLocked(pos r2.Point, now time.Time, fired []func()) []func() {
	prev := c.pendingTap
	if prev != nil && now.Sub(prev.t) <= c.opts.DoubleTapWindow && pos.Sub(prev.pos).Norm() <= 4*c.opts.TouchSlop {
		c.pendingTap = nil
		c.cam.ApplyDeltaAround(toOffset(pos), coords.CanvasPosition{}, c.opts.DoubleTapZoom, 0)
		c.log.WithField("at", toOffset(pos)).Debug("double tap")
		return emit(fired, c.listener.OnDoubleTap, pos)
	}
	if prev != nil {
		fired = emit(fired, c.listener.OnTap, prev.pos)
	}
	c.pendingTap = &tap{pos: pos, t: now}
	return fired
}

// timersLocked fires the long press and the delayed single tap once their
// deadlines have passed.
func (c *Controller) timersLocked(now time.Time, fired []func()) []func() {
	if c.state.Kind == Panning && !c.moved && len(c.pointers) == 1 {
		for _, p := range c.pointers {
			if now.Sub(p.downTime) >= c.opts.LongPressTimeout {
				c.tappable = false
				c.setStateLocked(LongPressing)
				c.log.WithField("at", toOffset(p.down)).Debug("long press")
				fired = emit(fired, c.listener.OnLongPress, p.down)
			}
		}
	}
	if c.pendingTap != nil && now.Sub(c.pendingTap.t) > c.opts.DoubleTapWindow {
		fired = emit(fired, c.listener.OnTap, c.pendingTap.pos)
		c.pendingTap = nil
	}
	return fired
}

func (c *Controller) startFlingLocked(velocity coords.CanvasPosition, now time.Time) {
	if velocity.Length() == 0 {
		return
	}
	c.state = State{Kind: Flinging, Velocity: velocity, DecayStart: now}
	c.lastTick = now
	c.log.WithField("velocity", velocity).Debug("fling started")
}

func (c *Controller) stopFlingLocked() {
	if c.state.Kind == Flinging {
		c.setStateLocked(Idle)
	}
}

func (c *Controller) setStateLocked(kind Kind) {
	if c.state.Kind != kind {
		c.log.WithFields(logrus.Fields{"from": c.state.Kind, "to": kind}).Trace("gesture state")
	}
	c.state = State{Kind: kind}
}

func (c *Controller) invalidLocked(ev PointerEvent, reason string) error {
	err := fmt.Errorf("%w: %s for pointer %d", ErrInvalidGestureSequence, reason, ev.ID)
	c.log.WithError(err).WithField("state", c.state.Kind).Warn("resetting gesture")
	metrics.GestureResetsTotal.Inc()
	c.resetLocked()
	return err
}

func (c *Controller) resetLocked() {
	c.pointers = make(map[int64]*pointer)
	c.order = c.order[:0]
	c.samples = c.samples[:0]
	c.moved = false
	c.tappable = false
	c.twist = 0
	c.pendingTap = nil
	c.setStateLocked(Idle)
}

func (c *Controller) removeLocked(id int64) {
	delete(c.pointers, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// pinchPairLocked returns the two earliest pointers still down.
func (c *Controller) pinchPairLocked() (*pointer, *pointer) {
	if len(c.order) < 2 {
		return nil, nil
	}
	return c.pointers[c.order[0]], c.pointers[c.order[1]]
}

func (c *Controller) centroidLocked() r2.Point {
	a, b := c.pinchPairLocked()
	if a == nil {
		for _, p := range c.pointers {
			return p.pos
		}
		return r2.Point{}
	}
	return a.pos.Add(b.pos).Mul(0.5)
}

func (c *Controller) sampleLocked(pos r2.Point, t time.Time) {
	c.samples = append(c.samples, sample{pos: pos, t: t})
	cut := 0
	for cut < len(c.samples)-1 && t.Sub(c.samples[cut].t) > c.opts.VelocityWindow {
		cut++
	}
	if cut > 0 {
		c.samples = append(c.samples[:0], c.samples[cut:]...)
	}
}

// releaseVelocityLocked returns the screen velocity, in pixels per second,
// over the recent samples. A pointer that rested before lifting has none.
func (c *Controller) releaseVelocityLocked(now time.Time) r2.Point {
	if len(c.samples) < 2 {
		return r2.Point{}
	}
	last := c.samples[len(c.samples)-1]
	first := c.samples[0]
	// the final sample is the release itself; look at the one before it
	if now.Sub(c.samples[len(c.samples)-2].t) > c.opts.VelocityWindow {
		return r2.Point{}
	}
	dt := last.t.Sub(first.t).Seconds()
	if dt <= 0 {
		return r2.Point{}
	}
	return last.pos.Sub(first.pos).Mul(1 / dt)
}

func emit(fired []func(), fn func(coords.ScreenOffset), pos r2.Point) []func() {
	if fn == nil {
		return fired
	}
	at := toOffset(pos)
	return append(fired, func() { fn(at) })
}

func toPoint(o coords.ScreenOffset) r2.Point {
	return r2.Point{X: o.X, Y: o.Y}
}

func toOffset(p r2.Point) coords.ScreenOffset {
	return coords.ScreenOffset{X: p.X, Y: p.Y}
}
