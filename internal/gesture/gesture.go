package gesture

import (
	"errors"
	"fmt"
	"time"

	"slippymap/internal/coords"
)

// ErrInvalidGestureSequence is returned for pointer events that do not fit
// the tracked pointers, e.g. an up without a matching down.
var ErrInvalidGestureSequence = errors.New("invalid gesture sequence")

// Kind is the active gesture.
type Kind uint8

const (
	Idle Kind = iota
	Panning
	Pinching
	Rotating
	Flinging
	LongPressing
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Panning:
		return "panning"
	case Pinching:
		return "pinching"
	case Rotating:
		return "rotating"
	case Flinging:
		return "flinging"
	case LongPressing:
		return "long-pressing"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// State is the active gesture. Velocity and DecayStart are only meaningful
// while flinging; Velocity is in canvas units per second.
type State struct {
	Kind       Kind
	Velocity   coords.CanvasPosition
	DecayStart time.Time
}

// Action is the class of a pointer event.
type Action uint8

const (
	Down Action = iota
	Move
	Up
	Cancel
)

func (a Action) String() string {
	switch a {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// PointerEvent is one raw pointer or touch event.
type PointerEvent struct {
	Action   Action
	ID       int64
	Position coords.ScreenOffset
	Time     time.Time
}

// Listener receives discrete gestures. Nil fields are skipped. Callbacks
// run after the camera has been updated, outside the controller lock.
type Listener struct {
	OnTap       func(pos coords.ScreenOffset)
	OnDoubleTap func(pos coords.ScreenOffset)
	OnLongPress func(pos coords.ScreenOffset)
}

// Options tune gesture recognition. Distances are in screen pixels.
type Options struct {
	// TouchSlop is how far a pointer may drift before a press becomes a drag.
	TouchSlop float64 `mapstructure:"touch_slop"`
	// DoubleTapWindow is the longest gap between the taps of a double tap;
	// single taps are reported once it has passed.
	DoubleTapWindow time.Duration `mapstructure:"double_tap_window"`
	// DoubleTapZoom is the zoom delta applied by a double tap.
	DoubleTapZoom float64 `mapstructure:"double_tap_zoom"`
	// LongPressTimeout is how long a still pointer must be held.
	LongPressTimeout time.Duration `mapstructure:"long_press_timeout"`
	// RotationSlop is the two-finger twist, in degrees, before rotation starts.
	RotationSlop float64 `mapstructure:"rotation_slop"`
	// FlingDecay multiplies the fling velocity after every tick.
	FlingDecay float64 `mapstructure:"fling_decay"`
	// MinFlingVelocity is the release speed, in pixels per second, needed to fling.
	MinFlingVelocity float64 `mapstructure:"min_fling_velocity"`
	// StopVelocity ends a fling once the speed drops below it, in pixels per second.
	StopVelocity float64 `mapstructure:"stop_velocity"`
	// VelocityWindow is how much pointer history the release velocity uses.
	VelocityWindow time.Duration `mapstructure:"velocity_window"`
}

// DefaultOptions returns the default recognition tuning.
func DefaultOptions() Options {
	return Options{
		TouchSlop:        8,
		DoubleTapWindow:  300 * time.Millisecond,
		DoubleTapZoom:    1,
		LongPressTimeout: 500 * time.Millisecond,
		RotationSlop:     10,
		FlingDecay:       0.92,
		MinFlingVelocity: 50,
		StopVelocity:     10,
		VelocityWindow:   100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TouchSlop <= 0 {
		o.TouchSlop = d.TouchSlop
	}
	if o.DoubleTapWindow <= 0 {
		o.DoubleTapWindow = d.DoubleTapWindow
	}
	if o.DoubleTapZoom == 0 {
		o.DoubleTapZoom = d.DoubleTapZoom
	}
	if o.LongPressTimeout <= 0 {
		o.LongPressTimeout = d.LongPressTimeout
	}
	if o.RotationSlop <= 0 {
		o.RotationSlop = d.RotationSlop
	}
	if o.FlingDecay <= 0 || o.FlingDecay >= 1 {
		o.FlingDecay = d.FlingDecay
	}
	if o.MinFlingVelocity <= 0 {
		o.MinFlingVelocity = d.MinFlingVelocity
	}
	if o.StopVelocity <= 0 {
		o.StopVelocity = d.StopVelocity
	}
	if o.VelocityWindow <= 0 {
		o.VelocityWindow = d.VelocityWindow
	}
	return o
}
