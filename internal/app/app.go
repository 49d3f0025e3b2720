package app

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/sirupsen/logrus"

	"slippymap/internal/camera"
	"slippymap/internal/config"
	"slippymap/internal/coords"
	"slippymap/internal/engine"
	"slippymap/internal/gesture"
)

// KeyRotateSpeed is the keyboard rotation step in degrees per frame.
const KeyRotateSpeed = 2.0

// App owns the window and turns its input into engine calls. Drawing is
// left to whoever subscribes to engine frames.
type App struct {
	window *glfw.Window
	engine *engine.Engine
	cfg    config.App
	log    logrus.FieldLogger

	keys   map[glfw.Key]bool
	keysMu sync.RWMutex

	pressed bool
}

// New opens the window and wires its callbacks to e. It must be called
// from the main goroutine.
func New(e *engine.Engine, cfg config.App, log logrus.FieldLogger) (*App, error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("GLFW init failed: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	window, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window creation failed: %w", err)
	}

	app := &App{
		window: window,
		engine: e,
		cfg:    cfg,
		log:    log.WithField("component", "app"),
		keys:   make(map[glfw.Key]bool),
	}
	w, h := window.GetSize()
	e.Resize(camera.Size{Width: float64(w), Height: float64(h)})

	e.Controller().SetListener(gesture.Listener{
		OnTap:       func(p coords.ScreenOffset) { app.logPoint("tap", p) },
		OnDoubleTap: func(p coords.ScreenOffset) { app.logPoint("double tap", p) },
		OnLongPress: func(p coords.ScreenOffset) { app.logPoint("long press", p) },
	})
	app.setupCallbacks()
	return app, nil
}

func (app *App) setupCallbacks() {
	// cursor positions are in window coordinates, so the camera follows
	// the window size rather than the framebuffer
	app.window.SetSizeCallback(func(w *glfw.Window, width, height int) {
		app.engine.Resize(camera.Size{Width: float64(width), Height: float64(height)})
	})

	app.window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft {
			return
		}
		switch action {
		case glfw.Press:
			app.pressed = true
			app.pointer(gesture.Down, w)
		case glfw.Release:
			app.pressed = false
			app.pointer(gesture.Up, w)
		}
	})

	app.window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		if app.pressed {
			app.pointer(gesture.Move, w)
		}
	})

	app.window.SetCursorEnterCallback(func(w *glfw.Window, entered bool) {
		if !entered && app.pressed {
			app.pressed = false
			app.pointer(gesture.Cancel, w)
		}
	})

	app.window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		if yoff == 0 {
			return
		}
		x, y := w.GetCursorPos()
		step := 1.0
		if yoff < 0 {
			step = -1
		}
		app.engine.ZoomBy(coords.ScreenOffset{X: x, Y: y}, step)
	})

	app.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		app.keysMu.Lock()
		if action == glfw.Press {
			app.keys[key] = true
		} else if action == glfw.Release {
			app.keys[key] = false
		}
		app.keysMu.Unlock()

		if action == glfw.Press {
			switch key {
			case glfw.KeyEscape:
				w.SetShouldClose(true)
			case glfw.KeySpace:
				app.engine.ZoomBy(app.centre(), -1)
			case glfw.KeyLeftShift, glfw.KeyRightShift:
				app.engine.ZoomBy(app.centre(), 1)
			}
		}
	})
}

func (app *App) pointer(action gesture.Action, w *glfw.Window) {
	x, y := w.GetCursorPos()
	err := app.engine.HandlePointer(gesture.PointerEvent{
		Action:   action,
		Position: coords.ScreenOffset{X: x, Y: y},
		Time:     time.Now(),
	})
	if err != nil && !errors.Is(err, gesture.ErrInvalidGestureSequence) {
		app.log.WithError(err).Warn("pointer event failed")
	}
}

func (app *App) processInput() {
	app.keysMu.RLock()
	defer app.keysMu.RUnlock()

	var pan coords.ScreenOffset
	speed := app.cfg.KeyPanSpeed

	// W/Up moves the map content down, revealing what is north
	if app.keys[glfw.KeyW] || app.keys[glfw.KeyUp] {
		pan.Y += speed
	}
	if app.keys[glfw.KeyS] || app.keys[glfw.KeyDown] {
		pan.Y -= speed
	}
	if app.keys[glfw.KeyA] || app.keys[glfw.KeyLeft] {
		pan.X += speed
	}
	if app.keys[glfw.KeyD] || app.keys[glfw.KeyRight] {
		pan.X -= speed
	}
	if pan != (coords.ScreenOffset{}) {
		app.engine.PanBy(pan)
	}

	rotate := 0.0
	if app.keys[glfw.KeyQ] {
		rotate -= KeyRotateSpeed
	}
	if app.keys[glfw.KeyE] {
		rotate += KeyRotateSpeed
	}
	if rotate != 0 {
		app.engine.RotateBy(rotate)
	}
}

func (app *App) centre() coords.ScreenOffset {
	return app.engine.Camera().State().Center()
}

func (app *App) logPoint(what string, p coords.ScreenOffset) {
	s := app.engine.Camera().State()
	at := app.engine.Camera().Properties().Inverse(s.ToCanvasPosition(p))
	app.log.WithFields(logrus.Fields{
		"x":          p.X,
		"y":          p.Y,
		"horizontal": fmt.Sprintf("%.5f", at.Horizontal),
		"vertical":   fmt.Sprintf("%.5f", at.Vertical),
	}).Info(what)
}

// Run polls input and advances the engine until the window closes.
func (app *App) Run() error {
	lastTime := time.Now()
	frames := 0

	for !app.window.ShouldClose() {
		glfw.PollEvents()
		app.processInput()
		app.engine.Tick(time.Now())

		frames++
		if time.Since(lastTime) >= time.Second {
			f := app.engine.Frame()
			app.window.SetTitle(fmt.Sprintf("%s | Zoom: %.1f | Tiles: %d (%d pending) | FPS: %d",
				app.cfg.Title, f.Camera.ZoomLevel, len(f.Tiles), f.Pending(), frames))
			frames = 0
			lastTime = time.Now()
		}
		time.Sleep(time.Second / 120)
	}

	return nil
}

// Cleanup destroys the window.
func (app *App) Cleanup() {
	if app.window != nil {
		app.window.Destroy()
	}
	glfw.Terminate()
}
