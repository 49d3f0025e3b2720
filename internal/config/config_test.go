package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"slippymap/internal/projection"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.MaxTiles != 20 || cfg.Cache.MaxRetries != 3 {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Gesture.DoubleTapWindow != 300*time.Millisecond {
		t.Errorf("unexpected gesture defaults %+v", cfg.Gesture)
	}
	props, err := cfg.Properties()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if props != projection.WebMercator(256) {
		t.Errorf("default properties %+v differ from web mercator", props)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slippy.toml")
	body := `
[source]
url = "http://localhost:8080/plan/{z}/{x}/{y}.png"
projection = "linear"
max_zoom = 6
min_x = 0
max_x = 4096
min_y = 0
max_y = 4096
bound_x = true
outside_x = "bound"
rotation = false

[cache]
max_tiles = 64
retry_backoff = "50ms"

[gesture]
fling_decay = 0.8
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.MaxTiles != 64 || cfg.Cache.RetryBackoff != 50*time.Millisecond {
		t.Errorf("cache section not applied: %+v", cfg.Cache)
	}
	if cfg.Cache.MaxRetries != 3 {
		t.Errorf("default lost: %+v", cfg.Cache)
	}
	if cfg.Gesture.FlingDecay != 0.8 {
		t.Errorf("gesture section not applied: %+v", cfg.Gesture)
	}

	props, err := cfg.Properties()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if props.Projection != projection.Linear || props.ZoomRange.Max != 6 || props.RotationEnabled {
		t.Errorf("unexpected properties %+v", props)
	}
	if !props.BoundMap.Horizontal || props.OutsideTiles.Horizontal != projection.Bound {
		t.Errorf("unexpected horizontal axis %+v / %+v", props.BoundMap, props.OutsideTiles)
	}
	if got := cfg.CacheOptions(); got.MaxTiles != 64 {
		t.Errorf("cache options %+v", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SLIPPY_CACHE_MAX_TILES", "7")
	t.Setenv("SLIPPY_LOG_LEVEL", "debug")
	t.Setenv("SLIPPY_GESTURE_LONG_PRESS_TIMEOUT", "1s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.MaxTiles != 7 {
		t.Errorf("expected 7 tiles from env, got %d", cfg.Cache.MaxTiles)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level from env, got %q", cfg.Log.Level)
	}
	if cfg.Gesture.LongPressTimeout != time.Second {
		t.Errorf("expected 1s long press from env, got %v", cfg.Gesture.LongPressTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"vertical wrap": "[source]\noutside_y = \"wrap\"\n",
		"projection":    "[source]\nprojection = \"conic\"\n",
		"template":      "[source]\nurl = \"http://example.com/tile.png\"\n",
		"format":        "[source]\nformat = \"svg\"\n",
		"zoom range":    "[source]\nmin_zoom = 5\nmax_zoom = 2\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "bad.toml")
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("expected error for a missing file")
	}
}

func TestNewSource(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.NewSource(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg.Source.Format = "svg"
	if _, err := cfg.NewSource(); err == nil {
		t.Errorf("expected error for unknown format")
	}
}
