package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"slippymap/internal/gesture"
	"slippymap/internal/projection"
	"slippymap/internal/tilecache"
)

// EnvPrefix prefixes environment overrides, e.g. SLIPPY_CACHE_MAX_TILES.
const EnvPrefix = "SLIPPY"

// Config holds application configuration
type Config struct {
	App     App             `mapstructure:"app"`
	Source  Source          `mapstructure:"source"`
	Cache   Cache           `mapstructure:"cache"`
	Gesture gesture.Options `mapstructure:"gesture"`
	Server  Server          `mapstructure:"server"`
	Log     Log             `mapstructure:"log"`
}

// App contains window and start position settings
type App struct {
	Title  string `mapstructure:"title"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	// StartHorizontal and StartVertical are projected coordinates,
	// longitude and latitude for Mercator sources.
	StartHorizontal float64 `mapstructure:"start_horizontal"`
	StartVertical   float64 `mapstructure:"start_vertical"`
	StartZoom       float64 `mapstructure:"start_zoom"`
	// KeyPanSpeed is the keyboard pan step in pixels per frame.
	KeyPanSpeed float64 `mapstructure:"key_pan_speed"`
}

// Source describes the tile source and its map properties
type Source struct {
	URL        string  `mapstructure:"url"`
	Format     string  `mapstructure:"format"`
	UserAgent  string  `mapstructure:"user_agent"`
	Projection string  `mapstructure:"projection"`
	TileSize   int     `mapstructure:"tile_size"`
	MinZoom    int     `mapstructure:"min_zoom"`
	MaxZoom    int     `mapstructure:"max_zoom"`
	Rotation   bool    `mapstructure:"rotation"`
	MinX       float64 `mapstructure:"min_x"`
	MaxX       float64 `mapstructure:"max_x"`
	MinY       float64 `mapstructure:"min_y"`
	MaxY       float64 `mapstructure:"max_y"`
	BoundX     bool    `mapstructure:"bound_x"`
	BoundY     bool    `mapstructure:"bound_y"`
	OutsideX   string  `mapstructure:"outside_x"`
	OutsideY   string  `mapstructure:"outside_y"`
	SouthUp    bool    `mapstructure:"south_up"`
}

// Cache contains tile cache tuning
type Cache struct {
	MaxTiles             int           `mapstructure:"max_tiles"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff      time.Duration `mapstructure:"max_retry_backoff"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
}

// Server contains the introspection HTTP server settings
type Server struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Log contains logging settings
type Log struct {
	Level    string `mapstructure:"level"`
	Dir      string `mapstructure:"dir"`
	Terminal bool   `mapstructure:"terminal"`
}

// DefaultConfig returns the default configuration: OpenStreetMap raster
// tiles centred on Amsterdam.
func DefaultConfig() *Config {
	co := tilecache.DefaultOptions()
	return &Config{
		App: App{
			Title:           "Map Viewer",
			Width:           1280,
			Height:          720,
			StartHorizontal: 4.9041,
			StartVertical:   52.3676,
			StartZoom:       12,
			KeyPanSpeed:     10,
		},
		Source: Source{
			URL:        "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			Format:     string(tilecache.FormatAuto),
			UserAgent:  tilecache.DefaultUserAgent,
			Projection: projection.Mercator.String(),
			TileSize:   256,
			MinZoom:    0,
			MaxZoom:    19,
			Rotation:   true,
			MinX:       -180,
			MaxX:       180,
			MinY:       -projection.MercatorLatitudeLimit,
			MaxY:       projection.MercatorLatitudeLimit,
			BoundX:     false,
			BoundY:     true,
			OutsideX:   projection.Wrap.String(),
			OutsideY:   projection.None.String(),
		},
		Cache: Cache{
			MaxTiles:             co.MaxTiles,
			MaxRetries:           co.MaxRetries,
			RetryBackoff:         co.RetryBackoff,
			MaxRetryBackoff:      co.MaxRetryBackoff,
			MaxConcurrentFetches: co.MaxConcurrentFetches,
			FetchTimeout:         co.FetchTimeout,
		},
		Gesture: gesture.DefaultOptions(),
		Server: Server{
			Enabled: true,
			Addr:    "127.0.0.1:8089",
		},
		Log: Log{
			Level:    "info",
			Terminal: true,
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.title", d.App.Title)
	v.SetDefault("app.width", d.App.Width)
	v.SetDefault("app.height", d.App.Height)
	v.SetDefault("app.start_horizontal", d.App.StartHorizontal)
	v.SetDefault("app.start_vertical", d.App.StartVertical)
	v.SetDefault("app.start_zoom", d.App.StartZoom)
	v.SetDefault("app.key_pan_speed", d.App.KeyPanSpeed)

	v.SetDefault("source.url", d.Source.URL)
	v.SetDefault("source.format", d.Source.Format)
	v.SetDefault("source.user_agent", d.Source.UserAgent)
	v.SetDefault("source.projection", d.Source.Projection)
	v.SetDefault("source.tile_size", d.Source.TileSize)
	v.SetDefault("source.min_zoom", d.Source.MinZoom)
	v.SetDefault("source.max_zoom", d.Source.MaxZoom)
	v.SetDefault("source.rotation", d.Source.Rotation)
	v.SetDefault("source.min_x", d.Source.MinX)
	v.SetDefault("source.max_x", d.Source.MaxX)
	v.SetDefault("source.min_y", d.Source.MinY)
	v.SetDefault("source.max_y", d.Source.MaxY)
	v.SetDefault("source.bound_x", d.Source.BoundX)
	v.SetDefault("source.bound_y", d.Source.BoundY)
	v.SetDefault("source.outside_x", d.Source.OutsideX)
	v.SetDefault("source.outside_y", d.Source.OutsideY)
	v.SetDefault("source.south_up", d.Source.SouthUp)

	v.SetDefault("cache.max_tiles", d.Cache.MaxTiles)
	v.SetDefault("cache.max_retries", d.Cache.MaxRetries)
	v.SetDefault("cache.retry_backoff", d.Cache.RetryBackoff)
	v.SetDefault("cache.max_retry_backoff", d.Cache.MaxRetryBackoff)
	v.SetDefault("cache.max_concurrent_fetches", d.Cache.MaxConcurrentFetches)
	v.SetDefault("cache.fetch_timeout", d.Cache.FetchTimeout)

	v.SetDefault("gesture.touch_slop", d.Gesture.TouchSlop)
	v.SetDefault("gesture.double_tap_window", d.Gesture.DoubleTapWindow)
	v.SetDefault("gesture.double_tap_zoom", d.Gesture.DoubleTapZoom)
	v.SetDefault("gesture.long_press_timeout", d.Gesture.LongPressTimeout)
	v.SetDefault("gesture.rotation_slop", d.Gesture.RotationSlop)
	v.SetDefault("gesture.fling_decay", d.Gesture.FlingDecay)
	v.SetDefault("gesture.min_fling_velocity", d.Gesture.MinFlingVelocity)
	v.SetDefault("gesture.stop_velocity", d.Gesture.StopVelocity)
	v.SetDefault("gesture.velocity_window", d.Gesture.VelocityWindow)

	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.terminal", d.Log.Terminal)
}

// Load reads the configuration file at path, if any, on top of the
// defaults. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file(%s): %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be repaired by defaults.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return errors.New("config: source.url is empty")
	}
	if !strings.Contains(c.Source.URL, "{z}") {
		return fmt.Errorf("config: source.url %q has no {z} placeholder", c.Source.URL)
	}
	if _, err := tilecache.ParseFormat(c.Source.Format); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Properties(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Properties builds the map properties of the configured source.
func (c *Config) Properties() (projection.Properties, error) {
	s := c.Source
	kind, err := projection.ParseKind(s.Projection)
	if err != nil {
		return projection.Properties{}, err
	}
	outsideX, err := projection.ParsePolicy(s.OutsideX)
	if err != nil {
		return projection.Properties{}, err
	}
	outsideY, err := projection.ParsePolicy(s.OutsideY)
	if err != nil {
		return projection.Properties{}, err
	}
	orientation := projection.NorthUp
	if s.SouthUp {
		orientation = projection.SouthUp
	}
	props := projection.Properties{
		Projection:   kind,
		BoundMap:     projection.BoundMap{Horizontal: s.BoundX, Vertical: s.BoundY},
		OutsideTiles: projection.OutsideTiles{Horizontal: outsideX, Vertical: outsideY},
		ZoomRange:    projection.ZoomRange{Min: s.MinZoom, Max: s.MaxZoom},
		CoordinateRange: projection.CoordinateRange{
			Horizontal:  projection.Range{Min: s.MinX, Max: s.MaxX},
			Vertical:    projection.Range{Min: s.MinY, Max: s.MaxY},
			Orientation: orientation,
		},
		TileSize:        s.TileSize,
		RotationEnabled: s.Rotation,
	}
	return props, props.Validate()
}

// CacheOptions returns the tile cache tuning.
func (c *Config) CacheOptions() tilecache.Options {
	return tilecache.Options{
		MaxTiles:             c.Cache.MaxTiles,
		MaxRetries:           c.Cache.MaxRetries,
		RetryBackoff:         c.Cache.RetryBackoff,
		MaxRetryBackoff:      c.Cache.MaxRetryBackoff,
		MaxConcurrentFetches: c.Cache.MaxConcurrentFetches,
		FetchTimeout:         c.Cache.FetchTimeout,
	}
}

// NewSource builds the HTTP tile source.
func (c *Config) NewSource() (*tilecache.HTTPSource, error) {
	format, err := tilecache.ParseFormat(c.Source.Format)
	if err != nil {
		return nil, err
	}
	return tilecache.NewHTTPSource(c.Source.URL, format, c.Source.UserAgent, c.Cache.FetchTimeout), nil
}
