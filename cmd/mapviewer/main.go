package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"slippymap/internal/app"
	"slippymap/internal/camera"
	"slippymap/internal/config"
	"slippymap/internal/coords"
	"slippymap/internal/engine"
	"slippymap/internal/gesture"
	"slippymap/internal/logging"
	"slippymap/internal/tilecache"
	"slippymap/internal/tileserver"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (toml, yaml or json)")
	logLevel := flag.String("log-level", "", "override log.level")
	headless := flag.Bool("headless", false, "run without a window, driven over HTTP only")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log, *headless); err != nil {
		log.WithError(err).Error("map viewer stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logrus.Logger, headless bool) error {
	props, err := cfg.Properties()
	if err != nil {
		return err
	}
	source, err := cfg.NewSource()
	if err != nil {
		return err
	}

	start := coords.ProjectedCoordinates{Horizontal: cfg.App.StartHorizontal, Vertical: cfg.App.StartVertical}
	size := camera.Size{Width: float64(cfg.App.Width), Height: float64(cfg.App.Height)}
	cam, err := camera.New(props, size, start, cfg.App.StartZoom)
	if err != nil {
		return fmt.Errorf("start position: %w", err)
	}

	cache := tilecache.New(source, cfg.CacheOptions(), log)
	ctrl := gesture.NewController(cam, cfg.Gesture, log)
	e := engine.New(cam, ctrl, cache, log)
	defer e.Close()

	log.WithFields(logrus.Fields{
		"source":     cfg.Source.URL,
		"projection": cfg.Source.Projection,
		"camera":     cam.State().String(),
	}).Info("engine started")

	var srv *tileserver.Server
	if cfg.Server.Enabled {
		srv = tileserver.NewServer(e, cfg.Server.Addr, log)
		go func() {
			if err := srv.Start(); err != nil {
				log.WithError(err).Error("tile server failed")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(ctx)
		}()
	}

	if headless {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		ticker := time.NewTicker(time.Second / 60)
		defer ticker.Stop()
		for {
			select {
			case <-sig:
				log.Info("shutting down")
				return nil
			case now := <-ticker.C:
				e.Tick(now)
			}
		}
	}

	fmt.Println("Map Viewer")
	fmt.Println("Controls:")
	fmt.Println("  Mouse drag    : Pan (release to fling)")
	fmt.Println("  Double click  : Zoom in")
	fmt.Println("  Mouse wheel   : Zoom")
	fmt.Println("  WASD / Arrows : Pan")
	fmt.Println("  Q / E         : Rotate")
	fmt.Println("  Shift         : Zoom in")
	fmt.Println("  Space         : Zoom out")
	fmt.Println("  Escape        : Exit")
	fmt.Println()

	application, err := app.New(e, cfg.App, log)
	if err != nil {
		return err
	}
	defer application.Cleanup()
	return application.Run()
}
