// Command tileprobe warms a tile source for a bounding box over a range
// of zoom levels and reports the tiles that could not be fetched.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"slippymap/internal/config"
	"slippymap/internal/logging"
	"slippymap/internal/tilecache"
	"slippymap/pkg/tiles"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	minLon := flag.Float64("min-lon", 4.85, "west edge")
	minLat := flag.Float64("min-lat", 52.33, "south edge")
	maxLon := flag.Float64("max-lon", 4.95, "east edge")
	maxLat := flag.Float64("max-lat", 52.40, "north edge")
	minZoom := flag.Int("min-zoom", 10, "first zoom level")
	maxZoom := flag.Int("max-zoom", 13, "last zoom level")
	limit := flag.Int("limit", 5000, "refuse to probe more tiles than this")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bound := orb.Bound{Min: orb.Point{*minLon, *minLat}, Max: orb.Point{*maxLon, *maxLat}}
	layers := make([][]tiles.TileAddress, 0, *maxZoom-*minZoom+1)
	total := 0
	for z := *minZoom; z <= *maxZoom; z++ {
		layer := cover(bound, z)
		log.Infof("zoom: %d, tiles: %d", z, len(layer))
		layers = append(layers, layer)
		total += len(layer)
	}
	if total > *limit {
		log.Fatalf("%d tiles exceeds -limit %d", total, *limit)
	}

	source, err := cfg.NewSource()
	if err != nil {
		log.Fatal(err)
	}
	opts := cfg.CacheOptions()
	opts.MaxTiles = total
	cache := tilecache.New(source, opts, log)
	defer cache.Close()

	id, _ := shortid.Generate()
	plog := log.WithField("probe", id)
	plog.Info("probe started")

	var failed []tiles.TileAddress
	for _, layer := range layers {
		failed = append(failed, probe(cache, layer, plog)...)
	}

	if len(failed) == 0 {
		fmt.Printf("Probe %s: all %d tiles fetched\n", id, total)
		return
	}
	fmt.Printf("Probe %s: %d of %d tiles failed\n", id, len(failed), total)
	for _, addr := range failed {
		fmt.Printf("  %s  %s\n", addr, addr.URL(cfg.Source.URL))
	}
	os.Exit(2)
}

// cover lists the tiles of zoom z that intersect bound.
func cover(bound orb.Bound, z int) []tiles.TileAddress {
	zoom := maptile.Zoom(z)
	nw := maptile.At(orb.Point{bound.Min[0], bound.Max[1]}, zoom)
	se := maptile.At(orb.Point{bound.Max[0], bound.Min[1]}, zoom)

	out := make([]tiles.TileAddress, 0, int(se.X-nw.X+1)*int(se.Y-nw.Y+1))
	for y := nw.Y; y <= se.Y; y++ {
		for x := nw.X; x <= se.X; x++ {
			out = append(out, tiles.FromMaptile(maptile.New(x, y, zoom)))
		}
	}
	return out
}

// probe requests every tile of one zoom level and waits until each one
// is cached or has failed.
func probe(cache *tilecache.Cache, layer []tiles.TileAddress, log logrus.FieldLogger) []tiles.TileAddress {
	if len(layer) == 0 {
		return nil
	}
	zoom := layer[0].Zoom
	bar := pb.New(len(layer)).Prefix(fmt.Sprintf("Zoom %d : ", zoom))
	bar.SetRefreshRate(time.Second)
	bar.Start()

	for _, addr := range layer {
		cache.Request(addr)
	}

	var failed []tiles.TileAddress
	for {
		done := 0
		failed = failed[:0]
		for _, addr := range layer {
			switch cache.State(addr) {
			case tilecache.StateCached:
				done++
			case tilecache.StateFailed:
				done++
				failed = append(failed, addr)
			}
		}
		bar.Set(done)
		if done == len(layer) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	bar.FinishPrint(fmt.Sprintf("Zoom %d finished, %d failed", zoom, len(failed)))
	if len(failed) > 0 {
		log.WithField("zoom", zoom).Warnf("%d tiles failed", len(failed))
	}
	return append([]tiles.TileAddress(nil), failed...)
}
