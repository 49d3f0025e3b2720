package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"slippymap/internal/tilecache"
	"slippymap/pkg/tiles"
)

const defaultTemplate = "https://tiles.openfreemap.org/planet/20251203_001001_pt/{z}/{x}/{y}.pbf"

func main() {
	template := flag.String("url", defaultTemplate, "vector tile URL template")
	tile := flag.String("tile", "10/527/339", "tile to fetch as z/x/y")
	flag.Parse()

	addr, err := tiles.Parse(*tile)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	source := tilecache.NewHTTPSource(*template, tilecache.FormatVector, tilecache.DefaultUserAgent, 30*time.Second)

	fmt.Printf("Fetching vector tile %s...\n", addr)
	content, err := source.GetTile(context.Background(), addr)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	data := content.Vector

	fmt.Printf("\n=== Layers: %d (%d features) ===\n", len(data.Layers), data.FeatureCount())
	for _, l := range data.Layers {
		fmt.Printf("  %s: %d\n", l.Name, len(l.Features))
	}

	fmt.Printf("\n=== Places: %d ===\n", len(data.Places))
	for i, p := range data.Places {
		if i < 15 {
			fmt.Printf("  %s (%s) rank=%d at (%.4f, %.4f)\n",
				p.Name, p.Class, p.Rank, p.Location.Lon(), p.Location.Lat())
		}
	}

	fmt.Printf("\n=== Transport lines: %d ===\n", len(data.Transport))
	classes := make(map[string]int)
	for _, t := range data.Transport {
		classes[t.Class]++
	}
	names := make([]string, 0, len(classes))
	for class := range classes {
		names = append(names, class)
	}
	sort.Strings(names)
	for _, class := range names {
		fmt.Printf("  %s: %d\n", class, classes[class])
	}

	fmt.Printf("\n=== Water features: %d ===\n", len(data.Water))
	fmt.Printf("\n=== Boundaries: %d ===\n", len(data.Boundaries))
}
