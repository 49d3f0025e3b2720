package vectortile

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"slippymap/pkg/tiles"
)

// Place represents a city/town/village from the place layer
type Place struct {
	Name     string
	Class    string // city, town, village, hamlet, etc.
	Rank     int
	Location orb.Point
}

// TransportLine represents a road/rail from the transportation layer
type TransportLine struct {
	Class    string // motorway, rail, primary, secondary, etc.
	Geometry orb.Geometry
}

// WaterFeature represents water from the water layer
type WaterFeature struct {
	Class    string
	Geometry orb.Geometry
}

// TileData holds the decoded layers of a vector tile, projected to WGS84,
// and the typed features extracted from them.
type TileData struct {
	Address    tiles.TileAddress
	Layers     mvt.Layers
	Places     []Place
	Transport  []TransportLine
	Water      []WaterFeature
	Boundaries []orb.Geometry
}

// FeatureCollections returns every layer as a GeoJSON feature collection.
func (td *TileData) FeatureCollections() map[string]*geojson.FeatureCollection {
	return td.Layers.ToFeatureCollections()
}

// FeatureCount returns the number of features across all layers.
func (td *TileData) FeatureCount() int {
	n := 0
	for _, l := range td.Layers {
		n += len(l.Features)
	}
	return n
}

var gzipMagic = []byte{0x1f, 0x8b}

// Decode parses an MVT payload for the tile at addr. Gzipped payloads,
// as served by most vector tile hosts, are inflated first.
func Decode(data []byte, addr tiles.TileAddress) (*TileData, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		gzReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip error: %w", err)
		}
		defer gzReader.Close()
		data, err = io.ReadAll(gzReader)
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
	}

	layers, err := mvt.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("mvt parse error: %w", err)
	}

	// Project to WGS84 coordinates
	layers.ProjectToWGS84(addr.ToMaptile())

	td := extractFeatures(layers)
	td.Address = addr
	td.Layers = layers
	return td, nil
}

// extractFeatures extracts typed features from MVT layers
func extractFeatures(layers mvt.Layers) *TileData {
	data := &TileData{}

	for _, layer := range layers {
		switch layer.Name {
		case "place":
			data.Places = extractPlaces(layer)
		case "transportation":
			data.Transport = extractTransport(layer)
		case "water":
			data.Water = extractWater(layer)
		case "boundary":
			data.Boundaries = extractBoundaries(layer)
		}
	}

	return data
}

func extractPlaces(layer *mvt.Layer) []Place {
	places := make([]Place, 0, len(layer.Features))

	for _, f := range layer.Features {
		place := Place{
			Name:  stringProp(f, "name"),
			Class: stringProp(f, "class"),
		}
		if rank, ok := f.Properties["rank"].(float64); ok {
			place.Rank = int(rank)
		}

		if pt, ok := f.Geometry.(orb.Point); ok {
			place.Location = pt
			places = append(places, place)
		}
	}

	return places
}

func extractTransport(layer *mvt.Layer) []TransportLine {
	lines := make([]TransportLine, 0, len(layer.Features))
	for _, f := range layer.Features {
		lines = append(lines, TransportLine{Class: stringProp(f, "class"), Geometry: f.Geometry})
	}
	return lines
}

func extractWater(layer *mvt.Layer) []WaterFeature {
	features := make([]WaterFeature, 0, len(layer.Features))
	for _, f := range layer.Features {
		features = append(features, WaterFeature{Class: stringProp(f, "class"), Geometry: f.Geometry})
	}
	return features
}

func extractBoundaries(layer *mvt.Layer) []orb.Geometry {
	boundaries := make([]orb.Geometry, 0, len(layer.Features))
	for _, f := range layer.Features {
		boundaries = append(boundaries, f.Geometry)
	}
	return boundaries
}

func stringProp(f *geojson.Feature, key string) string {
	s, _ := f.Properties[key].(string)
	return s
}
