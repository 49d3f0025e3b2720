package tilecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"slippymap/pkg/tiles"
)

func vectorPayload(t *testing.T, addr tiles.TileAddress) []byte {
	t.Helper()
	places := geojson.NewFeatureCollection()
	f := geojson.NewFeature(addr.ToMaptile().Center())
	f.Properties["name"] = "Bilbao"
	f.Properties["class"] = "city"
	places.Append(f)

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{"place": places})
	layers.ProjectToTile(addr.ToMaptile())
	data, err := mvt.MarshalGzipped(layers)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestHTTPSource_Raster(t *testing.T) {
	var gotPath, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG"))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/{z}/{x}/{y}.png", FormatAuto, "", 5*time.Second)
	content, err := src.GetTile(context.Background(), tiles.New(7, 40, 63))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.Kind != KindRaster || string(content.Raster) != "\x89PNG" {
		t.Errorf("unexpected content %+v", content)
	}
	if gotPath != "/7/63/40.png" {
		t.Errorf("expected /7/63/40.png, got %s", gotPath)
	}
	if gotAgent != DefaultUserAgent {
		t.Errorf("expected default user agent, got %q", gotAgent)
	}
}

func TestHTTPSource_Vector(t *testing.T) {
	addr := tiles.New(12, 1513, 2029)
	payload := vectorPayload(t, addr)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(payload)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/tiles/{z}/{x}/{y}", FormatAuto, "test-agent", 5*time.Second)
	content, err := src.GetTile(context.Background(), addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.Kind != KindVector {
		t.Fatalf("expected vector content, got %v", content.Kind)
	}
	if len(content.Vector.Places) != 1 || content.Vector.Places[0].Name != "Bilbao" {
		t.Errorf("unexpected places %+v", content.Vector.Places)
	}
}

func TestHTTPSource_VectorByExtension(t *testing.T) {
	addr := tiles.New(3, 2, 4)
	payload := vectorPayload(t, addr)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/{z}/{x}/{y}.pbf", FormatAuto, "", 5*time.Second)
	content, err := src.GetTile(context.Background(), addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.Kind != KindVector {
		t.Errorf("expected vector content, got %v", content.Kind)
	}
}

func TestHTTPSource_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/1/0/0":
			http.Error(w, "nope", http.StatusNotFound)
		case "/1/1/0":
			w.WriteHeader(http.StatusOK)
		default:
			w.Header().Set("Content-Type", "application/x-protobuf")
			w.Write([]byte{0x1a, 0xff, 0x01, 0x00})
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/{z}/{x}/{y}", FormatAuto, "", 5*time.Second)
	for _, addr := range []tiles.TileAddress{tiles.New(1, 0, 0), tiles.New(1, 0, 1), tiles.New(1, 1, 1)} {
		if _, err := src.GetTile(context.Background(), addr); err == nil {
			t.Errorf("%v: expected error", addr)
		}
	}
}

func TestHTTPSource_RespectsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	src := NewHTTPSource(srv.URL+"/{z}/{x}/{y}", FormatRaster, "", 5*time.Second)
	if _, err := src.GetTile(ctx, tiles.New(0, 0, 0)); err == nil {
		t.Errorf("expected error after cancellation")
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatAuto, "AUTO": FormatAuto, "raster": FormatRaster, "pbf": FormatVector, "vector": FormatVector}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFormat("svg"); err == nil {
		t.Errorf("expected error for unknown format")
	}
}
