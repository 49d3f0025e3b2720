package viewport

import (
	"testing"

	"slippymap/internal/camera"
	"slippymap/internal/coords"
	"slippymap/internal/projection"
	"slippymap/pkg/tiles"
)

func state(w, h, zoom, x, y float64) camera.State {
	return camera.State{
		CanvasSize:  camera.Size{Width: w, Height: h},
		ZoomLevel:   zoom,
		RawPosition: coords.CanvasPosition{Horizontal: x, Vertical: y},
	}
}

func TestSingleTileAtZoomZero(t *testing.T) {
	res := Compute(state(256, 256, 0, 128, 128), projection.WebMercator(256))
	addrs := res.Addresses()
	if len(addrs) != 1 || addrs[0] != tiles.New(0, 0, 0) {
		t.Fatalf("unexpected tiles %v", addrs)
	}
}

func TestFourTilesOrderedByRowThenCol(t *testing.T) {
	res := Compute(state(512, 512, 1, 128, 128), projection.WebMercator(256))
	want := []tiles.TileAddress{
		tiles.New(1, 0, 0), tiles.New(1, 0, 1), tiles.New(1, 1, 0), tiles.New(1, 1, 1),
	}
	got := res.Addresses()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFractionalZoomSamplesFloor(t *testing.T) {
	res := Compute(state(800, 600, 2.7, 128, 128), projection.WebMercator(256))
	if res.Zoom != 2 {
		t.Fatalf("zoom = %d, want 2", res.Zoom)
	}
	for _, p := range res.Placements {
		if p.Address.Zoom != 2 {
			t.Fatalf("placement at zoom %d", p.Address.Zoom)
		}
	}
}

func TestHorizontalWrap(t *testing.T) {
	res := Compute(state(512, 256, 2, 0, 128), projection.WebMercator(256))
	set := res.Set()
	for _, want := range []tiles.TileAddress{
		tiles.New(2, 1, 3), tiles.New(2, 1, 0), tiles.New(2, 2, 3), tiles.New(2, 2, 0),
	} {
		if _, ok := set[want]; !ok {
			t.Errorf("missing %v in %v", want, res.Addresses())
		}
	}
	if len(set) != 4 {
		t.Errorf("got %d tiles, want 4: %v", len(set), res.Addresses())
	}
	for _, p := range res.Placements {
		if p.Address.Col == 3 && p.GridCol != -1 {
			t.Errorf("wrapped tile drawn at grid col %d, want -1", p.GridCol)
		}
		if !p.Address.Valid() {
			t.Errorf("invalid address %v", p.Address)
		}
	}
}

func TestHorizontalNoneDropsOutside(t *testing.T) {
	props := projection.WebMercator(256)
	props.OutsideTiles.Horizontal = projection.None
	res := Compute(state(512, 256, 2, 0, 128), props)
	for _, a := range res.Addresses() {
		if a.Col != 0 {
			t.Errorf("unexpected tile %v", a)
		}
	}
	if len(res.Addresses()) != 2 {
		t.Errorf("got %v, want two tiles", res.Addresses())
	}
}

func TestHorizontalBoundClamps(t *testing.T) {
	props := projection.WebMercator(256)
	props.OutsideTiles.Horizontal = projection.Bound
	res := Compute(state(512, 256, 2, 0, 128), props)
	if len(res.Placements) != 2 {
		t.Fatalf("got %d placements, want 2: %v", len(res.Placements), res.Placements)
	}
	for _, p := range res.Placements {
		if p.Address.Col != 0 || p.GridCol != 0 {
			t.Errorf("unexpected placement %+v", p)
		}
	}
}

func TestVerticalNeverWrapsForMercator(t *testing.T) {
	res := Compute(state(256, 512, 2, 128, 0), projection.WebMercator(256))
	for _, p := range res.Placements {
		if p.Address.Row != 0 {
			t.Errorf("unexpected row in %+v", p)
		}
		if p.GridRow < 0 {
			t.Errorf("tile above the map edge: %+v", p)
		}
	}
}

func TestWideViewportAtZoomZeroRepeatsWorld(t *testing.T) {
	res := Compute(state(1024, 256, 0, 128, 128), projection.WebMercator(256))
	if len(res.Placements) != 5 {
		t.Fatalf("got %d placements, want 5", len(res.Placements))
	}
	if addrs := res.Addresses(); len(addrs) != 1 {
		t.Fatalf("got %v, want the single root tile", addrs)
	}
	if res.Placements[0].GridCol != 0 {
		t.Errorf("nearest placement at grid col %d, want 0", res.Placements[0].GridCol)
	}
}

func TestOrderedByDistance(t *testing.T) {
	s := state(1280, 720, 12.3, 131.3, 84.2)
	s.AngleDegrees = 33
	res := Compute(s, projection.WebMercator(256))
	if len(res.Placements) == 0 {
		t.Fatal("no tiles visible")
	}
	for i := 1; i < len(res.Placements); i++ {
		if res.Placements[i].Distance < res.Placements[i-1].Distance {
			t.Fatalf("placement %d closer than %d", i, i-1)
		}
	}
	props := projection.WebMercator(256)
	centre := props.Inverse(s.RawPosition)
	want, err := props.TileAt(centre, res.Zoom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Placements[0].Address != want {
		t.Errorf("nearest tile %v, want %v", res.Placements[0].Address, want)
	}
}

func TestRotationWidensCoverage(t *testing.T) {
	props := projection.WebMercator(256)
	flat := Compute(state(1024, 256, 6, 100, 100), props)
	s := state(1024, 256, 6, 100, 100)
	s.AngleDegrees = 45
	rotated := Compute(s, props)
	if len(rotated.Placements) <= len(flat.Placements) {
		t.Errorf("rotated viewport covers %d tiles, unrotated %d", len(rotated.Placements), len(flat.Placements))
	}
}

func TestEmptyCanvas(t *testing.T) {
	res := Compute(state(0, 0, 3, 128, 128), projection.WebMercator(256))
	if len(res.Placements) != 0 {
		t.Errorf("expected no tiles, got %v", res.Placements)
	}
}

func TestPlacementOrigin(t *testing.T) {
	p := Placement{Address: tiles.New(2, 1, 3), GridRow: 1, GridCol: -1}
	o := p.Origin(256)
	if o.Horizontal != -64 || o.Vertical != 64 {
		t.Errorf("origin = %v, want (-64, 64)", o)
	}
}
