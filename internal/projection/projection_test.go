package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"slippymap/internal/coords"
	"slippymap/pkg/tiles"
)

const epsilon = 1e-9

func TestMercatorCurveRoundTrip(t *testing.T) {
	for v := -MercatorLatitudeLimit; v <= MercatorLatitudeLimit; v += 0.37 {
		got := InverseMercatorCurve(MercatorCurve(v))
		if math.Abs(got-v) > epsilon {
			t.Fatalf("curve round trip %v -> %v", v, got)
		}
	}
	if got := MercatorCurve(MercatorLatitudeLimit); math.Abs(got-MercatorLatitudeLimit) > 1e-6 {
		t.Errorf("limit maps to %v, want %v", got, MercatorLatitudeLimit)
	}
	if got := MercatorCurve(0); math.Abs(got) > epsilon {
		t.Errorf("equator maps to %v", got)
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	props := []Properties{
		WebMercator(256),
		Flat(Range{Min: 0, Max: 4000}, Range{Min: -1000, Max: 1000}, 512, 6),
	}
	for _, p := range props {
		cr := p.CoordinateRange
		for h := cr.Horizontal.Min; h <= cr.Horizontal.Max; h += cr.Horizontal.Span() / 17 {
			for v := cr.Vertical.Min; v <= cr.Vertical.Max; v += cr.Vertical.Span() / 13 {
				in := coords.ProjectedCoordinates{Horizontal: h, Vertical: v}
				c, err := p.Forward(in)
				if err != nil {
					t.Fatalf("%s: unexpected error for %v: %v", p.Projection, in, err)
				}
				out := p.Inverse(c)
				if math.Abs(out.Horizontal-h) > epsilon || math.Abs(out.Vertical-v) > epsilon {
					t.Fatalf("%s: round trip %v -> %v -> %v", p.Projection, in, c, out)
				}
			}
		}
	}
}

func TestForwardOutOfRange(t *testing.T) {
	p := WebMercator(256)
	cases := []coords.ProjectedCoordinates{
		{Horizontal: 0, Vertical: 86},
		{Horizontal: 0, Vertical: -90},
		{Horizontal: 181, Vertical: 0},
	}
	for _, c := range cases {
		if _, err := p.Forward(c); !errors.Is(err, ErrProjectionOutOfRange) {
			t.Errorf("Forward(%v) error = %v, want ErrProjectionOutOfRange", c, err)
		}
	}
}

func TestForwardOrientation(t *testing.T) {
	p := WebMercator(256)
	north, _ := p.Forward(coords.ProjectedCoordinates{Horizontal: -180, Vertical: MercatorLatitudeLimit})
	if math.Abs(north.Horizontal) > 1e-6 || math.Abs(north.Vertical) > 1e-6 {
		t.Errorf("north-west corner at %v, want origin", north)
	}
	centre, _ := p.Forward(coords.ProjectedCoordinates{})
	if math.Abs(centre.Horizontal-128) > 1e-9 || math.Abs(centre.Vertical-128) > 1e-9 {
		t.Errorf("null island at %v, want (128, 128)", centre)
	}

	p.CoordinateRange.Orientation = SouthUp
	south, _ := p.Forward(coords.ProjectedCoordinates{Horizontal: -180, Vertical: -MercatorLatitudeLimit})
	if math.Abs(south.Vertical) > 1e-6 {
		t.Errorf("south-up origin at %v", south)
	}
}

func TestTileAtMatchesMaptile(t *testing.T) {
	p := WebMercator(256)
	points := []orb.Point{
		{4.9041, 52.3676},
		{-0.1275, 51.507222},
		{-2.935, 43.263},
		{151.2093, -33.8688},
		{-122.4194, 37.7749},
	}
	for _, pt := range points {
		for z := 0; z <= 16; z++ {
			got, err := p.TileAt(coords.ProjectedCoordinates{Horizontal: pt.Lon(), Vertical: pt.Lat()}, z)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := tiles.FromMaptile(maptile.At(pt, maptile.Zoom(z)))
			if got != want {
				t.Fatalf("TileAt(%v, %d) = %v, maptile says %v", pt, z, got, want)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	if err := WebMercator(256).Validate(); err != nil {
		t.Fatalf("web mercator invalid: %v", err)
	}

	bad := WebMercator(256)
	bad.OutsideTiles.Vertical = Wrap
	if err := bad.Validate(); !errors.Is(err, ErrInvalidProperties) {
		t.Errorf("vertical wrap accepted: %v", err)
	}

	bad = WebMercator(0)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidProperties) {
		t.Errorf("zero tile size accepted: %v", err)
	}

	bad = WebMercator(256)
	bad.CoordinateRange.Vertical.Max = 89
	if err := bad.Validate(); !errors.Is(err, ErrInvalidProperties) {
		t.Errorf("polar mercator range accepted: %v", err)
	}

	bad = WebMercator(256)
	bad.ZoomRange = ZoomRange{Min: 5, Max: 2}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidProperties) {
		t.Errorf("inverted zoom range accepted: %v", err)
	}
}

func TestParse(t *testing.T) {
	if k, err := ParseKind("linear"); err != nil || k != Linear {
		t.Errorf("ParseKind(linear) = %v, %v", k, err)
	}
	if _, err := ParseKind("lambert"); err == nil {
		t.Errorf("expected error for unknown projection")
	}
	if pol, err := ParsePolicy("wrap"); err != nil || pol != Wrap {
		t.Errorf("ParsePolicy(wrap) = %v, %v", pol, err)
	}
	if _, err := ParsePolicy("mirror"); err == nil {
		t.Errorf("expected error for unknown policy")
	}
}
