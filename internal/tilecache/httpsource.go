package tilecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slippymap/internal/vectortile"
	"slippymap/pkg/tiles"
)

const DefaultUserAgent = "slippymap/1.0 (+https://www.openstreetmap.org/copyright)"

// Format selects how fetched payloads are interpreted.
type Format string

const (
	// FormatAuto decides from the response Content-Type, then the URL extension.
	FormatAuto   Format = "auto"
	FormatRaster Format = "raster"
	FormatVector Format = "vector"
)

// ParseFormat parses a format name; the empty string means auto.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatRaster:
		return FormatRaster, nil
	case FormatVector, "mvt", "pbf":
		return FormatVector, nil
	default:
		return "", fmt.Errorf("unknown tile format %q", s)
	}
}

// HTTPSource fetches tiles from a {z}/{x}/{y} URL template.
type HTTPSource struct {
	template  string
	format    Format
	userAgent string
	client    *http.Client
}

// NewHTTPSource creates a source for the given URL template.
func NewHTTPSource(template string, format Format, userAgent string, timeout time.Duration) *HTTPSource {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if format == "" {
		format = FormatAuto
	}
	return &HTTPSource{
		template:  template,
		format:    format,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetTile downloads the tile at addr. Vector payloads are decoded before
// they are returned so a broken tile counts as a failed fetch.
func (s *HTTPSource) GetTile(ctx context.Context, addr tiles.TileAddress) (Content, error) {
	url := addr.URL(s.template)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Content{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Content{}, fmt.Errorf("tile server returned status %d for %s", resp.StatusCode, addr)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Content{}, fmt.Errorf("failed to read tile data: %w", err)
	}
	if len(data) == 0 {
		return Content{}, fmt.Errorf("empty tile body for %s", addr)
	}

	if s.formatOf(resp) == FormatVector {
		td, err := vectortile.Decode(data, addr)
		if err != nil {
			return Content{}, fmt.Errorf("decode %s: %w", addr, err)
		}
		return Vector(td), nil
	}
	return Raster(data), nil
}

func (s *HTTPSource) formatOf(resp *http.Response) Format {
	if s.format != FormatAuto {
		return s.format
	}
	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "image/"):
		return FormatRaster
	case strings.Contains(ct, "protobuf"), strings.Contains(ct, "vnd.mapbox-vector-tile"):
		return FormatVector
	}
	path := strings.ToLower(resp.Request.URL.Path)
	if strings.HasSuffix(path, ".pbf") || strings.HasSuffix(path, ".mvt") {
		return FormatVector
	}
	return FormatRaster
}
