package tileserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"slippymap/internal/coords"
	"slippymap/internal/engine"
	"slippymap/internal/metrics"
	"slippymap/internal/projection"
	"slippymap/internal/tilecache"
	"slippymap/pkg/tiles"
)

// Server exposes the engine state over HTTP: cached tiles, the current
// frame, camera control, health and metrics.
type Server struct {
	engine *engine.Engine
	addr   string
	log    logrus.FieldLogger
	server *http.Server
}

// NewServer creates a new introspection server
func NewServer(e *engine.Engine, addr string, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Server{
		engine: e,
		addr:   addr,
		log:    log.WithField("component", "tileserver"),
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tile/", s.handleTile)
	mux.HandleFunc("/frame", s.handleFrame)
	mux.HandleFunc("/camera", s.handleCamera)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.log.Infof("tile server listening on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleTile serves cached tiles: /tile/{zoom}/{x}/{y}. Raster tiles are
// returned as stored, vector tiles as GeoJSON keyed by layer.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addr, err := tiles.Parse(strings.TrimPrefix(r.URL.Path, "/tile/"))
	if err != nil || !addr.Valid() {
		http.Error(w, "Invalid tile path", http.StatusBadRequest)
		return
	}

	cache := s.engine.Cache()
	content, ok := cache.Peek(addr)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"tile":    addr.String(),
			"state":   cache.State(addr).String(),
			"retries": cache.RetryCount(addr),
		})
		return
	}

	switch content.Kind {
	case tilecache.KindRaster:
		w.Header().Set("Content-Type", http.DetectContentType(content.Raster))
		w.Header().Set("Cache-Control", "max-age=86400")
		w.Write(content.Raster)
	case tilecache.KindVector:
		w.Header().Set("Cache-Control", "max-age=86400")
		writeJSON(w, http.StatusOK, content.Vector.FeatureCollections())
	default:
		http.Error(w, fmt.Sprintf("tile has no payload (%s)", content.Kind), http.StatusInternalServerError)
	}
}

type tileSummary struct {
	Tile     string  `json:"tile"`
	GridRow  int     `json:"gridRow"`
	GridCol  int     `json:"gridCol"`
	Distance float64 `json:"distance"`
	State    string  `json:"state"`
	Kind     string  `json:"kind"`
	From     string  `json:"from,omitempty"`
}

type frameSummary struct {
	Seq        uint64        `json:"seq"`
	Zoom       int           `json:"zoom"`
	ZoomLevel  float64       `json:"zoomLevel"`
	Angle      float64       `json:"angle"`
	Horizontal float64       `json:"horizontal"`
	Vertical   float64       `json:"vertical"`
	Width      float64       `json:"width"`
	Height     float64       `json:"height"`
	Gesture    string        `json:"gesture"`
	Pending    int           `json:"pending"`
	Cached     int           `json:"cached"`
	Tiles      []tileSummary `json:"tiles"`
}

// handleFrame describes the latest frame.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f := s.engine.Frame()
	centre := s.engine.Camera().Properties().Inverse(f.Camera.RawPosition)
	out := frameSummary{
		Seq:        f.Seq,
		Zoom:       f.Zoom,
		ZoomLevel:  f.Camera.ZoomLevel,
		Angle:      f.Camera.AngleDegrees,
		Horizontal: centre.Horizontal,
		Vertical:   centre.Vertical,
		Width:      f.Camera.CanvasSize.Width,
		Height:     f.Camera.CanvasSize.Height,
		Gesture:    f.Gesture.String(),
		Pending:    f.Pending(),
		Cached:     s.engine.Cache().Len(),
		Tiles:      make([]tileSummary, 0, len(f.Tiles)),
	}
	for _, tv := range f.Tiles {
		ts := tileSummary{
			Tile:     tv.Address.String(),
			GridRow:  tv.GridRow,
			GridCol:  tv.GridCol,
			Distance: tv.Distance,
			State:    tv.State.String(),
			Kind:     tv.Content.Kind.String(),
		}
		if tv.Content.HasPayload() && tv.From != tv.Address {
			ts.From = tv.From.String()
		}
		out.Tiles = append(out.Tiles, ts)
	}
	writeJSON(w, http.StatusOK, out)
}

// CameraRequest moves the camera. Zero zoom keeps the current zoom.
type CameraRequest struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
	Zoom       float64 `json:"zoom"`
}

// handleCamera recentres the map
func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := s.engine.MoveTo(coords.ProjectedCoordinates{Horizontal: req.Horizontal, Vertical: req.Vertical})
	if errors.Is(err, projection.ErrProjectionOutOfRange) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if req.Zoom != 0 {
		s.engine.ZoomTo(req.Zoom)
	}
	s.log.WithFields(logrus.Fields{"horizontal": req.Horizontal, "vertical": req.Vertical, "zoom": req.Zoom}).Info("camera moved")

	f := s.engine.Frame()
	writeJSON(w, http.StatusAccepted, map[string]any{"seq": f.Seq, "camera": f.Camera.String()})
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
