package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_cache_hits_total",
		Help: "Requests answered with the exact cached tile",
	})
	CacheFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_cache_fallbacks_total",
		Help: "Requests answered with a cached ancestor tile",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_cache_misses_total",
		Help: "Requests with no cached content at any zoom",
	})
	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_cache_evictions_total",
		Help: "Least recently used tiles evicted at capacity",
	})
	CachedTiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "slippymap_cached_tiles",
		Help: "Tiles currently held in the cache",
	})
	FetchStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_fetch_started_total",
		Help: "Tile fetch attempts started, retries included",
	})
	FetchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_fetch_failures_total",
		Help: "Tile fetch attempts that failed",
	})
	FetchGaveUpTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_fetch_gave_up_total",
		Help: "Tiles marked failed after exhausting retries",
	})
	FetchDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_fetch_discarded_total",
		Help: "Fetch completions dropped because the tile was no longer pending",
	})
	FetchCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_fetch_cancelled_total",
		Help: "In-flight fetches cancelled when their tile left the viewport",
	})
	FetchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "slippymap_fetch_duration_ms",
		Help:    "Tile source call duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	GestureResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slippymap_gesture_resets_total",
		Help: "Invalid pointer sequences that forced the gesture state back to idle",
	})
	VisibleTiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "slippymap_visible_tiles",
		Help: "Distinct tile addresses in the current viewport",
	})
)

func init() {
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheFallbacksTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CachedTiles)
	prometheus.MustRegister(FetchStartedTotal)
	prometheus.MustRegister(FetchFailuresTotal)
	prometheus.MustRegister(FetchGaveUpTotal)
	prometheus.MustRegister(FetchDiscardedTotal)
	prometheus.MustRegister(FetchCancelledTotal)
	prometheus.MustRegister(FetchDurationMs)
	prometheus.MustRegister(GestureResetsTotal)
	prometheus.MustRegister(VisibleTiles)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
