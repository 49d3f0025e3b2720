package tilecache

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"slippymap/internal/metrics"
	"slippymap/pkg/tiles"
)

// Options tune the cache. Zero fields fall back to DefaultOptions.
type Options struct {
	// MaxTiles bounds the number of cached tiles.
	MaxTiles int
	// MaxRetries is the number of failed attempts after which a tile is
	// marked failed until it leaves the visible set.
	MaxRetries int
	// RetryBackoff is the delay before the first retry; later retries double it.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the retry delay.
	MaxRetryBackoff time.Duration
	// MaxConcurrentFetches bounds the number of source calls in flight.
	MaxConcurrentFetches int
	// FetchTimeout bounds a single source call.
	FetchTimeout time.Duration
}

// DefaultOptions returns the default cache tuning.
func DefaultOptions() Options {
	return Options{
		MaxTiles:             20,
		MaxRetries:           3,
		RetryBackoff:         250 * time.Millisecond,
		MaxRetryBackoff:      5 * time.Second,
		MaxConcurrentFetches: 8,
		FetchTimeout:         30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxTiles <= 0 {
		o.MaxTiles = d.MaxTiles
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	if o.MaxRetryBackoff < o.RetryBackoff {
		o.MaxRetryBackoff = o.RetryBackoff * 16
	}
	if o.MaxConcurrentFetches <= 0 {
		o.MaxConcurrentFetches = d.MaxConcurrentFetches
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = d.FetchTimeout
	}
	return o
}

// Lookup is the answer to a Request.
type Lookup struct {
	// Content is the best content available right now.
	Content Content
	// From is the address Content belongs to: the requested tile itself or
	// one of its cached ancestors.
	From tiles.TileAddress
	// State is the state of the requested address.
	State State
}

// Fallback reports whether the content came from an ancestor tile.
func (l Lookup) Fallback(requested tiles.TileAddress) bool {
	return l.Content.HasPayload() && l.From != requested
}

type entry struct {
	addr    tiles.TileAddress
	content Content
}

// inflight is the bookkeeping of one pending address. The generation ties
// completions to the request that started them.
type inflight struct {
	gen     uint64
	id      string
	attempt int
	ctx     context.Context
	cancel  context.CancelFunc
	backoff *backoff.ExponentialBackOff
}

// Cache holds decoded tiles keyed by address, fetches missing ones in the
// background and tracks failures. Cached tiles are evicted in strict LRU
// order; pending and failed addresses are bounded by the visible set.
type Cache struct {
	source Source
	opts   Options
	log    logrus.FieldLogger

	mu      sync.Mutex
	lru     *list.List
	cached  map[tiles.TileAddress]*list.Element
	pending map[tiles.TileAddress]*inflight
	retries map[tiles.TileAddress]int
	failed  map[tiles.TileAddress]struct{}
	gen     uint64
	closed  bool
	onLoad  func(tiles.TileAddress)

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache backed by source.
func New(source Source, opts Options, log logrus.FieldLogger) *Cache {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		source:  source,
		opts:    opts,
		log:     log.WithField("component", "tilecache"),
		lru:     list.New(),
		cached:  make(map[tiles.TileAddress]*list.Element),
		pending: make(map[tiles.TileAddress]*inflight),
		retries: make(map[tiles.TileAddress]int),
		failed:  make(map[tiles.TileAddress]struct{}),
		slots:   make(chan struct{}, opts.MaxConcurrentFetches),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Options returns the effective tuning.
func (c *Cache) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// SetMaxTiles changes the capacity. Shrinking evicts least recently used
// tiles at once. Values below 1 are ignored.
func (c *Cache) SetMaxTiles(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.MaxTiles = n
	c.evictLocked()
}

// SetOnLoadCallback registers a function called, outside the cache lock,
// whenever a fetched tile is stored.
func (c *Cache) SetOnLoadCallback(callback func(tiles.TileAddress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLoad = callback
}

// Request returns the best content available for addr without blocking:
// the tile itself if cached, else the nearest cached ancestor, else nothing.
// A fetch is started in the background unless addr is already cached,
// pending or failed.
func (c *Cache) Request(addr tiles.TileAddress) Lookup {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.cached[addr]; ok {
		c.lru.MoveToFront(el)
		metrics.CacheHitsTotal.Inc()
		return Lookup{Content: el.Value.(*entry).content, From: addr, State: StateCached}
	}

	state := c.stateLocked(addr)
	if state == StateNotRequested && !c.closed && addr.Valid() {
		c.startLocked(addr)
		state = StatePending
	}

	for z := addr.Zoom - 1; z >= 0; z-- {
		ancestor := addr.Ancestor(z)
		if el, ok := c.cached[ancestor]; ok {
			c.lru.MoveToFront(el)
			metrics.CacheFallbacksTotal.Inc()
			return Lookup{Content: el.Value.(*entry).content, From: ancestor, State: state}
		}
	}

	metrics.CacheMissesTotal.Inc()
	placeholder := Content{Kind: KindNone}
	switch state {
	case StatePending:
		placeholder.Kind = KindPending
	case StateFailed:
		placeholder.Kind = KindFailed
	}
	return Lookup{Content: placeholder, From: addr, State: state}
}

// Peek returns the cached content for addr without touching recency or
// starting a fetch.
func (c *Cache) Peek(addr tiles.TileAddress) (Content, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.cached[addr]; ok {
		return el.Value.(*entry).content, true
	}
	return Content{}, false
}

// State returns the lifecycle state of addr.
func (c *Cache) State(addr tiles.TileAddress) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(addr)
}

// RetryCount returns the number of failed attempts recorded for addr.
func (c *Cache) RetryCount(addr tiles.TileAddress) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[addr]
}

// Len returns the number of cached tiles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the cached addresses, most recently used first.
func (c *Cache) Keys() []tiles.TileAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]tiles.TileAddress, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).addr)
	}
	return keys
}

// PendingCount returns the number of addresses with a fetch in progress or
// waiting for a retry.
func (c *Cache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Cache) stateLocked(addr tiles.TileAddress) State {
	if _, ok := c.cached[addr]; ok {
		return StateCached
	}
	if _, ok := c.pending[addr]; ok {
		return StatePending
	}
	if _, ok := c.failed[addr]; ok {
		return StateFailed
	}
	return StateNotRequested
}

func (c *Cache) startLocked(addr tiles.TileAddress) {
	c.gen++
	ctx, cancel := context.WithCancel(c.ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryBackoff
	b.MaxInterval = c.opts.MaxRetryBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	id, err := shortid.Generate()
	if err != nil {
		id = fmt.Sprintf("g%d", c.gen)
	}
	inf := &inflight{gen: c.gen, id: id, ctx: ctx, cancel: cancel, backoff: b}
	c.pending[addr] = inf
	c.launchLocked(addr, inf, 0)
}

func (c *Cache) launchLocked(addr tiles.TileAddress, inf *inflight, delay time.Duration) {
	c.wg.Add(1)
	go c.run(addr, inf, delay)
}

// run waits out the retry delay, takes a fetch slot and calls the source.
func (c *Cache) run(addr tiles.TileAddress, inf *inflight, delay time.Duration) {
	defer c.wg.Done()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-inf.ctx.Done():
			timer.Stop()
			return
		}
	}

	select {
	case c.slots <- struct{}{}:
	case <-inf.ctx.Done():
		return
	}

	c.mu.Lock()
	inf.attempt++
	attempt := inf.attempt
	c.mu.Unlock()

	metrics.FetchStartedTotal.Inc()
	log := c.log.WithFields(logrus.Fields{"tile": addr.String(), "fetch": inf.id, "attempt": attempt})
	log.Debug("fetching tile")

	start := time.Now()
	content, err := c.call(inf.ctx, addr)
	<-c.slots
	metrics.FetchDurationMs.Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		log.WithError(err).Debug("tile fetch failed")
	} else {
		log.WithField("size", content.Size()).Debugf("tile fetched in %s", time.Since(start))
	}
	c.OnFetchComplete(addr, inf.gen, content, err)
}

func (c *Cache) call(ctx context.Context, addr tiles.TileAddress) (content Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: source panicked: %v", ErrFetchFailure, r)
		}
	}()
	fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	content, err = c.source.GetTile(fctx, addr)
	if err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	if !content.HasPayload() {
		return Content{}, fmt.Errorf("%w: source returned %s content", ErrFetchFailure, content.Kind)
	}
	return content, nil
}

// OnFetchComplete applies the outcome of a fetch attempt started with the
// given generation. Outcomes for addresses that are no longer pending under
// that generation are discarded. On success the tile is stored, evicting
// the least recently used tile at capacity. On failure the retry count
// grows; once it reaches MaxRetries the address is marked failed, otherwise
// a retry is scheduled with exponential backoff.
func (c *Cache) OnFetchComplete(addr tiles.TileAddress, gen uint64, content Content, err error) {
	c.mu.Lock()

	inf, ok := c.pending[addr]
	if !ok || inf.gen != gen {
		c.mu.Unlock()
		metrics.FetchDiscardedTotal.Inc()
		c.log.WithFields(logrus.Fields{"tile": addr.String(), "generation": gen}).Debug("discarding stale fetch completion")
		return
	}

	if err == nil && !content.HasPayload() {
		err = fmt.Errorf("%w: %s content", ErrFetchFailure, content.Kind)
	}

	if err == nil {
		delete(c.pending, addr)
		delete(c.retries, addr)
		inf.cancel()
		c.storeLocked(addr, content)
		callback := c.onLoad
		c.mu.Unlock()
		if callback != nil {
			callback(addr)
		}
		return
	}

	metrics.FetchFailuresTotal.Inc()
	c.retries[addr]++
	count := c.retries[addr]
	if count >= c.opts.MaxRetries {
		delete(c.pending, addr)
		inf.cancel()
		c.failed[addr] = struct{}{}
		c.mu.Unlock()
		metrics.FetchGaveUpTotal.Inc()
		c.log.WithFields(logrus.Fields{"tile": addr.String(), "retries": count}).WithError(err).Warn("giving up on tile")
		return
	}

	if c.closed {
		delete(c.pending, addr)
		inf.cancel()
		c.mu.Unlock()
		return
	}
	delay := inf.backoff.NextBackOff()
	c.launchLocked(addr, inf, delay)
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"tile": addr.String(), "retries": count, "delay": delay}).Debug("retrying tile")
}

func (c *Cache) storeLocked(addr tiles.TileAddress, content Content) {
	if el, ok := c.cached[addr]; ok {
		el.Value.(*entry).content = content
		c.lru.MoveToFront(el)
		return
	}
	c.cached[addr] = c.lru.PushFront(&entry{addr: addr, content: content})
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for c.lru.Len() > c.opts.MaxTiles {
		oldest := c.lru.Back()
		evicted := oldest.Value.(*entry).addr
		c.lru.Remove(oldest)
		delete(c.cached, evicted)
		metrics.CacheEvictionsTotal.Inc()
		c.log.WithField("tile", evicted.String()).Debug("evicted tile")
	}
	metrics.CachedTiles.Set(float64(c.lru.Len()))
}

// InvalidateIfStale cancels the fetches of pending addresses that are not
// in visible and forgets failed addresses that left it, so they are fetched
// afresh if they come back. It returns the number of cancelled fetches.
func (c *Cache) InvalidateIfStale(visible []tiles.TileAddress) int {
	set := make(map[tiles.TileAddress]struct{}, len(visible))
	for _, a := range visible {
		set[a] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cancelled := 0
	for addr, inf := range c.pending {
		if _, ok := set[addr]; ok {
			continue
		}
		inf.cancel()
		delete(c.pending, addr)
		delete(c.retries, addr)
		cancelled++
	}
	for addr := range c.failed {
		if _, ok := set[addr]; !ok {
			delete(c.failed, addr)
			delete(c.retries, addr)
		}
	}
	if cancelled > 0 {
		metrics.FetchCancelledTotal.Add(float64(cancelled))
		c.log.WithField("cancelled", cancelled).Debug("cancelled stale fetches")
	}
	return cancelled
}

// Close cancels every fetch and waits for the background tasks to exit.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	for addr, inf := range c.pending {
		inf.cancel()
		delete(c.pending, addr)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
