// Package panel mounts the analysis of one query key onto a chart surface and keeps
// its last candle fresh.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CryptoAgent/internal/chart"
	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"
	"CryptoAgent/internal/querycache"
	"CryptoAgent/pkg/logger"
)

// ErrNotMounted is returned when an operation needs a mounted chart and there is none.
var ErrNotMounted = errors.New("panel not mounted")

// ErrClosed is returned by loads on a panel that was closed for good.
var ErrClosed = errors.New("panel closed")

// ErrStale aliases the cache error for results that lost the race against a newer key.
var ErrStale = querycache.ErrStale

// Option configures Panel.
type Option func(*Panel)

// WithLiveSource sets the source used for incremental updates. Defaults to the load source.
func WithLiveSource(s repository.AnalysisSource) Option {
	return func(p *Panel) {
		if s != nil {
			p.live = s
		}
	}
}

// WithPublisher announces every full render.
func WithPublisher(pub repository.RenderPublisher) Option {
	return func(p *Panel) { p.publisher = pub }
}

// WithRefreshInterval sets the incremental update period. Zero disables the refresher.
func WithRefreshInterval(d time.Duration) Option {
	return func(p *Panel) { p.refreshInterval = d }
}

// WithLatestLookback sets the lookback used for incremental fetches.
func WithLatestLookback(n int) Option {
	return func(p *Panel) {
		if n >= models.MinimalLookback {
			p.latestLookback = n
		}
	}
}

// WithFetchTimeout bounds each refresher fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Panel) { p.fetchTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Panel) { p.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(p *Panel) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Panel is one chart view. Lifecycle calls (load, reload, unmount) are serialized;
// the refresher only touches state under the state lock and never waits on lifecycle.
type Panel struct {
	id              string
	cache           *querycache.Cache[*models.Analysis]
	source          repository.AnalysisSource
	live            repository.AnalysisSource
	factory         repository.SurfaceFactory
	publisher       repository.RenderPublisher
	refreshInterval time.Duration
	latestLookback  int
	fetchTimeout    time.Duration
	log             *logger.Logger
	metrics         repository.Metrics

	renderMu sync.Mutex

	mu        sync.Mutex
	key       models.QueryKey
	surface   repository.Surface
	mountGen  uint64
	report    models.RenderReport
	refresher *Refresher
	closed    bool
}

// New creates an unmounted panel that loads through source and draws on surfaces from factory.
func New(id string, source repository.AnalysisSource, factory repository.SurfaceFactory, opts ...Option) *Panel {
	p := &Panel{
		id:              id,
		cache:           querycache.New(source.FetchAnalysis),
		source:          source,
		live:            source,
		factory:         factory,
		refreshInterval: 5 * time.Second,
		latestLookback:  models.MinimalLookback,
		fetchTimeout:    20 * time.Second,
		log:             logger.Nop(),
		metrics:         repository.NopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Component("panel").With(logger.String("panel", id))
	return p
}

// ID returns the panel id.
func (p *Panel) ID() string { return p.id }

// Key returns the active query key, zero when unmounted.
func (p *Panel) Key() models.QueryKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

// Report returns the report of the mounted render.
func (p *Panel) Report() (models.RenderReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.report, p.surface != nil
}

// Scene returns a snapshot of the mounted surface.
func (p *Panel) Scene() (models.Scene, error) {
	p.mu.Lock()
	s := p.surface
	p.mu.Unlock()
	if s == nil {
		return models.Scene{}, ErrNotMounted
	}
	return s.Snapshot(), nil
}

// LoadAndRender fetches key and mounts it on a fresh surface. A different key tears the
// current chart down first. Calling it again for the mounted key returns the current report.
func (p *Panel) LoadAndRender(ctx context.Context, key models.QueryKey) (models.RenderReport, error) {
	if err := key.Validate(); err != nil {
		return models.RenderReport{}, err
	}

	p.renderMu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.renderMu.Unlock()
		return models.RenderReport{}, ErrClosed
	}
	if p.key == key && p.surface != nil {
		report := p.report
		p.mu.Unlock()
		p.renderMu.Unlock()
		return report, nil
	}
	var oldSurface repository.Surface
	var oldRefresher *Refresher
	if p.key != key {
		oldSurface, oldRefresher = p.detachLocked()
		p.key = key
	}
	p.mu.Unlock()
	p.teardown(oldSurface, oldRefresher)
	p.renderMu.Unlock()

	res, err := p.cache.Load(ctx, key)
	if err != nil {
		return models.RenderReport{}, p.fetchFailed(key, err)
	}
	return p.commit(ctx, key, res)
}

// Reload re-fetches the active key from upstream, dropping any stored response first,
// and remounts it.
func (p *Panel) Reload(ctx context.Context) (models.RenderReport, error) {
	key := p.Key()
	if key.IsZero() {
		return models.RenderReport{}, ErrNotMounted
	}
	if inv, ok := p.source.(repository.CacheInvalidator); ok {
		if err := inv.Invalidate(ctx, key.Symbol, key.Timeframe); err != nil {
			p.log.Warn("response cache invalidate failed", logger.String("key", key.String()), logger.Error(err))
		}
	}
	res, err := p.cache.Refresh(ctx)
	if err != nil {
		if errors.Is(err, querycache.ErrNoKey) {
			return models.RenderReport{}, ErrNotMounted
		}
		return models.RenderReport{}, p.fetchFailed(key, err)
	}
	return p.commit(ctx, key, res)
}

// Unmount stops the refresher, waiting for a running tick, and disposes the surface.
// The panel can be loaded again afterwards.
func (p *Panel) Unmount() { p.unmount(false) }

// Close unmounts the panel and makes every later load fail with ErrClosed. A load that
// is already in flight resolves as stale and mounts nothing.
func (p *Panel) Close() { p.unmount(true) }

func (p *Panel) unmount(final bool) {
	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	p.mu.Lock()
	s, r := p.detachLocked()
	p.key = models.QueryKey{}
	if final {
		p.closed = true
	}
	p.mu.Unlock()

	p.cache.Invalidate()
	p.teardown(s, r)
}

// ApplyIncrementalUpdate fetches the latest window of the mounted key and merges its last
// candle into the surface. An empty response is a no-op and returns "".
func (p *Panel) ApplyIncrementalUpdate(ctx context.Context) (models.UpdateKind, error) {
	p.mu.Lock()
	key, surface, gen := p.key, p.surface, p.mountGen
	p.mu.Unlock()
	if surface == nil {
		return "", ErrNotMounted
	}

	latest := key
	latest.Lookback = p.latestLookback
	a, err := p.live.FetchAnalysis(ctx, latest)
	if err != nil {
		return "", err
	}
	bar, ok := chart.LatestCandle(a)
	if !ok {
		return "", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.surface != surface || p.mountGen != gen {
		p.metrics.RecordStale()
		return "", fmt.Errorf("%w: incremental update for %s", ErrStale, key)
	}
	kind, err := surface.UpdateCandle(bar)
	if err != nil {
		return "", fmt.Errorf("update candle: %w", err)
	}
	p.metrics.RecordLastClose(key.Symbol, key.Timeframe, bar.Close)
	return kind, nil
}

func (p *Panel) tick(ctx context.Context) {
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	kind, err := p.ApplyIncrementalUpdate(ctx)
	switch {
	case err == nil && kind == "":
		p.metrics.RecordRefresh("empty")
	case err == nil:
		p.metrics.RecordRefresh(string(kind))
	case errors.Is(err, context.Canceled):
		p.metrics.RecordRefresh("cancelled")
	case errors.Is(err, ErrStale), errors.Is(err, ErrNotMounted):
		p.metrics.RecordRefresh("stale")
	default:
		p.metrics.RecordRefresh("error")
		p.log.Warn("incremental update failed", logger.Error(err))
	}
}

// commit mounts a fetched result if it still belongs to the active key and generation.
func (p *Panel) commit(ctx context.Context, key models.QueryKey, res querycache.Result[*models.Analysis]) (models.RenderReport, error) {
	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	p.mu.Lock()
	if p.key != key || !p.cache.IsCurrent(res.Generation) {
		p.mu.Unlock()
		p.metrics.RecordStale()
		return models.RenderReport{}, fmt.Errorf("%w: %s generation %d", ErrStale, key, res.Generation)
	}
	if p.surface != nil && p.mountGen == res.Generation {
		report := p.report
		p.mu.Unlock()
		return report, nil
	}
	oldSurface, oldRefresher := p.detachLocked()
	p.mu.Unlock()
	p.teardown(oldSurface, oldRefresher)

	plan, err := chart.Build(res.Value)
	if err != nil {
		p.metrics.RecordRender(false)
		return models.RenderReport{}, fmt.Errorf("render %s: %w", key, err)
	}

	surface := p.factory.NewSurface(p.id, key)
	report, err := p.draw(surface, plan)
	if err != nil {
		_ = surface.Close()
		p.metrics.RecordRender(false)
		return models.RenderReport{}, fmt.Errorf("render %s: %w", key, err)
	}
	report.Key = key
	report.Generation = res.Generation

	p.mu.Lock()
	if p.key != key || !p.cache.IsCurrent(res.Generation) {
		p.mu.Unlock()
		_ = surface.Close()
		p.metrics.RecordStale()
		return models.RenderReport{}, fmt.Errorf("%w: %s generation %d", ErrStale, key, res.Generation)
	}
	p.surface = surface
	p.mountGen = res.Generation
	p.report = report
	if p.refreshInterval > 0 {
		p.refresher = NewRefresher(p.refreshInterval, p.tick, p.log)
		p.refresher.Start()
	}
	p.mu.Unlock()

	p.metrics.SurfaceMounted(1)
	p.metrics.RecordRender(true)
	p.log.Info("panel rendered",
		logger.String("key", key.String()),
		logger.String("surface", report.SurfaceID),
		logger.Int("candles", report.Candles),
		logger.Int("dropped", report.Dropped),
		logger.Int("failed", report.Failed),
	)
	p.publish(ctx, report, plan)
	return report, nil
}

// draw puts a plan on the surface in order: candles, price lines, markers, overlays.
// Only the candle series is fatal; every other primitive fails on its own.
func (p *Panel) draw(s repository.Surface, plan *chart.Plan) (models.RenderReport, error) {
	report := models.RenderReport{
		PanelID:    p.id,
		SurfaceID:  s.ID(),
		Dropped:    plan.Dropped.Total(),
		RenderedAt: time.Now().UTC(),
	}

	if err := s.SetCandles(plan.Candles); err != nil {
		return report, fmt.Errorf("set candles: %w", err)
	}
	report.Candles = len(plan.Candles)

	for _, line := range plan.PriceLines {
		if err := s.AddPriceLine(line); err != nil {
			report.Failed++
			p.log.Warn("price line failed", logger.String("title", line.Title), logger.Float64("price", line.Price), logger.Error(err))
			continue
		}
		report.PriceLines++
	}

	if err := s.SetMarkers(plan.Markers); err != nil {
		report.Failed++
		p.log.Warn("markers failed", logger.Int("count", len(plan.Markers)), logger.Error(err))
	} else {
		report.Markers = len(plan.Markers)
	}

	for _, o := range plan.Overlays {
		failed := false
		for _, ls := range o.Lines {
			if err := s.AddLineSeries(ls); err != nil {
				failed = true
				p.log.Warn("overlay failed",
					logger.String("kind", string(ls.Kind)),
					logger.String("pattern", o.Type),
					logger.Error(err),
				)
				continue
			}
			report.Lines++
		}
		if failed {
			report.Failed++
		}
	}

	p.metrics.RecordDropped("candles", plan.Dropped.Candles)
	p.metrics.RecordDropped("markers", plan.Dropped.Markers)
	p.metrics.RecordDropped("levels", plan.Dropped.Levels)
	p.metrics.RecordDropped("overlays", plan.Dropped.Overlays)
	p.metrics.RecordDropped("failed", report.Failed)
	if len(plan.Malformed) > 0 {
		p.log.Warn("malformed shape groups ignored", logger.Strings("groups", plan.Malformed))
	}
	return report, nil
}

func (p *Panel) publish(ctx context.Context, report models.RenderReport, plan *chart.Plan) {
	if p.publisher == nil {
		return
	}
	last, _ := plan.LastClose()
	ev := models.RenderEvent{
		PanelID:    p.id,
		SurfaceID:  report.SurfaceID,
		Key:        report.Key,
		Markers:    plan.Markers,
		Levels:     plan.Levels(),
		LastClose:  last,
		RenderedAt: report.RenderedAt.Unix(),
	}
	if err := p.publisher.PublishRender(context.WithoutCancel(ctx), ev); err != nil {
		p.log.Warn("publish render event failed", logger.Error(err))
	}
}

func (p *Panel) fetchFailed(key models.QueryKey, err error) error {
	if errors.Is(err, ErrStale) {
		p.metrics.RecordStale()
		return err
	}
	p.log.Warn("analysis load failed", logger.String("key", key.String()), logger.Error(err))
	return err
}

// detachLocked clears the mount and hands back what needs tearing down.
func (p *Panel) detachLocked() (repository.Surface, *Refresher) {
	s, r := p.surface, p.refresher
	p.surface, p.refresher = nil, nil
	p.mountGen = 0
	p.report = models.RenderReport{}
	return s, r
}

// teardown must be called without mu held: Stop waits for a running tick.
func (p *Panel) teardown(s repository.Surface, r *Refresher) {
	if r != nil {
		r.Stop()
	}
	if s != nil {
		if err := s.Close(); err != nil {
			p.log.Warn("close surface", logger.Error(err))
		}
		p.metrics.SurfaceMounted(-1)
	}
}
