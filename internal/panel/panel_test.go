package panel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"
	"CryptoAgent/internal/service/cache"
	"CryptoAgent/internal/surface"
	pkgcache "CryptoAgent/pkg/cache"
)

var (
	btc = models.QueryKey{Symbol: "BTCUSDT", Timeframe: "1h", Lookback: 3}
	eth = models.QueryKey{Symbol: "ETHUSDT", Timeframe: "1h", Lookback: 3}
)

func analysis(closes ...float64) *models.Analysis {
	a := &models.Analysis{}
	for i, c := range closes {
		ts := models.Number(1700000000000 + int64(i)*3600000)
		a.Candles = append(a.Candles, models.RawCandle{Timestamp: ts, Open: 1, High: 100, Low: 0.5, Close: models.Number(c)})
	}
	if len(closes) > 0 {
		a.Buy = []models.Number{1700000000000}
		a.Shapes.SR = []models.Number{50, 60}
		a.Shapes.Flag = []models.FlagShape{
			{Points: []models.Number{1700000000, 10, 1700003600, 20}, Type: "bull_flag"},
			{Points: []models.Number{1700000000, 10}, Type: "bear_flag"},
		}
		a.Shapes.HS = []models.HeadShouldersShape{hs()}
	}
	return a
}

func hs() models.HeadShouldersShape {
	h := models.HeadShouldersShape{Type: "head_shoulders"}
	for i := 0; i < 7; i++ {
		h.Points = append(h.Points, []models.Number{models.Number(1700000000 + i*600), 10})
	}
	h.Neckline = [][]models.Number{{1700000000, 9}, {1700003600, 9}}
	return h
}

// fakeSource answers per key. A key with a gate blocks until the gate is closed.
type fakeSource struct {
	mu    sync.Mutex
	resp  map[models.QueryKey]*models.Analysis
	errs  map[models.QueryKey]error
	gates map[models.QueryKey]chan struct{}
	byKey map[models.QueryKey]int
	calls atomic.Int32
}

func newSource() *fakeSource {
	return &fakeSource{
		resp:  map[models.QueryKey]*models.Analysis{},
		errs:  map[models.QueryKey]error{},
		gates: map[models.QueryKey]chan struct{}{},
		byKey: map[models.QueryKey]int{},
	}
}

func (f *fakeSource) callsFor(k models.QueryKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byKey[k]
}

func (f *fakeSource) set(k models.QueryKey, a *models.Analysis, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp[k], f.errs[k] = a, err
}

func (f *fakeSource) gate(k models.QueryKey) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[k] = ch
	return ch
}

func (f *fakeSource) FetchAnalysis(ctx context.Context, k models.QueryKey) (*models.Analysis, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.byKey[k]++
	g := f.gates[k]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[k]; err != nil {
		return nil, err
	}
	return f.resp[k], nil
}

// factory records surfaces and can make overlays of one kind fail.
type factory struct {
	mu       sync.Mutex
	surfaces []*flakySurface
	failKind models.OverlayKind
}

type flakySurface struct {
	*surface.Canvas
	failKind models.OverlayKind
}

func (s *flakySurface) AddLineSeries(ls models.LineSeries) error {
	if s.failKind != "" && ls.Kind == s.failKind {
		return errors.New("injected failure")
	}
	return s.Canvas.AddLineSeries(ls)
}

func (f *factory) NewSurface(panelID string, key models.QueryKey) repository.Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &flakySurface{Canvas: surface.NewCanvas(key), failKind: f.failKind}
	f.surfaces = append(f.surfaces, s)
	return s
}

func (f *factory) last() *flakySurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surfaces[len(f.surfaces)-1]
}

type publisher struct {
	mu     sync.Mutex
	events []models.RenderEvent
}

func (p *publisher) PublishRender(_ context.Context, ev models.RenderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func newPanel(src *fakeSource, f *factory, opts ...Option) *Panel {
	opts = append([]Option{WithRefreshInterval(0)}, opts...)
	return New("p1", src, f, opts...)
}

func TestLoadAndRenderMountsEverything(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(10, 11, 12), nil)
	f := &factory{}
	pub := &publisher{}
	p := newPanel(src, f, WithPublisher(pub))

	report, err := p.LoadAndRender(context.Background(), btc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if report.Candles != 3 || report.Markers != 1 || report.PriceLines != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	// bull flag + hs pattern + neckline, the short bear flag is dropped
	if report.Lines != 3 || report.Dropped != 1 || report.Failed != 0 {
		t.Fatalf("unexpected overlay counts %+v", report)
	}

	scene, err := p.Scene()
	if err != nil {
		t.Fatalf("scene: %v", err)
	}
	if scene.Candles[0].Time != 1700000000 {
		t.Fatalf("timestamps not normalized: %d", scene.Candles[0].Time)
	}
	if len(pub.events) != 1 || pub.events[0].LastClose != 12 || len(pub.events[0].Levels) != 2 {
		t.Fatalf("unexpected render events %+v", pub.events)
	}

	again, err := p.LoadAndRender(context.Background(), btc)
	if err != nil || again.SurfaceID != report.SurfaceID {
		t.Fatalf("repeat load should be a no-op, got %+v %v", again, err)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", src.calls.Load())
	}
}

func TestLoadFailureMountsNothing(t *testing.T) {
	src := newSource()
	boom := errors.New("upstream down")
	src.set(btc, nil, boom)
	p := newPanel(src, &factory{})

	if _, err := p.LoadAndRender(context.Background(), btc); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := p.Scene(); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected not mounted, got %v", err)
	}

	src.set(btc, analysis(1), nil)
	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestLoadRejectsInvalidKey(t *testing.T) {
	p := newPanel(newSource(), &factory{})
	if _, err := p.LoadAndRender(context.Background(), models.QueryKey{Symbol: "BTC"}); !errors.Is(err, models.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestKeyChangeTearsDownOldSurface(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1, 2), nil)
	src.set(eth, analysis(3), nil)
	f := &factory{}
	p := newPanel(src, f)

	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load btc: %v", err)
	}
	first := f.last()
	if _, err := p.LoadAndRender(context.Background(), eth); err != nil {
		t.Fatalf("load eth: %v", err)
	}
	if !first.Snapshot().Closed {
		t.Fatalf("old surface should be closed")
	}
	if p.Key() != eth {
		t.Fatalf("unexpected key %+v", p.Key())
	}
}

func TestSupersededLoadIsStale(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1, 2), nil)
	src.set(eth, analysis(3), nil)
	gate := src.gate(btc)
	f := &factory{}
	p := newPanel(src, f)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.LoadAndRender(context.Background(), btc)
		errCh <- err
	}()
	deadline := time.Now().Add(time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := p.LoadAndRender(context.Background(), eth); err != nil {
		t.Fatalf("load eth: %v", err)
	}
	close(gate)
	if err := <-errCh; !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale, got %v", err)
	}

	scene, err := p.Scene()
	if err != nil || scene.Key != eth || len(scene.Candles) != 1 {
		t.Fatalf("stale result was applied: %+v %v", scene, err)
	}
	if len(f.surfaces) != 1 {
		t.Fatalf("stale result must not create a surface, got %d", len(f.surfaces))
	}
}

func TestOverlayFailureIsIsolated(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1, 2), nil)
	p := newPanel(src, &factory{failKind: models.OverlayNeckline})

	report, err := p.LoadAndRender(context.Background(), btc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if report.Failed != 1 || report.Lines != 2 {
		t.Fatalf("expected one failed overlay and two drawn lines, got %+v", report)
	}
}

func TestUnorderedCandlesFailRender(t *testing.T) {
	src := newSource()
	a := analysis(1, 2)
	a.Candles[0], a.Candles[1] = a.Candles[1], a.Candles[0]
	src.set(btc, a, nil)
	p := newPanel(src, &factory{})

	if _, err := p.LoadAndRender(context.Background(), btc); err == nil {
		t.Fatalf("expected render error")
	}
	if _, ok := p.Report(); ok {
		t.Fatalf("nothing should be mounted")
	}
}

func TestIncrementalUpdateReplacesAndAppends(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1, 2), nil)
	p := newPanel(src, &factory{})
	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load: %v", err)
	}

	latest := btc.Latest()
	same := analysis(0, 7)
	src.set(latest, same, nil)
	kind, err := p.ApplyIncrementalUpdate(context.Background())
	if err != nil || kind != models.UpdateReplaced {
		t.Fatalf("expected replace, got %s %v", kind, err)
	}

	src.set(latest, analysis(0, 0, 9), nil)
	kind, err = p.ApplyIncrementalUpdate(context.Background())
	if err != nil || kind != models.UpdateAppended {
		t.Fatalf("expected append, got %s %v", kind, err)
	}

	scene, _ := p.Scene()
	if len(scene.Candles) != 3 || scene.Candles[1].Close != 7 || scene.Candles[2].Close != 9 {
		t.Fatalf("unexpected candles %+v", scene.Candles)
	}

	src.set(latest, &models.Analysis{}, nil)
	if kind, err := p.ApplyIncrementalUpdate(context.Background()); err != nil || kind != "" {
		t.Fatalf("empty response should be a no-op, got %s %v", kind, err)
	}
}

func TestIncrementalUpdateErrors(t *testing.T) {
	src := newSource()
	p := newPanel(src, &factory{})
	if _, err := p.ApplyIncrementalUpdate(context.Background()); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected not mounted, got %v", err)
	}

	src.set(btc, analysis(1, 2), nil)
	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load: %v", err)
	}
	boom := errors.New("refresh failed")
	src.set(btc.Latest(), nil, boom)
	if _, err := p.ApplyIncrementalUpdate(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := p.Scene(); err != nil {
		t.Fatalf("refresh failure must keep the chart mounted: %v", err)
	}
}

func TestIncrementalUpdateAfterUnmountIsStale(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1, 2), nil)
	src.set(btc.Latest(), analysis(0, 3), nil)
	gate := src.gate(btc.Latest())
	p := newPanel(src, &factory{})
	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.ApplyIncrementalUpdate(context.Background())
		errCh <- err
	}()
	deadline := time.Now().Add(time.Second)
	for src.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Unmount()
	close(gate)
	if err := <-errCh; !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestUnmountDisposes(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1), nil)
	f := &factory{}
	p := newPanel(src, f)
	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load: %v", err)
	}

	p.Unmount()
	p.Unmount()
	if !f.last().Snapshot().Closed {
		t.Fatalf("surface should be closed")
	}
	if !p.Key().IsZero() {
		t.Fatalf("key should be cleared")
	}
	if _, err := p.Reload(context.Background()); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected not mounted, got %v", err)
	}
}

func TestReloadRemounts(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1), nil)
	f := &factory{}
	p := newPanel(src, f)
	first, err := p.LoadAndRender(context.Background(), btc)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	src.set(btc, analysis(1, 2), nil)
	second, err := p.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.SurfaceID == first.SurfaceID || second.Candles != 2 || second.Generation <= first.Generation {
		t.Fatalf("expected a new mount, got %+v after %+v", second, first)
	}
	if len(f.surfaces) != 2 || !f.surfaces[0].Snapshot().Closed {
		t.Fatalf("old surface should be replaced and closed")
	}
}

func TestRefresherTicksAndStops(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1, 2), nil)
	src.set(btc.Latest(), analysis(0, 0, 5), nil)
	p := New("p1", src, &factory{}, WithRefreshInterval(time.Second))
	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		scene, _ := p.Scene()
		if len(scene.Candles) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("refresher never appended the latest candle")
		}
		time.Sleep(50 * time.Millisecond)
	}

	p.Unmount()
	calls := src.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	if src.calls.Load() != calls {
		t.Fatalf("refresher kept running after unmount")
	}
}

func TestReloadBypassesResponseCache(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1), nil)
	store := pkgcache.NewMemoryCache()
	defer store.Close()
	cached := cache.NewCachedSource(src, store, time.Minute)
	p := New("p1", cached, &factory{}, WithRefreshInterval(0), WithLiveSource(src))

	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load: %v", err)
	}
	src.set(btc, analysis(1, 2, 3), nil)

	report, err := p.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if report.Candles != 3 {
		t.Fatalf("expected reload to see 3 upstream candles, got %d", report.Candles)
	}
	if n := src.callsFor(btc); n != 2 {
		t.Fatalf("expected 2 upstream fetches, got %d", n)
	}
}

func TestKeyChangeStopsOldRefresher(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1, 2), nil)
	src.set(btc.Latest(), analysis(0, 0, 5), nil)
	src.set(eth, analysis(3), nil)
	src.set(eth.Latest(), analysis(4), nil)
	p := New("p1", src, &factory{}, WithRefreshInterval(time.Second))
	defer p.Unmount()

	if _, err := p.LoadAndRender(context.Background(), btc); err != nil {
		t.Fatalf("load btc: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for src.callsFor(btc.Latest()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("btc refresher never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := p.LoadAndRender(context.Background(), eth); err != nil {
		t.Fatalf("load eth: %v", err)
	}
	before := src.callsFor(btc.Latest())
	time.Sleep(2500 * time.Millisecond)
	if after := src.callsFor(btc.Latest()); after != before {
		t.Fatalf("btc refresher kept running after key change: %d fetches, was %d", after, before)
	}
	if src.callsFor(eth.Latest()) == 0 {
		t.Fatalf("eth refresher never ran")
	}
}

func TestClosedPanelRejectsLoads(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1), nil)
	f := &factory{}
	p := newPanel(src, f)

	p.Close()
	if _, err := p.LoadAndRender(context.Background(), btc); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	if len(f.surfaces) != 0 || src.calls.Load() != 0 {
		t.Fatalf("closed panel fetched or mounted: %d surfaces, %d fetches", len(f.surfaces), src.calls.Load())
	}
}

func TestCloseDuringLoadMountsNothing(t *testing.T) {
	src := newSource()
	src.set(btc, analysis(1), nil)
	gate := src.gate(btc)
	f := &factory{}
	p := New("p1", src, f, WithRefreshInterval(time.Second))

	errCh := make(chan error, 1)
	go func() {
		_, err := p.LoadAndRender(context.Background(), btc)
		errCh <- err
	}()
	deadline := time.Now().Add(time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	p.Close()
	close(gate)
	if err := <-errCh; !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale, got %v", err)
	}
	if _, mounted := p.Report(); mounted || len(f.surfaces) != 0 {
		t.Fatalf("load mounted a closed panel")
	}
}
