package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the chart panel metrics on Prometheus.
type Recorder struct {
	fetchTotal     *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	cacheTotal     *prometheus.CounterVec
	rendersTotal   *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	refreshTotal   *prometheus.CounterVec
	staleTotal     prometheus.Counter
	lastClose      *prometheus.GaugeVec
	activeSurfaces prometheus.Gauge
	wsClients      prometheus.Gauge
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		fetchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartpanel_analysis_requests_total",
				Help: "Requests sent to the analysis service",
			},
			[]string{"mode", "result"},
		),
		fetchLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartpanel_analysis_request_seconds",
				Help:    "Latency of analysis service requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartpanel_analysis_cache_total",
				Help: "Analysis cache lookups by result",
			},
			[]string{"result"},
		),
		rendersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartpanel_renders_total",
				Help: "Full panel renders by result",
			},
			[]string{"result"},
		),
		droppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartpanel_dropped_items_total",
				Help: "Items skipped while building a chart (invalid candles, overlays)",
			},
			[]string{"kind"},
		),
		refreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartpanel_refresh_total",
				Help: "Incremental refresh ticks by outcome",
			},
			[]string{"result"},
		),
		staleTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chartpanel_stale_results_total",
				Help: "Results discarded because the panel key changed while they were in flight",
			},
		),
		lastClose: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chartpanel_last_close",
				Help: "Close of the latest bar drawn for a symbol",
			},
			[]string{"symbol", "timeframe"},
		),
		activeSurfaces: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartpanel_active_surfaces",
				Help: "Chart surfaces currently mounted",
			},
		),
		wsClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartpanel_ws_clients",
				Help: "Connected websocket viewers",
			},
		),
	}
}

// RecordFetch records one analysis request. mode is "full" or "latest".
func (r *Recorder) RecordFetch(mode string, ok bool, seconds float64) {
	r.fetchTotal.WithLabelValues(mode, result(ok)).Inc()
	r.fetchLatency.WithLabelValues(mode).Observe(seconds)
}

// RecordCache records a cache lookup: hit, miss or error.
func (r *Recorder) RecordCache(res string) {
	r.cacheTotal.WithLabelValues(res).Inc()
}

// RecordRender records a full render.
func (r *Recorder) RecordRender(ok bool) {
	r.rendersTotal.WithLabelValues(result(ok)).Inc()
}

// RecordDropped adds n skipped items of a kind.
func (r *Recorder) RecordDropped(kind string, n int) {
	if n <= 0 {
		return
	}
	r.droppedTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordRefresh records a refresh tick outcome: applied, empty, stale or error.
func (r *Recorder) RecordRefresh(res string) {
	r.refreshTotal.WithLabelValues(res).Inc()
}

// RecordStale counts a discarded stale result.
func (r *Recorder) RecordStale() {
	r.staleTotal.Inc()
}

// RecordLastClose records the last drawn close.
func (r *Recorder) RecordLastClose(symbol, timeframe string, price float64) {
	r.lastClose.WithLabelValues(symbol, timeframe).Set(price)
}

// SurfaceMounted adjusts the mounted surface gauge by delta.
func (r *Recorder) SurfaceMounted(delta int) {
	r.activeSurfaces.Add(float64(delta))
}

// ViewerConnected adjusts the websocket viewer gauge by delta.
func (r *Recorder) ViewerConnected(delta int) {
	r.wsClients.Add(float64(delta))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
