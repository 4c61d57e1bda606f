package repository

import (
	"context"

	"CryptoAgent/internal/domain/models"
)

// AnalysisSource fetches analysis for a query key.
type AnalysisSource interface {
	FetchAnalysis(ctx context.Context, key models.QueryKey) (*models.Analysis, error)
}

// CacheInvalidator is implemented by sources that keep fetched analyses around.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, symbol, timeframe string) error
}

// Surface is a chart drawing target. Implementations must be safe for concurrent use.
// Every write after Close returns an error wrapping surface.ErrDisposed.
type Surface interface {
	ID() string
	SetCandles(candles []models.Candle) error
	// UpdateCandle replaces the last bar when times match and appends when newer.
	UpdateCandle(c models.Candle) (models.UpdateKind, error)
	SetMarkers(markers []models.SignalMarker) error
	AddPriceLine(line models.PriceLine) error
	AddLineSeries(series models.LineSeries) error
	Snapshot() models.Scene
	Close() error
}

// SurfaceFactory creates a fresh surface for a panel.
type SurfaceFactory interface {
	NewSurface(panelID string, key models.QueryKey) Surface
}

// RenderPublisher announces completed renders to downstream consumers.
type RenderPublisher interface {
	PublishRender(ctx context.Context, ev models.RenderEvent) error
}

type Metrics interface {
	RecordFetch(mode string, ok bool, seconds float64)
	RecordCache(result string)
	RecordRender(ok bool)
	RecordDropped(kind string, n int)
	RecordRefresh(result string)
	RecordStale()
	RecordLastClose(symbol, timeframe string, price float64)
	SurfaceMounted(delta int)
	ViewerConnected(delta int)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) RecordFetch(string, bool, float64)       {}
func (NopMetrics) RecordCache(string)                      {}
func (NopMetrics) RecordRender(bool)                       {}
func (NopMetrics) RecordDropped(string, int)               {}
func (NopMetrics) RecordRefresh(string)                    {}
func (NopMetrics) RecordStale()                            {}
func (NopMetrics) RecordLastClose(string, string, float64) {}
func (NopMetrics) SurfaceMounted(int)                      {}
func (NopMetrics) ViewerConnected(int)                     {}
