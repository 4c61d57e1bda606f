package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinimalLookback is the smallest lookback window the analysis service accepts.
const MinimalLookback = 1

// QueryKey identifies one analysis request; it is the cache identity of a panel.
type QueryKey struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Lookback  int    `json:"timerange"`
}

// ErrInvalidKey is returned when a query key cannot be sent to the analysis service.
var ErrInvalidKey = errors.New("invalid query key")

// Validate checks the key fields.
func (k QueryKey) Validate() error {
	if strings.TrimSpace(k.Symbol) == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidKey)
	}
	if strings.TrimSpace(k.Timeframe) == "" {
		return fmt.Errorf("%w: timeframe required", ErrInvalidKey)
	}
	if k.Lookback < MinimalLookback {
		return fmt.Errorf("%w: lookback must be >= %d", ErrInvalidKey, MinimalLookback)
	}
	return nil
}

// IsZero reports whether no key is set.
func (k QueryKey) IsZero() bool { return k == QueryKey{} }

// Latest returns the same key with the lookback forced to the minimal window.
func (k QueryKey) Latest() QueryKey {
	k.Lookback = MinimalLookback
	return k
}

// String formats the key as symbol:timeframe:lookback.
func (k QueryKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Symbol, k.Timeframe, k.Lookback)
}

// PriceLineKind tells where a horizontal price line comes from.
type PriceLineKind string

const (
	PriceLineSR        PriceLineKind = "sr"
	PriceLineFibonacci PriceLineKind = "fibonacci"
)

// PriceLine is a horizontal reference line (support/resistance or fibonacci level).
type PriceLine struct {
	Kind             PriceLineKind `json:"kind"`
	Price            float64       `json:"price"`
	Title            string        `json:"title"`
	Color            Color         `json:"color"`
	Width            int           `json:"lineWidth"`
	AxisLabelVisible bool          `json:"axisLabelVisible"`
}

// LineStyle of an overlay segment.
type LineStyle string

const (
	LineSolid  LineStyle = "solid"
	LineDashed LineStyle = "dashed"
)

// OverlayKind names the pattern an overlay line belongs to.
type OverlayKind string

const (
	OverlayFlag          OverlayKind = "flag"
	OverlayHeadShoulders OverlayKind = "hs"
	OverlayNeckline      OverlayKind = "neckline"
)

// LinePoint is one vertex of an overlay line.
type LinePoint struct {
	Time  Timestamp `json:"time"`
	Value float64   `json:"value"`
}

// LineSeries is an overlay drawn on top of the candles.
type LineSeries struct {
	Kind    OverlayKind `json:"kind"`
	Pattern string      `json:"pattern"`
	Color   Color       `json:"color"`
	Width   int         `json:"lineWidth"`
	Style   LineStyle   `json:"lineStyle"`
	Points  []LinePoint `json:"points"`
}

// Scene is a point-in-time copy of everything drawn on a surface.
type Scene struct {
	SurfaceID  string         `json:"surface_id"`
	Key        QueryKey       `json:"key"`
	Candles    []Candle       `json:"candles"`
	Markers    []SignalMarker `json:"markers"`
	PriceLines []PriceLine    `json:"price_lines"`
	Lines      []LineSeries   `json:"lines"`
	Closed     bool           `json:"closed"`
}

// RenderReport summarizes one full render of a panel.
type RenderReport struct {
	PanelID    string    `json:"panel_id"`
	SurfaceID  string    `json:"surface_id"`
	Key        QueryKey  `json:"key"`
	Generation uint64    `json:"generation"`
	Candles    int       `json:"candles"`
	Markers    int       `json:"markers"`
	PriceLines int       `json:"price_lines"`
	Lines      int       `json:"lines"`
	Dropped    int       `json:"dropped"`
	Failed     int       `json:"failed"`
	RenderedAt time.Time `json:"rendered_at"`
}

// UpdateKind tells how an incremental bar was applied.
type UpdateKind string

const (
	UpdateReplaced UpdateKind = "replaced"
	UpdateAppended UpdateKind = "appended"
)
