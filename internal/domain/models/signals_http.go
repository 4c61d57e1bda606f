package models

import "strings"

// Requests for chart HTTP endpoints. Defined in domain for consistency and reuse.

type ChartRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required,alphanum,max=20"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d 1w"`
	Timerange int    `query:"timerange" json:"timerange" default:"1" validate:"gte=1,lte=48"`
}

// Key converts the request into a query key.
func (r *ChartRequest) Key() QueryKey {
	return QueryKey{
		Symbol:    strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Timeframe: r.Timeframe,
		Lookback:  r.Timerange,
	}
}

// PanelRef addresses a panel by its path id.
type PanelRef struct {
	ID string `param:"id" validate:"required,max=64,excludesall=/?#%"`
}

type ImageRequest struct {
	Width  int `query:"width" default:"1200" validate:"gte=200,lte=4000"`
	Height int `query:"height" default:"600" validate:"gte=150,lte=3000"`
}

// RenderEvent is published for every successful full render of a panel.
type RenderEvent struct {
	PanelID    string         `json:"panel_id"`
	SurfaceID  string         `json:"surface_id"`
	Key        QueryKey       `json:"key"`
	Markers    []SignalMarker `json:"markers"`
	Levels     []float64      `json:"levels"`
	LastClose  float64        `json:"last_close"`
	RenderedAt int64          `json:"rendered_at"`
}
