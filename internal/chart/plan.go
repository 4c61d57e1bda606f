package chart

import (
	"fmt"

	"CryptoAgent/internal/domain/models"
)

// Dropped counts what was skipped while building a plan.
type Dropped struct {
	Candles  int `json:"candles"`
	Markers  int `json:"markers"`
	Levels   int `json:"levels"`
	Overlays int `json:"overlays"`
}

// Total is the sum of all skipped items.
func (d Dropped) Total() int { return d.Candles + d.Markers + d.Levels + d.Overlays }

// Plan is everything a surface needs for a full render, in draw order.
type Plan struct {
	Candles    []models.Candle       `json:"candles"`
	PriceLines []models.PriceLine    `json:"price_lines"`
	Markers    []models.SignalMarker `json:"markers"`
	Overlays   []Overlay             `json:"-"`
	Lines      []models.LineSeries   `json:"lines"`
	Malformed  []string              `json:"malformed,omitempty"`
	Dropped    Dropped               `json:"dropped"`
}

// Build shapes an analysis response into a render plan. Only an unordered candle
// series is an error; every other defect drops the offending item.
func Build(a *models.Analysis) (*Plan, error) {
	if a == nil {
		return nil, fmt.Errorf("build plan: nil analysis")
	}

	candles, droppedCandles, err := BuildCandles(a.Candles)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	markers, droppedMarkers := BuildMarkers(a.Buy, a.Sell)
	lines, droppedLevels := BuildPriceLines(a.Shapes.SR, a.Shapes.Fibonacci)
	overlays, droppedOverlays := BuildOverlays(a.Shapes)

	p := &Plan{
		Candles:    candles,
		PriceLines: lines,
		Markers:    markers,
		Overlays:   overlays,
		Malformed:  a.Shapes.Malformed,
		Dropped: Dropped{
			Candles:  droppedCandles,
			Markers:  droppedMarkers,
			Levels:   droppedLevels,
			Overlays: droppedOverlays,
		},
	}
	for _, o := range overlays {
		p.Lines = append(p.Lines, o.Lines...)
	}
	return p, nil
}

// LastClose returns the close of the last candle, if any.
func (p *Plan) LastClose() (float64, bool) {
	if p == nil || len(p.Candles) == 0 {
		return 0, false
	}
	return p.Candles[len(p.Candles)-1].Close, true
}

// Levels returns the prices of all horizontal lines.
func (p *Plan) Levels() []float64 {
	out := make([]float64, len(p.PriceLines))
	for i, l := range p.PriceLines {
		out[i] = l.Price
	}
	return out
}
