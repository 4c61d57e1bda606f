// Package surface holds the server-side chart surfaces a panel draws on, the websocket
// hub that streams their ops to browsers and the PNG/SVG renderer.
package surface

import (
	"errors"
	"fmt"
	"sync"

	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"

	"github.com/google/uuid"
)

var (
	// ErrDisposed is returned by every write to a closed surface.
	ErrDisposed = errors.New("surface disposed")
	// ErrOutOfOrder is returned when data would break the ascending time order.
	ErrOutOfOrder = errors.New("data out of time order")
	// ErrEmptySeries is returned when a line series has no points.
	ErrEmptySeries = errors.New("empty line series")
)

// OpType names a surface mutation.
type OpType string

const (
	OpSnapshot      OpType = "snapshot"
	OpSetCandles    OpType = "set_candles"
	OpUpdateCandle  OpType = "update_candle"
	OpSetMarkers    OpType = "set_markers"
	OpAddPriceLine  OpType = "add_price_line"
	OpAddLineSeries OpType = "add_line_series"
	OpClose         OpType = "close"
)

// Op is one mutation as streamed to viewers.
type Op struct {
	Type      OpType                `json:"type"`
	SurfaceID string                `json:"surface_id"`
	Seq       uint64                `json:"seq"`
	Candles   []models.Candle       `json:"candles,omitempty"`
	Candle    *models.Candle        `json:"candle,omitempty"`
	Update    models.UpdateKind     `json:"update,omitempty"`
	Markers   []models.SignalMarker `json:"markers,omitempty"`
	PriceLine *models.PriceLine     `json:"price_line,omitempty"`
	Line      *models.LineSeries    `json:"line,omitempty"`
	Scene     *models.Scene         `json:"scene,omitempty"`
}

// Observer receives every op of a canvas in order. It is called with the canvas
// lock held and must not block or call back into the canvas.
type Observer func(op Op)

// CanvasOption configures a Canvas.
type CanvasOption func(*Canvas)

// WithObserver registers the op observer.
func WithObserver(o Observer) CanvasOption {
	return func(c *Canvas) { c.observer = o }
}

// WithID overrides the generated surface ID.
func WithID(id string) CanvasOption {
	return func(c *Canvas) {
		if id != "" {
			c.id = id
		}
	}
}

// Canvas is an in-memory repository.Surface.
type Canvas struct {
	id       string
	key      models.QueryKey
	observer Observer

	mu         sync.RWMutex
	candles    []models.Candle
	markers    []models.SignalMarker
	priceLines []models.PriceLine
	lines      []models.LineSeries
	seq        uint64
	closed     bool
}

// NewCanvas creates an empty canvas for key.
func NewCanvas(key models.QueryKey, opts ...CanvasOption) *Canvas {
	c := &Canvas{id: uuid.NewString(), key: key}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Canvas) ID() string { return c.id }

// Key returns the query key the canvas was created for.
func (c *Canvas) Key() models.QueryKey { return c.key }

// SetCandles replaces the whole series. Times must be strictly ascending.
func (c *Canvas) SetCandles(candles []models.Candle) error {
	for i := 1; i < len(candles); i++ {
		if candles[i].Time <= candles[i-1].Time {
			return fmt.Errorf("set candles at index %d: %w", i, ErrOutOfOrder)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisposed
	}
	c.candles = append([]models.Candle(nil), candles...)
	c.emit(Op{Type: OpSetCandles, Candles: c.candles})
	return nil
}

// UpdateCandle replaces the last bar when the time matches and appends when it is newer.
func (c *Canvas) UpdateCandle(bar models.Candle) (models.UpdateKind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrDisposed
	}

	kind := models.UpdateAppended
	if n := len(c.candles); n > 0 {
		last := c.candles[n-1].Time
		switch {
		case bar.Time == last:
			kind = models.UpdateReplaced
		case bar.Time < last:
			return "", fmt.Errorf("update candle %d before last %d: %w", bar.Time, last, ErrOutOfOrder)
		}
	}

	if kind == models.UpdateReplaced {
		// copy-on-write so snapshots and emitted ops never alias a mutated slice
		next := append([]models.Candle(nil), c.candles...)
		next[len(next)-1] = bar
		c.candles = next
	} else {
		c.candles = append(c.candles[:len(c.candles):len(c.candles)], bar)
	}
	c.emit(Op{Type: OpUpdateCandle, Candle: &bar, Update: kind})
	return kind, nil
}

// SetMarkers replaces all markers.
func (c *Canvas) SetMarkers(markers []models.SignalMarker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisposed
	}
	c.markers = append([]models.SignalMarker(nil), markers...)
	c.emit(Op{Type: OpSetMarkers, Markers: c.markers})
	return nil
}

// AddPriceLine adds a horizontal line.
func (c *Canvas) AddPriceLine(line models.PriceLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisposed
	}
	c.priceLines = append(c.priceLines[:len(c.priceLines):len(c.priceLines)], line)
	c.emit(Op{Type: OpAddPriceLine, PriceLine: &line})
	return nil
}

// AddLineSeries adds an overlay. Points must be non-empty and strictly ascending in time.
func (c *Canvas) AddLineSeries(series models.LineSeries) error {
	if len(series.Points) == 0 {
		return ErrEmptySeries
	}
	for i := 1; i < len(series.Points); i++ {
		if series.Points[i].Time <= series.Points[i-1].Time {
			return fmt.Errorf("%s line point %d: %w", series.Kind, i, ErrOutOfOrder)
		}
	}
	series.Points = append([]models.LinePoint(nil), series.Points...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisposed
	}
	c.lines = append(c.lines[:len(c.lines):len(c.lines)], series)
	c.emit(Op{Type: OpAddLineSeries, Line: &series})
	return nil
}

// Snapshot returns a copy of the drawn state.
func (c *Canvas) Snapshot() models.Scene {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sceneLocked()
}

// EmitSnapshot sends the current scene to the observer as a snapshot op, in order
// with every other op.
func (c *Canvas) EmitSnapshot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisposed
	}
	scene := c.sceneLocked()
	c.emit(Op{Type: OpSnapshot, Scene: &scene})
	return nil
}

// Close disposes the canvas. Calling it again is a no-op.
func (c *Canvas) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.emit(Op{Type: OpClose})
	return nil
}

func (c *Canvas) sceneLocked() models.Scene {
	return models.Scene{
		SurfaceID:  c.id,
		Key:        c.key,
		Candles:    append([]models.Candle(nil), c.candles...),
		Markers:    append([]models.SignalMarker(nil), c.markers...),
		PriceLines: append([]models.PriceLine(nil), c.priceLines...),
		Lines:      append([]models.LineSeries(nil), c.lines...),
		Closed:     c.closed,
	}
}

// emit must be called with mu held.
func (c *Canvas) emit(op Op) {
	c.seq++
	if c.observer == nil {
		return
	}
	op.SurfaceID = c.id
	op.Seq = c.seq
	c.observer(op)
}

var _ repository.Surface = (*Canvas)(nil)

// Factory creates canvases and attaches them to the hub, when one is set.
type Factory struct {
	hub *Hub
}

// NewFactory returns a factory. hub may be nil.
func NewFactory(hub *Hub) *Factory {
	return &Factory{hub: hub}
}

// NewSurface implements repository.SurfaceFactory.
func (f *Factory) NewSurface(panelID string, key models.QueryKey) repository.Surface {
	if f.hub == nil {
		return NewCanvas(key)
	}
	c := NewCanvas(key, WithObserver(func(op Op) { f.hub.Observe(panelID, op) }))
	f.hub.Attach(panelID, c)
	return c
}
