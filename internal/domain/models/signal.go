package models

import (
	"fmt"
	"time"
)

// Timestamp is a unix time in seconds, already normalized from the wire format.
type Timestamp int64

// Time converts the timestamp to a time.Time in UTC.
func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0).UTC() }

// Candle represents one OHLC bar as drawn on the chart.
type Candle struct {
	Time  Timestamp `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Direction of a trading signal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// MarkerPosition places a marker relative to its bar.
type MarkerPosition string

const (
	PositionBelowBar MarkerPosition = "belowBar"
	PositionAboveBar MarkerPosition = "aboveBar"
)

// MarkerShape is the glyph used for a marker.
type MarkerShape string

const (
	ShapeArrowUp   MarkerShape = "arrowUp"
	ShapeArrowDown MarkerShape = "arrowDown"
)

// SignalMarker is a buy or sell arrow attached to a candle.
type SignalMarker struct {
	Time      Timestamp      `json:"time"`
	Direction Direction      `json:"direction"`
	Position  MarkerPosition `json:"position"`
	Shape     MarkerShape    `json:"shape"`
	Color     Color          `json:"color"`
	Text      string         `json:"text"`
}

// Color is an RGBA color.
type Color struct {
	R, G, B, A uint8
}

// RGBA builds a color from 8-bit channels and a 0..1 alpha.
func RGBA(r, g, b uint8, alpha float64) Color {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return Color{R: r, G: g, B: b, A: uint8(alpha*255 + 0.5)}
}

// Hex formats the color as #rrggbbaa.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// MarshalText encodes the color as a hex string for JSON payloads.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText parses #rrggbb or #rrggbbaa.
func (c *Color) UnmarshalText(b []byte) error {
	s := string(b)
	var r, g, bl, a uint8
	switch len(s) {
	case 7:
		if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &bl); err != nil {
			return fmt.Errorf("parse color %q: %w", s, err)
		}
		a = 0xff
	case 9:
		if _, err := fmt.Sscanf(s, "#%02x%02x%02x%02x", &r, &g, &bl, &a); err != nil {
			return fmt.Errorf("parse color %q: %w", s, err)
		}
	default:
		return fmt.Errorf("parse color %q: unsupported length", s)
	}
	*c = Color{R: r, G: g, B: bl, A: a}
	return nil
}
