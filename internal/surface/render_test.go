package surface

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"CryptoAgent/internal/domain/models"
)

func sampleScene() models.Scene {
	return models.Scene{
		Key:     key,
		Candles: []models.Candle{{Time: 3600, Open: 10, High: 12, Low: 9, Close: 11}, {Time: 7200, Open: 11, High: 13, Low: 8, Close: 9}},
		Markers: []models.SignalMarker{
			{Time: 3600, Direction: models.DirectionBuy, Color: models.RGBA(0, 128, 0, 1)},
			{Time: 7200, Direction: models.DirectionSell, Color: models.RGBA(255, 0, 0, 1)},
		},
		PriceLines: []models.PriceLine{{Price: 11.5, Title: "SR", Width: 1, Color: models.RGBA(0, 0, 255, 0.34)}},
		Lines: []models.LineSeries{{
			Kind: models.OverlayNeckline, Width: 1, Style: models.LineDashed,
			Points: []models.LinePoint{{Time: 3600, Value: 9.5}, {Time: 7200, Value: 10.5}},
		}},
	}
}

func TestRenderPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleScene(), RenderOptions{Format: FormatPNG, Width: 400, Height: 300}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("output is not a png")
	}
}

func TestRenderSVG(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleScene(), RenderOptions{Format: FormatSVG}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "<svg") {
		t.Fatalf("output is not svg")
	}
}

func TestRenderSingleCandle(t *testing.T) {
	s := models.Scene{Key: key, Candles: []models.Candle{{Time: 3600, Open: 1, High: 1, Low: 1, Close: 1}}}
	if err := Render(&bytes.Buffer{}, s, RenderOptions{Format: FormatPNG}); err != nil {
		t.Fatalf("render: %v", err)
	}
}

func TestRenderEmptyScene(t *testing.T) {
	if err := Render(&bytes.Buffer{}, models.Scene{}, RenderOptions{}); !errors.Is(err, ErrEmptyScene) {
		t.Fatalf("expected empty scene error, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("SVG"); err != nil || f != FormatSVG || f.ContentType() != "image/svg+xml" {
		t.Fatalf("unexpected %s %v", f, err)
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Fatalf("expected error for gif")
	}
}

func TestNearestCandle(t *testing.T) {
	cs := bars(100, 200, 300)
	cases := map[models.Timestamp]models.Timestamp{50: 100, 100: 100, 140: 100, 160: 200, 300: 300, 999: 300}
	for in, want := range cases {
		got, ok := nearestCandle(cs, in)
		if !ok || got.Time != want {
			t.Fatalf("nearestCandle(%d) = %d, want %d", in, got.Time, want)
		}
	}
	if _, ok := nearestCandle(nil, 1); ok {
		t.Fatalf("expected no candle")
	}
}
