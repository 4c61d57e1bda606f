package chart

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"CryptoAgent/internal/domain/models"
)

func nums(vs ...float64) []models.Number {
	out := make([]models.Number, len(vs))
	for i, v := range vs {
		out[i] = models.Number(v)
	}
	return out
}

func pairs(vs ...[2]float64) [][]models.Number {
	out := make([][]models.Number, len(vs))
	for i, v := range vs {
		out[i] = nums(v[0], v[1])
	}
	return out
}

func TestNormalizeTimestamp(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1e12, 1e12},
		{1e12 + 1, 1e9},
		{1_700_000_000_123, 1_700_000_000},
		{1_700_000_000, 1_700_000_000},
		{0, 0},
		{-5, -5},
	}
	for _, c := range cases {
		if got := NormalizeTimestamp(c.in); got != c.want {
			t.Fatalf("NormalizeTimestamp(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeTimestampIdempotentForSeconds(t *testing.T) {
	for _, v := range []float64{1, 1_600_000_000, 1_700_000_000, 1e12} {
		once := NormalizeTimestamp(v)
		if NormalizeTimestamp(once) != once {
			t.Fatalf("not idempotent for %v", v)
		}
	}
}

func TestBuildMarkersMergesAndSorts(t *testing.T) {
	markers, dropped := BuildMarkers(nums(5, 1, 3), nums(4, 2))
	if dropped != 0 {
		t.Fatalf("unexpected dropped %d", dropped)
	}
	wantTimes := []models.Timestamp{1, 2, 3, 4, 5}
	wantDirs := []models.Direction{
		models.DirectionBuy, models.DirectionSell, models.DirectionBuy,
		models.DirectionSell, models.DirectionBuy,
	}
	if len(markers) != len(wantTimes) {
		t.Fatalf("expected %d markers, got %d", len(wantTimes), len(markers))
	}
	for i, m := range markers {
		if m.Time != wantTimes[i] || m.Direction != wantDirs[i] {
			t.Fatalf("marker %d = %+v", i, m)
		}
	}
	if markers[0].Shape != models.ShapeArrowUp || markers[0].Position != models.PositionBelowBar || markers[0].Text != "Buy" {
		t.Fatalf("unexpected buy marker %+v", markers[0])
	}
	if markers[1].Shape != models.ShapeArrowDown || markers[1].Position != models.PositionAboveBar || markers[1].Text != "Sell" {
		t.Fatalf("unexpected sell marker %+v", markers[1])
	}
}

func TestBuildMarkersNormalizesAndDrops(t *testing.T) {
	markers, dropped := BuildMarkers(nums(1_700_000_000_000, math.NaN()), nums(0))
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if len(markers) != 1 || markers[0].Time != 1_700_000_000 {
		t.Fatalf("unexpected markers %+v", markers)
	}
}

func TestBuildMarkersTieKeepsBuyFirst(t *testing.T) {
	markers, _ := BuildMarkers(nums(7), nums(7))
	if markers[0].Direction != models.DirectionBuy || markers[1].Direction != models.DirectionSell {
		t.Fatalf("expected buy before sell on tie, got %+v", markers)
	}
}

func TestValidFlag(t *testing.T) {
	cases := []struct {
		name string
		f    models.FlagShape
		want bool
	}{
		{"ok", models.FlagShape{Points: nums(10, 1, 20, 2)}, true},
		{"nan time", models.FlagShape{Points: nums(math.NaN(), 10, 20, 30)}, false},
		{"nan price", models.FlagShape{Points: nums(10, math.NaN(), 20, 30)}, false},
		{"short", models.FlagShape{Points: nums(10, 1, 20)}, false},
		{"long", models.FlagShape{Points: nums(10, 1, 20, 2, 30)}, false},
		{"zero start", models.FlagShape{Points: nums(0, 1, 20, 2)}, false},
		{"negative end", models.FlagShape{Points: nums(10, 1, -20, 2)}, false},
		{"empty", models.FlagShape{}, false},
	}
	for _, c := range cases {
		if got := ValidFlag(c.f); got != c.want {
			t.Fatalf("%s: ValidFlag = %v, want %v", c.name, got, c.want)
		}
	}
}

func validHS() models.HeadShouldersShape {
	return models.HeadShouldersShape{
		Points: pairs(
			[2]float64{10, 1}, [2]float64{11, 2}, [2]float64{12, 1.5}, [2]float64{13, 3},
			[2]float64{14, 1.5}, [2]float64{15, 2}, [2]float64{16, 1},
		),
		Neckline: pairs([2]float64{12, 1.5}, [2]float64{14, 1.5}),
		Type:     "head_shoulders",
	}
}

func TestValidHeadShoulders(t *testing.T) {
	if !ValidHeadShoulders(validHS()) {
		t.Fatalf("expected valid")
	}

	short := validHS()
	short.Points = short.Points[:6]
	if ValidHeadShoulders(short) {
		t.Fatalf("6 points should be rejected")
	}

	neck := validHS()
	neck.Neckline = neck.Neckline[:1]
	if ValidHeadShoulders(neck) {
		t.Fatalf("1 neckline point should be rejected")
	}

	nan := validHS()
	nan.Points[3] = nums(13, math.NaN())
	if ValidHeadShoulders(nan) {
		t.Fatalf("NaN price should be rejected")
	}

	zero := validHS()
	zero.Neckline[1] = nums(0, 1.5)
	if ValidHeadShoulders(zero) {
		t.Fatalf("zero neckline time should be rejected")
	}

	triple := validHS()
	triple.Points[0] = nums(10, 1, 5)
	if ValidHeadShoulders(triple) {
		t.Fatalf("non-pair point should be rejected")
	}
}

func TestBuildOverlaysDropsMalformedAndSorts(t *testing.T) {
	hs := validHS()
	hs.Type = "inverse_head_shoulders"
	shapes := models.Shapes{
		Flag: []models.FlagShape{
			{Points: nums(math.NaN(), 10, 20, 30), Type: "bull_flag"},
			{Points: nums(1_700_000_050_000, 10, 1_700_000_060_000, 12), Type: "bear_pennant"},
			{Points: nums(5, 10, 6, 12), Type: "bull_flag"},
		},
		HS: []models.HeadShouldersShape{hs, {Type: "head_shoulders"}},
	}

	overlays, dropped := BuildOverlays(shapes)
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if len(overlays) != 3 {
		t.Fatalf("expected 3 overlays, got %d", len(overlays))
	}

	// first timestamps: 5 (bull flag), 10 (hs), 1_700_000_050 (bear pennant)
	if overlays[0].Type != "bull_flag" || overlays[1].Kind != models.OverlayHeadShoulders || overlays[2].Type != "bear_pennant" {
		t.Fatalf("unexpected order: %s %s %s", overlays[0].Type, overlays[1].Type, overlays[2].Type)
	}

	bull := overlays[0].Lines[0]
	if bull.Color != models.RGBA(0, 255, 0, 0.7) || bull.Width != 2 || bull.Style != models.LineSolid {
		t.Fatalf("unexpected bull styling %+v", bull)
	}
	bear := overlays[2].Lines[0]
	if bear.Color != models.RGBA(255, 0, 0, 0.7) {
		t.Fatalf("unexpected bear color %v", bear.Color.Hex())
	}
	if bear.Points[0].Time != 1_700_000_050 || bear.Points[1].Time != 1_700_000_060 {
		t.Fatalf("flag vertices not normalized: %+v", bear.Points)
	}

	hsLines := overlays[1].Lines
	if len(hsLines) != 2 {
		t.Fatalf("hs should emit pattern and neckline, got %d", len(hsLines))
	}
	if hsLines[0].Color != models.RGBA(170, 255, 170, 1) || len(hsLines[0].Points) != 7 {
		t.Fatalf("unexpected inverse hs line %+v", hsLines[0])
	}
	if hsLines[1].Kind != models.OverlayNeckline || hsLines[1].Style != models.LineDashed || hsLines[1].Width != 1 {
		t.Fatalf("unexpected neckline %+v", hsLines[1])
	}
}

func TestBuildPriceLines(t *testing.T) {
	fib := map[string][]models.FibPoint{
		"0.618": {{Time: 1, Value: models.Number(math.NaN())}, {Time: 2, Value: 61.8}},
		"0.5":   {{Time: 1, Value: 50}},
		"1":     {},
	}
	lines, dropped := BuildPriceLines(nums(100, math.NaN(), 90), fib)
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	sr := lines[0]
	if sr.Title != "SR" || sr.Width != 1 || !sr.AxisLabelVisible || sr.Color.Hex() != "#0000ff57" {
		t.Fatalf("unexpected SR line %+v", sr)
	}
	if lines[2].Title != "Fib 0.5" || lines[2].Price != 50 {
		t.Fatalf("unexpected fib line %+v", lines[2])
	}
	if lines[3].Title != "Fib 0.618" || lines[3].Price != 61.8 {
		t.Fatalf("unexpected fib line %+v", lines[3])
	}
}

func TestBuildCandles(t *testing.T) {
	raw := []models.RawCandle{
		{Timestamp: 1_700_000_000_000, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Timestamp: 1_700_000_060_000, Open: models.Number(math.NaN()), High: 2, Low: 0.5, Close: 1.5},
		{Timestamp: 1_700_000_120_000, Open: 1.5, High: 3, Low: 1, Close: 2},
	}
	candles, dropped, err := BuildCandles(raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if dropped != 1 || len(candles) != 2 {
		t.Fatalf("unexpected result %d dropped, %d candles", dropped, len(candles))
	}
	if candles[0].Time != 1_700_000_000 || candles[1].Time != 1_700_000_120 {
		t.Fatalf("times not normalized: %+v", candles)
	}

	_, _, err = BuildCandles([]models.RawCandle{
		{Timestamp: 20, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: 10, Open: 1, High: 1, Low: 1, Close: 1},
	})
	if !errors.Is(err, ErrUnorderedCandles) {
		t.Fatalf("expected unordered error, got %v", err)
	}
}

func TestLatestCandle(t *testing.T) {
	if _, ok := LatestCandle(&models.Analysis{}); ok {
		t.Fatalf("empty analysis should have no latest candle")
	}
	a := &models.Analysis{Candles: []models.RawCandle{
		{Timestamp: 10, Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: 20, Open: 2, High: 2, Low: 2, Close: 2},
		{Timestamp: 30, Open: models.Number(math.NaN())},
	}}
	c, ok := LatestCandle(a)
	if !ok || c.Time != 20 {
		t.Fatalf("expected bar at 20, got %+v %v", c, ok)
	}
}

func TestBuildFromWireTolerantOfMissingShapes(t *testing.T) {
	body := `{
		"candles": [
			{"timestamp": 1700000000000, "open": 1, "high": 2, "low": 0.5, "close": 1.5},
			{"timestamp": 1700000060000, "open": 1.5, "high": 2.5, "low": 1, "close": 2}
		],
		"buy": [1700000000000],
		"sell": null
	}`
	var a models.Analysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := Build(&a)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(p.Candles) != 2 || len(p.Markers) != 1 || len(p.PriceLines) != 0 || len(p.Lines) != 0 {
		t.Fatalf("unexpected plan %+v", p)
	}
	if c, _ := p.LastClose(); c != 2 {
		t.Fatalf("unexpected last close %v", c)
	}
}

func TestBuildFromWireIsolatesBadOverlay(t *testing.T) {
	body := `{
		"candles": [],
		"buy": [], "sell": [],
		"shapes": {
			"sr": [100.5, "oops"],
			"flag": [
				{"points": [null, 10, 20, 30], "type": "bull_flag"},
				{"points": [10, 1, 20, 2], "type": "bear_flag"},
				"garbage"
			],
			"hs": {"not": "a list"},
			"fibonacci": []
		}
	}`
	var a models.Analysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := Build(&a)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(p.Lines) != 1 || p.Lines[0].Pattern != "bear_flag" {
		t.Fatalf("expected only the well-formed flag, got %+v", p.Lines)
	}
	if p.Dropped.Overlays != 2 {
		t.Fatalf("expected 2 dropped overlays, got %d", p.Dropped.Overlays)
	}
	if len(p.PriceLines) != 1 || p.Dropped.Levels != 1 {
		t.Fatalf("unexpected levels %+v dropped=%d", p.PriceLines, p.Dropped.Levels)
	}
	if len(p.Malformed) != 1 || p.Malformed[0] != "hs" {
		t.Fatalf("expected hs reported malformed, got %v", p.Malformed)
	}
}
