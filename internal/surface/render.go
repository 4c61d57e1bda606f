package surface

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"CryptoAgent/internal/domain/models"
	"CryptoAgent/pkg/util"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrEmptyScene is returned when a scene has no candles to draw.
var ErrEmptyScene = errors.New("scene has no candles")

// Format is an image encoding.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// ParseFormat accepts png or svg, case-insensitive.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPNG:
		return FormatPNG, nil
	case FormatSVG:
		return FormatSVG, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// RenderOptions controls image output.
type RenderOptions struct {
	Format Format
	Width  int
	Height int
}

const (
	defaultWidth  = 1200
	defaultHeight = 600
	timeLayout    = "01-02 15:04"
)

var (
	upColor     = drawing.Color{R: 0x26, G: 0xa6, B: 0x9a, A: 0xff}
	downColor   = drawing.Color{R: 0xef, G: 0x53, B: 0x50, A: 0xff}
	dashPattern = []float64{6, 4}
)

// Render draws the scene as an image: candles, price lines, overlays and markers.
func Render(w io.Writer, scene models.Scene, opts RenderOptions) error {
	if len(scene.Candles) == 0 {
		return ErrEmptyScene
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}

	barWidth := barSeconds(scene)
	xmin, xmax, ymin, ymax := bounds(scene, barWidth)

	series := []chart.Series{
		candleSeries{candles: scene.Candles, barSeconds: barWidth},
	}
	for _, pl := range scene.PriceLines {
		series = append(series, chart.ContinuousSeries{
			Name:    pl.Title,
			XValues: []float64{xmin, xmax},
			YValues: []float64{pl.Price, pl.Price},
			Style:   lineStyle(pl.Color, pl.Width, false),
		})
	}
	for _, ls := range scene.Lines {
		xs := make([]float64, len(ls.Points))
		ys := make([]float64, len(ls.Points))
		for i, p := range ls.Points {
			xs[i] = float64(p.Time)
			ys[i] = p.Value
		}
		series = append(series, chart.ContinuousSeries{
			Name:    ls.Pattern,
			XValues: xs,
			YValues: ys,
			Style:   lineStyle(ls.Color, ls.Width, ls.Style == models.LineDashed),
		})
	}
	if len(scene.Markers) > 0 {
		series = append(series, markerSeries{markers: scene.Markers, candles: scene.Candles})
	}

	graph := chart.Chart{
		Title:  scene.Key.String(),
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Range:          &chart.ContinuousRange{Min: xmin, Max: xmax},
			ValueFormatter: formatUnix,
		},
		YAxis: chart.YAxis{
			Range:          &chart.ContinuousRange{Min: ymin, Max: ymax},
			ValueFormatter: chart.FloatValueFormatter,
		},
		Series: series,
	}

	provider := chart.PNG
	if opts.Format == FormatSVG {
		provider = chart.SVG
	}
	if err := graph.Render(provider, w); err != nil {
		return fmt.Errorf("render %s: %w", opts.Format, err)
	}
	return nil
}

func formatUnix(v interface{}) string {
	if f, ok := v.(float64); ok {
		return time.Unix(int64(f), 0).UTC().Format(timeLayout)
	}
	return ""
}

func lineStyle(c models.Color, width int, dashed bool) chart.Style {
	if width <= 0 {
		width = 1
	}
	s := chart.Style{
		StrokeColor: drawing.Color{R: c.R, G: c.G, B: c.B, A: c.A},
		StrokeWidth: float64(width),
	}
	if dashed {
		s.StrokeDashArray = dashPattern
	}
	return s
}

// barSeconds is the bar duration from the timeframe, or the smallest candle gap.
func barSeconds(scene models.Scene) float64 {
	if d, ok := util.TimeframeDuration(scene.Key.Timeframe); ok {
		return d.Seconds()
	}
	gap := math.Inf(1)
	for i := 1; i < len(scene.Candles); i++ {
		gap = math.Min(gap, float64(scene.Candles[i].Time-scene.Candles[i-1].Time))
	}
	if math.IsInf(gap, 1) || gap <= 0 {
		return 60
	}
	return gap
}

func bounds(scene models.Scene, bar float64) (xmin, xmax, ymin, ymax float64) {
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	seeX := func(x float64) {
		xmin, xmax = math.Min(xmin, x), math.Max(xmax, x)
	}
	seeY := func(y float64) {
		ymin, ymax = math.Min(ymin, y), math.Max(ymax, y)
	}

	for _, c := range scene.Candles {
		seeX(float64(c.Time))
		seeY(c.Low)
		seeY(c.High)
	}
	for _, pl := range scene.PriceLines {
		seeY(pl.Price)
	}
	for _, ls := range scene.Lines {
		for _, p := range ls.Points {
			seeX(float64(p.Time))
			seeY(p.Value)
		}
	}

	xmin -= bar
	xmax += bar
	pad := (ymax - ymin) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(ymax)*0.01, 1)
	}
	return xmin, xmax, ymin - pad, ymax + pad
}

// candleSeries draws OHLC bars.
type candleSeries struct {
	candles    []models.Candle
	barSeconds float64
}

func (s candleSeries) GetName() string           { return "candles" }
func (s candleSeries) GetYAxis() chart.YAxisType { return chart.YAxisPrimary }
func (s candleSeries) GetStyle() chart.Style     { return chart.Style{} }
func (s candleSeries) Len() int                  { return len(s.candles) }
func (s candleSeries) GetBoundedValues(i int) (float64, float64, float64) {
	c := s.candles[i]
	return float64(c.Time), c.Low, c.High
}

func (s candleSeries) Validate() error {
	if len(s.candles) == 0 {
		return ErrEmptyScene
	}
	return nil
}

func (s candleSeries) Render(r chart.Renderer, box chart.Box, xr, yr chart.Range, _ chart.Style) {
	half := (xr.Translate(s.barSeconds) - xr.Translate(0)) * 35 / 100
	if half < 1 {
		half = 1
	}
	for _, c := range s.candles {
		color := upColor
		if c.Close < c.Open {
			color = downColor
		}
		x := box.Left + xr.Translate(float64(c.Time))
		r.SetStrokeColor(color)
		r.SetFillColor(color)
		r.SetStrokeWidth(1)

		r.MoveTo(x, box.Bottom-yr.Translate(c.High))
		r.LineTo(x, box.Bottom-yr.Translate(c.Low))
		r.Stroke()

		top := box.Bottom - yr.Translate(math.Max(c.Open, c.Close))
		bottom := box.Bottom - yr.Translate(math.Min(c.Open, c.Close))
		if bottom-top < 1 {
			bottom = top + 1
		}
		r.MoveTo(x-half, top)
		r.LineTo(x+half, top)
		r.LineTo(x+half, bottom)
		r.LineTo(x-half, bottom)
		r.LineTo(x-half, top)
		r.Close()
		r.FillStroke()
	}
}

// markerSeries draws buy arrows under the bar low and sell arrows over the bar high.
type markerSeries struct {
	markers []models.SignalMarker
	candles []models.Candle
}

func (s markerSeries) GetName() string           { return "signals" }
func (s markerSeries) GetYAxis() chart.YAxisType { return chart.YAxisPrimary }
func (s markerSeries) GetStyle() chart.Style     { return chart.Style{} }
func (s markerSeries) Validate() error           { return nil }

func (s markerSeries) Render(r chart.Renderer, box chart.Box, xr, yr chart.Range, _ chart.Style) {
	const size = 6
	for _, m := range s.markers {
		bar, ok := nearestCandle(s.candles, m.Time)
		if !ok {
			continue
		}
		x := box.Left + xr.Translate(float64(m.Time))
		color := drawing.Color{R: m.Color.R, G: m.Color.G, B: m.Color.B, A: m.Color.A}
		r.SetFillColor(color)
		r.SetStrokeColor(color)
		r.SetStrokeWidth(1)

		if m.Direction == models.DirectionBuy {
			tip := box.Bottom - yr.Translate(bar.Low) + size
			r.MoveTo(x, tip)
			r.LineTo(x-size, tip+size*2)
			r.LineTo(x+size, tip+size*2)
		} else {
			tip := box.Bottom - yr.Translate(bar.High) - size
			r.MoveTo(x, tip)
			r.LineTo(x-size, tip-size*2)
			r.LineTo(x+size, tip-size*2)
		}
		r.Close()
		r.FillStroke()
	}
}

func nearestCandle(candles []models.Candle, t models.Timestamp) (models.Candle, bool) {
	if len(candles) == 0 {
		return models.Candle{}, false
	}
	i := sort.Search(len(candles), func(i int) bool { return candles[i].Time >= t })
	switch {
	case i == len(candles):
		return candles[i-1], true
	case i == 0 || candles[i].Time == t:
		return candles[i], true
	case t-candles[i-1].Time <= candles[i].Time-t:
		return candles[i-1], true
	default:
		return candles[i], true
	}
}
