package chart

import (
	"sort"
	"strconv"

	"CryptoAgent/internal/domain/models"
)

var (
	srColor  = models.Color{R: 0x00, G: 0x00, B: 0xff, A: 0x57}
	fibColor = models.RGBA(255, 215, 0, 0.6)
)

// BuildPriceLines turns support/resistance prices and fibonacci levels into horizontal lines.
// Fibonacci levels are emitted in ascending level order at the first finite value of each level.
func BuildPriceLines(sr []models.Number, fib map[string][]models.FibPoint) ([]models.PriceLine, int) {
	out := make([]models.PriceLine, 0, len(sr)+len(fib))
	dropped := 0
	for _, p := range sr {
		if !finite(p.Float()) {
			dropped++
			continue
		}
		out = append(out, models.PriceLine{
			Kind:             models.PriceLineSR,
			Price:            p.Float(),
			Title:            "SR",
			Color:            srColor,
			Width:            1,
			AxisLabelVisible: true,
		})
	}

	levels := make([]string, 0, len(fib))
	for level := range fib {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levelLess(levels[i], levels[j]) })

	for _, level := range levels {
		price, ok := firstFinite(fib[level])
		if !ok {
			dropped++
			continue
		}
		out = append(out, models.PriceLine{
			Kind:             models.PriceLineFibonacci,
			Price:            price,
			Title:            "Fib " + level,
			Color:            fibColor,
			Width:            1,
			AxisLabelVisible: true,
		})
	}
	return out, dropped
}

func firstFinite(points []models.FibPoint) (float64, bool) {
	for _, p := range points {
		if v := p.Value.Float(); finite(v) {
			return v, true
		}
	}
	return 0, false
}

// levelLess orders numeric level keys numerically and anything else lexically after them.
func levelLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		if fa != fb {
			return fa < fb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
