// Package chart turns an analysis response into chart primitives: candles,
// signal markers, horizontal price lines and pattern overlay lines.
package chart

import (
	"math"

	"CryptoAgent/internal/domain/models"
)

// millisThreshold separates epoch milliseconds from epoch seconds.
// Values strictly above it are milliseconds.
const millisThreshold = 1e12

// NormalizeTimestamp converts an epoch value in ms or s to seconds.
// t > 1e12 is floor-divided by 1000; anything else is returned unchanged.
func NormalizeTimestamp(t float64) float64 {
	if t > millisThreshold {
		return math.Floor(t / 1000)
	}
	return t
}

func toTimestamp(n models.Number) models.Timestamp {
	return models.Timestamp(NormalizeTimestamp(n.Float()))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validTime reports whether a raw time field is usable: a finite, strictly positive number.
func validTime(n models.Number) bool {
	v := n.Float()
	return finite(v) && v > 0
}
