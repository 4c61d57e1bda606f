package chart

import (
	"sort"

	"CryptoAgent/internal/domain/models"
)

var (
	buyColor  = models.RGBA(0, 128, 0, 1)
	sellColor = models.RGBA(255, 0, 0, 1)
)

// BuildMarkers merges buy and sell timestamps into one sequence sorted by time.
// The sort is stable, so on equal times buys precede sells and input order is kept.
// Unusable timestamps are skipped and counted.
func BuildMarkers(buy, sell []models.Number) ([]models.SignalMarker, int) {
	out := make([]models.SignalMarker, 0, len(buy)+len(sell))
	dropped := 0
	for _, t := range buy {
		if !validTime(t) {
			dropped++
			continue
		}
		out = append(out, BuyMarker(toTimestamp(t)))
	}
	for _, t := range sell {
		if !validTime(t) {
			dropped++
			continue
		}
		out = append(out, SellMarker(toTimestamp(t)))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, dropped
}

// BuyMarker is an up arrow below the bar.
func BuyMarker(t models.Timestamp) models.SignalMarker {
	return models.SignalMarker{
		Time:      t,
		Direction: models.DirectionBuy,
		Position:  models.PositionBelowBar,
		Shape:     models.ShapeArrowUp,
		Color:     buyColor,
		Text:      "Buy",
	}
}

// SellMarker is a down arrow above the bar.
func SellMarker(t models.Timestamp) models.SignalMarker {
	return models.SignalMarker{
		Time:      t,
		Direction: models.DirectionSell,
		Position:  models.PositionAboveBar,
		Shape:     models.ShapeArrowDown,
		Color:     sellColor,
		Text:      "Sell",
	}
}
