package chart

import (
	"errors"
	"fmt"

	"CryptoAgent/internal/domain/models"
)

// ErrUnorderedCandles is returned when a candle series is not strictly ascending in time.
var ErrUnorderedCandles = errors.New("candles not strictly ascending")

// BuildCandles normalizes raw candles. Bars with a non-positive time or a non-finite
// OHLC value are skipped and counted.
func BuildCandles(raw []models.RawCandle) ([]models.Candle, int, error) {
	out := make([]models.Candle, 0, len(raw))
	dropped := 0
	for _, rc := range raw {
		c, ok := candleFromRaw(rc)
		if !ok {
			dropped++
			continue
		}
		if n := len(out); n > 0 && c.Time <= out[n-1].Time {
			return nil, dropped, fmt.Errorf("%w: bar %d at %d after %d", ErrUnorderedCandles, n, c.Time, out[n-1].Time)
		}
		out = append(out, c)
	}
	return out, dropped, nil
}

// LatestCandle returns the last valid candle of a response.
func LatestCandle(a *models.Analysis) (models.Candle, bool) {
	if a == nil {
		return models.Candle{}, false
	}
	for i := len(a.Candles) - 1; i >= 0; i-- {
		if c, ok := candleFromRaw(a.Candles[i]); ok {
			return c, true
		}
	}
	return models.Candle{}, false
}

func candleFromRaw(rc models.RawCandle) (models.Candle, bool) {
	if !validTime(rc.Timestamp) {
		return models.Candle{}, false
	}
	for _, v := range []models.Number{rc.Open, rc.High, rc.Low, rc.Close} {
		if !finite(v.Float()) {
			return models.Candle{}, false
		}
	}
	return models.Candle{
		Time:  toTimestamp(rc.Timestamp),
		Open:  rc.Open.Float(),
		High:  rc.High.Float(),
		Low:   rc.Low.Float(),
		Close: rc.Close.Float(),
	}, true
}
