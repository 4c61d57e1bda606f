package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Analysis is the decoded response of the analysis service.
// Note: fields stay in wire units; time normalization happens in the chart pipeline.
type Analysis struct {
	Candles []RawCandle `json:"candles"`
	Buy     []Number    `json:"buy"`
	Sell    []Number    `json:"sell"`
	Shapes  Shapes      `json:"shapes"`
}

// RawCandle is a candle as sent by the analysis service (timestamp in ms or s).
type RawCandle struct {
	Timestamp Number `json:"timestamp"`
	Open      Number `json:"open"`
	High      Number `json:"high"`
	Low       Number `json:"low"`
	Close     Number `json:"close"`
}

// Shapes groups the pattern annotations of a response.
type Shapes struct {
	SR        []Number              `json:"sr"`
	Flag      []FlagShape           `json:"flag"`
	HS        []HeadShouldersShape  `json:"hs"`
	Fibonacci map[string][]FibPoint `json:"fibonacci"`
	Malformed []string              `json:"-"`
}

// FlagShape is a flag/pennant candidate: points = [t1, p1, t2, p2].
type FlagShape struct {
	Points []Number `json:"points"`
	Type   string   `json:"type"`
}

// HeadShouldersShape is a head-and-shoulders candidate with its neckline.
type HeadShouldersShape struct {
	Points   [][]Number `json:"points"`
	Neckline [][]Number `json:"neckline"`
	Type     string     `json:"type"`
}

// FibPoint is one vertex of a fibonacci level line.
type FibPoint struct {
	Time  Number `json:"time"`
	Value Number `json:"value"`
}

// UnmarshalJSON decodes every shape group independently, so a malformed group
// or element degrades to empty/invalid instead of failing the whole response.
func (s *Shapes) UnmarshalJSON(b []byte) error {
	*s = Shapes{}
	if isNull(b) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		s.Malformed = append(s.Malformed, "shapes")
		return nil
	}

	if v, ok := raw["sr"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &s.SR); err != nil {
			s.SR = nil
			s.Malformed = append(s.Malformed, "sr")
		}
	}

	if v, ok := raw["flag"]; ok && !isNull(v) {
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			s.Malformed = append(s.Malformed, "flag")
		}
		s.Flag = make([]FlagShape, 0, len(items))
		for _, it := range items {
			var f FlagShape
			if err := json.Unmarshal(it, &f); err != nil {
				f = FlagShape{}
			}
			s.Flag = append(s.Flag, f)
		}
	}

	if v, ok := raw["hs"]; ok && !isNull(v) {
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			s.Malformed = append(s.Malformed, "hs")
		}
		s.HS = make([]HeadShouldersShape, 0, len(items))
		for _, it := range items {
			var h HeadShouldersShape
			if err := json.Unmarshal(it, &h); err != nil {
				h = HeadShouldersShape{}
			}
			s.HS = append(s.HS, h)
		}
	}

	// The service sends [] when fibonacci is disabled and an object keyed by level otherwise.
	if v, ok := raw["fibonacci"]; ok && !isNull(v) && bytes.HasPrefix(bytes.TrimSpace(v), []byte("{")) {
		if err := json.Unmarshal(v, &s.Fibonacci); err != nil {
			s.Fibonacci = nil
			s.Malformed = append(s.Malformed, "fibonacci")
		}
	}
	return nil
}

// Number is a lenient float. null, strings that do not parse and any
// non-numeric JSON value decode to NaN instead of failing.
type Number float64

// Float returns the value as float64.
func (n Number) Float() float64 { return float64(n) }

// IsNaN reports whether the value is NaN.
func (n Number) IsNaN() bool { return math.IsNaN(float64(n)) }

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || isNull(b) {
		*n = Number(math.NaN())
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = Number(math.NaN())
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			v = math.NaN()
		}
		*n = Number(v)
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		v, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			v = math.NaN()
		}
		*n = Number(v)
		return nil
	default:
		*n = Number(math.NaN())
		return nil
	}
}

// MarshalJSON writes NaN and infinities as null.
func (n Number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
}

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
