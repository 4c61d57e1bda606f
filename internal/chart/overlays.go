package chart

import (
	"sort"
	"strings"

	"CryptoAgent/internal/domain/models"
)

const (
	flagPointCount      = 4 // t1, p1, t2, p2
	hsPointCount        = 7
	hsNecklineCount     = 2
	headShouldersType   = "head_shoulders"
	overlayPatternWidth = 2
)

var (
	bullFlagColor  = models.RGBA(0, 255, 0, 0.7)
	bearFlagColor  = models.RGBA(255, 0, 0, 0.7)
	hsColor        = models.RGBA(255, 152, 152, 1)
	inverseHSColor = models.RGBA(170, 255, 170, 1)
	necklineColor  = models.RGBA(255, 255, 0, 0.7)
)

// Overlay is an accepted pattern ready to be drawn. Lines holds one series for a flag
// and two (pattern, neckline) for a head-and-shoulders.
type Overlay struct {
	Kind  models.OverlayKind
	Type  string
	First models.Timestamp
	Lines []models.LineSeries
}

// ValidFlag reports whether a flag candidate has exactly four finite values
// and strictly positive times.
func ValidFlag(f models.FlagShape) bool {
	if len(f.Points) != flagPointCount {
		return false
	}
	for _, v := range f.Points {
		if !finite(v.Float()) {
			return false
		}
	}
	return validTime(f.Points[0]) && validTime(f.Points[2])
}

// ValidHeadShoulders reports whether a candidate has seven pattern points and two
// neckline points, every one a finite [time, price] pair with a positive time.
func ValidHeadShoulders(h models.HeadShouldersShape) bool {
	if len(h.Points) != hsPointCount || len(h.Neckline) != hsNecklineCount {
		return false
	}
	return validPairs(h.Points) && validPairs(h.Neckline)
}

func validPairs(points [][]models.Number) bool {
	for _, p := range points {
		if len(p) != 2 {
			return false
		}
		if !validTime(p[0]) || !finite(p[1].Float()) {
			return false
		}
	}
	return true
}

// BuildOverlays validates every candidate, drops the malformed ones and returns the rest
// ordered by their first normalized timestamp. The sort is stable: on equal times flags
// come before head-and-shoulders and input order is kept.
func BuildOverlays(s models.Shapes) ([]Overlay, int) {
	out := make([]Overlay, 0, len(s.Flag)+len(s.HS))
	dropped := 0

	for _, f := range s.Flag {
		if !ValidFlag(f) {
			dropped++
			continue
		}
		out = append(out, flagOverlay(f))
	}
	for _, h := range s.HS {
		if !ValidHeadShoulders(h) {
			dropped++
			continue
		}
		out = append(out, hsOverlay(h))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].First < out[j].First })
	return out, dropped
}

func flagOverlay(f models.FlagShape) Overlay {
	color := bearFlagColor
	if strings.Contains(f.Type, "bull") {
		color = bullFlagColor
	}
	first := toTimestamp(f.Points[0])
	return Overlay{
		Kind:  models.OverlayFlag,
		Type:  f.Type,
		First: first,
		Lines: []models.LineSeries{{
			Kind:    models.OverlayFlag,
			Pattern: f.Type,
			Color:   color,
			Width:   overlayPatternWidth,
			Style:   models.LineSolid,
			Points: []models.LinePoint{
				{Time: first, Value: f.Points[1].Float()},
				{Time: toTimestamp(f.Points[2]), Value: f.Points[3].Float()},
			},
		}},
	}
}

func hsOverlay(h models.HeadShouldersShape) Overlay {
	color := inverseHSColor
	if h.Type == headShouldersType {
		color = hsColor
	}
	pattern := linePoints(h.Points)
	return Overlay{
		Kind:  models.OverlayHeadShoulders,
		Type:  h.Type,
		First: pattern[0].Time,
		Lines: []models.LineSeries{
			{
				Kind:    models.OverlayHeadShoulders,
				Pattern: h.Type,
				Color:   color,
				Width:   overlayPatternWidth,
				Style:   models.LineSolid,
				Points:  pattern,
			},
			{
				Kind:    models.OverlayNeckline,
				Pattern: h.Type,
				Color:   necklineColor,
				Width:   1,
				Style:   models.LineDashed,
				Points:  linePoints(h.Neckline),
			},
		},
	}
}

func linePoints(points [][]models.Number) []models.LinePoint {
	out := make([]models.LinePoint, len(points))
	for i, p := range points {
		out[i] = models.LinePoint{Time: toTimestamp(p[0]), Value: p[1].Float()}
	}
	return out
}
