package geo

import (
	"fmt"
	"math"
	"strconv"

	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/paulmach/orb"
)

const (
	minViewZoom = 1
	maxViewZoom = 20

	minExpandScale = 1.5
	maxExpandScale = 8
)

// Region is a map viewport: a center plus the spans it shows.
type Region struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitudeDelta"`
	LongitudeDelta float64 `json:"longitudeDelta"`
}

// Bound returns the bounding box of the region.
func (r Region) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.Longitude - r.LongitudeDelta/2, r.Latitude - r.LatitudeDelta/2},
		Max: orb.Point{r.Longitude + r.LongitudeDelta/2, r.Latitude + r.LatitudeDelta/2},
	}
}

// Zoom approximates the integer zoom level showing the region.
func (r Region) Zoom() int {
	if r.LongitudeDelta <= 0 {
		return maxViewZoom
	}
	z := int(math.Round(math.Log2(360 / r.LongitudeDelta)))
	return max(minViewZoom, min(z, maxViewZoom))
}

// ExpandTo zooms into a tapped cluster: the spans shrink by a bounded
// factor derived from the expansion zoom and the view recenters on center.
func (r Region) ExpandTo(center orb.Point, expansionZoom int) Region {
	scale := math.Pow(2, float64(expansionZoom-r.Zoom()))
	scale = math.Max(minExpandScale, math.Min(maxExpandScale, scale))
	return Region{
		Latitude:       center.Lat(),
		Longitude:      center.Lon(),
		LatitudeDelta:  r.LatitudeDelta / scale,
		LongitudeDelta: r.LongitudeDelta / scale,
	}
}

// PointsFromSites turns sites into index points. Each point gets an id
// built from the site id, its coordinates and its position, so two sites
// sharing a coordinate never collide.
func PointsFromSites(sites []model.Site) []Point {
	out := make([]Point, 0, len(sites))
	for i, s := range sites {
		p := orb.Point{s.Lon, s.Lat}
		if !validCoord(p) {
			continue
		}
		out = append(out, Point{
			ID:    fmt.Sprintf("pt-%s-%s-%s-%d", s.ID, fmtCoord(s.Lat), fmtCoord(s.Lon), i),
			Coord: p,
			Props: map[string]any{
				"siteId":    string(s.ID),
				"name":      string(s.Name),
				"division":  string(s.Division),
				"period":    string(s.Period),
				"subperiod": string(s.Subperiod),
				"type":      string(s.Type),
				"image":     string(s.Image),
			},
		})
	}
	return out
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
