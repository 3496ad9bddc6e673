// Package geo groups map points into zoom-dependent clusters and translates
// map viewports into bounding boxes and zoom levels.
package geo

import (
	"fmt"
	"math"

	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/quadtree"
)

// Options tune the clustering.
type Options struct {
	Radius    float64 // cluster radius in pixels
	Extent    float64 // tile extent the radius is measured in
	MinZoom   int
	MaxZoom   int
	MinPoints int // fewest points that form a cluster
}

// DefaultOptions match the map screen.
func DefaultOptions() Options {
	return Options{Radius: 60, Extent: 512, MinZoom: 0, MaxZoom: 20, MinPoints: 3}
}

// Point is an input feature.
type Point struct {
	ID    string
	Coord orb.Point
	Props map[string]any
}

type node struct {
	x, y      float64 // projected to [0,1]
	zoom      int     // last zoom level that consumed this node
	id        int     // point index, or cluster id
	parent    int     // cluster id, -1 when none
	numPoints int
	cluster   bool
}

// Point implements orb.Pointer over the projected coordinates.
func (n *node) Point() orb.Point {
	return orb.Point{n.x, n.y}
}

var unitSquare = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}

// newTree indexes a zoom level. Projected coordinates and cluster centroids
// always lie inside the unit square, so Add cannot fail.
func newTree(nodes []*node) *quadtree.Quadtree {
	qt := quadtree.New(unitSquare)
	for _, n := range nodes {
		_ = qt.Add(n)
	}
	return qt
}

// within returns the nodes of qt no farther than r from (x, y).
func within(qt *quadtree.Quadtree, buf []orb.Pointer, x, y, r float64) ([]*node, []orb.Pointer) {
	buf = qt.InBound(buf[:0], orb.Bound{Min: orb.Point{x - r, y - r}, Max: orb.Point{x + r, y + r}})
	out := make([]*node, 0, len(buf))
	for _, ptr := range buf {
		n := ptr.(*node)
		dx, dy := n.x-x, n.y-y
		if dx*dx+dy*dy <= r*r {
			out = append(out, n)
		}
	}
	return out, buf
}

// Index is an immutable hierarchical cluster index.
type Index struct {
	opts   Options
	points []Point
	levels [][]*node // levels[z], z in [MinZoom, MaxZoom+1]
	trees  []*quadtree.Quadtree
	origin map[int]int
	nextID int
}

// NewIndex builds the index. Points with invalid coordinates are skipped.
func NewIndex(points []Point, opts Options) *Index {
	def := DefaultOptions()
	if opts.Radius <= 0 {
		opts.Radius = def.Radius
	}
	if opts.Extent <= 0 {
		opts.Extent = def.Extent
	}
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = def.MaxZoom
	}
	if opts.MinZoom < 0 || opts.MinZoom > opts.MaxZoom {
		opts.MinZoom = 0
	}
	if opts.MinPoints < 2 {
		opts.MinPoints = def.MinPoints
	}

	idx := &Index{
		opts:   opts,
		levels: make([][]*node, opts.MaxZoom+2),
		trees:  make([]*quadtree.Quadtree, opts.MaxZoom+2),
		origin: make(map[int]int),
	}
	leaves := make([]*node, 0, len(points))
	for _, p := range points {
		if !validCoord(p.Coord) {
			continue
		}
		leaves = append(leaves, &node{
			x:         lngX(p.Coord.Lon()),
			y:         latY(p.Coord.Lat()),
			zoom:      math.MaxInt,
			id:        len(idx.points),
			parent:    -1,
			numPoints: 1,
		})
		idx.points = append(idx.points, p)
	}
	idx.nextID = len(idx.points)
	idx.levels[opts.MaxZoom+1] = leaves

	for z := opts.MaxZoom; z >= opts.MinZoom; z-- {
		idx.trees[z+1] = newTree(idx.levels[z+1])
		idx.levels[z] = idx.cluster(idx.levels[z+1], idx.trees[z+1], z)
	}
	idx.trees[opts.MinZoom] = newTree(idx.levels[opts.MinZoom])
	return idx
}

// Len returns the number of indexed points.
func (idx *Index) Len() int {
	return len(idx.points)
}

func (idx *Index) cluster(prev []*node, qt *quadtree.Quadtree, z int) []*node {
	r := idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(z)))
	next := make([]*node, 0, len(prev))
	var buf []orb.Pointer

	for _, p := range prev {
		if p.zoom <= z {
			continue
		}
		p.zoom = z

		var neighbors []*node
		neighbors, buf = within(qt, buf, p.x, p.y, r)
		origin := p.numPoints
		total := origin
		for _, nb := range neighbors {
			if nb.zoom > z {
				total += nb.numPoints
			}
		}

		if total > origin && total >= idx.opts.MinPoints {
			wx := p.x * float64(origin)
			wy := p.y * float64(origin)
			id := idx.nextID
			idx.nextID++
			idx.origin[id] = z + 1
			for _, nb := range neighbors {
				if nb.zoom <= z {
					continue
				}
				nb.zoom = z
				wx += nb.x * float64(nb.numPoints)
				wy += nb.y * float64(nb.numPoints)
				nb.parent = id
			}
			p.parent = id
			next = append(next, &node{
				x:         wx / float64(total),
				y:         wy / float64(total),
				zoom:      math.MaxInt,
				id:        id,
				parent:    -1,
				numPoints: total,
				cluster:   true,
			})
			continue
		}

		next = append(next, p)
		if total > 1 {
			for _, nb := range neighbors {
				if nb.zoom <= z {
					continue
				}
				nb.zoom = z
				next = append(next, nb)
			}
		}
	}
	return next
}

func (idx *Index) limitZoom(z int) int {
	return max(idx.opts.MinZoom, min(z, idx.opts.MaxZoom+1))
}

// Clusters returns the clusters and points inside b at zoom. Bounds crossing
// the antimeridian are split in two.
func (idx *Index) Clusters(b orb.Bound, zoom int) []*geojson.Feature {
	minLng := math.Mod(math.Mod(b.Min.Lon()+180, 360)+360, 360) - 180
	minLat := math.Max(-90, math.Min(90, b.Min.Lat()))
	maxLng := 180.0
	if b.Max.Lon() != 180 {
		maxLng = math.Mod(math.Mod(b.Max.Lon()+180, 360)+360, 360) - 180
	}
	maxLat := math.Max(-90, math.Min(90, b.Max.Lat()))

	if b.Max.Lon()-b.Min.Lon() >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		east := idx.Clusters(orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{180, maxLat}}, zoom)
		west := idx.Clusters(orb.Bound{Min: orb.Point{-180, minLat}, Max: orb.Point{maxLng, maxLat}}, zoom)
		return append(east, west...)
	}

	x0, x1 := lngX(minLng), lngX(maxLng)
	y0, y1 := latY(maxLat), latY(minLat)
	found := idx.trees[idx.limitZoom(zoom)].InBound(nil, orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}})
	out := make([]*geojson.Feature, 0, len(found))
	for _, ptr := range found {
		out = append(out, idx.feature(ptr.(*node)))
	}
	return out
}

// Children returns the direct children of a cluster.
func (idx *Index) Children(clusterID int) ([]*geojson.Feature, error) {
	nodes, err := idx.children(clusterID)
	if err != nil {
		return nil, err
	}
	out := make([]*geojson.Feature, len(nodes))
	for i, n := range nodes {
		out[i] = idx.feature(n)
	}
	return out, nil
}

func (idx *Index) children(clusterID int) ([]*node, error) {
	oz, ok := idx.origin[clusterID]
	if !ok {
		return nil, fmt.Errorf("cluster %d: %w", clusterID, model.ErrNotFound)
	}
	var out []*node
	for _, n := range idx.levels[oz] {
		if n.parent == clusterID {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cluster %d: %w", clusterID, model.ErrNotFound)
	}
	return out, nil
}

// Leaves returns up to limit points of a cluster, skipping offset.
func (idx *Index) Leaves(clusterID, limit, offset int) ([]Point, error) {
	var out []Point
	skipped := 0
	var walk func(id int) error
	walk = func(id int) error {
		kids, err := idx.children(id)
		if err != nil {
			return err
		}
		for _, k := range kids {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			if k.cluster {
				if skipped+k.numPoints <= offset {
					skipped += k.numPoints
					continue
				}
				if err := walk(k.id); err != nil {
					return err
				}
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, idx.points[k.id])
		}
		return nil
	}
	if err := walk(clusterID); err != nil {
		return nil, err
	}
	return out, nil
}

// ExpansionZoom returns the zoom at which a cluster breaks apart.
func (idx *Index) ExpansionZoom(clusterID int) (int, error) {
	oz, ok := idx.origin[clusterID]
	if !ok {
		return 0, fmt.Errorf("cluster %d: %w", clusterID, model.ErrNotFound)
	}
	zoom := oz - 1
	for zoom <= idx.opts.MaxZoom {
		kids, err := idx.children(clusterID)
		if err != nil {
			return 0, err
		}
		zoom++
		if len(kids) != 1 || !kids[0].cluster {
			break
		}
		clusterID = kids[0].id
	}
	return zoom, nil
}

// Center returns the coordinate of a cluster.
func (idx *Index) Center(clusterID int) (orb.Point, error) {
	oz, ok := idx.origin[clusterID]
	if !ok {
		return orb.Point{}, fmt.Errorf("cluster %d: %w", clusterID, model.ErrNotFound)
	}
	for _, n := range idx.levels[oz-1] {
		if n.cluster && n.id == clusterID {
			return orb.Point{xLng(n.x), yLat(n.y)}, nil
		}
	}
	return orb.Point{}, fmt.Errorf("cluster %d: %w", clusterID, model.ErrNotFound)
}

func (idx *Index) feature(n *node) *geojson.Feature {
	if n.cluster {
		f := geojson.NewFeature(orb.Point{xLng(n.x), yLat(n.y)})
		f.ID = n.id
		f.Properties["cluster"] = true
		f.Properties["cluster_id"] = n.id
		f.Properties["point_count"] = n.numPoints
		f.Properties["point_count_abbreviated"] = abbreviate(n.numPoints)
		return f
	}
	p := idx.points[n.id]
	f := geojson.NewFeature(p.Coord)
	f.ID = p.ID
	for k, v := range p.Props {
		f.Properties[k] = v
	}
	f.Properties["id"] = p.ID
	return f
}

func abbreviate(n int) string {
	switch {
	case n >= 10000:
		return fmt.Sprintf("%dk", int(math.Round(float64(n)/1000)))
	case n >= 1000:
		return fmt.Sprintf("%.1fk", math.Round(float64(n)/100)/10)
	default:
		return fmt.Sprint(n)
	}
}

func validCoord(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Spherical mercator projection onto [0,1].

func lngX(lng float64) float64 {
	return lng/360 + 0.5
}

func latY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	return math.Max(0, math.Min(1, y))
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}
