package normals

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// indexedPoint is a kdtree.Comparable that remembers its input index, since
// building the tree reorders the backing slice.
type indexedPoint struct {
	pos r3.Vec
	idx int
}

func (p indexedPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.pos.X
	case 1:
		return p.pos.Y
	default:
		return p.pos.Z
	}
}

// Compare returns the signed distance of p from the plane through c
// perpendicular to dimension d.
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(indexedPoint).coord(d)
}

// Dims returns the number of dimensions.
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.pos, c.(indexedPoint).pos))
}

// pointList implements kdtree.Interface.
type pointList []indexedPoint

func (l pointList) Index(i int) kdtree.Comparable { return l[i] }
func (l pointList) Len() int                      { return len(l) }
func (l pointList) Slice(start, end int) kdtree.Interface {
	return l[start:end]
}
func (l pointList) Pivot(d kdtree.Dim) int {
	p := plane{points: l, dim: d}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// plane sorts a pointList along one dimension.
type plane struct {
	points pointList
	dim    kdtree.Dim
}

func (p plane) Less(i, j int) bool { return p.points[i].coord(p.dim) < p.points[j].coord(p.dim) }
func (p plane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane) Len() int           { return len(p.points) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], dim: p.dim}
}

// NeighborIndex answers k-nearest-neighbour queries over a fixed point set.
type NeighborIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewNeighborIndex builds a k-d tree over pts.
func NewNeighborIndex(pts []r3.Vec) *NeighborIndex {
	list := make(pointList, len(pts))
	for i, p := range pts {
		list[i] = indexedPoint{pos: p, idx: i}
	}
	return &NeighborIndex{tree: kdtree.New(list, false), n: len(pts)}
}

// Nearest returns the indices of the k points closest to q, nearest first.
// A point of the set queried at its own position is included in its own
// result. Fewer than k indices are returned when the set is smaller.
func (ni *NeighborIndex) Nearest(q r3.Vec, k int) []int {
	if k > ni.n {
		k = ni.n
	}
	if k <= 0 {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	ni.tree.NearestSet(keep, indexedPoint{pos: q, idx: -1})

	// The keeper is a max-heap on distance; drain it into ascending order.
	found := make([]kdtree.ComparableDist, 0, len(keep.Heap))
	for _, cd := range keep.Heap {
		if cd.Comparable != nil {
			found = append(found, cd)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Dist < found[j].Dist })

	out := make([]int, len(found))
	for i, cd := range found {
		out[i] = cd.Comparable.(indexedPoint).idx
	}
	return out
}
