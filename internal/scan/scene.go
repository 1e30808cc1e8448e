package scan

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMisaligned reports per-vertex arrays of different lengths.
var ErrMisaligned = errors.New("per-vertex arrays are not aligned")

// Scene is the labeled point cloud of one scan. Boxes are derived from the
// full geometry and are never subsampled together with the vertices.
type Scene struct {
	Name           string
	Vertices       []Vertex
	SemanticLabels []int
	InstanceLabels []int
	Boxes          []Box

	// InstanceClasses maps every instance ID that owns at least one vertex
	// to its semantic class.
	InstanceClasses map[int]int
}

// Len returns the number of vertices.
func (s *Scene) Len() int { return len(s.Vertices) }

// Validate checks that the per-vertex arrays are aligned.
func (s *Scene) Validate() error {
	n := len(s.Vertices)
	if len(s.SemanticLabels) != n || len(s.InstanceLabels) != n {
		return fmt.Errorf("%w: vertices=%d semantic=%d instance=%d",
			ErrMisaligned, n, len(s.SemanticLabels), len(s.InstanceLabels))
	}
	return nil
}

// Positions returns the vertex positions in index order.
func (s *Scene) Positions() []r3.Vec {
	out := make([]r3.Vec, len(s.Vertices))
	for i, v := range s.Vertices {
		out[i] = v.Pos
	}
	return out
}

// Select keeps the vertices at the given indices, in the order given, and
// applies the same selection to both label arrays. Boxes are untouched.
func (s *Scene) Select(idx []int) {
	verts := make([]Vertex, len(idx))
	sem := make([]int, len(idx))
	ins := make([]int, len(idx))
	for j, i := range idx {
		verts[j] = s.Vertices[i]
		sem[j] = s.SemanticLabels[i]
		ins[j] = s.InstanceLabels[i]
	}
	s.Vertices, s.SemanticLabels, s.InstanceLabels = verts, sem, ins
}

// Keep retains the vertices for which keep returns true.
func (s *Scene) Keep(keep func(i int) bool) {
	idx := make([]int, 0, len(s.Vertices))
	for i := range s.Vertices {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	if len(idx) == len(s.Vertices) {
		return
	}
	s.Select(idx)
}

// InstanceIDs returns the distinct nonzero instance labels, ascending.
func (s *Scene) InstanceIDs() []int {
	seen := make(map[int]bool)
	for _, id := range s.InstanceLabels {
		if id != 0 {
			seen[id] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
