package aggregate

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/scan"
	"github.com/banshee-data/scanprep/internal/scan/ingest"
)

// Resolver maps a raw category name to a class ID. *labelmap.Mapping
// satisfies it.
type Resolver interface {
	Resolve(raw string) (int, error)
}

// MalformedAnnotationError reports an aggregation record that does not fit
// the segmentation it refers to.
type MalformedAnnotationError struct {
	ObjectID  int
	SegmentID int
	Reason    string
}

func (e *MalformedAnnotationError) Error() string {
	if e.Reason != "" {
		return "malformed annotation: " + e.Reason
	}
	return fmt.Sprintf("malformed annotation: object %d references unknown segment %d", e.ObjectID, e.SegmentID)
}

// Instance is one resolved annotation record.
type Instance struct {
	ID       int
	Category string
	Class    int
	Segments []int
}

// Result holds the aggregated labels. SemanticLabels and InstanceLabels are
// aligned with the input vertices.
type Result struct {
	SemanticLabels []int
	InstanceLabels []int
	// Boxes has one entry per instance that owns at least one vertex,
	// ordered by instance ID.
	Boxes []scan.Box
	// InstanceClasses maps each boxed instance ID to its class.
	InstanceClasses map[int]int
	// EmptyInstances lists instance IDs that lost every vertex to later
	// records, or whose segments were empty.
	EmptyInstances []int
}

// ResolveInstances resolves every record's category and merges records that
// share an objectId. Resolution happens before any vertex is labeled so an
// unmapped category fails the scan without partial output.
func ResolveInstances(groups []ingest.SegGroup, r Resolver) ([]Instance, error) {
	byID := make(map[int]int, len(groups))
	out := make([]Instance, 0, len(groups))
	for _, g := range groups {
		class, err := r.Resolve(g.Label)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", g.ObjectID, err)
		}
		id := g.InstanceID()
		if at, ok := byID[id]; ok {
			if out[at].Category != g.Label {
				return nil, &MalformedAnnotationError{
					ObjectID: g.ObjectID,
					Reason:   fmt.Sprintf("object %d labeled both %q and %q", g.ObjectID, out[at].Category, g.Label),
				}
			}
			out[at].Segments = append(out[at].Segments, g.Segments...)
			continue
		}
		byID[id] = len(out)
		out = append(out, Instance{
			ID:       id,
			Category: g.Label,
			Class:    class,
			Segments: append([]int(nil), g.Segments...),
		})
	}
	return out, nil
}

// Aggregate labels every vertex and computes one box per instance.
// Vertices not covered by any record get semantic label unassigned and
// instance label 0. No filtering or sampling happens here.
func Aggregate(verts []scan.Vertex, seg *ingest.Segmentation, groups []ingest.SegGroup, r Resolver, unassigned int) (*Result, error) {
	if len(seg.SegIndices) != len(verts) {
		return nil, &MalformedAnnotationError{
			Reason: fmt.Sprintf("segmentation covers %d vertices, mesh has %d", len(seg.SegIndices), len(verts)),
		}
	}

	instances, err := ResolveInstances(groups, r)
	if err != nil {
		return nil, err
	}

	segVerts := seg.SegmentVertices()
	for _, inst := range instances {
		for _, s := range inst.Segments {
			if _, ok := segVerts[s]; !ok {
				return nil, &MalformedAnnotationError{ObjectID: inst.ID - 1, SegmentID: s}
			}
		}
	}

	res := &Result{
		SemanticLabels:  make([]int, len(verts)),
		InstanceLabels:  make([]int, len(verts)),
		InstanceClasses: make(map[int]int),
	}
	for i := range res.SemanticLabels {
		res.SemanticLabels[i] = unassigned
	}

	// Apply in record order: later records overwrite earlier ones.
	for _, inst := range instances {
		for _, s := range inst.Segments {
			for _, v := range segVerts[s] {
				res.SemanticLabels[v] = inst.Class
				res.InstanceLabels[v] = inst.ID
			}
		}
	}

	res.Boxes = instanceBoxes(verts, res.InstanceLabels, instances)
	owned := make(map[int]bool, len(res.Boxes))
	for _, b := range res.Boxes {
		owned[b.Instance] = true
	}
	for _, inst := range instances {
		if owned[inst.ID] {
			res.InstanceClasses[inst.ID] = inst.Class
		} else {
			res.EmptyInstances = append(res.EmptyInstances, inst.ID)
		}
	}
	sort.Ints(res.EmptyInstances)

	return res, nil
}

type bounds struct {
	min, max r3.Vec
}

func newBounds() *bounds {
	inf := math.Inf(1)
	return &bounds{
		min: r3.Vec{X: inf, Y: inf, Z: inf},
		max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

func (b *bounds) add(p r3.Vec) {
	b.min = r3.Vec{X: math.Min(b.min.X, p.X), Y: math.Min(b.min.Y, p.Y), Z: math.Min(b.min.Z, p.Z)}
	b.max = r3.Vec{X: math.Max(b.max.X, p.X), Y: math.Max(b.max.Y, p.Y), Z: math.Max(b.max.Z, p.Z)}
}

// instanceBoxes computes the axis-aligned box of the vertices each instance
// finally owns.
func instanceBoxes(verts []scan.Vertex, labels []int, instances []Instance) []scan.Box {
	acc := make(map[int]*bounds)
	for i, id := range labels {
		if id == 0 {
			continue
		}
		b, ok := acc[id]
		if !ok {
			b = newBounds()
			acc[id] = b
		}
		b.add(verts[i].Pos)
	}

	classOf := make(map[int]int, len(instances))
	for _, inst := range instances {
		classOf[inst.ID] = inst.Class
	}

	ids := make([]int, 0, len(acc))
	for id := range acc {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	boxes := make([]scan.Box, 0, len(ids))
	for _, id := range ids {
		b := acc[id]
		box := scan.BoxFromBounds(b.min, b.max, classOf[id])
		box.Instance = id
		boxes = append(boxes, box)
	}
	return boxes
}

// BuildScene assembles a scene from aggregated labels. The vertex slice is
// shared, not copied.
func BuildScene(name string, verts []scan.Vertex, res *Result) *scan.Scene {
	return &scan.Scene{
		Name:            name,
		Vertices:        verts,
		SemanticLabels:  res.SemanticLabels,
		InstanceLabels:  res.InstanceLabels,
		Boxes:           res.Boxes,
		InstanceClasses: res.InstanceClasses,
	}
}
