// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the synthetic scans used by the aggregation,
// export and pipeline tests so every package exercises the same geometry.
package testutil

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/scan"
	"github.com/banshee-data/scanprep/internal/scan/ingest"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Class IDs used by the fixtures.
const (
	ClassWall  = 1
	ClassChair = 5
	ClassLamp  = 35
)

// LabelTable is a reference table covering every fixture category.
const LabelTable = "id\traw_category\tcategory\tcount\tnyu40id\tnyu40class\n" +
	"1\twall\twall\t100\t1\twall\n" +
	"2\tchair\tchair\t100\t5\tchair\n" +
	"3\tlamp\tlamp\t100\t35\tlamp\n"

// RawScan is an in-memory version of the four raw input files of a scan.
type RawScan struct {
	Vertices   []scan.Vertex
	SegIndices []int
	Groups     []ingest.SegGroup
	// AxisAlignment is written to the metadata file when non-empty.
	AxisAlignment []float64
}

// Segmentation returns the fixture segmentation.
func (r RawScan) Segmentation() *ingest.Segmentation {
	return &ingest.Segmentation{SegIndices: r.SegIndices}
}

// UnitCubeCorners returns the eight corners of the unit cube at the origin.
func UnitCubeCorners() []r3.Vec {
	var out []r3.Vec
	for _, x := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, z := range []float64{0, 1} {
				out = append(out, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

// TwoInstanceScan is the reference scene: instance 1 (chair) is the unit
// cube at the origin in segment 10, instance 2 (lamp) is the single point
// (10,10,10) in segment 20, and one unannotated vertex sits in segment 30.
func TwoInstanceScan() RawScan {
	var r RawScan
	for _, p := range UnitCubeCorners() {
		r.Vertices = append(r.Vertices, scan.Vertex{Pos: p, Color: scan.Color{R: 200, G: 100, B: 50}})
		r.SegIndices = append(r.SegIndices, 10)
	}
	r.Vertices = append(r.Vertices,
		scan.Vertex{Pos: r3.Vec{X: 10, Y: 10, Z: 10}, Color: scan.Color{R: 1, G: 2, B: 3}},
		scan.Vertex{Pos: r3.Vec{X: 5, Y: 5, Z: 5}},
	)
	r.SegIndices = append(r.SegIndices, 20, 30)
	r.Groups = []ingest.SegGroup{
		{ID: 0, ObjectID: 0, Label: "chair", Segments: []int{10}},
		{ID: 1, ObjectID: 1, Label: "lamp", Segments: []int{20}},
	}
	return r
}

// GridScan builds an n-vertex scan laid out on a regular grid with one
// chair instance per block of blockSize vertices. It is used for sampling
// and throughput tests.
func GridScan(n, blockSize int) RawScan {
	var r RawScan
	r.Vertices = make([]scan.Vertex, n)
	r.SegIndices = make([]int, n)
	side := 1
	for side*side*side < n {
		side++
	}
	for i := 0; i < n; i++ {
		x, y, z := i%side, (i/side)%side, i/(side*side)
		r.Vertices[i] = scan.Vertex{Pos: r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}}
		r.SegIndices[i] = i / blockSize
	}
	for seg := 0; seg*blockSize < n; seg++ {
		r.Groups = append(r.Groups, ingest.SegGroup{ID: seg, ObjectID: seg, Label: "chair", Segments: []int{seg}})
	}
	return r
}

// PLY renders the vertices as an ASCII PLY with colour.
func (r RawScan) PLY() string {
	var b strings.Builder
	b.WriteString("ply\nformat ascii 1.0\n")
	fmt.Fprintf(&b, "element vertex %d\n", len(r.Vertices))
	b.WriteString("property float x\nproperty float y\nproperty float z\n")
	b.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	b.WriteString("end_header\n")
	for _, v := range r.Vertices {
		fmt.Fprintf(&b, "%g %g %g %d %d %d\n", v.Pos.X, v.Pos.Y, v.Pos.Z, v.Color.R, v.Color.G, v.Color.B)
	}
	return b.String()
}

// BinaryPLY renders the vertices in ScanNet's layout: a
// binary_little_endian body with red/green/blue/alpha colour and an empty
// face element. Positions are stored as doubles so fixtures stay exact.
func (r RawScan) BinaryPLY() []byte {
	var b bytes.Buffer
	b.WriteString("ply\nformat binary_little_endian 1.0\n")
	fmt.Fprintf(&b, "element vertex %d\n", len(r.Vertices))
	b.WriteString("property double x\nproperty double y\nproperty double z\n")
	b.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\nproperty uchar alpha\n")
	b.WriteString("element face 0\nproperty list uchar int vertex_indices\n")
	b.WriteString("end_header\n")
	for _, v := range r.Vertices {
		row := struct {
			X, Y, Z    float64
			R, G, B, A uint8
		}{v.Pos.X, v.Pos.Y, v.Pos.Z, v.Color.R, v.Color.G, v.Color.B, 255}
		// Writes to a bytes.Buffer cannot fail.
		_ = binary.Write(&b, binary.LittleEndian, row)
	}
	return b.Bytes()
}

// WriteRawScan writes the scan's input files under scansDir/name.
func WriteRawScan(t *testing.T, fsys fsutil.FileSystem, scansDir, name string, r RawScan) ingest.Paths {
	t.Helper()
	p := ingest.ScanPaths(scansDir, name)
	AssertNoError(t, fsys.MkdirAll(filepath.Dir(p.Mesh), 0755))
	AssertNoError(t, fsys.WriteFile(p.Mesh, r.BinaryPLY(), 0644))

	seg, err := json.Marshal(ingest.Segmentation{SceneID: name, SegIndices: r.SegIndices})
	AssertNoError(t, err)
	AssertNoError(t, fsys.WriteFile(p.Segmentation, seg, 0644))

	agg, err := json.Marshal(ingest.Aggregation{SceneID: name, SegGroups: r.Groups})
	AssertNoError(t, err)
	AssertNoError(t, fsys.WriteFile(p.Aggregation, agg, 0644))

	meta := "sceneType = Test\n"
	if len(r.AxisAlignment) > 0 {
		vals := make([]string, len(r.AxisAlignment))
		for i, v := range r.AxisAlignment {
			vals[i] = fmt.Sprintf("%g", v)
		}
		meta += "axisAlignment = " + strings.Join(vals, " ") + "\n"
	}
	AssertNoError(t, fsys.WriteFile(p.Meta, []byte(meta), 0644))
	return p
}
