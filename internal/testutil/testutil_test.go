package testutil

import (
	"strings"
	"testing"

	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/scan/ingest"
)

func TestTwoInstanceScanIsConsistent(t *testing.T) {
	r := TwoInstanceScan()
	if len(r.Vertices) != len(r.SegIndices) {
		t.Fatalf("vertices=%d segIndices=%d", len(r.Vertices), len(r.SegIndices))
	}
	if len(r.Groups) != 2 {
		t.Errorf("expected 2 groups, got %d", len(r.Groups))
	}
}

func TestGridScan(t *testing.T) {
	r := GridScan(1000, 100)
	if len(r.Vertices) != 1000 {
		t.Fatalf("expected 1000 vertices, got %d", len(r.Vertices))
	}
	if len(r.Groups) != 10 {
		t.Errorf("expected 10 groups, got %d", len(r.Groups))
	}
	if r.SegIndices[999] != 9 {
		t.Errorf("last vertex segment = %d, want 9", r.SegIndices[999])
	}
}

func TestWriteRawScanRoundTrip(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	r := TwoInstanceScan()
	r.AxisAlignment = []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	p := WriteRawScan(t, mfs, "/scans", "scene0000_00", r)

	seg, err := ingest.ReadSegmentation(mfs, p.Segmentation)
	AssertNoError(t, err)
	if len(seg.SegIndices) != len(r.Vertices) {
		t.Errorf("segIndices length %d", len(seg.SegIndices))
	}

	meta, err := ingest.ReadMeta(mfs, p.Meta)
	AssertNoError(t, err)
	if !strings.HasPrefix(meta["axisAlignment"], "1 0 0 0") {
		t.Errorf("axisAlignment = %q", meta["axisAlignment"])
	}

	if !strings.Contains(r.PLY(), "element vertex 10") {
		t.Error("PLY header should declare 10 vertices")
	}

	mesh, err := ingest.ReadMesh(mfs, p.Mesh)
	AssertNoError(t, err)
	if len(mesh.Vertices) != len(r.Vertices) {
		t.Fatalf("mesh has %d vertices, want %d", len(mesh.Vertices), len(r.Vertices))
	}
	for i, v := range mesh.Vertices {
		if v != r.Vertices[i] {
			t.Errorf("vertex %d = %+v, want %+v", i, v, r.Vertices[i])
		}
	}
}

func TestAssertHelpers(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, errTest)
}

type testErr struct{}

func (testErr) Error() string { return "test" }

var errTest error = testErr{}
