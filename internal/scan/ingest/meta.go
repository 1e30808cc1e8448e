package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/scan"
)

const axisAlignmentKey = "axisAlignment"

// Meta holds the key = value lines of a scan metadata file.
type Meta map[string]string

// ReadMeta loads a scan metadata file.
func ReadMeta(fsys fsutil.FileSystem, path string) (Meta, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseMeta(data), nil
}

// ParseMeta splits "key = value" lines. Lines without '=' are ignored.
func ParseMeta(data []byte) Meta {
	m := make(Meta)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m
}

// AxisAlignment returns the row-major 4x4 alignment matrix. Scans without
// an axisAlignment line (the test split) get the identity.
func (m Meta) AxisAlignment() (*mat.Dense, error) {
	raw, ok := m[axisAlignmentKey]
	if !ok {
		return identity4(), nil
	}
	fields := strings.Fields(raw)
	if len(fields) != 16 {
		return nil, fmt.Errorf("axisAlignment has %d values, want 16", len(fields))
	}
	vals := make([]float64, 16)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("axisAlignment value %d: %w", i, err)
		}
		vals[i] = v
	}
	return mat.NewDense(4, 4, vals), nil
}

func identity4() *mat.Dense {
	d := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// AlignVertices applies a homogeneous 4x4 transform to every vertex
// position in place: [x y z 1] · Mᵀ.
func AlignVertices(verts []scan.Vertex, m mat.Matrix) {
	if len(verts) == 0 {
		return
	}
	pts := mat.NewDense(len(verts), 4, nil)
	for i, v := range verts {
		pts.SetRow(i, []float64{v.Pos.X, v.Pos.Y, v.Pos.Z, 1})
	}
	var out mat.Dense
	out.Mul(pts, m.T())
	for i := range verts {
		verts[i].Pos = r3.Vec{X: out.At(i, 0), Y: out.At(i, 1), Z: out.At(i, 2)}
	}
}
