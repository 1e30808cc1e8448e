package export

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/scan"
)

// Artifact name suffixes.
const (
	VertSuffix     = "_vert.npy"
	SemLabelSuffix = "_sem_label.npy"
	InsLabelSuffix = "_ins_label.npy"
	BoxSuffix      = "_bbox.npy"
	NormalSuffix   = ".normal.npy"
)

// ErrEmptyScene is returned when asked to write a scene without vertices.
var ErrEmptyScene = errors.New("scene has no vertices")

// VertName returns the completion-marker artifact name of a scan.
func VertName(scanName string) string { return scanName + VertSuffix }

// NormalName returns the normals artifact name of a scan.
func NormalName(scanName string) string { return scanName + NormalSuffix }

// SceneWriter persists whole scenes through a Sink.
type SceneWriter struct {
	Sink Sink
}

// WriteScene persists the label arrays, the box table and finally the
// vertex table of a scene. If any write fails the artifacts already written
// for this scene are removed (when the sink supports it) and the error is
// returned.
func (w *SceneWriter) WriteScene(s *scan.Scene) (err error) {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Len() == 0 {
		return ErrEmptyScene
	}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		rm, ok := w.Sink.(Remover)
		if !ok {
			return
		}
		for _, name := range written {
			err = multierr.Append(err, rm.Remove(name))
		}
	}()

	steps := []struct {
		name string
		data any
	}{
		{s.Name + SemLabelSuffix, toInt64(s.SemanticLabels)},
		{s.Name + InsLabelSuffix, toInt64(s.InstanceLabels)},
		{s.Name + BoxSuffix, BoxTable(s.Boxes)},
		{VertName(s.Name), VertexTable(s.Vertices)},
	}
	for _, st := range steps {
		if err := w.Sink.Persist(st.name, st.data); err != nil {
			return err
		}
		written = append(written, st.name)
	}
	return nil
}

// WriteNormals persists an N×3 normals table for a scan.
func (w *SceneWriter) WriteNormals(scanName string, ns []r3.Vec) error {
	if len(ns) == 0 {
		return ErrEmptyScene
	}
	return w.Sink.Persist(NormalName(scanName), VecTable(ns))
}

// VertexTable lays vertices out as N×6 rows of x, y, z, r, g, b.
func VertexTable(vs []scan.Vertex) *mat.Dense {
	m := mat.NewDense(len(vs), scan.VertexColumns, nil)
	for i, v := range vs {
		m.SetRow(i, []float64{
			v.Pos.X, v.Pos.Y, v.Pos.Z,
			float64(v.Color.R), float64(v.Color.G), float64(v.Color.B),
		})
	}
	return m
}

// BoxTable lays boxes out as M×7 rows. A scene without boxes yields an
// empty 1-D array, since a matrix cannot have zero rows.
func BoxTable(bs []scan.Box) any {
	if len(bs) == 0 {
		return []float64{}
	}
	m := mat.NewDense(len(bs), scan.BoxColumns, nil)
	for i, b := range bs {
		row := b.Row()
		m.SetRow(i, row[:])
	}
	return m
}

// VecTable lays vectors out as N×3 rows.
func VecTable(vs []r3.Vec) *mat.Dense {
	m := mat.NewDense(len(vs), 3, nil)
	for i, v := range vs {
		m.SetRow(i, []float64{v.X, v.Y, v.Z})
	}
	return m
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

// checkColumns guards readers against artifacts of the wrong shape.
func checkColumns(name string, m *mat.Dense, want int) error {
	if _, c := m.Dims(); c < want {
		return fmt.Errorf("%s has %d columns, want at least %d", name, c, want)
	}
	return nil
}
