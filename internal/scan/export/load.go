package export

import (
	"fmt"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/fsutil"
)

// Points is the subset of an exported scene consumed by the normals pass.
type Points struct {
	Positions      []r3.Vec
	SemanticLabels []int64
}

// LoadPoints reads <scan>_vert.npy and <scan>_sem_label.npy from dir.
func LoadPoints(fsys fsutil.FileSystem, dir, scanName string) (*Points, error) {
	var verts mat.Dense
	vertName := VertName(scanName)
	if err := readNPY(fsys, filepath.Join(dir, vertName), &verts); err != nil {
		return nil, err
	}
	if err := checkColumns(vertName, &verts, 3); err != nil {
		return nil, err
	}

	var sem []int64
	if err := readNPY(fsys, filepath.Join(dir, scanName+SemLabelSuffix), &sem); err != nil {
		return nil, err
	}

	rows, _ := verts.Dims()
	if len(sem) != rows {
		return nil, fmt.Errorf("%s: %d vertices but %d semantic labels", scanName, rows, len(sem))
	}

	pts := make([]r3.Vec, rows)
	for i := range pts {
		pts[i] = r3.Vec{X: verts.At(i, 0), Y: verts.At(i, 1), Z: verts.At(i, 2)}
	}
	return &Points{Positions: pts, SemanticLabels: sem}, nil
}

func readNPY(fsys fsutil.FileSystem, path string, ptr any) error {
	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := npyio.Read(f, ptr); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
