package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chenzhekl/goply"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/scan"
)

// ErrNoVertices is returned for a mesh without a vertex element.
var ErrNoVertices = errors.New("mesh has no vertices")

// Mesh is the vertex table of a scan mesh.
type Mesh struct {
	Vertices []scan.Vertex

	// HasColor reports whether the mesh carried red/green/blue properties.
	HasColor bool
}

// ReadMesh reads vertex positions and optional colours from a PLY file.
func ReadMesh(fsys fsutil.FileSystem, path string) (*Mesh, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mesh: %w", err)
	}
	defer f.Close()

	m, err := DecodeMesh(f)
	if err != nil {
		return nil, fmt.Errorf("decode mesh %s: %w", path, err)
	}
	return m, nil
}

// DecodeMesh parses a PLY stream. ASCII bodies go through goply; binary
// bodies (ScanNet ships binary_little_endian) are decoded from the header's
// property layout. Elements after the vertex element, such as faces, are
// not read.
func DecodeMesh(r io.Reader) (*Mesh, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	switch h.format {
	case formatASCII:
		return decodeASCII(io.MultiReader(strings.NewReader(h.raw), br))
	case formatBinaryLE, formatBinaryBE:
		return decodeBinary(h, br)
	default:
		return nil, fmt.Errorf("unsupported ply format %q", h.format)
	}
}

func decodeASCII(r io.Reader) (m *Mesh, err error) {
	// goply panics on malformed input instead of returning an error.
	defer func() {
		if rec := recover(); rec != nil {
			m, err = nil, fmt.Errorf("parse ply: %v", rec)
		}
	}()

	ply := goply.New(r)
	elems := ply.Elements("vertex")
	if len(elems) == 0 {
		return nil, ErrNoVertices
	}

	_, hasColor := elems[0]["red"]
	out := &Mesh{
		Vertices: make([]scan.Vertex, len(elems)),
		HasColor: hasColor,
	}
	for i, e := range elems {
		var pos r3.Vec
		if pos.X, err = number(e["x"]); err != nil {
			return nil, fmt.Errorf("vertex %d x: %w", i, err)
		}
		if pos.Y, err = number(e["y"]); err != nil {
			return nil, fmt.Errorf("vertex %d y: %w", i, err)
		}
		if pos.Z, err = number(e["z"]); err != nil {
			return nil, fmt.Errorf("vertex %d z: %w", i, err)
		}
		out.Vertices[i].Pos = pos

		if !hasColor {
			continue
		}
		var c [3]float64
		for j, key := range [3]string{"red", "green", "blue"} {
			if c[j], err = number(e[key]); err != nil {
				return nil, fmt.Errorf("vertex %d %s: %w", i, key, err)
			}
		}
		out.Vertices[i].Color = scan.Color{R: clampByte(c[0]), G: clampByte(c[1]), B: clampByte(c[2])}
	}
	return out, nil
}

// number converts any scalar property value produced by the PLY decoder.
func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case nil:
		return 0, errors.New("missing property")
	default:
		return 0, fmt.Errorf("unsupported property type %T", v)
	}
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
