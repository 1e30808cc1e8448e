package ingest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/scan"
)

const (
	formatASCII    = "ascii"
	formatBinaryLE = "binary_little_endian"
	formatBinaryBE = "binary_big_endian"

	// maxHeaderBytes bounds the header scan on garbage input.
	maxHeaderBytes = 64 << 10
)

var errBadHeader = errors.New("invalid ply header")

// scalar PLY types and their byte sizes.
var plyTypeSize = map[string]int{
	"char": 1, "int8": 1,
	"uchar": 1, "uint8": 1,
	"short": 2, "int16": 2,
	"ushort": 2, "uint16": 2,
	"int": 4, "int32": 4,
	"uint": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

type plyProperty struct {
	name string
	typ  string

	// countType is set for list properties; typ is then the item type.
	countType string
}

func (p plyProperty) isList() bool { return p.countType != "" }

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

// rowSize is the byte width of one element row, or -1 if it contains a
// list property.
func (e *plyElement) rowSize() int {
	n := 0
	for _, p := range e.props {
		if p.isList() {
			return -1
		}
		n += plyTypeSize[p.typ]
	}
	return n
}

type plyHeader struct {
	format   string
	elements []*plyElement

	// raw is the header text including end_header, for re-feeding goply.
	raw string
}

// readHeader consumes the header up to and including end_header.
func readHeader(br *bufio.Reader) (*plyHeader, error) {
	h := &plyHeader{}
	var raw strings.Builder
	first := true
	for {
		line, err := br.ReadString('\n')
		raw.WriteString(line)
		if raw.Len() > maxHeaderBytes {
			return nil, fmt.Errorf("%w: no end_header", errBadHeader)
		}
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("%w: %v", errBadHeader, err)
		}

		fields := strings.Fields(line)
		if first {
			if len(fields) != 1 || fields[0] != "ply" {
				return nil, fmt.Errorf("%w: missing ply magic", errBadHeader)
			}
			first = false
			continue
		}
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: %q", errBadHeader, strings.TrimSpace(line))
			}
			h.format = fields[1]
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", errBadHeader, strings.TrimSpace(line))
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: element count %q", errBadHeader, fields[2])
			}
			h.elements = append(h.elements, &plyElement{name: fields[1], count: n})
		case "property":
			if len(h.elements) == 0 {
				return nil, fmt.Errorf("%w: property before element", errBadHeader)
			}
			p, err := parseProperty(fields)
			if err != nil {
				return nil, err
			}
			e := h.elements[len(h.elements)-1]
			e.props = append(e.props, p)
		case "end_header":
			if h.format == "" {
				return nil, fmt.Errorf("%w: missing format", errBadHeader)
			}
			h.raw = raw.String()
			return h, nil
		}

		if err == io.EOF {
			return nil, fmt.Errorf("%w: no end_header", errBadHeader)
		}
	}
}

func parseProperty(fields []string) (plyProperty, error) {
	switch {
	case len(fields) == 3:
		if _, ok := plyTypeSize[fields[1]]; !ok {
			return plyProperty{}, fmt.Errorf("%w: unknown type %q", errBadHeader, fields[1])
		}
		return plyProperty{name: fields[2], typ: fields[1]}, nil
	case len(fields) == 5 && fields[1] == "list":
		if _, ok := plyTypeSize[fields[2]]; !ok {
			return plyProperty{}, fmt.Errorf("%w: unknown type %q", errBadHeader, fields[2])
		}
		if _, ok := plyTypeSize[fields[3]]; !ok {
			return plyProperty{}, fmt.Errorf("%w: unknown type %q", errBadHeader, fields[3])
		}
		return plyProperty{name: fields[4], typ: fields[3], countType: fields[2]}, nil
	default:
		return plyProperty{}, fmt.Errorf("%w: property %q", errBadHeader, strings.Join(fields, " "))
	}
}

// decodeBinary reads the vertex element of a binary body. Elements before
// it are skipped; elements after it are left unread.
func decodeBinary(h *plyHeader, r io.Reader) (*Mesh, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if h.format == formatBinaryBE {
		order = binary.BigEndian
	}

	for _, e := range h.elements {
		if e.name != "vertex" {
			if err := skipElement(r, order, e); err != nil {
				return nil, fmt.Errorf("skip %s: %w", e.name, err)
			}
			continue
		}
		return decodeVertices(r, order, e)
	}
	return nil, ErrNoVertices
}

func decodeVertices(r io.Reader, order binary.ByteOrder, e *plyElement) (*Mesh, error) {
	if e.count == 0 {
		return nil, ErrNoVertices
	}
	stride := e.rowSize()
	if stride < 0 {
		return nil, fmt.Errorf("vertex element has a list property")
	}

	props := make(map[string]plyProperty, len(e.props))
	at := make(map[string]int, len(e.props))
	off := 0
	for _, p := range e.props {
		props[p.name] = p
		at[p.name] = off
		off += plyTypeSize[p.typ]
	}
	for _, k := range [3]string{"x", "y", "z"} {
		if _, ok := props[k]; !ok {
			return nil, fmt.Errorf("vertex element has no %s property", k)
		}
	}
	_, hasR := props["red"]
	_, hasG := props["green"]
	_, hasB := props["blue"]
	hasColor := hasR && hasG && hasB

	get := func(row []byte, name string) float64 {
		return scalarAt(row[at[name]:], order, props[name].typ)
	}

	out := &Mesh{Vertices: make([]scan.Vertex, e.count), HasColor: hasColor}
	row := make([]byte, stride)
	for i := range out.Vertices {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		out.Vertices[i].Pos = r3.Vec{X: get(row, "x"), Y: get(row, "y"), Z: get(row, "z")}
		if hasColor {
			out.Vertices[i].Color = scan.Color{
				R: clampByte(get(row, "red")),
				G: clampByte(get(row, "green")),
				B: clampByte(get(row, "blue")),
			}
		}
	}
	return out, nil
}

func skipElement(r io.Reader, order binary.ByteOrder, e *plyElement) error {
	if n := e.rowSize(); n >= 0 {
		_, err := io.CopyN(io.Discard, r, int64(n)*int64(e.count))
		return err
	}
	for i := 0; i < e.count; i++ {
		for _, p := range e.props {
			size := plyTypeSize[p.typ]
			if p.isList() {
				cnt, err := readCount(r, order, p.countType)
				if err != nil {
					return err
				}
				size *= cnt
			}
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readCount(r io.Reader, order binary.ByteOrder, typ string) (int, error) {
	buf := make([]byte, plyTypeSize[typ])
	if err := binary.Read(r, order, buf); err != nil {
		return 0, err
	}
	n := scalarAt(buf, order, typ)
	if n < 0 || n != math.Trunc(n) {
		return 0, fmt.Errorf("bad list count %v", n)
	}
	return int(n), nil
}

// scalarAt decodes one value of a PLY scalar type from the start of b.
func scalarAt(b []byte, order binary.ByteOrder, typ string) float64 {
	switch typ {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(order.Uint16(b)))
	case "ushort", "uint16":
		return float64(order.Uint16(b))
	case "int", "int32":
		return float64(int32(order.Uint32(b)))
	case "uint", "uint32":
		return float64(order.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	case "double", "float64":
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}
