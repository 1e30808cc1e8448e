package scan

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// BoxColumns is the width of one row of the persisted box table:
// cx, cy, cz, dx, dy, dz, class.
const BoxColumns = 7

// VertexColumns is the width of one row of the persisted vertex table:
// x, y, z, r, g, b.
const VertexColumns = 6

// Color is an 8-bit RGB vertex colour.
type Color struct {
	R, G, B uint8
}

// Vertex is one mesh vertex. Its index within a Scene is its identity and
// is shared by every per-vertex array of that scene.
type Vertex struct {
	Pos   r3.Vec
	Color Color
}

// Box is the axis-aligned bounding box of one instance. Instance is kept
// for bookkeeping and is not part of the persisted row.
type Box struct {
	Center   r3.Vec
	Extent   r3.Vec
	Class    int
	Instance int
}

// BoxFromBounds builds a box from per-axis minimum and maximum corners.
func BoxFromBounds(min, max r3.Vec, class int) Box {
	return Box{
		Center: r3.Scale(0.5, r3.Add(min, max)),
		Extent: r3.Sub(max, min),
		Class:  class,
	}
}

// Min returns the lower corner (center - extent/2).
func (b Box) Min() r3.Vec { return r3.Sub(b.Center, r3.Scale(0.5, b.Extent)) }

// Max returns the upper corner (center + extent/2).
func (b Box) Max() r3.Vec { return r3.Add(b.Center, r3.Scale(0.5, b.Extent)) }

// Row returns the box in persisted column order.
func (b Box) Row() [BoxColumns]float64 {
	return [BoxColumns]float64{
		b.Center.X, b.Center.Y, b.Center.Z,
		b.Extent.X, b.Extent.Y, b.Extent.Z,
		float64(b.Class),
	}
}

func (b Box) String() string {
	return fmt.Sprintf("Box{instance=%d center=(%.3f,%.3f,%.3f) extent=(%.3f,%.3f,%.3f) class=%d}",
		b.Instance, b.Center.X, b.Center.Y, b.Center.Z, b.Extent.X, b.Extent.Y, b.Extent.Z, b.Class)
}
