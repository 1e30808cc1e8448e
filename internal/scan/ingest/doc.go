// Package ingest reads the raw per-scan inputs: the PLY mesh, the
// per-vertex segmentation, the instance aggregation and the scan metadata
// carrying the axis-alignment matrix.
//
// The PLY parser is a third-party black box; this package only maps its
// generic element records onto scan.Vertex.
package ingest
