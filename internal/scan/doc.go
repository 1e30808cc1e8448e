// Package scan owns the per-scene data model shared by every stage of the
// export pipeline.
//
// Responsibilities: vertex, box and scene types, and the alignment
// invariants between the per-vertex arrays.
// Key types: Vertex, Box, Scene.
//
// Dependency rule: scan depends on no other internal package. Stages live
// in subpackages (labelmap, ingest, aggregate, sampling, normals, export,
// pipeline) and may depend on scan, never the other way round.
package scan
