// Package aggregate turns segment-level instance annotations into
// per-vertex semantic and instance labels and one axis-aligned box per
// instance, and provides the class filters applied afterwards.
//
// Key types: Instance, Result, MalformedAnnotationError.
//
// Overlap rule: records are applied in aggregation-file order and the last
// record to claim a vertex owns both of its labels.
package aggregate
