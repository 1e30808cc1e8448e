// Package normals estimates per-point surface normals and orients them
// against a single scene viewpoint.
//
// Estimation is pluggable through the Estimator interface; PCAEstimator is
// the default plane fit over k nearest neighbours. Estimators make no
// promise about sign. Orient resolves the sign with one global viewpoint
// (scene mean, raised halfway to the ceiling). The heuristic is known to be
// wrong for concave and multi-room geometry and is kept as-is.
package normals
