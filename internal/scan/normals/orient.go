package normals

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Viewpoint returns the scene reference point: the mean position with its
// Z replaced by the midpoint of the mean Z and the maximum Z.
func Viewpoint(pts []r3.Vec) r3.Vec {
	if len(pts) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	maxZ := math.Inf(-1)
	for _, p := range pts {
		sum = r3.Add(sum, p)
		maxZ = math.Max(maxZ, p.Z)
	}
	mean := r3.Scale(1/float64(len(pts)), sum)
	mean.Z = (maxZ + mean.Z) / 2
	return mean
}

// Orient flips every normal with dot(p - vp, n) >= 0 so that it points
// back toward vp. It returns the number of flipped normals. Points with
// dot(p - vp, n) == 0 are flipped but stay on the plane through vp.
func Orient(pts, ns []r3.Vec, vp r3.Vec) int {
	flipped := 0
	for i, p := range pts {
		if r3.Dot(r3.Sub(p, vp), ns[i]) >= 0 {
			ns[i] = r3.Scale(-1, ns[i])
			flipped++
		}
	}
	return flipped
}

// Compute estimates normals with est and orients them against the scene
// viewpoint.
func Compute(est Estimator, pts []r3.Vec, k, smoothIter int) ([]r3.Vec, error) {
	if err := checkArgs(pts, k, smoothIter); err != nil {
		return nil, err
	}
	ns, err := est.Estimate(pts, k, smoothIter)
	if err != nil {
		return nil, fmt.Errorf("estimate normals: %w", err)
	}
	if len(ns) != len(pts) {
		return nil, fmt.Errorf("estimator returned %d normals for %d points", len(ns), len(pts))
	}
	Orient(pts, ns, Viewpoint(pts))
	return ns, nil
}
