package normals

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrNoPoints is returned when asked for normals of an empty set.
	ErrNoPoints = errors.New("no points to estimate normals for")
	// ErrBadNeighborhood is returned for k < 1.
	ErrBadNeighborhood = errors.New("neighbourhood size must be at least 1")
	// ErrBadSmoothing is returned for a negative smoothing iteration count.
	ErrBadSmoothing = errors.New("smoothing iterations must be non-negative")
)

// Estimator computes one unit normal per point. The sign of each normal is
// unspecified.
type Estimator interface {
	Estimate(pts []r3.Vec, k, smoothIter int) ([]r3.Vec, error)
}

// PCAEstimator fits a plane to the k nearest neighbours of every point and
// takes the direction of least variance as the normal.
type PCAEstimator struct{}

// Estimate implements Estimator.
func (PCAEstimator) Estimate(pts []r3.Vec, k, smoothIter int) ([]r3.Vec, error) {
	if err := checkArgs(pts, k, smoothIter); err != nil {
		return nil, err
	}

	index := NewNeighborIndex(pts)
	nbrs := make([][]int, len(pts))
	for i, p := range pts {
		nbrs[i] = index.Nearest(p, k)
	}

	var fit planeFitter
	ns := make([]r3.Vec, len(pts))
	for i := range pts {
		n, err := fit.normal(pts, nbrs[i])
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		ns[i] = n
	}

	return Smooth(ns, nbrs, smoothIter), nil
}

func checkArgs(pts []r3.Vec, k, smoothIter int) error {
	switch {
	case len(pts) == 0:
		return ErrNoPoints
	case k < 1:
		return fmt.Errorf("%w: k=%d", ErrBadNeighborhood, k)
	case smoothIter < 0:
		return fmt.Errorf("%w: %d", ErrBadSmoothing, smoothIter)
	}
	return nil
}

// planeFitter reuses its matrices across points.
type planeFitter struct {
	cov  *mat.SymDense
	eig  mat.EigenSym
	vecs mat.Dense
}

// normal returns the unit eigenvector of the smallest covariance eigenvalue
// of the given neighbourhood. Degenerate neighbourhoods (a single point, a
// line) still yield a unit vector.
func (f *planeFitter) normal(pts []r3.Vec, nbr []int) (r3.Vec, error) {
	if f.cov == nil {
		f.cov = mat.NewSymDense(3, nil)
	}

	var c r3.Vec
	for _, j := range nbr {
		c = r3.Add(c, pts[j])
	}
	c = r3.Scale(1/float64(len(nbr)), c)

	var xx, xy, xz, yy, yz, zz float64
	for _, j := range nbr {
		d := r3.Sub(pts[j], c)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	inv := 1 / float64(len(nbr))
	f.cov.SetSym(0, 0, xx*inv)
	f.cov.SetSym(0, 1, xy*inv)
	f.cov.SetSym(0, 2, xz*inv)
	f.cov.SetSym(1, 1, yy*inv)
	f.cov.SetSym(1, 2, yz*inv)
	f.cov.SetSym(2, 2, zz*inv)

	if ok := f.eig.Factorize(f.cov, true); !ok {
		return r3.Vec{}, errors.New("eigen decomposition did not converge")
	}
	// Eigenvalues come back in ascending order.
	f.eig.VectorsTo(&f.vecs)
	n := r3.Vec{X: f.vecs.At(0, 0), Y: f.vecs.At(1, 0), Z: f.vecs.At(2, 0)}
	return r3.Unit(n), nil
}

// Smooth runs iter rounds of neighbourhood averaging. Each neighbour normal
// is flipped onto the centre normal's hemisphere before summing, so the
// pass does not depend on the unresolved signs. Every round reads only the
// previous round's normals.
func Smooth(ns []r3.Vec, nbrs [][]int, iter int) []r3.Vec {
	cur := ns
	for it := 0; it < iter; it++ {
		next := make([]r3.Vec, len(cur))
		for i, n := range cur {
			var sum r3.Vec
			for _, j := range nbrs[i] {
				m := cur[j]
				if r3.Dot(m, n) < 0 {
					m = r3.Scale(-1, m)
				}
				sum = r3.Add(sum, m)
			}
			if l := r3.Norm(sum); l > 1e-12 {
				next[i] = r3.Scale(1/l, sum)
			} else {
				next[i] = n
			}
		}
		cur = next
	}
	return cur
}
