package normals

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func gridPlane(n int) []r3.Vec {
	var pts []r3.Vec
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, r3.Vec{X: float64(i) * 0.1, Y: float64(j) * 0.1, Z: 1})
		}
	}
	return pts
}

// fibonacciSphere spreads n points evenly over a sphere of radius r.
func fibonacciSphere(n int, r float64) []r3.Vec {
	pts := make([]r3.Vec, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		rad := math.Sqrt(1 - z*z)
		th := golden * float64(i)
		pts[i] = r3.Scale(r, r3.Vec{X: rad * math.Cos(th), Y: rad * math.Sin(th), Z: z})
	}
	return pts
}

func TestNearestMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	pts := make([]r3.Vec, 300)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
	}
	index := NewNeighborIndex(pts)

	for _, qi := range []int{0, 17, 150, 299} {
		got := index.Nearest(pts[qi], 7)
		require.Len(t, got, 7)
		assert.Equal(t, qi, got[0], "a point is its own nearest neighbour")

		all := make([]int, len(pts))
		for i := range all {
			all[i] = i
		}
		sort.Slice(all, func(a, b int) bool {
			return r3.Norm2(r3.Sub(pts[all[a]], pts[qi])) < r3.Norm2(r3.Sub(pts[all[b]], pts[qi]))
		})
		assert.ElementsMatch(t, all[:7], got)
	}
}

func TestNearestClampsK(t *testing.T) {
	index := NewNeighborIndex([]r3.Vec{{X: 0}, {X: 1}, {X: 5}})
	got := index.Nearest(r3.Vec{X: 0.9}, 10)
	assert.Equal(t, []int{1, 0, 2}, got)
	assert.Nil(t, index.Nearest(r3.Vec{}, 0))
}

func TestPCAEstimatorPlane(t *testing.T) {
	pts := gridPlane(12)
	ns, err := PCAEstimator{}.Estimate(pts, 9, 0)
	require.NoError(t, err)
	require.Len(t, ns, len(pts))

	for i, n := range ns {
		assert.InDelta(t, 1, r3.Norm(n), 1e-9, "normal %d not unit", i)
		assert.InDelta(t, 1, math.Abs(n.Z), 1e-9, "normal %d not vertical: %v", i, n)
	}
}

func TestPCAEstimatorSphere(t *testing.T) {
	pts := fibonacciSphere(600, 2)
	ns, err := PCAEstimator{}.Estimate(pts, 12, 2)
	require.NoError(t, err)

	for i, n := range ns {
		assert.InDelta(t, 1, r3.Norm(n), 1e-9)
		radial := r3.Unit(pts[i])
		assert.Greater(t, math.Abs(r3.Dot(n, radial)), 0.97, "normal %d deviates from radial", i)
	}
}

func TestPCAEstimatorDegenerate(t *testing.T) {
	// A single point and a line have no unique plane, but the output must
	// still be unit length.
	for _, pts := range [][]r3.Vec{
		{{X: 1, Y: 2, Z: 3}},
		{{X: 0}, {X: 1}, {X: 2}, {X: 3}},
	} {
		ns, err := PCAEstimator{}.Estimate(pts, 5, 3)
		require.NoError(t, err)
		for _, n := range ns {
			assert.InDelta(t, 1, r3.Norm(n), 1e-9)
		}
	}
}

func TestEstimateArgErrors(t *testing.T) {
	_, err := PCAEstimator{}.Estimate(nil, 10, 0)
	assert.ErrorIs(t, err, ErrNoPoints)
	_, err = PCAEstimator{}.Estimate(gridPlane(2), 0, 0)
	assert.ErrorIs(t, err, ErrBadNeighborhood)
	_, err = PCAEstimator{}.Estimate(gridPlane(2), 3, -1)
	assert.ErrorIs(t, err, ErrBadSmoothing)
}

func TestSmoothAlignsOutlier(t *testing.T) {
	ns := []r3.Vec{
		{Z: 1},
		{Z: -1}, // opposite sign, same line: must not cancel
		r3.Unit(r3.Vec{X: 1, Z: 1}),
		{Z: 1},
	}
	all := []int{0, 1, 2, 3}
	nbrs := [][]int{all, all, all, all}

	out := Smooth(ns, nbrs, 1)
	for i, n := range out {
		assert.InDelta(t, 1, r3.Norm(n), 1e-12)
		assert.Greater(t, math.Abs(n.Z), 0.9, "normal %d", i)
	}
	// The tilted normal is pulled toward the vertical.
	assert.Less(t, math.Abs(out[2].X), math.Abs(ns[2].X))

	assert.Equal(t, ns, Smooth(ns, nbrs, 0))
}

func TestViewpoint(t *testing.T) {
	pts := []r3.Vec{
		{X: 0, Y: 0, Z: 0},
		{X: 2, Y: 4, Z: 0},
		{X: 4, Y: 2, Z: 6},
	}
	vp := Viewpoint(pts)
	// mean = (2, 2, 2); z = (6 + 2) / 2
	assert.Equal(t, r3.Vec{X: 2, Y: 2, Z: 4}, vp)
	assert.Equal(t, r3.Vec{}, Viewpoint(nil))
}

func TestOrientFlipsTowardViewpoint(t *testing.T) {
	vp := r3.Vec{}
	pts := []r3.Vec{{X: 1}, {X: -1}, {Y: 2}}
	ns := []r3.Vec{{X: 1}, {X: 1}, {Y: -1}}

	flipped := Orient(pts, ns, vp)
	assert.Equal(t, 1, flipped)
	assert.Equal(t, []r3.Vec{{X: -1}, {X: 1}, {Y: -1}}, ns)
	for i := range pts {
		assert.Less(t, r3.Dot(r3.Sub(pts[i], vp), ns[i]), 0.0)
	}
}

func TestOrientZeroDotIsFlipped(t *testing.T) {
	ns := []r3.Vec{{Z: 1}}
	assert.Equal(t, 1, Orient([]r3.Vec{{X: 1}}, ns, r3.Vec{}))
	assert.Equal(t, r3.Vec{Z: -1}, ns[0])
}

func TestComputeSpherePointsInward(t *testing.T) {
	pts := fibonacciSphere(500, 1.5)
	ns, err := Compute(PCAEstimator{}, pts, 10, 1)
	require.NoError(t, err)

	vp := Viewpoint(pts)
	for i, n := range ns {
		d := r3.Dot(r3.Sub(pts[i], vp), n)
		assert.Less(t, d, 0.0, "point %d violates the orientation postcondition", i)
		assert.Less(t, r3.Dot(n, r3.Unit(pts[i])), -0.9, "sphere normal %d should face the centre", i)
	}
}

// fixedEstimator returns a constant normal, standing in for any
// alternative estimator.
type fixedEstimator struct {
	n   r3.Vec
	err error
	cut int
}

func (f fixedEstimator) Estimate(pts []r3.Vec, k, smoothIter int) ([]r3.Vec, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]r3.Vec, len(pts)-f.cut)
	for i := range out {
		out[i] = f.n
	}
	return out, nil
}

func TestComputeWithPluggableEstimator(t *testing.T) {
	// Floor and ceiling points: viewpoint sits between them, so the floor
	// normal must point up and the ceiling normal down.
	pts := []r3.Vec{{X: 0, Z: 0}, {X: 1, Z: 0}, {X: 0, Z: 3}, {X: 1, Z: 3}}
	ns, err := Compute(fixedEstimator{n: r3.Vec{Z: 1}}, pts, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{Z: 1}, ns[0])
	assert.Equal(t, r3.Vec{Z: 1}, ns[1])
	assert.Equal(t, r3.Vec{Z: -1}, ns[2])
	assert.Equal(t, r3.Vec{Z: -1}, ns[3])
}

func TestComputeErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Compute(fixedEstimator{err: boom}, gridPlane(2), 3, 0)
	assert.ErrorIs(t, err, boom)

	_, err = Compute(fixedEstimator{n: r3.Vec{Z: 1}, cut: 1}, gridPlane(2), 3, 0)
	assert.ErrorContains(t, err, "returned 3 normals for 4 points")

	_, err = Compute(PCAEstimator{}, nil, 3, 0)
	assert.ErrorIs(t, err, ErrNoPoints)
}
