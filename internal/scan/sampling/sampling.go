// Package sampling enforces the per-scene point budget by uniform sampling
// without replacement.
package sampling

import (
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/scanprep/internal/scan"
)

// Choose returns k distinct indices drawn uniformly from [0, n), sorted
// ascending. It returns nil when n <= k, meaning "keep everything".
func Choose(n, k int, rng *rand.Rand) []int {
	if k < 0 {
		k = 0
	}
	if n <= k {
		return nil
	}
	// Partial Fisher-Yates: the first k slots end up holding a uniform
	// sample of size k.
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	idx := perm[:k:k]
	sort.Ints(idx)
	return idx
}

// Sampler caps scenes at Max vertices.
type Sampler struct {
	Max  int
	Rand *rand.Rand
}

// New returns a sampler. A zero seed draws a random one.
func New(max int, seed uint64) *Sampler {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Sampler{Max: max, Rand: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Apply subsamples the scene in place. The same index set is applied to
// vertices and both label arrays; boxes are never touched. It reports
// whether the scene was reduced.
func (s *Sampler) Apply(sc *scan.Scene) bool {
	if s.Max <= 0 {
		return false
	}
	idx := Choose(sc.Len(), s.Max, s.Rand)
	if idx == nil {
		return false
	}
	sc.Select(idx)
	return true
}
