package aggregate

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/banshee-data/scanprep/internal/scan"
)

// DropDontCare removes every vertex whose semantic label is in dontCare.
// Boxes are left alone; they are filtered by KeepBoxClasses.
func DropDontCare(s *scan.Scene, dontCare mapset.Set[int]) {
	if dontCare == nil || dontCare.Cardinality() == 0 {
		return
	}
	s.Keep(func(i int) bool {
		return !dontCare.Contains(s.SemanticLabels[i])
	})
}

// KeepBoxClasses retains only boxes whose class is in classes. A nil set
// keeps every box.
func KeepBoxClasses(s *scan.Scene, classes mapset.Set[int]) {
	if classes == nil {
		return
	}
	kept := make([]scan.Box, 0, len(s.Boxes))
	for _, b := range s.Boxes {
		if classes.Contains(b.Class) {
			kept = append(kept, b)
		}
	}
	s.Boxes = kept
}
