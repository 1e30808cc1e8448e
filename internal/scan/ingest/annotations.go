package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/scanprep/internal/fsutil"
)

// Segmentation assigns a segment ID to every mesh vertex.
type Segmentation struct {
	SceneID    string `json:"sceneId,omitempty"`
	SegIndices []int  `json:"segIndices"`
}

// SegmentVertices groups vertex indices by segment ID. Vertices keep
// ascending order within each segment.
func (s *Segmentation) SegmentVertices() map[int][]int {
	out := make(map[int][]int)
	for v, seg := range s.SegIndices {
		out[seg] = append(out[seg], v)
	}
	return out
}

// SegGroup is one annotated object: a raw category and the segments that
// make it up. ObjectID is 0-based in the file.
type SegGroup struct {
	ID       int    `json:"id"`
	ObjectID int    `json:"objectId"`
	Label    string `json:"label"`
	Segments []int  `json:"segments"`
}

// InstanceID is the 1-based instance label written to vertices; 0 is
// reserved for unassigned vertices.
func (g SegGroup) InstanceID() int { return g.ObjectID + 1 }

// Aggregation is the instance annotation file of a scan.
type Aggregation struct {
	SceneID   string     `json:"sceneId,omitempty"`
	SegGroups []SegGroup `json:"segGroups"`
}

// ReadSegmentation loads a *.segs.json file.
func ReadSegmentation(fsys fsutil.FileSystem, path string) (*Segmentation, error) {
	var s Segmentation
	if err := readJSON(fsys, path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadAggregation loads a *.aggregation.json file.
func ReadAggregation(fsys fsutil.FileSystem, path string) (*Aggregation, error) {
	var a Aggregation
	if err := readJSON(fsys, path, &a); err != nil {
		return nil, err
	}
	for i, g := range a.SegGroups {
		if g.ObjectID < 0 {
			return nil, fmt.Errorf("%s: segGroup %d has negative objectId %d", path, i, g.ObjectID)
		}
	}
	return &a, nil
}

func readJSON(fsys fsutil.FileSystem, path string, v any) error {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
