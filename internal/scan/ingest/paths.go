package ingest

import "path/filepath"

// Paths locates the raw input files of one scan under a scans directory.
type Paths struct {
	Mesh         string
	Segmentation string
	Aggregation  string
	Meta         string
}

// ScanPaths returns the standard ScanNet file layout for scanName.
func ScanPaths(scansDir, scanName string) Paths {
	dir := filepath.Join(scansDir, scanName)
	return Paths{
		Mesh:         filepath.Join(dir, scanName+"_vh_clean_2.ply"),
		Segmentation: filepath.Join(dir, scanName+"_vh_clean_2.0.010000.segs.json"),
		Aggregation:  filepath.Join(dir, scanName+".aggregation.json"),
		Meta:         filepath.Join(dir, scanName+".txt"),
	}
}
