package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/banshee-data/scanprep/internal/config"
	"github.com/banshee-data/scanprep/internal/db"
	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/monitoring"
	"github.com/banshee-data/scanprep/internal/scan/export"
	"github.com/banshee-data/scanprep/internal/scan/normals"
	"github.com/banshee-data/scanprep/internal/security"
)

// scanNameLen is the length of a ScanNet scan name such as scene0000_00.
const scanNameLen = len("scene0000_00")

// NormalsPass computes oriented normals for exported scenes.
type NormalsPass struct {
	fs        fsutil.FileSystem
	inputDir  string
	planesDir string
	splitFile string
	sink      *export.NPYSink
	writer    *export.SceneWriter

	Estimator  normals.Estimator
	K          int
	SmoothIter int
}

// NewNormalsPass prepares the normals output directory.
func NewNormalsPass(fsys fsutil.FileSystem, cfg *config.Config) (*NormalsPass, error) {
	if err := cfg.RequireNormals(); err != nil {
		return nil, err
	}
	sink, err := export.NewNPYSink(fsys, cfg.GetNormalsOutputDir())
	if err != nil {
		return nil, err
	}
	return &NormalsPass{
		fs:         fsys,
		inputDir:   cfg.GetDetectionDataDir(),
		planesDir:  cfg.GetPlanesDir(),
		splitFile:  cfg.GetNormalsSplitFile(),
		sink:       sink,
		writer:     &export.SceneWriter{Sink: sink},
		Estimator:  normals.PCAEstimator{},
		K:          cfg.GetNormalK(),
		SmoothIter: cfg.GetNormalSmoothIter(),
	}, nil
}

// Done reports whether normals already exist for a scan.
func (p *NormalsPass) Done(name string) bool {
	return p.sink.Exists(export.NormalName(name))
}

// SelectScans returns the split-file scans that have been exported and,
// when a planes directory is configured, also appear there. The result is
// sorted and free of duplicates.
func (p *NormalsPass) SelectScans() ([]string, error) {
	split, err := ReadSplit(p.fs, p.splitFile)
	if err != nil {
		return nil, err
	}

	exported, err := p.scanNames(p.inputDir, func(entry string) (string, bool) {
		return strings.CutSuffix(entry, export.VertSuffix)
	})
	if err != nil {
		return nil, err
	}

	keep := mapset.NewSet(split...).Intersect(exported)
	if p.planesDir != "" {
		planes, err := p.scanNames(p.planesDir, func(entry string) (string, bool) {
			if !strings.HasPrefix(entry, "scene") || len(entry) < scanNameLen {
				return "", false
			}
			return entry[:scanNameLen], true
		})
		if err != nil {
			return nil, err
		}
		keep = keep.Intersect(planes)
	}

	names := keep.ToSlice()
	sort.Strings(names)
	return names, nil
}

func (p *NormalsPass) scanNames(dir string, match func(entry string) (string, bool)) (mapset.Set[string], error) {
	entries, err := p.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	out := mapset.NewSet[string]()
	for _, e := range entries {
		if name, ok := match(e); ok {
			out.Add(name)
		}
	}
	return out, nil
}

// Run computes normals for every scan in names.
func (p *NormalsPass) Run(ctx context.Context, b *Batch, names []string) (*Summary, error) {
	b.Kind = db.KindNormals
	return b.Run(ctx, names, p.NormalScan)
}

// NormalScan computes and persists normals for one exported scan.
func (p *NormalsPass) NormalScan(name string) (*Outcome, error) {
	if err := security.ValidateName(name); err != nil {
		return nil, err
	}
	logf := monitoring.ScanLogger(name)
	if p.Done(name) {
		logf("normals exist, skipping")
		return skipped, nil
	}
	logf("start processing")

	pts, err := export.LoadPoints(p.fs, p.inputDir, name)
	if err != nil {
		return nil, err
	}
	if len(pts.Positions) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyGeometry)
	}

	ns, err := normals.Compute(p.Estimator, pts.Positions, p.K, p.SmoothIter)
	if err != nil {
		return nil, fmt.Errorf("normals %s: %w", name, err)
	}
	if err := p.writer.WriteNormals(name, ns); err != nil {
		return nil, err
	}
	return &Outcome{Status: db.StatusOK, NumPoints: len(ns)}, nil
}
