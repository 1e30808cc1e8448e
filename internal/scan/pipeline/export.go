package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/banshee-data/scanprep/internal/config"
	"github.com/banshee-data/scanprep/internal/db"
	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/monitoring"
	"github.com/banshee-data/scanprep/internal/scan"
	"github.com/banshee-data/scanprep/internal/scan/aggregate"
	"github.com/banshee-data/scanprep/internal/scan/export"
	"github.com/banshee-data/scanprep/internal/scan/ingest"
	"github.com/banshee-data/scanprep/internal/scan/labelmap"
	"github.com/banshee-data/scanprep/internal/scan/sampling"
	"github.com/banshee-data/scanprep/internal/security"
)

// Unassigned is the semantic label of vertices no annotation covers.
const Unassigned = 0

// Exporter runs the export pass. It is safe for concurrent use: the only
// shared state is read-only.
type Exporter struct {
	fs       fsutil.FileSystem
	scansDir string
	mapping  *labelmap.Mapping
	sink     *export.NPYSink
	writer   *export.SceneWriter

	dontCare  mapset.Set[int]
	objClass  mapset.Set[int]
	maxPoints int
	seed      uint64
	alignAxes bool
}

// NewExporter loads the label table and prepares the output directory.
func NewExporter(fsys fsutil.FileSystem, cfg *config.Config) (*Exporter, error) {
	if err := cfg.RequireExport(); err != nil {
		return nil, err
	}
	mapping, err := labelmap.Load(fsys, cfg.GetLabelMapFile(), cfg.GetLabelFrom(), cfg.GetLabelTo())
	if err != nil {
		return nil, err
	}
	return NewExporterWithMapping(fsys, cfg, mapping)
}

// NewExporterWithMapping is NewExporter with an already built mapping.
func NewExporterWithMapping(fsys fsutil.FileSystem, cfg *config.Config, mapping *labelmap.Mapping) (*Exporter, error) {
	sink, err := export.NewNPYSink(fsys, cfg.GetDetectionDataDir())
	if err != nil {
		return nil, err
	}
	return &Exporter{
		fs:        fsys,
		scansDir:  cfg.GetScansDir(),
		mapping:   mapping,
		sink:      sink,
		writer:    &export.SceneWriter{Sink: sink},
		dontCare:  cfg.GetDontCareClassIDs(),
		objClass:  cfg.GetObjClassIDs(),
		maxPoints: cfg.GetMaxNumPoint(),
		seed:      cfg.GetSeed(),
		alignAxes: cfg.GetAlignAxes(),
	}, nil
}

// Done reports whether a scan has already been exported.
func (e *Exporter) Done(name string) bool {
	return e.sink.Exists(export.VertName(name))
}

// Run exports every scan in names.
func (e *Exporter) Run(ctx context.Context, b *Batch, names []string) (*Summary, error) {
	b.Kind = db.KindExport
	return b.Run(ctx, names, e.ExportScan)
}

// ExportScan converts one scan and persists its artifacts.
func (e *Exporter) ExportScan(name string) (*Outcome, error) {
	if err := security.ValidateName(name); err != nil {
		return nil, err
	}
	logf := monitoring.ScanLogger(name)
	if e.Done(name) {
		logf("already exported, skipping")
		return skipped, nil
	}
	logf("begin")

	sc, numInstances, err := e.BuildScene(name)
	if err != nil {
		return nil, err
	}

	aggregate.DropDontCare(sc, e.dontCare)
	if sc.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyGeometry)
	}
	aggregate.KeepBoxClasses(sc, e.objClass)
	logf("num of instances: %d", numInstances)
	logf("num of care instances: %d", len(sc.Boxes))

	n := sc.Len()
	if sampling.New(e.maxPoints, e.scanSeed(name)).Apply(sc) {
		logf("subsampled %d -> %d points", n, sc.Len())
	}

	if err := e.writer.WriteScene(sc); err != nil {
		return nil, err
	}
	logf("done")
	return &Outcome{
		Status:       db.StatusOK,
		NumPoints:    sc.Len(),
		NumInstances: numInstances,
		NumBoxes:     len(sc.Boxes),
	}, nil
}

// BuildScene reads and aggregates a scan without filtering or sampling. It
// also returns the number of labeled instances.
func (e *Exporter) BuildScene(name string) (*scan.Scene, int, error) {
	paths := ingest.ScanPaths(e.scansDir, name)

	mesh, err := ingest.ReadMesh(e.fs, paths.Mesh)
	if err != nil {
		return nil, 0, err
	}
	seg, err := ingest.ReadSegmentation(e.fs, paths.Segmentation)
	if err != nil {
		return nil, 0, err
	}
	agg, err := ingest.ReadAggregation(e.fs, paths.Aggregation)
	if err != nil {
		return nil, 0, err
	}

	if e.alignAxes {
		meta, err := ingest.ReadMeta(e.fs, paths.Meta)
		if err != nil {
			return nil, 0, err
		}
		m, err := meta.AxisAlignment()
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", paths.Meta, err)
		}
		ingest.AlignVertices(mesh.Vertices, m)
	}

	res, err := aggregate.Aggregate(mesh.Vertices, seg, agg.SegGroups, e.mapping, Unassigned)
	if err != nil {
		return nil, 0, fmt.Errorf("aggregate %s: %w", name, err)
	}
	sc := aggregate.BuildScene(name, mesh.Vertices, res)
	return sc, len(sc.InstanceIDs()), nil
}

// scanSeed derives a per-scan seed so results do not depend on the order
// in which workers pick up scans. Zero stays zero (random).
func (e *Exporter) scanSeed(name string) uint64 {
	if e.seed == 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	if s := h.Sum64() ^ e.seed; s != 0 {
		return s
	}
	return e.seed
}
