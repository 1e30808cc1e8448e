package pipeline

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanprep/internal/config"
	"github.com/banshee-data/scanprep/internal/db"
	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/monitoring"
	"github.com/banshee-data/scanprep/internal/scan/aggregate"
	"github.com/banshee-data/scanprep/internal/scan/export"
	"github.com/banshee-data/scanprep/internal/scan/labelmap"
	"github.com/banshee-data/scanprep/internal/scan/normals"
	"github.com/banshee-data/scanprep/internal/security"
	"github.com/banshee-data/scanprep/internal/testutil"
	"github.com/banshee-data/scanprep/internal/timeutil"
)

const scene0 = "scene0000_00"

func str(s string) *string { return &s }

func quietLogs(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
}

func testConfig() *config.Config {
	seed := uint64(7)
	chairOnly := []int{testutil.ClassChair}
	return &config.Config{
		ScansDir:         str("/scans"),
		MetaDataDir:      str("/meta"),
		DetectionDataDir: str("/out"),
		NormalsOutputDir: str("/normals"),
		ObjClassIDs:      &chairOnly,
		Seed:             &seed,
	}
}

func setupFS(t *testing.T, scans map[string]testutil.RawScan) *fsutil.MemoryFileSystem {
	t.Helper()
	quietLogs(t)
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/meta/"+config.DefaultLabelMapName, []byte(testutil.LabelTable), 0644))
	for name, r := range scans {
		testutil.WriteRawScan(t, mfs, "/scans", name, r)
	}
	return mfs
}

func readNPY(t *testing.T, fsys fsutil.FileSystem, path string, ptr any) {
	t.Helper()
	f, err := fsys.Open(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, npyio.Read(f, ptr))
}

func TestExportScanTwoInstances(t *testing.T) {
	mfs := setupFS(t, map[string]testutil.RawScan{scene0: testutil.TwoInstanceScan()})
	e, err := NewExporter(mfs, testConfig())
	require.NoError(t, err)

	out, err := e.ExportScan(scene0)
	require.NoError(t, err)
	assert.Equal(t, &Outcome{Status: db.StatusOK, NumPoints: 10, NumInstances: 2, NumBoxes: 1}, out)
	assert.True(t, e.Done(scene0))

	pts, err := export.LoadPoints(mfs, "/out", scene0)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 5, 5, 5, 5, 5, 5, 5, 35, 0}, pts.SemanticLabels)
	assert.Equal(t, r3.Vec{X: 10, Y: 10, Z: 10}, pts.Positions[8])

	var ins []int64
	readNPY(t, mfs, "/out/"+scene0+export.InsLabelSuffix, &ins)
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 1, 1, 1, 2, 0}, ins)

	var boxes mat.Dense
	readNPY(t, mfs, "/out/"+scene0+export.BoxSuffix, &boxes)
	r, _ := boxes.Dims()
	require.Equal(t, 1, r)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 1, 1, 1, testutil.ClassChair}, boxes.RawRowView(0))
}

func TestExportScanSkipsDone(t *testing.T) {
	mfs := setupFS(t, map[string]testutil.RawScan{scene0: testutil.TwoInstanceScan()})
	e, err := NewExporter(mfs, testConfig())
	require.NoError(t, err)

	_, err = e.ExportScan(scene0)
	require.NoError(t, err)
	before := mfs.Files()

	out, err := e.ExportScan(scene0)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSkipped, out.Status)
	if diff := cmp.Diff(before, mfs.Files()); diff != "" {
		t.Errorf("files changed on skip (-before +after):\n%s", diff)
	}
}

func TestExportScanDontCare(t *testing.T) {
	t.Run("drops unassigned", func(t *testing.T) {
		mfs := setupFS(t, map[string]testutil.RawScan{scene0: testutil.TwoInstanceScan()})
		cfg := testConfig()
		cfg.DontCareClassIDs = &[]int{0}
		e, err := NewExporter(mfs, cfg)
		require.NoError(t, err)

		out, err := e.ExportScan(scene0)
		require.NoError(t, err)
		assert.Equal(t, 9, out.NumPoints)
	})

	t.Run("everything dropped", func(t *testing.T) {
		mfs := setupFS(t, map[string]testutil.RawScan{scene0: testutil.TwoInstanceScan()})
		cfg := testConfig()
		cfg.DontCareClassIDs = &[]int{0, testutil.ClassChair, testutil.ClassLamp}
		e, err := NewExporter(mfs, cfg)
		require.NoError(t, err)

		_, err = e.ExportScan(scene0)
		assert.ErrorIs(t, err, ErrEmptyGeometry)
		assert.False(t, e.Done(scene0))
		assert.False(t, mfs.Exists("/out/"+scene0+export.SemLabelSuffix))
	})
}

func TestExportScanFailures(t *testing.T) {
	unmapped := testutil.TwoInstanceScan()
	unmapped.Groups[1].Label = "blob"

	badSegment := testutil.TwoInstanceScan()
	badSegment.Groups[0].Segments = []int{999}

	mfs := setupFS(t, map[string]testutil.RawScan{
		"scene0001_00": unmapped,
		"scene0002_00": badSegment,
	})
	e, err := NewExporter(mfs, testConfig())
	require.NoError(t, err)

	_, err = e.ExportScan("scene0001_00")
	var missing *labelmap.MissingMappingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "blob", missing.Category)

	_, err = e.ExportScan("scene0002_00")
	var malformed *aggregate.MalformedAnnotationError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 999, malformed.SegmentID)

	_, err = e.ExportScan("scene0404_00")
	assert.Error(t, err)

	_, err = e.ExportScan("../scene0000_00")
	assert.ErrorIs(t, err, security.ErrUnsafeName)

	assert.False(t, e.Done("scene0001_00"))
	assert.False(t, e.Done("scene0002_00"))
}

func TestExportScanSamples(t *testing.T) {
	mfs := setupFS(t, map[string]testutil.RawScan{scene0: testutil.GridScan(2000, 100)})
	cfg := testConfig()
	cfg.MaxNumPoint = func(v int) *int { return &v }(500)
	e, err := NewExporter(mfs, cfg)
	require.NoError(t, err)

	out, err := e.ExportScan(scene0)
	require.NoError(t, err)
	assert.Equal(t, 500, out.NumPoints)
	assert.Equal(t, 20, out.NumBoxes, "boxes come from the full geometry")

	var ins []int64
	readNPY(t, mfs, "/out/"+scene0+export.InsLabelSuffix, &ins)
	require.Len(t, ins, 500)
	for _, id := range ins {
		assert.True(t, id >= 1 && id <= 20)
	}
}

func TestExportScanAxisAlignment(t *testing.T) {
	raw := testutil.TwoInstanceScan()
	raw.AxisAlignment = []float64{
		1, 0, 0, 1,
		0, 1, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	}

	for _, align := range []bool{true, false} {
		mfs := setupFS(t, map[string]testutil.RawScan{scene0: raw})
		cfg := testConfig()
		cfg.AlignAxes = &align
		e, err := NewExporter(mfs, cfg)
		require.NoError(t, err)

		sc, _, err := e.BuildScene(scene0)
		require.NoError(t, err)
		want := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
		if align {
			want = r3.Vec{X: 1.5, Y: 2.5, Z: 3.5}
		}
		assert.Equal(t, want, sc.Boxes[0].Center, "align=%v", align)
	}
}

func TestExporterSeedIsPerScan(t *testing.T) {
	e := &Exporter{seed: 7}
	assert.NotEqual(t, e.scanSeed("a"), e.scanSeed("b"))
	assert.Equal(t, e.scanSeed("a"), e.scanSeed("a"))

	e.seed = 0
	assert.Equal(t, uint64(0), e.scanSeed("a"))
}

func TestBatchExportWithLedger(t *testing.T) {
	unmapped := testutil.TwoInstanceScan()
	unmapped.Groups[0].Label = "blob"
	mfs := setupFS(t, map[string]testutil.RawScan{
		"scene0000_00": testutil.TwoInstanceScan(),
		"scene0001_00": unmapped,
		"scene0002_00": testutil.TwoInstanceScan(),
	})
	e, err := NewExporter(mfs, testConfig())
	require.NoError(t, err)
	_, err = e.ExportScan("scene0002_00")
	require.NoError(t, err)

	ledgerDB, err := db.NewDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledgerDB.Close()
	ledger := db.NewLedgerStore(ledgerDB)

	b := &Batch{Workers: 2, Ledger: ledger, ConfigPath: "/cfg.yml"}
	sum, err := e.Run(context.Background(), b, []string{"scene0000_00", "scene0001_00", "scene0002_00"})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.OK)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Failed)
	var missing *labelmap.MissingMappingError
	assert.True(t, errors.As(sum.Failures["scene0001_00"], &missing))

	run, err := ledger.GetRun(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.KindExport, run.Kind)
	assert.True(t, run.Finished())
	assert.Equal(t, 1, run.ScansFailed)

	results, err := ledger.ScanResults(sum.RunID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, db.StatusOK, results[0].Status)
	assert.Equal(t, 10, results[0].NumPoints)
	assert.Equal(t, db.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "blob")
	assert.Equal(t, db.StatusSkipped, results[2].Status)
}

func TestBatchRecordsEmpty(t *testing.T) {
	quietLogs(t)
	b := &Batch{Kind: "test"}
	sum, err := b.Run(context.Background(), []string{"a", "b"}, func(name string) (*Outcome, error) {
		if name == "a" {
			return nil, ErrEmptyGeometry
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Empty)
	assert.Equal(t, 1, sum.OK)
	assert.Empty(t, sum.Failures)
}

func TestBatchRecordsDurations(t *testing.T) {
	quietLogs(t)
	ledgerDB, err := db.NewDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledgerDB.Close()

	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	ledger := db.NewLedgerStoreWithClock(ledgerDB, clock)
	b := &Batch{Kind: db.KindNormals, Ledger: ledger, Clock: clock}

	sum, err := b.Run(context.Background(), []string{"a"}, func(string) (*Outcome, error) {
		clock.Advance(2 * time.Second)
		return &Outcome{Status: db.StatusOK, NumPoints: 3}, nil
	})
	require.NoError(t, err)

	results, err := ledger.ScanResults(sum.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2*time.Second, results[0].Duration)
	assert.Equal(t, 3, results[0].NumPoints)
}

func TestBatchHonoursCancellation(t *testing.T) {
	quietLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	b := &Batch{Kind: "test", Workers: 4}
	sum, err := b.Run(ctx, []string{"a", "b"}, func(string) (*Outcome, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, 0, sum.Total)
}

func TestReadSplit(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/split.txt", []byte("scene0000_00\n\n  scene0001_00  \n"), 0644))

	names, err := ReadSplit(mfs, "/split.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"scene0000_00", "scene0001_00"}, names)

	_, err = ReadSplit(mfs, "/missing.txt")
	assert.Error(t, err)
}

func exportAll(t *testing.T, mfs fsutil.FileSystem, names ...string) {
	t.Helper()
	e, err := NewExporter(mfs, testConfig())
	require.NoError(t, err)
	for _, n := range names {
		_, err := e.ExportScan(n)
		require.NoError(t, err)
	}
}

func TestNormalsSelectScans(t *testing.T) {
	mfs := setupFS(t, map[string]testutil.RawScan{
		"scene0000_00": testutil.TwoInstanceScan(),
		"scene0001_00": testutil.TwoInstanceScan(),
		"scene0002_00": testutil.TwoInstanceScan(),
	})
	exportAll(t, mfs, "scene0000_00", "scene0001_00", "scene0002_00")
	split := "scene0002_00\nscene0000_00\nscene0001_00\nscene0009_00\nscene0000_00\n"
	require.NoError(t, mfs.WriteFile("/meta/"+config.DefaultNormalsSplitName, []byte(split), 0644))

	p, err := NewNormalsPass(mfs, testConfig())
	require.NoError(t, err)
	names, err := p.SelectScans()
	require.NoError(t, err)
	assert.Equal(t, []string{"scene0000_00", "scene0001_00", "scene0002_00"}, names)

	require.NoError(t, mfs.WriteFile("/planes/scene0002_00_planes.json", nil, 0644))
	require.NoError(t, mfs.WriteFile("/planes/scene0000_00.ply", nil, 0644))
	require.NoError(t, mfs.WriteFile("/planes/README", nil, 0644))
	cfg := testConfig()
	cfg.PlanesDir = str("/planes")
	p, err = NewNormalsPass(mfs, cfg)
	require.NoError(t, err)
	names, err = p.SelectScans()
	require.NoError(t, err)
	assert.Equal(t, []string{"scene0000_00", "scene0002_00"}, names)
}

func TestNormalScan(t *testing.T) {
	mfs := setupFS(t, map[string]testutil.RawScan{scene0: testutil.TwoInstanceScan()})
	exportAll(t, mfs, scene0)

	p, err := NewNormalsPass(mfs, testConfig())
	require.NoError(t, err)
	p.K = 4
	p.SmoothIter = 1

	out, err := p.NormalScan(scene0)
	require.NoError(t, err)
	assert.Equal(t, 10, out.NumPoints)
	assert.True(t, p.Done(scene0))

	pts, err := export.LoadPoints(mfs, "/out", scene0)
	require.NoError(t, err)
	var got mat.Dense
	readNPY(t, mfs, "/normals/"+scene0+export.NormalSuffix, &got)
	rows, cols := got.Dims()
	require.Equal(t, 10, rows)
	require.Equal(t, 3, cols)

	vp := normals.Viewpoint(pts.Positions)
	for i, pos := range pts.Positions {
		row := got.RawRowView(i)
		n := r3.Vec{X: row[0], Y: row[1], Z: row[2]}
		assert.InDelta(t, 1, r3.Norm(n), 1e-9)
		assert.LessOrEqual(t, r3.Dot(r3.Sub(pos, vp), n), 1e-12, "normal %d faces away from viewpoint", i)
	}

	again, err := p.NormalScan(scene0)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSkipped, again.Status)
}

func TestNormalsBatch(t *testing.T) {
	mfs := setupFS(t, map[string]testutil.RawScan{scene0: testutil.TwoInstanceScan()})
	exportAll(t, mfs, scene0)

	p, err := NewNormalsPass(mfs, testConfig())
	require.NoError(t, err)
	p.K = 4

	sum, err := p.Run(context.Background(), &Batch{}, []string{scene0, "scene0404_00"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OK)
	assert.Equal(t, 1, sum.Failed)
	assert.Contains(t, sum.Failures, "scene0404_00")
}

func TestNewExporterErrors(t *testing.T) {
	quietLogs(t)
	mfs := fsutil.NewMemoryFileSystem()

	_, err := NewExporter(mfs, &config.Config{})
	assert.Error(t, err)

	_, err = NewExporter(mfs, testConfig())
	assert.Error(t, err, "label table is missing")

	_, err = NewNormalsPass(mfs, &config.Config{})
	assert.Error(t, err)
}

var _ Ledger = (*db.LedgerStore)(nil)
