package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanprep/internal/db"
	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/monitoring"
	"github.com/banshee-data/scanprep/internal/timeutil"
)

// ErrEmptyGeometry is returned when no vertex survives filtering. Nothing is
// written for such a scan.
var ErrEmptyGeometry = errors.New("no vertices left after filtering")

// Ledger records batch runs. *db.LedgerStore implements it.
type Ledger interface {
	StartRun(kind, configPath string) (string, error)
	RecordScan(r *db.ScanResult) error
	FinishRun(runID string) (*db.Run, error)
}

// Outcome describes one successfully handled scan.
type Outcome struct {
	Status       db.Status
	NumPoints    int
	NumInstances int
	NumBoxes     int
}

var skipped = &Outcome{Status: db.StatusSkipped}

// Summary tallies a batch.
type Summary struct {
	RunID    string
	Total    int
	OK       int
	Skipped  int
	Empty    int
	Failed   int
	Failures map[string]error
}

// ScanFunc handles one scan.
type ScanFunc func(name string) (*Outcome, error)

// Batch runs a ScanFunc over a list of scans.
type Batch struct {
	Kind       string
	Workers    int
	Ledger     Ledger
	ConfigPath string
	// Clock times each scan; nil means the wall clock.
	Clock timeutil.Clock
}

// Run processes every scan, at most Workers at a time. Per-scan errors are
// logged, recorded and tallied; the returned error is non-nil only if ctx
// was cancelled before every scan was started.
func (b *Batch) Run(ctx context.Context, names []string, fn ScanFunc) (*Summary, error) {
	sum := &Summary{Failures: make(map[string]error)}
	if b.Ledger != nil {
		id, err := b.Ledger.StartRun(b.Kind, b.ConfigPath)
		if err != nil {
			monitoring.Logf("%s: ledger unavailable: %v", b.Kind, err)
		}
		sum.RunID = id
	}

	workers := b.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	clock := b.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	var mu sync.Mutex
	var cancelled error
	for _, name := range names {
		if err := gctx.Err(); err != nil {
			cancelled = err
			break
		}
		g.Go(func() error {
			start := clock.Now()
			out, err := fn(name)
			res := b.classify(sum.RunID, name, out, err, clock.Since(start))

			mu.Lock()
			sum.add(res, err)
			mu.Unlock()

			b.record(res)
			return nil
		})
	}
	_ = g.Wait()

	if b.Ledger != nil && sum.RunID != "" {
		if _, err := b.Ledger.FinishRun(sum.RunID); err != nil {
			monitoring.Logf("%s: finish run %s: %v", b.Kind, sum.RunID, err)
		}
	}
	monitoring.Logf("%s: %d scans, %d ok, %d skipped, %d empty, %d failed",
		b.Kind, sum.Total, sum.OK, sum.Skipped, sum.Empty, sum.Failed)

	if cancelled != nil {
		return sum, fmt.Errorf("%s batch interrupted: %w", b.Kind, cancelled)
	}
	return sum, nil
}

func (b *Batch) classify(runID, name string, out *Outcome, err error, d time.Duration) *db.ScanResult {
	res := &db.ScanResult{RunID: runID, ScanName: name, Duration: d}
	switch {
	case err == nil:
		if out == nil {
			out = &Outcome{Status: db.StatusOK}
		}
		res.Status = out.Status
		res.NumPoints = out.NumPoints
		res.NumInstances = out.NumInstances
		res.NumBoxes = out.NumBoxes
	case errors.Is(err, ErrEmptyGeometry):
		res.Status = db.StatusEmpty
		res.Error = err.Error()
		monitoring.Logf("%s: %s skipped: %v", b.Kind, name, err)
	default:
		res.Status = db.StatusFailed
		res.Error = err.Error()
		monitoring.Logf("%s: %s failed: %v", b.Kind, name, err)
	}
	return res
}

func (b *Batch) record(res *db.ScanResult) {
	if b.Ledger == nil || res.RunID == "" {
		return
	}
	if err := b.Ledger.RecordScan(res); err != nil {
		monitoring.Logf("%s: %v", b.Kind, err)
	}
}

func (s *Summary) add(res *db.ScanResult, err error) {
	s.Total++
	switch res.Status {
	case db.StatusOK:
		s.OK++
	case db.StatusSkipped:
		s.Skipped++
	case db.StatusEmpty:
		s.Empty++
	case db.StatusFailed:
		s.Failed++
		s.Failures[res.ScanName] = err
	}
}

// ReadSplit reads a scan list, one name per line. Blank lines are ignored.
func ReadSplit(fsys fsutil.FileSystem, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open split file: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read split file %s: %w", path, err)
	}
	return names, nil
}
