package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/monitoring"
	"github.com/banshee-data/scanprep/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDataset(t *testing.T) (string, string) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	root := t.TempDir()
	fsys := fsutil.OSFileSystem{}
	testutil.WriteRawScan(t, fsys, filepath.Join(root, "scans"), "scene0000_00", testutil.TwoInstanceScan())

	meta := filepath.Join(root, "meta")
	require.NoError(t, os.MkdirAll(meta, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(meta, "scannetv2-labels.combined.tsv"), []byte(testutil.LabelTable), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(meta, "scannet_train.txt"), []byte("scene0000_00\nscene0001_00\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(meta, "scannetv2_val.txt"), []byte("scene0000_00\n"), 0644))

	cfg := fmt.Sprintf(`data_root: %s
scans_dir: scans
meta_data_dir: meta
scannet_train_detection_data_dir: out
scannet_train_detection_data_normals_dir: normals
obj_class_ids: [5]
seed: 1
normal_k: 4
`, root)
	cfgPath := filepath.Join(root, "scannet_config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return root, cfgPath
}

func TestExportNormalsAndRuns(t *testing.T) {
	root, cfgPath := writeDataset(t)

	out, err := run(t, "export", "--config", cfgPath)
	require.Error(t, err, "scene0001_00 has no inputs")
	assert.Contains(t, out, "2 scans: 1 ok, 0 skipped, 0 empty, 1 failed")
	assert.FileExists(t, filepath.Join(root, "out", "scene0000_00_vert.npy"))
	assert.FileExists(t, filepath.Join(root, "out", "scanprep.db"))

	out, err = run(t, "export", "--config", cfgPath, "--scan", "scene0000_00")
	require.NoError(t, err)
	assert.Contains(t, out, "1 scans: 0 ok, 1 skipped")

	out, err = run(t, "normals", "--config", cfgPath, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "1 scans: 1 ok")
	assert.FileExists(t, filepath.Join(root, "normals", "scene0000_00.normal.npy"))

	out, err = run(t, "runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "EMPTY")
	assert.Contains(t, out, "export")
	assert.Contains(t, out, "normals")

	out, err = run(t, "migrate", "status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 3")
}

func TestNoLedger(t *testing.T) {
	root, cfgPath := writeDataset(t)

	_, err := run(t, "export", "--config", cfgPath, "--scan", "scene0000_00", "--no-ledger")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "out", "scanprep.db"))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scanprep")
}

func TestBadConfig(t *testing.T) {
	_, err := run(t, "export", "--config", filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
