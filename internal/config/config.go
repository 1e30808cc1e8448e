// Package config holds the run configuration shared by the export and
// normals passes. Every field is optional; the Get* methods supply defaults
// so partial config files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/scanprep/internal/fsutil"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/scanprep.example.yml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Default file names under meta_data_dir.
const (
	DefaultLabelMapName     = "scannetv2-labels.combined.tsv"
	DefaultTrainSplitName   = "scannet_train.txt"
	DefaultNormalsSplitName = "scannetv2_val.txt"
	DefaultLedgerName       = "scanprep.db"
)

// DefaultObjClassIDs are the nyu40 classes that keep their boxes.
var DefaultObjClassIDs = []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 14, 16, 24, 28, 33, 34, 36, 39}

// Config is the root configuration. Keys match the scannet_config.yml
// layout so existing files load unchanged.
type Config struct {
	// Directories
	DataRoot         *string `json:"data_root,omitempty" yaml:"data_root,omitempty"`
	ScansDir         *string `json:"scans_dir,omitempty" yaml:"scans_dir,omitempty"`
	MetaDataDir      *string `json:"meta_data_dir,omitempty" yaml:"meta_data_dir,omitempty"`
	PlanesDir        *string `json:"scannet_planes_dir,omitempty" yaml:"scannet_planes_dir,omitempty"`
	DetectionDataDir *string `json:"scannet_train_detection_data_dir,omitempty" yaml:"scannet_train_detection_data_dir,omitempty"`
	NormalsOutputDir *string `json:"scannet_train_detection_data_normals_dir,omitempty" yaml:"scannet_train_detection_data_normals_dir,omitempty"`
	LabelMapFile     *string `json:"label_map_file,omitempty" yaml:"label_map_file,omitempty"`
	TrainSplitFile   *string `json:"train_split_file,omitempty" yaml:"train_split_file,omitempty"`
	NormalsSplitFile *string `json:"normals_split_file,omitempty" yaml:"normals_split_file,omitempty"`
	LedgerDB         *string `json:"ledger_db,omitempty" yaml:"ledger_db,omitempty"`

	// Label mapping
	LabelFrom        *string `json:"label_from,omitempty" yaml:"label_from,omitempty"`
	LabelTo          *string `json:"label_to,omitempty" yaml:"label_to,omitempty"`
	ObjClassIDs      *[]int  `json:"obj_class_ids,omitempty" yaml:"obj_class_ids,omitempty"`
	DontCareClassIDs *[]int  `json:"dont_care_class_ids,omitempty" yaml:"dont_care_class_ids,omitempty"`

	// Export params
	MaxNumPoint *int    `json:"max_num_point,omitempty" yaml:"max_num_point,omitempty"`
	AlignAxes   *bool   `json:"align_axes,omitempty" yaml:"align_axes,omitempty"`
	Seed        *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
	Workers     *int    `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Normal estimation params
	NormalK          *int `json:"normal_k,omitempty" yaml:"normal_k,omitempty"`
	NormalSmoothIter *int `json:"normal_smooth_iter,omitempty" yaml:"normal_smooth_iter,omitempty"`
}

// Load reads a Config from a .json, .yml or .yaml file and validates it.
func Load(fsys fsutil.FileSystem, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yml" && ext != ".yaml" {
		return nil, fmt.Errorf("config file must have .json, .yml or .yaml extension, got %q", ext)
	}

	f, err := fsys.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Check file size for safety
	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxFileSize)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.MaxNumPoint != nil && *c.MaxNumPoint < 1 {
		return fmt.Errorf("max_num_point must be positive, got %d", *c.MaxNumPoint)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.NormalK != nil && *c.NormalK < 1 {
		return fmt.Errorf("normal_k must be at least 1, got %d", *c.NormalK)
	}
	if c.NormalSmoothIter != nil && *c.NormalSmoothIter < 0 {
		return fmt.Errorf("normal_smooth_iter must be non-negative, got %d", *c.NormalSmoothIter)
	}
	for _, ids := range []*[]int{c.ObjClassIDs, c.DontCareClassIDs} {
		if ids == nil {
			continue
		}
		for _, id := range *ids {
			if id < 0 {
				return fmt.Errorf("class ids must be non-negative, got %d", id)
			}
		}
	}
	if c.LabelFrom != nil && c.LabelTo != nil && *c.LabelFrom == *c.LabelTo {
		return fmt.Errorf("label_from and label_to must differ, both are %q", *c.LabelFrom)
	}
	return nil
}

// RequireExport checks the settings needed by the export pass.
func (c *Config) RequireExport() error {
	if c.GetScansDir() == "" {
		return fmt.Errorf("scans_dir is required")
	}
	if c.GetMetaDataDir() == "" && (c.LabelMapFile == nil || c.TrainSplitFile == nil) {
		return fmt.Errorf("meta_data_dir is required unless label_map_file and train_split_file are set")
	}
	if c.GetDetectionDataDir() == "" {
		return fmt.Errorf("scannet_train_detection_data_dir is required")
	}
	return nil
}

// RequireNormals checks the settings needed by the normals pass.
func (c *Config) RequireNormals() error {
	if c.GetDetectionDataDir() == "" {
		return fmt.Errorf("scannet_train_detection_data_dir is required")
	}
	if c.GetNormalsOutputDir() == "" {
		return fmt.Errorf("scannet_train_detection_data_normals_dir is required")
	}
	if c.GetMetaDataDir() == "" && c.NormalsSplitFile == nil {
		return fmt.Errorf("meta_data_dir is required unless normals_split_file is set")
	}
	return nil
}

// resolve joins a relative path onto data_root when one is configured.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.DataRoot == nil || *c.DataRoot == "" {
		return p
	}
	return filepath.Join(*c.DataRoot, p)
}

func (c *Config) dir(v *string) string {
	if v == nil {
		return ""
	}
	return c.resolve(*v)
}

// metaFile returns an explicit path, or name under meta_data_dir.
func (c *Config) metaFile(v *string, name string) string {
	if v != nil && *v != "" {
		return c.resolve(*v)
	}
	if meta := c.GetMetaDataDir(); meta != "" {
		return filepath.Join(meta, name)
	}
	return ""
}

// GetScansDir returns the raw scan directory.
func (c *Config) GetScansDir() string { return c.dir(c.ScansDir) }

// GetMetaDataDir returns the metadata directory.
func (c *Config) GetMetaDataDir() string { return c.dir(c.MetaDataDir) }

// GetPlanesDir returns the planes directory, or "" if unset.
func (c *Config) GetPlanesDir() string { return c.dir(c.PlanesDir) }

// GetDetectionDataDir returns the export output directory.
func (c *Config) GetDetectionDataDir() string { return c.dir(c.DetectionDataDir) }

// GetNormalsOutputDir returns the normals output directory.
func (c *Config) GetNormalsOutputDir() string { return c.dir(c.NormalsOutputDir) }

// GetLabelMapFile returns the label table path.
func (c *Config) GetLabelMapFile() string {
	return c.metaFile(c.LabelMapFile, DefaultLabelMapName)
}

// GetTrainSplitFile returns the scan list of the export pass.
func (c *Config) GetTrainSplitFile() string {
	return c.metaFile(c.TrainSplitFile, DefaultTrainSplitName)
}

// GetNormalsSplitFile returns the scan list of the normals pass.
func (c *Config) GetNormalsSplitFile() string {
	return c.metaFile(c.NormalsSplitFile, DefaultNormalsSplitName)
}

// GetLedgerDB returns the run ledger path, by default inside the export
// output directory.
func (c *Config) GetLedgerDB() string {
	if c.LedgerDB != nil && *c.LedgerDB != "" {
		return c.resolve(*c.LedgerDB)
	}
	if out := c.GetDetectionDataDir(); out != "" {
		return filepath.Join(out, DefaultLedgerName)
	}
	return DefaultLedgerName
}

// GetLabelFrom returns the label table source column.
func (c *Config) GetLabelFrom() string {
	if c.LabelFrom == nil || *c.LabelFrom == "" {
		return "raw_category"
	}
	return *c.LabelFrom
}

// GetLabelTo returns the label table target column.
func (c *Config) GetLabelTo() string {
	if c.LabelTo == nil || *c.LabelTo == "" {
		return "nyu40id"
	}
	return *c.LabelTo
}

// GetObjClassIDs returns the classes whose boxes are kept.
func (c *Config) GetObjClassIDs() mapset.Set[int] {
	if c.ObjClassIDs == nil {
		return mapset.NewSet(DefaultObjClassIDs...)
	}
	return mapset.NewSet(*c.ObjClassIDs...)
}

// GetDontCareClassIDs returns the classes whose vertices are dropped.
func (c *Config) GetDontCareClassIDs() mapset.Set[int] {
	if c.DontCareClassIDs == nil {
		return mapset.NewSet[int]()
	}
	return mapset.NewSet(*c.DontCareClassIDs...)
}

// GetMaxNumPoint returns the per-scene point cap.
func (c *Config) GetMaxNumPoint() int {
	if c.MaxNumPoint == nil {
		return 50000
	}
	return *c.MaxNumPoint
}

// GetAlignAxes reports whether vertices are axis-aligned on export.
func (c *Config) GetAlignAxes() bool {
	if c.AlignAxes == nil {
		return true
	}
	return *c.AlignAxes
}

// GetSeed returns the sampling seed; 0 means seeded from entropy.
func (c *Config) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetWorkers returns the number of scans processed concurrently.
func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetNormalK returns the neighbourhood size for normal estimation.
func (c *Config) GetNormalK() int {
	if c.NormalK == nil {
		return 100
	}
	return *c.NormalK
}

// GetNormalSmoothIter returns the number of normal smoothing rounds.
func (c *Config) GetNormalSmoothIter() int {
	if c.NormalSmoothIter == nil {
		return 5
	}
	return *c.NormalSmoothIter
}
