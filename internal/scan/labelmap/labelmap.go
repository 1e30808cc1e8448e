// Package labelmap resolves raw annotation category names to the integer
// class taxonomy, using a tab-separated reference table.
package labelmap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/scanprep/internal/fsutil"
)

// Default column names of the ScanNet combined label table.
const (
	DefaultFrom = "raw_category"
	DefaultTo   = "nyu40id"
)

// MissingMappingError reports an annotation category that has no row in the
// reference table.
type MissingMappingError struct {
	Category string
}

func (e *MissingMappingError) Error() string {
	return fmt.Sprintf("no label mapping for category %q", e.Category)
}

// ErrEmptyTable is returned when the table has no usable rows.
var ErrEmptyTable = errors.New("label table has no mapped rows")

// Mapping is an immutable raw-category to class-ID lookup. A mapping is
// either string-keyed or integer-keyed for its entire lifetime, decided by
// whether the first key in the table parses as an integer.
type Mapping struct {
	intKeyed bool
	byString map[string]int
	byInt    map[int]int
}

// IntKeyed reports whether the mapping was built from numeric keys.
func (m *Mapping) IntKeyed() bool { return m.intKeyed }

// Len returns the number of keys.
func (m *Mapping) Len() int {
	if m.intKeyed {
		return len(m.byInt)
	}
	return len(m.byString)
}

// Resolve returns the class ID for a raw category.
func (m *Mapping) Resolve(raw string) (int, error) {
	if m.intKeyed {
		k, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, &MissingMappingError{Category: raw}
		}
		if v, ok := m.byInt[k]; ok {
			return v, nil
		}
		return 0, &MissingMappingError{Category: raw}
	}
	if v, ok := m.byString[raw]; ok {
		return v, nil
	}
	return 0, &MissingMappingError{Category: raw}
}

// Load reads a mapping table from the filesystem.
func Load(fsys fsutil.FileSystem, path, from, to string) (*Mapping, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open label table: %w", err)
	}
	defer f.Close()

	m, err := Read(f, from, to)
	if err != nil {
		return nil, fmt.Errorf("read label table %s: %w", path, err)
	}
	return m, nil
}

// Read parses a tab-separated table with a header row, mapping column from
// to column to. Rows with an empty target cell are skipped.
func Read(r io.Reader, from, to string) (*Mapping, error) {
	if from == "" {
		from = DefaultFrom
	}
	if to == "" {
		to = DefaultTo
	}

	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	fromCol, toCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case from:
			fromCol = i
		case to:
			toCol = i
		}
	}
	if fromCol < 0 {
		return nil, fmt.Errorf("column %q not found in header", from)
	}
	if toCol < 0 {
		return nil, fmt.Errorf("column %q not found in header", to)
	}

	type row struct {
		key string
		val int
	}
	var rows []row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if fromCol >= len(rec) || toCol >= len(rec) {
			continue
		}
		cell := strings.TrimSpace(rec[toCol])
		if cell == "" {
			continue
		}
		v, err := strconv.Atoi(cell)
		if err != nil {
			return nil, fmt.Errorf("line %d: target %q is not an integer", line, cell)
		}
		rows = append(rows, row{key: rec[fromCol], val: v})
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	m := &Mapping{}
	if _, err := strconv.Atoi(strings.TrimSpace(rows[0].key)); err == nil {
		m.intKeyed = true
		m.byInt = make(map[int]int, len(rows))
		for _, r := range rows {
			k, err := strconv.Atoi(strings.TrimSpace(r.key))
			if err != nil {
				return nil, fmt.Errorf("integer-keyed table has non-integer key %q", r.key)
			}
			m.byInt[k] = r.val
		}
		return m, nil
	}

	m.byString = make(map[string]int, len(rows))
	for _, r := range rows {
		m.byString[r.key] = r.val
	}
	return m, nil
}

// FromMap builds a string-keyed mapping directly. Intended for tests and
// callers that already hold the table in memory.
func FromMap(entries map[string]int) *Mapping {
	m := &Mapping{byString: make(map[string]int, len(entries))}
	for k, v := range entries {
		m.byString[k] = v
	}
	return m
}
