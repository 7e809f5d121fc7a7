// Package data loads CSV and JSON fixture files whose rows pin request
// parameter and body values.
package data

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Mode defines how rows are selected.
type Mode string

const (
	// ModeSequential walks rows in order, wrapping around.
	ModeSequential Mode = "sequential"
	// ModeRandom picks a random row each time.
	ModeRandom Mode = "random"
)

// File describes one fixture file in a run configuration.
type File struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	Mode Mode   `yaml:"mode"`
}

// Source is a loaded fixture file.
type Source struct {
	name    string
	rows    []map[string]any
	mode    Mode
	counter atomic.Uint64
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewSource creates a source from loaded rows.
func NewSource(name string, rows []map[string]any, mode Mode) *Source {
	if mode == "" {
		mode = ModeSequential
	}
	return &Source{
		name: name,
		rows: rows,
		mode: mode,
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Len() int { return len(s.rows) }

// Next returns a copy of the next row. Safe for concurrent use.
func (s *Source) Next() map[string]any {
	if len(s.rows) == 0 {
		return nil
	}

	var idx int
	switch s.mode {
	case ModeRandom:
		s.mu.Lock()
		idx = s.rng.Intn(len(s.rows))
		s.mu.Unlock()
	default:
		n := s.counter.Add(1) - 1
		idx = int(n % uint64(len(s.rows)))
	}

	return maps.Clone(s.rows[idx])
}

// LoadFile loads a CSV or JSON file. Relative paths resolve against configDir.
func LoadFile(name, path string, mode Mode, configDir string) (*Source, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}

	switch mode {
	case "", ModeSequential, ModeRandom:
	default:
		return nil, fmt.Errorf("unknown mode %q (use sequential or random)", mode)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var rows []map[string]any
	var err error

	switch ext {
	case ".csv":
		rows, err = loadCSV(path)
	case ".json":
		rows, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported file format %q (use .csv or .json)", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("data file %s is empty", path)
	}

	return NewSource(name, rows, mode), nil
}

// loadCSV reads a header row followed by data rows.
func loadCSV(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have header row and at least one data row")
	}

	headers := records[0]
	rows := make([]map[string]any, 0, len(records)-1)

	for _, record := range records[1:] {
		row := make(map[string]any, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// loadJSON reads an array of objects.
func loadJSON(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("JSON must be an array of objects: %w", err)
	}

	return rows, nil
}

// Sources is a collection of named fixture sources.
type Sources map[string]*Source

// Load opens every file, returning all failures joined.
func Load(files []File, configDir string) (Sources, error) {
	if len(files) == 0 {
		return nil, nil
	}
	sources := make(Sources, len(files))
	var errs []error
	for i, f := range files {
		name := f.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(f.File), filepath.Ext(f.File))
		}
		if _, dup := sources[name]; dup {
			errs = append(errs, fmt.Errorf("data[%d]: duplicate name %q", i, name))
			continue
		}
		src, err := LoadFile(name, f.File, f.Mode, configDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("data[%d]: %w", i, err))
			continue
		}
		sources[name] = src
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return sources, nil
}

// Next draws one row from each source and merges them. Sources are merged
// in name order, so a later name wins on a shared field.
func (s Sources) Next() map[string]any {
	if len(s) == 0 {
		return nil
	}
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make(map[string]any)
	for _, name := range names {
		maps.Copy(merged, s[name].Next())
	}
	return merged
}
