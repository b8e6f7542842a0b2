package index

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dipolesim/dipole-engine/internal/grid"
)

var csvHeader = []string{"x", "y", "z", "fwd_exists"}

// ReadCSV parses the tabular index form with columns x, y, z, fwd_exists.
// Extra columns (such as a leading row number) are ignored.
func ReadCSV(r io.Reader) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("index csv: empty file")
		}
		return nil, fmt.Errorf("index csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range csvHeader {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("index csv: missing column %q", name)
		}
	}

	ix := New()
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("index csv line %d: %w", line, err)
		}
		field := func(name string) (string, error) {
			i := cols[name]
			if i >= len(record) {
				return "", fmt.Errorf("index csv line %d: missing %s", line, name)
			}
			return record[i], nil
		}
		var vals [4]string
		for i, name := range csvHeader {
			if vals[i], err = field(name); err != nil {
				return nil, err
			}
		}
		key, err := grid.ParseKey(vals[0], vals[1], vals[2])
		if err != nil {
			return nil, fmt.Errorf("index csv line %d: %w", line, err)
		}
		exists, err := strconv.ParseBool(strings.TrimSpace(vals[3]))
		if err != nil {
			return nil, fmt.Errorf("index csv line %d: fwd_exists: %w", line, err)
		}
		if err := ix.Add(key, exists); err != nil {
			return nil, fmt.Errorf("index csv line %d: %w", line, err)
		}
	}
	return ix, nil
}

// WriteCSV writes the index ordered by key. Booleans are spelled True/False
// spelling, matching tables written by pandas.
func WriteCSV(w io.Writer, ix *Index) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range ix.Entries() {
		exists := "False"
		if e.Exists {
			exists = "True"
		}
		row := []string{
			strconv.FormatFloat(e.Key.X, 'f', grid.Decimals, 64),
			strconv.FormatFloat(e.Key.Y, 'f', grid.Decimals, 64),
			strconv.FormatFloat(e.Key.Z, 'f', grid.Decimals, 64),
			exists,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadCSVFile reads a CSV index from disk.
func LoadCSVFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// SaveCSVFile writes a CSV index atomically (temp file + rename).
func SaveCSVFile(path string, ix *Index) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := WriteCSV(f, ix); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index: %w", err)
	}
	return os.Rename(tmp, path)
}
