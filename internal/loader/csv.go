// Package loader is the thin data-loading collaborator around the analysis
// core: it turns CSV files into raw rows and feature matrices. The core is
// agnostic to the on-disk format; everything here stays outside it.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/ledgerstack/recon-engine/internal/models"
)

// ReadRows parses header-addressed CSV into one string map per row, ready for
// schema validation. No typing happens here; that is the validator's job.
func ReadRows(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	rows := make([]map[string]string, 0, 64)
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(rows)+2, err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(fields) {
				row[name] = fields[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadRows reads rows from a CSV file on disk.
func LoadRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadRows(f)
}

// ReadFeatureMatrix parses a CSV of numeric feature columns into a
// FeatureMatrix. idColumn names the record-id column; every other column
// becomes a feature in header order. Unparseable cells become NaN so the
// model detector's NaN policy decides their fate explicitly.
func ReadFeatureMatrix(r io.Reader, idColumn string) (*models.FeatureMatrix, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	idIdx := -1
	names := make([]string, 0, len(header))
	for i, name := range header {
		if name == idColumn {
			idIdx = i
			continue
		}
		names = append(names, name)
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("id column %q not found in header", idColumn)
	}

	matrix := &models.FeatureMatrix{Names: names}
	rowNum := 1
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", rowNum, err)
		}
		row := make([]float64, 0, len(names))
		for i, raw := range fields {
			if i == idIdx {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				v = math.NaN()
			}
			row = append(row, v)
		}
		if len(row) != len(names) {
			return nil, fmt.Errorf("csv row %d has %d feature values, want %d", rowNum, len(row), len(names))
		}
		matrix.RecordIDs = append(matrix.RecordIDs, fields[idIdx])
		matrix.Rows = append(matrix.Rows, row)
	}
	return matrix, nil
}

// LoadFeatureMatrix reads a feature matrix from a CSV file on disk.
func LoadFeatureMatrix(path, idColumn string) (*models.FeatureMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFeatureMatrix(f, idColumn)
}
