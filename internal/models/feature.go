package models

import "fmt"

// FeatureMatrix holds a fixed-order numeric feature table: one row per record,
// one column per feature. It is assembled by an external collaborator; the
// model detector is polymorphic over which columns form the vector.
type FeatureMatrix struct {
	Names     []string
	RecordIDs []string
	Rows      [][]float64
}

// Dims returns the number of feature columns.
func (m *FeatureMatrix) Dims() int {
	return len(m.Names)
}

// Len returns the number of rows.
func (m *FeatureMatrix) Len() int {
	return len(m.Rows)
}

// Validate checks structural integrity: at least one row and one column,
// record IDs aligned with rows, and every row matching the declared width.
func (m *FeatureMatrix) Validate() error {
	if m == nil || len(m.Rows) == 0 {
		return fmt.Errorf("feature matrix is empty")
	}
	if len(m.Names) == 0 {
		return fmt.Errorf("feature matrix has no feature columns")
	}
	if len(m.RecordIDs) != len(m.Rows) {
		return fmt.Errorf("feature matrix has %d record ids for %d rows", len(m.RecordIDs), len(m.Rows))
	}
	for i, row := range m.Rows {
		if len(row) != len(m.Names) {
			return fmt.Errorf("feature row %d has %d values, want %d", i, len(row), len(m.Names))
		}
	}
	return nil
}
