package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ledgerstack/recon-engine/internal/models"
)

// FieldType enumerates the semantic types a field can be coerced to.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeFloat     FieldType = "float"
	TypeInt       FieldType = "int"
	TypeTimestamp FieldType = "timestamp"
	TypeEnum      FieldType = "enum"
)

// FieldSpec describes one expected field of a dataset row.
type FieldSpec struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`
	Min      *float64  `yaml:"min"`
	Max      *float64  `yaml:"max"`
	Enum     []string  `yaml:"enum"`
}

// DatasetSpec is the full field set expected for one dataset.
type DatasetSpec struct {
	Name   string      `yaml:"name"`
	Fields []FieldSpec `yaml:"fields"`
}

// PackFile is the YAML root structure for a schema pack.
type PackFile struct {
	Datasets []DatasetSpec `yaml:"datasets"`
}

// LoadPack reads dataset specs from a YAML pack. An empty path or a missing
// file yields no specs; built-in defaults cover the standard datasets.
func LoadPack(path string, logger *slog.Logger) (map[string]DatasetSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse schema pack: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	specs := make(map[string]DatasetSpec, len(pack.Datasets))
	for _, spec := range pack.Datasets {
		if spec.Name == "" {
			logger.Warn("skipping unnamed dataset spec in schema pack", slog.String("path", path))
			continue
		}
		specs[spec.Name] = spec
	}
	return specs, nil
}

// MovementSpec returns the built-in spec for inventory movement rows.
func MovementSpec() DatasetSpec {
	zero := 0.0
	kinds := []string{string(models.LocationPlant), string(models.LocationStore)}
	types := make([]string, 0, len(models.KnownMovementTypes()))
	for _, t := range models.KnownMovementTypes() {
		types = append(types, string(t))
	}
	return DatasetSpec{
		Name: "movements",
		Fields: []FieldSpec{
			{Name: "record_id", Type: TypeString, Required: true},
			{Name: "timestamp", Type: TypeTimestamp, Required: true},
			{Name: "location_id", Type: TypeString, Required: true},
			{Name: "location_kind", Type: TypeEnum, Required: true, Enum: kinds},
			{Name: "sku", Type: TypeString, Required: true},
			{Name: "movement_type", Type: TypeEnum, Required: true, Enum: types},
			{Name: "qty_in", Type: TypeFloat, Required: true, Min: &zero},
			{Name: "qty_out", Type: TypeFloat, Required: true, Min: &zero},
			{Name: "balance_before", Type: TypeFloat, Required: true},
			{Name: "balance_after", Type: TypeFloat, Required: true},
		},
	}
}
