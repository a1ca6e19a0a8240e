package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerstack/recon-engine/internal/models"
)

// FieldError describes one failing field within a row.
type FieldError struct {
	Field  string
	Reason string
}

// SchemaError reports every failing field of a rejected row, not just the
// first. The affected record is rejected; the rest of the batch continues.
type SchemaError struct {
	RecordID string
	Fields   []FieldError
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	id := e.RecordID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("record %s failed schema validation: %s", id, strings.Join(parts, "; "))
}

// Record is a schema-validated row with coerced values: string, float64,
// int64, or time.Time depending on the field spec.
type Record map[string]any

// Validator checks raw tabular rows against a DatasetSpec. Validation is
// pure; unknown extra fields are ignored, never rejected.
type Validator struct {
	spec DatasetSpec
}

// NewValidator constructs a Validator for the given spec.
func NewValidator(spec DatasetSpec) *Validator {
	return &Validator{spec: spec}
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Validate coerces and range-checks a raw row. On failure it returns a
// SchemaError enumerating every failing field.
func (v *Validator) Validate(raw map[string]string) (Record, error) {
	rec := make(Record, len(v.spec.Fields))
	var fieldErrs []FieldError

	for _, field := range v.spec.Fields {
		value, ok := raw[field.Name]
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			if field.Required {
				fieldErrs = append(fieldErrs, FieldError{Field: field.Name, Reason: "required field missing"})
			}
			continue
		}

		coerced, err := coerce(field, value)
		if err != nil {
			fieldErrs = append(fieldErrs, FieldError{Field: field.Name, Reason: err.Error()})
			continue
		}
		rec[field.Name] = coerced
	}

	if len(fieldErrs) > 0 {
		id := strings.TrimSpace(raw["record_id"])
		return nil, &SchemaError{RecordID: id, Fields: fieldErrs}
	}
	return rec, nil
}

func coerce(field FieldSpec, value string) (any, error) {
	switch field.Type {
	case TypeString, "":
		return value, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to float", value)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value %q is not a finite number", value)
		}
		if err := checkRange(field, f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to int", value)
		}
		if err := checkRange(field, float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case TypeTimestamp:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, value); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("cannot coerce %q to timestamp", value)
	case TypeEnum:
		for _, allowed := range field.Enum {
			if value == allowed {
				return value, nil
			}
		}
		return nil, fmt.Errorf("value %q not in {%s}", value, strings.Join(field.Enum, ", "))
	default:
		return nil, fmt.Errorf("unknown field type %q", field.Type)
	}
}

func checkRange(field FieldSpec, f float64) error {
	if field.Min != nil && f < *field.Min {
		return fmt.Errorf("value %g below minimum %g", f, *field.Min)
	}
	if field.Max != nil && f > *field.Max {
		return fmt.Errorf("value %g above maximum %g", f, *field.Max)
	}
	return nil
}

// BuildMovementRecord assembles a typed MovementRecord from a row validated
// against MovementSpec.
func BuildMovementRecord(rec Record) models.MovementRecord {
	return models.MovementRecord{
		RecordID:      asString(rec["record_id"]),
		Timestamp:     asTime(rec["timestamp"]),
		LocationID:    asString(rec["location_id"]),
		LocationKind:  models.LocationKind(asString(rec["location_kind"])),
		SKU:           asString(rec["sku"]),
		MovementType:  models.MovementType(asString(rec["movement_type"])),
		QtyIn:         asFloat(rec["qty_in"]),
		QtyOut:        asFloat(rec["qty_out"]),
		BalanceBefore: asFloat(rec["balance_before"]),
		BalanceAfter:  asFloat(rec["balance_after"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
