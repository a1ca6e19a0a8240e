package models

import (
	"fmt"
	"time"
)

// WindowGranularity controls how timestamps are bucketed during flow
// reconciliation.
type WindowGranularity string

const (
	WindowHour WindowGranularity = "hour"
	WindowDay  WindowGranularity = "day"
	WindowWeek WindowGranularity = "week"
)

// Valid reports whether the granularity is one of the supported values.
func (g WindowGranularity) Valid() bool {
	switch g {
	case WindowHour, WindowDay, WindowWeek:
		return true
	}
	return false
}

// Truncate maps a timestamp to the start of its window. Weeks start on Monday.
func (g WindowGranularity) Truncate(t time.Time) time.Time {
	switch g {
	case WindowHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case WindowWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// ReconciliationResult quantifies the unit gap between an upstream stage's
// outbound quantity and a downstream stage's inbound quantity for one
// (sku, window) key.
type ReconciliationResult struct {
	SKU         string
	FromStage   Stage
	ToStage     Stage
	WindowStart time.Time
	ExpectedOut float64
	ActualIn    float64
	// FlowEfficiency is ActualIn / ExpectedOut when ExpectedOut > 0, and 0
	// when both sides are zero. It is meaningless when EfficiencyDefined is
	// false (inbound units with no matching outbound).
	FlowEfficiency    float64
	EfficiencyDefined bool
	// OverReceipt marks the undefined-efficiency case: ExpectedOut == 0 with
	// ActualIn > 0. Surfaced distinctly from the 0-efficiency total-loss case.
	OverReceipt bool
	GapUnits    float64
}

// Key returns a stable identity for the result, one per (sku, stage-pair, window).
func (r ReconciliationResult) Key() string {
	return fmt.Sprintf("%s|%s->%s|%s", r.SKU, r.FromStage, r.ToStage, r.WindowStart.UTC().Format(time.RFC3339))
}
