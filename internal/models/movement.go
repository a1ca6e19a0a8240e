package models

import "time"

// LocationKind distinguishes the two ends of the supply chain that hold stock.
type LocationKind string

const (
	LocationPlant LocationKind = "plant"
	LocationStore LocationKind = "store"
)

// MovementType enumerates the recognised inventory movement categories.
type MovementType string

const (
	MovementProduction MovementType = "production"
	MovementDispatch   MovementType = "dispatch"
	MovementStoreSale  MovementType = "store_sale"
	MovementReturns    MovementType = "returns"
	MovementWaste      MovementType = "waste"
	MovementAdjustment MovementType = "adjustment"
)

// KnownMovementTypes lists every valid MovementType value.
func KnownMovementTypes() []MovementType {
	return []MovementType{
		MovementProduction,
		MovementDispatch,
		MovementStoreSale,
		MovementReturns,
		MovementWaste,
		MovementAdjustment,
	}
}

// Stage names a point in the supply chain that emits or consumes movements.
type Stage string

const (
	StageProduction Stage = "production"
	StageDispatch   Stage = "dispatch"
	StageStore      Stage = "store"
	StageSale       Stage = "sale"
	StageReturn     Stage = "return"
	StageWaste      Stage = "waste"
)

// MovementRecord is one row of the inventory ledger. Records are immutable
// once loaded; validators annotate them with flags, never rewrite values.
type MovementRecord struct {
	RecordID      string
	Timestamp     time.Time
	LocationID    string
	LocationKind  LocationKind
	SKU           string
	MovementType  MovementType
	QtyIn         float64
	QtyOut        float64
	BalanceBefore float64
	BalanceAfter  float64
}

// NetMovement returns qty_in - qty_out for the record.
func (r MovementRecord) NetMovement() float64 {
	return r.QtyIn - r.QtyOut
}

// LedgerKey identifies the (location, sku) timeline a record belongs to.
type LedgerKey struct {
	LocationID string
	SKU        string
}

// Key returns the record's ledger timeline key.
func (r MovementRecord) Key() LedgerKey {
	return LedgerKey{LocationID: r.LocationID, SKU: r.SKU}
}
