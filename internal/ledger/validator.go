package ledger

import (
	"fmt"
	"math"

	"github.com/ledgerstack/recon-engine/internal/models"
	"github.com/ledgerstack/recon-engine/internal/utils"
)

// NegativeBalancePolicy selects how records with a negative closing balance
// are handled: kept and flagged, or flagged and excluded from the validated
// output.
type NegativeBalancePolicy string

const (
	PolicyFlag   NegativeBalancePolicy = "flag"
	PolicyReject NegativeBalancePolicy = "reject"
)

// Options configures ledger validation.
type Options struct {
	// BalanceTolerance is the maximum absolute arithmetic mismatch treated as
	// consistent. Zero means exact comparison, the correct setting for
	// integer-unit ledgers.
	BalanceTolerance float64
	NegativeBalancePolicy
	// LargeAdjustmentThreshold flags adjustment records whose absolute net
	// movement exceeds it. Zero disables the check.
	LargeAdjustmentThreshold float64
}

// DefaultOptions returns the options used when the caller passes zero values.
func DefaultOptions() Options {
	return Options{
		BalanceTolerance:         0,
		NegativeBalancePolicy:    PolicyFlag,
		LargeAdjustmentThreshold: 100,
	}
}

func (o Options) validate() error {
	if o.BalanceTolerance < 0 {
		return utils.NewConfigurationError("balanceTolerance", "must be >= 0")
	}
	if math.IsNaN(o.BalanceTolerance) {
		return utils.NewConfigurationError("balanceTolerance", "must be a number")
	}
	switch o.NegativeBalancePolicy {
	case PolicyFlag, PolicyReject, "":
	default:
		return utils.NewConfigurationError("negativeBalancePolicy",
			fmt.Sprintf("unknown policy %q", o.NegativeBalancePolicy))
	}
	if o.LargeAdjustmentThreshold < 0 {
		return utils.NewConfigurationError("largeAdjustmentThreshold", "must be >= 0")
	}
	return nil
}

// Result carries the validated sequence and its findings. Aggregate rates are
// a derived view; see Summarize.
type Result struct {
	Records []models.MovementRecord
	Flags   []models.LedgerFlag
}

// Validate checks each record of a timestamp-ordered movement sequence for
// arithmetic consistency, non-negative balances, and continuity with the
// previous record of the same (location, sku) timeline. Supplying correct
// order is the caller's job; the validator does not re-sort, so upstream
// ordering bugs surface as continuity gaps instead of being masked.
//
// Findings never abort the batch. Source values are never rewritten.
func Validate(records []models.MovementRecord, opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	if opts.NegativeBalancePolicy == "" {
		opts.NegativeBalancePolicy = PolicyFlag
	}

	res := Result{Records: make([]models.MovementRecord, 0, len(records))}
	prev := make(map[models.LedgerKey]models.MovementRecord, 8)

	for _, rec := range records {
		flags := checkRecord(rec, prev, opts)
		res.Flags = append(res.Flags, flags...)

		rejected := false
		if opts.NegativeBalancePolicy == PolicyReject {
			for _, f := range flags {
				if f.Kind == models.FlagNegativeBalance {
					rejected = true
					break
				}
			}
		}
		if !rejected {
			res.Records = append(res.Records, rec)
		}
		prev[rec.Key()] = rec
	}
	return res, nil
}

func checkRecord(rec models.MovementRecord, prev map[models.LedgerKey]models.MovementRecord, opts Options) []models.LedgerFlag {
	var flags []models.LedgerFlag

	expected := rec.BalanceBefore + rec.QtyIn - rec.QtyOut
	if diff := rec.BalanceAfter - expected; math.Abs(diff) > opts.BalanceTolerance {
		flags = append(flags, flag(rec, models.FlagBalanceArithmetic, diff,
			fmt.Sprintf("balance_after %g != %g + %g - %g", rec.BalanceAfter, rec.BalanceBefore, rec.QtyIn, rec.QtyOut)))
	}

	if rec.BalanceAfter < 0 {
		flags = append(flags, flag(rec, models.FlagNegativeBalance, rec.BalanceAfter,
			fmt.Sprintf("closing balance %g below zero at %s %s", rec.BalanceAfter, rec.LocationKind, rec.LocationID)))
	}

	if last, ok := prev[rec.Key()]; ok {
		if gap := rec.BalanceBefore - last.BalanceAfter; math.Abs(gap) > opts.BalanceTolerance {
			flags = append(flags, flag(rec, models.FlagContinuityGap, gap,
				fmt.Sprintf("opening balance %g does not continue previous closing balance %g (record %s)",
					rec.BalanceBefore, last.BalanceAfter, last.RecordID)))
		}
	}

	if opts.LargeAdjustmentThreshold > 0 &&
		rec.MovementType == models.MovementAdjustment &&
		math.Abs(rec.NetMovement()) > opts.LargeAdjustmentThreshold {
		flags = append(flags, flag(rec, models.FlagLargeAdjustment, rec.NetMovement(),
			fmt.Sprintf("adjustment of %g units exceeds %g", rec.NetMovement(), opts.LargeAdjustmentThreshold)))
	}

	return flags
}

func flag(rec models.MovementRecord, kind models.LedgerFlagKind, delta float64, detail string) models.LedgerFlag {
	return models.LedgerFlag{
		RecordID:     rec.RecordID,
		Kind:         kind,
		SKU:          rec.SKU,
		LocationID:   rec.LocationID,
		LocationKind: rec.LocationKind,
		Delta:        delta,
		Detail:       detail,
	}
}
