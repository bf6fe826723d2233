package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// DerivedPlanState is recomputed from a PlanRecord on every read. Never persisted.
type DerivedPlanState struct {
	// Progress is ExecutedAmount / TotalAmount, exact, clamped to [0, 1].
	Progress   *big.Rat
	Executable bool
	Maturable  bool
	Remaining  *big.Int
}

// Derive computes the time-dependent state of a plan at now.
// Active sub-states are distinguished only by comparing now against
// NextExecutionTime and MaturityTime.
func Derive(p *PlanRecord, now time.Time) DerivedPlanState {
	ts := now.Unix()

	total := amountOrZero(p.TotalAmount)
	executed := amountOrZero(p.ExecutedAmount)

	progress := new(big.Rat)
	if total.Sign() > 0 {
		progress.SetFrac(executed, total)
		if progress.Cmp(ratOne) > 0 {
			progress.SetInt64(1)
		}
		if progress.Sign() < 0 {
			progress.SetInt64(0)
		}
	}

	remaining := new(big.Int).Sub(total, executed)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}

	return DerivedPlanState{
		Progress:   progress,
		Executable: p.Active && ts >= p.NextExecutionTime,
		Maturable:  p.Active && ts >= p.MaturityTime,
		Remaining:  remaining,
	}
}

// ProgressFloat converts progress to a float for display.
func (s DerivedPlanState) ProgressFloat() float64 {
	f, _ := s.Progress.Float64()
	return f
}

// ProgressPercent returns progress as a percentage rounded to 2 places.
func (s DerivedPlanState) ProgressPercent() decimal.Decimal {
	num := decimal.NewFromBigInt(s.Progress.Num(), 0)
	den := decimal.NewFromBigInt(s.Progress.Denom(), 0)
	return num.Mul(decimal.NewFromInt(100)).DivRound(den, 2)
}

var ratOne = big.NewRat(1, 1)

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
