package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the asset sentinel for plans funded in the chain's native coin.
var NativeAsset = common.Address{}

// DefaultIdentifier is always probed, whatever the cache holds.
const DefaultIdentifier = "default"

// PlanRecord is a plan as read from the ledger.
// Amounts are in the smallest unit (wei). Times are unix seconds.
type PlanRecord struct {
	Owner              common.Address
	Identifier         string
	Asset              common.Address // NativeAsset for native plans
	TotalAmount        *big.Int
	AmountPerInterval  *big.Int
	FrequencySeconds   uint64
	NextExecutionTime  int64
	MaturityTime       int64
	DestinationAddress common.Address
	ExecutedAmount     *big.Int // never exceeds TotalAmount
	Active             bool
}

// IsNative reports whether the plan is funded in the native coin.
func (p *PlanRecord) IsNative() bool {
	return p.Asset == NativeAsset
}

// IsZero reports whether the record is the ledger's default value,
// i.e. nothing was ever stored under the identifier.
func (p *PlanRecord) IsZero() bool {
	return !p.Active &&
		p.Asset == (common.Address{}) &&
		p.DestinationAddress == (common.Address{}) &&
		isZeroAmount(p.TotalAmount) &&
		isZeroAmount(p.AmountPerInterval) &&
		isZeroAmount(p.ExecutedAmount) &&
		p.FrequencySeconds == 0 &&
		p.NextExecutionTime == 0 &&
		p.MaturityTime == 0
}

// Clone returns a deep copy.
func (p *PlanRecord) Clone() *PlanRecord {
	c := *p
	c.TotalAmount = cloneAmount(p.TotalAmount)
	c.AmountPerInterval = cloneAmount(p.AmountPerInterval)
	c.ExecutedAmount = cloneAmount(p.ExecutedAmount)
	return &c
}

// CreateParams are the caller-supplied parameters of a new plan.
type CreateParams struct {
	Identifier        string         `validate:"required,max=128"`
	AmountPerInterval *big.Int       `validate:"required"`
	FrequencySeconds  uint64         `validate:"gt=0"`
	MaturityTime      int64          `validate:"gt=0"`
	Destination       common.Address `validate:"nonzeroaddr"`
	TotalAmount       *big.Int       `validate:"required"`
}

// NewIdentifier names a plan the way the discovery sweep expects:
// "sip_" + last six characters of the owner's hex address + "_" + unix seconds.
func NewIdentifier(owner common.Address, at time.Time) string {
	return fmt.Sprintf("sip_%s_%d", ownerSuffix(owner), at.Unix())
}

func ownerSuffix(owner common.Address) string {
	h := owner.Hex()
	return h[len(h)-6:]
}

func isZeroAmount(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
