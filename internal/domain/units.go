package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimals of the native coin.
const NativeDecimals = 18

// MinTotalAmount is the minimum total investment accepted by create: 0.2 native units.
var MinTotalAmount = MustParseNative("0.2")

// ParseNative converts a decimal string in native units to wei.
// More than NativeDecimals fractional digits is an error rather than a silent truncation.
func ParseNative(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidInput, s, err)
	}
	wei := d.Shift(NativeDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidInput, s, NativeDecimals)
	}
	return wei.BigInt(), nil
}

// MustParseNative is ParseNative that panics on error. For constants only.
func MustParseNative(s string) *big.Int {
	v, err := ParseNative(s)
	if err != nil {
		panic(err)
	}
	return v
}

// NativeDecimal converts wei to a decimal in native units.
func NativeDecimal(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -NativeDecimals)
}

// FormatNative renders wei in native units without trailing zeros.
func FormatNative(wei *big.Int) string {
	return NativeDecimal(wei).String()
}
