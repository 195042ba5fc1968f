package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// weiToDecimal converts a raw on-chain integer (wei-like fixed-point,
// `places` implied decimals) into a shopspring/decimal value. Every
// monetary value crossing the chain boundary goes through here — never
// through float64, per §3's fixed-precision requirement.
func weiToDecimal(raw *big.Int, places int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -places)
}
