package prices

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the base-unit exponent of both ETH (wei) and launchpad tokens.
const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Price returns the bonding-curve spot price in wei per whole token:
// virtualEth * 1e18 / virtualToken, truncated. Zero token reserves price at zero.
func Price(virtualEth, virtualToken *big.Int) *big.Int {
	if virtualEth == nil || virtualToken == nil || virtualToken.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(virtualEth, unit)
	return p.Quo(p, virtualToken)
}

// MarketCap returns totalSupply * price in wei, computed without the
// intermediate truncation of Price: totalSupply * virtualEth / virtualToken.
func MarketCap(totalSupply, virtualEth, virtualToken *big.Int) *big.Int {
	if totalSupply == nil || virtualEth == nil || virtualToken == nil || virtualToken.Sign() == 0 {
		return new(big.Int)
	}
	mc := new(big.Int).Mul(totalSupply, virtualEth)
	return mc.Quo(mc, virtualToken)
}

// BondingProgress returns marketCap / limit as a percentage with two decimals,
// capped at 100.
func BondingProgress(marketCap, limit *big.Int) decimal.Decimal {
	if marketCap == nil || limit == nil || limit.Sign() == 0 {
		return decimal.Zero
	}
	pct := decimal.NewFromBigInt(marketCap, 0).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromBigInt(limit, 0), 2)
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return pct
}

// FormatUnits renders a base-unit integer as an exact 18-decimal string with
// trailing zeros trimmed, e.g. 1500000000000000000 -> "1.5".
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -Decimals).String()
}
