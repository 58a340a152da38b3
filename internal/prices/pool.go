package prices

import (
	"math/big"

	"github.com/launchpad/indexer/internal/database"
)

// EnrichPool fills the derived price fields of a pool DTO from its reserves.
// Unparseable reserves leave the fields empty.
func EnrichPool(d *database.PoolDTO) {
	vEth, ok1 := new(big.Int).SetString(d.VirtualEthReserves, 10)
	vToken, ok2 := new(big.Int).SetString(d.VirtualTokenReserves, 10)
	supply, ok3 := new(big.Int).SetString(d.TokenTotalSupply, 10)
	if !ok1 || !ok2 || !ok3 {
		return
	}

	price := Price(vEth, vToken)
	mc := MarketCap(supply, vEth, vToken)

	d.PriceWei = price.String()
	d.Price = FormatUnits(price)
	d.MarketCapWei = mc.String()
	d.MarketCap = FormatUnits(mc)

	if limit, ok := new(big.Int).SetString(d.MarketCapLimit, 10); ok {
		d.BondingPercent = BondingProgress(mc, limit).StringFixed(2)
	}
}

// EnrichPools applies EnrichPool to every element.
func EnrichPools(items []database.PoolDTO) {
	for i := range items {
		EnrichPool(&items[i])
	}
}
