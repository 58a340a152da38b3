package bondingcurve

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/launchpad/indexer/internal/database"
)

const basisPointDenominator = 10_000

// ErrNegativeReserves means applying a trade would drive a real reserve below zero.
var ErrNegativeReserves = errors.New("real reserves would become negative")

// Reserves is the curve state a trade moves.
type Reserves struct {
	VirtualEth   *big.Int
	VirtualToken *big.Int
	RealEth      *big.Int
	RealToken    *big.Int
}

// ReservesOf copies the reserve fields out of a pool row.
func ReservesOf(p *database.Pool) Reserves {
	return Reserves{
		VirtualEth:   cloneOrZero(p.VirtualEthReserves),
		VirtualToken: cloneOrZero(p.VirtualTokenReserves),
		RealEth:      cloneOrZero(p.RealEthReserves),
		RealToken:    cloneOrZero(p.RealTokenReserves),
	}
}

// Store writes the reserves back onto a pool row.
func (r Reserves) Store(p *database.Pool) {
	p.VirtualEthReserves = r.VirtualEth
	p.VirtualTokenReserves = r.VirtualToken
	p.RealEthReserves = r.RealEth
	p.RealTokenReserves = r.RealToken
}

// ComputeFee splits a gross ETH amount into the protocol fee, rounded down,
// and the net amount that reaches the pool.
func ComputeFee(gross *big.Int, feeBasisPoints int64) (fee, net *big.Int) {
	fee = new(big.Int).Mul(gross, big.NewInt(feeBasisPoints))
	fee.Quo(fee, big.NewInt(basisPointDenominator))
	net = new(big.Int).Sub(gross, fee)
	return fee, net
}

// ApplyTrade returns the reserves after a trade with the given net ETH amount.
// Real reserves move by the net ETH and token amounts; virtual reserves are
// replaced by the values the contract reported.
func ApplyTrade(r Reserves, net, tokenAmount *big.Int, isBuy bool, virtualEth, virtualToken *big.Int) (Reserves, error) {
	next := Reserves{
		VirtualEth:   new(big.Int).Set(virtualEth),
		VirtualToken: new(big.Int).Set(virtualToken),
	}
	if isBuy {
		next.RealEth = new(big.Int).Add(r.RealEth, net)
		next.RealToken = new(big.Int).Add(r.RealToken, tokenAmount)
	} else {
		next.RealEth = new(big.Int).Sub(r.RealEth, net)
		next.RealToken = new(big.Int).Sub(r.RealToken, tokenAmount)
	}

	if next.RealEth.Sign() < 0 || next.RealToken.Sign() < 0 {
		return r, fmt.Errorf("%w: eth=%s token=%s", ErrNegativeReserves, next.RealEth, next.RealToken)
	}
	return next, nil
}

// Replay folds stored trades, already in chain order, over the reserves a
// pool was created with. It is how reserves are re-derived from history.
func Replay(initial Reserves, trades []database.Trade) (Reserves, error) {
	state := Reserves{
		VirtualEth:   cloneOrZero(initial.VirtualEth),
		VirtualToken: cloneOrZero(initial.VirtualToken),
		RealEth:      cloneOrZero(initial.RealEth),
		RealToken:    cloneOrZero(initial.RealToken),
	}
	for i := range trades {
		t := &trades[i]
		next, err := ApplyTrade(state, t.EthAmount, t.TokenAmount, t.IsBuy, t.VirtualEthReserves, t.VirtualTokenReserves)
		if err != nil {
			return state, fmt.Errorf("trade %s/%d: %w", t.TransactionHash, t.LogIndex, err)
		}
		state = next
	}
	return state, nil
}

// Equal reports whether two reserve sets hold the same values.
func (r Reserves) Equal(o Reserves) bool {
	return cmpEq(r.VirtualEth, o.VirtualEth) &&
		cmpEq(r.VirtualToken, o.VirtualToken) &&
		cmpEq(r.RealEth, o.RealEth) &&
		cmpEq(r.RealToken, o.RealToken)
}

func cmpEq(a, b *big.Int) bool {
	return cloneOrZero(a).Cmp(cloneOrZero(b)) == 0
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
