package pool

import (
	"math/big"

	"kleolend/config"
)

// InterestModel encapsulates the two-slope utilization curve. The model is a
// pure function of pool state: any caller recomputes the identical rate from
// the same totals, which is what lets the orchestrator fix a loan's rate at
// creation time.
type InterestModel struct {
	// BaseRate is the minimum borrow rate applied when utilization is zero.
	BaseRate *big.Rat
	// Slope1 is the rate increase per unit of utilization up to the
	// optimal point.
	Slope1 *big.Rat
	// Slope2 governs the additional increase applied beyond the optimal
	// point.
	Slope2 *big.Rat
	// Optimal is the utilization ratio where the slope changes to defend
	// remaining liquidity.
	Optimal *big.Rat
	// MaxRate clamps every computed rate.
	MaxRate *big.Rat
}

// NewInterestModel builds the model from the fixed-point parameter set.
func NewInterestModel(params config.Params) *InterestModel {
	scale := big.NewInt(config.RateScale)
	rat := func(v uint64) *big.Rat {
		return new(big.Rat).SetFrac(new(big.Int).SetUint64(v), scale)
	}
	return &InterestModel{
		BaseRate: rat(params.BaseRate),
		Slope1:   rat(params.Slope1),
		Slope2:   rat(params.Slope2),
		Optimal:  rat(params.OptimalUtilization),
		MaxRate:  rat(params.MaxRate),
	}
}

// Utilization computes U = totalBorrowed / totalLiquidity. When no liquidity
// exists the utilization is defined as zero.
func (m *InterestModel) Utilization(totalBorrowed, totalLiquidity LedgerAmount) *big.Rat {
	if totalBorrowed.Sign() == 0 || totalLiquidity.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed.BigInt(), totalLiquidity.BigInt())
}

// Rate derives the borrow rate for the supplied totals, clamped to
// [0, MaxRate].
func (m *InterestModel) Rate(totalBorrowed, totalLiquidity LedgerAmount) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	u := m.Utilization(totalBorrowed, totalLiquidity)
	rate := new(big.Rat).Set(m.BaseRate)

	if m.Optimal.Sign() == 0 || u.Cmp(m.Optimal) <= 0 {
		// Linear region before the optimal point: base + (u/o) * slope1.
		if m.Optimal.Sign() > 0 && u.Sign() > 0 {
			share := new(big.Rat).Quo(u, m.Optimal)
			rate.Add(rate, share.Mul(share, m.Slope1))
		}
		return m.clamp(rate)
	}

	// Past the optimal point the full slope1 applies plus the excess share
	// of slope2: base + slope1 + ((u-o)/(1-o)) * slope2.
	rate.Add(rate, m.Slope1)
	excess := new(big.Rat).Sub(u, m.Optimal)
	remaining := new(big.Rat).Sub(big.NewRat(1, 1), m.Optimal)
	if remaining.Sign() > 0 {
		share := new(big.Rat).Quo(excess, remaining)
		rate.Add(rate, share.Mul(share, m.Slope2))
	}
	return m.clamp(rate)
}

func (m *InterestModel) clamp(rate *big.Rat) *big.Rat {
	if rate.Sign() < 0 {
		return new(big.Rat)
	}
	if m.MaxRate != nil && rate.Cmp(m.MaxRate) > 0 {
		return new(big.Rat).Set(m.MaxRate)
	}
	return rate
}
