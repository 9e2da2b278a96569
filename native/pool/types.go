package pool

import "math/big"

// ray is the 1e27 fixed-point precision used by the yield index.
var ray = mustBigInt("1000000000000000000000000000")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// PoolState captures the global accounting for the liquidity pool. All
// amounts are ledger scale. TotalLiquidity includes funds currently lent out;
// the amount actually withdrawable is TotalLiquidity - TotalBorrowed.
type PoolState struct {
	TotalLiquidity LedgerAmount `json:"totalLiquidity"`
	TotalBorrowed  LedgerAmount `json:"totalBorrowed"`
	// TotalPrincipal sums depositor principals; it is the denominator for
	// yield distribution.
	TotalPrincipal LedgerAmount `json:"totalPrincipal"`
	// Reserve accumulates the protocol share of interest and slashed vouch
	// capital. It is not part of TotalLiquidity.
	Reserve LedgerAmount `json:"reserve"`
	// YieldIndexRay is the cumulative per-principal-unit yield, ray scale.
	YieldIndexRay *big.Int `json:"yieldIndexRay"`
}

// EnsureDefaults populates nil fields so decoding partial state is safe.
func (s *PoolState) EnsureDefaults() {
	if s.TotalLiquidity.v == nil {
		s.TotalLiquidity = ZeroLedger()
	}
	if s.TotalBorrowed.v == nil {
		s.TotalBorrowed = ZeroLedger()
	}
	if s.TotalPrincipal.v == nil {
		s.TotalPrincipal = ZeroLedger()
	}
	if s.Reserve.v == nil {
		s.Reserve = ZeroLedger()
	}
	if s.YieldIndexRay == nil || s.YieldIndexRay.Sign() == 0 {
		s.YieldIndexRay = new(big.Int).Set(ray)
	}
}

// Clone returns a deep copy of the pool state.
func (s *PoolState) Clone() *PoolState {
	if s == nil {
		return nil
	}
	clone := &PoolState{
		TotalLiquidity: NewLedgerAmount(s.TotalLiquidity.BigInt()),
		TotalBorrowed:  NewLedgerAmount(s.TotalBorrowed.BigInt()),
		TotalPrincipal: NewLedgerAmount(s.TotalPrincipal.BigInt()),
		Reserve:        NewLedgerAmount(s.Reserve.BigInt()),
	}
	if s.YieldIndexRay != nil {
		clone.YieldIndexRay = new(big.Int).Set(s.YieldIndexRay)
	}
	return clone
}

// Deposit is a single account's position in the pool. AccruedYield is settled
// lazily against the global yield index; YieldIndexRay records the index at
// the last settlement.
type Deposit struct {
	Principal     LedgerAmount `json:"principal"`
	AccruedYield  LedgerAmount `json:"accruedYield"`
	YieldIndexRay *big.Int     `json:"yieldIndexRay"`
}

// EnsureDefaults populates nil fields on a freshly decoded deposit.
func (d *Deposit) EnsureDefaults(current *big.Int) {
	if d.Principal.v == nil {
		d.Principal = ZeroLedger()
	}
	if d.AccruedYield.v == nil {
		d.AccruedYield = ZeroLedger()
	}
	if d.YieldIndexRay == nil || d.YieldIndexRay.Sign() == 0 {
		if current != nil {
			d.YieldIndexRay = new(big.Int).Set(current)
		} else {
			d.YieldIndexRay = new(big.Int).Set(ray)
		}
	}
}

// Balance is the total the account may withdraw: principal plus settled
// yield.
func (d *Deposit) Balance() LedgerAmount {
	return d.Principal.Add(d.AccruedYield)
}
