package pool

import (
	"fmt"
	"math/big"
)

// Two fixed-point representations exist side by side: the ledger scale
// (10 decimals) used for every stored amount, and the transfer scale
// (18 decimals) used whenever value crosses the module boundary. They differ
// by the constant ScaleRatio. Keeping them as distinct types forces every
// crossing through an explicit, auditable conversion.
var (
	// ScaleRatio converts between ledger and transfer scale: 1e8.
	ScaleRatio = big.NewInt(100_000_000)

	// maxAmount bounds every externally supplied amount. Anything above
	// 2^128 is rejected with ErrOverflow before any mutation happens.
	maxAmount = new(big.Int).Lsh(big.NewInt(1), 128)
)

// LedgerAmount is an amount in the pool's internal 10-decimal fixed point.
type LedgerAmount struct {
	v *big.Int
}

// TransferAmount is an amount in the 18-decimal fixed point used for value
// movement in and out of the pool.
type TransferAmount struct {
	v *big.Int
}

// NewLedgerAmount wraps v as a ledger-scale amount. Nil is treated as zero.
func NewLedgerAmount(v *big.Int) LedgerAmount {
	if v == nil {
		return LedgerAmount{v: big.NewInt(0)}
	}
	return LedgerAmount{v: new(big.Int).Set(v)}
}

// NewTransferAmount wraps v as a transfer-scale amount. Nil is treated as zero.
func NewTransferAmount(v *big.Int) TransferAmount {
	if v == nil {
		return TransferAmount{v: big.NewInt(0)}
	}
	return TransferAmount{v: new(big.Int).Set(v)}
}

// ZeroLedger returns a zero ledger-scale amount.
func ZeroLedger() LedgerAmount { return LedgerAmount{v: big.NewInt(0)} }

func (a LedgerAmount) BigInt() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.v)
}

func (a LedgerAmount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

func (a LedgerAmount) Cmp(b LedgerAmount) int {
	return a.BigInt().Cmp(b.BigInt())
}

func (a LedgerAmount) Add(b LedgerAmount) LedgerAmount {
	return LedgerAmount{v: new(big.Int).Add(a.BigInt(), b.BigInt())}
}

func (a LedgerAmount) Sub(b LedgerAmount) LedgerAmount {
	return LedgerAmount{v: new(big.Int).Sub(a.BigInt(), b.BigInt())}
}

func (a LedgerAmount) String() string {
	return a.BigInt().String()
}

// ToTransfer converts to transfer scale. The conversion is an exact multiply;
// no value is lost in this direction.
func (a LedgerAmount) ToTransfer() TransferAmount {
	return TransferAmount{v: new(big.Int).Mul(a.BigInt(), ScaleRatio)}
}

func (t TransferAmount) BigInt() *big.Int {
	if t.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(t.v)
}

func (t TransferAmount) Sign() int {
	if t.v == nil {
		return 0
	}
	return t.v.Sign()
}

func (t TransferAmount) Cmp(other TransferAmount) int {
	return t.BigInt().Cmp(other.BigInt())
}

func (t TransferAmount) String() string {
	return t.BigInt().String()
}

// ToLedger converts to ledger scale, truncating any remainder below the
// ratio. Truncation always rounds down; the lost dust stays with the sender.
func (t TransferAmount) ToLedger() LedgerAmount {
	return LedgerAmount{v: new(big.Int).Quo(t.BigInt(), ScaleRatio)}
}

// MarshalJSON encodes the amount as a JSON number string-free, matching
// big.Int's encoding.
func (a LedgerAmount) MarshalJSON() ([]byte, error) {
	return a.BigInt().MarshalJSON()
}

func (a *LedgerAmount) UnmarshalJSON(data []byte) error {
	v := new(big.Int)
	if err := v.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("pool: decode ledger amount: %w", err)
	}
	a.v = v
	return nil
}

func (t TransferAmount) MarshalJSON() ([]byte, error) {
	return t.BigInt().MarshalJSON()
}

func (t *TransferAmount) UnmarshalJSON(data []byte) error {
	v := new(big.Int)
	if err := v.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("pool: decode transfer amount: %w", err)
	}
	t.v = v
	return nil
}

// CheckBounds validates an externally supplied raw amount against the
// numeric domain shared by both scales.
func CheckBounds(v *big.Int) error {
	return checkAmountBounds(v)
}

func checkAmountBounds(v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(maxAmount) > 0 {
		return ErrOverflow
	}
	return nil
}
