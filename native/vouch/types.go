package vouch

import (
	"kleolend/crypto"
	"kleolend/native/pool"
)

// Status tracks a vouch through its life cycle.
type Status string

const (
	// StatusActive covers vouches backing a pending or active loan.
	StatusActive Status = "active"
	// StatusFulfilled marks vouches released by a full repayment.
	StatusFulfilled Status = "fulfilled"
	// StatusDefaulted marks vouches consumed by a loan default.
	StatusDefaulted Status = "defaulted"
)

// Vouch records one voucher's commitment behind one loan: the reputation
// stars locked in the reputation ledger and the pool capital earmarked
// against default. Capital never moves at vouch time; it is seized only if
// the loan defaults.
type Vouch struct {
	LoanID         uint64            `json:"loanId"`
	Borrower       crypto.Address    `json:"borrower"`
	Voucher        crypto.Address    `json:"voucher"`
	StarsStaked    uint64            `json:"starsStaked"`
	CapitalPercent uint64            `json:"capitalPercent"`
	CapitalStaked  pool.LedgerAmount `json:"capitalStaked"`
	CreatedAt      int64             `json:"createdAt"`
	Status         Status            `json:"status"`
}

// Clone returns an independent copy.
func (v *Vouch) Clone() *Vouch {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}
