package loans

import (
	"kleolend/crypto"
	"kleolend/native/pool"
)

// Status is the loan life-cycle state. Transitions run strictly forward:
// pending loans activate, active loans end repaid or defaulted, and the two
// end states are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusRepaid    Status = "repaid"
	StatusDefaulted Status = "defaulted"
)

// Loan is the orchestrator's record of one credit line. InterestRate and
// RepaymentAmount are fixed when the request is accepted; later pool-rate
// movement never touches an existing loan.
type Loan struct {
	ID        uint64            `json:"id"`
	Borrower  crypto.Address    `json:"borrower"`
	Principal pool.LedgerAmount `json:"principal"`
	// InterestRate is the discounted borrow rate at creation, as a
	// RateScale fixed-point fraction.
	InterestRate    uint64            `json:"interestRate"`
	RepaymentAmount pool.LedgerAmount `json:"repaymentAmount"`

	Tier            uint8 `json:"tier"`
	RequiredVouches int   `json:"requiredVouches"`

	CreatedAt    int64 `json:"createdAt"`
	TermStart    int64 `json:"termStart"`
	TermDuration int64 `json:"termDuration"`

	Status Status `json:"status"`
}

// Clone returns an independent copy.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}
