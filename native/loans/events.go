package loans

import (
	"strconv"

	"kleolend/core/events"
)

const (
	// EventTypeLoanRequested is emitted when a pending loan is created.
	EventTypeLoanRequested = "loans.requested"
	// EventTypeLoanActivated is emitted when a loan disburses.
	EventTypeLoanActivated = "loans.activated"
	// EventTypeLoanRepaid is emitted on full repayment.
	EventTypeLoanRepaid = "loans.repaid"
	// EventTypeLoanDefaulted is emitted when an overdue loan settles.
	EventTypeLoanDefaulted = "loans.defaulted"
)

func loanAttributes(loan *Loan) map[string]string {
	return map[string]string{
		"id":        strconv.FormatUint(loan.ID, 10),
		"borrower":  loan.Borrower.String(),
		"principal": loan.Principal.String(),
		"status":    string(loan.Status),
	}
}

func newLoanRequestedEvent(loan *Loan) *events.Record {
	attrs := loanAttributes(loan)
	attrs["tier"] = strconv.Itoa(int(loan.Tier))
	attrs["interestRate"] = strconv.FormatUint(loan.InterestRate, 10)
	attrs["repaymentAmount"] = loan.RepaymentAmount.String()
	return &events.Record{Type: EventTypeLoanRequested, Attributes: attrs}
}

func newLoanActivatedEvent(loan *Loan) *events.Record {
	attrs := loanAttributes(loan)
	attrs["termStart"] = strconv.FormatInt(loan.TermStart, 10)
	return &events.Record{Type: EventTypeLoanActivated, Attributes: attrs}
}

func newLoanRepaidEvent(loan *Loan) *events.Record {
	return &events.Record{Type: EventTypeLoanRepaid, Attributes: loanAttributes(loan)}
}

func newLoanDefaultedEvent(loan *Loan) *events.Record {
	return &events.Record{Type: EventTypeLoanDefaulted, Attributes: loanAttributes(loan)}
}
