package vouch

import (
	"strconv"

	"kleolend/core/events"
)

const (
	// EventTypeVouchCreated is emitted when a vouch is registered.
	EventTypeVouchCreated = "vouch.created"
	// EventTypeLoanResolved is emitted when the vouches behind a loan
	// settle.
	EventTypeLoanResolved = "vouch.loanResolved"
)

func newVouchCreatedEvent(v *Vouch) *events.Record {
	return &events.Record{Type: EventTypeVouchCreated, Attributes: map[string]string{
		"loanId":        strconv.FormatUint(v.LoanID, 10),
		"borrower":      v.Borrower.String(),
		"voucher":       v.Voucher.String(),
		"starsStaked":   strconv.FormatUint(v.StarsStaked, 10),
		"capitalStaked": v.CapitalStaked.String(),
	}}
}

func newLoanResolvedEvent(loanID uint64, status Status, settled int) *events.Record {
	return &events.Record{Type: EventTypeLoanResolved, Attributes: map[string]string{
		"loanId":  strconv.FormatUint(loanID, 10),
		"status":  string(status),
		"settled": strconv.Itoa(settled),
	}}
}
