package pool

import (
	"kleolend/core/events"
	"kleolend/crypto"
)

const (
	// EventTypeDeposit is emitted when a depositor credits the pool.
	EventTypeDeposit = "pool.deposit"
	// EventTypeWithdraw is emitted when a depositor withdraws funds.
	EventTypeWithdraw = "pool.withdraw"
	// EventTypeDisburse is emitted when loan principal leaves the pool.
	EventTypeDisburse = "pool.disburse"
	// EventTypeRepaymentReceived is emitted when a repayment is booked.
	EventTypeRepaymentReceived = "pool.repaymentReceived"
	// EventTypeStakeSlashed is emitted when a voucher's capital is seized.
	EventTypeStakeSlashed = "pool.stakeSlashed"
)

func newDepositEvent(addr crypto.Address, amount LedgerAmount) *events.Record {
	return &events.Record{Type: EventTypeDeposit, Attributes: map[string]string{
		"account": addr.String(),
		"amount":  amount.String(),
	}}
}

func newWithdrawEvent(addr crypto.Address, amount LedgerAmount) *events.Record {
	return &events.Record{Type: EventTypeWithdraw, Attributes: map[string]string{
		"account": addr.String(),
		"amount":  amount.String(),
	}}
}

func newDisburseEvent(to crypto.Address, amount LedgerAmount) *events.Record {
	return &events.Record{Type: EventTypeDisburse, Attributes: map[string]string{
		"borrower": to.String(),
		"amount":   amount.String(),
	}}
}

func newRepaymentReceivedEvent(amount LedgerAmount) *events.Record {
	return &events.Record{Type: EventTypeRepaymentReceived, Attributes: map[string]string{
		"amount": amount.String(),
	}}
}

func newStakeSlashedEvent(addr crypto.Address, amount LedgerAmount) *events.Record {
	return &events.Record{Type: EventTypeStakeSlashed, Attributes: map[string]string{
		"account": addr.String(),
		"amount":  amount.String(),
	}}
}
