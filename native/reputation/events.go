package reputation

import (
	"strconv"

	"kleolend/core/events"
	"kleolend/crypto"
)

const (
	// EventTypeStarsStaked is emitted when stars move behind a vouch.
	EventTypeStarsStaked = "reputation.starsStaked"
	// EventTypeStarsUnstaked is emitted when a stake settles.
	EventTypeStarsUnstaked = "reputation.starsUnstaked"
	// EventTypeStarsSlashed is emitted when free stars are removed.
	EventTypeStarsSlashed = "reputation.starsSlashed"
	// EventTypeAccountBanned is emitted when an account loses its last star.
	EventTypeAccountBanned = "reputation.accountBanned"
)

func newStarsStakedEvent(addr crypto.Address, amount uint64) *events.Record {
	return &events.Record{Type: EventTypeStarsStaked, Attributes: map[string]string{
		"account": addr.String(),
		"amount":  strconv.FormatUint(amount, 10),
	}}
}

func newStarsUnstakedEvent(addr crypto.Address, amount uint64, success bool) *events.Record {
	return &events.Record{Type: EventTypeStarsUnstaked, Attributes: map[string]string{
		"account": addr.String(),
		"amount":  strconv.FormatUint(amount, 10),
		"success": strconv.FormatBool(success),
	}}
}

func newStarsSlashedEvent(addr crypto.Address, amount uint64) *events.Record {
	return &events.Record{Type: EventTypeStarsSlashed, Attributes: map[string]string{
		"account": addr.String(),
		"amount":  strconv.FormatUint(amount, 10),
	}}
}

func newAccountBannedEvent(addr crypto.Address) *events.Record {
	return &events.Record{Type: EventTypeAccountBanned, Attributes: map[string]string{
		"account": addr.String(),
	}}
}
