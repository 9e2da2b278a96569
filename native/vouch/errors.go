package vouch

import "errors"

var (
	// ErrUnauthorized is returned for restricted calls from outside the
	// registered caller set.
	ErrUnauthorized = errors.New("vouch: caller not authorized")
	// ErrZeroAmount rejects vouches with zero stars, a zero capital
	// percentage, or an earmark that rounds down to nothing.
	ErrZeroAmount = errors.New("vouch: stars and capital percent must be positive")
	// ErrInvalidPercent rejects a capital percentage above 100.
	ErrInvalidPercent = errors.New("vouch: capital percent must not exceed 100")
	// ErrSelfVouch rejects a borrower vouching for their own loan.
	ErrSelfVouch = errors.New("vouch: borrower cannot vouch for own loan")
	// ErrDuplicateVouch rejects a second vouch by the same voucher on the
	// same loan.
	ErrDuplicateVouch = errors.New("vouch: already vouched for this loan")
	// ErrNotEnoughStars is returned when the voucher is ineligible or
	// cannot stake the requested stars.
	ErrNotEnoughStars = errors.New("vouch: voucher cannot stake requested stars")
	// ErrNotEnoughCapital is returned when the earmarked capital exceeds
	// the voucher's pool balance.
	ErrNotEnoughCapital = errors.New("vouch: voucher deposit cannot cover earmarked capital")
	// ErrExposureCapExceeded rejects a vouch that would push the voucher's
	// cumulative staked capital past the configured share of pool
	// liquidity.
	ErrExposureCapExceeded = errors.New("vouch: voucher exposure cap exceeded")
	// ErrAlreadyResolved is returned when a loan's vouches have settled.
	ErrAlreadyResolved = errors.New("vouch: loan already resolved")
	// ErrRelationshipNotFound is returned when no vouches exist for the
	// queried loan.
	ErrRelationshipNotFound = errors.New("vouch: no vouches recorded for loan")
	// ErrVouchNotFound is returned when no record exists for the queried
	// loan and voucher pair.
	ErrVouchNotFound = errors.New("vouch: record not found")
)
