package loans

import "errors"

var (
	// ErrZeroAmount rejects loan requests for nothing.
	ErrZeroAmount = errors.New("loans: amount must be greater than zero")
	// ErrOverflow rejects amounts outside the supported numeric domain.
	ErrOverflow = errors.New("loans: amount outside numeric domain")
	// ErrLoanNotFound is returned for queries against unknown loan ids.
	ErrLoanNotFound = errors.New("loans: loan not found")
	// ErrLoanNotPending rejects vouches against loans that already left
	// the pending state.
	ErrLoanNotPending = errors.New("loans: loan is not pending")
	// ErrLoanNotActive rejects repayment and default checks against loans
	// that are not active.
	ErrLoanNotActive = errors.New("loans: loan is not active")
	// ErrLoanNotOverdue rejects default checks before the term expires.
	ErrLoanNotOverdue = errors.New("loans: loan term has not expired")
	// ErrInvalidRepaymentAmount rejects repayments that do not match the
	// stored repayment amount exactly.
	ErrInvalidRepaymentAmount = errors.New("loans: repayment must match stored amount exactly")
	// ErrInsufficientReputation rejects borrowers below the tier's star
	// minimum.
	ErrInsufficientReputation = errors.New("loans: borrower reputation below tier minimum")
	// ErrUnauthorized is returned when someone other than the borrower
	// attempts a borrower-only operation.
	ErrUnauthorized = errors.New("loans: caller not authorized")

	// ErrDisbursementFailed surfaces a pool failure during activation.
	ErrDisbursementFailed = errors.New("loans: disbursement failed")
	// ErrRepaymentFailed surfaces a pool failure during repayment.
	ErrRepaymentFailed = errors.New("loans: pool rejected repayment")
	// ErrSlashFailed surfaces a reputation failure during default handling.
	ErrSlashFailed = errors.New("loans: borrower slash failed")
	// ErrResolveFailed surfaces a vouch registry failure during settlement.
	ErrResolveFailed = errors.New("loans: vouch resolution failed")
)
