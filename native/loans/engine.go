package loans

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"kleolend/config"
	"kleolend/core/events"
	"kleolend/crypto"
	nativecommon "kleolend/native/common"
	"kleolend/native/pool"
	"kleolend/native/reputation"
	"kleolend/native/vouch"
)

const moduleName = "loans"

var errNilState = errors.New("loans engine: state not configured")

type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	nextIDKey    = []byte("loans/nextid")
	pendingIndex = []byte("loans/index/pending")
	activeIndex  = []byte("loans/index/active")
)

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("loans/record/%d", id))
}

// Engine is the loan orchestrator. It owns loan records, drives the
// pending/active/terminal state machine and coordinates the reputation
// ledger, the liquidity pool and the vouch registry, calling each under its
// own module address.
type Engine struct {
	state      storage
	params     config.Params
	reputation *reputation.Engine
	pool       *pool.Engine
	registry   *vouch.Engine
	self       crypto.Address
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	nowFn      func() int64
}

// NewEngine constructs an orchestrator for the supplied parameter set.
func NewEngine(params config.Params) *Engine {
	return &Engine{
		params:  params,
		self:    crypto.ModuleAddress(moduleName),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state storage) { e.state = state }

// SetReputation wires the reputation ledger.
func (e *Engine) SetReputation(rep *reputation.Engine) { e.reputation = rep }

// SetPool wires the liquidity pool.
func (e *Engine) SetPool(p *pool.Engine) { e.pool = p }

// SetRegistry wires the vouch registry.
func (e *Engine) SetRegistry(r *vouch.Engine) { e.registry = r }

// ModuleAddress returns the address the orchestrator presents to its peers.
func (e *Engine) ModuleAddress() crypto.Address { return e.self }

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.reputation == nil || e.pool == nil || e.registry == nil {
		return errors.New("loans engine: peer modules not configured")
	}
	return nil
}

func (e *Engine) nextID() (uint64, error) {
	var id uint64
	ok, err := e.state.KVGet(nextIDKey, &id)
	if err != nil {
		return 0, err
	}
	if !ok {
		id = 1
	}
	if err := e.state.KVPut(nextIDKey, id+1); err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) loadLoan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var loan Loan
	ok, err := e.state.KVGet(loanKey(id), &loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

func (e *Engine) storeLoan(loan *Loan) error {
	return e.state.KVPut(loanKey(loan.ID), loan)
}

func (e *Engine) indexAdd(key []byte, id uint64) error {
	var ids []uint64
	if _, err := e.state.KVGet(key, &ids); err != nil {
		return err
	}
	return e.state.KVPut(key, append(ids, id))
}

func (e *Engine) indexRemove(key []byte, id uint64) error {
	var ids []uint64
	if _, err := e.state.KVGet(key, &ids); err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return e.state.KVPut(key, filtered)
}

// tierFor places a principal into its bracket after dividing by the
// configured scaling factor.
func (e *Engine) tierFor(principal pool.LedgerAmount) (tier uint8, minStars uint64, minVouches int) {
	tiers := e.params.Tiers
	scaled := new(big.Int).Set(principal.BigInt())
	if tiers.ScalingFactor > 1 {
		scaled.Quo(scaled, new(big.Int).SetUint64(tiers.ScalingFactor))
	}
	switch {
	case scaled.Cmp(new(big.Int).SetUint64(tiers.Tier1MaxScaled)) < 0:
		return 1, tiers.Tier1MinStars, tiers.Tier1MinVouches
	case scaled.Cmp(new(big.Int).SetUint64(tiers.Tier2MaxScaled)) < 0:
		return 2, tiers.Tier2MinStars, tiers.Tier2MinVouches
	default:
		return 3, tiers.Tier3MinStars, tiers.Tier3MinVouches
	}
}

// quotedRate reads the pool's current rate, shaves off the borrower's star
// discount and returns the result as a RateScale fixed-point fraction. The
// discount is a percentage of the rate itself: one configured percent per
// star, capped.
func (e *Engine) quotedRate(stars uint64) (uint64, error) {
	rate, err := e.pool.CurrentRate()
	if err != nil {
		return 0, err
	}
	discount := uint64(0)
	if e.params.DiscountPerStarPercent > 0 {
		if stars > e.params.MaxDiscountPercent/e.params.DiscountPerStarPercent {
			discount = e.params.MaxDiscountPercent
		} else {
			discount = stars * e.params.DiscountPerStarPercent
		}
	}
	discounted := new(big.Rat).Mul(rate, big.NewRat(int64(100-discount), 100))

	scaled := new(big.Int).Mul(discounted.Num(), big.NewInt(config.RateScale))
	scaled.Quo(scaled, discounted.Denom())
	if scaled.Sign() < 0 {
		return 0, nil
	}
	if !scaled.IsUint64() || scaled.Uint64() > e.params.MaxRate {
		return e.params.MaxRate, nil
	}
	return scaled.Uint64(), nil
}

// repaymentFor computes the total owed: principal plus simple interest at
// the quoted rate, floored.
func repaymentFor(principal pool.LedgerAmount, rate uint64) pool.LedgerAmount {
	interest := new(big.Int).Mul(principal.BigInt(), new(big.Int).SetUint64(rate))
	interest.Quo(interest, big.NewInt(config.RateScale))
	return principal.Add(pool.NewLedgerAmount(interest))
}

// RequestLoan opens a pending loan for the borrower. The borrower's tier
// follows from the principal, the rate is quoted and frozen immediately and
// no funds move until enough vouches arrive. A zero termDuration falls back
// to the configured default term.
func (e *Engine) RequestLoan(borrower crypto.Address, principal pool.LedgerAmount, termDuration int64) (*Loan, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if principal.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if err := pool.CheckBounds(principal.BigInt()); err != nil {
		return nil, ErrOverflow
	}
	if termDuration <= 0 {
		termDuration = e.params.DefaultLoanTerm
	}

	// First contact grants the starting stars, so a fresh account can
	// still clear the lowest tier.
	if _, err := e.reputation.Touch(e.self, borrower); err != nil {
		return nil, err
	}
	stars, err := e.reputation.GetStars(borrower)
	if err != nil {
		return nil, err
	}
	tier, minStars, minVouches := e.tierFor(principal)
	if stars < minStars {
		return nil, ErrInsufficientReputation
	}

	rate, err := e.quotedRate(stars)
	if err != nil {
		return nil, err
	}
	repayment := repaymentFor(principal, rate)
	if err := pool.CheckBounds(repayment.BigInt()); err != nil {
		return nil, ErrOverflow
	}

	id, err := e.nextID()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:              id,
		Borrower:        borrower,
		Principal:       principal,
		InterestRate:    rate,
		RepaymentAmount: repayment,
		Tier:            tier,
		RequiredVouches: minVouches,
		CreatedAt:       e.nowFn(),
		TermDuration:    termDuration,
		Status:          StatusPending,
	}
	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.indexAdd(pendingIndex, id); err != nil {
		return nil, err
	}
	e.emit(newLoanRequestedEvent(loan))
	return loan.Clone(), nil
}

// VouchForLoan records a vouch against a pending loan and, once the tier's
// vouch requirement is met, disburses the principal and activates the loan
// in the same step. Registry errors propagate unchanged; a disbursement
// failure surfaces as ErrDisbursementFailed and the caller is expected to
// discard every mutation made here.
func (e *Engine) VouchForLoan(voucher crypto.Address, loanID uint64, stars, capitalPercent uint64) (*Loan, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusPending {
		return nil, ErrLoanNotPending
	}

	if _, err := e.registry.VouchForLoan(e.self, loanID, loan.Borrower, voucher, stars, capitalPercent); err != nil {
		return nil, err
	}

	count, err := e.registry.ActiveVouchCount(loanID)
	if err != nil {
		return nil, err
	}
	if count < loan.RequiredVouches {
		return loan.Clone(), nil
	}

	if err := e.pool.Disburse(e.self, loan.Principal, loan.Borrower); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisbursementFailed, err)
	}
	loan.Status = StatusActive
	loan.TermStart = e.nowFn()
	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.indexRemove(pendingIndex, loanID); err != nil {
		return nil, err
	}
	if err := e.indexAdd(activeIndex, loanID); err != nil {
		return nil, err
	}
	e.emit(newLoanActivatedEvent(loan))
	return loan.Clone(), nil
}

// RepayLoan settles an active loan. The transferred amount must equal the
// stored repayment amount exactly, in transfer scale. On success the pool
// books the repayment, the loan flips to repaid and every vouch behind it
// settles favourably.
func (e *Engine) RepayLoan(borrower crypto.Address, loanID uint64, amount pool.TransferAmount) (*Loan, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}
	if !loan.Borrower.Equal(borrower) {
		return nil, ErrUnauthorized
	}
	if amount.Cmp(loan.RepaymentAmount.ToTransfer()) != 0 {
		return nil, ErrInvalidRepaymentAmount
	}

	if err := e.pool.ReceiveRepayment(e.self, amount, loan.Principal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepaymentFailed, err)
	}
	loan.Status = StatusRepaid
	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.indexRemove(activeIndex, loanID); err != nil {
		return nil, err
	}
	if _, err := e.registry.ResolveLoan(e.self, loanID, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	e.emit(newLoanRepaidEvent(loan))
	return loan.Clone(), nil
}

// defaultSlash is the star penalty for a defaulting borrower: the scaled
// principal, but always at least one star.
func (e *Engine) defaultSlash(principal pool.LedgerAmount) uint64 {
	scaled := new(big.Int).Set(principal.BigInt())
	if e.params.Tiers.ScalingFactor > 1 {
		scaled.Quo(scaled, new(big.Int).SetUint64(e.params.Tiers.ScalingFactor))
	}
	if !scaled.IsUint64() {
		return math.MaxUint64
	}
	if v := scaled.Uint64(); v > 0 {
		return v
	}
	return 1
}

// CheckDefault marks an overdue loan defaulted. It is deliberately
// permissionless so that anyone can force expired loans through settlement:
// the principal is written off, the borrower's stars are slashed and every
// vouch behind the loan settles unfavourably, burning voucher stakes and
// seizing their earmarked capital.
func (e *Engine) CheckDefault(loanID uint64) (*Loan, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}
	deadline := loan.TermStart + loan.TermDuration + e.params.DefaultGrace
	if e.nowFn() < deadline {
		return nil, ErrLoanNotOverdue
	}

	// The defaulted principal leaves the pool's books before the capital
	// slash so borrowed never exceeds liquidity mid-settlement.
	if err := e.pool.WriteOff(e.self, loan.Principal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	if err := e.reputation.SlashStars(e.self, loan.Borrower, e.defaultSlash(loan.Principal)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSlashFailed, err)
	}
	if _, err := e.registry.ResolveLoan(e.self, loanID, false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	loan.Status = StatusDefaulted
	if err := e.storeLoan(loan); err != nil {
		return nil, err
	}
	if err := e.indexRemove(activeIndex, loanID); err != nil {
		return nil, err
	}
	e.emit(newLoanDefaultedEvent(loan))
	return loan.Clone(), nil
}

// GetLoan returns a copy of the loan record.
func (e *Engine) GetLoan(id uint64) (*Loan, error) {
	loan, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// RepaymentAmountOf returns the exact transfer-scale amount that settles the
// loan.
func (e *Engine) RepaymentAmountOf(id uint64) (pool.TransferAmount, error) {
	loan, err := e.loadLoan(id)
	if err != nil {
		return pool.NewTransferAmount(nil), err
	}
	return loan.RepaymentAmount.ToTransfer(), nil
}

// PendingLoans lists the ids of loans still collecting vouches.
func (e *Engine) PendingLoans() ([]uint64, error) {
	return e.indexIDs(pendingIndex)
}

// ActiveLoans lists the ids of disbursed, unsettled loans.
func (e *Engine) ActiveLoans() ([]uint64, error) {
	return e.indexIDs(activeIndex)
}

func (e *Engine) indexIDs(key []byte) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var ids []uint64
	if _, err := e.state.KVGet(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
