package vouch

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"kleolend/config"
	"kleolend/core/events"
	"kleolend/crypto"
	nativecommon "kleolend/native/common"
	"kleolend/native/pool"
	"kleolend/native/reputation"
)

const moduleName = "vouch"

var errNilState = errors.New("vouch engine: state not configured")

type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func relKey(loanID uint64, voucher crypto.Address) []byte {
	return []byte(fmt.Sprintf("vouch/rel/%d/%x", loanID, voucher.Bytes()))
}

func loanIndexKey(loanID uint64) []byte {
	return []byte(fmt.Sprintf("vouch/loan/%d", loanID))
}

func exposureKey(voucher crypto.Address) []byte {
	return []byte(fmt.Sprintf("vouch/exposure/%x", voucher.Bytes()))
}

// Engine is the vouch registry. It records which vouchers stand behind which
// loans, stakes their stars in the reputation ledger, earmarks their pool
// capital and settles all of it when the loan resolves. Mutations come from
// the Loan Orchestrator only; the registry in turn calls the reputation
// ledger and the liquidity pool under its own module address.
type Engine struct {
	state      storage
	params     config.Params
	reputation *reputation.Engine
	pool       *pool.Engine
	self       crypto.Address
	callers    nativecommon.CallerSet
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	nowFn      func() int64
}

// NewEngine constructs a registry engine for the supplied parameter set.
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

// SetReputation wires the reputation ledger used for star staking.
func (e *Engine) SetReputation(rep *reputation.Engine) { e.reputation = rep }

// SetPool wires the liquidity pool used for capital checks and slashing.
func (e *Engine) SetPool(p *pool.Engine) { e.pool = p }

// ModuleAddress returns the address the registry presents to its peers.
func (e *Engine) ModuleAddress() crypto.Address { return e.self }

// AllowCaller registers a module address permitted to mutate the registry.
func (e *Engine) AllowCaller(addr crypto.Address) { e.callers.Allow(addr) }

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
	if e.reputation == nil || e.pool == nil {
		return errors.New("vouch engine: peer modules not configured")
	}
	return nil
}

func (e *Engine) loadExposure(voucher crypto.Address) (pool.LedgerAmount, error) {
	var exposure pool.LedgerAmount
	ok, err := e.state.KVGet(exposureKey(voucher), &exposure)
	if err != nil {
		return pool.ZeroLedger(), err
	}
	if !ok {
		return pool.ZeroLedger(), nil
	}
	return exposure, nil
}

// earmark computes the capital a vouch pledges: capitalPercent of the
// voucher's settled deposit balance, in ledger scale.
func earmark(deposit pool.LedgerAmount, capitalPercent uint64) pool.LedgerAmount {
	capital := new(big.Int).Mul(deposit.BigInt(), new(big.Int).SetUint64(capitalPercent))
	capital.Quo(capital, big.NewInt(100))
	return pool.NewLedgerAmount(capital)
}

// VouchForLoan registers a vouch behind a pending loan: the voucher's stars
// move to staked in the reputation ledger and capitalPercent of their pool
// deposit is earmarked as collateral. No pool funds move here.
func (e *Engine) VouchForLoan(caller crypto.Address, loanID uint64, borrower, voucher crypto.Address, stars, capitalPercent uint64) (*Vouch, error) {
	if err := e.callers.Authorize(caller); err != nil {
		return nil, ErrUnauthorized
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	if stars == 0 || capitalPercent == 0 {
		return nil, ErrZeroAmount
	}
	if capitalPercent > 100 {
		return nil, ErrInvalidPercent
	}
	if voucher.Equal(borrower) {
		return nil, ErrSelfVouch
	}
	var existing Vouch
	if ok, err := e.state.KVGet(relKey(loanID, voucher), &existing); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrDuplicateVouch
	}

	eligible, err := e.reputation.CanVouch(voucher)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEnoughStars
	}

	dep, err := e.pool.DepositOf(voucher)
	if err != nil {
		return nil, err
	}
	capital := earmark(dep.Balance(), capitalPercent)
	if capital.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	exposure, err := e.loadExposure(voucher)
	if err != nil {
		return nil, err
	}
	available := dep.Balance()
	if exposure.Cmp(available) < 0 {
		available = available.Sub(exposure)
	} else {
		available = pool.ZeroLedger()
	}
	if capital.Cmp(available) > 0 {
		return nil, ErrNotEnoughCapital
	}

	poolState, err := e.pool.State()
	if err != nil {
		return nil, err
	}
	// exposure + capital <= cap * liquidity, with cap a RateScale fraction.
	next := exposure.Add(capital)
	lhs := new(big.Int).Mul(next.BigInt(), big.NewInt(config.RateScale))
	rhs := new(big.Int).Mul(poolState.TotalLiquidity.BigInt(), new(big.Int).SetUint64(e.params.ExposureCap))
	if lhs.Cmp(rhs) > 0 {
		return nil, ErrExposureCapExceeded
	}

	if err := e.reputation.StakeStars(e.self, voucher, stars); err != nil {
		if errors.Is(err, reputation.ErrInsufficientStars) {
			return nil, ErrNotEnoughStars
		}
		return nil, err
	}

	record := &Vouch{
		LoanID:         loanID,
		Borrower:       borrower,
		Voucher:        voucher,
		StarsStaked:    stars,
		CapitalPercent: capitalPercent,
		CapitalStaked:  capital,
		CreatedAt:      e.nowFn(),
		Status:         StatusActive,
	}

	var vouchers []string
	if _, err := e.state.KVGet(loanIndexKey(loanID), &vouchers); err != nil {
		return nil, err
	}
	vouchers = append(vouchers, voucher.String())

	if err := e.state.KVPut(relKey(loanID, voucher), record); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(loanIndexKey(loanID), vouchers); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(exposureKey(voucher), next); err != nil {
		return nil, err
	}
	e.emit(newVouchCreatedEvent(record))
	return record.Clone(), nil
}

// ResolveLoan settles every active vouch behind a loan. On success the
// vouchers' stars come back with the configured boost and the vouches are
// marked fulfilled. On failure the stars burn, the earmarked capital is
// slashed out of each voucher's deposit and the vouches are marked
// defaulted. Resolution is final: a second call fails with ErrAlreadyResolved.
func (e *Engine) ResolveLoan(caller crypto.Address, loanID uint64, success bool) ([]*Vouch, error) {
	if err := e.callers.Authorize(caller); err != nil {
		return nil, ErrUnauthorized
	}
	if err := e.ready(); err != nil {
		return nil, err
	}
	vouches, err := e.VouchesForLoan(loanID)
	if err != nil {
		return nil, err
	}
	if len(vouches) == 0 {
		return nil, ErrRelationshipNotFound
	}

	status := StatusFulfilled
	if !success {
		status = StatusDefaulted
	}
	settled := make([]*Vouch, 0, len(vouches))
	for _, v := range vouches {
		if v.Status != StatusActive {
			continue
		}
		if err := e.reputation.UnstakeStars(e.self, v.Voucher, v.StarsStaked, success); err != nil {
			return nil, err
		}
		if !success {
			if err := e.pool.SlashStake(e.self, v.Voucher, v.CapitalStaked); err != nil {
				return nil, err
			}
		}

		v.Status = status
		if err := e.state.KVPut(relKey(loanID, v.Voucher), v); err != nil {
			return nil, err
		}
		exposure, err := e.loadExposure(v.Voucher)
		if err != nil {
			return nil, err
		}
		released := v.CapitalStaked
		if released.Cmp(exposure) > 0 {
			released = exposure
		}
		if err := e.state.KVPut(exposureKey(v.Voucher), exposure.Sub(released)); err != nil {
			return nil, err
		}
		settled = append(settled, v)
	}
	if len(settled) == 0 {
		return nil, ErrAlreadyResolved
	}
	e.emit(newLoanResolvedEvent(loanID, status, len(settled)))
	return settled, nil
}

// VouchesForLoan returns copies of every vouch recorded for the loan.
func (e *Engine) VouchesForLoan(loanID uint64) ([]*Vouch, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var vouchers []string
	if _, err := e.state.KVGet(loanIndexKey(loanID), &vouchers); err != nil {
		return nil, err
	}
	out := make([]*Vouch, 0, len(vouchers))
	for _, encoded := range vouchers {
		addr, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return nil, err
		}
		var v Vouch
		ok, err := e.state.KVGet(relKey(loanID, addr), &v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrVouchNotFound
		}
		out = append(out, &v)
	}
	return out, nil
}

// ActiveVouchCount reports how many active vouches back the loan.
func (e *Engine) ActiveVouchCount(loanID uint64) (int, error) {
	vouches, err := e.VouchesForLoan(loanID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, v := range vouches {
		if v.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

// Get returns the vouch recorded for the loan and voucher pair.
func (e *Engine) Get(loanID uint64, voucher crypto.Address) (*Vouch, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var v Vouch
	ok, err := e.state.KVGet(relKey(loanID, voucher), &v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVouchNotFound
	}
	return &v, nil
}

// ExposureOf returns the voucher's cumulative active capital exposure.
func (e *Engine) ExposureOf(voucher crypto.Address) (pool.LedgerAmount, error) {
	if e == nil || e.state == nil {
		return pool.ZeroLedger(), errNilState
	}
	return e.loadExposure(voucher)
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
