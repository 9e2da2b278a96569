package pool

import (
	"errors"
	"fmt"
	"math/big"

	"kleolend/config"
	"kleolend/core/events"
	"kleolend/crypto"
	nativecommon "kleolend/native/common"
)

const moduleName = "pool"

var errNilState = errors.New("pool engine: state not configured")

// storage abstracts the subset of state manager functionality required by the
// liquidity pool.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	stateKey      = []byte("pool/state")
	depositPrefix = []byte("pool/deposit/")
)

func depositKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", depositPrefix, addr.Bytes()))
}

// Engine owns deposited capital, pool utilization and the interest-rate
// curve. Deposit and Withdraw accept anyone; Disburse is restricted to the
// Loan Orchestrator and SlashStake to the Vouch Registry.
type Engine struct {
	state      storage
	model      *InterestModel
	params     config.Params
	disbursers nativecommon.CallerSet
	slashers   nativecommon.CallerSet
	emitter    events.Emitter
	pauses     nativecommon.PauseView
}

// NewEngine constructs a pool engine for the supplied parameter set.
func NewEngine(params config.Params) *Engine {
	return &Engine{
		params:  params,
		model:   NewInterestModel(params),
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state storage) { e.state = state }

// AllowDisburser registers a module address permitted to call Disburse,
// ReceiveRepayment and WriteOff.
func (e *Engine) AllowDisburser(addr crypto.Address) { e.disbursers.Allow(addr) }

// AllowSlasher registers a module address permitted to call SlashStake.
func (e *Engine) AllowSlasher(addr crypto.Address) { e.slashers.Allow(addr) }

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Model exposes the interest model so the orchestrator can recompute rates.
func (e *Engine) Model() *InterestModel { return e.model }

func (e *Engine) loadState() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var st PoolState
	if _, err := e.state.KVGet(stateKey, &st); err != nil {
		return nil, err
	}
	st.EnsureDefaults()
	return &st, nil
}

func (e *Engine) storeState(st *PoolState) error {
	return e.state.KVPut(stateKey, st)
}

func (e *Engine) loadDeposit(addr crypto.Address, index *big.Int) (*Deposit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var dep Deposit
	if _, err := e.state.KVGet(depositKey(addr), &dep); err != nil {
		return nil, err
	}
	dep.EnsureDefaults(index)
	return &dep, nil
}

func (e *Engine) storeDeposit(addr crypto.Address, dep *Deposit) error {
	return e.state.KVPut(depositKey(addr), dep)
}

// settleYield folds the yield accrued since the deposit's last settlement
// into AccruedYield. Settling twice against the same index is a no-op, which
// is what makes explicit accrual idempotent.
func settleYield(dep *Deposit, index *big.Int) {
	if dep.YieldIndexRay.Cmp(index) >= 0 {
		dep.YieldIndexRay = new(big.Int).Set(index)
		return
	}
	delta := new(big.Int).Sub(index, dep.YieldIndexRay)
	earned := new(big.Int).Mul(dep.Principal.BigInt(), delta)
	earned.Quo(earned, ray)
	dep.AccruedYield = dep.AccruedYield.Add(NewLedgerAmount(earned))
	dep.YieldIndexRay = new(big.Int).Set(index)
}

// Deposit credits the account with the transferred amount after converting to
// ledger scale. The converted ledger amount is returned.
func (e *Engine) Deposit(account crypto.Address, amount TransferAmount) (LedgerAmount, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return ZeroLedger(), err
	}
	if amount.Sign() == 0 {
		return ZeroLedger(), ErrZeroAmount
	}
	if err := checkAmountBounds(amount.BigInt()); err != nil {
		return ZeroLedger(), err
	}

	st, err := e.loadState()
	if err != nil {
		return ZeroLedger(), err
	}
	credited := amount.ToLedger()
	if credited.Sign() == 0 {
		// The transfer was pure dust below the scale ratio.
		return ZeroLedger(), ErrZeroAmount
	}

	dep, err := e.loadDeposit(account, st.YieldIndexRay)
	if err != nil {
		return ZeroLedger(), err
	}
	settleYield(dep, st.YieldIndexRay)
	dep.Principal = dep.Principal.Add(credited)

	st.TotalLiquidity = st.TotalLiquidity.Add(credited)
	st.TotalPrincipal = st.TotalPrincipal.Add(credited)

	if err := e.storeDeposit(account, dep); err != nil {
		return ZeroLedger(), err
	}
	if err := e.storeState(st); err != nil {
		return ZeroLedger(), err
	}
	e.emit(newDepositEvent(account, credited))
	return credited, nil
}

// Withdraw debits the account and returns the payout in transfer scale. The
// requested amount is ledger scale and may draw on both principal and settled
// yield. Funds currently lent out cannot leave the pool.
func (e *Engine) Withdraw(account crypto.Address, amount LedgerAmount) (TransferAmount, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return NewTransferAmount(nil), err
	}
	if amount.Sign() == 0 {
		return NewTransferAmount(nil), ErrZeroAmount
	}
	if err := checkAmountBounds(amount.BigInt()); err != nil {
		return NewTransferAmount(nil), err
	}

	st, err := e.loadState()
	if err != nil {
		return NewTransferAmount(nil), err
	}
	dep, err := e.loadDeposit(account, st.YieldIndexRay)
	if err != nil {
		return NewTransferAmount(nil), err
	}
	settleYield(dep, st.YieldIndexRay)

	if amount.Cmp(dep.Balance()) > 0 {
		return NewTransferAmount(nil), ErrUnavailableFunds
	}
	available := st.TotalLiquidity.Sub(st.TotalBorrowed)
	if amount.Cmp(available) > 0 {
		return NewTransferAmount(nil), ErrUnavailableFunds
	}

	// Yield leaves first so the principal keeps earning.
	fromYield := amount
	if fromYield.Cmp(dep.AccruedYield) > 0 {
		fromYield = dep.AccruedYield
	}
	fromPrincipal := amount.Sub(fromYield)
	dep.AccruedYield = dep.AccruedYield.Sub(fromYield)
	dep.Principal = dep.Principal.Sub(fromPrincipal)

	st.TotalLiquidity = st.TotalLiquidity.Sub(amount)
	st.TotalPrincipal = st.TotalPrincipal.Sub(fromPrincipal)

	if err := e.storeDeposit(account, dep); err != nil {
		return NewTransferAmount(nil), err
	}
	if err := e.storeState(st); err != nil {
		return NewTransferAmount(nil), err
	}
	payout := amount.ToTransfer()
	e.emit(newWithdrawEvent(account, amount))
	return payout, nil
}

// Accrue settles the account's yield against the current index. Calling it
// twice with no intervening pool mutation leaves the deposit unchanged on the
// second call.
func (e *Engine) Accrue(account crypto.Address) error {
	st, err := e.loadState()
	if err != nil {
		return err
	}
	dep, err := e.loadDeposit(account, st.YieldIndexRay)
	if err != nil {
		return err
	}
	settleYield(dep, st.YieldIndexRay)
	return e.storeDeposit(account, dep)
}

// DepositOf returns the account's position with yield settled for reading.
// The stored record is not mutated.
func (e *Engine) DepositOf(account crypto.Address) (*Deposit, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	dep, err := e.loadDeposit(account, st.YieldIndexRay)
	if err != nil {
		return nil, err
	}
	settleYield(dep, st.YieldIndexRay)
	return dep, nil
}

// State returns a copy of the pool totals.
func (e *Engine) State() (*PoolState, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// CurrentRate computes the borrow rate for the present utilization. Pure; no
// state is mutated.
func (e *Engine) CurrentRate() (*big.Rat, error) {
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	return e.model.Rate(st.TotalBorrowed, st.TotalLiquidity), nil
}

// Disburse marks amount as borrowed. Only registered disbursers (the Loan
// Orchestrator) may call it. Funds stay inside TotalLiquidity; the borrowed
// total rises, never past it.
func (e *Engine) Disburse(caller crypto.Address, amount LedgerAmount, to crypto.Address) error {
	if err := e.disbursers.Authorize(caller); err != nil {
		return ErrUnauthorized
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return ErrZeroAmount
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	available := st.TotalLiquidity.Sub(st.TotalBorrowed)
	if amount.Cmp(available) > 0 {
		return ErrUnavailableFunds
	}
	st.TotalBorrowed = st.TotalBorrowed.Add(amount)
	if err := e.storeState(st); err != nil {
		return err
	}
	e.emit(newDisburseEvent(to, amount))
	return nil
}

// ReceiveRepayment books an incoming repayment. The principal portion
// reduces TotalBorrowed; the interest portion splits between depositor yield
// and the reserve according to the reserve factor. Amount arrives in transfer
// scale; principal is the loan's stored ledger-scale principal.
func (e *Engine) ReceiveRepayment(caller crypto.Address, amount TransferAmount, principal LedgerAmount) error {
	if err := e.disbursers.Authorize(caller); err != nil {
		return ErrUnauthorized
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return ErrZeroAmount
	}
	if err := checkAmountBounds(amount.BigInt()); err != nil {
		return err
	}

	st, err := e.loadState()
	if err != nil {
		return err
	}
	received := amount.ToLedger()
	principalPart := principal
	if principalPart.Cmp(received) > 0 {
		principalPart = received
	}
	interest := received.Sub(principalPart)

	if principalPart.Cmp(st.TotalBorrowed) > 0 {
		principalPart = st.TotalBorrowed
	}
	st.TotalBorrowed = st.TotalBorrowed.Sub(principalPart)

	if interest.Sign() > 0 {
		reserveShare := new(big.Int).Mul(interest.BigInt(), new(big.Int).SetUint64(e.params.ReserveFactorPercent))
		reserveShare.Quo(reserveShare, big.NewInt(100))
		yieldShare := new(big.Int).Sub(interest.BigInt(), reserveShare)

		if st.TotalPrincipal.Sign() > 0 && yieldShare.Sign() > 0 {
			indexDelta := new(big.Int).Mul(yieldShare, ray)
			indexDelta.Quo(indexDelta, st.TotalPrincipal.BigInt())
			st.YieldIndexRay = new(big.Int).Add(st.YieldIndexRay, indexDelta)
			st.TotalLiquidity = st.TotalLiquidity.Add(NewLedgerAmount(yieldShare))
		} else {
			// No depositors to reward; everything goes to the reserve.
			reserveShare = new(big.Int).Add(reserveShare, yieldShare)
		}
		st.Reserve = st.Reserve.Add(NewLedgerAmount(reserveShare))
	}

	if err := e.storeState(st); err != nil {
		return err
	}
	e.emit(newRepaymentReceivedEvent(received))
	return nil
}

// WriteOff recognises a defaulted loan's principal as lost, removing it from
// both the borrowed and liquidity totals. Restricted to the Loan
// Orchestrator.
func (e *Engine) WriteOff(caller crypto.Address, principal LedgerAmount) error {
	if err := e.disbursers.Authorize(caller); err != nil {
		return ErrUnauthorized
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	lost := principal
	if lost.Cmp(st.TotalBorrowed) > 0 {
		lost = st.TotalBorrowed
	}
	st.TotalBorrowed = st.TotalBorrowed.Sub(lost)
	st.TotalLiquidity = st.TotalLiquidity.Sub(lost)
	if st.TotalLiquidity.Sign() < 0 {
		st.TotalLiquidity = ZeroLedger()
	}
	return e.storeState(st)
}

// SlashStake removes up to amount from the account's principal, moving it to
// the reserve. Restricted to the Vouch Registry. The slash floors at the
// account's balance and at the pool's unlent liquidity: funds currently out
// on loan cannot move.
func (e *Engine) SlashStake(caller, account crypto.Address, amount LedgerAmount) error {
	if err := e.slashers.Authorize(caller); err != nil {
		return ErrUnauthorized
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	dep, err := e.loadDeposit(account, st.YieldIndexRay)
	if err != nil {
		return err
	}
	settleYield(dep, st.YieldIndexRay)

	slashed := amount
	if slashed.Cmp(dep.Principal) > 0 {
		slashed = dep.Principal
	}
	available := st.TotalLiquidity.Sub(st.TotalBorrowed)
	if slashed.Cmp(available) > 0 {
		slashed = available
	}
	if slashed.Sign() <= 0 {
		return nil
	}

	dep.Principal = dep.Principal.Sub(slashed)
	st.TotalLiquidity = st.TotalLiquidity.Sub(slashed)
	st.TotalPrincipal = st.TotalPrincipal.Sub(slashed)
	st.Reserve = st.Reserve.Add(slashed)

	if err := e.storeDeposit(account, dep); err != nil {
		return err
	}
	if err := e.storeState(st); err != nil {
		return err
	}
	e.emit(newStakeSlashedEvent(account, slashed))
	return nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
