package reputation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"kleolend/config"
	"kleolend/core/events"
	"kleolend/crypto"
	nativecommon "kleolend/native/common"
)

const moduleName = "reputation"

var errNilState = errors.New("reputation engine: state not configured")

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var recordPrefix = []byte("reputation/record/")

func recordKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, addr.Bytes()))
}

// Engine owns the per-account star ledger. Mutating entry points are
// restricted to the registered Vouch Registry and Loan Orchestrator module
// addresses; administrative entry points to the configured admin address.
type Engine struct {
	state   storage
	params  config.Params
	callers nativecommon.CallerSet
	admin   crypto.Address
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs a reputation engine with a no-op emitter.
func NewEngine(params config.Params) *Engine {
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state storage) { e.state = state }

// SetAdmin registers the address allowed to use administrative entry points.
func (e *Engine) SetAdmin(addr crypto.Address) { e.admin = addr }

// AllowCaller adds a module address to the authorized mutation set.
func (e *Engine) AllowCaller(addr crypto.Address) { e.callers.Allow(addr) }

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

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) authorize(caller crypto.Address) error {
	if err := e.callers.Authorize(caller); err != nil {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) authorizeAdmin(caller crypto.Address) error {
	if e.admin.IsZero() || !e.admin.Equal(caller) {
		return ErrNotAdmin
	}
	return nil
}

func (e *Engine) load(addr crypto.Address) (*Record, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var rec Record
	ok, err := e.state.KVGet(recordKey(addr), &rec)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (e *Engine) store(addr crypto.Address, rec *Record) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.KVPut(recordKey(addr), rec)
}

// Touch creates the account's record on first interaction, granting the
// configured starting stars. Existing records are returned unchanged.
func (e *Engine) Touch(caller, addr crypto.Address) (*Record, error) {
	if err := e.authorize(caller); err != nil {
		return nil, err
	}
	rec, ok, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		return rec, nil
	}
	rec = &Record{
		Stars:     e.params.StartingStars,
		FirstSeen: e.now(),
	}
	if err := e.store(addr, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetStars returns the account's free star balance. Missing accounts hold
// zero stars.
func (e *Engine) GetStars(addr crypto.Address) (uint64, error) {
	rec, ok, err := e.load(addr)
	if err != nil || !ok {
		return 0, err
	}
	if rec.Banned {
		return 0, nil
	}
	return rec.Stars, nil
}

// GetRecord returns a copy of the stored record, or nil when absent.
func (e *Engine) GetRecord(addr crypto.Address) (*Record, error) {
	rec, ok, err := e.load(addr)
	if err != nil || !ok {
		return nil, err
	}
	return rec.Clone(), nil
}

// CanVouch reports whether the account may back loans: not banned and holding
// at least the configured minimum of free stars.
func (e *Engine) CanVouch(addr crypto.Address) (bool, error) {
	rec, ok, err := e.load(addr)
	if err != nil {
		return false, err
	}
	if !ok || rec.Banned {
		return false, nil
	}
	return rec.Stars >= e.params.MinStarsToVouch, nil
}

// AddStars accrues free stars. Accounts still inside the cooldown window
// after creation accrue nothing; the record itself is created regardless.
func (e *Engine) AddStars(caller, addr crypto.Address, amount uint64) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	rec, err := e.Touch(caller, addr)
	if err != nil {
		return err
	}
	if e.now()-rec.FirstSeen < e.params.CooldownPeriod {
		return e.store(addr, rec)
	}
	if rec.Stars > math.MaxUint64-amount {
		return ErrOverflow
	}
	rec.Stars += amount
	return e.store(addr, rec)
}

// StakeStars moves amount from the account's free balance to its staked
// balance. Banned accounts cannot stake.
func (e *Engine) StakeStars(caller, addr crypto.Address, amount uint64) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	rec, ok, err := e.load(addr)
	if err != nil {
		return err
	}
	if !ok || rec.Banned {
		return ErrAccountBanned
	}
	if amount > rec.Stars {
		return ErrInsufficientStars
	}
	rec.Stars -= amount
	rec.StakedStars += amount
	if err := e.store(addr, rec); err != nil {
		return err
	}
	e.emit(newStarsStakedEvent(addr, amount))
	return nil
}

// UnstakeStars releases amount from the staked balance. On success the stars
// return to the free balance plus the configured boost; on failure the stake
// is burned permanently. An account whose free balance sits at zero after the
// burn is banned.
func (e *Engine) UnstakeStars(caller, addr crypto.Address, amount uint64, success bool) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	rec, ok, err := e.load(addr)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientStakedStars
	}
	if amount > rec.StakedStars {
		return ErrInsufficientStakedStars
	}
	rec.StakedStars -= amount
	if success {
		returned := amount + e.params.Boost
		if rec.Stars > math.MaxUint64-returned {
			return ErrOverflow
		}
		rec.Stars += returned
	} else if rec.Stars == 0 {
		rec.Banned = true
		e.emit(newAccountBannedEvent(addr))
	}
	if err := e.store(addr, rec); err != nil {
		return err
	}
	e.emit(newStarsUnstakedEvent(addr, amount, success))
	return nil
}

// SlashStars removes up to amount from the free balance, flooring at zero.
// An account whose free balance hits zero is banned, outstanding stake or
// not.
func (e *Engine) SlashStars(caller, addr crypto.Address, amount uint64) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	rec, ok, err := e.load(addr)
	if err != nil {
		return err
	}
	if !ok {
		// Nothing to slash; missing accounts hold zero stars.
		return nil
	}
	if amount >= rec.Stars {
		rec.Stars = 0
	} else {
		rec.Stars -= amount
	}
	if rec.Stars == 0 {
		rec.Banned = true
		e.emit(newAccountBannedEvent(addr))
	}
	if err := e.store(addr, rec); err != nil {
		return err
	}
	e.emit(newStarsSlashedEvent(addr, amount))
	return nil
}

// AdminSetStars force-sets the free star balance. Setting a positive balance
// lifts an existing ban; setting zero bans.
func (e *Engine) AdminSetStars(caller, addr crypto.Address, stars uint64) error {
	if err := e.authorizeAdmin(caller); err != nil {
		return err
	}
	rec, ok, err := e.load(addr)
	if err != nil {
		return err
	}
	if !ok {
		rec = &Record{FirstSeen: e.now()}
	}
	rec.Stars = stars
	rec.Banned = rec.Stars == 0
	return e.store(addr, rec)
}

// AdminUnban lifts a ban. A drained free balance receives the starting grant
// again so the ban invariant keeps holding.
func (e *Engine) AdminUnban(caller, addr crypto.Address) error {
	if err := e.authorizeAdmin(caller); err != nil {
		return err
	}
	rec, ok, err := e.load(addr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	rec.Banned = false
	if rec.Stars == 0 {
		rec.Stars = e.params.StartingStars
	}
	return e.store(addr, rec)
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}
