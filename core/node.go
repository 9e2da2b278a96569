package core

import (
	"fmt"
	"math/big"
	"sync"

	"kleolend/config"
	"kleolend/core/events"
	"kleolend/core/state"
	"kleolend/crypto"
	"kleolend/native/loans"
	"kleolend/native/pool"
	"kleolend/native/reputation"
	"kleolend/native/vouch"
	"kleolend/storage"
)

// Node owns the four ledger engines and serialises every public entry point
// behind one mutex, so no caller ever observes a half-applied composite
// operation. Each mutation runs inside a state snapshot: any error discards
// every write the operation staged, across all modules, before it surfaces.
type Node struct {
	mu      sync.Mutex
	manager *state.Manager
	params  config.Params
	pauses  *PauseSet

	reputation *reputation.Engine
	pool       *pool.Engine
	registry   *vouch.Engine
	loans      *loans.Engine

	admin crypto.Address
}

// NewNode wires the engines together over the supplied database. The admin
// address from the configuration is granted the reputation ledger's
// administrative surface.
func NewNode(db storage.Database, cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core: invalid config: %w", err)
	}
	n := &Node{
		manager: state.NewManager(db),
		params:  cfg.Params,
		pauses:  NewPauseSet(),
	}

	n.reputation = reputation.NewEngine(cfg.Params)
	n.pool = pool.NewEngine(cfg.Params)
	n.registry = vouch.NewEngine(cfg.Params)
	n.loans = loans.NewEngine(cfg.Params)

	n.reputation.SetState(n.manager)
	n.pool.SetState(n.manager)
	n.registry.SetState(n.manager)
	n.loans.SetState(n.manager)

	n.registry.SetReputation(n.reputation)
	n.registry.SetPool(n.pool)
	n.loans.SetReputation(n.reputation)
	n.loans.SetPool(n.pool)
	n.loans.SetRegistry(n.registry)

	n.reputation.AllowCaller(n.registry.ModuleAddress())
	n.reputation.AllowCaller(n.loans.ModuleAddress())
	n.pool.AllowDisburser(n.loans.ModuleAddress())
	n.pool.AllowSlasher(n.registry.ModuleAddress())
	n.registry.AllowCaller(n.loans.ModuleAddress())

	n.reputation.SetPauses(n.pauses)
	n.pool.SetPauses(n.pauses)
	n.registry.SetPauses(n.pauses)
	n.loans.SetPauses(n.pauses)

	if cfg.AdminAddress != "" {
		admin, err := crypto.DecodeAddress(cfg.AdminAddress)
		if err != nil {
			return nil, fmt.Errorf("core: invalid admin address: %w", err)
		}
		n.admin = admin
		n.reputation.SetAdmin(admin)
	}
	return n, nil
}

// SetEmitter fans the emitter out to every engine. Passing nil resets all of
// them to no-ops.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.reputation.SetEmitter(emitter)
	n.pool.SetEmitter(emitter)
	n.registry.SetEmitter(emitter)
	n.loans.SetEmitter(emitter)
}

// SetNowFunc overrides the time source on every engine, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.reputation.SetNowFunc(now)
	n.registry.SetNowFunc(now)
	n.loans.SetNowFunc(now)
}

// SetModulePaused flips one module's pause flag.
func (n *Node) SetModulePaused(module string, paused bool) {
	n.pauses.SetPaused(module, paused)
}

// Admin returns the configured administrative address.
func (n *Node) Admin() crypto.Address { return n.admin }

// withTx serialises the operation and makes it transactional: on error every
// staged write is unwound; on success the overlay is flushed to disk.
func (n *Node) withTx(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := n.manager.Snapshot()
	if err := fn(); err != nil {
		n.manager.RevertToSnapshot(snapshot)
		return err
	}
	n.manager.DiscardSnapshot(snapshot)
	return n.manager.Commit()
}

// withRead serialises a read-only operation without committing.
func (n *Node) withRead(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := n.manager.Snapshot()
	err := fn()
	n.manager.RevertToSnapshot(snapshot)
	return err
}

// Deposit credits the pool with a transfer-scale amount and returns the
// credited ledger amount.
func (n *Node) Deposit(account crypto.Address, amount pool.TransferAmount) (pool.LedgerAmount, error) {
	var credited pool.LedgerAmount
	err := n.withTx(func() error {
		var err error
		credited, err = n.pool.Deposit(account, amount)
		return err
	})
	if err != nil {
		return pool.ZeroLedger(), err
	}
	return credited, nil
}

// Withdraw debits a ledger-scale amount and returns the transfer-scale
// payout.
func (n *Node) Withdraw(account crypto.Address, amount pool.LedgerAmount) (pool.TransferAmount, error) {
	var payout pool.TransferAmount
	err := n.withTx(func() error {
		var err error
		payout, err = n.pool.Withdraw(account, amount)
		return err
	})
	if err != nil {
		return pool.NewTransferAmount(nil), err
	}
	return payout, nil
}

// Accrue settles the account's pool yield.
func (n *Node) Accrue(account crypto.Address) error {
	return n.withTx(func() error {
		return n.pool.Accrue(account)
	})
}

// RequestLoan opens a pending loan for the borrower.
func (n *Node) RequestLoan(borrower crypto.Address, principal pool.LedgerAmount, termDuration int64) (*loans.Loan, error) {
	var loan *loans.Loan
	err := n.withTx(func() error {
		var err error
		loan, err = n.loans.RequestLoan(borrower, principal, termDuration)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// VouchForLoan records a vouch and, at the tier threshold, activates the
// loan. A disbursement failure undoes the vouch as well: the registry entry,
// the star stake and the exposure bump all unwind together.
func (n *Node) VouchForLoan(voucher crypto.Address, loanID uint64, stars, capitalPercent uint64) (*loans.Loan, error) {
	var loan *loans.Loan
	err := n.withTx(func() error {
		var err error
		loan, err = n.loans.VouchForLoan(voucher, loanID, stars, capitalPercent)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// RepayLoan settles an active loan with an exact transfer-scale repayment.
func (n *Node) RepayLoan(borrower crypto.Address, loanID uint64, amount pool.TransferAmount) (*loans.Loan, error) {
	var loan *loans.Loan
	err := n.withTx(func() error {
		var err error
		loan, err = n.loans.RepayLoan(borrower, loanID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// CheckDefault settles an overdue loan. Permissionless.
func (n *Node) CheckDefault(loanID uint64) (*loans.Loan, error) {
	var loan *loans.Loan
	err := n.withTx(func() error {
		var err error
		loan, err = n.loans.CheckDefault(loanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// AdminSetStars force-sets an account's free stars. The caller must be the
// configured admin address.
func (n *Node) AdminSetStars(caller, account crypto.Address, stars uint64) error {
	return n.withTx(func() error {
		return n.reputation.AdminSetStars(caller, account, stars)
	})
}

// AdminUnban lifts an account's ban.
func (n *Node) AdminUnban(caller, account crypto.Address) error {
	return n.withTx(func() error {
		return n.reputation.AdminUnban(caller, account)
	})
}

// Stars returns the account's free star balance.
func (n *Node) Stars(account crypto.Address) (uint64, error) {
	var stars uint64
	err := n.withRead(func() error {
		var err error
		stars, err = n.reputation.GetStars(account)
		return err
	})
	return stars, err
}

// ReputationRecord returns the account's full reputation record.
func (n *Node) ReputationRecord(account crypto.Address) (*reputation.Record, error) {
	var rec *reputation.Record
	err := n.withRead(func() error {
		var err error
		rec, err = n.reputation.GetRecord(account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CanVouch reports whether the account clears the vouching bar.
func (n *Node) CanVouch(account crypto.Address) (bool, error) {
	var ok bool
	err := n.withRead(func() error {
		var err error
		ok, err = n.reputation.CanVouch(account)
		return err
	})
	return ok, err
}

// DepositOf returns the account's pool position with yield settled.
func (n *Node) DepositOf(account crypto.Address) (*pool.Deposit, error) {
	var dep *pool.Deposit
	err := n.withRead(func() error {
		var err error
		dep, err = n.pool.DepositOf(account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// PoolState returns the pool totals.
func (n *Node) PoolState() (*pool.PoolState, error) {
	var st *pool.PoolState
	err := n.withRead(func() error {
		var err error
		st, err = n.pool.State()
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CurrentRate returns the pool's present borrow rate.
func (n *Node) CurrentRate() (*big.Rat, error) {
	var rate *big.Rat
	err := n.withRead(func() error {
		var err error
		rate, err = n.pool.CurrentRate()
		return err
	})
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// GetLoan returns one loan record.
func (n *Node) GetLoan(id uint64) (*loans.Loan, error) {
	var loan *loans.Loan
	err := n.withRead(func() error {
		var err error
		loan, err = n.loans.GetLoan(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// RepaymentAmountOf returns the exact transfer-scale amount settling a loan.
func (n *Node) RepaymentAmountOf(id uint64) (pool.TransferAmount, error) {
	var due pool.TransferAmount
	err := n.withRead(func() error {
		var err error
		due, err = n.loans.RepaymentAmountOf(id)
		return err
	})
	if err != nil {
		return pool.NewTransferAmount(nil), err
	}
	return due, nil
}

// PendingLoans lists ids of loans still collecting vouches.
func (n *Node) PendingLoans() ([]uint64, error) {
	var ids []uint64
	err := n.withRead(func() error {
		var err error
		ids, err = n.loans.PendingLoans()
		return err
	})
	return ids, err
}

// ActiveLoans lists ids of disbursed, unsettled loans.
func (n *Node) ActiveLoans() ([]uint64, error) {
	var ids []uint64
	err := n.withRead(func() error {
		var err error
		ids, err = n.loans.ActiveLoans()
		return err
	})
	return ids, err
}

// VouchesForLoan returns every vouch recorded for the loan.
func (n *Node) VouchesForLoan(loanID uint64) ([]*vouch.Vouch, error) {
	var vouches []*vouch.Vouch
	err := n.withRead(func() error {
		var err error
		vouches, err = n.registry.VouchesForLoan(loanID)
		return err
	})
	return vouches, err
}

// ExposureOf returns the voucher's cumulative earmarked capital.
func (n *Node) ExposureOf(voucher crypto.Address) (pool.LedgerAmount, error) {
	var exposure pool.LedgerAmount
	err := n.withRead(func() error {
		var err error
		exposure, err = n.registry.ExposureOf(voucher)
		return err
	})
	return exposure, err
}
