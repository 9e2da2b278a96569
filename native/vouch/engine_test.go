package vouch

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"kleolend/config"
	"kleolend/crypto"
	"kleolend/native/pool"
	"kleolend/native/reputation"
)

type mockStorage struct {
	data map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: make(map[string][]byte)}
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = raw
	return nil
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.KleoPrefix, raw)
}

func ledger(v int64) pool.LedgerAmount {
	return pool.NewLedgerAmount(big.NewInt(v))
}

func transfer(ledgerUnits int64) pool.TransferAmount {
	return pool.NewTransferAmount(new(big.Int).Mul(big.NewInt(ledgerUnits), pool.ScaleRatio))
}

type testHarness struct {
	registry     *Engine
	reputation   *reputation.Engine
	pool         *pool.Engine
	orchestrator crypto.Address
	admin        crypto.Address
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	params := config.DefaultParams()

	registry := NewEngine(params)
	registry.SetState(newMockStorage())
	registry.SetNowFunc(func() int64 { return 500 })

	rep := reputation.NewEngine(params)
	rep.SetState(newMockStorage())
	rep.AllowCaller(registry.ModuleAddress())
	admin := makeAddress(0xAA)
	rep.SetAdmin(admin)
	rep.SetNowFunc(func() int64 { return 500 })

	liquidity := pool.NewEngine(params)
	liquidity.SetState(newMockStorage())
	liquidity.AllowSlasher(registry.ModuleAddress())

	registry.SetReputation(rep)
	registry.SetPool(liquidity)
	orchestrator := crypto.ModuleAddress("loans")
	registry.AllowCaller(orchestrator)

	return &testHarness{
		registry:     registry,
		reputation:   rep,
		pool:         liquidity,
		orchestrator: orchestrator,
		admin:        admin,
	}
}

// fundVoucher gives the voucher stars and a pool deposit.
func (h *testHarness) fundVoucher(t *testing.T, voucher crypto.Address, stars uint64, depositUnits int64) {
	t.Helper()
	if err := h.reputation.AdminSetStars(h.admin, voucher, stars); err != nil {
		t.Fatalf("set stars: %v", err)
	}
	if depositUnits > 0 {
		if _, err := h.pool.Deposit(voucher, transfer(depositUnits)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
}

// seedPool adds outside liquidity so exposure caps have headroom.
func (h *testHarness) seedPool(t *testing.T, units int64) {
	t.Helper()
	if _, err := h.pool.Deposit(makeAddress(0xFD), transfer(units)); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
}

func TestVouchForLoanStakesAndRecords(t *testing.T) {
	h := newTestHarness(t)
	h.seedPool(t, 10_000)
	borrower := makeAddress(0x01)
	voucher := makeAddress(0x02)
	h.fundVoucher(t, voucher, 100, 1_000)

	// The earmark is a share of the voucher's deposit: 10% of 1_000.
	v, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 10, 10)
	if err != nil {
		t.Fatalf("vouch: %v", err)
	}
	if v.Status != StatusActive {
		t.Fatalf("expected active vouch, got %s", v.Status)
	}
	if v.CapitalStaked.Cmp(ledger(100)) != 0 {
		t.Fatalf("expected 100 earmarked, got %s", v.CapitalStaked)
	}

	rec, err := h.reputation.GetRecord(voucher)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Stars != 90 || rec.StakedStars != 10 {
		t.Fatalf("expected 90 free / 10 staked, got %d / %d", rec.Stars, rec.StakedStars)
	}

	exposure, err := h.registry.ExposureOf(voucher)
	if err != nil {
		t.Fatalf("exposure: %v", err)
	}
	if exposure.Cmp(ledger(100)) != 0 {
		t.Fatalf("expected exposure 100, got %s", exposure)
	}

	count, err := h.registry.ActiveVouchCount(1)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 active vouch, got %d", count)
	}
}

func TestVouchForLoanPreconditions(t *testing.T) {
	h := newTestHarness(t)
	h.seedPool(t, 10_000)
	borrower := makeAddress(0x01)
	voucher := makeAddress(0x02)
	h.fundVoucher(t, voucher, 100, 1_000)

	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 0, 10); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero stars: expected ErrZeroAmount, got %v", err)
	}
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 10, 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero percent: expected ErrZeroAmount, got %v", err)
	}
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 10, 101); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("excess percent: expected ErrInvalidPercent, got %v", err)
	}
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, borrower, 10, 10); !errors.Is(err, ErrSelfVouch) {
		t.Fatalf("self vouch: expected ErrSelfVouch, got %v", err)
	}

	// Stars but no deposit: the earmark comes out to zero.
	empty := makeAddress(0x03)
	h.fundVoucher(t, empty, 100, 0)
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, empty, 10, 10); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("empty deposit: expected ErrZeroAmount, got %v", err)
	}

	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 10, 10); err != nil {
		t.Fatalf("vouch: %v", err)
	}
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 10, 10); !errors.Is(err, ErrDuplicateVouch) {
		t.Fatalf("duplicate: expected ErrDuplicateVouch, got %v", err)
	}
}

func TestVouchForLoanRejectsIneligibleVoucher(t *testing.T) {
	h := newTestHarness(t)
	h.seedPool(t, 10_000)
	voucher := makeAddress(0x02)
	// 40 stars is below the vouching minimum of 50.
	h.fundVoucher(t, voucher, 40, 1_000)

	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, makeAddress(0x01), voucher, 10, 10); !errors.Is(err, ErrNotEnoughStars) {
		t.Fatalf("expected ErrNotEnoughStars, got %v", err)
	}
}

func TestVouchForLoanRejectsOvercommittedDeposit(t *testing.T) {
	h := newTestHarness(t)
	h.seedPool(t, 40_000)
	voucher := makeAddress(0x02)
	h.fundVoucher(t, voucher, 100, 1_000)

	// A 60% earmark on the 1_000 deposit leaves 400 available; a second
	// 60% earmark cannot be covered.
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, makeAddress(0x01), voucher, 10, 60); err != nil {
		t.Fatalf("first vouch: %v", err)
	}
	if _, err := h.registry.VouchForLoan(h.orchestrator, 2, makeAddress(0x03), voucher, 10, 60); !errors.Is(err, ErrNotEnoughCapital) {
		t.Fatalf("expected ErrNotEnoughCapital, got %v", err)
	}
}

func TestVouchForLoanEnforcesExposureCap(t *testing.T) {
	h := newTestHarness(t)
	voucher := makeAddress(0x02)
	h.fundVoucher(t, voucher, 100, 10_000)

	// Pool liquidity is 10_000, cap 5% => 500 max exposure. A 10% earmark
	// on the 10_000 deposit is 1_000.
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, makeAddress(0x01), voucher, 10, 10); !errors.Is(err, ErrExposureCapExceeded) {
		t.Fatalf("expected ErrExposureCapExceeded, got %v", err)
	}
	// A 5% earmark sits exactly at the cap.
	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, makeAddress(0x01), voucher, 10, 5); err != nil {
		t.Fatalf("vouch at exact cap: %v", err)
	}
}

func TestResolveLoanSuccessReturnsStarsWithBoost(t *testing.T) {
	h := newTestHarness(t)
	h.seedPool(t, 10_000)
	borrower := makeAddress(0x01)
	voucher := makeAddress(0x02)
	h.fundVoucher(t, voucher, 100, 1_000)

	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 10, 10); err != nil {
		t.Fatalf("vouch: %v", err)
	}
	settled, err := h.registry.ResolveLoan(h.orchestrator, 1, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(settled) != 1 || settled[0].Status != StatusFulfilled {
		t.Fatalf("expected one fulfilled vouch, got %+v", settled)
	}

	rec, err := h.reputation.GetRecord(voucher)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	// 100 - 10 staked + 10 returned + boost of 2.
	if rec.Stars != 102 || rec.StakedStars != 0 {
		t.Fatalf("expected 102 free / 0 staked, got %d / %d", rec.Stars, rec.StakedStars)
	}

	exposure, err := h.registry.ExposureOf(voucher)
	if err != nil {
		t.Fatalf("exposure: %v", err)
	}
	if exposure.Sign() != 0 {
		t.Fatalf("expected exposure released, got %s", exposure)
	}

	if _, err := h.registry.ResolveLoan(h.orchestrator, 1, true); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResolveLoanFailureBurnsStarsAndSlashesCapital(t *testing.T) {
	h := newTestHarness(t)
	h.seedPool(t, 10_000)
	borrower := makeAddress(0x01)
	voucher := makeAddress(0x02)
	h.fundVoucher(t, voucher, 100, 1_000)

	if _, err := h.registry.VouchForLoan(h.orchestrator, 1, borrower, voucher, 10, 10); err != nil {
		t.Fatalf("vouch: %v", err)
	}
	settled, err := h.registry.ResolveLoan(h.orchestrator, 1, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(settled) != 1 || settled[0].Status != StatusDefaulted {
		t.Fatalf("expected one defaulted vouch, got %+v", settled)
	}

	rec, err := h.reputation.GetRecord(voucher)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Stars != 90 || rec.StakedStars != 0 {
		t.Fatalf("expected burned stake leaving 90 free, got %d free / %d staked", rec.Stars, rec.StakedStars)
	}

	dep, err := h.pool.DepositOf(voucher)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if dep.Principal.Cmp(ledger(900)) != 0 {
		t.Fatalf("expected principal 900 after slash, got %s", dep.Principal)
	}
	st, err := h.pool.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Reserve.Cmp(ledger(100)) != 0 {
		t.Fatalf("expected reserve 100, got %s", st.Reserve)
	}
}

func TestResolveLoanUnknownLoan(t *testing.T) {
	h := newTestHarness(t)
	if _, err := h.registry.ResolveLoan(h.orchestrator, 42, true); !errors.Is(err, ErrRelationshipNotFound) {
		t.Fatalf("expected ErrRelationshipNotFound, got %v", err)
	}
}

func TestRegistryRejectsOutsideCallers(t *testing.T) {
	h := newTestHarness(t)
	outsider := makeAddress(0x09)

	if _, err := h.registry.VouchForLoan(outsider, 1, makeAddress(0x01), makeAddress(0x02), 10, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := h.registry.ResolveLoan(outsider, 1, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
