package reputation

import (
	"encoding/json"
	"errors"
	"testing"

	"kleolend/config"
	"kleolend/crypto"
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

func newTestEngine(t *testing.T) (*Engine, crypto.Address) {
	t.Helper()
	params := config.DefaultParams()
	engine := NewEngine(params)
	engine.SetState(newMockStorage())
	orchestrator := crypto.ModuleAddress("loans")
	engine.AllowCaller(orchestrator)
	engine.SetNowFunc(func() int64 { return 1_000_000 })
	return engine, orchestrator
}

func TestTouchGrantsStartingStars(t *testing.T) {
	engine, caller := newTestEngine(t)
	addr := makeAddress(0x01)

	rec, err := engine.Touch(caller, addr)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if rec.Stars != 7 {
		t.Fatalf("expected starting grant of 7 stars, got %d", rec.Stars)
	}
	if rec.FirstSeen != 1_000_000 {
		t.Fatalf("expected firstSeen stamped, got %d", rec.FirstSeen)
	}

	// A second touch must not re-grant.
	again, err := engine.Touch(caller, addr)
	if err != nil {
		t.Fatalf("second touch: %v", err)
	}
	if again.Stars != 7 {
		t.Fatalf("expected stars unchanged on second touch, got %d", again.Stars)
	}
}

func TestStakeUnstakeSuccessReturnsBoost(t *testing.T) {
	engine, caller := newTestEngine(t)
	addr := makeAddress(0x02)
	if err := engine.AdminSetStars(crypto.Address{}, addr, 100); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin without admin wiring, got %v", err)
	}
	admin := makeAddress(0xAD)
	engine.SetAdmin(admin)
	if err := engine.AdminSetStars(admin, addr, 100); err != nil {
		t.Fatalf("admin set stars: %v", err)
	}

	if err := engine.StakeStars(caller, addr, 10); err != nil {
		t.Fatalf("stake: %v", err)
	}
	stars, err := engine.GetStars(addr)
	if err != nil {
		t.Fatalf("get stars: %v", err)
	}
	if stars != 90 {
		t.Fatalf("expected 90 free stars after staking 10, got %d", stars)
	}

	if err := engine.UnstakeStars(caller, addr, 10, true); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	stars, _ = engine.GetStars(addr)
	if stars != 100+2 {
		t.Fatalf("expected stake plus boost returned (102), got %d", stars)
	}
}

func TestUnstakeFailureBurnsStake(t *testing.T) {
	engine, caller := newTestEngine(t)
	admin := makeAddress(0xAD)
	engine.SetAdmin(admin)
	addr := makeAddress(0x03)
	if err := engine.AdminSetStars(admin, addr, 50); err != nil {
		t.Fatalf("admin set stars: %v", err)
	}
	if err := engine.StakeStars(caller, addr, 20); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := engine.UnstakeStars(caller, addr, 20, false); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	stars, _ := engine.GetStars(addr)
	if stars != 30 {
		t.Fatalf("expected burned stake (30 free stars), got %d", stars)
	}
	rec, err := engine.GetRecord(addr)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.StakedStars != 0 {
		t.Fatalf("expected no staked stars left, got %d", rec.StakedStars)
	}
}

func TestStakeMoreThanFreeFails(t *testing.T) {
	engine, caller := newTestEngine(t)
	addr := makeAddress(0x04)
	if _, err := engine.Touch(caller, addr); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := engine.StakeStars(caller, addr, 8); !errors.Is(err, ErrInsufficientStars) {
		t.Fatalf("expected ErrInsufficientStars, got %v", err)
	}
	if err := engine.UnstakeStars(caller, addr, 1, true); !errors.Is(err, ErrInsufficientStakedStars) {
		t.Fatalf("expected ErrInsufficientStakedStars, got %v", err)
	}
}

func TestSlashToZeroBans(t *testing.T) {
	engine, caller := newTestEngine(t)
	addr := makeAddress(0x05)
	if _, err := engine.Touch(caller, addr); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := engine.SlashStars(caller, addr, 100); err != nil {
		t.Fatalf("slash: %v", err)
	}
	rec, err := engine.GetRecord(addr)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Stars != 0 || !rec.Banned {
		t.Fatalf("expected zero stars and ban, got stars=%d banned=%v", rec.Stars, rec.Banned)
	}
	ok, err := engine.CanVouch(addr)
	if err != nil {
		t.Fatalf("can vouch: %v", err)
	}
	if ok {
		t.Fatalf("banned account must not vouch")
	}
	if err := engine.StakeStars(caller, addr, 1); !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("expected ErrAccountBanned, got %v", err)
	}
}

func TestSlashToZeroBansDespiteOutstandingStake(t *testing.T) {
	engine, caller := newTestEngine(t)
	addr := makeAddress(0x0A)
	if _, err := engine.Touch(caller, addr); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := engine.StakeStars(caller, addr, 3); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := engine.SlashStars(caller, addr, 4); err != nil {
		t.Fatalf("slash: %v", err)
	}
	rec, err := engine.GetRecord(addr)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Stars != 0 || rec.StakedStars != 3 {
		t.Fatalf("expected 0 free / 3 staked, got %d / %d", rec.Stars, rec.StakedStars)
	}
	if !rec.Banned {
		t.Fatalf("expected ban when free stars hit zero with stake outstanding")
	}
}

func TestBurnToZeroBansDespiteOutstandingStake(t *testing.T) {
	engine, caller := newTestEngine(t)
	admin := makeAddress(0xAD)
	engine.SetAdmin(admin)
	addr := makeAddress(0x0B)
	if err := engine.AdminSetStars(admin, addr, 10); err != nil {
		t.Fatalf("admin set stars: %v", err)
	}
	// Two stakes drain the free balance; burning the first leaves the
	// second outstanding.
	if err := engine.StakeStars(caller, addr, 6); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := engine.StakeStars(caller, addr, 4); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := engine.UnstakeStars(caller, addr, 6, false); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	rec, _ := engine.GetRecord(addr)
	if rec.Stars != 0 || rec.StakedStars != 4 || !rec.Banned {
		t.Fatalf("expected banned with 0 free / 4 staked, got %+v", rec)
	}
}

func TestPartialSlashKeepsAccountAlive(t *testing.T) {
	engine, caller := newTestEngine(t)
	addr := makeAddress(0x06)
	if _, err := engine.Touch(caller, addr); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := engine.SlashStars(caller, addr, 3); err != nil {
		t.Fatalf("slash: %v", err)
	}
	rec, _ := engine.GetRecord(addr)
	if rec.Stars != 4 || rec.Banned {
		t.Fatalf("expected 4 stars unbanned, got stars=%d banned=%v", rec.Stars, rec.Banned)
	}
}

func TestAddStarsRespectsCooldown(t *testing.T) {
	engine, caller := newTestEngine(t)
	addr := makeAddress(0x07)

	now := int64(1_000_000)
	engine.SetNowFunc(func() int64 { return now })
	if _, err := engine.Touch(caller, addr); err != nil {
		t.Fatalf("touch: %v", err)
	}

	// Still inside the cooldown window: accrual is a no-op.
	now += 30
	if err := engine.AddStars(caller, addr, 5); err != nil {
		t.Fatalf("add stars: %v", err)
	}
	stars, _ := engine.GetStars(addr)
	if stars != 7 {
		t.Fatalf("expected accrual skipped during cooldown, got %d", stars)
	}

	// Past the cooldown the accrual lands.
	now += 60
	if err := engine.AddStars(caller, addr, 5); err != nil {
		t.Fatalf("add stars: %v", err)
	}
	stars, _ = engine.GetStars(addr)
	if stars != 12 {
		t.Fatalf("expected 12 stars after accrual, got %d", stars)
	}
}

func TestUnauthorizedCallerRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	stranger := makeAddress(0xEE)
	addr := makeAddress(0x08)
	if err := engine.StakeStars(stranger, addr, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.SlashStars(stranger, addr, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.Touch(stranger, addr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAdminUnbanRestoresStartingGrant(t *testing.T) {
	engine, caller := newTestEngine(t)
	admin := makeAddress(0xAD)
	engine.SetAdmin(admin)
	addr := makeAddress(0x09)
	if _, err := engine.Touch(caller, addr); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := engine.SlashStars(caller, addr, 7); err != nil {
		t.Fatalf("slash: %v", err)
	}
	if err := engine.AdminUnban(admin, addr); err != nil {
		t.Fatalf("unban: %v", err)
	}
	rec, _ := engine.GetRecord(addr)
	if rec.Banned || rec.Stars != 7 {
		t.Fatalf("expected rehabilitated account with starting grant, got %+v", rec)
	}
}
