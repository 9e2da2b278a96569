package core

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"kleolend/config"
	"kleolend/crypto"
	nativecommon "kleolend/native/common"
	"kleolend/native/loans"
	"kleolend/native/pool"
	"kleolend/native/vouch"
	"kleolend/storage"
)

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

func testConfig() *config.Config {
	return &config.Config{
		DataDir:      "",
		RPCAddress:   "127.0.0.1:0",
		AdminAddress: makeAddress(0xAA).String(),
		Params:       config.DefaultParams(),
	}
}

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	node, err := NewNode(db, testConfig())
	require.NoError(t, err)
	now := int64(1_000)
	node.SetNowFunc(func() int64 { return now })
	return node
}

func TestDisbursementFailureRollsBackVouch(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	borrower := makeAddress(0x01)
	voucher := makeAddress(0x02)
	admin := node.Admin()

	require.NoError(t, node.AdminSetStars(admin, voucher, 100))
	// The voucher's 400 units are the pool's only liquidity.
	_, err := node.Deposit(voucher, transfer(400))
	require.NoError(t, err)

	loan, err := node.RequestLoan(borrower, ledger(500), 0)
	require.NoError(t, err)
	require.Equal(t, loans.StatusPending, loan.Status)

	_, err = node.VouchForLoan(voucher, loan.ID, 10, 1)
	require.ErrorIs(t, err, loans.ErrDisbursementFailed)

	// The failed activation must leave no trace: no vouch recorded, no
	// stars staked, no exposure, and the loan still pending.
	vouches, err := node.VouchesForLoan(loan.ID)
	require.NoError(t, err)
	require.Empty(t, vouches)

	rec, err := node.ReputationRecord(voucher)
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.Stars)
	require.Zero(t, rec.StakedStars)

	exposure, err := node.ExposureOf(voucher)
	require.NoError(t, err)
	require.Zero(t, exposure.Sign())

	stored, err := node.GetLoan(loan.ID)
	require.NoError(t, err)
	require.Equal(t, loans.StatusPending, stored.Status)
}

func TestFailedOperationLeavesPoolUntouched(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	depositor := makeAddress(0x01)

	_, err := node.Deposit(depositor, transfer(1_000))
	require.NoError(t, err)

	_, err = node.Withdraw(depositor, ledger(2_000))
	require.ErrorIs(t, err, pool.ErrUnavailableFunds)

	st, err := node.PoolState()
	require.NoError(t, err)
	require.Zero(t, st.TotalLiquidity.Cmp(ledger(1_000)))
}

func TestCommittedStateSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	node := newTestNode(t, db)
	borrower := makeAddress(0x01)
	voucher := makeAddress(0x02)

	require.NoError(t, node.AdminSetStars(node.Admin(), voucher, 100))
	_, err := node.Deposit(voucher, transfer(10_000))
	require.NoError(t, err)
	loan, err := node.RequestLoan(borrower, ledger(500), 0)
	require.NoError(t, err)
	activated, err := node.VouchForLoan(voucher, loan.ID, 10, 5)
	require.NoError(t, err)
	require.Equal(t, loans.StatusActive, activated.Status)

	reopened := newTestNode(t, db)
	stored, err := reopened.GetLoan(loan.ID)
	require.NoError(t, err)
	require.Equal(t, loans.StatusActive, stored.Status)
	require.Zero(t, stored.Principal.Cmp(ledger(500)))

	st, err := reopened.PoolState()
	require.NoError(t, err)
	require.Zero(t, st.TotalBorrowed.Cmp(ledger(500)))

	vouches, err := reopened.VouchesForLoan(loan.ID)
	require.NoError(t, err)
	require.Len(t, vouches, 1)
	require.Equal(t, vouch.StatusActive, vouches[0].Status)
}

func TestFullLifecycleRepay(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	borrower := makeAddress(0x01)
	voucher := makeAddress(0x02)

	require.NoError(t, node.AdminSetStars(node.Admin(), voucher, 100))
	_, err := node.Deposit(voucher, transfer(10_000))
	require.NoError(t, err)

	loan, err := node.RequestLoan(borrower, ledger(500), 0)
	require.NoError(t, err)
	_, err = node.VouchForLoan(voucher, loan.ID, 10, 5)
	require.NoError(t, err)

	due, err := node.RepaymentAmountOf(loan.ID)
	require.NoError(t, err)
	repaid, err := node.RepayLoan(borrower, loan.ID, due)
	require.NoError(t, err)
	require.Equal(t, loans.StatusRepaid, repaid.Status)

	rec, err := node.ReputationRecord(voucher)
	require.NoError(t, err)
	require.Equal(t, uint64(102), rec.Stars)

	active, err := node.ActiveLoans()
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	node.SetModulePaused("pool", true)

	_, err := node.Deposit(makeAddress(0x01), transfer(100))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	node.SetModulePaused("pool", false)
	_, err = node.Deposit(makeAddress(0x01), transfer(100))
	require.NoError(t, err)
}
