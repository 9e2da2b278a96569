package rpc

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"kleolend/native/pool"
)

type poolAmountParams struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type poolAccountParams struct {
	Account string `json:"account"`
}

type poolDepositResult struct {
	Account  string `json:"account"`
	Credited string `json:"credited"`
}

type poolWithdrawResult struct {
	Account string `json:"account"`
	Payout  string `json:"payout"`
}

type poolPositionResult struct {
	Account      string `json:"account"`
	Principal    string `json:"principal"`
	AccruedYield string `json:"accruedYield"`
	Balance      string `json:"balance"`
}

type poolStateResult struct {
	TotalLiquidity string `json:"totalLiquidity"`
	TotalBorrowed  string `json:"totalBorrowed"`
	Reserve        string `json:"reserve"`
}

type poolRateResult struct {
	Rate string `json:"rate"`
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return parsed, nil
}

// handlePoolDeposit credits the pool. The amount arrives in transfer scale.
func (s *Server) handlePoolDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	credited, err := s.node.Deposit(account, pool.NewTransferAmount(amount))
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.refreshPoolGauges()
	writeResult(w, req.ID, poolDepositResult{Account: account.String(), Credited: credited.String()})
}

// handlePoolWithdraw debits the pool. The amount arrives in ledger scale and
// the payout is returned in transfer scale.
func (s *Server) handlePoolWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payout, err := s.node.Withdraw(account, pool.NewLedgerAmount(amount))
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.refreshPoolGauges()
	writeResult(w, req.ID, poolWithdrawResult{Account: account.String(), Payout: payout.String()})
}

func (s *Server) handlePoolAccrue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Accrue(account); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePoolGetDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	dep, err := s.node.DepositOf(account)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolPositionResult{
		Account:      account.String(),
		Principal:    dep.Principal.String(),
		AccruedYield: dep.AccruedYield.String(),
		Balance:      dep.Balance().String(),
	})
}

func (s *Server) handlePoolGetState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	st, err := s.node.PoolState()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolStateResult{
		TotalLiquidity: st.TotalLiquidity.String(),
		TotalBorrowed:  st.TotalBorrowed.String(),
		Reserve:        st.Reserve.String(),
	})
}

func (s *Server) handlePoolGetRate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	rate, err := s.node.CurrentRate()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolRateResult{Rate: rate.FloatString(9)})
}

// refreshPoolGauges recomputes the utilization gauge after a pool mutation.
func (s *Server) refreshPoolGauges() {
	st, err := s.node.PoolState()
	if err != nil {
		return
	}
	if st.TotalLiquidity.Sign() == 0 {
		s.metrics.SetPoolUtilization(0)
		return
	}
	u := new(big.Rat).SetFrac(st.TotalBorrowed.BigInt(), st.TotalLiquidity.BigInt())
	f, _ := u.Float64()
	s.metrics.SetPoolUtilization(f)
}
