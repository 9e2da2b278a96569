package rpc

import (
	"net/http"

	"kleolend/native/loans"
	"kleolend/native/pool"
	"kleolend/native/vouch"
)

type requestLoanParams struct {
	Borrower     string `json:"borrower"`
	Amount       string `json:"amount"`
	TermDuration int64  `json:"termDuration,omitempty"`
}

type vouchParams struct {
	Voucher        string `json:"voucher"`
	LoanID         uint64 `json:"loanId"`
	Stars          uint64 `json:"stars"`
	CapitalPercent uint64 `json:"capitalPercent"`
}

type repayParams struct {
	Borrower string `json:"borrower"`
	LoanID   uint64 `json:"loanId"`
	Amount   string `json:"amount"`
}

type loanIDParams struct {
	LoanID uint64 `json:"loanId"`
}

type exposureParams struct {
	Voucher string `json:"voucher"`
}

type loanResult struct {
	ID              uint64 `json:"id"`
	Borrower        string `json:"borrower"`
	Principal       string `json:"principal"`
	InterestRate    uint64 `json:"interestRate"`
	RepaymentAmount string `json:"repaymentAmount"`
	Tier            uint8  `json:"tier"`
	RequiredVouches int    `json:"requiredVouches"`
	TermStart       int64  `json:"termStart"`
	TermDuration    int64  `json:"termDuration"`
	Status          string `json:"status"`
}

type vouchResult struct {
	LoanID         uint64 `json:"loanId"`
	Borrower       string `json:"borrower"`
	Voucher        string `json:"voucher"`
	StarsStaked    uint64 `json:"starsStaked"`
	CapitalPercent uint64 `json:"capitalPercent"`
	CapitalStaked  string `json:"capitalStaked"`
	Status         string `json:"status"`
}

type repaymentAmountResult struct {
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

func newLoanResult(loan *loans.Loan) loanResult {
	return loanResult{
		ID:              loan.ID,
		Borrower:        loan.Borrower.String(),
		Principal:       loan.Principal.String(),
		InterestRate:    loan.InterestRate,
		RepaymentAmount: loan.RepaymentAmount.String(),
		Tier:            loan.Tier,
		RequiredVouches: loan.RequiredVouches,
		TermStart:       loan.TermStart,
		TermDuration:    loan.TermDuration,
		Status:          string(loan.Status),
	}
}

func newVouchResult(v *vouch.Vouch) vouchResult {
	return vouchResult{
		LoanID:         v.LoanID,
		Borrower:       v.Borrower.String(),
		Voucher:        v.Voucher.String(),
		StarsStaked:    v.StarsStaked,
		CapitalPercent: v.CapitalPercent,
		CapitalStaked:  v.CapitalStaked.String(),
		Status:         string(v.Status),
	}
}

// refreshLoanGauges updates the pending/active gauges after a transition.
func (s *Server) refreshLoanGauges() {
	pending, err := s.node.PendingLoans()
	if err != nil {
		return
	}
	active, err := s.node.ActiveLoans()
	if err != nil {
		return
	}
	s.metrics.SetLoanGauges(len(pending), len(active))
}

// handleRequestLoan opens a pending loan. The amount arrives in ledger scale.
func (s *Server) handleRequestLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params requestLoanParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.node.RequestLoan(borrower, pool.NewLedgerAmount(amount), params.TermDuration)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.metrics.ObserveLoanTransition(string(loan.Status))
	s.refreshLoanGauges()
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleVouch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vouchParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	voucher, err := parseAddress(params.Voucher)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.node.VouchForLoan(voucher, params.LoanID, params.Stars, params.CapitalPercent)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.metrics.IncVouchCreated()
	if loan.Status == loans.StatusActive {
		s.metrics.ObserveLoanTransition(string(loan.Status))
	}
	s.refreshLoanGauges()
	s.refreshPoolGauges()
	writeResult(w, req.ID, newLoanResult(loan))
}

// handleRepay settles an active loan. The amount arrives in transfer scale
// and must equal the stored repayment amount exactly.
func (s *Server) handleRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params repayParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	borrower, err := parseAddress(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	loan, err := s.node.RepayLoan(borrower, params.LoanID, pool.NewTransferAmount(amount))
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.metrics.ObserveLoanTransition(string(loan.Status))
	s.refreshLoanGauges()
	s.refreshPoolGauges()
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleCheckDefault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	loan, err := s.node.CheckDefault(params.LoanID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.metrics.ObserveLoanTransition(string(loan.Status))
	s.metrics.IncSlashApplied()
	s.refreshLoanGauges()
	s.refreshPoolGauges()
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	loan, err := s.node.GetLoan(params.LoanID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newLoanResult(loan))
}

func (s *Server) handleGetRepaymentAmount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	due, err := s.node.RepaymentAmountOf(params.LoanID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, repaymentAmountResult{LoanID: params.LoanID, Amount: due.String()})
}

func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	ids, err := s.node.PendingLoans()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleListActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	ids, err := s.node.ActiveLoans()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleGetVouches(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	vouches, err := s.node.VouchesForLoan(params.LoanID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	results := make([]vouchResult, 0, len(vouches))
	for _, v := range vouches {
		results = append(results, newVouchResult(v))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleGetExposure(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params exposureParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	voucher, err := parseAddress(params.Voucher)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	exposure, err := s.node.ExposureOf(voucher)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"voucher": voucher.String(), "exposure": exposure.String()})
}
