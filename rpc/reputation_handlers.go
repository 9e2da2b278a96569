package rpc

import (
	"net/http"
	"strings"
)

type reputationAccountParams struct {
	Account string `json:"account"`
}

type adminSetStarsParams struct {
	Account string `json:"account"`
	Stars   uint64 `json:"stars"`
}

type pauseModuleParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type reputationRecordResult struct {
	Account     string `json:"account"`
	Stars       uint64 `json:"stars"`
	StakedStars uint64 `json:"stakedStars"`
	Banned      bool   `json:"banned"`
	FirstSeen   int64  `json:"firstSeen"`
}

func (s *Server) handleGetStars(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params reputationAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	stars, err := s.node.Stars(account)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"account": account.String(), "stars": stars})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params reputationAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	rec, err := s.node.ReputationRecord(account)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, reputationRecordResult{
		Account:     account.String(),
		Stars:       rec.Stars,
		StakedStars: rec.StakedStars,
		Banned:      rec.Banned,
		FirstSeen:   rec.FirstSeen,
	})
}

func (s *Server) handleCanVouch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params reputationAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	eligible, err := s.node.CanVouch(account)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"account": account.String(), "canVouch": eligible})
}

// handleAdminSetStars force-sets an account's stars. The bearer token was
// already checked; the node additionally verifies the admin address.
func (s *Server) handleAdminSetStars(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params adminSetStarsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.AdminSetStars(s.node.Admin(), account, params.Stars); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleAdminUnban(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params reputationAccountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := parseAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.AdminUnban(s.node.Admin(), account); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePauseModule(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseModuleParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	module := strings.TrimSpace(params.Module)
	if module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "module required", nil)
		return
	}
	s.node.SetModulePaused(module, params.Paused)
	writeResult(w, req.ID, true)
}
