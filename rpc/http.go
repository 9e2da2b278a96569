package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kleolend/core"
	"kleolend/crypto"
	nativecommon "kleolend/native/common"
	"kleolend/native/loans"
	"kleolend/native/pool"
	"kleolend/native/reputation"
	"kleolend/native/vouch"
	"kleolend/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codePrecondition   = -32030
	codeInsufficient   = -32031
)

type Server struct {
	node      *core.Node
	authToken string
	logger    *slog.Logger
	metrics   *metrics.LendingMetrics
	limiter   *clientLimiter
}

// NewServer builds the JSON-RPC surface over a node. The admin token guards
// the administrative methods; when empty it falls back to the
// KLEOLEND_RPC_TOKEN environment variable.
func NewServer(node *core.Node, authToken string) *Server {
	token := strings.TrimSpace(authToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("KLEOLEND_RPC_TOKEN"))
	}
	return &Server{
		node:      node,
		authToken: token,
		logger:    slog.Default().With(slog.String("component", "rpc")),
		metrics:   metrics.Lending(),
		limiter:   newClientLimiter(defaultRateLimitPerMinute, defaultRateLimitBurst),
	}
}

// SetRateLimit replaces the per-client throttle applied to the RPC endpoint.
// Zero or negative values fall back to the defaults.
func (s *Server) SetRateLimit(perMinute float64, burst int) {
	s.limiter = newClientLimiter(perMinute, burst)
}

// Handler returns the HTTP mux serving the RPC endpoint, Prometheus metrics
// and a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.limiter.middleware(http.HandlerFunc(s.handle)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves the RPC surface on addr and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps ledger errors onto the RPC error space so clients can
// tell usage errors, retryable shortfalls and authorization failures apart.
func writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrUnauthorized),
		errors.Is(err, reputation.ErrUnauthorized),
		errors.Is(err, reputation.ErrNotAdmin),
		errors.Is(err, pool.ErrUnauthorized),
		errors.Is(err, vouch.ErrUnauthorized),
		errors.Is(err, loans.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, pool.ErrZeroAmount),
		errors.Is(err, vouch.ErrZeroAmount),
		errors.Is(err, vouch.ErrInvalidPercent),
		errors.Is(err, loans.ErrZeroAmount),
		errors.Is(err, loans.ErrLoanNotPending),
		errors.Is(err, loans.ErrLoanNotActive),
		errors.Is(err, loans.ErrLoanNotOverdue),
		errors.Is(err, loans.ErrLoanNotFound),
		errors.Is(err, loans.ErrInvalidRepaymentAmount),
		errors.Is(err, vouch.ErrSelfVouch),
		errors.Is(err, vouch.ErrDuplicateVouch),
		errors.Is(err, vouch.ErrAlreadyResolved),
		errors.Is(err, vouch.ErrRelationshipNotFound),
		errors.Is(err, vouch.ErrVouchNotFound):
		writeError(w, http.StatusOK, id, codePrecondition, err.Error(), nil)
	case errors.Is(err, pool.ErrUnavailableFunds),
		errors.Is(err, reputation.ErrInsufficientStars),
		errors.Is(err, reputation.ErrInsufficientStakedStars),
		errors.Is(err, vouch.ErrNotEnoughStars),
		errors.Is(err, vouch.ErrNotEnoughCapital),
		errors.Is(err, vouch.ErrExposureCapExceeded),
		errors.Is(err, loans.ErrInsufficientReputation),
		errors.Is(err, loans.ErrDisbursementFailed):
		writeError(w, http.StatusOK, id, codeInsufficient, err.Error(), nil)
	case errors.Is(err, pool.ErrOverflow), errors.Is(err, loans.ErrOverflow):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "rpc: admin token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "rpc: bearer token required"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "rpc: invalid token"}
	}
	return nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	correlation := uuid.NewString()
	w.Header().Set("X-Correlation-Id", correlation)

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w}
	s.dispatch(recorder, r, req)

	outcome := "ok"
	if recorder.status >= http.StatusBadRequest {
		outcome = "error"
	}
	s.metrics.ObserveRPC(req.Method, outcome, time.Since(started).Seconds())
	s.logger.Info("rpc request",
		slog.String("method", req.Method),
		slog.String("correlationId", correlation),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(started)))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "pool_deposit":
		s.handlePoolDeposit(w, r, req)
	case "pool_withdraw":
		s.handlePoolWithdraw(w, r, req)
	case "pool_accrue":
		s.handlePoolAccrue(w, r, req)
	case "pool_getDeposit":
		s.handlePoolGetDeposit(w, r, req)
	case "pool_getState":
		s.handlePoolGetState(w, r, req)
	case "pool_getRate":
		s.handlePoolGetRate(w, r, req)
	case "lend_requestLoan":
		s.handleRequestLoan(w, r, req)
	case "lend_vouch":
		s.handleVouch(w, r, req)
	case "lend_repay":
		s.handleRepay(w, r, req)
	case "lend_checkDefault":
		s.handleCheckDefault(w, r, req)
	case "lend_getLoan":
		s.handleGetLoan(w, r, req)
	case "lend_getRepaymentAmount":
		s.handleGetRepaymentAmount(w, r, req)
	case "lend_listPending":
		s.handleListPending(w, r, req)
	case "lend_listActive":
		s.handleListActive(w, r, req)
	case "lend_getVouches":
		s.handleGetVouches(w, r, req)
	case "lend_getExposure":
		s.handleGetExposure(w, r, req)
	case "rep_getStars":
		s.handleGetStars(w, r, req)
	case "rep_getRecord":
		s.handleGetRecord(w, r, req)
	case "rep_canVouch":
		s.handleCanVouch(w, r, req)
	case "rep_adminSetStars":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminSetStars(w, r, req)
	case "rep_adminUnban":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminUnban(w, r, req)
	case "admin_pauseModule":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePauseModule(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// statusRecorder remembers the HTTP status a handler wrote so the request
// metrics can label the outcome.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object, got %d", len(req.Params))
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address: %w", err)
	}
	return addr, nil
}
