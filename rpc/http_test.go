package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"kleolend/config"
	"kleolend/core"
	"kleolend/crypto"
	"kleolend/storage"
)

const testToken = "test-admin-token"

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.KleoPrefix, raw)
}

func newTestServer(t *testing.T) (*httptest.Server, *core.Node) {
	t.Helper()
	cfg := &config.Config{
		RPCAddress:   "127.0.0.1:0",
		AdminAddress: makeAddress(0xAA).String(),
		AdminToken:   testToken,
		Params:       config.DefaultParams(),
	}
	node, err := core.NewNode(storage.NewMemDB(), cfg)
	require.NoError(t, err)

	server := NewServer(node, cfg.AdminToken)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, node
}

func call(t *testing.T, ts *httptest.Server, token, method string, params interface{}) *RPCResponse {
	t.Helper()
	encodedParams := []json.RawMessage{}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		encodedParams = append(encodedParams, raw)
	}
	payload, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: encodedParams, ID: 1})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	decoded := &RPCResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(decoded))
	return decoded
}

func resultInto(t *testing.T, resp *RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func transferUnits(ledgerUnits int64) string {
	v := new(big.Int).Mul(big.NewInt(ledgerUnits), big.NewInt(100_000_000))
	return v.String()
}

func TestLoanLifecycleOverRPC(t *testing.T) {
	ts, _ := newTestServer(t)
	borrower := makeAddress(0x01).String()
	voucher := makeAddress(0x02).String()

	resp := call(t, ts, testToken, "rep_adminSetStars", adminSetStarsParams{Account: voucher, Stars: 100})
	require.Nil(t, resp.Error)

	resp = call(t, ts, "", "pool_deposit", poolAmountParams{Account: voucher, Amount: transferUnits(10_000)})
	var deposited poolDepositResult
	resultInto(t, resp, &deposited)
	require.Equal(t, "10000", deposited.Credited)

	resp = call(t, ts, "", "lend_requestLoan", requestLoanParams{Borrower: borrower, Amount: "500"})
	var loan loanResult
	resultInto(t, resp, &loan)
	require.Equal(t, "pending", loan.Status)
	require.Equal(t, uint64(1), loan.ID)

	resp = call(t, ts, "", "lend_vouch", vouchParams{Voucher: voucher, LoanID: loan.ID, Stars: 10, CapitalPercent: 5})
	var activated loanResult
	resultInto(t, resp, &activated)
	require.Equal(t, "active", activated.Status)

	resp = call(t, ts, "", "lend_getRepaymentAmount", loanIDParams{LoanID: loan.ID})
	var due repaymentAmountResult
	resultInto(t, resp, &due)

	resp = call(t, ts, "", "lend_repay", repayParams{Borrower: borrower, LoanID: loan.ID, Amount: due.Amount})
	var repaid loanResult
	resultInto(t, resp, &repaid)
	require.Equal(t, "repaid", repaid.Status)

	resp = call(t, ts, "", "rep_getStars", reputationAccountParams{Account: voucher})
	var stars struct {
		Stars uint64 `json:"stars"`
	}
	resultInto(t, resp, &stars)
	require.Equal(t, uint64(102), stars.Stars)
}

func TestAdminMethodsRequireToken(t *testing.T) {
	ts, _ := newTestServer(t)
	account := makeAddress(0x01).String()

	resp := call(t, ts, "", "rep_adminSetStars", adminSetStarsParams{Account: account, Stars: 50})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = call(t, ts, "wrong-token", "rep_adminSetStars", adminSetStarsParams{Account: account, Stars: 50})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = call(t, ts, testToken, "rep_adminSetStars", adminSetStarsParams{Account: account, Stars: 50})
	require.Nil(t, resp.Error)
}

func TestDomainErrorsCarryDistinctCodes(t *testing.T) {
	ts, _ := newTestServer(t)
	borrower := makeAddress(0x01).String()

	// Tier 2 needs 20 stars; a fresh borrower holds 7.
	resp := call(t, ts, "", "lend_requestLoan", requestLoanParams{Borrower: borrower, Amount: "5000"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInsufficient, resp.Error.Code)

	// Repaying an unknown loan is a usage error.
	resp = call(t, ts, "", "lend_repay", repayParams{Borrower: borrower, LoanID: 99, Amount: "1"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codePrecondition, resp.Error.Code)

	resp = call(t, ts, "", "nosuch_method", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestMalformedRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL, "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(decoded))
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeParseError, decoded.Error.Code)

	bad := call(t, ts, "", "pool_deposit", poolAmountParams{Account: "not-an-address", Amount: "10"})
	require.NotNil(t, bad.Error)
	require.Equal(t, codeInvalidParams, bad.Error.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(fmt.Sprintf("%s/health", ts.URL))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Client().Get(fmt.Sprintf("%s/metrics", ts.URL))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
