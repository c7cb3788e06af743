package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"nhbescrow/core"
	"nhbescrow/crypto"
	"nhbescrow/storage"
)

const testJWTSecret = "rpc-test-secret"

var (
	testSeller = crypto.DeriveAddress("rpc-test-seller")
	testBuyer  = crypto.DeriveAddress("rpc-test-buyer")
)

type testClock struct {
	now int64
}

func newTestNode(t testing.TB, clock *testClock) *core.Node {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.Options{
		Tokens:    []string{"USDC", "DAI"},
		NowFunc:   func() int64 { return clock.now },
		FaucetCap: big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func newTestServer(t testing.TB, node *core.Node, cfg ServerConfig) *Server {
	t.Helper()
	srv, err := NewServer(node, cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

type rpcResult struct {
	status int
	resp   struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
}

func callRPC(t testing.TB, handler http.Handler, token, method string, params interface{}) rpcResult {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	out := rpcResult{status: rec.Code}
	if err := json.Unmarshal(rec.Body.Bytes(), &out.resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (r rpcResult) mustOK(t testing.TB, out interface{}) {
	t.Helper()
	if r.resp.Error != nil {
		t.Fatalf("unexpected rpc error (status %d): %+v", r.status, r.resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(r.resp.Result, out); err != nil {
			t.Fatalf("decode result: %v", err)
		}
	}
}

func fund(t testing.TB, handler http.Handler, addr [20]byte, asset string, amount string) {
	t.Helper()
	callRPC(t, handler, "", "bank_mint", map[string]string{
		"to": crypto.FormatAddress(addr), "asset": asset, "amount": amount,
	}).mustOK(t, nil)
}
