package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/settlement-api/internal/app"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/domain/proof"
	"github.com/tokenbridge/settlement-api/internal/domain/realtime"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/imaging"
	"github.com/tokenbridge/settlement-api/internal/pkg/jwt"
	"github.com/tokenbridge/settlement-api/internal/pkg/storage"
	"github.com/tokenbridge/settlement-api/internal/testutil/memstore"
)

type nopSubscriber struct{}

func (nopSubscriber) Subscribe(context.Context, ...string) (realtime.Subscription, error) {
	return nil, context.Canceled
}

type testServer struct {
	*httptest.Server
	h   *memstore.Harness
	jwt *jwt.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	h := memstore.NewHarness(memstore.HarnessConfig{})
	jwtService := jwt.NewService("test-secret", time.Minute)

	st, err := storage.NewLocalStorage(t.TempDir(), "http://localhost/uploads")
	require.NoError(t, err)

	svc := &app.App{
		Ledger:   h.Ledger,
		Agents:   h.Agents,
		Escrows:  h.Escrows,
		Mints:    h.Mints,
		Burns:    h.Burns,
		Disputes: h.Disputes,
		Chain:    h.Chain,
		Proofs:   proof.NewService(st, imaging.NewProcessor(imaging.DefaultConfig())),
		Rates:    memstore.Rates,
	}
	srv := httptest.NewServer(newRouter(routerDeps{
		JWT:      jwtService,
		Handlers: newHandlers(svc, realtime.NewHandler(jwtService, nopSubscriber{}, nil)),
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, h: h, jwt: jwtService}
}

func (s *testServer) do(t *testing.T, method, path string, as *actor.Actor, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := s.jwt.GenerateAccessToken(as.UserID, string(as.Role))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestHealthAndRates(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/api/v1/rates?from=CT&to=USD", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"from":"CT","to":"USD","rate":"2"}`, string(body["data"]))
}

func TestRoutesRequireAuthentication(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/wallets", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	user := s.h.NewUser()
	resp, _ = s.do(t, http.MethodGet, "/api/v1/wallets", &user, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/escrows/reconcile", &user, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := s.h.Admin
	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/escrows/reconcile", &admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMintFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	user := s.h.NewUser()
	ag := s.h.NewAgent(t, 1000, 1000)

	resp, body := s.do(t, http.MethodPost, "/api/v1/mint-requests", &user, map[string]string{
		"agent_id":       ag.UserID.String(),
		"token_type":     "NT",
		"amount":         "100",
		"payment_method": "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created mint.Response
	require.NoError(t, json.Unmarshal(body["data"], &created))
	assert.Equal(t, mint.StatusPending, created.Status)

	path := "/api/v1/mint-requests/" + created.ID.String()

	resp, _ = s.do(t, http.MethodPost, path+"/proof", &user, map[string]string{"proof_url": "https://proofs.example/receipt.png"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The user cannot confirm their own mint.
	resp, body = s.do(t, http.MethodPost, path+"/confirm", &user, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body["error"]), "FORBIDDEN")

	resp, _ = s.do(t, http.MethodPost, path+"/confirm", &ag, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, path+"/confirm", &ag, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body["error"]), "INVALID_STATE")

	resp, body = s.do(t, http.MethodGet, "/api/v1/wallets/NT", &user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var w ledger.WalletResponse
	require.NoError(t, json.Unmarshal(body["data"], &w))
	assert.Equal(t, "100", w.Balance.String())

	s.h.Chain.Wait()
}

func TestMintValidationErrors(t *testing.T) {
	s := newTestServer(t)
	user := s.h.NewUser()

	resp, body := s.do(t, http.MethodPost, "/api/v1/mint-requests", &user, map[string]string{
		"agent_id":   "not-a-uuid",
		"token_type": "USDT",
		"amount":     "-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body["error"]), "VALIDATION")
}

func (s *testServer) balance(t *testing.T, as actor.Actor, token string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodGet, "/api/v1/wallets/"+token, &as, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var w ledger.WalletResponse
	require.NoError(t, json.Unmarshal(body["data"], &w))
	return w.Balance.String()
}

func (s *testServer) createBurn(t *testing.T, user, ag actor.Actor, amount string) burn.Response {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/burn-requests", &user, map[string]string{
		"agent_id":            ag.UserID.String(),
		"token_type":          "NT",
		"amount":              amount,
		"receive_method":      "mobile_money",
		"mobile_money_number": "+255700000001",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body["error"]))
	var created burn.Response
	require.NoError(t, json.Unmarshal(body["data"], &created))
	return created
}

func TestBurnFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	user := s.h.NewUser()
	ag := s.h.NewAgent(t, 1000, 1000)
	s.h.Fund(t, user.UserID, ledger.TokenNT, 100)

	created := s.createBurn(t, user, ag, "40")
	assert.Equal(t, burn.StatusPending, created.Status)
	assert.Equal(t, "60", s.balance(t, user, "NT"))

	path := "/api/v1/burn-requests/" + created.ID.String()
	proof := map[string]string{"fiat_proof_url": "https://proofs.example/mpesa.png"}

	resp, _ := s.do(t, http.MethodPost, path+"/agent-proof", &user, proof)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, path+"/agent-proof", &ag, proof)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Only the user who is owed the fiat can release the escrow.
	resp, body := s.do(t, http.MethodPost, path+"/user-confirm", &ag, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body["error"]), "FORBIDDEN")

	resp, body = s.do(t, http.MethodPost, path+"/user-confirm", &user, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var confirmed burn.Response
	require.NoError(t, json.Unmarshal(body["data"], &confirmed))
	assert.Equal(t, burn.StatusConfirmed, confirmed.Status)

	assert.Equal(t, "60", s.balance(t, user, "NT"))
	assert.Equal(t, "40", s.balance(t, ag, "NT"))
	s.h.RequireReconciled(t)
}

func TestBurnRejectsUnstorableAmount(t *testing.T) {
	s := newTestServer(t)
	user := s.h.NewUser()
	ag := s.h.NewAgent(t, 1000, 1000)

	resp, body := s.do(t, http.MethodPost, "/api/v1/burn-requests", &user, map[string]string{
		"agent_id":            ag.UserID.String(),
		"token_type":          "NT",
		"amount":              "0.0000000000000000001",
		"receive_method":      "mobile_money",
		"mobile_money_number": "+255700000001",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body["error"]), "amount")
}

func TestDisputeSplitOverHTTP(t *testing.T) {
	s := newTestServer(t)
	user := s.h.NewUser()
	ag := s.h.NewAgent(t, 1000, 1000)
	admin := s.h.Admin
	s.h.Fund(t, user.UserID, ledger.TokenNT, 100)

	created := s.createBurn(t, user, ag, "40")

	resp, body := s.do(t, http.MethodPost, "/api/v1/disputes", &user, map[string]string{
		"burn_request_id": created.ID.String(),
		"reason":          "fiat_not_received",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body["error"]))
	var opened dispute.Response
	require.NoError(t, json.Unmarshal(body["data"], &opened))
	assert.Equal(t, dispute.StatusOpen, opened.Status)

	path := "/api/v1/disputes/" + opened.ID.String()

	resp, _ = s.do(t, http.MethodPost, "/api/v1/burn-requests/"+created.ID.String()+"/user-confirm", &user, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	split := map[string]string{"action": "split", "finalize_amount": "15.25", "refund_amount": "24.75"}
	resp, _ = s.do(t, http.MethodPost, path+"/resolve", &user, split)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, path+"/resolve", &admin, map[string]string{
		"action":          "split",
		"finalize_amount": "0.0000000000000000001",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body["error"]), "finalize_amount")

	resp, body = s.do(t, http.MethodPost, path+"/resolve", &admin, split)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body["error"]))
	var resolved dispute.Response
	require.NoError(t, json.Unmarshal(body["data"], &resolved))
	assert.Equal(t, dispute.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "24.75", resolved.Resolution.RefundAmount.String())
	assert.Equal(t, "15.25", resolved.Resolution.FinalizeAmount.String())

	resp, _ = s.do(t, http.MethodPost, path+"/resolve", &admin, split)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Equal(t, "84.75", s.balance(t, user, "NT"))
	assert.Equal(t, "15.25", s.balance(t, ag, "NT"))
	s.h.RequireReconciled(t)
}
