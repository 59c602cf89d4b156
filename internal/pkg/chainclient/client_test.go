package chainclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitMintSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/mints", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "mint:abc", r.Header.Get("Idempotency-Key"))

		var p MintPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "0xabc", p.WalletAddress)
		assert.True(t, p.Amount.Equal(decimal.NewFromInt(100)))

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"tx_hash":"0xhash"}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-token", time.Second, "settlement/1.0")
	hash, err := client.SubmitMint(context.Background(), MintPayload{
		Reference:     "mint:abc",
		WalletAddress: "0xabc",
		TokenType:     "NT",
		Amount:        decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)
}

func TestSubmitMintHTTPErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("node unavailable"))
	}))
	t.Cleanup(server.Close)

	_, err := NewClient(server.URL, "", time.Second, "").SubmitMint(context.Background(), MintPayload{Reference: "mint:x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "status=502 body=node unavailable"), err.Error())
}

func TestSubmitMintNotConfigured(t *testing.T) {
	_, err := NewClient("", "", 0, "").SubmitMint(context.Background(), MintPayload{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSubmitMintTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	_, err := NewClient(server.URL, "", 20*time.Millisecond, "").SubmitMint(context.Background(), MintPayload{Reference: "mint:x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
