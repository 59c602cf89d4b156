package mint_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/chainclient"
	"github.com/tokenbridge/settlement-api/internal/testutil/memstore"
)

type fakeGateway struct {
	mu       sync.Mutex
	payloads []chainclient.MintPayload
	err      error
}

func (g *fakeGateway) Configured() bool { return true }

func (g *fakeGateway) SubmitMint(_ context.Context, p chainclient.MintPayload) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.payloads = append(g.payloads, p)
	return "0xabc", nil
}

func (g *fakeGateway) submitted() []chainclient.MintPayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]chainclient.MintPayload(nil), g.payloads...)
}

func createMint(t *testing.T, h *memstore.Harness, user, ag actor.Actor, amount int64) *mint.MintRequest {
	t.Helper()
	m, err := h.Mints.Create(context.Background(), user, mint.CreateInput{
		AgentID:       ag.UserID,
		TokenType:     ledger.TokenNT,
		Amount:        decimal.NewFromInt(amount),
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)
	return m
}

func TestMintHappyPath(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)

	m := createMint(t, h, user, ag, 100)
	assert.Equal(t, mint.StatusPending, m.Status)
	assert.Equal(t, h.Now().Add(30*time.Minute), m.ExpiresAt)
	_, hasProof := m.Proof()
	assert.False(t, hasProof)

	m, err := h.Mints.SubmitProof(ctx, user, m.ID, "https://proofs.example/receipt.jpg")
	require.NoError(t, err)
	assert.Equal(t, mint.StatusProofSubmitted, m.Status)
	proof, hasProof := m.Proof()
	assert.True(t, hasProof)
	assert.Equal(t, "https://proofs.example/receipt.jpg", proof)

	m, err = h.Mints.Confirm(ctx, ag, m.ID)
	require.NoError(t, err)
	h.Chain.Wait()

	assert.Equal(t, mint.StatusConfirmed, m.Status)
	require.NotNil(t, m.TransactionID)

	w := h.Wallet(t, user.UserID, ledger.TokenNT)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(100)))

	mints := h.TransactionsOfType(ledger.TxMint)
	require.Len(t, mints, 1)
	assert.Equal(t, "mint:"+m.ID.String(), mints[0].Reference)
	assert.Equal(t, *m.TransactionID, mints[0].ID)
	assert.Equal(t, ag.UserID, *mints[0].FromUserID)

	assert.Contains(t, h.Events.Types(), "mint_request.pending")
	assert.Contains(t, h.Events.Types(), "mint_request.confirmed")
	assert.Contains(t, h.Events.Types(), "wallet.updated")
}

func TestConcurrentConfirmCreditsOnce(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)

	m := createMint(t, h, user, ag, 100)
	_, err := h.Mints.SubmitProof(ctx, user, m.ID, "https://proofs.example/1")
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Mints.Confirm(ctx, ag, m.ID)
		}(i)
	}
	wg.Wait()
	h.Chain.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, apperr.ErrInvalidState), "unexpected error: %v", err)
		assert.Equal(t, "mint request is already confirmed", apperr.MessageOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, h.TransactionsOfType(ledger.TxMint), 1)
	assert.True(t, h.Wallet(t, user.UserID, ledger.TokenNT).Balance.Equal(decimal.NewFromInt(100)))
}

func TestOnlyServingAgentConfirms(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	other := h.NewAgent(t, 1000, 1000)

	m := createMint(t, h, user, ag, 10)
	_, err := h.Mints.SubmitProof(ctx, user, m.ID, "https://proofs.example/1")
	require.NoError(t, err)

	for _, act := range []actor.Actor{user, other, h.Admin} {
		_, err = h.Mints.Confirm(ctx, act, m.ID)
		assert.True(t, errors.Is(err, apperr.ErrForbidden))
		assert.Equal(t, "only the serving agent can confirm a mint request", apperr.MessageOf(err))
	}

	_, err = h.Mints.SubmitProof(ctx, actor.New(ag.UserID, actor.RoleUser), m.ID, "https://proofs.example/2")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Empty(t, h.TransactionsOfType(ledger.TxMint))
}

func TestCreateChecksAgentLimits(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 50, 0)

	_, err := h.Mints.Create(ctx, user, mint.CreateInput{AgentID: ag.UserID, TokenType: ledger.TokenCT, Amount: decimal.NewFromInt(30), PaymentMethod: "cash"})
	assert.True(t, errors.Is(err, apperr.ErrLimitExceeded))

	// Capacity is not consulted for mints.
	_, err = h.Mints.Create(ctx, user, mint.CreateInput{AgentID: ag.UserID, TokenType: ledger.TokenCT, Amount: decimal.NewFromInt(25), PaymentMethod: "cash"})
	assert.NoError(t, err)

	_, err = h.Mints.Create(ctx, user, mint.CreateInput{AgentID: ag.UserID, TokenType: ledger.TokenUSDT, Amount: decimal.NewFromInt(1), PaymentMethod: "cash"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.Mints.Create(ctx, user, mint.CreateInput{AgentID: uuid.New(), TokenType: ledger.TokenNT, Amount: decimal.NewFromInt(1), PaymentMethod: "cash"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	inactive := false
	_, err = h.Agents.UpdateLimits(ctx, h.Admin, ag.UserID, agent.LimitsInput{IsActive: &inactive})
	require.NoError(t, err)
	_, err = h.Mints.Create(ctx, user, mint.CreateInput{AgentID: ag.UserID, TokenType: ledger.TokenNT, Amount: decimal.NewFromInt(1), PaymentMethod: "cash"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	assert.Equal(t, "agent is not active", apperr.MessageOf(err))
}

func TestInvalidTransitions(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)

	m := createMint(t, h, user, ag, 10)

	_, err := h.Mints.Confirm(ctx, ag, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	assert.Equal(t, "mint request cannot move from pending to confirmed", apperr.MessageOf(err))

	_, err = h.Mints.Cancel(ctx, user, m.ID)
	require.NoError(t, err)

	_, err = h.Mints.SubmitProof(ctx, user, m.ID, "https://proofs.example/1")
	assert.Equal(t, "mint request is already cancelled", apperr.MessageOf(err))
}

func TestRejectRequiresReasonAndHasNoLedgerEffect(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)

	m := createMint(t, h, user, ag, 10)
	_, err := h.Mints.Reject(ctx, ag, m.ID, "  ")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.Mints.Reject(ctx, user, m.ID, "no payment")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	m, err = h.Mints.Reject(ctx, ag, m.ID, "no payment")
	require.NoError(t, err)
	assert.Equal(t, mint.StatusRejected, m.Status)
	require.NotNil(t, m.RejectReason)
	assert.Equal(t, "no payment", *m.RejectReason)
	assert.Empty(t, h.Store.Ledger.Transactions())
}

func TestExpireDue(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)

	stale := createMint(t, h, user, ag, 10)
	h.Advance(20 * time.Minute)
	fresh := createMint(t, h, user, ag, 10)
	h.Advance(11 * time.Minute)

	_, err := h.Mints.SubmitProof(ctx, user, stale.ID, "https://proofs.example/1")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	n, err := h.Mints.ExpireDue(ctx, h.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.Mints.SubmitProof(ctx, user, stale.ID, "https://proofs.example/1")
	assert.Equal(t, "mint request is already expired", apperr.MessageOf(err))

	got, err := h.Mints.Get(ctx, user, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, mint.StatusPending, got.Status)

	n, err = h.Mints.ExpireDue(ctx, h.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetHidesRequestFromOutsiders(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	m := createMint(t, h, user, ag, 10)

	_, err := h.Mints.Get(ctx, h.NewUser(), m.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = h.Mints.Get(ctx, h.Admin, m.ID)
	assert.NoError(t, err)

	items, err := h.Mints.List(ctx, ag, mint.Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = h.Mints.List(ctx, h.NewUser(), mint.Filter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestConfirmedMintSettlesOnChain(t *testing.T) {
	gw := &fakeGateway{}
	h := memstore.NewHarness(memstore.HarnessConfig{Gateway: gw})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)

	_, err := h.Ledger.SetChainAddress(ctx, user.UserID, ledger.TokenNT, "0xuser")
	require.NoError(t, err)

	m := createMint(t, h, user, ag, 40)
	_, err = h.Mints.SubmitProof(ctx, user, m.ID, "https://proofs.example/1")
	require.NoError(t, err)
	_, err = h.Mints.Confirm(ctx, ag, m.ID)
	require.NoError(t, err)
	h.Chain.Wait()

	sent := gw.submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, "mint:"+m.ID.String(), sent[0].Reference)
	assert.Equal(t, "0xuser", sent[0].WalletAddress)
	assert.True(t, sent[0].Amount.Equal(decimal.NewFromInt(40)))

	rows, err := h.Chain.List(ctx, h.Admin, chain.StatusSubmitted, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0xabc", *rows[0].TxHash)
}

func TestChainFailureDoesNotAffectLedger(t *testing.T) {
	gw := &fakeGateway{err: errors.New("node unavailable")}
	h := memstore.NewHarness(memstore.HarnessConfig{Gateway: gw})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)

	_, err := h.Ledger.SetChainAddress(ctx, user.UserID, ledger.TokenNT, "0xuser")
	require.NoError(t, err)

	m := createMint(t, h, user, ag, 40)
	_, err = h.Mints.SubmitProof(ctx, user, m.ID, "https://proofs.example/1")
	require.NoError(t, err)
	_, err = h.Mints.Confirm(ctx, ag, m.ID)
	require.NoError(t, err)
	h.Chain.Wait()

	assert.True(t, h.Wallet(t, user.UserID, ledger.TokenNT).Balance.Equal(decimal.NewFromInt(40)))

	rows, err := h.Chain.List(ctx, h.Admin, chain.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Attempts)

	gw.mu.Lock()
	gw.err = nil
	gw.mu.Unlock()

	n, err := h.Chain.RetryFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, gw.submitted(), 1)
}

func TestCreateRejectsUnstorableAmounts(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 0)

	for _, amount := range []string{"0.0000000000000000001", "1e40", "1e2000000"} {
		_, err := h.Mints.Create(context.Background(), user, mint.CreateInput{
			AgentID:       ag.UserID,
			TokenType:     ledger.TokenNT,
			Amount:        decimal.RequireFromString(amount),
			PaymentMethod: "cash",
		})
		assert.True(t, errors.Is(err, apperr.ErrValidation), amount)
	}
}
