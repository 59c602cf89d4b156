package dispute_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/testutil/memstore"
)

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func equal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, got)
}

type parties struct {
	user  actor.Actor
	agent actor.Actor
}

func newParties(t *testing.T, h *memstore.Harness) parties {
	return parties{user: h.NewUser(), agent: h.NewAgent(t, 1000, 1000)}
}

func (p parties) mintWithProof(t *testing.T, h *memstore.Harness, amount int64) *mint.MintRequest {
	t.Helper()
	ctx := context.Background()
	m, err := h.Mints.Create(ctx, p.user, mint.CreateInput{
		AgentID:       p.agent.UserID,
		TokenType:     ledger.TokenNT,
		Amount:        *dec(amount),
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)
	m, err = h.Mints.SubmitProof(ctx, p.user, m.ID, "https://proofs.example/receipt")
	require.NoError(t, err)
	return m
}

func (p parties) burnWithProof(t *testing.T, h *memstore.Harness, token ledger.TokenType, amount int64) *burn.BurnRequest {
	t.Helper()
	ctx := context.Background()
	h.Fund(t, p.user.UserID, token, amount)
	b, err := h.Burns.Create(ctx, p.user, burn.CreateInput{
		AgentID:           p.agent.UserID,
		TokenType:         token,
		Amount:            *dec(amount),
		ReceiveMethod:     burn.ReceiveBankTransfer,
		BankAccountNumber: "0123456789",
	})
	require.NoError(t, err)
	b, err = h.Burns.AgentSubmitsProof(ctx, p.agent, b.ID, "https://proofs.example/payout")
	require.NoError(t, err)
	return b
}

func openMint(t *testing.T, h *memstore.Harness, by actor.Actor, id uuid.UUID) *dispute.Dispute {
	t.Helper()
	d, err := h.Disputes.Open(context.Background(), by, dispute.OpenInput{MintRequestID: &id, Reason: "payment_not_received"})
	require.NoError(t, err)
	return d
}

func openBurn(t *testing.T, h *memstore.Harness, by actor.Actor, id uuid.UUID) *dispute.Dispute {
	t.Helper()
	d, err := h.Disputes.Open(context.Background(), by, dispute.OpenInput{BurnRequestID: &id, Reason: "fiat_not_received"})
	require.NoError(t, err)
	return d
}

func TestBurnDisputeRefund(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	b := p.burnWithProof(t, h, ledger.TokenCT, 50)

	d := openBurn(t, h, p.user, b.ID)
	assert.Equal(t, dispute.StatusOpen, d.Status)
	assert.Equal(t, dispute.SubjectBurn, d.Subject)
	assert.Equal(t, b.EscrowID, *d.EscrowID)
	h.RequireReconciled(t)

	// Past the deadline the sweep leaves disputed requests alone.
	h.Advance(time.Hour)
	n, err := h.Burns.ExpireDue(ctx, h.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	d, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionRefund, Notes: "no payout evidence"})
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusResolved, d.Status)
	require.NotNil(t, d.Resolution)
	require.NotNil(t, d.Resolution.TransactionID)
	equal(t, 50, d.Resolution.RefundAmount)
	assert.True(t, d.Resolution.FinalizeAmount.IsZero())

	w := h.Wallet(t, p.user.UserID, ledger.TokenCT)
	equal(t, 50, w.Balance)
	assert.True(t, w.PendingBalance.IsZero())
	assert.True(t, h.Wallet(t, p.agent.UserID, ledger.TokenCT).Balance.IsZero())

	got, err := h.Burns.Lookup(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, burn.StatusResolved, got.Status)
	e, err := h.Escrows.Lookup(ctx, b.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusResolved, e.Status)

	a, err := h.Agents.Get(ctx, p.agent.UserID)
	require.NoError(t, err)
	equal(t, 1000, a.AvailableCapacity)
	assert.Equal(t, 1, a.DisputesLost)

	refunds := h.TransactionsOfType(ledger.TxRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, dispute.ResolveReference(d.ID), refunds[0].Reference)
	assert.Equal(t, refunds[0].ID, *d.Resolution.TransactionID)

	h.RequireReconciled(t)
	h.RequireNonNegative(t)
}

func TestDisputeFreezesRequests(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)

	m := p.mintWithProof(t, h, 100)
	openMint(t, h, p.agent, m.ID)

	_, err := h.Mints.Confirm(ctx, p.agent, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	assert.Equal(t, "mint request is under dispute", apperr.MessageOf(err))
	_, err = h.Mints.Reject(ctx, p.agent, m.ID, "changed my mind")
	assert.Equal(t, "mint request is under dispute", apperr.MessageOf(err))
	_, err = h.Mints.Cancel(ctx, p.user, m.ID)
	assert.Equal(t, "mint request is under dispute", apperr.MessageOf(err))
	assert.Empty(t, h.TransactionsOfType(ledger.TxMint))

	b := p.burnWithProof(t, h, ledger.TokenNT, 30)
	openBurn(t, h, p.user, b.ID)

	_, err = h.Burns.UserConfirms(ctx, p.user, b.ID)
	assert.Equal(t, "burn request is under dispute", apperr.MessageOf(err))
	_, err = h.Burns.Reject(ctx, p.agent, b.ID, "x")
	assert.Equal(t, "burn request is under dispute", apperr.MessageOf(err))
	assert.Empty(t, h.TransactionsOfType(ledger.TxBurn))
	equal(t, 30, h.Wallet(t, p.user.UserID, ledger.TokenNT).PendingBalance)
}

func TestOpenRules(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	m := p.mintWithProof(t, h, 10)

	_, err := h.Disputes.Open(ctx, h.NewUser(), dispute.OpenInput{MintRequestID: &m.ID, Reason: "fraud"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	other := uuid.New()
	_, err = h.Disputes.Open(ctx, p.user, dispute.OpenInput{MintRequestID: &m.ID, BurnRequestID: &other, Reason: "fraud"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.Disputes.Open(ctx, p.user, dispute.OpenInput{MintRequestID: &m.ID})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	openMint(t, h, p.user, m.ID)
	_, err = h.Disputes.Open(ctx, p.agent, dispute.OpenInput{MintRequestID: &m.ID, Reason: "fraud"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	confirmed := p.mintWithProof(t, h, 10)
	_, err = h.Mints.Confirm(ctx, p.agent, confirmed.ID)
	require.NoError(t, err)
	h.Chain.Wait()
	_, err = h.Disputes.Open(ctx, p.user, dispute.OpenInput{MintRequestID: &confirmed.ID, Reason: "fraud"})
	assert.Equal(t, "mint request is already confirmed", apperr.MessageOf(err))

	items, err := h.Disputes.List(ctx, p.user, dispute.Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	items, err = h.Disputes.List(ctx, h.NewUser(), dispute.Filter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMintRefundWritesAuditTransaction(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	m := p.mintWithProof(t, h, 100)
	d := openMint(t, h, p.agent, m.ID)

	d, err := h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionRefund})
	require.NoError(t, err)

	assert.True(t, h.Wallet(t, p.user.UserID, ledger.TokenNT).Balance.IsZero())
	assert.Empty(t, h.TransactionsOfType(ledger.TxMint))

	refunds := h.TransactionsOfType(ledger.TxRefund)
	require.Len(t, refunds, 1)
	assert.True(t, refunds[0].Amount.IsZero())
	assert.Equal(t, dispute.ResolveReference(d.ID), refunds[0].Reference)

	got, err := h.Mints.Lookup(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mint.StatusResolved, got.Status)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, refunds[0].ID, *got.TransactionID)
}

func TestMintCompleteCreditsUnderMintReference(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	m := p.mintWithProof(t, h, 100)
	d := openMint(t, h, p.user, m.ID)

	d, err := h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionComplete})
	require.NoError(t, err)
	h.Chain.Wait()

	equal(t, 100, h.Wallet(t, p.user.UserID, ledger.TokenNT).Balance)
	mints := h.TransactionsOfType(ledger.TxMint)
	require.Len(t, mints, 1)
	assert.Equal(t, mint.Reference(m.ID), mints[0].Reference)
	assert.Equal(t, mints[0].ID, *d.Resolution.TransactionID)

	a, err := h.Agents.Get(ctx, p.agent.UserID)
	require.NoError(t, err)
	assert.Zero(t, a.DisputesLost)
}

func TestBurnSplitConservesEscrow(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	b := p.burnWithProof(t, h, ledger.TokenNT, 100)
	d := openBurn(t, h, p.user, b.ID)

	_, err := h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionSplit, FinalizeAmount: dec(100)})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionSplit, FinalizeAmount: dec(30), RefundAmount: dec(60)})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionSplit})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	still, err := h.Disputes.Get(ctx, p.user, d.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusOpen, still.Status)

	d, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionSplit, FinalizeAmount: dec(30), RefundAmount: dec(70)})
	require.NoError(t, err)
	equal(t, 70, d.Resolution.RefundAmount)
	equal(t, 30, d.Resolution.FinalizeAmount)

	w := h.Wallet(t, p.user.UserID, ledger.TokenNT)
	equal(t, 70, w.Balance)
	assert.True(t, w.PendingBalance.IsZero())
	equal(t, 30, h.Wallet(t, p.agent.UserID, ledger.TokenNT).Balance)

	a, err := h.Agents.Get(ctx, p.agent.UserID)
	require.NoError(t, err)
	equal(t, 970, a.AvailableCapacity)
	assert.Zero(t, a.DisputesLost)

	h.RequireReconciled(t)
	h.RequireNonNegative(t)
}

func TestPenalizeAgentPaysUser(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	h.Fund(t, p.agent.UserID, ledger.TokenNT, 20)
	m := p.mintWithProof(t, h, 100)
	d := openMint(t, h, p.user, m.ID)

	_, err := h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionPenalizeAgent})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	d, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionPenalizeAgent, PenaltyAmountUSD: dec(10)})
	require.NoError(t, err)

	equal(t, 10, h.Wallet(t, p.user.UserID, ledger.TokenNT).Balance)
	equal(t, 10, h.Wallet(t, p.agent.UserID, ledger.TokenNT).Balance)

	penalties := h.TransactionsOfType(ledger.TxPenalty)
	require.Len(t, penalties, 1)
	assert.Equal(t, dispute.ResolveReference(d.ID), penalties[0].Reference)
	payload, ok := penalties[0].Payload.(ledger.PenaltyPayload)
	require.True(t, ok)
	assert.Equal(t, p.user.UserID, payload.Destination)
	equal(t, 10, payload.PenaltyAmountUSD)
}

func TestPenalizeAgentPaysPlatform(t *testing.T) {
	platform := uuid.New()
	h := memstore.NewHarness(memstore.HarnessConfig{PenaltyDestination: dispute.PenaltyToPlatform, PlatformUserID: platform})
	ctx := context.Background()
	p := newParties(t, h)
	h.Fund(t, p.agent.UserID, ledger.TokenCT, 10)
	b := p.burnWithProof(t, h, ledger.TokenCT, 40)
	d := openBurn(t, h, p.user, b.ID)

	_, err := h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionPenalizeAgent, PenaltyAmountUSD: dec(10)})
	require.NoError(t, err)

	// 10 USD is 5 CT.
	equal(t, 5, h.Wallet(t, platform, ledger.TokenCT).Balance)
	equal(t, 5, h.Wallet(t, p.agent.UserID, ledger.TokenCT).Balance)
	w := h.Wallet(t, p.user.UserID, ledger.TokenCT)
	equal(t, 40, w.Balance)
	assert.True(t, w.PendingBalance.IsZero())

	h.RequireReconciled(t)
	h.RequireNonNegative(t)
}

func TestUncoveredPenaltyIsRecordedAsOwed(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	b := p.burnWithProof(t, h, ledger.TokenCT, 40)
	d := openBurn(t, h, p.user, b.ID)

	_, err := h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionPenalizeAgent, PenaltyAmountUSD: dec(10)})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientAgentFunds))

	got, err := h.Disputes.Get(ctx, h.Admin, d.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.StatusOpen, got.Status)
	assert.Nil(t, got.Resolution)
	require.NotNil(t, got.PenaltyOwedUSD)
	equal(t, 10, *got.PenaltyOwedUSD)

	br, err := h.Burns.Lookup(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, burn.StatusDisputed, br.Status)
	equal(t, 40, h.Wallet(t, p.user.UserID, ledger.TokenCT).PendingBalance)

	a, err := h.Agents.Get(ctx, p.agent.UserID)
	require.NoError(t, err)
	assert.Zero(t, a.DisputesLost)
	h.RequireReconciled(t)

	// The dispute can still be closed another way.
	_, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionRefund})
	require.NoError(t, err)
	equal(t, 40, h.Wallet(t, p.user.UserID, ledger.TokenCT).Balance)
}

func TestRepeatedLossesSuspendAgent(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{SuspendThreshold: 2})
	ctx := context.Background()
	p := newParties(t, h)

	for i := 0; i < 2; i++ {
		m := p.mintWithProof(t, h, 10)
		d := openMint(t, h, p.user, m.ID)
		_, err := h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionRefund})
		require.NoError(t, err)
	}

	a, err := h.Agents.Get(ctx, p.agent.UserID)
	require.NoError(t, err)
	assert.True(t, a.IsSuspended)
	assert.Equal(t, 2, a.DisputesLost)

	_, err = h.Mints.Create(ctx, p.user, mint.CreateInput{AgentID: p.agent.UserID, TokenType: ledger.TokenNT, Amount: *dec(1), PaymentMethod: "cash"})
	assert.Equal(t, "agent is suspended", apperr.MessageOf(err))

	_, err = h.Agents.Reinstate(ctx, h.Admin, p.agent.UserID)
	require.NoError(t, err)
	p.mintWithProof(t, h, 1)
}

func TestEscalate(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	p := newParties(t, h)
	m := p.mintWithProof(t, h, 10)
	d := openMint(t, h, p.user, m.ID)

	_, err := h.Disputes.Escalate(ctx, p.user, d.ID, 1, "")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	d, err = h.Disputes.Escalate(ctx, h.Admin, d.ID, 2, "needs bank statement")
	require.NoError(t, err)
	assert.Equal(t, 2, d.EscalationLevel)
	require.NotNil(t, d.EscalationNotes)

	_, err = h.Disputes.Escalate(ctx, h.Admin, d.ID, 2, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.Disputes.Resolve(ctx, p.agent, d.ID, dispute.ResolveInput{Action: dispute.ActionComplete})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionComplete})
	require.NoError(t, err)
	h.Chain.Wait()

	_, err = h.Disputes.Escalate(ctx, h.Admin, d.ID, 3, "")
	assert.Equal(t, "dispute is already resolved", apperr.MessageOf(err))
	_, err = h.Disputes.Resolve(ctx, h.Admin, d.ID, dispute.ResolveInput{Action: dispute.ActionRefund})
	assert.Equal(t, "dispute is already resolved", apperr.MessageOf(err))
	assert.Len(t, h.TransactionsOfType(ledger.TxMint), 1)
}
