package burn_test

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
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/testutil/memstore"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func createBurn(t *testing.T, h *memstore.Harness, user, ag actor.Actor, token ledger.TokenType, amount int64) *burn.BurnRequest {
	t.Helper()
	b, err := h.Burns.Create(context.Background(), user, burn.CreateInput{
		AgentID:           ag.UserID,
		TokenType:         token,
		Amount:            dec(amount),
		ReceiveMethod:     burn.ReceiveMobileMoney,
		MobileMoneyNumber: "+255700000001",
	})
	require.NoError(t, err)
	return b
}

func capacity(t *testing.T, h *memstore.Harness, ag actor.Actor) decimal.Decimal {
	t.Helper()
	a, err := h.Agents.Get(context.Background(), ag.UserID)
	require.NoError(t, err)
	return a.AvailableCapacity
}

func TestBurnHappyPath(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenCT, 80)

	b := createBurn(t, h, user, ag, ledger.TokenCT, 50)
	assert.Equal(t, burn.StatusPending, b.Status)
	assert.True(t, b.ReservedCapacity.Equal(dec(100)))
	assert.True(t, capacity(t, h, ag).Equal(dec(900)))

	w := h.Wallet(t, user.UserID, ledger.TokenCT)
	assert.True(t, w.Balance.Equal(dec(30)))
	assert.True(t, w.PendingBalance.Equal(dec(50)))
	h.RequireReconciled(t)

	b, err := h.Burns.AgentSubmitsProof(ctx, ag, b.ID, "https://proofs.example/payout")
	require.NoError(t, err)
	assert.Equal(t, burn.StatusProofSubmitted, b.Status)
	proof, ok := b.FiatProof()
	assert.True(t, ok)
	assert.Equal(t, "https://proofs.example/payout", proof)

	// The agent's proof alone releases nothing.
	assert.True(t, h.Wallet(t, ag.UserID, ledger.TokenCT).Balance.IsZero())

	b, err = h.Burns.UserConfirms(ctx, user, b.ID)
	require.NoError(t, err)
	assert.Equal(t, burn.StatusConfirmed, b.Status)

	w = h.Wallet(t, user.UserID, ledger.TokenCT)
	assert.True(t, w.Balance.Equal(dec(30)))
	assert.True(t, w.PendingBalance.IsZero())
	assert.True(t, h.Wallet(t, ag.UserID, ledger.TokenCT).Balance.Equal(dec(50)))

	e, err := h.Escrows.Lookup(ctx, b.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, e.Status)

	// Finalized burns keep their capacity consumed.
	assert.True(t, capacity(t, h, ag).Equal(dec(900)))
	h.RequireReconciled(t)
	h.RequireNonNegative(t)
}

func TestOnlyOwnerConfirmsBurn(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenNT, 50)

	b := createBurn(t, h, user, ag, ledger.TokenNT, 50)
	_, err := h.Burns.AgentSubmitsProof(ctx, ag, b.ID, "https://proofs.example/payout")
	require.NoError(t, err)

	for _, act := range []actor.Actor{ag, h.Admin, h.NewUser()} {
		_, err = h.Burns.UserConfirms(ctx, act, b.ID)
		assert.True(t, errors.Is(err, apperr.ErrForbidden))
		assert.Equal(t, "only the requesting user can confirm receipt of funds", apperr.MessageOf(err))
	}

	_, err = h.Burns.AgentSubmitsProof(ctx, user, b.ID, "https://proofs.example/fake")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	assert.True(t, h.Wallet(t, ag.UserID, ledger.TokenNT).Balance.IsZero())
	assert.True(t, h.Wallet(t, user.UserID, ledger.TokenNT).PendingBalance.Equal(dec(50)))
}

func TestBurnExpiryRefundsEscrow(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenCT, 50)

	b := createBurn(t, h, user, ag, ledger.TokenCT, 50)
	h.Advance(31 * time.Minute)

	_, err := h.Burns.AgentSubmitsProof(ctx, ag, b.ID, "https://proofs.example/late")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	n, err := h.Burns.ExpireDue(ctx, h.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.Burns.Get(ctx, user, b.ID)
	require.NoError(t, err)
	assert.Equal(t, burn.StatusExpired, got.Status)

	w := h.Wallet(t, user.UserID, ledger.TokenCT)
	assert.True(t, w.Balance.Equal(dec(50)))
	assert.True(t, w.PendingBalance.IsZero())
	assert.True(t, capacity(t, h, ag).Equal(dec(1000)))

	e, err := h.Escrows.Lookup(ctx, b.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, e.Status)
	h.RequireReconciled(t)

	n, err = h.Burns.ExpireDue(ctx, h.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.TransactionsOfType(ledger.TxRefund), 1)
}

func TestBurnOverCapacityTouchesNothing(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 100)
	h.Fund(t, user.UserID, ledger.TokenNT, 200)

	_, err := h.Burns.Create(ctx, user, burn.CreateInput{
		AgentID:           ag.UserID,
		TokenType:         ledger.TokenNT,
		Amount:            dec(150),
		ReceiveMethod:     burn.ReceiveBankTransfer,
		BankAccountNumber: "0123456789",
	})
	assert.True(t, errors.Is(err, apperr.ErrLimitExceeded))

	w := h.Wallet(t, user.UserID, ledger.TokenNT)
	assert.True(t, w.Balance.Equal(dec(200)))
	assert.True(t, w.PendingBalance.IsZero())
	assert.Empty(t, h.TransactionsOfType(ledger.TxLock))
	assert.True(t, capacity(t, h, ag).Equal(dec(100)))

	items, err := h.Burns.List(ctx, user, burn.Filter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestBurnWithInsufficientFundsReleasesReservation(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenNT, 10)

	_, err := h.Burns.Create(ctx, user, burn.CreateInput{
		AgentID:           ag.UserID,
		TokenType:         ledger.TokenNT,
		Amount:            dec(20),
		ReceiveMethod:     burn.ReceiveMobileMoney,
		MobileMoneyNumber: "+255700000001",
	})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientFunds))
	assert.True(t, capacity(t, h, ag).Equal(dec(1000)))
}

func TestBurnPayoutDetailsRequired(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenNT, 10)

	_, err := h.Burns.Create(context.Background(), user, burn.CreateInput{
		AgentID:       ag.UserID,
		TokenType:     ledger.TokenNT,
		Amount:        dec(5),
		ReceiveMethod: burn.ReceiveBankTransfer,
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, "bank account number is required for bank transfers", apperr.MessageOf(err))
}

func TestCancelOnlyWhilePending(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenNT, 100)

	first := createBurn(t, h, user, ag, ledger.TokenNT, 40)
	second := createBurn(t, h, user, ag, ledger.TokenNT, 40)

	_, err := h.Burns.Cancel(ctx, ag, first.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	cancelled, err := h.Burns.Cancel(ctx, user, first.ID)
	require.NoError(t, err)
	assert.Equal(t, burn.StatusCancelled, cancelled.Status)

	_, err = h.Burns.AgentSubmitsProof(ctx, ag, second.ID, "https://proofs.example/payout")
	require.NoError(t, err)
	_, err = h.Burns.Cancel(ctx, user, second.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	assert.Equal(t, "burn request cannot move from proof_submitted to cancelled", apperr.MessageOf(err))

	w := h.Wallet(t, user.UserID, ledger.TokenNT)
	assert.True(t, w.Balance.Equal(dec(60)))
	assert.True(t, w.PendingBalance.Equal(dec(40)))
	assert.True(t, capacity(t, h, ag).Equal(dec(960)))
	h.RequireReconciled(t)
}

func TestRejectRefundsAndReleasesCapacity(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenCT, 100)

	b := createBurn(t, h, user, ag, ledger.TokenCT, 100)
	assert.True(t, capacity(t, h, ag).Equal(dec(800)))

	_, err := h.Burns.AgentSubmitsProof(ctx, ag, b.ID, "https://proofs.example/payout")
	require.NoError(t, err)

	b, err = h.Burns.Reject(ctx, ag, b.ID, "account closed")
	require.NoError(t, err)
	assert.Equal(t, burn.StatusRejected, b.Status)
	require.NotNil(t, b.RejectReason)

	w := h.Wallet(t, user.UserID, ledger.TokenCT)
	assert.True(t, w.Balance.Equal(dec(100)))
	assert.True(t, w.PendingBalance.IsZero())
	assert.True(t, capacity(t, h, ag).Equal(dec(1000)))

	_, err = h.Burns.UserConfirms(ctx, user, b.ID)
	assert.Equal(t, "burn request is already rejected", apperr.MessageOf(err))
	h.RequireReconciled(t)
}

func TestBurnRejectsAmountsBeyondStoragePrecision(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenNT, 10)

	_, err := h.Burns.Create(context.Background(), user, burn.CreateInput{
		AgentID:           ag.UserID,
		TokenType:         ledger.TokenNT,
		Amount:            decimal.RequireFromString("1.0000000000000000001"),
		ReceiveMethod:     burn.ReceiveBankTransfer,
		BankAccountNumber: "0123456789",
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Empty(t, h.TransactionsOfType(ledger.TxLock))
	assert.True(t, capacity(t, h, ag).Equal(dec(1000)))
}

// lockOrder records which rows a burn touches first.
type lockOrder struct {
	calls []string
}

type orderedAgents struct {
	burn.AgentPolicy
	order *lockOrder
}

func (a orderedAgents) ReserveCapacity(ctx context.Context, agentID uuid.UUID, usd decimal.Decimal) error {
	a.order.calls = append(a.order.calls, "agent")
	return a.AgentPolicy.ReserveCapacity(ctx, agentID, usd)
}

func (a orderedAgents) ReleaseCapacity(ctx context.Context, agentID uuid.UUID, usd decimal.Decimal) error {
	a.order.calls = append(a.order.calls, "agent")
	return a.AgentPolicy.ReleaseCapacity(ctx, agentID, usd)
}

type orderedEscrows struct {
	burn.Escrows
	order *lockOrder
}

func (e orderedEscrows) Lock(ctx context.Context, in escrow.LockInput) (*escrow.Escrow, error) {
	e.order.calls = append(e.order.calls, "wallet")
	return e.Escrows.Lock(ctx, in)
}

func (e orderedEscrows) Refund(ctx context.Context, id uuid.UUID, reason string) (*escrow.Escrow, error) {
	e.order.calls = append(e.order.calls, "wallet")
	return e.Escrows.Refund(ctx, id, reason)
}

func (e orderedEscrows) Settle(ctx context.Context, id uuid.UUID, st escrow.Settlement) (*escrow.Escrow, *ledger.Transaction, error) {
	e.order.calls = append(e.order.calls, "wallet")
	return e.Escrows.Settle(ctx, id, st)
}

func TestBurnLocksAgentBeforeWallet(t *testing.T) {
	h := memstore.NewHarness(memstore.HarnessConfig{})
	ctx := context.Background()
	user := h.NewUser()
	ag := h.NewAgent(t, 1000, 1000)
	h.Fund(t, user.UserID, ledger.TokenNT, 100)

	order := &lockOrder{}
	svc := burn.NewService(h.Store.Burns, h.Store,
		orderedEscrows{Escrows: h.Escrows, order: order},
		orderedAgents{AgentPolicy: h.Agents, order: order},
		nil, time.Hour)
	create := func() *burn.BurnRequest {
		b, err := svc.Create(ctx, user, burn.CreateInput{
			AgentID:           ag.UserID,
			TokenType:         ledger.TokenNT,
			Amount:            dec(10),
			ReceiveMethod:     burn.ReceiveMobileMoney,
			MobileMoneyNumber: "+255700000001",
		})
		require.NoError(t, err)
		return b
	}

	b := create()
	assert.Equal(t, []string{"agent", "wallet"}, order.calls)

	order.calls = nil
	_, err := svc.Reject(ctx, ag, b.ID, "no funds received")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent", "wallet"}, order.calls)

	b = create()
	_, err = svc.MarkDisputed(ctx, b.ID)
	require.NoError(t, err)
	order.calls = nil
	_, _, err = svc.ResolveDispute(ctx, b.ID, escrow.Settlement{
		RefundAmount:   dec(10),
		FinalizeAmount: decimal.Zero,
		DisputeID:      uuid.New(),
		Reference:      "dispute:order:resolve",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"agent", "wallet"}, order.calls)

	assert.True(t, capacity(t, h, ag).Equal(dec(1000)))
	h.RequireReconciled(t)
}
