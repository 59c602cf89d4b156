package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/rates"
)

// Rates used by the harness: one NT is one USD, one CT is two USD.
var Rates = rates.NewStaticProvider(map[string]decimal.Decimal{
	"NT:USD": decimal.NewFromInt(1),
	"CT:USD": decimal.NewFromInt(2),
})

// Harness wires every settlement service over one Store.
type Harness struct {
	Store    *Store
	Events   *events.Recorder
	Ledger   *ledger.Service
	Agents   *agent.Service
	Escrows  *escrow.Service
	Mints    *mint.Service
	Burns    *burn.Service
	Disputes *dispute.Service
	Chain    *chain.Dispatcher
	Admin    actor.Actor

	mu  sync.Mutex
	now time.Time
}

type HarnessConfig struct {
	SuspendThreshold   int
	PenaltyDestination string
	PlatformUserID     uuid.UUID
	Gateway            chain.Gateway
}

func NewHarness(cfg HarnessConfig) *Harness {
	h := &Harness{
		Store:  New(),
		Events: &events.Recorder{},
		Admin:  actor.New(uuid.New(), actor.RoleAdmin),
		now:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	s := h.Store
	h.Ledger = ledger.NewService(s.Ledger, s, h.Events)
	h.Agents = agent.NewService(s.Agents, s, Rates, agent.Config{SuspendThreshold: cfg.SuspendThreshold})
	h.Escrows = escrow.NewService(s.Escrows, s, h.Ledger, h.Events)
	h.Chain = chain.NewDispatcher(s.Chain, h.Ledger, cfg.Gateway)
	h.Mints = mint.NewService(s.Mints, s, h.Ledger, h.Agents, h.Chain, h.Events, 30*time.Minute)
	h.Burns = burn.NewService(s.Burns, s, h.Escrows, h.Agents, h.Events, 30*time.Minute)
	h.Disputes = dispute.NewService(s.Disputes, s, h.Mints, h.Burns, h.Ledger, h.Agents, Rates, h.Events, dispute.Config{
		PenaltyDestination: cfg.PenaltyDestination,
		PlatformUserID:     cfg.PlatformUserID,
	})
	h.Mints.SetClock(h.Now)
	h.Burns.SetClock(h.Now)
	h.Disputes.SetClock(h.Now)
	return h
}

func (h *Harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// Advance moves the harness clock forward.
func (h *Harness) Advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

// NewUser returns a fresh user actor.
func (h *Harness) NewUser() actor.Actor {
	return actor.New(uuid.New(), actor.RoleUser)
}

// NewAgent registers an agent with USD limits and returns its actor.
func (h *Harness) NewAgent(t testing.TB, maxTransaction, capacity int64) actor.Actor {
	t.Helper()
	a := actor.New(uuid.New(), actor.RoleAgent)
	_, err := h.Agents.Register(context.Background(), h.Admin, agent.RegisterInput{
		UserID:              a.UserID,
		DisplayName:         "agent " + a.UserID.String()[:8],
		MaxTransactionLimit: decimal.NewFromInt(maxTransaction),
		AvailableCapacity:   decimal.NewFromInt(capacity),
	})
	require.NoError(t, err)
	return a
}

// Fund credits amount to the user's wallet outside any settlement flow.
func (h *Harness) Fund(t testing.TB, userID uuid.UUID, token ledger.TokenType, amount int64) {
	t.Helper()
	_, err := h.Ledger.Credit(context.Background(), ledger.CreditInput{
		UserID:    userID,
		TokenType: token,
		Amount:    decimal.NewFromInt(amount),
		Type:      ledger.TxTransfer,
		Reference: "seed:" + uuid.NewString(),
		Payload:   ledger.TransferPayload{Memo: "seed"},
	})
	require.NoError(t, err)
}

// Wallet returns the user's wallet, or a zero wallet when none exists.
func (h *Harness) Wallet(t testing.TB, userID uuid.UUID, token ledger.TokenType) ledger.Wallet {
	t.Helper()
	w, err := h.Store.Ledger.GetWallet(context.Background(), userID, token)
	if err != nil {
		return ledger.Wallet{UserID: userID, TokenType: token}
	}
	return *w
}

// TransactionsOfType returns recorded transactions of type typ.
func (h *Harness) TransactionsOfType(typ ledger.TxType) []ledger.Transaction {
	var out []ledger.Transaction
	for _, t := range h.Store.Ledger.Transactions() {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

// RequireReconciled fails unless every wallet's pending balance equals the
// sum of its open escrows.
func (h *Harness) RequireReconciled(t testing.TB) {
	t.Helper()
	mismatches, err := h.Escrows.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

// RequireNonNegative fails if any wallet has a negative balance.
func (h *Harness) RequireNonNegative(t testing.TB) {
	t.Helper()
	for _, w := range h.Store.Ledger.Wallets() {
		require.False(t, w.Balance.IsNegative(), "negative balance on %s %s", w.UserID, w.TokenType)
		require.False(t, w.PendingBalance.IsNegative(), "negative pending balance on %s %s", w.UserID, w.TokenType)
	}
}
