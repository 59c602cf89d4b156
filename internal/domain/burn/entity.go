package burn

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/fsm"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusProofSubmitted Status = "proof_submitted"
	StatusConfirmed      Status = "confirmed"
	StatusCancelled      Status = "cancelled"
	StatusRejected       Status = "rejected"
	StatusExpired        Status = "expired"
	StatusDisputed       Status = "disputed"
	StatusResolved       Status = "resolved"
)

// Machine is the burn request lifecycle. Users may cancel only before the
// agent has attested a fiat payout.
var Machine = fsm.New("burn request", map[Status][]Status{
	StatusPending:        {StatusProofSubmitted, StatusCancelled, StatusRejected, StatusExpired, StatusDisputed},
	StatusProofSubmitted: {StatusConfirmed, StatusRejected, StatusExpired, StatusDisputed},
	StatusDisputed:       {StatusResolved},
})

var OpenStatuses = []Status{StatusPending, StatusProofSubmitted}

type ReceiveMethod string

const (
	ReceiveBankTransfer ReceiveMethod = "bank_transfer"
	ReceiveMobileMoney  ReceiveMethod = "mobile_money"
)

func (m ReceiveMethod) Valid() bool {
	return m == ReceiveBankTransfer || m == ReceiveMobileMoney
}

// Payout is where the agent sends fiat. Exactly one account field is set,
// matching Method.
type Payout struct {
	Method            ReceiveMethod
	BankAccountNumber *string
	MobileMoneyNumber *string
}

// BurnRequest is a user selling tokens to an agent for fiat. It owns exactly
// one escrow, created together with it.
type BurnRequest struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	AgentID          uuid.UUID
	TokenType        ledger.TokenType
	Amount           decimal.Decimal
	Payout           Payout
	Status           Status
	EscrowID         uuid.UUID
	ReservedCapacity decimal.Decimal
	RejectReason     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time

	fiatProofURL *string
}

// FiatProof returns the agent's payout proof, present once the agent has
// attested the payout.
func (b *BurnRequest) FiatProof() (string, bool) {
	if b.fiatProofURL == nil {
		return "", false
	}
	return *b.fiatProofURL, true
}

func (b *BurnRequest) withFiatProof(url string) {
	b.fiatProofURL = &url
}

func (b *BurnRequest) IsParty(userID uuid.UUID) bool {
	return b.UserID == userID || b.AgentID == userID
}

func (b *BurnRequest) expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

type Filter struct {
	UserID  *uuid.UUID
	AgentID *uuid.UUID
	Status  *Status
	Limit   int
	Offset  int
}
