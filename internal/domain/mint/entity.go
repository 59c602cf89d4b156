package mint

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

// Machine is the mint request lifecycle.
var Machine = fsm.New("mint request", map[Status][]Status{
	StatusPending:        {StatusProofSubmitted, StatusCancelled, StatusRejected, StatusExpired, StatusDisputed},
	StatusProofSubmitted: {StatusConfirmed, StatusCancelled, StatusRejected, StatusExpired, StatusDisputed},
	StatusDisputed:       {StatusResolved},
})

// OpenStatuses are the statuses the expiry sweep and disputes act on.
var OpenStatuses = []Status{StatusPending, StatusProofSubmitted}

// MintRequest is a user buying tokens from an agent with fiat.
type MintRequest struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AgentID       uuid.UUID
	TokenType     ledger.TokenType
	Amount        decimal.Decimal
	PaymentMethod string
	Status        Status
	RejectReason  *string
	TransactionID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time

	proofURL *string
}

// Proof returns the payment proof URL. It exists only once the user has
// submitted proof.
func (m *MintRequest) Proof() (string, bool) {
	if m.proofURL == nil {
		return "", false
	}
	return *m.proofURL, true
}

func (m *MintRequest) withProof(url string) {
	m.proofURL = &url
}

// IsParty reports whether userID is the requesting user or the serving agent.
func (m *MintRequest) IsParty(userID uuid.UUID) bool {
	return m.UserID == userID || m.AgentID == userID
}

// Reference is the ledger idempotency key shared by every path that credits
// this request.
func (m *MintRequest) Reference() string {
	return Reference(m.ID)
}

func Reference(id uuid.UUID) string {
	return "mint:" + id.String()
}

func (m *MintRequest) expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Filter narrows List results. Nil fields match everything.
type Filter struct {
	UserID  *uuid.UUID
	AgentID *uuid.UUID
	Status  *Status
	Limit   int
	Offset  int
}
