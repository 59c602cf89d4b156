package escrow

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/fsm"
)

type Status string

const (
	StatusLocked   Status = "locked"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
	StatusResolved Status = "resolved"
)

var Machine = fsm.New("escrow", map[Status][]Status{
	StatusLocked:   {StatusReleased, StatusRefunded, StatusDisputed},
	StatusDisputed: {StatusResolved},
})

// OpenStatuses hold funds in the owner's pending balance.
var OpenStatuses = []Status{StatusLocked, StatusDisputed}

// Escrow holds a user's tokens in pending balance for the life of one burn
// request. Amount never changes after lock.
type Escrow struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	BurnRequestID uuid.UUID        `db:"burn_request_id" json:"burn_request_id"`
	UserID        uuid.UUID        `db:"user_id" json:"user_id"`
	AgentID       uuid.UUID        `db:"agent_id" json:"agent_id"`
	TokenType     ledger.TokenType `db:"token_type" json:"token_type"`
	Amount        decimal.Decimal  `db:"amount" json:"amount"`
	Status        Status           `db:"status" json:"status"`
	TransactionID *uuid.UUID       `db:"transaction_id" json:"transaction_id,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
	SettledAt     *time.Time       `db:"settled_at" json:"settled_at,omitempty"`
}

func (e *Escrow) IsOpen() bool {
	return e.Status == StatusLocked || e.Status == StatusDisputed
}

func (e *Escrow) IsParty(userID uuid.UUID) bool {
	return e.UserID == userID || e.AgentID == userID
}

func LockReference(id uuid.UUID) string     { return "escrow:" + id.String() + ":lock" }
func FinalizeReference(id uuid.UUID) string { return "escrow:" + id.String() + ":finalize" }
func RefundReference(id uuid.UUID) string   { return "escrow:" + id.String() + ":refund" }

// Reconciliation compares a wallet's pending balance with its open escrows.
type Reconciliation struct {
	UserID          uuid.UUID        `db:"user_id" json:"user_id"`
	TokenType       ledger.TokenType `db:"token_type" json:"token_type"`
	PendingBalance  decimal.Decimal  `db:"pending_balance" json:"pending_balance"`
	OpenEscrowTotal decimal.Decimal  `db:"open_escrow_total" json:"open_escrow_total"`
}

func (r Reconciliation) Balanced() bool {
	return r.PendingBalance.Equal(r.OpenEscrowTotal)
}
