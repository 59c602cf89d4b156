package chain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Settlement tracks pushing a confirmed mint to the chain. It never affects
// the ledger; failed rows are reconciliation tasks.
type Settlement struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	MintRequestID uuid.UUID        `db:"mint_request_id" json:"mint_request_id"`
	TransactionID uuid.UUID        `db:"transaction_id" json:"transaction_id"`
	UserID        uuid.UUID        `db:"user_id" json:"user_id"`
	TokenType     ledger.TokenType `db:"token_type" json:"token_type"`
	WalletAddress *string          `db:"wallet_address" json:"wallet_address,omitempty"`
	Amount        decimal.Decimal  `db:"amount" json:"amount"`
	Status        Status           `db:"status" json:"status"`
	TxHash        *string          `db:"tx_hash" json:"tx_hash,omitempty"`
	LastError     *string          `db:"last_error" json:"last_error,omitempty"`
	Attempts      int              `db:"attempts" json:"attempts"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Order asks for one confirmed mint to be settled on chain.
type Order struct {
	MintRequestID uuid.UUID
	TransactionID uuid.UUID
	UserID        uuid.UUID
	TokenType     ledger.TokenType
	Amount        decimal.Decimal
}

func (s *Settlement) reference() string {
	return "mint:" + s.MintRequestID.String()
}
