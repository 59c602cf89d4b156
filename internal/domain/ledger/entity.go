package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TokenType string

const (
	TokenNT   TokenType = "NT"
	TokenCT   TokenType = "CT"
	TokenUSDT TokenType = "USDT"
)

func (t TokenType) Valid() bool {
	switch t {
	case TokenNT, TokenCT, TokenUSDT:
		return true
	}
	return false
}

// Mintable reports whether agents may mint or burn the token against fiat.
func (t TokenType) Mintable() bool {
	return t == TokenNT || t == TokenCT
}

type TxType string

const (
	TxMint     TxType = "mint"
	TxBurn     TxType = "burn"
	TxTransfer TxType = "transfer"
	TxSwap     TxType = "swap"
	TxLock     TxType = "lock"
	TxRefund   TxType = "refund"
	TxPenalty  TxType = "penalty"
)

type TxStatus string

const (
	TxStatusCompleted TxStatus = "completed"
	// TxStatusRefunded marks a lock whose escrow was returned to the owner.
	// It is the only status change a transaction ever sees.
	TxStatusRefunded TxStatus = "refunded"
)

type Wallet struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	TokenType      TokenType       `db:"token_type" json:"token_type"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	PendingBalance decimal.Decimal `db:"pending_balance" json:"pending_balance"`
	IsFrozen       bool            `db:"is_frozen" json:"is_frozen"`
	FrozenReason   *string         `db:"frozen_reason" json:"frozen_reason,omitempty"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	ChainAddress   *string         `db:"chain_address" json:"chain_address,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Key identifies a wallet.
type Key struct {
	UserID    uuid.UUID
	TokenType TokenType
}

func (w *Wallet) Key() Key {
	return Key{UserID: w.UserID, TokenType: w.TokenType}
}

// NewWallet returns an empty, active wallet for the pair.
func NewWallet(userID uuid.UUID, token TokenType, now time.Time) *Wallet {
	return &Wallet{
		ID:             uuid.New(),
		UserID:         userID,
		TokenType:      token,
		Balance:        decimal.Zero,
		PendingBalance: decimal.Zero,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Transaction is the immutable audit record written with every ledger mutation.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	Type        TxType          `json:"type"`
	TokenType   TokenType       `json:"token_type"`
	FromUserID  *uuid.UUID      `json:"from_user_id,omitempty"`
	ToUserID    *uuid.UUID      `json:"to_user_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	FeeWalletID *uuid.UUID      `json:"fee_wallet_id,omitempty"`
	Status      TxStatus        `json:"status"`
	Reference   string          `json:"reference"`
	Payload     Payload         `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Involves reports whether userID is on either side of the transaction.
func (t *Transaction) Involves(userID uuid.UUID) bool {
	return (t.FromUserID != nil && *t.FromUserID == userID) || (t.ToUserID != nil && *t.ToUserID == userID)
}
