package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferRequest for POST /wallets/transfer
type TransferRequest struct {
	ToUserID  string `json:"to_user_id" validate:"required,uuid"`
	TokenType string `json:"token_type" validate:"required,token_type"`
	Amount    string `json:"amount" validate:"required,decimal_positive"`
	// Reference is the client's idempotency key, unique per sender.
	Reference string `json:"reference" validate:"required,max=64"`
	Memo      string `json:"memo" validate:"omitempty,max=255"`
}

// ChainAddressRequest for PUT /wallets/{token}/address
type ChainAddressRequest struct {
	Address string `json:"address" validate:"required,max=128"`
}

// FreezeRequest for POST /admin/wallets/freeze and /unfreeze
type FreezeRequest struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	TokenType string `json:"token_type" validate:"required,token_type"`
	Reason    string `json:"reason" validate:"omitempty,max=500"`
}

type WalletResponse struct {
	ID             uuid.UUID       `json:"id"`
	TokenType      TokenType       `json:"token_type"`
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
	IsFrozen       bool            `json:"is_frozen"`
	FrozenReason   *string         `json:"frozen_reason,omitempty"`
	ChainAddress   *string         `json:"chain_address,omitempty"`
}

func WalletResponseFromEntity(w *Wallet) WalletResponse {
	return WalletResponse{
		ID:             w.ID,
		TokenType:      w.TokenType,
		Balance:        w.Balance,
		PendingBalance: w.PendingBalance,
		IsFrozen:       w.IsFrozen,
		FrozenReason:   w.FrozenReason,
		ChainAddress:   w.ChainAddress,
	}
}

// TransferReference scopes a client idempotency key to its sender.
func TransferReference(from uuid.UUID, clientRef string) string {
	return "transfer:" + from.String() + ":" + clientRef
}
