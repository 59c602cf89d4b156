package burn

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
)

// CreateRequest for POST /burn-requests
type CreateRequest struct {
	AgentID           string `json:"agent_id" validate:"required,uuid"`
	TokenType         string `json:"token_type" validate:"required,mintable_token"`
	Amount            string `json:"amount" validate:"required,decimal_positive"`
	ReceiveMethod     string `json:"receive_method" validate:"required,receive_method"`
	BankAccountNumber string `json:"bank_account_number" validate:"required_if=ReceiveMethod bank_transfer,max=64"`
	MobileMoneyNumber string `json:"mobile_money_number" validate:"required_if=ReceiveMethod mobile_money,max=32"`
}

// ProofRequest for POST /burn-requests/{id}/agent-proof
type ProofRequest struct {
	FiatProofURL string `json:"fiat_proof_url" validate:"required,url,max=2048"`
}

// RejectRequest for POST /burn-requests/{id}/reject
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type Response struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"user_id"`
	AgentID           uuid.UUID        `json:"agent_id"`
	TokenType         ledger.TokenType `json:"token_type"`
	Amount            decimal.Decimal  `json:"amount"`
	ReceiveMethod     ReceiveMethod    `json:"receive_method"`
	BankAccountNumber *string          `json:"bank_account_number,omitempty"`
	MobileMoneyNumber *string          `json:"mobile_money_number,omitempty"`
	FiatProofURL      *string          `json:"fiat_proof_url,omitempty"`
	Status            Status           `json:"status"`
	EscrowID          uuid.UUID        `json:"escrow_id"`
	RejectReason      *string          `json:"reject_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
}

func ResponseFromEntity(b *BurnRequest) Response {
	resp := Response{
		ID:                b.ID,
		UserID:            b.UserID,
		AgentID:           b.AgentID,
		TokenType:         b.TokenType,
		Amount:            b.Amount,
		ReceiveMethod:     b.Payout.Method,
		BankAccountNumber: b.Payout.BankAccountNumber,
		MobileMoneyNumber: b.Payout.MobileMoneyNumber,
		Status:            b.Status,
		EscrowID:          b.EscrowID,
		RejectReason:      b.RejectReason,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
		ExpiresAt:         b.ExpiresAt,
	}
	if url, ok := b.FiatProof(); ok {
		resp.FiatProofURL = &url
	}
	return resp
}

func ResponsesFromEntities(items []BurnRequest) []Response {
	out := make([]Response, 0, len(items))
	for i := range items {
		out = append(out, ResponseFromEntity(&items[i]))
	}
	return out
}
