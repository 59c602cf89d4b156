package mint

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
)

// CreateRequest for POST /mint-requests
type CreateRequest struct {
	AgentID       string `json:"agent_id" validate:"required,uuid"`
	TokenType     string `json:"token_type" validate:"required,mintable_token"`
	Amount        string `json:"amount" validate:"required,decimal_positive"`
	PaymentMethod string `json:"payment_method" validate:"required,max=32"`
}

// ProofRequest for POST /mint-requests/{id}/proof
type ProofRequest struct {
	ProofURL string `json:"proof_url" validate:"required,url,max=2048"`
}

// RejectRequest for POST /mint-requests/{id}/reject
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type Response struct {
	ID              uuid.UUID        `json:"id"`
	UserID          uuid.UUID        `json:"user_id"`
	AgentID         uuid.UUID        `json:"agent_id"`
	TokenType       ledger.TokenType `json:"token_type"`
	Amount          decimal.Decimal  `json:"amount"`
	PaymentMethod   string           `json:"payment_method"`
	PaymentProofURL *string          `json:"payment_proof_url,omitempty"`
	Status          Status           `json:"status"`
	RejectReason    *string          `json:"reject_reason,omitempty"`
	TransactionID   *uuid.UUID       `json:"transaction_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

func ResponseFromEntity(m *MintRequest) Response {
	resp := Response{
		ID:            m.ID,
		UserID:        m.UserID,
		AgentID:       m.AgentID,
		TokenType:     m.TokenType,
		Amount:        m.Amount,
		PaymentMethod: m.PaymentMethod,
		Status:        m.Status,
		RejectReason:  m.RejectReason,
		TransactionID: m.TransactionID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		ExpiresAt:     m.ExpiresAt,
	}
	if url, ok := m.Proof(); ok {
		resp.PaymentProofURL = &url
	}
	return resp
}

func ResponsesFromEntities(items []MintRequest) []Response {
	out := make([]Response, 0, len(items))
	for i := range items {
		out = append(out, ResponseFromEntity(&items[i]))
	}
	return out
}
