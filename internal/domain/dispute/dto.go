package dispute

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpenRequest for POST /disputes
type OpenRequest struct {
	MintRequestID string `json:"mint_request_id" validate:"omitempty,uuid"`
	BurnRequestID string `json:"burn_request_id" validate:"omitempty,uuid"`
	Reason        string `json:"reason" validate:"required,max=64"`
	Details       string `json:"details" validate:"max=2000"`
}

// EscalateRequest for POST /disputes/{id}/escalate
type EscalateRequest struct {
	Level int    `json:"level" validate:"required,min=1,max=10"`
	Notes string `json:"notes" validate:"max=2000"`
}

// ResolveRequest for POST /disputes/{id}/resolve
type ResolveRequest struct {
	Action           string `json:"action" validate:"required,dispute_action"`
	Notes            string `json:"notes" validate:"max=2000"`
	PenaltyAmountUSD string `json:"penalty_amount_usd" validate:"omitempty,decimal_positive"`
	FinalizeAmount   string `json:"finalize_amount" validate:"omitempty,decimal_positive"`
	RefundAmount     string `json:"refund_amount" validate:"omitempty,decimal_nonnegative"`
}

func optionalDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d := decimal.RequireFromString(s)
	return &d
}

func (r ResolveRequest) Input() ResolveInput {
	return ResolveInput{
		Action:           Action(r.Action),
		Notes:            r.Notes,
		PenaltyAmountUSD: optionalDecimal(r.PenaltyAmountUSD),
		FinalizeAmount:   optionalDecimal(r.FinalizeAmount),
		RefundAmount:     optionalDecimal(r.RefundAmount),
	}
}

type ResolutionResponse struct {
	Action           Action           `json:"action"`
	Notes            string           `json:"notes"`
	PenaltyAmountUSD *decimal.Decimal `json:"penalty_amount_usd,omitempty"`
	RefundAmount     decimal.Decimal  `json:"refund_amount"`
	FinalizeAmount   decimal.Decimal  `json:"finalize_amount"`
	ResolvedBy       uuid.UUID        `json:"resolved_by"`
	ResolvedAt       time.Time        `json:"resolved_at"`
	TransactionID    *uuid.UUID       `json:"transaction_id,omitempty"`
}

type Response struct {
	ID              uuid.UUID           `json:"id"`
	Subject         Subject             `json:"subject"`
	MintRequestID   *uuid.UUID          `json:"mint_request_id,omitempty"`
	BurnRequestID   *uuid.UUID          `json:"burn_request_id,omitempty"`
	EscrowID        *uuid.UUID          `json:"escrow_id,omitempty"`
	Reason          string              `json:"reason"`
	Details         string              `json:"details,omitempty"`
	OpenedByUserID  uuid.UUID           `json:"opened_by_user_id"`
	UserID          uuid.UUID           `json:"user_id"`
	AgentID         uuid.UUID           `json:"agent_id"`
	Status          Status              `json:"status"`
	EscalationLevel int                 `json:"escalation_level"`
	EscalationNotes *string             `json:"escalation_notes,omitempty"`
	Resolution      *ResolutionResponse `json:"resolution,omitempty"`
	PenaltyOwedUSD  *decimal.Decimal    `json:"penalty_owed_usd,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func ResponseFromEntity(d *Dispute) Response {
	resp := Response{
		ID:              d.ID,
		Subject:         d.Subject,
		MintRequestID:   d.MintRequestID,
		BurnRequestID:   d.BurnRequestID,
		EscrowID:        d.EscrowID,
		Reason:          d.Reason,
		Details:         d.Details,
		OpenedByUserID:  d.OpenedByUserID,
		UserID:          d.UserID,
		AgentID:         d.AgentID,
		Status:          d.Status,
		EscalationLevel: d.EscalationLevel,
		EscalationNotes: d.EscalationNotes,
		PenaltyOwedUSD:  d.PenaltyOwedUSD,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if res := d.Resolution; res != nil {
		resp.Resolution = &ResolutionResponse{
			Action:           res.Action,
			Notes:            res.Notes,
			PenaltyAmountUSD: res.PenaltyAmountUSD,
			RefundAmount:     res.RefundAmount,
			FinalizeAmount:   res.FinalizeAmount,
			ResolvedBy:       res.ResolvedBy,
			ResolvedAt:       res.ResolvedAt,
			TransactionID:    res.TransactionID,
		}
	}
	return resp
}

func ResponsesFromEntities(items []Dispute) []Response {
	out := make([]Response, 0, len(items))
	for i := range items {
		out = append(out, ResponseFromEntity(&items[i]))
	}
	return out
}
