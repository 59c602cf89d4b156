package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payload is the type-specific metadata of a Transaction. Exactly one
// payload struct exists per TxType.
type Payload interface {
	TxType() TxType
}

type MintPayload struct {
	MintRequestID uuid.UUID       `json:"mint_request_id"`
	AgentID       uuid.UUID       `json:"agent_id"`
	DisputeID     *uuid.UUID      `json:"dispute_id,omitempty"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
}

type BurnPayload struct {
	BurnRequestID uuid.UUID       `json:"burn_request_id"`
	EscrowID      uuid.UUID       `json:"escrow_id"`
	DisputeID     *uuid.UUID      `json:"dispute_id,omitempty"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
}

type LockPayload struct {
	BurnRequestID uuid.UUID `json:"burn_request_id"`
	EscrowID      uuid.UUID `json:"escrow_id"`
}

type RefundPayload struct {
	Subject   string     `json:"subject"`
	SubjectID uuid.UUID  `json:"subject_id"`
	EscrowID  *uuid.UUID `json:"escrow_id,omitempty"`
	DisputeID *uuid.UUID `json:"dispute_id,omitempty"`
	Reason    string     `json:"reason"`
}

type TransferPayload struct {
	Memo string `json:"memo,omitempty"`
}

type SwapPayload struct {
	ReceivedToken  TokenType       `json:"received_token"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
}

type PenaltyPayload struct {
	DisputeID        uuid.UUID       `json:"dispute_id"`
	AgentID          uuid.UUID       `json:"agent_id"`
	Subject          string          `json:"subject"`
	SubjectID        uuid.UUID       `json:"subject_id"`
	PenaltyAmountUSD decimal.Decimal `json:"penalty_amount_usd"`
	Rate             decimal.Decimal `json:"rate"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	Destination      uuid.UUID       `json:"destination"`
}

func (MintPayload) TxType() TxType     { return TxMint }
func (BurnPayload) TxType() TxType     { return TxBurn }
func (LockPayload) TxType() TxType     { return TxLock }
func (RefundPayload) TxType() TxType   { return TxRefund }
func (TransferPayload) TxType() TxType { return TxTransfer }
func (SwapPayload) TxType() TxType     { return TxSwap }
func (PenaltyPayload) TxType() TxType  { return TxPenalty }

func encodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodePayload restores the payload variant that belongs to t.
func DecodePayload(t TxType, raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return nil, nil
	}

	var p Payload
	var err error
	switch t {
	case TxMint:
		var v MintPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxBurn:
		var v BurnPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxLock:
		var v LockPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxRefund:
		var v RefundPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxTransfer:
		var v TransferPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxSwap:
		var v SwapPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxPenalty:
		var v PenaltyPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown transaction type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
