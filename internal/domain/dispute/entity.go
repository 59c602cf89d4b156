package dispute

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/pkg/fsm"
)

type Subject string

const (
	SubjectMint Subject = "mint"
	SubjectBurn Subject = "burn"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

var Machine = fsm.New("dispute", map[Status][]Status{
	StatusOpen: {StatusResolved},
})

type Action string

const (
	ActionRefund        Action = "refund"
	ActionComplete      Action = "complete"
	ActionPenalizeAgent Action = "penalize_agent"
	ActionSplit         Action = "split"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRefund, ActionComplete, ActionPenalizeAgent, ActionSplit:
		return true
	}
	return false
}

// AgainstAgent reports whether the action counts as a dispute lost by the agent.
func (a Action) AgainstAgent() bool {
	return a == ActionRefund || a == ActionPenalizeAgent
}

type Resolution struct {
	Action           Action
	Notes            string
	PenaltyAmountUSD *decimal.Decimal
	RefundAmount     decimal.Decimal
	FinalizeAmount   decimal.Decimal
	ResolvedBy       uuid.UUID
	ResolvedAt       time.Time
	TransactionID    *uuid.UUID
}

// Dispute contests one mint request or one burn request with its escrow.
type Dispute struct {
	ID              uuid.UUID
	Subject         Subject
	MintRequestID   *uuid.UUID
	BurnRequestID   *uuid.UUID
	EscrowID        *uuid.UUID
	Reason          string
	Details         string
	OpenedByUserID  uuid.UUID
	UserID          uuid.UUID
	AgentID         uuid.UUID
	Status          Status
	EscalationLevel int
	EscalationNotes *string
	Resolution      *Resolution
	// PenaltyOwedUSD is set when a penalty could not be collected from the agent.
	PenaltyOwedUSD *decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubjectID is the id of the contested request.
func (d *Dispute) SubjectID() uuid.UUID {
	if d.Subject == SubjectMint && d.MintRequestID != nil {
		return *d.MintRequestID
	}
	if d.BurnRequestID != nil {
		return *d.BurnRequestID
	}
	return uuid.Nil
}

func (d *Dispute) IsParty(userID uuid.UUID) bool {
	return d.UserID == userID || d.AgentID == userID || d.OpenedByUserID == userID
}

// ResolveReference is the ledger reference of the resolution's audit transaction.
func ResolveReference(id uuid.UUID) string {
	return "dispute:" + id.String() + ":resolve"
}

type Filter struct {
	UserID  *uuid.UUID
	AgentID *uuid.UUID
	Status  *Status
	Subject *Subject
	Limit   int
	Offset  int
}
