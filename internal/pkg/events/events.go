// Package events carries fire-and-forget notifications of settlement state changes.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	SubjectMint    = "mint_request"
	SubjectBurn    = "burn_request"
	SubjectEscrow  = "escrow"
	SubjectDispute = "dispute"
	SubjectWallet  = "wallet"
)

// Event describes one state transition. Recipients lists the users that
// should see it on their personal stream.
type Event struct {
	Type       string      `json:"type"`
	Subject    string      `json:"subject"`
	SubjectID  uuid.UUID   `json:"subject_id"`
	Status     string      `json:"status"`
	Recipients []uuid.UUID `json:"-"`
	Data       interface{} `json:"data,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// New builds an event named "<subject>.<status>".
func New(subject string, id uuid.UUID, status string, data interface{}, recipients ...uuid.UUID) Event {
	return Event{
		Type:       subject + "." + status,
		Subject:    subject,
		SubjectID:  id,
		Status:     status,
		Recipients: recipients,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher never blocks the caller on delivery and never reports delivery failures.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
