package agent

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Agent is a liquidity provider that mints and burns tokens against fiat.
// Limits and capacity are USD-equivalent.
type Agent struct {
	UserID              uuid.UUID       `db:"user_id" json:"user_id"`
	DisplayName         string          `db:"display_name" json:"display_name"`
	IsActive            bool            `db:"is_active" json:"is_active"`
	IsSuspended         bool            `db:"is_suspended" json:"is_suspended"`
	MaxTransactionLimit decimal.Decimal `db:"max_transaction_limit" json:"max_transaction_limit"`
	AvailableCapacity   decimal.Decimal `db:"available_capacity" json:"available_capacity"`
	DisputesLost        int             `db:"disputes_lost" json:"disputes_lost"`
	SuspendedAt         *time.Time      `db:"suspended_at" json:"suspended_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// CanServe reports whether the agent may take new requests.
func (a *Agent) CanServe() bool {
	return a.IsActive && !a.IsSuspended
}
