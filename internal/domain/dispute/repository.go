package dispute

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/fsm"
)

const disputeColumns = `id, subject, mint_request_id, burn_request_id, escrow_id, reason, details,
	opened_by_user_id, user_id, agent_id, status, escalation_level, escalation_notes,
	resolution_action, resolution_notes, penalty_amount_usd, refund_amount, finalize_amount,
	resolved_by, resolved_at, transaction_id, penalty_owed_usd, created_at, updated_at`

type Repository interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id uuid.UUID) (*Dispute, error)
	// Transition writes d when the stored status is one of from.
	Transition(ctx context.Context, d *Dispute, from []Status) (bool, error)
	List(ctx context.Context, f Filter) ([]Dispute, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type disputeRow struct {
	ID               uuid.UUID            `db:"id"`
	Subject          Subject              `db:"subject"`
	MintRequestID    *uuid.UUID           `db:"mint_request_id"`
	BurnRequestID    *uuid.UUID           `db:"burn_request_id"`
	EscrowID         *uuid.UUID           `db:"escrow_id"`
	Reason           string               `db:"reason"`
	Details          string               `db:"details"`
	OpenedByUserID   uuid.UUID            `db:"opened_by_user_id"`
	UserID           uuid.UUID            `db:"user_id"`
	AgentID          uuid.UUID            `db:"agent_id"`
	Status           Status               `db:"status"`
	EscalationLevel  int                  `db:"escalation_level"`
	EscalationNotes  *string              `db:"escalation_notes"`
	ResolutionAction *string              `db:"resolution_action"`
	ResolutionNotes  *string              `db:"resolution_notes"`
	PenaltyAmountUSD decimal.NullDecimal  `db:"penalty_amount_usd"`
	RefundAmount     decimal.NullDecimal  `db:"refund_amount"`
	FinalizeAmount   decimal.NullDecimal  `db:"finalize_amount"`
	ResolvedBy       *uuid.UUID           `db:"resolved_by"`
	ResolvedAt       *time.Time           `db:"resolved_at"`
	TransactionID    *uuid.UUID           `db:"transaction_id"`
	PenaltyOwedUSD   decimal.NullDecimal  `db:"penalty_owed_usd"`
	CreatedAt        time.Time            `db:"created_at"`
	UpdatedAt        time.Time            `db:"updated_at"`
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func ptr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func toRow(d *Dispute) disputeRow {
	row := disputeRow{
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
		PenaltyOwedUSD:  nullable(d.PenaltyOwedUSD),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if res := d.Resolution; res != nil {
		action := string(res.Action)
		notes := res.Notes
		by := res.ResolvedBy
		at := res.ResolvedAt
		row.ResolutionAction = &action
		row.ResolutionNotes = &notes
		row.PenaltyAmountUSD = nullable(res.PenaltyAmountUSD)
		row.RefundAmount = nullable(&res.RefundAmount)
		row.FinalizeAmount = nullable(&res.FinalizeAmount)
		row.ResolvedBy = &by
		row.ResolvedAt = &at
		row.TransactionID = res.TransactionID
	}
	return row
}

func (row *disputeRow) toEntity() *Dispute {
	d := &Dispute{
		ID:              row.ID,
		Subject:         row.Subject,
		MintRequestID:   row.MintRequestID,
		BurnRequestID:   row.BurnRequestID,
		EscrowID:        row.EscrowID,
		Reason:          row.Reason,
		Details:         row.Details,
		OpenedByUserID:  row.OpenedByUserID,
		UserID:          row.UserID,
		AgentID:         row.AgentID,
		Status:          row.Status,
		EscalationLevel: row.EscalationLevel,
		EscalationNotes: row.EscalationNotes,
		PenaltyOwedUSD:  ptr(row.PenaltyOwedUSD),
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.ResolutionAction != nil {
		res := &Resolution{
			Action:           Action(*row.ResolutionAction),
			PenaltyAmountUSD: ptr(row.PenaltyAmountUSD),
			RefundAmount:     row.RefundAmount.Decimal,
			FinalizeAmount:   row.FinalizeAmount.Decimal,
			TransactionID:    row.TransactionID,
		}
		if row.ResolutionNotes != nil {
			res.Notes = *row.ResolutionNotes
		}
		if row.ResolvedBy != nil {
			res.ResolvedBy = *row.ResolvedBy
		}
		if row.ResolvedAt != nil {
			res.ResolvedAt = *row.ResolvedAt
		}
		d.Resolution = res
	}
	return d
}

func (r *PostgresRepository) Create(ctx context.Context, d *Dispute) error {
	const op = "dispute.create"
	row := toRow(d)
	_, err := database.ConnFrom(ctx, r.db).NamedExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES (:id, :subject, :mint_request_id, :burn_request_id, :escrow_id, :reason, :details,
			:opened_by_user_id, :user_id, :agent_id, :status, :escalation_level, :escalation_notes,
			:resolution_action, :resolution_notes, :penalty_amount_usd, :refund_amount, :finalize_amount,
			:resolved_by, :resolved_at, :transaction_id, :penalty_owed_usd, :created_at, :updated_at)
	`, row)
	if database.IsUniqueViolation(err) {
		return apperr.InvalidState(op, "an open dispute already exists for this %s request", d.Subject)
	}
	return database.MapError(op, err)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	var row disputeRow
	err := database.ConnFrom(ctx, r.db).GetContext(ctx, &row, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("dispute.get", "dispute")
	}
	if err != nil {
		return nil, database.MapError("dispute.get", err)
	}
	return row.toEntity(), nil
}

func (r *PostgresRepository) Transition(ctx context.Context, d *Dispute, from []Status) (bool, error) {
	row := toRow(d)
	res, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE disputes
		SET status = $2, escalation_level = $3, escalation_notes = $4, resolution_action = $5,
			resolution_notes = $6, penalty_amount_usd = $7, refund_amount = $8, finalize_amount = $9,
			resolved_by = $10, resolved_at = $11, transaction_id = $12, penalty_owed_usd = $13,
			updated_at = $14
		WHERE id = $1 AND status = ANY($15)
	`, row.ID, row.Status, row.EscalationLevel, row.EscalationNotes, row.ResolutionAction,
		row.ResolutionNotes, row.PenaltyAmountUSD, row.RefundAmount, row.FinalizeAmount,
		row.ResolvedBy, row.ResolvedAt, row.TransactionID, row.PenaltyOwedUSD,
		row.UpdatedAt, pq.Array(fsm.Strings(from)))
	if err != nil {
		return false, database.MapError("dispute.transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.MapError("dispute.transition", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Dispute, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	var status, subject *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	if f.Subject != nil {
		s := string(*f.Subject)
		subject = &s
	}

	var rows []disputeRow
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE ($1::uuid IS NULL OR user_id = $1)
			AND ($2::uuid IS NULL OR agent_id = $2)
			AND ($3::text IS NULL OR status = $3)
			AND ($4::text IS NULL OR subject = $4)
		ORDER BY created_at DESC, id
		LIMIT $5 OFFSET $6
	`, f.UserID, f.AgentID, status, subject, f.Limit, f.Offset)
	if err != nil {
		return nil, database.MapError("dispute.list", err)
	}
	out := make([]Dispute, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toEntity())
	}
	return out, nil
}
