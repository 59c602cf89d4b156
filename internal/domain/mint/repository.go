package mint

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/fsm"
)

const mintColumns = `id, user_id, agent_id, token_type, amount, payment_method, payment_proof_url,
	status, reject_reason, transaction_id, created_at, updated_at, expires_at`

type Repository interface {
	Create(ctx context.Context, m *MintRequest) error
	Get(ctx context.Context, id uuid.UUID) (*MintRequest, error)
	// Transition writes m when the stored status is one of from. It reports
	// false when another writer changed the status first.
	Transition(ctx context.Context, m *MintRequest, from []Status) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]MintRequest, error)
	List(ctx context.Context, f Filter) ([]MintRequest, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type mintRow struct {
	ID              uuid.UUID        `db:"id"`
	UserID          uuid.UUID        `db:"user_id"`
	AgentID         uuid.UUID        `db:"agent_id"`
	TokenType       ledger.TokenType `db:"token_type"`
	Amount          decimal.Decimal  `db:"amount"`
	PaymentMethod   string           `db:"payment_method"`
	PaymentProofURL *string          `db:"payment_proof_url"`
	Status          Status           `db:"status"`
	RejectReason    *string          `db:"reject_reason"`
	TransactionID   *uuid.UUID       `db:"transaction_id"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
	ExpiresAt       time.Time        `db:"expires_at"`
}

func (row *mintRow) toEntity() *MintRequest {
	return &MintRequest{
		ID:            row.ID,
		UserID:        row.UserID,
		AgentID:       row.AgentID,
		TokenType:     row.TokenType,
		Amount:        row.Amount,
		PaymentMethod: row.PaymentMethod,
		Status:        row.Status,
		RejectReason:  row.RejectReason,
		TransactionID: row.TransactionID,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		ExpiresAt:     row.ExpiresAt,
		proofURL:      row.PaymentProofURL,
	}
}

func (r *PostgresRepository) Create(ctx context.Context, m *MintRequest) error {
	_, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO mint_requests (`+mintColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.ID, m.UserID, m.AgentID, m.TokenType, m.Amount, m.PaymentMethod, m.proofURL,
		m.Status, m.RejectReason, m.TransactionID, m.CreatedAt, m.UpdatedAt, m.ExpiresAt)
	return database.MapError("mint.create", err)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*MintRequest, error) {
	var row mintRow
	err := database.ConnFrom(ctx, r.db).GetContext(ctx, &row, `SELECT `+mintColumns+` FROM mint_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("mint.get", "mint request")
	}
	if err != nil {
		return nil, database.MapError("mint.get", err)
	}
	return row.toEntity(), nil
}

func (r *PostgresRepository) Transition(ctx context.Context, m *MintRequest, from []Status) (bool, error) {
	res, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE mint_requests
		SET status = $2, payment_proof_url = $3, reject_reason = $4, transaction_id = $5, updated_at = $6
		WHERE id = $1 AND status = ANY($7)
	`, m.ID, m.Status, m.proofURL, m.RejectReason, m.TransactionID, m.UpdatedAt, pq.Array(fsm.Strings(from)))
	if err != nil {
		return false, database.MapError("mint.transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.MapError("mint.transition", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]MintRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	var rows []mintRow
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+mintColumns+`
		FROM mint_requests
		WHERE status = ANY($1) AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`, pq.Array(fsm.Strings(OpenStatuses)), now, limit)
	if err != nil {
		return nil, database.MapError("mint.list_due", err)
	}
	return toEntities(rows), nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]MintRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	var rows []mintRow
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+mintColumns+`
		FROM mint_requests
		WHERE ($1::uuid IS NULL OR user_id = $1)
			AND ($2::uuid IS NULL OR agent_id = $2)
			AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5
	`, f.UserID, f.AgentID, status, f.Limit, f.Offset)
	if err != nil {
		return nil, database.MapError("mint.list", err)
	}
	return toEntities(rows), nil
}

func toEntities(rows []mintRow) []MintRequest {
	out := make([]MintRequest, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toEntity())
	}
	return out
}
