package burn

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

const burnColumns = `id, user_id, agent_id, token_type, amount, receive_method, bank_account_number,
	mobile_money_number, fiat_proof_url, status, escrow_id, reserved_capacity, reject_reason,
	created_at, updated_at, expires_at`

type Repository interface {
	Create(ctx context.Context, b *BurnRequest) error
	Get(ctx context.Context, id uuid.UUID) (*BurnRequest, error)
	// Transition writes b when the stored status is one of from.
	Transition(ctx context.Context, b *BurnRequest, from []Status) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]BurnRequest, error)
	List(ctx context.Context, f Filter) ([]BurnRequest, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type burnRow struct {
	ID                uuid.UUID        `db:"id"`
	UserID            uuid.UUID        `db:"user_id"`
	AgentID           uuid.UUID        `db:"agent_id"`
	TokenType         ledger.TokenType `db:"token_type"`
	Amount            decimal.Decimal  `db:"amount"`
	ReceiveMethod     ReceiveMethod    `db:"receive_method"`
	BankAccountNumber *string          `db:"bank_account_number"`
	MobileMoneyNumber *string          `db:"mobile_money_number"`
	FiatProofURL      *string          `db:"fiat_proof_url"`
	Status            Status           `db:"status"`
	EscrowID          uuid.UUID        `db:"escrow_id"`
	ReservedCapacity  decimal.Decimal  `db:"reserved_capacity"`
	RejectReason      *string          `db:"reject_reason"`
	CreatedAt         time.Time        `db:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at"`
	ExpiresAt         time.Time        `db:"expires_at"`
}

func (row *burnRow) toEntity() *BurnRequest {
	return &BurnRequest{
		ID:        row.ID,
		UserID:    row.UserID,
		AgentID:   row.AgentID,
		TokenType: row.TokenType,
		Amount:    row.Amount,
		Payout: Payout{
			Method:            row.ReceiveMethod,
			BankAccountNumber: row.BankAccountNumber,
			MobileMoneyNumber: row.MobileMoneyNumber,
		},
		Status:           row.Status,
		EscrowID:         row.EscrowID,
		ReservedCapacity: row.ReservedCapacity,
		RejectReason:     row.RejectReason,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		ExpiresAt:        row.ExpiresAt,
		fiatProofURL:     row.FiatProofURL,
	}
}

func (r *PostgresRepository) Create(ctx context.Context, b *BurnRequest) error {
	_, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO burn_requests (`+burnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, b.ID, b.UserID, b.AgentID, b.TokenType, b.Amount, b.Payout.Method, b.Payout.BankAccountNumber,
		b.Payout.MobileMoneyNumber, b.fiatProofURL, b.Status, b.EscrowID, b.ReservedCapacity, b.RejectReason,
		b.CreatedAt, b.UpdatedAt, b.ExpiresAt)
	return database.MapError("burn.create", err)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*BurnRequest, error) {
	var row burnRow
	err := database.ConnFrom(ctx, r.db).GetContext(ctx, &row, `SELECT `+burnColumns+` FROM burn_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("burn.get", "burn request")
	}
	if err != nil {
		return nil, database.MapError("burn.get", err)
	}
	return row.toEntity(), nil
}

func (r *PostgresRepository) Transition(ctx context.Context, b *BurnRequest, from []Status) (bool, error) {
	res, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE burn_requests
		SET status = $2, fiat_proof_url = $3, reject_reason = $4, updated_at = $5
		WHERE id = $1 AND status = ANY($6)
	`, b.ID, b.Status, b.fiatProofURL, b.RejectReason, b.UpdatedAt, pq.Array(fsm.Strings(from)))
	if err != nil {
		return false, database.MapError("burn.transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.MapError("burn.transition", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]BurnRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	var rows []burnRow
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+burnColumns+`
		FROM burn_requests
		WHERE status = ANY($1) AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`, pq.Array(fsm.Strings(OpenStatuses)), now, limit)
	if err != nil {
		return nil, database.MapError("burn.list_due", err)
	}
	return toEntities(rows), nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]BurnRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	var rows []burnRow
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+burnColumns+`
		FROM burn_requests
		WHERE ($1::uuid IS NULL OR user_id = $1)
			AND ($2::uuid IS NULL OR agent_id = $2)
			AND ($3::text IS NULL OR status = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5
	`, f.UserID, f.AgentID, status, f.Limit, f.Offset)
	if err != nil {
		return nil, database.MapError("burn.list", err)
	}
	return toEntities(rows), nil
}

func toEntities(rows []burnRow) []BurnRequest {
	out := make([]BurnRequest, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toEntity())
	}
	return out
}
