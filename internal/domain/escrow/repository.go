package escrow

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/fsm"
)

const escrowColumns = `id, burn_request_id, user_id, agent_id, token_type, amount, status,
	transaction_id, created_at, updated_at, settled_at`

type Repository interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id uuid.UUID) (*Escrow, error)
	// Transition writes e when the stored status is one of from.
	Transition(ctx context.Context, e *Escrow, from []Status) (bool, error)
	SumOpen(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (decimal.Decimal, error)
	// Mismatches lists wallets whose pending balance differs from their open escrows.
	Mismatches(ctx context.Context) ([]Reconciliation, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *Escrow) error {
	_, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.BurnRequestID, e.UserID, e.AgentID, e.TokenType, e.Amount, e.Status,
		e.TransactionID, e.CreatedAt, e.UpdatedAt, e.SettledAt)
	if database.IsUniqueViolation(err) {
		return apperr.InvalidState("escrow.create", "burn request already has an escrow")
	}
	return database.MapError("escrow.create", err)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	var e Escrow
	err := database.ConnFrom(ctx, r.db).GetContext(ctx, &e, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("escrow.get", "escrow")
	}
	if err != nil {
		return nil, database.MapError("escrow.get", err)
	}
	return &e, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, e *Escrow, from []Status) (bool, error) {
	res, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE escrows
		SET status = $2, transaction_id = $3, updated_at = $4, settled_at = $5
		WHERE id = $1 AND status = ANY($6)
	`, e.ID, e.Status, e.TransactionID, e.UpdatedAt, e.SettledAt, pq.Array(fsm.Strings(from)))
	if err != nil {
		return false, database.MapError("escrow.transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.MapError("escrow.transition", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) SumOpen(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := database.ConnFrom(ctx, r.db).GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM escrows
		WHERE user_id = $1 AND token_type = $2 AND status = ANY($3)
	`, userID, token, pq.Array(fsm.Strings(OpenStatuses)))
	if err != nil {
		return decimal.Zero, database.MapError("escrow.sum_open", err)
	}
	return total, nil
}

func (r *PostgresRepository) Mismatches(ctx context.Context) ([]Reconciliation, error) {
	out := []Reconciliation{}
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &out, `
		SELECT w.user_id, w.token_type, w.pending_balance, COALESCE(e.total, 0) AS open_escrow_total
		FROM wallets w
		LEFT JOIN (
			SELECT user_id, token_type, SUM(amount) AS total
			FROM escrows
			WHERE status = ANY($1)
			GROUP BY user_id, token_type
		) e ON e.user_id = w.user_id AND e.token_type = w.token_type
		WHERE w.pending_balance <> COALESCE(e.total, 0)
		ORDER BY w.user_id, w.token_type
	`, pq.Array(fsm.Strings(OpenStatuses)))
	if err != nil {
		return nil, database.MapError("escrow.mismatches", err)
	}
	return out, nil
}
