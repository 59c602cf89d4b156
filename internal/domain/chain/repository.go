package chain

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
)

const settlementColumns = `id, mint_request_id, transaction_id, user_id, token_type, wallet_address,
	amount, status, tx_hash, last_error, attempts, created_at, updated_at`

type Repository interface {
	// Upsert inserts s, or returns the existing row for the same mint request.
	Upsert(ctx context.Context, s *Settlement) (*Settlement, error)
	Update(ctx context.Context, s *Settlement) error
	Get(ctx context.Context, id uuid.UUID) (*Settlement, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Settlement, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, s *Settlement) (*Settlement, error) {
	const op = "chain.upsert"
	c := database.ConnFrom(ctx, r.db)
	_, err := c.ExecContext(ctx, `
		INSERT INTO chain_settlements (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (mint_request_id) DO NOTHING
	`, s.ID, s.MintRequestID, s.TransactionID, s.UserID, s.TokenType, s.WalletAddress,
		s.Amount, s.Status, s.TxHash, s.LastError, s.Attempts, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, database.MapError(op, err)
	}

	var out Settlement
	if err := c.GetContext(ctx, &out, `SELECT `+settlementColumns+` FROM chain_settlements WHERE mint_request_id = $1`, s.MintRequestID); err != nil {
		return nil, database.MapError(op, err)
	}
	return &out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, s *Settlement) error {
	_, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE chain_settlements
		SET wallet_address = $2, status = $3, tx_hash = $4, last_error = $5, attempts = $6, updated_at = $7
		WHERE id = $1
	`, s.ID, s.WalletAddress, s.Status, s.TxHash, s.LastError, s.Attempts, s.UpdatedAt)
	return database.MapError("chain.update", err)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	var s Settlement
	err := database.ConnFrom(ctx, r.db).GetContext(ctx, &s, `SELECT `+settlementColumns+` FROM chain_settlements WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("chain.get", "chain settlement")
	}
	if err != nil {
		return nil, database.MapError("chain.get", err)
	}
	return &s, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]Settlement, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	out := []Settlement{}
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &out, `
		SELECT `+settlementColumns+`
		FROM chain_settlements
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, database.MapError("chain.list_by_status", err)
	}
	return out, nil
}
