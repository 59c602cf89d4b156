package agent

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
)

const agentColumns = `user_id, display_name, is_active, is_suspended, max_transaction_limit,
	available_capacity, disputes_lost, suspended_at, created_at, updated_at`

type Repository interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, userID uuid.UUID) (*Agent, error)
	// GetForUpdate locks the agent row for the current unit of work.
	GetForUpdate(ctx context.Context, userID uuid.UUID) (*Agent, error)
	Update(ctx context.Context, a *Agent) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]Agent, error)
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *Agent) error {
	_, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.UserID, a.DisplayName, a.IsActive, a.IsSuspended, a.MaxTransactionLimit,
		a.AvailableCapacity, a.DisputesLost, a.SuspendedAt, a.CreatedAt, a.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return apperr.InvalidState("agent.create", "user is already registered as an agent")
	}
	return database.MapError("agent.create", err)
}

func (r *PostgresRepository) get(ctx context.Context, op, query string, userID uuid.UUID) (*Agent, error) {
	var a Agent
	err := database.ConnFrom(ctx, r.db).GetContext(ctx, &a, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "agent")
	}
	if err != nil {
		return nil, database.MapError(op, err)
	}
	return &a, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID uuid.UUID) (*Agent, error) {
	return r.get(ctx, "agent.get", `SELECT `+agentColumns+` FROM agents WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID uuid.UUID) (*Agent, error) {
	return r.get(ctx, "agent.get_for_update", `SELECT `+agentColumns+` FROM agents WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *PostgresRepository) Update(ctx context.Context, a *Agent) error {
	res, err := database.ConnFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE agents
		SET display_name = $2, is_active = $3, is_suspended = $4, max_transaction_limit = $5,
			available_capacity = $6, disputes_lost = $7, suspended_at = $8, updated_at = $9
		WHERE user_id = $1
	`, a.UserID, a.DisplayName, a.IsActive, a.IsSuspended, a.MaxTransactionLimit,
		a.AvailableCapacity, a.DisputesLost, a.SuspendedAt, a.UpdatedAt)
	if err != nil {
		return database.MapError("agent.update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("agent.update", "agent")
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	agents := []Agent{}
	err := database.ConnFrom(ctx, r.db).SelectContext(ctx, &agents, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE NOT $1 OR (is_active AND NOT is_suspended)
		ORDER BY display_name, user_id
		LIMIT $2 OFFSET $3
	`, activeOnly, limit, offset)
	if err != nil {
		return nil, database.MapError("agent.list", err)
	}
	return agents, nil
}
