package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
)

const walletColumns = `id, user_id, token_type, balance, pending_balance, is_frozen, frozen_reason,
	is_active, chain_address, created_at, updated_at`

const transactionColumns = `id, type, token_type, from_user_id, to_user_id, amount, fee, fee_wallet_id,
	status, reference, metadata, created_at`

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) conn(ctx context.Context) database.Conn {
	return database.ConnFrom(ctx, r.db)
}

func (r *PostgresRepository) LockWallet(ctx context.Context, userID uuid.UUID, token TokenType) (*Wallet, error) {
	const op = "ledger.lock_wallet"
	c := r.conn(ctx)

	if _, err := c.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, token_type, balance, pending_balance)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (user_id, token_type) DO NOTHING
	`, uuid.New(), userID, token); err != nil {
		return nil, database.MapError(op, err)
	}

	var w Wallet
	err := c.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND token_type = $2 FOR UPDATE`, userID, token)
	if err != nil {
		return nil, database.MapError(op, err)
	}
	return &w, nil
}

func (r *PostgresRepository) SaveWallet(ctx context.Context, w *Wallet) error {
	_, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE wallets
		SET balance = $2, pending_balance = $3, is_frozen = $4, frozen_reason = $5,
			is_active = $6, chain_address = $7, updated_at = $8
		WHERE id = $1
	`, w.ID, w.Balance, w.PendingBalance, w.IsFrozen, w.FrozenReason, w.IsActive, w.ChainAddress, w.UpdatedAt)
	return database.MapError("ledger.save_wallet", err)
}

func (r *PostgresRepository) GetWallet(ctx context.Context, userID uuid.UUID, token TokenType) (*Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	var w Wallet
	err := r.conn(ctx).GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND token_type = $2`, userID, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ledger.get_wallet", "wallet")
	}
	if err != nil {
		return nil, database.MapError("ledger.get_wallet", err)
	}
	return &w, nil
}

func (r *PostgresRepository) ListWallets(ctx context.Context, userID uuid.UUID) ([]Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	wallets := []Wallet{}
	err := r.conn(ctx).SelectContext(ctx, &wallets, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY token_type`, userID)
	if err != nil {
		return nil, database.MapError("ledger.list_wallets", err)
	}
	return wallets, nil
}

type transactionRow struct {
	ID          uuid.UUID       `db:"id"`
	Type        TxType          `db:"type"`
	TokenType   TokenType       `db:"token_type"`
	FromUserID  *uuid.UUID      `db:"from_user_id"`
	ToUserID    *uuid.UUID      `db:"to_user_id"`
	Amount      decimal.Decimal `db:"amount"`
	Fee         decimal.Decimal `db:"fee"`
	FeeWalletID *uuid.UUID      `db:"fee_wallet_id"`
	Status      TxStatus        `db:"status"`
	Reference   string          `db:"reference"`
	Metadata    []byte          `db:"metadata"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (row transactionRow) toTransaction() (*Transaction, error) {
	payload, err := DecodePayload(row.Type, row.Metadata)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:          row.ID,
		Type:        row.Type,
		TokenType:   row.TokenType,
		FromUserID:  row.FromUserID,
		ToUserID:    row.ToUserID,
		Amount:      row.Amount,
		Fee:         row.Fee,
		FeeWalletID: row.FeeWalletID,
		Status:      row.Status,
		Reference:   row.Reference,
		Payload:     payload,
		CreatedAt:   row.CreatedAt,
	}, nil
}

func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *Transaction) error {
	const op = "ledger.create_transaction"
	metadata, err := encodePayload(t.Payload)
	if err != nil {
		return apperr.Internal(op, err)
	}

	_, err = r.conn(ctx).ExecContext(ctx, `
		INSERT INTO transactions (id, type, token_type, from_user_id, to_user_id, amount, fee, fee_wallet_id,
			status, reference, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.Type, t.TokenType, t.FromUserID, t.ToUserID, t.Amount, t.Fee, t.FeeWalletID,
		t.Status, t.Reference, metadata, t.CreatedAt)
	if database.IsUniqueViolation(err) {
		return apperr.New(apperr.KindReferenceConflict, op, "reference %s is already in use", t.Reference)
	}
	return database.MapError(op, err)
}

// SetTransactionStatus moves a transaction from one status to another and
// reports whether the row was in the expected status.
func (r *PostgresRepository) SetTransactionStatus(ctx context.Context, id uuid.UUID, from, to TxStatus) (bool, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `UPDATE transactions SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, database.MapError("ledger.set_transaction_status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.MapError("ledger.set_transaction_status", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) getTransaction(ctx context.Context, op, where string, arg interface{}) (*Transaction, error) {
	var row transactionRow
	err := r.conn(ctx).GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "transaction")
	}
	if err != nil {
		return nil, database.MapError(op, err)
	}
	t, err := row.toTransaction()
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return t, nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return r.getTransaction(ctx, "ledger.get_transaction", "id = $1", id)
}

func (r *PostgresRepository) GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	return r.getTransaction(ctx, "ledger.get_transaction_by_reference", "reference = $1", reference)
}

func (r *PostgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	const op = "ledger.list_transactions"
	ctx, cancel := context.WithTimeout(ctx, database.QueryTimeout)
	defer cancel()

	var rows []transactionRow
	err := r.conn(ctx).SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, database.MapError(op, err)
	}

	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toTransaction()
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		out = append(out, *t)
	}
	return out, nil
}
