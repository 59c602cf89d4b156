package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/chainclient"
)

const settleTimeout = 30 * time.Second

// WalletReader resolves the chain address recorded on a wallet.
type WalletReader interface {
	GetWallet(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (*ledger.Wallet, error)
}

// Gateway submits mints to the chain.
type Gateway interface {
	Configured() bool
	SubmitMint(ctx context.Context, p chainclient.MintPayload) (string, error)
}

// submitError is a failed submission that has been recorded on its row.
type submitError struct {
	err error
}

func (e *submitError) Error() string { return e.err.Error() }
func (e *submitError) Unwrap() error { return e.err }

func recorded(err error) bool {
	var se *submitError
	return errors.As(err, &se)
}

// Dispatcher settles confirmed mints on chain after the ledger has committed.
type Dispatcher struct {
	repo    Repository
	wallets WalletReader
	gateway Gateway
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewDispatcher(repo Repository, wallets WalletReader, gateway Gateway) *Dispatcher {
	return &Dispatcher{repo: repo, wallets: wallets, gateway: gateway, now: time.Now}
}

// Dispatch settles o in the background. The caller's cancellation does not
// stop an in-flight settlement.
func (d *Dispatcher) Dispatch(ctx context.Context, o Order) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
		_, _ = d.Settle(ctx, o)
	}()
}

// Wait blocks until every background settlement has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Settle records o and submits it. A row already submitted is returned as is.
// Failures are stored on the row and logged; they are also returned.
func (d *Dispatcher) Settle(ctx context.Context, o Order) (*Settlement, error) {
	now := d.now().UTC()
	s, err := d.repo.Upsert(ctx, &Settlement{
		ID:            uuid.New(),
		MintRequestID: o.MintRequestID,
		TransactionID: o.TransactionID,
		UserID:        o.UserID,
		TokenType:     o.TokenType,
		Amount:        o.Amount,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		log.Error().Err(err).Str("mint_request_id", o.MintRequestID.String()).Msg("Failed to record chain settlement")
		return nil, err
	}
	if s.Status == StatusSubmitted {
		return s, nil
	}
	return s, d.submit(ctx, s)
}

func (d *Dispatcher) submit(ctx context.Context, s *Settlement) error {
	wallet, err := d.wallets.GetWallet(ctx, s.UserID, s.TokenType)
	if err != nil {
		return d.fail(ctx, s, err)
	}
	s.WalletAddress = wallet.ChainAddress

	switch {
	case s.WalletAddress == nil:
		return d.skip(ctx, s, "wallet has no chain address")
	case d.gateway == nil || !d.gateway.Configured():
		return d.skip(ctx, s, "chain gateway is not configured")
	}

	s.Attempts++
	hash, err := d.gateway.SubmitMint(ctx, chainclient.MintPayload{
		Reference:     s.reference(),
		WalletAddress: *s.WalletAddress,
		TokenType:     string(s.TokenType),
		Amount:        s.Amount,
	})
	if err != nil {
		return d.fail(ctx, s, err)
	}

	s.Status = StatusSubmitted
	s.TxHash = &hash
	s.LastError = nil
	s.UpdatedAt = d.now().UTC()
	if err := d.repo.Update(ctx, s); err != nil {
		log.Error().Err(err).Str("settlement_id", s.ID.String()).Str("tx_hash", hash).Msg("Chain mint submitted but not recorded")
		return err
	}

	log.Info().
		Str("settlement_id", s.ID.String()).
		Str("mint_request_id", s.MintRequestID.String()).
		Str("tx_hash", hash).
		Msg("Chain mint submitted")
	return nil
}

func (d *Dispatcher) skip(ctx context.Context, s *Settlement, reason string) error {
	s.Status = StatusSkipped
	s.LastError = &reason
	s.UpdatedAt = d.now().UTC()
	log.Warn().Str("settlement_id", s.ID.String()).Str("mint_request_id", s.MintRequestID.String()).Str("reason", reason).Msg("Chain settlement skipped")
	return d.repo.Update(ctx, s)
}

func (d *Dispatcher) fail(ctx context.Context, s *Settlement, cause error) error {
	msg := cause.Error()
	s.Status = StatusFailed
	s.LastError = &msg
	s.UpdatedAt = d.now().UTC()
	log.Error().
		Err(cause).
		Str("settlement_id", s.ID.String()).
		Str("mint_request_id", s.MintRequestID.String()).
		Int("attempts", s.Attempts).
		Msg("Chain settlement failed, queued for reconciliation")
	if err := d.repo.Update(ctx, s); err != nil {
		return err
	}
	return &submitError{err: cause}
}

// Retry resubmits one failed or skipped settlement.
func (d *Dispatcher) Retry(ctx context.Context, act actor.Actor, id uuid.UUID) (*Settlement, error) {
	const op = "chain.retry"
	if err := act.Require(op, actor.RoleAdmin); err != nil {
		return nil, err
	}
	s, err := d.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusSubmitted {
		return nil, apperr.InvalidState(op, "chain settlement is already submitted")
	}
	// A gateway failure is recorded on the row the caller gets back.
	if err := d.submit(ctx, s); err != nil && !recorded(err) {
		return nil, err
	}
	return s, nil
}

// RetryFailed resubmits up to limit failed settlements and returns how many
// were submitted.
func (d *Dispatcher) RetryFailed(ctx context.Context, limit int) (int, error) {
	failed, err := d.repo.ListByStatus(ctx, StatusFailed, limit)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for i := range failed {
		err := d.submit(ctx, &failed[i])
		if err != nil && !recorded(err) {
			return submitted, err
		}
		if err == nil && failed[i].Status == StatusSubmitted {
			submitted++
		}
	}
	return submitted, nil
}

// List returns settlements in status; admins only.
func (d *Dispatcher) List(ctx context.Context, act actor.Actor, status Status, limit int) ([]Settlement, error) {
	if err := act.Require("chain.list", actor.RoleAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if status == "" {
		status = StatusFailed
	}
	return d.repo.ListByStatus(ctx, status, limit)
}
