package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
)

type Ledger interface {
	Apply(ctx context.Context, e ledger.Entry) (*ledger.Transaction, error)
	Freeze(ctx context.Context, in ledger.FreezeInput) (*ledger.Transaction, error)
	Release(ctx context.Context, in ledger.ReleaseInput) (*ledger.Transaction, error)
	MarkRefunded(ctx context.Context, reference string) (*ledger.Transaction, error)
	GetWallet(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (*ledger.Wallet, error)
}

type Service struct {
	repo   Repository
	tx     database.TxRunner
	ledger Ledger
	events events.Publisher
	now    func() time.Time
}

func NewService(repo Repository, tx database.TxRunner, l Ledger, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, tx: tx, ledger: l, events: publisher, now: time.Now}
}

type LockInput struct {
	ID            uuid.UUID
	BurnRequestID uuid.UUID
	UserID        uuid.UUID
	AgentID       uuid.UUID
	TokenType     ledger.TokenType
	Amount        decimal.Decimal
}

// Lock freezes the amount in the user's wallet and records the escrow in
// the same unit of work.
func (s *Service) Lock(ctx context.Context, in LockInput) (*Escrow, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}

	var out *Escrow
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		txn, err := s.ledger.Freeze(ctx, ledger.FreezeInput{
			UserID:    in.UserID,
			TokenType: in.TokenType,
			Amount:    in.Amount,
			Reference: LockReference(in.ID),
			Payload:   ledger.LockPayload{BurnRequestID: in.BurnRequestID, EscrowID: in.ID},
		})
		if err != nil {
			return err
		}

		now := s.now().UTC()
		e := &Escrow{
			ID:            in.ID,
			BurnRequestID: in.BurnRequestID,
			UserID:        in.UserID,
			AgentID:       in.AgentID,
			TokenType:     in.TokenType,
			Amount:        in.Amount,
			Status:        StatusLocked,
			TransactionID: &txn.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("escrow_id", out.ID.String()).
		Str("burn_request_id", out.BurnRequestID.String()).
		Str("amount", out.Amount.String()).
		Str("token_type", string(out.TokenType)).
		Msg("Escrow locked")
	s.publish(ctx, out)
	return out, nil
}

// Finalize pays the escrowed amount out to the agent as one burn transaction.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	return s.settle(ctx, "escrow.finalize", id, StatusReleased, func(ctx context.Context, e *Escrow) (*ledger.Transaction, error) {
		agentID := e.AgentID
		return s.ledger.Release(ctx, ledger.ReleaseInput{
			UserID:      e.UserID,
			TokenType:   e.TokenType,
			Amount:      e.Amount,
			Destination: &agentID,
			Type:        ledger.TxBurn,
			Reference:   FinalizeReference(e.ID),
			Payload:     ledger.BurnPayload{BurnRequestID: e.BurnRequestID, EscrowID: e.ID, RefundAmount: decimal.Zero},
		})
	})
}

// Refund returns the escrowed amount to the user's available balance with a
// zero-net refund transaction.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, reason string) (*Escrow, error) {
	return s.settle(ctx, "escrow.refund", id, StatusRefunded, func(ctx context.Context, e *Escrow) (*ledger.Transaction, error) {
		escrowID := e.ID
		txn, err := s.ledger.Release(ctx, ledger.ReleaseInput{
			UserID:    e.UserID,
			TokenType: e.TokenType,
			Amount:    e.Amount,
			Type:      ledger.TxRefund,
			Reference: RefundReference(e.ID),
			Payload: ledger.RefundPayload{
				Subject:   "burn",
				SubjectID: e.BurnRequestID,
				EscrowID:  &escrowID,
				Reason:    reason,
			},
		})
		if err != nil {
			return nil, err
		}
		if _, err := s.ledger.MarkRefunded(ctx, LockReference(e.ID)); err != nil {
			return nil, err
		}
		return txn, nil
	})
}

// MarkDisputed freezes the escrow under a dispute.
func (s *Service) MarkDisputed(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	var out *Escrow
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.transition(ctx, "escrow.dispute", e, StatusDisputed, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, out)
	return out, nil
}

// Penalty moves Amount token units from the agent to Destination alongside
// a dispute settlement.
type Penalty struct {
	Amount      decimal.Decimal
	Destination uuid.UUID
	Payload     ledger.PenaltyPayload
}

// Settlement is a dispute outcome for a disputed escrow. RefundAmount and
// FinalizeAmount must add up to the escrow amount exactly.
type Settlement struct {
	RefundAmount   decimal.Decimal
	FinalizeAmount decimal.Decimal
	Penalty        *Penalty
	DisputeID      uuid.UUID
	Reference      string
}

// Settle closes a disputed escrow with a single ledger entry covering the
// refund share, the agent's share and any penalty.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, st Settlement) (*Escrow, *ledger.Transaction, error) {
	const op = "escrow.settle"
	if st.RefundAmount.IsNegative() || st.FinalizeAmount.IsNegative() {
		return nil, nil, apperr.Validation(op, "settlement amounts must not be negative")
	}
	if st.Penalty != nil && !st.Penalty.Amount.IsPositive() {
		return nil, nil, apperr.Validation(op, "penalty must be greater than zero")
	}

	var txn *ledger.Transaction
	out, err := s.settle(ctx, op, id, StatusResolved, func(ctx context.Context, e *Escrow) (*ledger.Transaction, error) {
		if !st.RefundAmount.Add(st.FinalizeAmount).Equal(e.Amount) {
			return nil, apperr.Validation(op, "refund %s and finalize %s must add up to the escrowed %s",
				st.RefundAmount, st.FinalizeAmount, e.Amount)
		}
		var err error
		txn, err = s.ledger.Apply(ctx, settlementEntry(e, st))
		if err != nil {
			return nil, err
		}
		if st.FinalizeAmount.IsZero() {
			if _, err := s.ledger.MarkRefunded(ctx, LockReference(e.ID)); err != nil {
				return nil, err
			}
		}
		return txn, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, txn, nil
}

func settlementEntry(e *Escrow, st Settlement) ledger.Entry {
	user, agent := e.UserID, e.AgentID
	disputeID := st.DisputeID
	escrowID := e.ID

	movements := []ledger.Movement{
		{UserID: user, TokenType: e.TokenType, Pending: e.Amount.Neg(), Available: st.RefundAmount},
	}
	if st.FinalizeAmount.IsPositive() {
		movements = append(movements, ledger.Movement{UserID: agent, TokenType: e.TokenType, Available: st.FinalizeAmount})
	}

	entry := ledger.Entry{
		TokenType: e.TokenType,
		Reference: st.Reference,
		Movements: movements,
	}

	switch {
	case st.Penalty != nil:
		dest := st.Penalty.Destination
		entry.Type = ledger.TxPenalty
		entry.Amount = st.Penalty.Amount
		entry.FromUserID, entry.ToUserID = &agent, &dest
		entry.Payload = st.Penalty.Payload
		entry.Movements = append(entry.Movements,
			ledger.Movement{UserID: agent, TokenType: e.TokenType, Available: st.Penalty.Amount.Neg(), ShortfallKind: apperr.KindInsufficientAgentFunds},
			ledger.Movement{UserID: dest, TokenType: e.TokenType, Available: st.Penalty.Amount},
		)
	case st.FinalizeAmount.IsPositive():
		entry.Type = ledger.TxBurn
		entry.Amount = st.FinalizeAmount
		entry.FromUserID, entry.ToUserID = &user, &agent
		entry.Payload = ledger.BurnPayload{BurnRequestID: e.BurnRequestID, EscrowID: e.ID, DisputeID: &disputeID, RefundAmount: st.RefundAmount}
	default:
		entry.Type = ledger.TxRefund
		entry.Amount = st.RefundAmount
		entry.FromUserID, entry.ToUserID = &user, &user
		entry.Payload = ledger.RefundPayload{Subject: "burn", SubjectID: e.BurnRequestID, EscrowID: &escrowID, DisputeID: &disputeID, Reason: "dispute resolved"}
	}
	return entry
}

// settle moves the escrow to a terminal status and applies its ledger
// effect in the same unit of work.
func (s *Service) settle(ctx context.Context, op string, id uuid.UUID, to Status, apply func(context.Context, *Escrow) (*ledger.Transaction, error)) (*Escrow, error) {
	var (
		out  *Escrow
		from Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		from = e.Status
		closed, err := s.transition(ctx, op, e, to, nil)
		if err != nil {
			return err
		}
		txn, err := apply(ctx, closed)
		if err != nil {
			return err
		}
		out, err = s.transition(ctx, op, closed, to, func(next *Escrow) {
			next.TransactionID = &txn.ID
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("escrow_id", out.ID.String()).
		Str("from", string(from)).
		Str("to", string(out.Status)).
		Str("amount", out.Amount.String()).
		Msg("Escrow settled")
	s.publish(ctx, out)
	return out, nil
}

// transition compare-and-sets e's status. A same-status call only rewrites
// the record's fields.
func (s *Service) transition(ctx context.Context, op string, e *Escrow, to Status, mutate func(*Escrow)) (*Escrow, error) {
	if e.Status != to {
		if err := checkTransition(op, e.Status, to); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	next := *e
	next.Status = to
	next.UpdatedAt = now
	if Machine.IsTerminal(to) && next.SettledAt == nil {
		next.SettledAt = &now
	}
	if mutate != nil {
		mutate(&next)
	}

	ok, err := s.repo.Transition(ctx, &next, []Status{e.Status})
	if err != nil {
		return nil, err
	}
	if ok {
		return &next, nil
	}

	current, err := s.repo.Get(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(op, current.Status, to); err != nil {
		return nil, err
	}
	return nil, apperr.InvalidState(op, "escrow changed concurrently and is now %s", current.Status)
}

func checkTransition(op string, from, to Status) error {
	if from == StatusDisputed && to != StatusResolved {
		return apperr.InvalidState(op, "escrow is under dispute")
	}
	return Machine.Check(op, from, to)
}

func (s *Service) publish(ctx context.Context, e *Escrow) {
	ev := events.New(events.SubjectEscrow, e.ID, string(e.Status), e, e.UserID, e.AgentID)
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.events.Publish(ctx, ev)
	})
}

func (s *Service) Get(ctx context.Context, act actor.Actor, id uuid.UUID) (*Escrow, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !act.IsAdmin() && !e.IsParty(act.UserID) {
		return nil, apperr.NotFound("escrow.get", "escrow")
	}
	return e, nil
}

// Lookup returns the escrow without an access check, for other engines.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	return s.repo.Get(ctx, id)
}

// Reconcile compares one wallet's pending balance with its open escrows.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (Reconciliation, error) {
	rec := Reconciliation{UserID: userID, TokenType: token}
	w, err := s.ledger.GetWallet(ctx, userID, token)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return rec, err
	}
	if w != nil {
		rec.PendingBalance = w.PendingBalance
	}
	rec.OpenEscrowTotal, err = s.repo.SumOpen(ctx, userID, token)
	if err != nil {
		return rec, err
	}
	if !rec.Balanced() {
		log.Error().
			Str("user_id", userID.String()).
			Str("token_type", string(token)).
			Str("pending_balance", rec.PendingBalance.String()).
			Str("open_escrow_total", rec.OpenEscrowTotal.String()).
			Msg("Escrow reconciliation mismatch")
	}
	return rec, nil
}

// ReconcileAll lists every wallet whose pending balance disagrees with its
// open escrows.
func (s *Service) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	out, err := s.repo.Mismatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range out {
		log.Error().
			Str("user_id", rec.UserID.String()).
			Str("token_type", string(rec.TokenType)).
			Str("pending_balance", rec.PendingBalance.String()).
			Str("open_escrow_total", rec.OpenEscrowTotal.String()).
			Msg("Escrow reconciliation mismatch")
	}
	return out, nil
}
