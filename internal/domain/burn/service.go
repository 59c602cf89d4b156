package burn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/money"
)

const DefaultTTL = 30 * time.Minute

type Escrows interface {
	Lock(ctx context.Context, in escrow.LockInput) (*escrow.Escrow, error)
	Finalize(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error)
	Refund(ctx context.Context, id uuid.UUID, reason string) (*escrow.Escrow, error)
	MarkDisputed(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error)
	Settle(ctx context.Context, id uuid.UUID, st escrow.Settlement) (*escrow.Escrow, *ledger.Transaction, error)
}

type AgentPolicy interface {
	CheckLimits(ctx context.Context, agentID uuid.UUID, token string, amount decimal.Decimal, needCapacity bool) (decimal.Decimal, error)
	ReserveCapacity(ctx context.Context, agentID uuid.UUID, usd decimal.Decimal) error
	ReleaseCapacity(ctx context.Context, agentID uuid.UUID, usd decimal.Decimal) error
}

type Service struct {
	repo    Repository
	tx      database.TxRunner
	escrows Escrows
	agents  AgentPolicy
	events  events.Publisher
	ttl     time.Duration
	now     func() time.Time
}

func NewService(repo Repository, tx database.TxRunner, escrows Escrows, agents AgentPolicy, publisher events.Publisher, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, tx: tx, escrows: escrows, agents: agents, events: publisher, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type CreateInput struct {
	AgentID           uuid.UUID
	TokenType         ledger.TokenType
	Amount            decimal.Decimal
	ReceiveMethod     ReceiveMethod
	BankAccountNumber string
	MobileMoneyNumber string
}

func (in CreateInput) payout(op string) (Payout, error) {
	p := Payout{Method: in.ReceiveMethod}
	bank := strings.TrimSpace(in.BankAccountNumber)
	mobile := strings.TrimSpace(in.MobileMoneyNumber)
	switch in.ReceiveMethod {
	case ReceiveBankTransfer:
		if bank == "" {
			return p, apperr.Validation(op, "bank account number is required for bank transfers")
		}
		p.BankAccountNumber = &bank
	case ReceiveMobileMoney:
		if mobile == "" {
			return p, apperr.Validation(op, "mobile money number is required for mobile money payouts")
		}
		p.MobileMoneyNumber = &mobile
	default:
		return p, apperr.Validation(op, "receive method must be bank_transfer or mobile_money")
	}
	return p, nil
}

// Create locks the user's tokens in escrow and opens the burn request. Agent
// limits and capacity are checked before any ledger mutation; the capacity
// reservation, the escrow lock and the request insert commit together.
func (s *Service) Create(ctx context.Context, act actor.Actor, in CreateInput) (*BurnRequest, error) {
	const op = "burn.create"
	if err := act.Require(op, actor.RoleUser); err != nil {
		return nil, err
	}
	if !in.TokenType.Mintable() {
		return nil, apperr.Validation(op, "only NT and CT can be burned")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation(op, "amount must be greater than zero")
	}
	if !money.Fits(in.Amount) {
		return nil, apperr.Validation(op, "amount must have at most %d decimal places and %d integer digits", money.Scale, money.MaxIntegerDigits)
	}
	if in.AgentID == act.UserID {
		return nil, apperr.Validation(op, "cannot request a burn from yourself")
	}
	payout, err := in.payout(op)
	if err != nil {
		return nil, err
	}
	usd, err := s.agents.CheckLimits(ctx, in.AgentID, string(in.TokenType), in.Amount, true)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &BurnRequest{
		ID:               uuid.New(),
		UserID:           act.UserID,
		AgentID:          in.AgentID,
		TokenType:        in.TokenType,
		Amount:           in.Amount,
		Payout:           payout,
		Status:           StatusPending,
		EscrowID:         uuid.New(),
		ReservedCapacity: usd,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.agents.ReserveCapacity(ctx, b.AgentID, usd); err != nil {
			return err
		}
		if _, err := s.escrows.Lock(ctx, escrow.LockInput{
			ID:            b.EscrowID,
			BurnRequestID: b.ID,
			UserID:        b.UserID,
			AgentID:       b.AgentID,
			TokenType:     b.TokenType,
			Amount:        b.Amount,
		}); err != nil {
			return err
		}
		return s.repo.Create(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", b.ID.String()).
		Str("escrow_id", b.EscrowID.String()).
		Str("user_id", b.UserID.String()).
		Str("agent_id", b.AgentID.String()).
		Str("amount", b.Amount.String()).
		Str("token_type", string(b.TokenType)).
		Msg("Burn request created")
	s.publish(ctx, b)
	return b, nil
}

// AgentSubmitsProof records the agent's attestation that fiat was paid out.
func (s *Service) AgentSubmitsProof(ctx context.Context, act actor.Actor, id uuid.UUID, proofURL string) (*BurnRequest, error) {
	const op = "burn.submit_proof"
	proofURL = strings.TrimSpace(proofURL)
	if proofURL == "" {
		return nil, apperr.Validation(op, "proof url is required")
	}

	var out *BurnRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if act.Role != actor.RoleAgent || b.AgentID != act.UserID {
			return apperr.Forbidden(op, "only the serving agent can submit payout proof")
		}
		if b.Status == StatusPending && b.expired(s.now()) {
			return apperr.InvalidState(op, "burn request expired at %s", b.ExpiresAt.UTC().Format(time.RFC3339))
		}
		out, err = s.transition(ctx, op, b, StatusProofSubmitted, func(next *BurnRequest) {
			next.withFiatProof(proofURL)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(out, StatusPending, act)
	s.publish(ctx, out)
	return out, nil
}

// UserConfirms is the user acknowledging receipt of fiat. Only the owner can
// release escrowed tokens to the agent; the agent's proof alone never does.
func (s *Service) UserConfirms(ctx context.Context, act actor.Actor, id uuid.UUID) (*BurnRequest, error) {
	const op = "burn.confirm"
	var out *BurnRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if act.Role != actor.RoleUser || b.UserID != act.UserID {
			return apperr.Forbidden(op, "only the requesting user can confirm receipt of funds")
		}
		out, err = s.transition(ctx, op, b, StatusConfirmed, nil)
		if err != nil {
			return err
		}
		_, err = s.escrows.Finalize(ctx, b.EscrowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(out, StatusProofSubmitted, act)
	s.publish(ctx, out)
	return out, nil
}

// Reject is the serving agent declining. The escrow is refunded and the
// reserved capacity returned.
func (s *Service) Reject(ctx context.Context, act actor.Actor, id uuid.UUID, reason string) (*BurnRequest, error) {
	const op = "burn.reject"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation(op, "a rejection reason is required")
	}
	return s.close(ctx, act, id, StatusRejected, reason, func(b *BurnRequest) error {
		if act.Role != actor.RoleAgent || b.AgentID != act.UserID {
			return apperr.Forbidden(op, "only the serving agent can reject a burn request")
		}
		return nil
	}, func(next *BurnRequest) {
		next.RejectReason = &reason
	})
}

// Cancel is the requesting user withdrawing before the agent attested a payout.
func (s *Service) Cancel(ctx context.Context, act actor.Actor, id uuid.UUID) (*BurnRequest, error) {
	return s.close(ctx, act, id, StatusCancelled, "cancelled by user", func(b *BurnRequest) error {
		if act.Role != actor.RoleUser || b.UserID != act.UserID {
			return apperr.Forbidden("burn.cancel", "only the requesting user can cancel a burn request")
		}
		return nil
	}, nil)
}

func (s *Service) close(ctx context.Context, act actor.Actor, id uuid.UUID, to Status, reason string, authorize func(*BurnRequest) error, mutate func(*BurnRequest)) (*BurnRequest, error) {
	op := "burn." + string(to)
	var (
		out  *BurnRequest
		from Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(b); err != nil {
			return err
		}
		from = b.Status
		out, err = s.refund(ctx, op, b, to, reason, mutate)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(out, from, act)
	s.publish(ctx, out)
	return out, nil
}

// refund closes b and unwinds its capacity reservation and escrow in the
// caller's unit of work.
func (s *Service) refund(ctx context.Context, op string, b *BurnRequest, to Status, reason string, mutate func(*BurnRequest)) (*BurnRequest, error) {
	out, err := s.transition(ctx, op, b, to, mutate)
	if err != nil {
		return nil, err
	}
	// Agent row before wallet row, the same order Create locks them in.
	if err := s.agents.ReleaseCapacity(ctx, b.AgentID, b.ReservedCapacity); err != nil {
		return nil, err
	}
	if _, err := s.escrows.Refund(ctx, b.EscrowID, reason); err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireDue moves up to batch open requests past their deadline to expired
// and refunds their escrows, one unit of work per request.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, batch int) (int, error) {
	const op = "burn.expire"
	due, err := s.repo.ListDue(ctx, now, batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		b := &due[i]
		var out *BurnRequest
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.refund(ctx, op, b, StatusExpired, "request expired", nil)
			return err
		})
		switch {
		case err == nil:
			expired++
			log.Info().Str("request_id", b.ID.String()).Str("from", string(b.Status)).Str("to", string(StatusExpired)).Msg("Burn request expired")
			s.publish(ctx, out)
		case errors.Is(err, apperr.ErrInvalidState):
			log.Debug().Str("request_id", b.ID.String()).Msg("Burn request settled before expiry")
		default:
			log.Error().Err(err).Str("request_id", b.ID.String()).Msg("Failed to expire burn request")
		}
	}
	return expired, nil
}

// MarkDisputed freezes the request and its escrow. It joins the caller's
// unit of work.
func (s *Service) MarkDisputed(ctx context.Context, id uuid.UUID) (*BurnRequest, error) {
	const op = "burn.dispute"
	var out *BurnRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.transition(ctx, op, b, StatusDisputed, nil)
		if err != nil {
			return err
		}
		_, err = s.escrows.MarkDisputed(ctx, b.EscrowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, out)
	return out, nil
}

// ResolveDispute closes a disputed request and settles its escrow with st.
// Capacity is returned to the agent in proportion to the refunded share.
func (s *Service) ResolveDispute(ctx context.Context, id uuid.UUID, st escrow.Settlement) (*BurnRequest, *ledger.Transaction, error) {
	const op = "burn.resolve"
	var (
		out *BurnRequest
		txn *ledger.Transaction
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.transition(ctx, op, b, StatusResolved, nil)
		if err != nil {
			return err
		}
		if err := s.agents.ReleaseCapacity(ctx, b.AgentID, refundedCapacity(b, st.RefundAmount)); err != nil {
			return err
		}
		_, txn, err = s.escrows.Settle(ctx, b.EscrowID, st)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, out)
	return out, txn, nil
}

func refundedCapacity(b *BurnRequest, refund decimal.Decimal) decimal.Decimal {
	if !refund.IsPositive() || !b.Amount.IsPositive() {
		return decimal.Zero
	}
	if refund.GreaterThanOrEqual(b.Amount) {
		return b.ReservedCapacity
	}
	return b.ReservedCapacity.Mul(refund).DivRound(b.Amount, 18)
}

// transition moves b to `to` with a status compare-and-set against b's
// current status.
func (s *Service) transition(ctx context.Context, op string, b *BurnRequest, to Status, mutate func(*BurnRequest)) (*BurnRequest, error) {
	if err := checkTransition(op, b.Status, to); err != nil {
		return nil, err
	}

	next := *b
	next.Status = to
	next.UpdatedAt = s.now().UTC()
	if mutate != nil {
		mutate(&next)
	}

	ok, err := s.repo.Transition(ctx, &next, []Status{b.Status})
	if err != nil {
		return nil, err
	}
	if ok {
		return &next, nil
	}

	current, err := s.repo.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(op, current.Status, to); err != nil {
		return nil, err
	}
	return nil, apperr.InvalidState(op, "burn request changed concurrently and is now %s", current.Status)
}

func checkTransition(op string, from, to Status) error {
	if from == StatusDisputed && to != StatusResolved {
		return apperr.InvalidState(op, "burn request is under dispute")
	}
	return Machine.Check(op, from, to)
}

func (s *Service) logTransition(b *BurnRequest, from Status, act actor.Actor) {
	log.Info().
		Str("request_id", b.ID.String()).
		Str("from", string(from)).
		Str("to", string(b.Status)).
		Str("actor_id", act.UserID.String()).
		Msg("Burn request transition")
}

func (s *Service) publish(ctx context.Context, b *BurnRequest) {
	e := events.New(events.SubjectBurn, b.ID, string(b.Status), ResponseFromEntity(b), b.UserID, b.AgentID)
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.events.Publish(ctx, e)
	})
}

// Get returns the request to either party or an admin.
func (s *Service) Get(ctx context.Context, act actor.Actor, id uuid.UUID) (*BurnRequest, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !act.IsAdmin() && !b.IsParty(act.UserID) {
		return nil, apperr.NotFound("burn.get", "burn request")
	}
	return b, nil
}

// Lookup returns the request without an access check, for other engines.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*BurnRequest, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, act actor.Actor, f Filter) ([]BurnRequest, error) {
	switch act.Role {
	case actor.RoleUser:
		f.UserID = &act.UserID
	case actor.RoleAgent:
		f.AgentID = &act.UserID
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}
