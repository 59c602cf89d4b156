package dispute

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/rates"
)

const (
	PenaltyToUser     = "user"
	PenaltyToPlatform = "platform"
)

type MintRequests interface {
	Lookup(ctx context.Context, id uuid.UUID) (*mint.MintRequest, error)
	MarkDisputed(ctx context.Context, id uuid.UUID) (*mint.MintRequest, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, credit decimal.Decimal, payload ledger.MintPayload) (*mint.MintRequest, *ledger.Transaction, error)
	AttachTransaction(ctx context.Context, m *mint.MintRequest, txID uuid.UUID) (*mint.MintRequest, error)
}

type BurnRequests interface {
	Lookup(ctx context.Context, id uuid.UUID) (*burn.BurnRequest, error)
	MarkDisputed(ctx context.Context, id uuid.UUID) (*burn.BurnRequest, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, st escrow.Settlement) (*burn.BurnRequest, *ledger.Transaction, error)
}

type Ledger interface {
	Apply(ctx context.Context, e ledger.Entry) (*ledger.Transaction, error)
}

type Agents interface {
	RecordDisputeLoss(ctx context.Context, agentID uuid.UUID) (*agent.Agent, error)
}

type Config struct {
	// PenaltyDestination is PenaltyToUser or PenaltyToPlatform.
	PenaltyDestination string
	PlatformUserID     uuid.UUID
}

type Service struct {
	repo   Repository
	tx     database.TxRunner
	mints  MintRequests
	burns  BurnRequests
	ledger Ledger
	agents Agents
	rates  rates.Provider
	events events.Publisher
	cfg    Config
	now    func() time.Time
}

func NewService(repo Repository, tx database.TxRunner, mints MintRequests, burns BurnRequests, l Ledger, agents Agents, rp rates.Provider, publisher events.Publisher, cfg Config) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.PenaltyDestination == "" {
		cfg.PenaltyDestination = PenaltyToUser
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		mints:  mints,
		burns:  burns,
		ledger: l,
		agents: agents,
		rates:  rp,
		events: publisher,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type OpenInput struct {
	MintRequestID *uuid.UUID
	BurnRequestID *uuid.UUID
	Reason        string
	Details       string
}

// Open contests a mint or burn request. The request (and the escrow of a
// burn) is frozen in the same unit of work that records the dispute.
func (s *Service) Open(ctx context.Context, act actor.Actor, in OpenInput) (*Dispute, error) {
	const op = "dispute.open"
	if (in.MintRequestID == nil) == (in.BurnRequestID == nil) {
		return nil, apperr.Validation(op, "exactly one of mint_request_id or burn_request_id is required")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation(op, "a dispute reason is required")
	}

	now := s.now().UTC()
	d := &Dispute{
		ID:             uuid.New(),
		Reason:         reason,
		Details:        strings.TrimSpace(in.Details),
		OpenedByUserID: act.UserID,
		Status:         StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if in.MintRequestID != nil {
			m, err := s.mints.Lookup(ctx, *in.MintRequestID)
			if err != nil {
				return err
			}
			if !m.IsParty(act.UserID) {
				return apperr.Forbidden(op, "only the requesting user or the serving agent can dispute a mint request")
			}
			if _, err := s.mints.MarkDisputed(ctx, m.ID); err != nil {
				return err
			}
			d.Subject, d.MintRequestID = SubjectMint, &m.ID
			d.UserID, d.AgentID = m.UserID, m.AgentID
		} else {
			b, err := s.burns.Lookup(ctx, *in.BurnRequestID)
			if err != nil {
				return err
			}
			if !b.IsParty(act.UserID) {
				return apperr.Forbidden(op, "only the requesting user or the serving agent can dispute a burn request")
			}
			if _, err := s.burns.MarkDisputed(ctx, b.ID); err != nil {
				return err
			}
			escrowID := b.EscrowID
			d.Subject, d.BurnRequestID, d.EscrowID = SubjectBurn, &b.ID, &escrowID
			d.UserID, d.AgentID = b.UserID, b.AgentID
		}
		return s.repo.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("dispute_id", d.ID.String()).
		Str("subject", string(d.Subject)).
		Str("subject_id", d.SubjectID().String()).
		Str("actor_id", act.UserID.String()).
		Str("reason", d.Reason).
		Msg("Dispute opened")
	s.publish(ctx, d)
	return d, nil
}

// Escalate raises the dispute's escalation level. No ledger effect.
func (s *Service) Escalate(ctx context.Context, act actor.Actor, id uuid.UUID, level int, notes string) (*Dispute, error) {
	const op = "dispute.escalate"
	if err := act.Require(op, actor.RoleAdmin); err != nil {
		return nil, err
	}

	var out *Dispute
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusOpen {
			return apperr.InvalidState(op, "dispute is already %s", d.Status)
		}
		if level <= d.EscalationLevel {
			return apperr.Validation(op, "escalation level must be above the current level %d", d.EscalationLevel)
		}
		next := *d
		next.EscalationLevel = level
		if notes = strings.TrimSpace(notes); notes != "" {
			next.EscalationNotes = &notes
		}
		next.UpdatedAt = s.now().UTC()
		out, err = s.write(ctx, op, d, &next)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("dispute_id", out.ID.String()).
		Int("escalation_level", out.EscalationLevel).
		Str("actor_id", act.UserID.String()).
		Msg("Dispute escalated")
	s.publish(ctx, out)
	return out, nil
}

type ResolveInput struct {
	Action           Action
	Notes            string
	PenaltyAmountUSD *decimal.Decimal
	// FinalizeAmount is the agent's share for a split. RefundAmount is
	// optional and, when given, must complete the disputed amount.
	FinalizeAmount *decimal.Decimal
	RefundAmount   *decimal.Decimal
}

// Resolve applies the verdict. The dispute, the request, the escrow, the
// ledger entry and the agent bookkeeping commit as one unit of work. A
// penalty the agent cannot cover rolls everything back and is recorded as
// owed on the still-open dispute.
func (s *Service) Resolve(ctx context.Context, act actor.Actor, id uuid.UUID, in ResolveInput) (*Dispute, error) {
	const op = "dispute.resolve"
	if err := act.Require(op, actor.RoleAdmin); err != nil {
		return nil, err
	}
	if !in.Action.Valid() {
		return nil, apperr.Validation(op, "unknown resolution action %q", in.Action)
	}
	if in.Action == ActionPenalizeAgent && (in.PenaltyAmountUSD == nil || !in.PenaltyAmountUSD.IsPositive()) {
		return nil, apperr.Validation(op, "penalize_agent requires a positive penalty amount")
	}
	if in.Action == ActionSplit && in.FinalizeAmount == nil {
		return nil, apperr.Validation(op, "split requires a finalize amount")
	}

	var out *Dispute
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := Machine.Check(op, d.Status, StatusResolved); err != nil {
			return err
		}

		amount, err := s.disputedAmount(ctx, d)
		if err != nil {
			return err
		}
		refund, finalize, err := split(op, in, amount)
		if err != nil {
			return err
		}

		next := *d
		next.Status = StatusResolved
		next.UpdatedAt = s.now().UTC()
		next.Resolution = &Resolution{
			Action:           in.Action,
			Notes:            strings.TrimSpace(in.Notes),
			PenaltyAmountUSD: in.PenaltyAmountUSD,
			RefundAmount:     refund,
			FinalizeAmount:   finalize,
			ResolvedBy:       act.UserID,
			ResolvedAt:       next.UpdatedAt,
		}
		resolved, err := s.write(ctx, op, d, &next)
		if err != nil {
			return err
		}

		var txn *ledger.Transaction
		switch d.Subject {
		case SubjectMint:
			txn, err = s.resolveMint(ctx, resolved, in)
		default:
			txn, err = s.resolveBurn(ctx, resolved, in)
		}
		if err != nil {
			return err
		}

		if in.Action.AgainstAgent() {
			if _, err := s.agents.RecordDisputeLoss(ctx, d.AgentID); err != nil {
				return err
			}
		}

		final := *resolved
		res := *resolved.Resolution
		res.TransactionID = &txn.ID
		final.Resolution = &res
		out, err = s.write(ctx, op, resolved, &final)
		return err
	})
	if errors.Is(err, apperr.ErrInsufficientAgentFunds) && in.PenaltyAmountUSD != nil {
		s.recordPenaltyOwed(ctx, id, *in.PenaltyAmountUSD)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("dispute_id", out.ID.String()).
		Str("action", string(in.Action)).
		Str("refund_amount", out.Resolution.RefundAmount.String()).
		Str("finalize_amount", out.Resolution.FinalizeAmount.String()).
		Str("actor_id", act.UserID.String()).
		Msg("Dispute resolved")
	s.publish(ctx, out)
	return out, nil
}

func (s *Service) disputedAmount(ctx context.Context, d *Dispute) (decimal.Decimal, error) {
	if d.Subject == SubjectMint {
		m, err := s.mints.Lookup(ctx, *d.MintRequestID)
		if err != nil {
			return decimal.Zero, err
		}
		return m.Amount, nil
	}
	b, err := s.burns.Lookup(ctx, *d.BurnRequestID)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Amount, nil
}

// split returns the refunded and finalized shares of amount for the action.
// The shares always add up to amount.
func split(op string, in ResolveInput, amount decimal.Decimal) (refund, finalize decimal.Decimal, err error) {
	switch in.Action {
	case ActionComplete:
		return decimal.Zero, amount, nil
	case ActionSplit:
		finalize = *in.FinalizeAmount
		if !finalize.IsPositive() || !finalize.LessThan(amount) {
			return decimal.Zero, decimal.Zero, apperr.Validation(op, "split finalize amount must be between 0 and %s", amount)
		}
		refund = amount.Sub(finalize)
		if in.RefundAmount != nil && !in.RefundAmount.Equal(refund) {
			return decimal.Zero, decimal.Zero, apperr.Validation(op, "refund %s and finalize %s must add up to the disputed %s",
				in.RefundAmount, finalize, amount)
		}
		return refund, finalize, nil
	default:
		return amount, decimal.Zero, nil
	}
}

func (s *Service) resolveMint(ctx context.Context, d *Dispute, in ResolveInput) (*ledger.Transaction, error) {
	res := d.Resolution
	disputeID := d.ID
	payload := ledger.MintPayload{DisputeID: &disputeID, RefundAmount: res.RefundAmount}

	m, txn, err := s.mints.ResolveDispute(ctx, *d.MintRequestID, res.FinalizeAmount, payload)
	if err != nil {
		return nil, err
	}
	if txn != nil {
		return txn, nil
	}

	// Nothing was credited: the audit transaction is either the penalty or a
	// zero-amount refund record.
	var entry ledger.Entry
	if in.Action == ActionPenalizeAgent {
		p, err := s.penalty(ctx, d, m.TokenType, res.RefundAmount)
		if err != nil {
			return nil, err
		}
		agent, dest := d.AgentID, p.Destination
		entry = ledger.Entry{
			Type:       ledger.TxPenalty,
			TokenType:  m.TokenType,
			Amount:     p.Amount,
			FromUserID: &agent,
			ToUserID:   &dest,
			Reference:  ResolveReference(d.ID),
			Payload:    p.Payload,
			Movements: []ledger.Movement{
				{UserID: agent, TokenType: m.TokenType, Available: p.Amount.Neg(), ShortfallKind: apperr.KindInsufficientAgentFunds},
				{UserID: dest, TokenType: m.TokenType, Available: p.Amount},
			},
		}
	} else {
		user := d.UserID
		entry = ledger.Entry{
			Type:       ledger.TxRefund,
			TokenType:  m.TokenType,
			Amount:     decimal.Zero,
			FromUserID: &user,
			ToUserID:   &user,
			Reference:  ResolveReference(d.ID),
			Payload: ledger.RefundPayload{
				Subject:   string(SubjectMint),
				SubjectID: m.ID,
				DisputeID: &disputeID,
				Reason:    "dispute resolved without credit",
			},
		}
	}
	txn, err = s.ledger.Apply(ctx, entry)
	if err != nil {
		return nil, err
	}
	if _, err := s.mints.AttachTransaction(ctx, m, txn.ID); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) resolveBurn(ctx context.Context, d *Dispute, in ResolveInput) (*ledger.Transaction, error) {
	res := d.Resolution
	st := escrow.Settlement{
		RefundAmount:   res.RefundAmount,
		FinalizeAmount: res.FinalizeAmount,
		DisputeID:      d.ID,
		Reference:      ResolveReference(d.ID),
	}
	if in.Action == ActionPenalizeAgent {
		b, err := s.burns.Lookup(ctx, *d.BurnRequestID)
		if err != nil {
			return nil, err
		}
		p, err := s.penalty(ctx, d, b.TokenType, res.RefundAmount)
		if err != nil {
			return nil, err
		}
		st.Penalty = p
	}
	_, txn, err := s.burns.ResolveDispute(ctx, *d.BurnRequestID, st)
	return txn, err
}

// penalty converts the USD penalty into token units and picks who receives it.
func (s *Service) penalty(ctx context.Context, d *Dispute, token ledger.TokenType, refund decimal.Decimal) (*escrow.Penalty, error) {
	const op = "dispute.penalty"
	usd := *d.Resolution.PenaltyAmountUSD
	rate, err := s.rates.GetRate(ctx, rates.USD, string(token))
	if err != nil {
		var unknown *rates.ErrUnknownPair
		if errors.As(err, &unknown) {
			return nil, apperr.Validation(op, "no USD rate for %s", token)
		}
		return nil, apperr.Internal(op, err)
	}
	amount := usd.Mul(rate).Round(18)
	if !amount.IsPositive() {
		return nil, apperr.Validation(op, "penalty of %s USD is worth no %s", usd, token)
	}

	dest := d.UserID
	if s.cfg.PenaltyDestination == PenaltyToPlatform {
		if s.cfg.PlatformUserID == uuid.Nil {
			return nil, apperr.Internal(op, errors.New("platform penalty destination is not configured"))
		}
		dest = s.cfg.PlatformUserID
	}
	return &escrow.Penalty{
		Amount:      amount,
		Destination: dest,
		Payload: ledger.PenaltyPayload{
			DisputeID:        d.ID,
			AgentID:          d.AgentID,
			Subject:          string(d.Subject),
			SubjectID:        d.SubjectID(),
			PenaltyAmountUSD: usd,
			Rate:             rate,
			RefundAmount:     refund,
			Destination:      dest,
		},
	}, nil
}

// recordPenaltyOwed stores an uncollectable penalty on the open dispute in
// its own unit of work.
func (s *Service) recordPenaltyOwed(ctx context.Context, id uuid.UUID, usd decimal.Decimal) {
	const op = "dispute.penalty_owed"
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		next := *d
		next.PenaltyOwedUSD = &usd
		next.UpdatedAt = s.now().UTC()
		_, err = s.write(ctx, op, d, &next)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("dispute_id", id.String()).Str("penalty_usd", usd.String()).Msg("Failed to record owed penalty")
		return
	}
	log.Warn().
		Str("dispute_id", id.String()).
		Str("penalty_usd", usd.String()).
		Msg("Agent cannot cover dispute penalty, recorded as owed")
}

// write compare-and-sets next over current.
func (s *Service) write(ctx context.Context, op string, current, next *Dispute) (*Dispute, error) {
	ok, err := s.repo.Transition(ctx, next, []Status{current.Status})
	if err != nil {
		return nil, err
	}
	if ok {
		return next, nil
	}
	latest, err := s.repo.Get(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	return nil, apperr.InvalidState(op, "dispute changed concurrently and is now %s", latest.Status)
}

func (s *Service) publish(ctx context.Context, d *Dispute) {
	e := events.New(events.SubjectDispute, d.ID, string(d.Status), ResponseFromEntity(d), d.UserID, d.AgentID)
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.events.Publish(ctx, e)
	})
}

// Get returns the dispute to its parties or an admin.
func (s *Service) Get(ctx context.Context, act actor.Actor, id uuid.UUID) (*Dispute, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !act.IsAdmin() && !d.IsParty(act.UserID) {
		return nil, apperr.NotFound("dispute.get", "dispute")
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, act actor.Actor, f Filter) ([]Dispute, error) {
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
