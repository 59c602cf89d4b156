package mint

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/money"
)

const DefaultTTL = 30 * time.Minute

type Ledger interface {
	Credit(ctx context.Context, in ledger.CreditInput) (*ledger.Transaction, error)
}

type AgentChecker interface {
	CheckLimits(ctx context.Context, agentID uuid.UUID, token string, amount decimal.Decimal, needCapacity bool) (decimal.Decimal, error)
}

type ChainSettler interface {
	Dispatch(ctx context.Context, o chain.Order)
}

type Service struct {
	repo   Repository
	tx     database.TxRunner
	ledger Ledger
	agents AgentChecker
	chain  ChainSettler
	events events.Publisher
	ttl    time.Duration
	now    func() time.Time
}

func NewService(repo Repository, tx database.TxRunner, l Ledger, agents AgentChecker, settler ChainSettler, publisher events.Publisher, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, tx: tx, ledger: l, agents: agents, chain: settler, events: publisher, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type CreateInput struct {
	AgentID       uuid.UUID
	TokenType     ledger.TokenType
	Amount        decimal.Decimal
	PaymentMethod string
}

func (s *Service) Create(ctx context.Context, act actor.Actor, in CreateInput) (*MintRequest, error) {
	const op = "mint.create"
	if err := act.Require(op, actor.RoleUser); err != nil {
		return nil, err
	}
	if !in.TokenType.Mintable() {
		return nil, apperr.Validation(op, "only NT and CT can be minted")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation(op, "amount must be greater than zero")
	}
	if !money.Fits(in.Amount) {
		return nil, apperr.Validation(op, "amount must have at most %d decimal places and %d integer digits", money.Scale, money.MaxIntegerDigits)
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		return nil, apperr.Validation(op, "payment method is required")
	}
	if in.AgentID == act.UserID {
		return nil, apperr.Validation(op, "cannot request a mint from yourself")
	}
	if _, err := s.agents.CheckLimits(ctx, in.AgentID, string(in.TokenType), in.Amount, false); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := &MintRequest{
		ID:            uuid.New(),
		UserID:        act.UserID,
		AgentID:       in.AgentID,
		TokenType:     in.TokenType,
		Amount:        in.Amount,
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", m.ID.String()).
		Str("user_id", m.UserID.String()).
		Str("agent_id", m.AgentID.String()).
		Str("amount", m.Amount.String()).
		Str("token_type", string(m.TokenType)).
		Msg("Mint request created")
	s.publish(ctx, m)
	return m, nil
}

// SubmitProof attaches the user's fiat payment proof.
func (s *Service) SubmitProof(ctx context.Context, act actor.Actor, id uuid.UUID, proofURL string) (*MintRequest, error) {
	const op = "mint.submit_proof"
	proofURL = strings.TrimSpace(proofURL)
	if proofURL == "" {
		return nil, apperr.Validation(op, "proof url is required")
	}

	var out *MintRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if act.Role != actor.RoleUser || m.UserID != act.UserID {
			return apperr.Forbidden(op, "only the requesting user can submit payment proof")
		}
		if m.Status == StatusPending && m.expired(s.now()) {
			return apperr.InvalidState(op, "mint request expired at %s", m.ExpiresAt.UTC().Format(time.RFC3339))
		}
		out, err = s.transition(ctx, op, m, StatusProofSubmitted, func(next *MintRequest) {
			next.withProof(proofURL)
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

// Confirm is the serving agent attesting that fiat arrived. The status CAS
// runs before the ledger credit, and both commit together.
func (s *Service) Confirm(ctx context.Context, act actor.Actor, id uuid.UUID) (*MintRequest, error) {
	const op = "mint.confirm"
	var (
		out *MintRequest
		txn *ledger.Transaction
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if act.Role != actor.RoleAgent || m.AgentID != act.UserID {
			return apperr.Forbidden(op, "only the serving agent can confirm a mint request")
		}
		confirmed, err := s.transition(ctx, op, m, StatusConfirmed, nil)
		if err != nil {
			return err
		}

		txn, err = s.credit(ctx, confirmed, confirmed.Amount, nil)
		if err != nil {
			return err
		}
		out, err = s.attachTransaction(ctx, confirmed, txn.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(out, StatusProofSubmitted, act)
	s.publish(ctx, out)
	s.DispatchSettlement(ctx, out, txn)
	return out, nil
}

// Reject is the serving agent declining the request. No ledger effect.
func (s *Service) Reject(ctx context.Context, act actor.Actor, id uuid.UUID, reason string) (*MintRequest, error) {
	const op = "mint.reject"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation(op, "a rejection reason is required")
	}
	return s.close(ctx, act, id, StatusRejected, func(m *MintRequest) error {
		if act.Role != actor.RoleAgent || m.AgentID != act.UserID {
			return apperr.Forbidden(op, "only the serving agent can reject a mint request")
		}
		return nil
	}, func(next *MintRequest) {
		next.RejectReason = &reason
	})
}

// Cancel is the requesting user withdrawing. No ledger effect.
func (s *Service) Cancel(ctx context.Context, act actor.Actor, id uuid.UUID) (*MintRequest, error) {
	return s.close(ctx, act, id, StatusCancelled, func(m *MintRequest) error {
		if act.Role != actor.RoleUser || m.UserID != act.UserID {
			return apperr.Forbidden("mint.cancel", "only the requesting user can cancel a mint request")
		}
		return nil
	}, nil)
}

func (s *Service) close(ctx context.Context, act actor.Actor, id uuid.UUID, to Status, authorize func(*MintRequest) error, mutate func(*MintRequest)) (*MintRequest, error) {
	op := "mint." + string(to)
	var (
		out  *MintRequest
		from Status
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(m); err != nil {
			return err
		}
		from = m.Status
		out, err = s.transition(ctx, op, m, to, mutate)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(out, from, act)
	s.publish(ctx, out)
	return out, nil
}

// ExpireDue moves up to batch open requests past their deadline to expired.
// Each request is expired in its own unit of work; requests another writer
// moved first are skipped.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, batch int) (int, error) {
	const op = "mint.expire"
	due, err := s.repo.ListDue(ctx, now, batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		m := &due[i]
		var out *MintRequest
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.transition(ctx, op, m, StatusExpired, nil)
			return err
		})
		switch {
		case err == nil:
			expired++
			log.Info().Str("request_id", m.ID.String()).Str("from", string(m.Status)).Str("to", string(StatusExpired)).Msg("Mint request expired")
			s.publish(ctx, out)
		case errors.Is(err, apperr.ErrInvalidState):
			log.Debug().Str("request_id", m.ID.String()).Msg("Mint request settled before expiry")
		default:
			log.Error().Err(err).Str("request_id", m.ID.String()).Msg("Failed to expire mint request")
		}
	}
	return expired, nil
}

// MarkDisputed freezes the request under a dispute. It joins the caller's
// unit of work.
func (s *Service) MarkDisputed(ctx context.Context, id uuid.UUID) (*MintRequest, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := s.transition(ctx, "mint.dispute", m, StatusDisputed, nil)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, out)
	return out, nil
}

// ResolveDispute closes a disputed request. When credit is positive the
// user is credited under the same reference Confirm uses.
func (s *Service) ResolveDispute(ctx context.Context, id uuid.UUID, credit decimal.Decimal, payload ledger.MintPayload) (*MintRequest, *ledger.Transaction, error) {
	const op = "mint.resolve"
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	resolved, err := s.transition(ctx, op, m, StatusResolved, nil)
	if err != nil {
		return nil, nil, err
	}
	if !credit.IsPositive() {
		s.publish(ctx, resolved)
		return resolved, nil, nil
	}

	txn, err := s.credit(ctx, resolved, credit, &payload)
	if err != nil {
		return nil, nil, err
	}
	resolved, err = s.attachTransaction(ctx, resolved, txn.ID)
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, resolved)
	s.DispatchSettlement(ctx, resolved, txn)
	return resolved, txn, nil
}

// AttachTransaction records the audit transaction of a dispute resolution
// that did not credit the user.
func (s *Service) AttachTransaction(ctx context.Context, m *MintRequest, txID uuid.UUID) (*MintRequest, error) {
	return s.attachTransaction(ctx, m, txID)
}

func (s *Service) credit(ctx context.Context, m *MintRequest, amount decimal.Decimal, payload *ledger.MintPayload) (*ledger.Transaction, error) {
	p := ledger.MintPayload{MintRequestID: m.ID, AgentID: m.AgentID}
	if payload != nil {
		p = *payload
		p.MintRequestID, p.AgentID = m.ID, m.AgentID
	}
	agentID := m.AgentID
	return s.ledger.Credit(ctx, ledger.CreditInput{
		UserID:     m.UserID,
		TokenType:  m.TokenType,
		Amount:     amount,
		Type:       ledger.TxMint,
		Reference:  m.Reference(),
		FromUserID: &agentID,
		Payload:    p,
	})
}

func (s *Service) attachTransaction(ctx context.Context, m *MintRequest, txID uuid.UUID) (*MintRequest, error) {
	next := *m
	next.TransactionID = &txID
	ok, err := s.repo.Transition(ctx, &next, []Status{m.Status})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.KindConcurrencyConflict, "mint.attach_transaction", "mint request changed while recording its transaction")
	}
	return &next, nil
}

// transition moves m to `to` with a status compare-and-set against m's
// current status. Losing the race reports the status the winner left.
func (s *Service) transition(ctx context.Context, op string, m *MintRequest, to Status, mutate func(*MintRequest)) (*MintRequest, error) {
	if err := checkTransition(op, m.Status, to); err != nil {
		return nil, err
	}

	next := *m
	next.Status = to
	next.UpdatedAt = s.now().UTC()
	if mutate != nil {
		mutate(&next)
	}

	ok, err := s.repo.Transition(ctx, &next, []Status{m.Status})
	if err != nil {
		return nil, err
	}
	if ok {
		return &next, nil
	}

	current, err := s.repo.Get(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(op, current.Status, to); err != nil {
		return nil, err
	}
	return nil, apperr.InvalidState(op, "mint request changed concurrently and is now %s", current.Status)
}

func checkTransition(op string, from, to Status) error {
	if from == StatusDisputed && to != StatusResolved {
		return apperr.InvalidState(op, "mint request is under dispute")
	}
	return Machine.Check(op, from, to)
}

// DispatchSettlement pushes a credited mint to the chain in the background
// once the credit has committed.
func (s *Service) DispatchSettlement(ctx context.Context, m *MintRequest, txn *ledger.Transaction) {
	if s.chain == nil || txn == nil {
		return
	}
	o := chain.Order{
		MintRequestID: m.ID,
		TransactionID: txn.ID,
		UserID:        m.UserID,
		TokenType:     m.TokenType,
		Amount:        txn.Amount,
	}
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.chain.Dispatch(ctx, o)
	})
}

func (s *Service) logTransition(m *MintRequest, from Status, act actor.Actor) {
	log.Info().
		Str("request_id", m.ID.String()).
		Str("from", string(from)).
		Str("to", string(m.Status)).
		Str("actor_id", act.UserID.String()).
		Msg("Mint request transition")
}

// publish emits the request's new status once its unit of work commits.
func (s *Service) publish(ctx context.Context, m *MintRequest) {
	e := events.New(events.SubjectMint, m.ID, string(m.Status), ResponseFromEntity(m), m.UserID, m.AgentID)
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.events.Publish(ctx, e)
	})
}

// Get returns the request to either party or an admin.
func (s *Service) Get(ctx context.Context, act actor.Actor, id uuid.UUID) (*MintRequest, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !act.IsAdmin() && !m.IsParty(act.UserID) {
		return nil, apperr.NotFound("mint.get", "mint request")
	}
	return m, nil
}

// Lookup returns the request without an access check, for other engines.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*MintRequest, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, act actor.Actor, f Filter) ([]MintRequest, error) {
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
