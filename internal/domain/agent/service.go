package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/money"
	"github.com/tokenbridge/settlement-api/internal/pkg/rates"
)

type Config struct {
	// SuspendThreshold is the number of lost disputes after which an agent is
	// suspended automatically. Zero disables auto-suspension.
	SuspendThreshold int
}

type Service struct {
	repo  Repository
	tx    database.TxRunner
	rates rates.Provider
	cfg   Config
	now   func() time.Time
}

func NewService(repo Repository, tx database.TxRunner, rp rates.Provider, cfg Config) *Service {
	return &Service{repo: repo, tx: tx, rates: rp, cfg: cfg, now: time.Now}
}

// Quote converts a token amount into USD.
func (s *Service) Quote(ctx context.Context, token string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !money.Fits(amount) {
		return decimal.Zero, apperr.Validation("agent.quote", "amount must have at most %d decimal places and %d integer digits", money.Scale, money.MaxIntegerDigits)
	}
	usd, err := rates.ToUSD(ctx, s.rates, token, amount)
	var unknown *rates.ErrUnknownPair
	if errors.As(err, &unknown) {
		return decimal.Zero, apperr.Validation("agent.quote", "no USD rate for %s", token)
	}
	if err != nil {
		return decimal.Zero, apperr.Internal("agent.quote", err)
	}
	return usd, nil
}

// CheckLimits validates that the agent can serve a request of amount token
// units and returns its USD equivalent. Capacity is checked only when
// needCapacity is set.
func (s *Service) CheckLimits(ctx context.Context, agentID uuid.UUID, token string, amount decimal.Decimal, needCapacity bool) (decimal.Decimal, error) {
	const op = "agent.check_limits"
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return decimal.Zero, err
	}
	usd, err := s.Quote(ctx, token, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := checkAgent(op, a, usd, needCapacity); err != nil {
		return decimal.Zero, err
	}
	return usd, nil
}

func checkAgent(op string, a *Agent, usd decimal.Decimal, needCapacity bool) error {
	if !a.IsActive {
		return apperr.InvalidState(op, "agent is not active")
	}
	if a.IsSuspended {
		return apperr.InvalidState(op, "agent is suspended")
	}
	if usd.GreaterThan(a.MaxTransactionLimit) {
		return apperr.LimitExceeded(op, "amount of %s USD exceeds the agent transaction limit of %s USD",
			usd.StringFixed(2), a.MaxTransactionLimit.StringFixed(2))
	}
	if needCapacity && usd.GreaterThan(a.AvailableCapacity) {
		return apperr.LimitExceeded(op, "amount of %s USD exceeds the agent available capacity of %s USD",
			usd.StringFixed(2), a.AvailableCapacity.StringFixed(2))
	}
	return nil
}

// ReserveCapacity re-checks limits under the agent row lock and deducts usd
// from the available capacity.
func (s *Service) ReserveCapacity(ctx context.Context, agentID uuid.UUID, usd decimal.Decimal) error {
	const op = "agent.reserve_capacity"
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		if err := checkAgent(op, a, usd, true); err != nil {
			return err
		}
		a.AvailableCapacity = a.AvailableCapacity.Sub(usd)
		a.UpdatedAt = s.now().UTC()
		return s.repo.Update(ctx, a)
	})
}

// ReleaseCapacity returns usd to the agent's available capacity.
func (s *Service) ReleaseCapacity(ctx context.Context, agentID uuid.UUID, usd decimal.Decimal) error {
	if !usd.IsPositive() {
		return nil
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		a.AvailableCapacity = a.AvailableCapacity.Add(usd)
		a.UpdatedAt = s.now().UTC()
		return s.repo.Update(ctx, a)
	})
}

// RecordDisputeLoss counts a dispute resolved against the agent and suspends
// the agent once the configured threshold is reached.
func (s *Service) RecordDisputeLoss(ctx context.Context, agentID uuid.UUID) (*Agent, error) {
	var out *Agent
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		a.DisputesLost++
		if s.cfg.SuspendThreshold > 0 && a.DisputesLost >= s.cfg.SuspendThreshold && !a.IsSuspended {
			a.IsSuspended = true
			a.SuspendedAt = &now
			log.Warn().
				Str("agent_id", agentID.String()).
				Int("disputes_lost", a.DisputesLost).
				Msg("Agent suspended after repeated lost disputes")
		}
		a.UpdatedAt = now
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

type RegisterInput struct {
	UserID              uuid.UUID
	DisplayName         string
	MaxTransactionLimit decimal.Decimal
	AvailableCapacity   decimal.Decimal
}

// Register enrolls a user as an agent.
func (s *Service) Register(ctx context.Context, act actor.Actor, in RegisterInput) (*Agent, error) {
	const op = "agent.register"
	if err := act.Require(op, actor.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return nil, apperr.Validation(op, "display name is required")
	}
	if in.MaxTransactionLimit.IsNegative() || in.AvailableCapacity.IsNegative() ||
		!money.Fits(in.MaxTransactionLimit) || !money.Fits(in.AvailableCapacity) {
		return nil, apperr.Validation(op, "limits must be non-negative with at most %d decimal places", money.Scale)
	}

	now := s.now().UTC()
	a := &Agent{
		UserID:              in.UserID,
		DisplayName:         strings.TrimSpace(in.DisplayName),
		IsActive:            true,
		MaxTransactionLimit: in.MaxTransactionLimit,
		AvailableCapacity:   in.AvailableCapacity,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	log.Info().Str("agent_id", a.UserID.String()).Str("admin_id", act.UserID.String()).Msg("Agent registered")
	return a, nil
}

type LimitsInput struct {
	MaxTransactionLimit *decimal.Decimal
	AvailableCapacity   *decimal.Decimal
	IsActive            *bool
}

// UpdateLimits adjusts limits. Capacity is topped up here by operators; mints
// do not replenish it.
func (s *Service) UpdateLimits(ctx context.Context, act actor.Actor, agentID uuid.UUID, in LimitsInput) (*Agent, error) {
	const op = "agent.update_limits"
	if err := act.Require(op, actor.RoleAdmin); err != nil {
		return nil, err
	}
	if (in.MaxTransactionLimit != nil && (in.MaxTransactionLimit.IsNegative() || !money.Fits(*in.MaxTransactionLimit))) ||
		(in.AvailableCapacity != nil && (in.AvailableCapacity.IsNegative() || !money.Fits(*in.AvailableCapacity))) {
		return nil, apperr.Validation(op, "limits must be non-negative with at most %d decimal places", money.Scale)
	}

	var out *Agent
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		if in.MaxTransactionLimit != nil {
			a.MaxTransactionLimit = *in.MaxTransactionLimit
		}
		if in.AvailableCapacity != nil {
			a.AvailableCapacity = *in.AvailableCapacity
		}
		if in.IsActive != nil {
			a.IsActive = *in.IsActive
		}
		a.UpdatedAt = s.now().UTC()
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("agent_id", agentID.String()).Str("admin_id", act.UserID.String()).Msg("Agent limits updated")
	return out, nil
}

// Reinstate lifts a suspension and clears the lost-dispute counter.
func (s *Service) Reinstate(ctx context.Context, act actor.Actor, agentID uuid.UUID) (*Agent, error) {
	const op = "agent.reinstate"
	if err := act.Require(op, actor.RoleAdmin); err != nil {
		return nil, err
	}

	var out *Agent
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, agentID)
		if err != nil {
			return err
		}
		if !a.IsSuspended {
			return apperr.InvalidState(op, "agent is not suspended")
		}
		a.IsSuspended = false
		a.SuspendedAt = nil
		a.DisputesLost = 0
		a.UpdatedAt = s.now().UTC()
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("agent_id", agentID.String()).Str("admin_id", act.UserID.String()).Msg("Agent reinstated")
	return out, nil
}

func (s *Service) Get(ctx context.Context, agentID uuid.UUID) (*Agent, error) {
	return s.repo.Get(ctx, agentID)
}

// List returns agents; non-admins only see agents able to serve.
func (s *Service) List(ctx context.Context, act actor.Actor, limit, offset int) ([]Agent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, !act.IsAdmin(), limit, offset)
}
