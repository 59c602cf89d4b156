package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
)

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

type AgentRepository struct {
	s *Store
}

func (r *AgentRepository) Create(ctx context.Context, a *agent.Agent) error {
	return r.s.do(ctx, func(d *state) error {
		if _, ok := d.agents[a.UserID]; ok {
			return apperr.InvalidState("agent.create", "user is already an agent")
		}
		d.agents[a.UserID] = *a
		return nil
	})
}

func (r *AgentRepository) Get(ctx context.Context, userID uuid.UUID) (*agent.Agent, error) {
	var out agent.Agent
	err := r.s.do(ctx, func(d *state) error {
		a, ok := d.agents[userID]
		if !ok {
			return apperr.NotFound("agent.get", "agent")
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *AgentRepository) GetForUpdate(ctx context.Context, userID uuid.UUID) (*agent.Agent, error) {
	return r.Get(ctx, userID)
}

func (r *AgentRepository) Update(ctx context.Context, a *agent.Agent) error {
	return r.s.do(ctx, func(d *state) error {
		if _, ok := d.agents[a.UserID]; !ok {
			return apperr.NotFound("agent.update", "agent")
		}
		d.agents[a.UserID] = *a
		return nil
	})
}

func (r *AgentRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]agent.Agent, error) {
	out := []agent.Agent{}
	err := r.s.do(ctx, func(d *state) error {
		for _, a := range d.agents {
			if activeOnly && !a.CanServe() {
				continue
			}
			out = append(out, a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return page(out, limit, offset), err
}

type MintRepository struct {
	s *Store
}

func (r *MintRepository) Create(ctx context.Context, m *mint.MintRequest) error {
	return r.s.do(ctx, func(d *state) error {
		d.mints[m.ID] = *m
		return nil
	})
}

func (r *MintRepository) Get(ctx context.Context, id uuid.UUID) (*mint.MintRequest, error) {
	var out mint.MintRequest
	err := r.s.do(ctx, func(d *state) error {
		m, ok := d.mints[id]
		if !ok {
			return apperr.NotFound("mint.get", "mint request")
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MintRepository) Transition(ctx context.Context, m *mint.MintRequest, from []mint.Status) (bool, error) {
	var ok bool
	err := r.s.do(ctx, func(d *state) error {
		current, found := d.mints[m.ID]
		if !found || !contains(from, current.Status) {
			return nil
		}
		d.mints[m.ID] = *m
		ok = true
		return nil
	})
	return ok, err
}

func (r *MintRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]mint.MintRequest, error) {
	out := []mint.MintRequest{}
	err := r.s.do(ctx, func(d *state) error {
		for _, m := range d.mints {
			if contains(mint.OpenStatuses, m.Status) && !m.ExpiresAt.After(now) {
				out = append(out, m)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return page(out, limit, 0), err
}

func (r *MintRepository) List(ctx context.Context, f mint.Filter) ([]mint.MintRequest, error) {
	out := []mint.MintRequest{}
	err := r.s.do(ctx, func(d *state) error {
		for _, m := range d.mints {
			if f.UserID != nil && m.UserID != *f.UserID {
				continue
			}
			if f.AgentID != nil && m.AgentID != *f.AgentID {
				continue
			}
			if f.Status != nil && m.Status != *f.Status {
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return page(out, f.Limit, f.Offset), err
}

type EscrowRepository struct {
	s *Store
}

func (r *EscrowRepository) Create(ctx context.Context, e *escrow.Escrow) error {
	return r.s.do(ctx, func(d *state) error {
		for _, existing := range d.escrows {
			if existing.BurnRequestID == e.BurnRequestID {
				return apperr.InvalidState("escrow.create", "burn request already has an escrow")
			}
		}
		d.escrows[e.ID] = *e
		return nil
	})
}

func (r *EscrowRepository) Get(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error) {
	var out escrow.Escrow
	err := r.s.do(ctx, func(d *state) error {
		e, ok := d.escrows[id]
		if !ok {
			return apperr.NotFound("escrow.get", "escrow")
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *EscrowRepository) Transition(ctx context.Context, e *escrow.Escrow, from []escrow.Status) (bool, error) {
	var ok bool
	err := r.s.do(ctx, func(d *state) error {
		current, found := d.escrows[e.ID]
		if !found || !contains(from, current.Status) {
			return nil
		}
		d.escrows[e.ID] = *e
		ok = true
		return nil
	})
	return ok, err
}

func sumOpen(d *state, userID uuid.UUID, token ledger.TokenType) decimal.Decimal {
	total := decimal.Zero
	for _, e := range d.escrows {
		if e.UserID == userID && e.TokenType == token && e.IsOpen() {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func (r *EscrowRepository) SumOpen(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.s.do(ctx, func(d *state) error {
		total = sumOpen(d, userID, token)
		return nil
	})
	return total, err
}

func (r *EscrowRepository) Mismatches(ctx context.Context) ([]escrow.Reconciliation, error) {
	out := []escrow.Reconciliation{}
	err := r.s.do(ctx, func(d *state) error {
		for k, w := range d.wallets {
			open := sumOpen(d, k.UserID, k.TokenType)
			if !w.PendingBalance.Equal(open) {
				out = append(out, escrow.Reconciliation{
					UserID:          k.UserID,
					TokenType:       k.TokenType,
					PendingBalance:  w.PendingBalance,
					OpenEscrowTotal: open,
				})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return keyLess(ledger.Key{UserID: out[i].UserID, TokenType: out[i].TokenType}, ledger.Key{UserID: out[j].UserID, TokenType: out[j].TokenType})
	})
	return out, err
}

type BurnRepository struct {
	s *Store
}

func (r *BurnRepository) Create(ctx context.Context, b *burn.BurnRequest) error {
	return r.s.do(ctx, func(d *state) error {
		if _, ok := d.escrows[b.EscrowID]; !ok {
			return apperr.Internal("burn.create", errMissingEscrow)
		}
		d.burns[b.ID] = *b
		return nil
	})
}

func (r *BurnRepository) Get(ctx context.Context, id uuid.UUID) (*burn.BurnRequest, error) {
	var out burn.BurnRequest
	err := r.s.do(ctx, func(d *state) error {
		b, ok := d.burns[id]
		if !ok {
			return apperr.NotFound("burn.get", "burn request")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *BurnRepository) Transition(ctx context.Context, b *burn.BurnRequest, from []burn.Status) (bool, error) {
	var ok bool
	err := r.s.do(ctx, func(d *state) error {
		current, found := d.burns[b.ID]
		if !found || !contains(from, current.Status) {
			return nil
		}
		d.burns[b.ID] = *b
		ok = true
		return nil
	})
	return ok, err
}

func (r *BurnRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]burn.BurnRequest, error) {
	out := []burn.BurnRequest{}
	err := r.s.do(ctx, func(d *state) error {
		for _, b := range d.burns {
			if contains(burn.OpenStatuses, b.Status) && !b.ExpiresAt.After(now) {
				out = append(out, b)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return page(out, limit, 0), err
}

func (r *BurnRepository) List(ctx context.Context, f burn.Filter) ([]burn.BurnRequest, error) {
	out := []burn.BurnRequest{}
	err := r.s.do(ctx, func(d *state) error {
		for _, b := range d.burns {
			if f.UserID != nil && b.UserID != *f.UserID {
				continue
			}
			if f.AgentID != nil && b.AgentID != *f.AgentID {
				continue
			}
			if f.Status != nil && b.Status != *f.Status {
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return page(out, f.Limit, f.Offset), err
}

type DisputeRepository struct {
	s *Store
}

func (r *DisputeRepository) Create(ctx context.Context, dp *dispute.Dispute) error {
	return r.s.do(ctx, func(d *state) error {
		for _, existing := range d.disputes {
			if existing.Status == dispute.StatusOpen && existing.Subject == dp.Subject && existing.SubjectID() == dp.SubjectID() {
				return apperr.InvalidState("dispute.create", "an open dispute already exists for this %s request", dp.Subject)
			}
		}
		d.disputes[dp.ID] = *dp
		return nil
	})
}

func (r *DisputeRepository) Get(ctx context.Context, id uuid.UUID) (*dispute.Dispute, error) {
	var out dispute.Dispute
	err := r.s.do(ctx, func(d *state) error {
		dp, ok := d.disputes[id]
		if !ok {
			return apperr.NotFound("dispute.get", "dispute")
		}
		out = dp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *DisputeRepository) Transition(ctx context.Context, dp *dispute.Dispute, from []dispute.Status) (bool, error) {
	var ok bool
	err := r.s.do(ctx, func(d *state) error {
		current, found := d.disputes[dp.ID]
		if !found || !contains(from, current.Status) {
			return nil
		}
		d.disputes[dp.ID] = *dp
		ok = true
		return nil
	})
	return ok, err
}

func (r *DisputeRepository) List(ctx context.Context, f dispute.Filter) ([]dispute.Dispute, error) {
	out := []dispute.Dispute{}
	err := r.s.do(ctx, func(d *state) error {
		for _, dp := range d.disputes {
			if f.UserID != nil && dp.UserID != *f.UserID {
				continue
			}
			if f.AgentID != nil && dp.AgentID != *f.AgentID {
				continue
			}
			if f.Status != nil && dp.Status != *f.Status {
				continue
			}
			if f.Subject != nil && dp.Subject != *f.Subject {
				continue
			}
			out = append(out, dp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return page(out, f.Limit, f.Offset), err
}

type ChainRepository struct {
	s *Store
}

func (r *ChainRepository) Upsert(ctx context.Context, st *chain.Settlement) (*chain.Settlement, error) {
	var out chain.Settlement
	err := r.s.do(ctx, func(d *state) error {
		for _, existing := range d.settlements {
			if existing.MintRequestID == st.MintRequestID {
				out = existing
				return nil
			}
		}
		d.settlements[st.ID] = *st
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ChainRepository) Update(ctx context.Context, st *chain.Settlement) error {
	return r.s.do(ctx, func(d *state) error {
		if _, ok := d.settlements[st.ID]; !ok {
			return apperr.NotFound("chain.update", "chain settlement")
		}
		d.settlements[st.ID] = *st
		return nil
	})
}

func (r *ChainRepository) Get(ctx context.Context, id uuid.UUID) (*chain.Settlement, error) {
	var out chain.Settlement
	err := r.s.do(ctx, func(d *state) error {
		st, ok := d.settlements[id]
		if !ok {
			return apperr.NotFound("chain.get", "chain settlement")
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ChainRepository) ListByStatus(ctx context.Context, status chain.Status, limit int) ([]chain.Settlement, error) {
	out := []chain.Settlement{}
	err := r.s.do(ctx, func(d *state) error {
		for _, st := range d.settlements {
			if status == "" || st.Status == status {
				out = append(out, st)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, limit, 0), err
}
