// Package memstore is an in-memory implementation of every settlement
// repository plus a unit-of-work runner for service tests. Units of work are
// serialized by one lock and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
)

type state struct {
	wallets      map[ledger.Key]ledger.Wallet
	transactions map[uuid.UUID]ledger.Transaction
	txOrder      []uuid.UUID
	agents       map[uuid.UUID]agent.Agent
	mints        map[uuid.UUID]mint.MintRequest
	escrows      map[uuid.UUID]escrow.Escrow
	burns        map[uuid.UUID]burn.BurnRequest
	disputes     map[uuid.UUID]dispute.Dispute
	settlements  map[uuid.UUID]chain.Settlement
}

func newState() *state {
	return &state{
		wallets:      map[ledger.Key]ledger.Wallet{},
		transactions: map[uuid.UUID]ledger.Transaction{},
		agents:       map[uuid.UUID]agent.Agent{},
		mints:        map[uuid.UUID]mint.MintRequest{},
		escrows:      map[uuid.UUID]escrow.Escrow{},
		burns:        map[uuid.UUID]burn.BurnRequest{},
		disputes:     map[uuid.UUID]dispute.Dispute{},
		settlements:  map[uuid.UUID]chain.Settlement{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		wallets:      cloneMap(s.wallets),
		transactions: cloneMap(s.transactions),
		txOrder:      append([]uuid.UUID(nil), s.txOrder...),
		agents:       cloneMap(s.agents),
		mints:        cloneMap(s.mints),
		escrows:      cloneMap(s.escrows),
		burns:        cloneMap(s.burns),
		disputes:     cloneMap(s.disputes),
		settlements:  cloneMap(s.settlements),
	}
}

// Store holds all repositories over one shared state.
type Store struct {
	mu   sync.Mutex
	data *state

	Ledger   *LedgerRepository
	Agents   *AgentRepository
	Mints    *MintRepository
	Escrows  *EscrowRepository
	Burns    *BurnRepository
	Disputes *DisputeRepository
	Chain    *ChainRepository
}

func New() *Store {
	s := &Store{data: newState()}
	s.Ledger = &LedgerRepository{s: s}
	s.Agents = &AgentRepository{s: s}
	s.Mints = &MintRepository{s: s}
	s.Escrows = &EscrowRepository{s: s}
	s.Burns = &BurnRepository{s: s}
	s.Disputes = &DisputeRepository{s: s}
	s.Chain = &ChainRepository{s: s}
	return s
}

// WithinTx runs fn holding the store lock. Any error restores the state
// fn started from; AfterCommit hooks run after the lock is released.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if database.InTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	snapshot := s.data.clone()
	txCtx, commit := database.MarkTx(ctx)
	if err := fn(txCtx); err != nil {
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	commit()
	return nil
}

// do runs fn against the state, taking the lock unless ctx already holds it.
func (s *Store) do(ctx context.Context, fn func(d *state) error) error {
	if database.InTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func keyLess(a, b ledger.Key) bool {
	if c := strings.Compare(a.UserID.String(), b.UserID.String()); c != 0 {
		return c < 0
	}
	return a.TokenType < b.TokenType
}

// newestFirst orders by creation time descending, then by id.
func newestFirst(ti, tj time.Time, idi, idj uuid.UUID) bool {
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return idi.String() < idj.String()
}

var errMissingEscrow = errors.New("burn request references a missing escrow")
