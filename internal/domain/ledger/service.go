package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/money"
)

const maxReferenceLength = 128

type Repository interface {
	// LockWallet creates the wallet if missing and locks it for the current unit of work.
	LockWallet(ctx context.Context, userID uuid.UUID, token TokenType) (*Wallet, error)
	SaveWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, userID uuid.UUID, token TokenType) (*Wallet, error)
	ListWallets(ctx context.Context, userID uuid.UUID) ([]Wallet, error)

	CreateTransaction(ctx context.Context, t *Transaction) error
	SetTransactionStatus(ctx context.Context, id uuid.UUID, from, to TxStatus) (bool, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
}

// Movement is a signed change to one wallet's available and pending balances.
type Movement struct {
	UserID    uuid.UUID
	TokenType TokenType
	Available decimal.Decimal
	Pending   decimal.Decimal
	// ShortfallKind replaces InsufficientFunds when this wallet cannot cover the movement.
	ShortfallKind apperr.Kind
}

func (m Movement) key() Key {
	return Key{UserID: m.UserID, TokenType: m.TokenType}
}

// Entry is one atomic ledger mutation: a set of movements and the single
// Transaction that records them.
type Entry struct {
	Type       TxType
	TokenType  TokenType
	FromUserID *uuid.UUID
	ToUserID   *uuid.UUID
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	// FeeUserID owns the wallet that collects Fee; one of the movements must
	// credit it.
	FeeUserID *uuid.UUID
	Status    TxStatus
	Reference string
	Payload   Payload
	Movements []Movement
}

func (e *Entry) validate(op string) error {
	if strings.TrimSpace(e.Reference) == "" || len(e.Reference) > maxReferenceLength {
		return apperr.Validation(op, "reference is required and must be at most %d characters", maxReferenceLength)
	}
	if !e.TokenType.Valid() {
		return apperr.Validation(op, "unknown token type %q", e.TokenType)
	}
	if e.Amount.IsNegative() || e.Fee.IsNegative() {
		return apperr.Validation(op, "amount must not be negative")
	}
	if !money.Fits(e.Amount) || !money.Fits(e.Fee) {
		return apperr.Validation(op, "amount must have at most %d decimal places and %d integer digits", money.Scale, money.MaxIntegerDigits)
	}
	if e.Fee.IsPositive() {
		if e.FeeUserID == nil || !e.creditsFeeWallet() {
			return apperr.Validation(op, "a fee needs a fee wallet credited by the entry")
		}
	} else if e.FeeUserID != nil {
		return apperr.Validation(op, "fee wallet given without a fee")
	}
	if e.Payload != nil && e.Payload.TxType() != e.Type {
		return apperr.Validation(op, "%s payload cannot describe a %s transaction", e.Payload.TxType(), e.Type)
	}
	for _, m := range e.Movements {
		if !m.TokenType.Valid() {
			return apperr.Validation(op, "unknown token type %q", m.TokenType)
		}
		if !money.Fits(m.Available) || !money.Fits(m.Pending) {
			return apperr.Validation(op, "amount must have at most %d decimal places and %d integer digits", money.Scale, money.MaxIntegerDigits)
		}
	}
	if e.Status == "" {
		e.Status = TxStatusCompleted
	}
	return nil
}

func (e *Entry) creditsFeeWallet() bool {
	for _, m := range e.Movements {
		if m.UserID == *e.FeeUserID && m.TokenType == e.TokenType && m.Available.IsPositive() {
			return true
		}
	}
	return false
}

func (t *Transaction) matches(e Entry) bool {
	return t.Type == e.Type && t.TokenType == e.TokenType && t.Amount.Equal(e.Amount)
}

type Service struct {
	repo   Repository
	tx     database.TxRunner
	events events.Publisher
	now    func() time.Time
}

func NewService(repo Repository, tx database.TxRunner, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, tx: tx, events: publisher, now: time.Now}
}

// Apply performs e exactly once per reference. Wallets are locked in a fixed
// order before the reference is checked, so a concurrent replay waits for the
// first writer and then observes its Transaction. A replay with matching type,
// token and amount returns the original Transaction and changes nothing.
func (s *Service) Apply(ctx context.Context, e Entry) (*Transaction, error) {
	const op = "ledger.apply"
	if err := e.validate(op); err != nil {
		return nil, err
	}

	var (
		result  *Transaction
		replay  bool
		touched []*Wallet
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		wallets, order, err := s.lockWallets(ctx, e.Movements)
		if err != nil {
			return err
		}

		existing, err := s.repo.GetTransactionByReference(ctx, e.Reference)
		switch {
		case err == nil:
			if !existing.matches(e) {
				return apperr.New(apperr.KindReferenceConflict, op, "reference %s was already used for a different %s of %s", e.Reference, existing.Type, existing.Amount)
			}
			result, replay = existing, true
			return nil
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		for _, m := range e.Movements {
			w := wallets[m.key()]
			if w.IsFrozen && (m.Available.IsNegative() || m.Pending.IsPositive()) {
				return apperr.New(apperr.KindWalletFrozen, op, "%s wallet is frozen", w.TokenType)
			}
			w.Balance = w.Balance.Add(m.Available)
			w.PendingBalance = w.PendingBalance.Add(m.Pending)
		}

		kinds := make(map[Key]apperr.Kind, len(order))
		for _, m := range e.Movements {
			if m.ShortfallKind != "" {
				kinds[m.key()] = m.ShortfallKind
			}
		}

		now := s.now().UTC()
		for _, k := range order {
			w := wallets[k]
			if w.Balance.IsNegative() {
				kind := kinds[k]
				if kind == "" {
					kind = apperr.KindInsufficientFunds
				}
				return apperr.New(kind, op, "insufficient %s balance", w.TokenType)
			}
			if w.PendingBalance.IsNegative() {
				return apperr.New(apperr.KindInsufficientFunds, op, "insufficient %s pending balance", w.TokenType)
			}
			w.UpdatedAt = now
			if err := s.repo.SaveWallet(ctx, w); err != nil {
				return err
			}
			touched = append(touched, w)
		}

		t := &Transaction{
			ID:         uuid.New(),
			Type:       e.Type,
			TokenType:  e.TokenType,
			FromUserID: e.FromUserID,
			ToUserID:   e.ToUserID,
			Amount:     e.Amount,
			Fee:        e.Fee,
			Status:     e.Status,
			Reference:  e.Reference,
			Payload:    e.Payload,
			CreatedAt:  now,
		}
		if e.FeeUserID != nil {
			feeWallet := wallets[Key{UserID: *e.FeeUserID, TokenType: e.TokenType}].ID
			t.FeeWalletID = &feeWallet
		}
		if err := s.repo.CreateTransaction(ctx, t); err != nil {
			return err
		}
		result = t

		database.AfterCommit(ctx, func(ctx context.Context) {
			for _, w := range touched {
				s.events.Publish(ctx, events.New(events.SubjectWallet, w.ID, "updated", w, w.UserID))
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replay {
		log.Info().Str("reference", e.Reference).Str("transaction_id", result.ID.String()).Msg("Ledger entry replayed")
		return result, nil
	}

	log.Info().
		Str("type", string(result.Type)).
		Str("token_type", string(result.TokenType)).
		Str("amount", result.Amount.String()).
		Str("reference", result.Reference).
		Str("transaction_id", result.ID.String()).
		Msg("Ledger entry applied")
	return result, nil
}

// lockWallets locks every wallet named by movements in (user_id, token_type) order.
func (s *Service) lockWallets(ctx context.Context, movements []Movement) (map[Key]*Wallet, []Key, error) {
	wallets := make(map[Key]*Wallet, len(movements))
	order := make([]Key, 0, len(movements))
	for _, m := range movements {
		k := m.key()
		if _, ok := wallets[k]; ok {
			continue
		}
		wallets[k] = nil
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if c := strings.Compare(a.UserID.String(), b.UserID.String()); c != 0 {
			return c < 0
		}
		return a.TokenType < b.TokenType
	})

	for _, k := range order {
		w, err := s.repo.LockWallet(ctx, k.UserID, k.TokenType)
		if err != nil {
			return nil, nil, err
		}
		wallets[k] = w
	}
	return wallets, order, nil
}

type CreditInput struct {
	UserID     uuid.UUID
	TokenType  TokenType
	Amount     decimal.Decimal
	Type       TxType
	Reference  string
	FromUserID *uuid.UUID
	Payload    Payload
}

// Credit adds amount to the available balance.
func (s *Service) Credit(ctx context.Context, in CreditInput) (*Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("ledger.credit", "amount must be greater than zero")
	}
	if in.Type == "" {
		in.Type = TxMint
	}
	to := in.UserID
	return s.Apply(ctx, Entry{
		Type:       in.Type,
		TokenType:  in.TokenType,
		FromUserID: in.FromUserID,
		ToUserID:   &to,
		Amount:     in.Amount,
		Reference:  in.Reference,
		Payload:    in.Payload,
		Movements: []Movement{
			{UserID: in.UserID, TokenType: in.TokenType, Available: in.Amount},
		},
	})
}

type DebitInput struct {
	UserID    uuid.UUID
	TokenType TokenType
	Amount    decimal.Decimal
	Type      TxType
	Reference string
	ToUserID  *uuid.UUID
	Payload   Payload
}

// Debit removes amount from the available balance.
func (s *Service) Debit(ctx context.Context, in DebitInput) (*Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("ledger.debit", "amount must be greater than zero")
	}
	if in.Type == "" {
		in.Type = TxBurn
	}
	from := in.UserID
	return s.Apply(ctx, Entry{
		Type:       in.Type,
		TokenType:  in.TokenType,
		FromUserID: &from,
		ToUserID:   in.ToUserID,
		Amount:     in.Amount,
		Reference:  in.Reference,
		Payload:    in.Payload,
		Movements: []Movement{
			{UserID: in.UserID, TokenType: in.TokenType, Available: in.Amount.Neg()},
		},
	})
}

type FreezeInput struct {
	UserID    uuid.UUID
	TokenType TokenType
	Amount    decimal.Decimal
	Reference string
	Payload   Payload
}

// Freeze moves amount from available to pending.
func (s *Service) Freeze(ctx context.Context, in FreezeInput) (*Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("ledger.freeze", "amount must be greater than zero")
	}
	from := in.UserID
	return s.Apply(ctx, Entry{
		Type:       TxLock,
		TokenType:  in.TokenType,
		FromUserID: &from,
		Amount:     in.Amount,
		Reference:  in.Reference,
		Payload:    in.Payload,
		Movements: []Movement{
			{UserID: in.UserID, TokenType: in.TokenType, Available: in.Amount.Neg(), Pending: in.Amount},
		},
	})
}

type ReleaseInput struct {
	UserID    uuid.UUID
	TokenType TokenType
	Amount    decimal.Decimal
	// Destination receives the pending amount; nil returns it to the owner.
	Destination *uuid.UUID
	Type        TxType
	Reference   string
	Payload     Payload
}

// Release clears amount from the owner's pending balance, either back to the
// owner's available balance or into the destination's available balance.
func (s *Service) Release(ctx context.Context, in ReleaseInput) (*Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("ledger.release", "amount must be greater than zero")
	}
	owner := in.UserID
	movements := []Movement{{UserID: in.UserID, TokenType: in.TokenType, Pending: in.Amount.Neg()}}
	to := &owner
	if in.Destination != nil && *in.Destination != in.UserID {
		movements = append(movements, Movement{UserID: *in.Destination, TokenType: in.TokenType, Available: in.Amount})
		to = in.Destination
		if in.Type == "" {
			in.Type = TxBurn
		}
	} else {
		movements[0].Available = in.Amount
		if in.Type == "" {
			in.Type = TxRefund
		}
	}
	return s.Apply(ctx, Entry{
		Type:       in.Type,
		TokenType:  in.TokenType,
		FromUserID: &owner,
		ToUserID:   to,
		Amount:     in.Amount,
		Reference:  in.Reference,
		Payload:    in.Payload,
		Movements:  movements,
	})
}

type TransferInput struct {
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	TokenType  TokenType
	Amount     decimal.Decimal
	Reference  string
	Memo       string
}

// Transfer moves available balance between two users.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*Transaction, error) {
	const op = "ledger.transfer"
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation(op, "amount must be greater than zero")
	}
	if in.FromUserID == in.ToUserID {
		return nil, apperr.Validation(op, "cannot transfer to the same wallet")
	}
	from, to := in.FromUserID, in.ToUserID
	return s.Apply(ctx, Entry{
		Type:       TxTransfer,
		TokenType:  in.TokenType,
		FromUserID: &from,
		ToUserID:   &to,
		Amount:     in.Amount,
		Reference:  in.Reference,
		Payload:    TransferPayload{Memo: in.Memo},
		Movements: []Movement{
			{UserID: from, TokenType: in.TokenType, Available: in.Amount.Neg()},
			{UserID: to, TokenType: in.TokenType, Available: in.Amount},
		},
	})
}

// SetFrozen applies or lifts an administrative freeze.
func (s *Service) SetFrozen(ctx context.Context, act actor.Actor, userID uuid.UUID, token TokenType, frozen bool, reason string) (*Wallet, error) {
	const op = "ledger.set_frozen"
	if err := act.Require(op, actor.RoleAdmin); err != nil {
		return nil, err
	}
	if !token.Valid() {
		return nil, apperr.Validation(op, "unknown token type %q", token)
	}
	if frozen && strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation(op, "a reason is required to freeze a wallet")
	}

	var out *Wallet
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWallet(ctx, userID, token)
		if err != nil {
			return err
		}
		w.IsFrozen = frozen
		w.FrozenReason = nil
		if frozen {
			w.FrozenReason = &reason
		}
		w.UpdatedAt = s.now().UTC()
		if err := s.repo.SaveWallet(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("token_type", string(token)).
		Bool("frozen", frozen).
		Str("admin_id", act.UserID.String()).
		Msg("Wallet freeze state changed")
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.events.Publish(ctx, events.New(events.SubjectWallet, out.ID, "updated", out, out.UserID))
	})
	return out, nil
}

// SetChainAddress records the on-chain address used for mint settlement.
func (s *Service) SetChainAddress(ctx context.Context, userID uuid.UUID, token TokenType, address string) (*Wallet, error) {
	const op = "ledger.set_chain_address"
	if !token.Mintable() {
		return nil, apperr.Validation(op, "%s has no chain settlement", token)
	}
	address = strings.TrimSpace(address)
	if address == "" || len(address) > 128 {
		return nil, apperr.Validation(op, "address is required and must be at most 128 characters")
	}

	var out *Wallet
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWallet(ctx, userID, token)
		if err != nil {
			return err
		}
		w.ChainAddress = &address
		w.UpdatedAt = s.now().UTC()
		if err := s.repo.SaveWallet(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

// GetWallet returns the wallet, or an unsaved empty one when the pair was never used.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID, token TokenType) (*Wallet, error) {
	if !token.Valid() {
		return nil, apperr.Validation("ledger.get_wallet", "unknown token type %q", token)
	}
	w, err := s.repo.GetWallet(ctx, userID, token)
	if errors.Is(err, apperr.ErrNotFound) {
		return NewWallet(userID, token, s.now().UTC()), nil
	}
	return w, err
}

func (s *Service) ListWallets(ctx context.Context, userID uuid.UUID) ([]Wallet, error) {
	return s.repo.ListWallets(ctx, userID)
}

func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}

// GetTransaction is visible to either party and to admins.
// MarkRefunded flags the transaction recorded under reference as refunded.
// Marking an already refunded transaction is a no-op.
func (s *Service) MarkRefunded(ctx context.Context, reference string) (*Transaction, error) {
	const op = "ledger.mark_refunded"
	var out *Transaction
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		if t.Status == TxStatusRefunded {
			out = t
			return nil
		}
		ok, err := s.repo.SetTransactionStatus(ctx, t.ID, t.Status, TxStatusRefunded)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState(op, "transaction %s changed status concurrently", t.ID)
		}
		t.Status = TxStatusRefunded
		out = t
		return nil
	})
	return out, err
}

func (s *Service) GetTransaction(ctx context.Context, act actor.Actor, id uuid.UUID) (*Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !act.IsAdmin() && !t.Involves(act.UserID) {
		return nil, apperr.NotFound("ledger.get_transaction", "transaction")
	}
	return t, nil
}
