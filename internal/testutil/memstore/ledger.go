package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
)

type LedgerRepository struct {
	s *Store
}

func (r *LedgerRepository) LockWallet(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (*ledger.Wallet, error) {
	var out ledger.Wallet
	err := r.s.do(ctx, func(d *state) error {
		k := ledger.Key{UserID: userID, TokenType: token}
		w, ok := d.wallets[k]
		if !ok {
			w = *ledger.NewWallet(userID, token, time.Now().UTC())
			d.wallets[k] = w
		}
		out = w
		return nil
	})
	return &out, err
}

func (r *LedgerRepository) SaveWallet(ctx context.Context, w *ledger.Wallet) error {
	return r.s.do(ctx, func(d *state) error {
		if _, ok := d.wallets[w.Key()]; !ok {
			return apperr.NotFound("ledger.save_wallet", "wallet")
		}
		d.wallets[w.Key()] = *w
		return nil
	})
}

func (r *LedgerRepository) GetWallet(ctx context.Context, userID uuid.UUID, token ledger.TokenType) (*ledger.Wallet, error) {
	var out ledger.Wallet
	err := r.s.do(ctx, func(d *state) error {
		w, ok := d.wallets[ledger.Key{UserID: userID, TokenType: token}]
		if !ok {
			return apperr.NotFound("ledger.get_wallet", "wallet")
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *LedgerRepository) ListWallets(ctx context.Context, userID uuid.UUID) ([]ledger.Wallet, error) {
	out := []ledger.Wallet{}
	err := r.s.do(ctx, func(d *state) error {
		for _, w := range d.wallets {
			if w.UserID == userID {
				out = append(out, w)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TokenType < out[j].TokenType })
	return out, err
}

func (r *LedgerRepository) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	return r.s.do(ctx, func(d *state) error {
		for _, existing := range d.transactions {
			if existing.Reference == t.Reference {
				return apperr.New(apperr.KindReferenceConflict, "ledger.create_transaction", "reference %s is already in use", t.Reference)
			}
		}
		d.transactions[t.ID] = *t
		d.txOrder = append(d.txOrder, t.ID)
		return nil
	})
}

func (r *LedgerRepository) SetTransactionStatus(ctx context.Context, id uuid.UUID, from, to ledger.TxStatus) (bool, error) {
	var ok bool
	err := r.s.do(ctx, func(d *state) error {
		t, found := d.transactions[id]
		if !found || t.Status != from {
			return nil
		}
		t.Status = to
		d.transactions[id] = t
		ok = true
		return nil
	})
	return ok, err
}

func (r *LedgerRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	var out ledger.Transaction
	err := r.s.do(ctx, func(d *state) error {
		t, ok := d.transactions[id]
		if !ok {
			return apperr.NotFound("ledger.get_transaction", "transaction")
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *LedgerRepository) GetTransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error) {
	var out *ledger.Transaction
	err := r.s.do(ctx, func(d *state) error {
		for _, t := range d.transactions {
			if t.Reference == reference {
				t := t
				out = &t
				return nil
			}
		}
		return apperr.NotFound("ledger.get_transaction_by_reference", "transaction")
	})
	return out, err
}

// ListTransactions returns the user's transactions newest first.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]ledger.Transaction, error) {
	out := []ledger.Transaction{}
	err := r.s.do(ctx, func(d *state) error {
		for i := len(d.txOrder) - 1; i >= 0; i-- {
			t := d.transactions[d.txOrder[i]]
			if t.Involves(userID) {
				out = append(out, t)
			}
		}
		return nil
	})
	return page(out, limit, offset), err
}

// Transactions returns every transaction in insertion order.
func (r *LedgerRepository) Transactions() []ledger.Transaction {
	var out []ledger.Transaction
	_ = r.s.do(context.Background(), func(d *state) error {
		for _, id := range d.txOrder {
			out = append(out, d.transactions[id])
		}
		return nil
	})
	return out
}

// Wallets returns every wallet.
func (r *LedgerRepository) Wallets() []ledger.Wallet {
	var out []ledger.Wallet
	_ = r.s.do(context.Background(), func(d *state) error {
		for _, w := range d.wallets {
			out = append(out, w)
		}
		return nil
	})
	return out
}
