package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// QueryTimeout bounds a single repository call.
const QueryTimeout = 3 * time.Second

// TxRunner executes fn inside one unit of work. Calls made with the context
// passed to fn join that unit of work; nested WithinTx calls reuse it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Conn is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
type Conn interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type txKey struct{}

type txState struct {
	tx          *sqlx.Tx
	afterCommit []func(ctx context.Context)
}

func (st *txState) commit(ctx context.Context) {
	detached := Detach(ctx)
	for _, fn := range st.afterCommit {
		fn(detached)
	}
}

// SQLTxRunner runs units of work as READ COMMITTED Postgres transactions.
// Row-level locking (FOR UPDATE and status compare-and-set) provides isolation.
type SQLTxRunner struct {
	db *sqlx.DB
}

func NewTxRunner(db *sqlx.DB) *SQLTxRunner {
	return &SQLTxRunner{db: db}
}

func (r *SQLTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return MapError("begin tx", err)
	}
	defer tx.Rollback()

	st := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return MapError("commit tx", err)
	}
	st.commit(ctx)
	return nil
}

// InTx reports whether ctx carries an open unit of work.
func InTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// ConnFrom returns the transaction carried by ctx, or db when there is none.
func ConnFrom(ctx context.Context, db *sqlx.DB) Conn {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.tx != nil {
		return st.tx
	}
	return db
}

// AfterCommit runs fn once the unit of work carried by ctx commits, or right
// away when there is none. Rolled back work never runs its hooks. fn gets a
// context detached from the finished unit of work.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		st.afterCommit = append(st.afterCommit, fn)
		return
	}
	fn(ctx)
}

// Detach returns ctx without its unit of work.
func Detach(ctx context.Context) context.Context {
	if !InTx(ctx) {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, nil)
}

// MarkTx opens a connectionless unit of work for in-memory stores. Call
// commit after fn succeeded to run the AfterCommit hooks.
func MarkTx(ctx context.Context) (txCtx context.Context, commit func()) {
	st := &txState{}
	return context.WithValue(ctx, txKey{}, st), func() { st.commit(ctx) }
}
