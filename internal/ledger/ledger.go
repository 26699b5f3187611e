// Package ledger owns every currency, resource and token balance.
//
// Balances only change through Debit, Credit and Refund. Each call carries a
// caller-supplied operation id; the id is journaled with the balance change
// in the same transaction, so a repeated delivery of the same operation is a
// no-op that reports the balance recorded the first time.
//
// Engines that move value as part of a larger unit of work call Bind inside
// their own transaction. Standalone callers use the Ledger methods, which
// lock the touched accounts and open a transaction of their own.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/clock"
	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/lockset"
	"github.com/Tchosco/toi700game-sub002/internal/metrics"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/store"
)

// Result is the outcome of one ledger operation.
type Result struct {
	Balance  int64 `json:"balance"`
	Replayed bool  `json:"replayed"`
}

// AccountKey is the lock key guarding an account.
func AccountKey(a model.Account) string {
	return lockset.Key("account", a.String())
}

// Ledger applies standalone ledger operations.
type Ledger struct {
	store   *store.Store
	locks   *lockset.Set
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Ledger. logger and m may be nil.
func New(st *store.Store, locks *lockset.Set, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{store: st, locks: locks, clock: clk, logger: logger, metrics: m}
}

// Bind returns a Tx applying operations through q, the queries of an open
// transaction. The caller must hold the AccountKey locks of every account
// it touches.
func (l *Ledger) Bind(q *store.Queries) *Tx {
	return &Tx{q: q, ledger: l, now: l.clock.Now()}
}

// Debit removes amount from an account in its own transaction.
func (l *Ledger) Debit(ctx context.Context, opID string, a model.Account, amount int64, reason string) (Result, error) {
	return l.single(ctx, a, func(tx *Tx) (Result, error) {
		return tx.Debit(ctx, opID, a, amount, reason)
	})
}

// Credit adds amount to an account in its own transaction.
func (l *Ledger) Credit(ctx context.Context, opID string, a model.Account, amount int64, reason string) (Result, error) {
	return l.single(ctx, a, func(tx *Tx) (Result, error) {
		return tx.Credit(ctx, opID, a, amount, reason)
	})
}

// Refund credits amount back to an account in its own transaction.
func (l *Ledger) Refund(ctx context.Context, opID string, a model.Account, amount int64, reason string) (Result, error) {
	return l.single(ctx, a, func(tx *Tx) (Result, error) {
		return tx.Refund(ctx, opID, a, amount, reason)
	})
}

// Transfer debits from and credits to in one transaction. The returned
// result is the balance of from.
func (l *Ledger) Transfer(ctx context.Context, opID string, from, to model.Account, amount int64, reason string) (Result, error) {
	unlock := l.locks.Lock(AccountKey(from), AccountKey(to))
	defer unlock()

	var res Result
	err := l.store.WithTx(ctx, func(q *store.Queries) error {
		tx := l.Bind(q)
		var err error
		if res, err = tx.Debit(ctx, opID+"/debit", from, amount, reason); err != nil {
			return err
		}
		_, err = tx.Credit(ctx, opID+"/credit", to, amount, reason)
		return err
	})
	if err != nil {
		return Result{}, gameerr.Dependency("ledger transfer", err)
	}
	return res, nil
}

// Balance returns the current balance of an account. Unknown accounts hold 0.
func (l *Ledger) Balance(ctx context.Context, a model.Account) (int64, error) {
	if !a.Valid() {
		return 0, gameerr.New(gameerr.CodeValidation, a.String(), "invalid account")
	}
	b, err := l.store.Queries().GetBalance(ctx, a)
	if err != nil {
		return 0, gameerr.Dependency("read balance", err)
	}
	return b, nil
}

// Entries returns the journal of an account in application order.
func (l *Ledger) Entries(ctx context.Context, a model.Account) ([]model.LedgerEntry, error) {
	entries, err := l.store.Queries().ListLedgerEntries(ctx, a)
	if err != nil {
		return nil, gameerr.Dependency("read ledger entries", err)
	}
	return entries, nil
}

func (l *Ledger) single(ctx context.Context, a model.Account, fn func(tx *Tx) (Result, error)) (Result, error) {
	unlock := l.locks.Lock(AccountKey(a))
	defer unlock()

	var res Result
	err := l.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		res, err = fn(l.Bind(q))
		return err
	})
	if err != nil {
		return Result{}, gameerr.Dependency("ledger operation", err)
	}
	return res, nil
}

// Tx applies ledger operations inside a caller's transaction.
type Tx struct {
	q      *store.Queries
	ledger *Ledger
	now    time.Time
}

// Debit removes amount from an account. It fails with INSUFFICIENT_FUNDS,
// leaving the balance untouched, when the account holds less than amount.
func (t *Tx) Debit(ctx context.Context, opID string, a model.Account, amount int64, reason string) (Result, error) {
	if amount <= 0 {
		return Result{}, gameerr.New(gameerr.CodeInvalidAmount, a.String(), "debit amount must be positive, got %d", amount)
	}
	return t.apply(ctx, opID, a, model.Debit, amount, reason)
}

// Credit adds amount to an account, creating it on first use.
func (t *Tx) Credit(ctx context.Context, opID string, a model.Account, amount int64, reason string) (Result, error) {
	if amount < 0 {
		return Result{}, gameerr.New(gameerr.CodeInvalidAmount, a.String(), "credit amount must not be negative, got %d", amount)
	}
	return t.apply(ctx, opID, a, model.Credit, amount, reason)
}

// Refund is a credit reversing an earlier debit.
func (t *Tx) Refund(ctx context.Context, opID string, a model.Account, amount int64, reason string) (Result, error) {
	return t.Credit(ctx, opID, a, amount, "refund: "+reason)
}

func (t *Tx) apply(ctx context.Context, opID string, a model.Account, dir model.Direction, amount int64, reason string) (Result, error) {
	if opID == "" {
		return Result{}, gameerr.New(gameerr.CodeValidation, a.String(), "ledger operation without op id")
	}
	if !a.Valid() {
		return Result{}, gameerr.New(gameerr.CodeValidation, a.String(), "invalid account")
	}

	prior, err := t.q.GetLedgerEntry(ctx, opID)
	switch {
	case err == nil:
		if prior.Account != a || prior.Direction != dir || prior.Amount != amount {
			return Result{}, gameerr.New(gameerr.CodeValidation, opID,
				"op id already applied as %s %d on %s", prior.Direction, prior.Amount, prior.Account)
		}
		t.ledger.metrics.LedgerReplay()
		t.ledger.logger.Debug("ledger op replayed", "op_id", opID, "account", a.String())
		return Result{Balance: prior.BalanceAfter, Replayed: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, gameerr.Dependency("read ledger entry", err)
	}

	var balance int64
	switch dir {
	case model.Debit:
		var ok bool
		balance, ok, err = t.q.DebitBalance(ctx, a, amount, t.now)
		if err != nil {
			return Result{}, gameerr.Dependency("debit balance", err)
		}
		if !ok {
			have, err := t.q.GetBalance(ctx, a)
			if err != nil {
				return Result{}, gameerr.Dependency("read balance", err)
			}
			return Result{}, gameerr.New(gameerr.CodeInsufficientFunds, a.String(),
				"balance %d is below %d", have, amount)
		}
	case model.Credit:
		balance, err = t.q.CreditBalance(ctx, a, amount, t.now)
		if err != nil {
			return Result{}, gameerr.Dependency("credit balance", err)
		}
	default:
		return Result{}, fmt.Errorf("unknown direction %q", dir)
	}

	err = t.q.InsertLedgerEntry(ctx, model.LedgerEntry{
		OpID:         opID,
		Account:      a,
		Direction:    dir,
		Amount:       amount,
		BalanceAfter: balance,
		Reason:       reason,
		CreatedAt:    t.now,
	})
	if err != nil {
		return Result{}, gameerr.Dependency("journal ledger entry", err)
	}

	t.ledger.metrics.LedgerOp(string(dir))
	t.ledger.logger.Debug("ledger op applied",
		"op_id", opID,
		"account", a.String(),
		"direction", dir,
		"amount", amount,
		"balance", balance)
	return Result{Balance: balance}, nil
}
