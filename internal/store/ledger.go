package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tchosco/toi700game-sub002/internal/model"
)

// GetBalance returns the balance of an account. Missing accounts hold 0.
func (q *Queries) GetBalance(ctx context.Context, a model.Account) (int64, error) {
	var balance int64
	err := q.q.QueryRowContext(ctx, `
		SELECT balance FROM ledger_balances WHERE kind = ? AND owner = ? AND asset = ?
	`, string(a.Kind), a.Owner, a.Asset).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// DebitBalance subtracts amount from an account in a single conditional
// statement. Returns ok=false without changes when the account is missing or
// holds less than amount.
func (q *Queries) DebitBalance(ctx context.Context, a model.Account, amount int64, at time.Time) (balance int64, ok bool, err error) {
	err = q.q.QueryRowContext(ctx, `
		UPDATE ledger_balances
		SET balance = balance - ?, updated_at = ?
		WHERE kind = ? AND owner = ? AND asset = ? AND balance >= ?
		RETURNING balance
	`, amount, formatTime(at), string(a.Kind), a.Owner, a.Asset, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("debit balance: %w", err)
	}
	return balance, true, nil
}

// CreditBalance adds amount to an account, creating it if needed.
func (q *Queries) CreditBalance(ctx context.Context, a model.Account, amount int64, at time.Time) (int64, error) {
	var balance int64
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO ledger_balances (kind, owner, asset, balance, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, owner, asset) DO UPDATE
		SET balance = balance + excluded.balance, updated_at = excluded.updated_at
		RETURNING balance
	`, string(a.Kind), a.Owner, a.Asset, amount, formatTime(at)).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// GetLedgerEntry retrieves the entry recorded under opID.
// Returns ErrNotFound if the operation was never applied.
func (q *Queries) GetLedgerEntry(ctx context.Context, opID string) (model.LedgerEntry, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT op_id, kind, owner, asset, direction, amount, balance_after, reason, created_at
		FROM ledger_entries WHERE op_id = ?
	`, opID)
	e, err := scanLedgerEntry(row)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", notFound(err))
	}
	return e, nil
}

// InsertLedgerEntry journals an applied operation. The op_id primary key
// rejects a second application of the same operation.
func (q *Queries) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(op_id, kind, owner, asset, direction, amount, balance_after, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.OpID,
		string(e.Account.Kind),
		e.Account.Owner,
		e.Account.Asset,
		string(e.Direction),
		e.Amount,
		e.BalanceAfter,
		e.Reason,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ListLedgerEntries returns the journal of one account in application order.
func (q *Queries) ListLedgerEntries(ctx context.Context, a model.Account) ([]model.LedgerEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT op_id, kind, owner, asset, direction, amount, balance_after, reason, created_at
		FROM ledger_entries
		WHERE kind = ? AND owner = ? AND asset = ?
		ORDER BY rowid ASC
	`, string(a.Kind), a.Owner, a.Asset)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(r rowScanner) (model.LedgerEntry, error) {
	var (
		e         model.LedgerEntry
		kind      string
		direction string
		createdAt string
	)
	err := r.Scan(
		&e.OpID,
		&kind,
		&e.Account.Owner,
		&e.Account.Asset,
		&direction,
		&e.Amount,
		&e.BalanceAfter,
		&e.Reason,
		&createdAt,
	)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	e.Account.Kind = model.AccountKind(kind)
	e.Direction = model.Direction(direction)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.LedgerEntry{}, err
	}
	return e, nil
}
