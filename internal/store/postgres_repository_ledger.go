/**
 * @description
 * This file implements the ledger mutations. Each one runs as a single
 * transaction: it locks the account row with SELECT ... FOR UPDATE, performs the
 * read-modify-write on the balances, and appends the ledger entry before
 * committing. The lock serializes concurrent ledger operations on the same
 * account; operations on different accounts never block each other.
 *
 * The freeze entry's ID is the reservation handle. Commit and Refund are
 * idempotent against that handle: once a commit or refund child exists, further
 * settlement attempts fail with ErrAlreadySettled inside the same lock, so a
 * reservation can never be both committed and refunded.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
)

// FreezeFunds reserves amount against the account's available balance and writes
// the freeze entry. Fails with InsufficientFundsError when available < amount.
func (r *PostgresRepository) FreezeFunds(ctx context.Context, accountID uuid.UUID, amount int64, reason string, relatedOrderID *uuid.UUID) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var balance, frozen int64
	err = tx.QueryRow(ctx, `SELECT balance, frozen_balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance, &frozen)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	available := balance - frozen
	if available < amount {
		return nil, &InsufficientFundsError{Available: available, Required: amount}
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET frozen_balance = frozen_balance + $1, updated_at = NOW() WHERE id = $2`, amount, accountID); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      accountID,
		OperationType:  domain.OperationFreeze,
		Amount:         amount,
		BalanceBefore:  balance,
		BalanceAfter:   balance,
		FrozenBefore:   frozen,
		FrozenAfter:    frozen + amount,
		RelatedOrderID: relatedOrderID,
		Reason:         reason,
	}
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// CommitReservation converts a freeze into a permanent debit: balance and frozen
// balance both drop by the frozen amount.
func (r *PostgresRepository) CommitReservation(ctx context.Context, reservationID uuid.UUID) (*domain.LedgerEntry, error) {
	return r.settleReservation(ctx, reservationID, domain.OperationCommit, "commit")
}

// RefundReservation releases a freeze back to the available balance without
// debiting. The reason is recorded on the refund entry.
func (r *PostgresRepository) RefundReservation(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.LedgerEntry, error) {
	return r.settleReservation(ctx, reservationID, domain.OperationRefund, reason)
}

// settleReservation settles a freeze exactly once. Both settlement kinds share the
// lock/check/update/append sequence; only the balance arithmetic differs.
func (r *PostgresRepository) settleReservation(ctx context.Context, reservationID uuid.UUID, operation string, reason string) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	freeze, err := lockFreezeEntry(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	var balance, frozen int64
	err = tx.QueryRow(ctx, `SELECT balance, frozen_balance FROM accounts WHERE id = $1 FOR UPDATE`, freeze.AccountID).Scan(&balance, &frozen)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	settled, err := reservationSettled(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, ErrAlreadySettled
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      freeze.AccountID,
		OperationType:  operation,
		Amount:         freeze.Amount,
		BalanceBefore:  balance,
		FrozenBefore:   frozen,
		ReservationID:  &freeze.ID,
		RelatedOrderID: freeze.RelatedOrderID,
		Reason:         reason,
	}

	switch operation {
	case domain.OperationCommit:
		entry.BalanceAfter = balance - freeze.Amount
		entry.FrozenAfter = frozen - freeze.Amount
		_, err = tx.Exec(ctx,
			`UPDATE accounts SET balance = balance - $1, frozen_balance = frozen_balance - $1, updated_at = NOW() WHERE id = $2`,
			freeze.Amount, freeze.AccountID)
	case domain.OperationRefund:
		entry.BalanceAfter = balance
		entry.FrozenAfter = frozen - freeze.Amount
		_, err = tx.Exec(ctx,
			`UPDATE accounts SET frozen_balance = frozen_balance - $1, updated_at = NOW() WHERE id = $2`,
			freeze.Amount, freeze.AccountID)
	}
	if err != nil {
		return nil, err
	}

	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// AdjustReservation replaces a live freeze with one for a different amount in a
// single transaction: the old amount is released before the new freeze is
// checked, all under the same account lock, so only the price delta needs
// available headroom. Returns the replacement freeze entry; its ID is the new
// reservation handle.
func (r *PostgresRepository) AdjustReservation(ctx context.Context, reservationID uuid.UUID, newAmount int64, reason string) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	freeze, err := lockFreezeEntry(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	var balance, frozen int64
	err = tx.QueryRow(ctx, `SELECT balance, frozen_balance FROM accounts WHERE id = $1 FOR UPDATE`, freeze.AccountID).Scan(&balance, &frozen)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	settled, err := reservationSettled(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, ErrAlreadySettled
	}

	released := frozen - freeze.Amount
	if balance-released < newAmount {
		return nil, &InsufficientFundsError{Available: balance - released, Required: newAmount}
	}

	refund := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      freeze.AccountID,
		OperationType:  domain.OperationRefund,
		Amount:         freeze.Amount,
		BalanceBefore:  balance,
		BalanceAfter:   balance,
		FrozenBefore:   frozen,
		FrozenAfter:    released,
		ReservationID:  &freeze.ID,
		RelatedOrderID: freeze.RelatedOrderID,
		Reason:         "superseded by " + reason,
	}
	if err := insertLedgerEntry(ctx, tx, refund); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      freeze.AccountID,
		OperationType:  domain.OperationFreeze,
		Amount:         newAmount,
		BalanceBefore:  balance,
		BalanceAfter:   balance,
		FrozenBefore:   released,
		FrozenAfter:    released + newAmount,
		RelatedOrderID: freeze.RelatedOrderID,
		Reason:         reason,
	}
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET frozen_balance = frozen_balance + $1, updated_at = NOW() WHERE id = $2`,
		newAmount-freeze.Amount, freeze.AccountID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReverseCommit credits a committed reservation's amount back to the balance.
// This is the audited post-hoc reversal path (provider chargeback); it requires
// an existing commit child and no prior reversal.
func (r *PostgresRepository) ReverseCommit(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	freeze, err := lockFreezeEntry(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	var balance, frozen int64
	err = tx.QueryRow(ctx, `SELECT balance, frozen_balance FROM accounts WHERE id = $1 FOR UPDATE`, freeze.AccountID).Scan(&balance, &frozen)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	var committed, refunded bool
	err = tx.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM ledger_entries WHERE reservation_id = $1 AND operation_type = 'commit'),
			EXISTS (SELECT 1 FROM ledger_entries WHERE reservation_id = $1 AND operation_type = 'refund')
	`, reservationID).Scan(&committed, &refunded)
	if err != nil {
		return nil, err
	}
	if !committed {
		return nil, ErrNotCommitted
	}
	if refunded {
		return nil, ErrAlreadySettled
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, freeze.Amount, freeze.AccountID); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      freeze.AccountID,
		OperationType:  domain.OperationRefund,
		Amount:         freeze.Amount,
		BalanceBefore:  balance,
		BalanceAfter:   balance + freeze.Amount,
		FrozenBefore:   frozen,
		FrozenAfter:    frozen,
		ReservationID:  &freeze.ID,
		RelatedOrderID: freeze.RelatedOrderID,
		Reason:         reason,
	}
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// lockFreezeEntry loads the originating freeze row for a reservation handle.
// Ledger entries are immutable so no row lock is taken here; serialization
// happens on the account row.
func lockFreezeEntry(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, amount, related_order_id
		FROM ledger_entries
		WHERE id = $1 AND operation_type = 'freeze'
	`, reservationID).Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.RelatedOrderID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func reservationSettled(ctx context.Context, tx pgx.Tx, reservationID uuid.UUID) (bool, error) {
	var settled bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE reservation_id = $1 AND operation_type IN ('commit', 'refund')
		)
	`, reservationID).Scan(&settled)
	return settled, err
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (
			id, account_id, operation_type, amount,
			balance_before, balance_after, frozen_before, frozen_after,
			reservation_id, related_order_id, reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`,
		entry.ID,
		entry.AccountID,
		entry.OperationType,
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.FrozenBefore,
		entry.FrozenAfter,
		entry.ReservationID,
		entry.RelatedOrderID,
		entry.Reason,
	).Scan(&entry.CreatedAt)
}
