/**
 * @description
 * This file contains the Freeze-Execute-Settle ledger service. It validates
 * amounts at the boundary, delegates the locked read-modify-write to the
 * repository, checks the balance invariants on every result, and exposes the
 * reconciliation and replay audits.
 *
 * Key properties:
 * - Freeze never lets available balance go negative; the repository enforces the
 *   check under the account row lock.
 * - Commit and Refund are idempotent per reservation handle and mutually
 *   exclusive outcomes; retries after a crash cannot double-settle.
 * - Invariant violations (frozen > balance, negative balances) are logged as
 *   critical and surfaced, never silently corrected.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 */

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
	"github.com/buba6c/onesms-v1-sub002/internal/store"
)

var (
	// ErrInvalidAmount rejects zero or negative amounts before any SQL runs.
	ErrInvalidAmount = errors.New("amount must be a positive integer")
	// ErrAccountInactive rejects freezes against deactivated accounts.
	ErrAccountInactive = errors.New("account is deactivated")
)

// Service provides the ledger operations over a repository.
type Service struct {
	repo store.Repository
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// CreateAccount provisions a new active account with an opening balance.
func (s *Service) CreateAccount(ctx context.Context, openingBalance int64) (*domain.Account, error) {
	if openingBalance < 0 {
		return nil, ErrInvalidAmount
	}
	account := &domain.Account{ID: uuid.New(), Balance: openingBalance, Active: true}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	log.Printf("level=info component=ledger op=create_account msg=\"account created\" account_id=%s opening_balance=%d", account.ID, openingBalance)
	return account, nil
}

// DeactivateAccount flags an account inactive. Open orders keep settling; only
// new freezes are blocked.
func (s *Service) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	if err := s.repo.DeactivateAccount(ctx, accountID); err != nil {
		return err
	}
	log.Printf("level=warn component=ledger op=deactivate_account msg=\"account deactivated\" account_id=%s", accountID)
	return nil
}

// Freeze reserves amount against the account and returns the freeze entry; its ID
// is the reservation handle for later Commit/Refund calls.
func (s *Service) Freeze(ctx context.Context, accountID uuid.UUID, amount int64, reason string, relatedOrderID *uuid.UUID) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	entry, err := s.repo.FreezeFunds(ctx, accountID, amount, reason, relatedOrderID)
	if err != nil {
		return nil, err
	}
	s.checkEntryInvariants(entry)
	log.Printf("level=info component=ledger op=freeze msg=\"funds frozen\" account_id=%s reservation_id=%s amount=%d frozen_after=%d reason=%q",
		accountID, entry.ID, amount, entry.FrozenAfter, reason)
	return entry, nil
}

// Commit converts the reservation into a permanent debit. A second call with the
// same handle fails with store.ErrAlreadySettled, which callers treat as success.
func (s *Service) Commit(ctx context.Context, reservationID uuid.UUID) (*domain.LedgerEntry, error) {
	entry, err := s.repo.CommitReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	s.checkEntryInvariants(entry)
	log.Printf("level=info component=ledger op=commit msg=\"reservation committed\" account_id=%s reservation_id=%s amount=%d balance_after=%d frozen_after=%d",
		entry.AccountID, reservationID, entry.Amount, entry.BalanceAfter, entry.FrozenAfter)
	return entry, nil
}

// AdjustFreeze moves a live reservation to a new amount. Release and re-freeze
// happen in one repository transaction, so only the price delta needs available
// headroom and the account is never left uncovered or double-reserved. The
// returned entry's ID is the new reservation handle; the old handle is settled.
func (s *Service) AdjustFreeze(ctx context.Context, reservationID uuid.UUID, newAmount int64, reason string) (*domain.LedgerEntry, error) {
	if newAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry, err := s.repo.AdjustReservation(ctx, reservationID, newAmount, reason)
	if err != nil {
		return nil, err
	}
	s.checkEntryInvariants(entry)
	log.Printf("level=info component=ledger op=adjust msg=\"reservation adjusted\" account_id=%s old_reservation_id=%s new_reservation_id=%s amount=%d frozen_after=%d reason=%q",
		entry.AccountID, reservationID, entry.ID, newAmount, entry.FrozenAfter, reason)
	return entry, nil
}

// SettlementOf reports how a reservation was settled: its commit or refund
// entry, or store.ErrNotSettled while the freeze is still live. Crash-recovery
// paths use it to decide whether a prior settlement already charged the account.
func (s *Service) SettlementOf(ctx context.Context, reservationID uuid.UUID) (*domain.LedgerEntry, error) {
	return s.repo.FindReservationSettlement(ctx, reservationID)
}

// Refund releases the reservation back to the available balance. Idempotent like
// Commit.
func (s *Service) Refund(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.LedgerEntry, error) {
	entry, err := s.repo.RefundReservation(ctx, reservationID, reason)
	if err != nil {
		return nil, err
	}
	s.checkEntryInvariants(entry)
	log.Printf("level=info component=ledger op=refund msg=\"reservation refunded\" account_id=%s reservation_id=%s amount=%d frozen_after=%d reason=%q",
		entry.AccountID, reservationID, entry.Amount, entry.FrozenAfter, reason)
	return entry, nil
}

// Reverse undoes a prior commit, crediting the balance back. This is the
// privileged chargeback path; it is the only way a reservation ends up with both
// a commit and a refund entry, and every call is logged for audit.
func (s *Service) Reverse(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.LedgerEntry, error) {
	entry, err := s.repo.ReverseCommit(ctx, reservationID, reason)
	if err != nil {
		return nil, err
	}
	s.checkEntryInvariants(entry)
	log.Printf("level=warn component=ledger op=reverse msg=\"commit reversed\" account_id=%s reservation_id=%s amount=%d balance_after=%d reason=%q",
		entry.AccountID, reservationID, entry.Amount, entry.BalanceAfter, reason)
	return entry, nil
}

// Balance returns the caller-facing balance snapshot for an account.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (*domain.BalanceSnapshot, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.BalanceSnapshot{
		AccountID:        account.ID,
		Balance:          account.Balance,
		FrozenBalance:    account.FrozenBalance,
		AvailableBalance: account.Available(),
	}, nil
}

// History returns the account's ledger entries, newest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntries(ctx, accountID, limit, offset)
}

// Reconcile recomputes the expected frozen balance from live orders and compares
// it to the account row. Drift is reported, never corrected here.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (*domain.ReconcileRecord, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	expected, err := s.repo.SumFrozenForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum frozen amounts: %w", err)
	}

	record := &domain.ReconcileRecord{
		AccountID:      accountID,
		ExpectedFrozen: expected,
		ActualFrozen:   account.FrozenBalance,
		Drift:          account.FrozenBalance - expected,
	}
	if record.Drift != 0 {
		log.Printf("level=critical component=ledger op=reconcile msg=\"frozen balance drift detected\" account_id=%s expected_frozen=%d actual_frozen=%d drift=%d",
			accountID, expected, account.FrozenBalance, record.Drift)
	}
	return record, nil
}

// Replay folds the account's full ledger history and compares the result to the
// stored balances. A mismatch means the append-only trail and the account row
// have diverged, which is always a bug.
func (s *Service) Replay(ctx context.Context, accountID uuid.UUID) (*domain.ReplayResult, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListLedgerEntriesForReplay(ctx, accountID)
	if err != nil {
		return nil, err
	}

	balance, frozen := replayEntries(entries)
	result := &domain.ReplayResult{
		AccountID:      accountID,
		Entries:        len(entries),
		ReplayedBal:    balance,
		ReplayedFrozen: frozen,
		StoredBal:      account.Balance,
		StoredFrozen:   account.FrozenBalance,
		Consistent:     balance == account.Balance && frozen == account.FrozenBalance,
	}
	if !result.Consistent {
		log.Printf("level=critical component=ledger op=replay msg=\"ledger history does not reproduce account balances\" account_id=%s replayed_balance=%d stored_balance=%d replayed_frozen=%d stored_frozen=%d",
			accountID, balance, account.Balance, frozen, account.FrozenBalance)
	}
	return result, nil
}

// replayEntries folds ledger entries in creation order. Top-ups happen outside
// the ledger, so balance is allowed to jump upward between entries and the fold
// resynchronizes from the next entry's balance_before. Frozen balance moves only
// through ledger entries and is tracked strictly; a frozen_before that disagrees
// with the running value propagates to the final comparison and fails the replay.
func replayEntries(entries []domain.LedgerEntry) (balance int64, frozen int64) {
	for i, entry := range entries {
		if i == 0 {
			balance = entry.BalanceBefore
			frozen = entry.FrozenBefore
		} else if entry.BalanceBefore > balance {
			balance = entry.BalanceBefore
		}
		switch entry.OperationType {
		case domain.OperationFreeze:
			frozen += entry.Amount
		case domain.OperationCommit:
			balance -= entry.Amount
			frozen -= entry.Amount
		case domain.OperationRefund:
			if entry.FrozenAfter == entry.FrozenBefore {
				// Post-commit reversal: balance comes back, frozen untouched.
				balance += entry.Amount
			} else {
				frozen -= entry.Amount
			}
		}
	}
	return balance, frozen
}

// checkEntryInvariants logs critical alerts when an entry's after-state violates
// the core invariant 0 <= frozen <= balance. The state is not clamped.
func (s *Service) checkEntryInvariants(entry *domain.LedgerEntry) {
	if entry.FrozenAfter < 0 || entry.BalanceAfter < 0 || entry.FrozenAfter > entry.BalanceAfter {
		log.Printf("level=critical component=ledger msg=\"balance invariant violated\" account_id=%s entry_id=%s operation=%s balance_after=%d frozen_after=%d",
			entry.AccountID, entry.ID, entry.OperationType, entry.BalanceAfter, entry.FrozenAfter)
	}
}
