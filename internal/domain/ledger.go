/**
 * @description
 * This file defines the ledger-side domain models: the per-user credit account and
 * the append-only ledger entry rows that record every freeze, commit and refund.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest credit unit to avoid
 *   floating-point inaccuracies with financial data.
 * - Ledger entries are never updated or deleted after insertion; replaying them in
 *   creation order must reproduce the account's current balances exactly.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry operation types.
const (
	OperationFreeze = "freeze"
	OperationCommit = "commit"
	OperationRefund = "refund"
)

// Account represents a user's prepaid credit balance. Maps to the `accounts` table.
// Invariant: 0 <= FrozenBalance <= Balance.
type Account struct {
	ID            uuid.UUID `json:"id"`
	Balance       int64     `json:"balance"`        // total credits, smallest unit
	FrozenBalance int64     `json:"frozen_balance"` // reserved against in-flight orders
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available returns the spendable part of the balance.
func (a *Account) Available() int64 {
	return a.Balance - a.FrozenBalance
}

// LedgerEntry is one append-only row in the audit trail. A `freeze` entry's ID is
// the reservation handle later passed to Commit or Refund; commit/refund rows point
// back to their freeze via ReservationID.
type LedgerEntry struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	OperationType  string     `json:"operation_type"` // freeze | commit | refund
	Amount         int64      `json:"amount"`         // positive magnitude
	BalanceBefore  int64      `json:"balance_before"`
	BalanceAfter   int64      `json:"balance_after"`
	FrozenBefore   int64      `json:"frozen_before"`
	FrozenAfter    int64      `json:"frozen_after"`
	ReservationID  *uuid.UUID `json:"reservation_id,omitempty"` // parent freeze for commit/refund
	RelatedOrderID *uuid.UUID `json:"related_order_id,omitempty"`
	Reason         string     `json:"reason"`
	CreatedAt      time.Time  `json:"created_at"`
}

// BalanceSnapshot is the caller-facing view of an account's funds.
type BalanceSnapshot struct {
	AccountID        uuid.UUID `json:"account_id"`
	Balance          int64     `json:"balance"`
	FrozenBalance    int64     `json:"frozen_balance"`
	AvailableBalance int64     `json:"available_balance"`
}

// ReconcileRecord reports frozen-balance drift for one account. Drift is
// ActualFrozen - ExpectedFrozen; it is reported, never auto-corrected.
type ReconcileRecord struct {
	AccountID      uuid.UUID `json:"account_id"`
	ExpectedFrozen int64     `json:"expected_frozen"`
	ActualFrozen   int64     `json:"actual_frozen"`
	Drift          int64     `json:"drift"`
}

// ReconcileReport is the output of a reconciliation run.
type ReconcileReport struct {
	CheckedAccounts int               `json:"checked_accounts"`
	Drifting        []ReconcileRecord `json:"drifting"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// ReplayResult reports whether folding an account's ledger history reproduces the
// stored balances.
type ReplayResult struct {
	AccountID      uuid.UUID `json:"account_id"`
	Entries        int       `json:"entries"`
	ReplayedBal    int64     `json:"replayed_balance"`
	ReplayedFrozen int64     `json:"replayed_frozen"`
	StoredBal      int64     `json:"stored_balance"`
	StoredFrozen   int64     `json:"stored_frozen"`
	Consistent     bool      `json:"consistent"`
}
