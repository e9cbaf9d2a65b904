/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the service. By defining an interface, we
 * decouple the ledger and orchestrator logic from the specific database
 * implementation, making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// The three ledger mutations (FreezeFunds, CommitReservation, RefundReservation)
// and the operator reversal each execute as a single transaction holding a
// row-level exclusive lock on the account, so concurrent ledger operations on the
// same account are serialized while different accounts never block each other.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	DeactivateAccount(ctx context.Context, accountID uuid.UUID) error

	// Ledger methods. FreezeFunds returns the freeze entry whose ID is the
	// reservation handle; CommitReservation and RefundReservation are idempotent
	// given that handle (a second call fails with ErrAlreadySettled).
	FreezeFunds(ctx context.Context, accountID uuid.UUID, amount int64, reason string, relatedOrderID *uuid.UUID) (*domain.LedgerEntry, error)
	CommitReservation(ctx context.Context, reservationID uuid.UUID) (*domain.LedgerEntry, error)
	RefundReservation(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.LedgerEntry, error)
	// AdjustReservation atomically replaces a live freeze with one for newAmount,
	// releasing the old amount first under the same account lock so only the
	// delta needs available headroom. Returns the replacement freeze entry.
	AdjustReservation(ctx context.Context, reservationID uuid.UUID, newAmount int64, reason string) (*domain.LedgerEntry, error)
	// ReverseCommit undoes a prior commit (provider chargeback); it requires the
	// reservation to be committed and not yet reversed, and credits balance back.
	ReverseCommit(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.LedgerEntry, error)
	// FindReservationSettlement returns the commit or refund child that settled
	// the reservation, or ErrNotSettled while the freeze is still live.
	FindReservationSettlement(ctx context.Context, reservationID uuid.UUID) (*domain.LedgerEntry, error)
	FindLedgerEntryByID(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)
	// ListLedgerEntriesForReplay returns every entry for the account in creation
	// order, oldest first.
	ListLedgerEntriesForReplay(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)

	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	// UpdateOrderReservation repoints the order at a new live freeze entry after a
	// price-delta adjustment or a re-freeze.
	UpdateOrderReservation(ctx context.Context, orderID uuid.UUID, reservationID uuid.UUID, frozenAmount int64) error
	SetOrderDelivered(ctx context.Context, orderID uuid.UUID, code, text string) error
	// MarkOrderTerminal finalizes the order: terminal status, frozen_amount zeroed,
	// charged flag, settlement timestamp.
	MarkOrderTerminal(ctx context.Context, orderID uuid.UUID, status string, charged bool, failureReason *string, settledAt time.Time) error
	AppendOrderMessage(ctx context.Context, msg *domain.OrderMessage) error
	ListOrderMessages(ctx context.Context, orderID uuid.UUID) ([]domain.OrderMessage, error)
	ListOrdersDueForPoll(ctx context.Context, limit int) ([]domain.Order, error)

	// Reconciliation methods
	SumFrozenForAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListAccountIDsWithFrozenBalance(ctx context.Context) ([]uuid.UUID, error)
}
