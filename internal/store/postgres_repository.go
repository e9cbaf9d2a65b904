/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for accounts, orders, order messages, and reconciliation queries. The ledger
 * mutations live in postgres_repository_ledger.go because they carry the row-lock
 * transaction logic.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAlreadySettled      = errors.New("reservation already settled")
	ErrNotSettled          = errors.New("reservation is not settled")
	ErrNotCommitted        = errors.New("reservation has no commit to reverse")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// InsufficientFundsError carries the balance context the caller needs to render
// the failure. errors.Is(err, ErrInsufficientFunds) matches it.
type InsufficientFundsError struct {
	Available int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available=%d required=%d", e.Available, e.Required)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount inserts a new account row with zero balances.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, balance, frozen_balance, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		account.ID,
		account.Balance,
		account.FrozenBalance,
		account.Active,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
}

// FindAccountByID retrieves an account row by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, balance, frozen_balance, active, created_at, updated_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.Balance, &account.FrozenBalance, &account.Active,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DeactivateAccount flags an account inactive. Accounts are never deleted.
func (r *PostgresRepository) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `UPDATE accounts SET active = false, updated_at = NOW() WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// FindLedgerEntryByID retrieves a single ledger entry.
func (r *PostgresRepository) FindLedgerEntryByID(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error) {
	query := ledgerEntrySelect + ` WHERE id = $1`
	var entry domain.LedgerEntry
	err := r.db.QueryRow(ctx, query, entryID).Scan(ledgerEntryScanTargets(&entry)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// FindReservationSettlement retrieves the commit or refund child of a
// reservation, or ErrNotSettled while the freeze is still live. When a commit
// was later reversed, the commit is returned: it is the settlement that decided
// the reservation.
func (r *PostgresRepository) FindReservationSettlement(ctx context.Context, reservationID uuid.UUID) (*domain.LedgerEntry, error) {
	query := ledgerEntrySelect + `
		WHERE reservation_id = $1 AND operation_type IN ('commit', 'refund')
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	var entry domain.LedgerEntry
	err := r.db.QueryRow(ctx, query, reservationID).Scan(ledgerEntryScanTargets(&entry)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotSettled
		}
		return nil, err
	}
	return &entry, nil
}

// ListLedgerEntries retrieves the account's ledger history, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	query := ledgerEntrySelect + `
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// ListLedgerEntriesForReplay retrieves every entry for the account, oldest first.
func (r *PostgresRepository) ListLedgerEntriesForReplay(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := ledgerEntrySelect + `
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// CreateOrder inserts a new order record into the database.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id,
			account_id,
			kind,
			provider_name,
			provider_order_ref,
			service_code,
			country_code,
			phone,
			price,
			frozen_amount,
			charged,
			reservation_id,
			status,
			expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		order.ID,
		order.AccountID,
		order.Kind,
		order.ProviderName,
		order.ProviderOrderRef,
		order.ServiceCode,
		order.CountryCode,
		order.Phone,
		order.Price,
		order.FrozenAmount,
		order.Charged,
		order.ReservationID,
		order.Status,
		order.ExpiresAt,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
}

// FindOrderByID retrieves an order by its ID.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	query := orderSelect + ` WHERE id = $1`
	var order domain.Order
	err := r.db.QueryRow(ctx, query, orderID).Scan(orderScanTargets(&order)...)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrderReservation repoints the order at a new freeze entry and records the
// currently frozen amount.
func (r *PostgresRepository) UpdateOrderReservation(ctx context.Context, orderID uuid.UUID, reservationID uuid.UUID, frozenAmount int64) error {
	query := `UPDATE orders SET reservation_id = $1, frozen_amount = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.Exec(ctx, query, reservationID, frozenAmount, orderID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetOrderDelivered stores the delivered SMS payload on the order row.
func (r *PostgresRepository) SetOrderDelivered(ctx context.Context, orderID uuid.UUID, code, text string) error {
	query := `UPDATE orders SET delivered_code = $1, delivered_text = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.Exec(ctx, query, code, text, orderID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkOrderTerminal finalizes an order. The matching ledger entry must already be
// written; callers retry this until it succeeds so no terminal order is left with
// frozen funds.
func (r *PostgresRepository) MarkOrderTerminal(ctx context.Context, orderID uuid.UUID, status string, charged bool, failureReason *string, settledAt time.Time) error {
	query := `
		UPDATE orders
		SET status = $1,
		    charged = $2,
		    frozen_amount = 0,
		    failure_reason = COALESCE($3, failure_reason),
		    settled_at = $4,
		    updated_at = NOW()
		WHERE id = $5
	`
	result, err := r.db.Exec(ctx, query, status, charged, failureReason, settledAt, orderID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// AppendOrderMessage inserts one delivered SMS into a rental's message history.
func (r *PostgresRepository) AppendOrderMessage(ctx context.Context, msg *domain.OrderMessage) error {
	query := `
		INSERT INTO order_messages (id, order_id, code, text, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, msg.ID, msg.OrderID, msg.Code, msg.Text, msg.ReceivedAt)
	return err
}

// ListOrderMessages retrieves a rental's message history, oldest first.
func (r *PostgresRepository) ListOrderMessages(ctx context.Context, orderID uuid.UUID) ([]domain.OrderMessage, error) {
	query := `
		SELECT id, order_id, code, text, received_at
		FROM order_messages
		WHERE order_id = $1
		ORDER BY received_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.OrderMessage
	for rows.Next() {
		var msg domain.OrderMessage
		if err := rows.Scan(&msg.ID, &msg.OrderID, &msg.Code, &msg.Text, &msg.ReceivedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListOrdersDueForPoll retrieves non-terminal orders for the settlement poller,
// oldest first so long-waiting orders are not starved.
func (r *PostgresRepository) ListOrdersDueForPoll(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := orderSelect + `
		WHERE status NOT IN ('received', 'timeout', 'cancelled', 'expired')
		ORDER BY updated_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(orderScanTargets(&order)...); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// SumFrozenForAccount recomputes the expected frozen balance from live orders.
func (r *PostgresRepository) SumFrozenForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(frozen_amount), 0)
		FROM orders
		WHERE account_id = $1
		  AND status NOT IN ('received', 'timeout', 'cancelled', 'expired')
	`
	var sum int64
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// ListAccountIDsWithFrozenBalance returns accounts the reconciliation job must check.
func (r *PostgresRepository) ListAccountIDsWithFrozenBalance(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM accounts WHERE frozen_balance > 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const ledgerEntrySelect = `
	SELECT id, account_id, operation_type, amount,
	       balance_before, balance_after, frozen_before, frozen_after,
	       reservation_id, related_order_id, reason, created_at
	FROM ledger_entries`

func ledgerEntryScanTargets(e *domain.LedgerEntry) []interface{} {
	return []interface{}{
		&e.ID, &e.AccountID, &e.OperationType, &e.Amount,
		&e.BalanceBefore, &e.BalanceAfter, &e.FrozenBefore, &e.FrozenAfter,
		&e.ReservationID, &e.RelatedOrderID, &e.Reason, &e.CreatedAt,
	}
}

func scanLedgerEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(ledgerEntryScanTargets(&entry)...); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const orderSelect = `
	SELECT id, account_id, kind, provider_name, provider_order_ref,
	       service_code, country_code, phone, price, frozen_amount, charged,
	       reservation_id, delivered_code, delivered_text, status, failure_reason,
	       created_at, updated_at, expires_at, settled_at
	FROM orders`

func orderScanTargets(o *domain.Order) []interface{} {
	return []interface{}{
		&o.ID, &o.AccountID, &o.Kind, &o.ProviderName, &o.ProviderOrderRef,
		&o.ServiceCode, &o.CountryCode, &o.Phone, &o.Price, &o.FrozenAmount, &o.Charged,
		&o.ReservationID, &o.DeliveredCode, &o.DeliveredText, &o.Status, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt, &o.ExpiresAt, &o.SettledAt,
	}
}
