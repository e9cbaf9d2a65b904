/**
 * @description
 * This file defines the order domain models and the API request/response DTOs for
 * the purchase flow. An order is either an activation (one-time SMS code) or a
 * rental (timed lease); both share one state shape and are settled against the
 * ledger exactly once.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order kinds.
const (
	OrderKindActivation = "activation"
	OrderKindRental     = "rental"
)

// Order statuses. Activations move pending -> waiting -> received|timeout|cancelled.
// Rentals move pending -> active -> expired|cancelled, where expired is the
// successful terminal state (rented time was consumed).
const (
	OrderStatusPending   = "pending"
	OrderStatusWaiting   = "waiting"
	OrderStatusActive    = "active"
	OrderStatusReceived  = "received"
	OrderStatusTimeout   = "timeout"
	OrderStatusCancelled = "cancelled"
	OrderStatusExpired   = "expired"
)

// TerminalOrderStatuses lists the states an order can never leave.
var TerminalOrderStatuses = []string{
	OrderStatusReceived,
	OrderStatusTimeout,
	OrderStatusCancelled,
	OrderStatusExpired,
}

// IsTerminalOrderStatus reports whether status is terminal.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusReceived, OrderStatusTimeout, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Order represents one purchased number. Maps to the `orders` table. Orders are
// created only after a provider confirms acquisition, mutated only by settlement
// transitions, and never deleted.
type Order struct {
	ID               uuid.UUID  `json:"id"`
	AccountID        uuid.UUID  `json:"account_id"`
	Kind             string     `json:"kind"` // activation | rental
	ProviderName     string     `json:"provider_name"`
	ProviderOrderRef string     `json:"provider_order_ref"`
	ServiceCode      string     `json:"service_code"`
	CountryCode      string     `json:"country_code"`
	Phone            string     `json:"phone"`
	Price            int64      `json:"price"`         // amount frozen at purchase
	FrozenAmount     int64      `json:"frozen_amount"` // mirrors Price until settled, then 0
	Charged          bool       `json:"charged"`
	ReservationID    uuid.UUID  `json:"reservation_id"` // live freeze entry backing this order
	DeliveredCode    *string    `json:"delivered_code,omitempty"`
	DeliveredText    *string    `json:"delivered_text,omitempty"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

// OrderMessage is one SMS delivered to a rental number. Activations keep only the
// first delivery on the order row; rentals append every message here.
type OrderMessage struct {
	ID         uuid.UUID `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	Code       string    `json:"code"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// PurchaseRequest is the DTO for incoming purchase API requests.
type PurchaseRequest struct {
	AccountID        uuid.UUID `json:"account_id"`
	Kind             string    `json:"kind"` // activation (default) | rental
	ServiceCode      string    `json:"service_code"`
	CountryCode      string    `json:"country_code"`
	OperatorHint     string    `json:"operator_hint,omitempty"`
	PriceEstimate    int64     `json:"price_estimate"`
	ProviderPriority []string  `json:"provider_priority"`
	RentalMinutes    int       `json:"rental_minutes,omitempty"`
}

// PurchaseResult is returned to the caller after a successful purchase.
type PurchaseResult struct {
	OrderID  uuid.UUID `json:"order_id"`
	Phone    string    `json:"phone"`
	Price    int64     `json:"price"`
	Provider string    `json:"provider"`
	Status   string    `json:"status"`
}

// OrderStatusResult is the caller-facing order view.
type OrderStatusResult struct {
	OrderID       uuid.UUID  `json:"order_id"`
	Status        string     `json:"status"`
	Phone         string     `json:"phone"`
	Price         int64      `json:"price"`
	Charged       bool       `json:"charged"`
	DeliveredCode *string    `json:"delivered_code,omitempty"`
	DeliveredText *string    `json:"delivered_text,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

// ReversalRequest is the operator DTO for the audited post-commit refund path.
type ReversalRequest struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	Reason        string    `json:"reason"`
}
