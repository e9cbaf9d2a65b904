/**
 * @description
 * This file contains the HTTP handlers for the service's API endpoints. Handlers
 * are responsible for parsing incoming requests, calling the appropriate methods
 * on the application and ledger services, and writing the HTTP response. They act
 * as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/ledger, internal/provider, internal/store:
 *   For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/app"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
	"github.com/buba6c/onesms-v1-sub002/internal/ledger"
	"github.com/buba6c/onesms-v1-sub002/internal/provider"
	"github.com/buba6c/onesms-v1-sub002/internal/store"
)

// Handlers holds the services the HTTP layer dispatches to.
type Handlers struct {
	service       *app.Service
	ledger        *ledger.Service
	rateLimiter   *app.RedisPurchaseRateLimiter
	purchaseLimit int
}

// NewHandlers creates a new instance of Handlers. rateLimiter may be nil when
// Redis is not configured; purchaseLimit is purchases per account per minute.
func NewHandlers(service *app.Service, ledgerSvc *ledger.Service, rateLimiter *app.RedisPurchaseRateLimiter, purchaseLimit int) *Handlers {
	return &Handlers{
		service:       service,
		ledger:        ledgerSvc,
		rateLimiter:   rateLimiter,
		purchaseLimit: purchaseLimit,
	}
}

// PurchaseHandler handles requests to buy a number.
func (h *Handlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return
	}

	if h.rateLimiter != nil && h.purchaseLimit > 0 {
		count, retryAfter, limitErr := h.rateLimiter.ConsumeRateLimit(r.Context(), "purchase", accountID.String(), h.purchaseLimit, time.Minute)
		if limitErr != nil {
			log.Printf("level=warn component=api endpoint=purchase msg=\"rate limiter unavailable; allowing request\" account_id=%s err=%v", accountID, limitErr)
		} else if count > h.purchaseLimit {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many purchase attempts. Please wait and try again.")
			return
		}
	}

	var req domain.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// The authenticated account always pays; the body cannot spend for others.
	req.AccountID = accountID

	result, err := h.service.Purchase(r.Context(), req)
	if err != nil {
		h.writePurchaseError(w, accountID, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) writePurchaseError(w http.ResponseWriter, accountID uuid.UUID, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidPurchase), errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, provider.ErrUnknownProvider):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient funds")
	case errors.Is(err, ledger.ErrAccountInactive):
		h.writeError(w, http.StatusForbidden, "Account is deactivated")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, app.ErrNoProviderStock):
		h.writeError(w, http.StatusConflict, "No provider has stock for the requested service")
	default:
		log.Printf("level=error component=api endpoint=purchase msg=\"purchase failed\" account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Purchase failed")
	}
}

// OrderStatusHandler returns the current order state, polling the provider
// first so the caller always sees a fresh verdict.
func (h *Handlers) OrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	result, err := h.service.PollAndSettle(r.Context(), order.ID)
	if err != nil {
		// The provider being unreachable doesn't hide the stored state.
		log.Printf("level=warn component=api endpoint=order_status msg=\"poll failed; serving stored state\" order_id=%s err=%v", order.ID, err)
		result, err = h.service.GetOrderStatus(r.Context(), order.ID)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "Unable to load order")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, result)
}

// OrderMessagesHandler returns the SMS history for a rental order.
func (h *Handlers) OrderMessagesHandler(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	messages, err := h.service.ListOrderMessages(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Unable to load messages")
		return
	}
	if messages == nil {
		messages = []domain.OrderMessage{}
	}
	h.writeJSON(w, http.StatusOK, messages)
}

// CancelOrderHandler abandons an open order.
func (h *Handlers) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	result, err := h.service.CancelOrder(r.Context(), order.ID)
	if err != nil {
		if errors.Is(err, app.ErrOrderAlreadySettled) {
			h.writeError(w, http.StatusConflict, "Order is already settled")
			return
		}
		log.Printf("level=error component=api endpoint=cancel_order msg=\"cancel failed\" order_id=%s err=%v", order.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Cancel failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// BalanceHandler returns the authenticated account's balance snapshot.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	snapshot, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Unable to load balance")
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// LedgerHandler returns the account's ledger entries, newest first.
func (h *Handlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 1<<30)

	entries, err := h.ledger.History(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Unable to load ledger history")
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// ReconcileHandler triggers a reconciliation run. Internal surface only.
func (h *Handlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0, 500)
	report, err := h.service.ReconcileFrozenBalances(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=reconcile msg=\"reconcile run failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Reconcile run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// ReplayHandler recomputes one account's balances from its ledger history.
// Internal surface only.
func (h *Handlers) ReplayHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}
	result, replayErr := h.service.ReplayAccount(r.Context(), accountID)
	if replayErr != nil {
		if errors.Is(replayErr, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Replay failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ReversalHandler applies a post-commit refund. Internal surface only.
func (h *Handlers) ReversalHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ReversalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReservationID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "reservation_id is required")
		return
	}

	entry, err := h.service.ReverseCommit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrReservationNotFound):
			h.writeError(w, http.StatusNotFound, "Reservation not found")
		case errors.Is(err, store.ErrNotCommitted):
			h.writeError(w, http.StatusConflict, "Reservation is not committed")
		case errors.Is(err, store.ErrAlreadySettled):
			h.writeError(w, http.StatusConflict, "Reservation is already reversed")
		default:
			log.Printf("level=error component=api endpoint=reversal msg=\"reversal failed\" reservation_id=%s err=%v", req.ReservationID, err)
			h.writeError(w, http.StatusInternalServerError, "Reversal failed")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// CreateAccountHandler provisions a new account. Internal surface only; customer
// sign-up lives outside this service.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpeningBalance int64 `json:"opening_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := h.ledger.CreateAccount(r.Context(), req.OpeningBalance)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			h.writeError(w, http.StatusBadRequest, "opening_balance must not be negative")
			return
		}
		log.Printf("level=error component=api endpoint=create_account msg=\"account creation failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Account creation failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// DeactivateAccountHandler blocks new freezes on an account. Internal surface only.
func (h *Handlers) DeactivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}
	if err := h.ledger.DeactivateAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=deactivate_account msg=\"deactivation failed\" account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Deactivation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ownedOrder resolves the {orderID} URL param and verifies the order belongs to
// the authenticated account. A foreign order reads as not found so IDs cannot
// be probed.
func (h *Handlers) ownedOrder(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID")
		return nil, false
	}
	order, err := h.service.FindAccountOrder(r.Context(), orderID, accountID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "Order not found")
			return nil, false
		}
		h.writeError(w, http.StatusInternalServerError, "Unable to load order")
		return nil, false
	}
	return order, true
}

// ownedAccount resolves the {accountID} URL param and verifies it matches the
// authenticated account.
func (h *Handlers) ownedAccount(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	authID, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return uuid.Nil, false
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return uuid.Nil, false
	}
	if accountID != authID {
		h.writeError(w, http.StatusNotFound, "Account not found")
		return uuid.Nil, false
	}
	return accountID, true
}

func queryInt(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
