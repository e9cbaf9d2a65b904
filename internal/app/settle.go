/**
 * @description
 * This file contains the settlement half of the orchestrator: polling providers
 * for order outcomes and converting those outcomes into exactly one ledger
 * settlement per order.
 *
 * Key features:
 * - A grace window after purchase during which provider-side "cancelled" or
 *   "timeout" answers are not trusted, because several upstreams briefly report
 *   freshly created orders as missing.
 * - Terminal transitions retry the ledger settlement with a short backoff before
 *   giving up; an order is marked terminal only after its reservation settled.
 * - A recovery path for orders whose reservation was refunded out-of-band while
 *   the delivery still succeeded: the price is frozen again and committed so the
 *   account is charged for what it received.
 * - Interrupted settlements resume idempotently: a reservation found already
 *   committed is never charged again, and a failure verdict cannot stack an
 *   unfunded refund state on top of a prior commit.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
	"github.com/buba6c/onesms-v1-sub002/internal/provider"
	"github.com/buba6c/onesms-v1-sub002/internal/store"
)

// ErrOrderAlreadySettled is returned when a caller tries to act on a terminal order.
var ErrOrderAlreadySettled = errors.New("order is already settled")

// errReservationCharged signals that a refund attempt found the reservation
// already committed: an interrupted settlement charged the account before the
// order could be marked terminal.
var errReservationCharged = errors.New("reservation already committed")

// PollAndSettle polls the provider for one order and applies any resulting state
// transition. Calling it on a terminal order is a no-op returning the stored
// state, so concurrent pollers and user-triggered polls cannot double-settle.
func (s *Service) PollAndSettle(ctx context.Context, orderID uuid.UUID) (*domain.OrderStatusResult, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalOrderStatus(order.Status) {
		return s.GetOrderStatus(ctx, orderID)
	}

	adapter, err := s.providers.Get(order.ProviderName)
	if err != nil {
		return nil, err
	}

	poll, err := adapter.PollStatus(ctx, order.ProviderOrderRef)
	if err != nil {
		// Provider unreachable. The order stays as-is and the next poll retries.
		return nil, fmt.Errorf("provider poll failed: %w", err)
	}

	switch poll.State {
	case provider.PollDelivered:
		if err := s.handleDelivered(ctx, order, poll.Code, poll.Text); err != nil {
			return nil, err
		}
	case provider.PollWaiting:
		if err := s.handleWaiting(ctx, order); err != nil {
			return nil, err
		}
	case provider.PollTimeout:
		if err := s.handleProviderTerminal(ctx, order, domain.OrderStatusTimeout, "provider reported timeout"); err != nil {
			return nil, err
		}
	case provider.PollCancelled:
		if err := s.handleProviderTerminal(ctx, order, domain.OrderStatusCancelled, "provider reported cancellation"); err != nil {
			return nil, err
		}
	}

	return s.GetOrderStatus(ctx, orderID)
}

// handleDelivered processes a code delivery. Activations settle immediately;
// rentals record the message and stay active until their lease runs out.
func (s *Service) handleDelivered(ctx context.Context, order *domain.Order, code, text string) error {
	if order.Kind == domain.OrderKindRental {
		msg := &domain.OrderMessage{
			ID:         uuid.New(),
			OrderID:    order.ID,
			Code:       code,
			Text:       text,
			ReceivedAt: s.now(),
		}
		if err := s.repo.AppendOrderMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to append rental message: %w", err)
		}
		log.Printf("level=info component=orchestrator op=settle msg=\"rental message recorded\" order_id=%s", order.ID)
		// A rental whose lease already ran out settles as expired (success).
		if !s.now().Before(order.ExpiresAt) {
			return s.settleSuccess(ctx, order, domain.OrderStatusExpired)
		}
		return nil
	}

	if err := s.repo.SetOrderDelivered(ctx, order.ID, code, text); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return s.settleSuccess(ctx, order, domain.OrderStatusReceived)
}

// handleWaiting checks local expiry. Providers are not trusted to time orders
// out on our schedule.
func (s *Service) handleWaiting(ctx context.Context, order *domain.Order) error {
	if s.now().Before(order.ExpiresAt) {
		return nil
	}
	if order.Kind == domain.OrderKindRental {
		// Lease consumed in full. The rental succeeded.
		return s.settleSuccess(ctx, order, domain.OrderStatusExpired)
	}
	return s.settleFailure(ctx, order, domain.OrderStatusTimeout, "activation window elapsed without delivery")
}

// handleProviderTerminal applies a provider-reported timeout or cancellation,
// unless the order is still inside the grace window. Several upstreams answer
// "no such order" or "cancelled" for a few minutes right after purchase; those
// answers are ignored until the window has passed.
func (s *Service) handleProviderTerminal(ctx context.Context, order *domain.Order, status, reason string) error {
	if s.withinGraceWindow(order) {
		log.Printf("level=info component=orchestrator op=settle msg=\"ignoring early provider verdict inside grace window\" order_id=%s provider=%s verdict=%s age=%s",
			order.ID, order.ProviderName, status, s.now().Sub(order.CreatedAt).Round(time.Second))
		return nil
	}
	if order.Kind == domain.OrderKindRental && status == domain.OrderStatusTimeout {
		// A rental the provider expired after the lease began still settles as
		// consumed time.
		return s.settleSuccess(ctx, order, domain.OrderStatusExpired)
	}
	return s.settleFailure(ctx, order, status, reason)
}

func (s *Service) withinGraceWindow(order *domain.Order) bool {
	return s.now().Sub(order.CreatedAt) < s.cfg.GraceWindow
}

// chargedStatus is the success terminal state for an order of the given kind.
func chargedStatus(kind string) string {
	if kind == domain.OrderKindRental {
		return domain.OrderStatusExpired
	}
	return domain.OrderStatusReceived
}

// settleSuccess commits the order's reservation and marks the order terminal
// with charged=true. The ledger settles first; if it cannot, the order stays
// open and the next poll retries.
func (s *Service) settleSuccess(ctx context.Context, order *domain.Order, status string) error {
	if err := s.commitWithRecovery(ctx, order); err != nil {
		return err
	}
	return s.finalizeCharged(ctx, order, status)
}

// finalizeCharged marks a committed order terminal and publishes the event.
func (s *Service) finalizeCharged(ctx context.Context, order *domain.Order, status string) error {
	if err := s.markTerminalWithRetry(ctx, order.ID, status, true, nil); err != nil {
		log.Printf("level=critical component=orchestrator op=settle msg=\"reservation committed but order not marked terminal\" order_id=%s reservation_id=%s err=%v",
			order.ID, order.ReservationID, err)
		return err
	}
	order.Status = status
	order.Charged = true
	s.publishOrderEvent(ctx, "order.settled."+status, order)
	log.Printf("level=info component=orchestrator op=settle msg=\"order settled charged\" order_id=%s status=%s price=%d", order.ID, status, order.Price)
	return nil
}

// settleFailure refunds the order's reservation and marks the order terminal
// with charged=false. When the refund finds the reservation already committed,
// the account was charged by an interrupted settlement; the order then finishes
// as that charged settlement rather than a refunded failure, so the terminal
// state always matches the ledger.
func (s *Service) settleFailure(ctx context.Context, order *domain.Order, status, reason string) error {
	if err := s.refundWithRetry(ctx, order, reason); err != nil {
		if errors.Is(err, errReservationCharged) {
			log.Printf("level=warn component=orchestrator op=settle msg=\"failure verdict superseded by prior commit; finishing charged settlement\" order_id=%s reservation_id=%s verdict=%s",
				order.ID, order.ReservationID, status)
			return s.finalizeCharged(ctx, order, chargedStatus(order.Kind))
		}
		return err
	}
	if err := s.markTerminalWithRetry(ctx, order.ID, status, false, &reason); err != nil {
		log.Printf("level=critical component=orchestrator op=settle msg=\"reservation refunded but order not marked terminal\" order_id=%s reservation_id=%s err=%v",
			order.ID, order.ReservationID, err)
		return err
	}
	order.Status = status
	order.Charged = false
	order.FailureReason = &reason
	s.publishOrderEvent(ctx, "order.settled."+status, order)
	log.Printf("level=info component=orchestrator op=settle msg=\"order settled refunded\" order_id=%s status=%s price=%d reason=%q", order.ID, status, order.Price, reason)
	return nil
}

// commitWithRecovery commits the reservation, retrying transient failures. An
// already-settled reservation is disambiguated by its settlement kind: a prior
// commit means an interrupted settlement already charged the account and counts
// as done, while a prior refund means the funds were released out-of-band and
// the price must be frozen again so the delivery is still paid for. A retry
// never charges the account more than once per order.
func (s *Service) commitWithRecovery(ctx context.Context, order *domain.Order) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.SettleRetryAttempts; attempt++ {
		_, lastErr = s.ledger.Commit(ctx, order.ReservationID)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, store.ErrAlreadySettled) {
			prior, lookupErr := s.ledger.SettlementOf(ctx, order.ReservationID)
			if lookupErr != nil {
				return fmt.Errorf("reservation %s settled but settlement lookup failed: %w", order.ReservationID, lookupErr)
			}
			if prior.OperationType == domain.OperationCommit {
				log.Printf("level=info component=orchestrator op=settle msg=\"reservation already committed; resuming interrupted settlement\" order_id=%s reservation_id=%s",
					order.ID, order.ReservationID)
				return nil
			}
			return s.rechargeAfterExternalSettle(ctx, order)
		}
		if errors.Is(lastErr, store.ErrReservationNotFound) {
			return lastErr
		}
		if attempt == s.cfg.SettleRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.SettleRetryBackoff):
		}
	}
	return fmt.Errorf("failed to commit reservation %s: %w", order.ReservationID, lastErr)
}

// rechargeAfterExternalSettle handles the case where the order's reservation was
// settled outside the normal flow (operator refund, crash recovery) while the
// delivery still succeeded. The account owes the price, so it is frozen again
// and committed, and the order is repointed at the new reservation.
func (s *Service) rechargeAfterExternalSettle(ctx context.Context, order *domain.Order) error {
	log.Printf("level=warn component=orchestrator op=settle msg=\"reservation already settled; recharging for delivered order\" order_id=%s reservation_id=%s price=%d",
		order.ID, order.ReservationID, order.Price)

	entry, err := s.ledger.Freeze(ctx, order.AccountID, order.Price, "recharge for delivered order", &order.ID)
	if err != nil {
		return fmt.Errorf("failed to re-freeze for delivered order %s: %w", order.ID, err)
	}
	if err := s.repo.UpdateOrderReservation(ctx, order.ID, entry.ID, order.Price); err != nil {
		if _, rbErr := s.ledger.Refund(ctx, entry.ID, "recharge rollback"); rbErr != nil {
			log.Printf("level=critical component=orchestrator op=settle msg=\"recharge rollback failed\" order_id=%s reservation_id=%s err=%v", order.ID, entry.ID, rbErr)
		}
		return fmt.Errorf("failed to repoint order at recharge reservation: %w", err)
	}
	order.ReservationID = entry.ID
	if _, err := s.ledger.Commit(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to commit recharge reservation: %w", err)
	}
	return nil
}

// refundWithRetry refunds the reservation, retrying transient failures. A prior
// refund counts as done; a prior commit is reported as errReservationCharged so
// the caller can finish the interrupted charged settlement instead of stacking
// an unfunded failure state on top of it.
func (s *Service) refundWithRetry(ctx context.Context, order *domain.Order, reason string) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.SettleRetryAttempts; attempt++ {
		_, lastErr = s.ledger.Refund(ctx, order.ReservationID, reason)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, store.ErrAlreadySettled) {
			prior, lookupErr := s.ledger.SettlementOf(ctx, order.ReservationID)
			if lookupErr != nil {
				return fmt.Errorf("reservation %s settled but settlement lookup failed: %w", order.ReservationID, lookupErr)
			}
			if prior.OperationType == domain.OperationCommit {
				return errReservationCharged
			}
			log.Printf("level=warn component=orchestrator op=settle msg=\"reservation already refunded before refund\" order_id=%s reservation_id=%s", order.ID, order.ReservationID)
			return nil
		}
		if errors.Is(lastErr, store.ErrReservationNotFound) {
			return lastErr
		}
		if attempt == s.cfg.SettleRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.SettleRetryBackoff):
		}
	}
	return fmt.Errorf("failed to refund reservation %s: %w", order.ReservationID, lastErr)
}

func (s *Service) markTerminalWithRetry(ctx context.Context, orderID uuid.UUID, status string, charged bool, failureReason *string) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.SettleRetryAttempts; attempt++ {
		lastErr = s.repo.MarkOrderTerminal(ctx, orderID, status, charged, failureReason, s.now())
		if lastErr == nil {
			return nil
		}
		if attempt == s.cfg.SettleRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.SettleRetryBackoff):
		}
	}
	return lastErr
}

// CancelOrder is the user-initiated abandon path: best-effort provider cancel,
// refund, terminal cancelled state. Rentals past their lease settle as expired
// instead, since the time was consumed.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.OrderStatusResult, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalOrderStatus(order.Status) {
		return nil, ErrOrderAlreadySettled
	}
	if order.Kind == domain.OrderKindRental && !s.now().Before(order.ExpiresAt) {
		if err := s.settleSuccess(ctx, order, domain.OrderStatusExpired); err != nil {
			return nil, err
		}
		return s.GetOrderStatus(ctx, orderID)
	}

	if adapter, adapterErr := s.providers.Get(order.ProviderName); adapterErr == nil {
		if cancelErr := adapter.Cancel(ctx, order.ProviderOrderRef); cancelErr != nil {
			log.Printf("level=warn component=orchestrator op=cancel msg=\"best-effort provider cancel failed\" order_id=%s provider=%s err=%v", order.ID, order.ProviderName, cancelErr)
		}
	}
	if err := s.settleFailure(ctx, order, domain.OrderStatusCancelled, "cancelled by account holder"); err != nil {
		return nil, err
	}
	return s.GetOrderStatus(ctx, orderID)
}

// SettleDueOrders polls every non-terminal order, oldest activity first. It is
// the body of the background settlement loop and of the internal trigger route.
func (s *Service) SettleDueOrders(ctx context.Context, limit int) (polled, settled, failed int) {
	orders, err := s.repo.ListOrdersDueForPoll(ctx, limit)
	if err != nil {
		log.Printf("level=error component=orchestrator op=settle_sweep msg=\"failed to list due orders\" err=%v", err)
		return 0, 0, 0
	}
	for _, order := range orders {
		result, pollErr := s.PollAndSettle(ctx, order.ID)
		polled++
		if pollErr != nil {
			failed++
			log.Printf("level=warn component=orchestrator op=settle_sweep msg=\"poll failed\" order_id=%s provider=%s err=%v", order.ID, order.ProviderName, pollErr)
			continue
		}
		if domain.IsTerminalOrderStatus(result.Status) {
			settled++
		}
	}
	if polled > 0 {
		log.Printf("level=info component=orchestrator op=settle_sweep msg=\"sweep complete\" polled=%d settled=%d failed=%d", polled, settled, failed)
	}
	return polled, settled, failed
}
