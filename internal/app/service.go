/**
 * @description
 * This file contains the core business logic for the purchase orchestrator. The
 * `Service` struct coordinates the ledger, the order store, the provider
 * registry, and the message broker.
 *
 * Key features:
 * - Implements the freeze-first purchase flow: funds are reserved before any
 *   provider is contacted, so a crash at any point leaves money frozen, never lost.
 * - Walks the caller's provider priority list and falls through on stock exhaustion.
 * - Settles price deltas at purchase time when the provider's actual cost differs
 *   from the caller's estimate.
 * - Publishes order lifecycle events to RabbitMQ for asynchronous consumers.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store, internal/ledger, internal/provider: Core packages.
 * - pkg/rabbitmq: For event publishing.
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
	"github.com/buba6c/onesms-v1-sub002/internal/ledger"
	"github.com/buba6c/onesms-v1-sub002/internal/provider"
	"github.com/buba6c/onesms-v1-sub002/internal/store"
	"github.com/buba6c/onesms-v1-sub002/pkg/rabbitmq"
)

var (
	// ErrNoProviderStock is returned when every provider in the priority list
	// reported stock exhaustion.
	ErrNoProviderStock = errors.New("no provider has stock for the requested service")
	// ErrInvalidPurchase is returned for malformed purchase requests.
	ErrInvalidPurchase = errors.New("invalid purchase request")
)

// Config carries the orchestrator's tunables, bound from the environment at startup.
type Config struct {
	GraceWindow         time.Duration
	ActivationTTL       time.Duration
	RentalDefault       time.Duration
	SettleRetryAttempts int
	SettleRetryBackoff  time.Duration
	ProviderPriority    []string
}

// Service provides the core business logic for purchases and settlement.
type Service struct {
	repo          store.Repository
	ledger        *ledger.Service
	providers     *provider.Registry
	eventProducer rabbitmq.Publisher
	cfg           Config

	// now is swappable so grace-window arithmetic is testable.
	now func() time.Time
}

// NewService creates a new orchestrator service instance.
func NewService(repo store.Repository, ledgerSvc *ledger.Service, providers *provider.Registry, producer rabbitmq.Publisher, cfg Config) *Service {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 3 * time.Minute
	}
	if cfg.ActivationTTL <= 0 {
		cfg.ActivationTTL = 20 * time.Minute
	}
	if cfg.RentalDefault <= 0 {
		cfg.RentalDefault = 4 * time.Hour
	}
	if cfg.SettleRetryAttempts <= 0 {
		cfg.SettleRetryAttempts = 3
	}
	if cfg.SettleRetryBackoff <= 0 {
		cfg.SettleRetryBackoff = 150 * time.Millisecond
	}
	return &Service{
		repo:          repo,
		ledger:        ledgerSvc,
		providers:     providers,
		eventProducer: producer,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Purchase acquires a number for the caller. Funds are frozen up front against
// the price estimate, then providers are tried in priority order; the first
// provider that confirms wins. A provider whose actual cost differs from the
// estimate has the reservation adjusted before the order is created.
func (s *Service) Purchase(ctx context.Context, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	if req.ServiceCode == "" || req.CountryCode == "" {
		return nil, fmt.Errorf("%w: service_code and country_code are required", ErrInvalidPurchase)
	}
	if req.PriceEstimate <= 0 {
		return nil, fmt.Errorf("%w: price_estimate must be positive", ErrInvalidPurchase)
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.OrderKindActivation
	}
	if kind != domain.OrderKindActivation && kind != domain.OrderKindRental {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPurchase, req.Kind)
	}

	priority := req.ProviderPriority
	if len(priority) == 0 {
		priority = s.cfg.ProviderPriority
	}
	if len(priority) == 0 {
		return nil, fmt.Errorf("%w: no provider priority configured", ErrInvalidPurchase)
	}
	// Resolve the whole list before freezing anything so a typo in the priority
	// list fails fast instead of leaving a reservation behind.
	adapters := make([]provider.Adapter, 0, len(priority))
	for _, name := range priority {
		adapter, err := s.providers.Get(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	log.Printf("level=info component=orchestrator op=purchase msg=\"starting purchase\" account_id=%s kind=%s service=%s country=%s estimate=%d providers=%v",
		req.AccountID, kind, req.ServiceCode, req.CountryCode, req.PriceEstimate, priority)

	// 1. Freeze the estimate before touching any provider.
	freezeReason := fmt.Sprintf("purchase %s %s/%s", kind, req.ServiceCode, req.CountryCode)
	freezeEntry, err := s.ledger.Freeze(ctx, req.AccountID, req.PriceEstimate, freezeReason, nil)
	if err != nil {
		return nil, err
	}
	reservationID := freezeEntry.ID
	frozenAmount := req.PriceEstimate

	// 2. Walk the priority list.
	for _, adapter := range adapters {
		acq, acqErr := adapter.Acquire(ctx, req.ServiceCode, req.CountryCode, req.OperatorHint)
		if acqErr != nil {
			// Transport or protocol failure counts as no stock for fallthrough
			// purposes; the next provider may still serve the request.
			log.Printf("level=warn component=orchestrator op=purchase msg=\"provider acquire failed; trying next\" provider=%s err=%v", adapter.Name(), acqErr)
			continue
		}
		if acq.Status == provider.AcquireNoStock {
			log.Printf("level=info component=orchestrator op=purchase msg=\"provider out of stock; trying next\" provider=%s service=%s country=%s", adapter.Name(), req.ServiceCode, req.CountryCode)
			continue
		}

		cost := acq.Cost
		if cost <= 0 {
			cost = req.PriceEstimate
		}

		// 3. Settle the price delta while we still can walk away cheaply.
		if cost != frozenAmount {
			newReservationID, adjErr := s.adjustReservation(ctx, reservationID, frozenAmount, cost)
			if adjErr != nil {
				// Could not cover the price delta. Release the number and treat
				// this provider like stock exhaustion.
				log.Printf("level=warn component=orchestrator op=purchase msg=\"price adjustment failed; releasing number\" provider=%s cost=%d frozen=%d err=%v",
					adapter.Name(), cost, frozenAmount, adjErr)
				if cancelErr := adapter.Cancel(ctx, acq.OrderRef); cancelErr != nil {
					log.Printf("level=warn component=orchestrator op=purchase msg=\"best-effort cancel failed\" provider=%s order_ref=%s err=%v", adapter.Name(), acq.OrderRef, cancelErr)
				}
				continue
			}
			reservationID = newReservationID
			frozenAmount = cost
		}

		// 4. Persist the order.
		order := &domain.Order{
			ID:               uuid.New(),
			AccountID:        req.AccountID,
			Kind:             kind,
			ProviderName:     adapter.Name(),
			ProviderOrderRef: acq.OrderRef,
			ServiceCode:      req.ServiceCode,
			CountryCode:      req.CountryCode,
			Phone:            acq.Phone,
			Price:            cost,
			FrozenAmount:     frozenAmount,
			ReservationID:    reservationID,
			Status:           s.initialStatus(kind),
			ExpiresAt:        s.orderExpiry(kind, req.RentalMinutes),
		}
		if createErr := s.repo.CreateOrder(ctx, order); createErr != nil {
			// The number is acquired but we cannot track it. Refund and release;
			// the caller can retry.
			if _, refundErr := s.ledger.Refund(ctx, reservationID, "order persistence failed"); refundErr != nil {
				log.Printf("level=critical component=orchestrator op=purchase msg=\"failed to refund after order creation failure\" account_id=%s reservation_id=%s err=%v",
					req.AccountID, reservationID, refundErr)
			}
			if cancelErr := adapter.Cancel(ctx, acq.OrderRef); cancelErr != nil {
				log.Printf("level=warn component=orchestrator op=purchase msg=\"best-effort cancel failed\" provider=%s order_ref=%s err=%v", adapter.Name(), acq.OrderRef, cancelErr)
			}
			return nil, fmt.Errorf("failed to create order record: %w", createErr)
		}

		s.publishOrderEvent(ctx, "order.purchased", order)
		log.Printf("level=info component=orchestrator op=purchase msg=\"purchase complete\" order_id=%s provider=%s phone=%s price=%d reservation_id=%s",
			order.ID, order.ProviderName, order.Phone, order.Price, order.ReservationID)

		return &domain.PurchaseResult{
			OrderID:  order.ID,
			Phone:    order.Phone,
			Price:    order.Price,
			Provider: order.ProviderName,
			Status:   order.Status,
		}, nil
	}

	// 5. Everyone said no. Release the reservation.
	if _, refundErr := s.ledger.Refund(ctx, reservationID, "all providers exhausted"); refundErr != nil {
		log.Printf("level=critical component=orchestrator op=purchase msg=\"failed to refund after provider exhaustion\" account_id=%s reservation_id=%s err=%v",
			req.AccountID, reservationID, refundErr)
		return nil, fmt.Errorf("all providers exhausted and refund failed: %w", refundErr)
	}
	return nil, ErrNoProviderStock
}

// adjustReservation moves the reservation from the estimated amount to the
// provider's actual cost. The release and the replacement freeze run in one
// ledger transaction, so a cheaper number needs no extra headroom at all and a
// pricier one needs headroom only for the delta.
func (s *Service) adjustReservation(ctx context.Context, oldReservationID uuid.UUID, oldAmount, cost int64) (uuid.UUID, error) {
	entry, err := s.ledger.AdjustFreeze(ctx, oldReservationID, cost, fmt.Sprintf("price adjustment from %d to %d", oldAmount, cost))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to adjust reservation to actual cost: %w", err)
	}
	return entry.ID, nil
}

func (s *Service) initialStatus(kind string) string {
	if kind == domain.OrderKindRental {
		return domain.OrderStatusActive
	}
	return domain.OrderStatusWaiting
}

func (s *Service) orderExpiry(kind string, rentalMinutes int) time.Time {
	if kind == domain.OrderKindRental {
		d := s.cfg.RentalDefault
		if rentalMinutes > 0 {
			d = time.Duration(rentalMinutes) * time.Minute
		}
		return s.now().Add(d)
	}
	return s.now().Add(s.cfg.ActivationTTL)
}

// FindAccountOrder loads an order and verifies it belongs to the account. A
// foreign order is reported as not found so order IDs cannot be probed.
func (s *Service) FindAccountOrder(ctx context.Context, orderID, accountID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, store.ErrOrderNotFound
	}
	return order, nil
}

// GetOrderStatus returns the caller-facing view of an order.
func (s *Service) GetOrderStatus(ctx context.Context, orderID uuid.UUID) (*domain.OrderStatusResult, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &domain.OrderStatusResult{
		OrderID:       order.ID,
		Status:        order.Status,
		Phone:         order.Phone,
		Price:         order.Price,
		Charged:       order.Charged,
		DeliveredCode: order.DeliveredCode,
		DeliveredText: order.DeliveredText,
		ExpiresAt:     order.ExpiresAt,
		SettledAt:     order.SettledAt,
	}, nil
}

// ListOrderMessages returns the SMS history for a rental order.
func (s *Service) ListOrderMessages(ctx context.Context, orderID uuid.UUID) ([]domain.OrderMessage, error) {
	if _, err := s.repo.FindOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListOrderMessages(ctx, orderID)
}

func (s *Service) publishOrderEvent(ctx context.Context, routingKey string, order *domain.Order) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.OrderEvent{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Provider:  order.ProviderName,
		Kind:      order.Kind,
		Status:    order.Status,
		Price:     order.Price,
		Charged:   order.Charged,
		Timestamp: s.now(),
	}
	if err := s.eventProducer.PublishOrderEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"event publish failed\" routing_key=%s order_id=%s err=%v", routingKey, order.ID, err)
	}
}
