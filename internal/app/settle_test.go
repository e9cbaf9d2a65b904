package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
	"github.com/buba6c/onesms-v1-sub002/internal/provider"
)

// seedOrder installs an account, a live reservation, and an order in one step so
// settlement tests can start from any point of the lifecycle.
func seedOrder(t *testing.T, repo *fakeRepo, kind, status string, price int64, age time.Duration, ttl time.Duration) *domain.Order {
	t.Helper()
	accountID := repo.addAccount(1000)
	entry, err := repo.FreezeFunds(context.Background(), accountID, price, "test seed", nil)
	if err != nil {
		t.Fatalf("seed freeze failed: %v", err)
	}
	now := time.Now().UTC()
	order := &domain.Order{
		ID:               uuid.New(),
		AccountID:        accountID,
		Kind:             kind,
		ProviderName:     "smsactivate",
		ProviderOrderRef: "ref-1",
		ServiceCode:      "tg",
		CountryCode:      "0",
		Phone:            "79001112233",
		Price:            price,
		FrozenAmount:     price,
		ReservationID:    entry.ID,
		Status:           status,
		CreatedAt:        now.Add(-age),
		ExpiresAt:        now.Add(-age).Add(ttl),
	}
	copied := *order
	repo.orders[order.ID] = &copied
	return order
}

func pollResult(state provider.PollState, code string) func(context.Context, string) (*provider.PollResult, error) {
	return func(context.Context, string) (*provider.PollResult, error) {
		return &provider.PollResult{State: state, Code: code, Text: "msg " + code}, nil
	}
}

func TestDeliveredActivationCommitsAndCharges(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, time.Minute, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollDelivered, "483190")}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusReceived || !result.Charged {
		t.Fatalf("expected received+charged, got status=%s charged=%v", result.Status, result.Charged)
	}
	if result.DeliveredCode == nil || *result.DeliveredCode != "483190" {
		t.Fatalf("expected delivered code, got %+v", result.DeliveredCode)
	}

	acct := repo.accounts[order.AccountID]
	if acct.Balance != 800 || acct.FrozenBalance != 0 {
		t.Fatalf("expected balance=800 frozen=0 after commit, got balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
	if repo.settled[order.ReservationID] != "commit" {
		t.Fatalf("expected committed reservation, got %q", repo.settled[order.ReservationID])
	}
}

func TestEarlyProviderCancelIgnoredInsideGraceWindow(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, time.Minute, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollCancelled, "")}
	svc := newTestService(repo, Config{GraceWindow: 3 * time.Minute}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusWaiting {
		t.Fatalf("verdict inside grace window must not settle, got %s", result.Status)
	}
	if frozen := repo.accounts[order.AccountID].FrozenBalance; frozen != 200 {
		t.Fatalf("reservation must stay live, frozen=%d", frozen)
	}
}

func TestProviderCancelAfterGraceWindowRefunds(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, 10*time.Minute, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollCancelled, "")}
	svc := newTestService(repo, Config{GraceWindow: 3 * time.Minute}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusCancelled || result.Charged {
		t.Fatalf("expected cancelled+uncharged, got status=%s charged=%v", result.Status, result.Charged)
	}
	acct := repo.accounts[order.AccountID]
	if acct.Balance != 1000 || acct.FrozenBalance != 0 {
		t.Fatalf("expected full refund, balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
}

func TestProviderTimeoutAfterGraceWindowRefunds(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, 10*time.Minute, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollTimeout, "")}
	svc := newTestService(repo, Config{GraceWindow: 3 * time.Minute}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusTimeout || result.Charged {
		t.Fatalf("expected timeout+uncharged, got status=%s charged=%v", result.Status, result.Charged)
	}
	acct := repo.accounts[order.AccountID]
	if acct.Balance != 1000 || acct.FrozenBalance != 0 {
		t.Fatalf("expected full refund, balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
	if repo.settled[order.ReservationID] != "refund" {
		t.Fatalf("expected exactly one refund settlement, got %q", repo.settled[order.ReservationID])
	}
}

func TestRentalProviderTimeoutSettlesAsConsumedLease(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindRental, domain.OrderStatusActive, 500, 10*time.Minute, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollTimeout, "")}
	svc := newTestService(repo, Config{GraceWindow: 3 * time.Minute}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The lease ran; a provider-side expiry is success, not a refundable failure.
	if result.Status != domain.OrderStatusExpired || !result.Charged {
		t.Fatalf("expected expired+charged, got status=%s charged=%v", result.Status, result.Charged)
	}
	acct := repo.accounts[order.AccountID]
	if acct.Balance != 500 || acct.FrozenBalance != 0 {
		t.Fatalf("expected lease price committed, balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
}

func TestActivationTimesOutLocallyWhileProviderStillWaits(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, 30*time.Minute, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollWaiting, "")}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusTimeout || result.Charged {
		t.Fatalf("expected timeout+uncharged, got status=%s charged=%v", result.Status, result.Charged)
	}
	if repo.settled[order.ReservationID] != "refund" {
		t.Fatalf("expected refunded reservation, got %q", repo.settled[order.ReservationID])
	}
}

func TestRentalExpiryChargesConsumedLease(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindRental, domain.OrderStatusActive, 500, 2*time.Hour, time.Hour)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollWaiting, "")}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusExpired || !result.Charged {
		t.Fatalf("expired rental is a successful settlement, got status=%s charged=%v", result.Status, result.Charged)
	}
	if acct := repo.accounts[order.AccountID]; acct.Balance != 500 {
		t.Fatalf("expected lease price debited, balance=%d", acct.Balance)
	}
}

func TestRentalDeliveryAppendsMessageAndStaysActive(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindRental, domain.OrderStatusActive, 500, 5*time.Minute, time.Hour)
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollDelivered, "111222")}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusActive {
		t.Fatalf("rental must stay active until its lease runs out, got %s", result.Status)
	}
	messages, _ := repo.ListOrderMessages(context.Background(), order.ID)
	if len(messages) != 1 || messages[0].Code != "111222" {
		t.Fatalf("expected one recorded message, got %+v", messages)
	}
	if frozen := repo.accounts[order.AccountID].FrozenBalance; frozen != 500 {
		t.Fatalf("reservation must stay live for an active rental, frozen=%d", frozen)
	}
}

func TestDeliveryAfterExternalRefundRecharges(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, time.Minute, 20*time.Minute)
	// An operator refunded the reservation out-of-band while the order was open.
	if _, err := repo.RefundReservation(context.Background(), order.ReservationID, "operator refund"); err != nil {
		t.Fatalf("seed refund failed: %v", err)
	}
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollDelivered, "483190")}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusReceived || !result.Charged {
		t.Fatalf("delivery must still charge, got status=%s charged=%v", result.Status, result.Charged)
	}
	acct := repo.accounts[order.AccountID]
	if acct.Balance != 800 || acct.FrozenBalance != 0 {
		t.Fatalf("expected recharge to debit the price, balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
	stored := repo.orders[order.ID]
	if stored.ReservationID == order.ReservationID {
		t.Fatal("order must be repointed at the recharge reservation")
	}
	if repo.settled[stored.ReservationID] != "commit" {
		t.Fatalf("recharge reservation must be committed, got %q", repo.settled[stored.ReservationID])
	}
}

func TestRepeatedDeliveryAfterInterruptedCommitChargesOnce(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, time.Minute, 20*time.Minute)
	// A previous poll committed the reservation and crashed before the order
	// could be flipped terminal, so the next poll sees a waiting order whose
	// reservation is already committed.
	if _, err := repo.CommitReservation(context.Background(), order.ReservationID); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollDelivered, "483190")}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusReceived || !result.Charged {
		t.Fatalf("expected received+charged, got status=%s charged=%v", result.Status, result.Charged)
	}
	acct := repo.accounts[order.AccountID]
	if acct.Balance != 800 || acct.FrozenBalance != 0 {
		t.Fatalf("price must be debited exactly once, balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("no recharge freeze may be created for a committed reservation, freezes=%d", len(repo.entries))
	}
}

func TestFailureVerdictAfterInterruptedCommitStaysCharged(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, 10*time.Minute, 20*time.Minute)
	if _, err := repo.CommitReservation(context.Background(), order.ReservationID); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
	// The provider now claims cancellation, but the account already paid. The
	// interrupted charged settlement wins over the refund path.
	adapter := &stubAdapter{name: "smsactivate", pollFn: pollResult(provider.PollCancelled, "")}
	svc := newTestService(repo, Config{GraceWindow: 3 * time.Minute}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusReceived || !result.Charged {
		t.Fatalf("expected the charged settlement to finish, got status=%s charged=%v", result.Status, result.Charged)
	}
	acct := repo.accounts[order.AccountID]
	if acct.Balance != 800 || acct.FrozenBalance != 0 {
		t.Fatalf("expected the prior commit to stand, balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
	if repo.settled[order.ReservationID] != "commit" {
		t.Fatalf("reservation must stay committed, got %q", repo.settled[order.ReservationID])
	}
}

func TestPollAndSettleTerminalOrderSkipsProvider(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusReceived, 200, time.Hour, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate"}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.PollAndSettle(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusReceived {
		t.Fatalf("terminal order must not change, got %s", result.Status)
	}
	if adapter.pollCalls != 0 {
		t.Fatal("terminal order must not hit the provider")
	}
}

func TestCancelOrderRefundsAndMarksCancelled(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, time.Minute, 20*time.Minute)
	adapter := &stubAdapter{name: "smsactivate"}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.CancelOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusCancelled || result.Charged {
		t.Fatalf("expected cancelled+uncharged, got status=%s charged=%v", result.Status, result.Charged)
	}
	if adapter.cancelCalls != 1 {
		t.Fatalf("expected one provider cancel, got %d", adapter.cancelCalls)
	}
	if frozen := repo.accounts[order.AccountID].FrozenBalance; frozen != 0 {
		t.Fatalf("expected refund, frozen=%d", frozen)
	}

	if _, err := svc.CancelOrder(context.Background(), order.ID); !errors.Is(err, ErrOrderAlreadySettled) {
		t.Fatalf("second cancel must fail with ErrOrderAlreadySettled, got %v", err)
	}
}

func TestCancelExpiredRentalSettlesAsConsumed(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(t, repo, domain.OrderKindRental, domain.OrderStatusActive, 500, 2*time.Hour, time.Hour)
	adapter := &stubAdapter{name: "smsactivate"}
	svc := newTestService(repo, Config{}, adapter)

	result, err := svc.CancelOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusExpired || !result.Charged {
		t.Fatalf("cancelling a consumed lease still charges, got status=%s charged=%v", result.Status, result.Charged)
	}
	if adapter.cancelCalls != 0 {
		t.Fatal("no provider cancel for a lease that already ran out")
	}
}
