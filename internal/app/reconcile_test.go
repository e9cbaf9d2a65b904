package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
	"github.com/buba6c/onesms-v1-sub002/internal/store"
)

func (f *fakeRepo) ListAccountIDsWithFrozenBalance(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, acct := range f.accounts {
		if acct.FrozenBalance > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeRepo) SumFrozenForAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	for _, order := range f.orders {
		if order.AccountID == accountID && !domain.IsTerminalOrderStatus(order.Status) {
			sum += order.FrozenAmount
		}
	}
	return sum, nil
}

func TestReconcileReportsNoDriftForLiveOrders(t *testing.T) {
	repo := newFakeRepo()
	seedOrder(t, repo, domain.OrderKindActivation, domain.OrderStatusWaiting, 200, 0, 20*time.Minute)
	svc := newTestService(repo, Config{})

	report, err := svc.ReconcileFrozenBalances(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.CheckedAccounts != 1 {
		t.Fatalf("expected one checked account, got %d", report.CheckedAccounts)
	}
	if len(report.Drifting) != 0 {
		t.Fatalf("healthy account must not drift, got %+v", report.Drifting)
	}
}

func TestReconcileFlagsOrphanedFrozenBalance(t *testing.T) {
	repo := newFakeRepo()
	accountID := repo.addAccount(1000)
	// Frozen funds with no live order backing them.
	if _, err := repo.FreezeFunds(context.Background(), accountID, 300, "orphan", nil); err != nil {
		t.Fatalf("seed freeze failed: %v", err)
	}
	svc := newTestService(repo, Config{})

	report, err := svc.ReconcileFrozenBalances(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Drifting) != 1 {
		t.Fatalf("expected one drifting account, got %d", len(report.Drifting))
	}
	record := report.Drifting[0]
	if record.AccountID != accountID || record.Drift != 300 {
		t.Fatalf("unexpected drift record: %+v", record)
	}
}

func TestReverseCommitCreditsBalanceBack(t *testing.T) {
	repo := newFakeRepo()
	accountID := repo.addAccount(1000)
	entry, err := repo.FreezeFunds(context.Background(), accountID, 200, "purchase", nil)
	if err != nil {
		t.Fatalf("seed freeze failed: %v", err)
	}
	if _, err := repo.CommitReservation(context.Background(), entry.ID); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
	svc := newTestService(repo, Config{})

	reversal, err := svc.ReverseCommit(context.Background(), domain.ReversalRequest{ReservationID: entry.ID, Reason: "chargeback"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reversal.BalanceAfter != 1000 {
		t.Fatalf("expected balance restored to 1000, got %d", reversal.BalanceAfter)
	}
	if acct := repo.accounts[accountID]; acct.Balance != 1000 || acct.FrozenBalance != 0 {
		t.Fatalf("unexpected account state after reversal: %+v", acct)
	}
}

func (f *fakeRepo) ReverseCommit(ctx context.Context, reservationID uuid.UUID, reason string) (*domain.LedgerEntry, error) {
	freeze, ok := f.entries[reservationID]
	if !ok {
		return nil, store.ErrReservationNotFound
	}
	if f.settled[reservationID] != "commit" {
		return nil, store.ErrNotCommitted
	}
	acct := f.accounts[freeze.AccountID]
	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     freeze.AccountID,
		OperationType: domain.OperationRefund,
		Amount:        freeze.Amount,
		BalanceBefore: acct.Balance,
		BalanceAfter:  acct.Balance + freeze.Amount,
		FrozenBefore:  acct.FrozenBalance,
		FrozenAfter:   acct.FrozenBalance,
		ReservationID: &reservationID,
		Reason:        reason,
	}
	acct.Balance += freeze.Amount
	return entry, nil
}
