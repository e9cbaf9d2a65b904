package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
	"github.com/buba6c/onesms-v1-sub002/internal/store"
)

type ledgerRepoStub struct {
	store.Repository

	account      *domain.Account
	created      *domain.Account
	freezeEntry  *domain.LedgerEntry
	freezeErr    error
	freezeCalled bool
}

func (s *ledgerRepoStub) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.created = account
	return nil
}

func (s *ledgerRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if s.account == nil {
		return nil, store.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *ledgerRepoStub) FreezeFunds(ctx context.Context, accountID uuid.UUID, amount int64, reason string, relatedOrderID *uuid.UUID) (*domain.LedgerEntry, error) {
	s.freezeCalled = true
	if s.freezeErr != nil {
		return nil, s.freezeErr
	}
	return s.freezeEntry, nil
}

func TestFreezeRejectsNonPositiveAmounts(t *testing.T) {
	repo := &ledgerRepoStub{account: &domain.Account{ID: uuid.New(), Active: true}}
	svc := NewService(repo)

	for _, amount := range []int64{0, -1, -100} {
		if _, err := svc.Freeze(context.Background(), repo.account.ID, amount, "test", nil); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount=%d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if repo.freezeCalled {
		t.Fatal("repository must not be reached for invalid amounts")
	}
}

func TestFreezeRejectsDeactivatedAccount(t *testing.T) {
	repo := &ledgerRepoStub{account: &domain.Account{ID: uuid.New(), Balance: 100, Active: false}}
	svc := NewService(repo)

	if _, err := svc.Freeze(context.Background(), repo.account.ID, 10, "test", nil); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if repo.freezeCalled {
		t.Fatal("repository must not be reached for inactive accounts")
	}
}

func TestFreezePropagatesInsufficientFunds(t *testing.T) {
	repo := &ledgerRepoStub{
		account:   &domain.Account{ID: uuid.New(), Balance: 100, FrozenBalance: 30, Active: true},
		freezeErr: &store.InsufficientFundsError{Available: 70, Required: 80},
	}
	svc := NewService(repo)

	_, err := svc.Freeze(context.Background(), repo.account.ID, 80, "purchase:pending", nil)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var detail *store.InsufficientFundsError
	if !errors.As(err, &detail) {
		t.Fatalf("expected typed InsufficientFundsError, got %T", err)
	}
	if detail.Available != 70 || detail.Required != 80 {
		t.Fatalf("expected available=70 required=80, got available=%d required=%d", detail.Available, detail.Required)
	}
}

func TestCreateAccountRejectsNegativeOpeningBalance(t *testing.T) {
	repo := &ledgerRepoStub{}
	svc := NewService(repo)

	if _, err := svc.CreateAccount(context.Background(), -50); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if repo.created != nil {
		t.Fatal("repository must not be reached for negative opening balances")
	}
}

func TestCreateAccountStartsActiveWithOpeningBalance(t *testing.T) {
	repo := &ledgerRepoStub{}
	svc := NewService(repo)

	account, err := svc.CreateAccount(context.Background(), 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.ID == uuid.Nil {
		t.Fatal("expected a generated account ID")
	}
	if !account.Active {
		t.Fatal("new accounts must start active")
	}
	if account.Balance != 500 || account.FrozenBalance != 0 {
		t.Fatalf("expected balance=500 frozen=0, got balance=%d frozen=%d", account.Balance, account.FrozenBalance)
	}
	if repo.created != account {
		t.Fatal("expected the account to be persisted")
	}
}

func TestAdjustFreezeRejectsNonPositiveAmounts(t *testing.T) {
	svc := NewService(&ledgerRepoStub{})

	for _, amount := range []int64{0, -20} {
		if _, err := svc.AdjustFreeze(context.Background(), uuid.New(), amount, "price adjustment"); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount=%d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}
