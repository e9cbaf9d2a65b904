package ledger

import (
	"testing"

	"github.com/buba6c/onesms-v1-sub002/internal/domain"
)

func TestReplayEntries(t *testing.T) {
	tests := []struct {
		name        string
		entries     []domain.LedgerEntry
		wantBalance int64
		wantFrozen  int64
	}{
		{
			name:        "empty history replays to zero",
			entries:     nil,
			wantBalance: 0,
			wantFrozen:  0,
		},
		{
			name: "freeze then commit debits balance and releases frozen",
			entries: []domain.LedgerEntry{
				{OperationType: domain.OperationFreeze, Amount: 30, BalanceBefore: 100, FrozenBefore: 0, FrozenAfter: 30},
				{OperationType: domain.OperationCommit, Amount: 30, BalanceBefore: 100, FrozenBefore: 30, FrozenAfter: 0},
			},
			wantBalance: 70,
			wantFrozen:  0,
		},
		{
			name: "freeze then refund restores full available balance",
			entries: []domain.LedgerEntry{
				{OperationType: domain.OperationFreeze, Amount: 30, BalanceBefore: 100, FrozenBefore: 0, FrozenAfter: 30},
				{OperationType: domain.OperationRefund, Amount: 30, BalanceBefore: 100, FrozenBefore: 30, FrozenAfter: 0},
			},
			wantBalance: 100,
			wantFrozen:  0,
		},
		{
			name: "overlapping reservations",
			entries: []domain.LedgerEntry{
				{OperationType: domain.OperationFreeze, Amount: 30, BalanceBefore: 100, FrozenBefore: 0, FrozenAfter: 30},
				{OperationType: domain.OperationFreeze, Amount: 25, BalanceBefore: 100, FrozenBefore: 30, FrozenAfter: 55},
				{OperationType: domain.OperationCommit, Amount: 30, BalanceBefore: 100, FrozenBefore: 55, FrozenAfter: 25},
				{OperationType: domain.OperationRefund, Amount: 25, BalanceBefore: 70, FrozenBefore: 25, FrozenAfter: 0},
			},
			wantBalance: 70,
			wantFrozen:  0,
		},
		{
			name: "top-up between entries resynchronizes balance",
			entries: []domain.LedgerEntry{
				{OperationType: domain.OperationFreeze, Amount: 30, BalanceBefore: 100, FrozenBefore: 0, FrozenAfter: 30},
				{OperationType: domain.OperationCommit, Amount: 30, BalanceBefore: 100, FrozenBefore: 30, FrozenAfter: 0},
				// balance topped up to 500 outside the ledger before the next freeze
				{OperationType: domain.OperationFreeze, Amount: 200, BalanceBefore: 500, FrozenBefore: 0, FrozenAfter: 200},
				{OperationType: domain.OperationCommit, Amount: 200, BalanceBefore: 500, FrozenBefore: 200, FrozenAfter: 0},
			},
			wantBalance: 300,
			wantFrozen:  0,
		},
		{
			name: "post-commit reversal credits balance without touching frozen",
			entries: []domain.LedgerEntry{
				{OperationType: domain.OperationFreeze, Amount: 40, BalanceBefore: 100, FrozenBefore: 0, FrozenAfter: 40},
				{OperationType: domain.OperationCommit, Amount: 40, BalanceBefore: 100, FrozenBefore: 40, FrozenAfter: 0},
				{OperationType: domain.OperationRefund, Amount: 40, BalanceBefore: 60, FrozenBefore: 0, FrozenAfter: 0},
			},
			wantBalance: 100,
			wantFrozen:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balance, frozen := replayEntries(tt.entries)
			if balance != tt.wantBalance {
				t.Fatalf("expected balance=%d, got %d", tt.wantBalance, balance)
			}
			if frozen != tt.wantFrozen {
				t.Fatalf("expected frozen=%d, got %d", tt.wantFrozen, frozen)
			}
		})
	}
}
