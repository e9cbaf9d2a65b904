/**
 * @description
 * This file contains the reconciliation job and the operator-facing audit
 * operations. Reconciliation compares each account's frozen balance against the
 * sum of frozen amounts on its live orders; drift is reported and alerted on,
 * never corrected automatically.
 */

package app

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/buba6c/onesms-v1-sub002/internal/domain"
	"github.com/buba6c/onesms-v1-sub002/pkg/rabbitmq"
)

const (
	defaultReconcileLimit = 100
	maxReconcileLimit     = 500
)

// ReconcileFrozenBalances audits every account that currently has frozen funds.
// Each drifting account is alerted over the broker and collected into the report
// for the operator route.
func (s *Service) ReconcileFrozenBalances(ctx context.Context, limit int) (*domain.ReconcileReport, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	if limit > maxReconcileLimit {
		limit = maxReconcileLimit
	}

	accountIDs, err := s.repo.ListAccountIDsWithFrozenBalance(ctx)
	if err != nil {
		return nil, err
	}
	if len(accountIDs) > limit {
		accountIDs = accountIDs[:limit]
	}

	report := &domain.ReconcileReport{
		GeneratedAt: s.now(),
	}
	for _, accountID := range accountIDs {
		record, recErr := s.ledger.Reconcile(ctx, accountID)
		if recErr != nil {
			log.Printf("level=warn component=orchestrator op=reconcile msg=\"account reconcile failed\" account_id=%s err=%v", accountID, recErr)
			continue
		}
		report.CheckedAccounts++
		if record.Drift == 0 {
			continue
		}
		report.Drifting = append(report.Drifting, *record)
		if s.eventProducer != nil {
			event := rabbitmq.ReconcileDriftEvent{
				AccountID:      record.AccountID,
				ExpectedFrozen: record.ExpectedFrozen,
				ActualFrozen:   record.ActualFrozen,
				Drift:          record.Drift,
				Timestamp:      s.now(),
			}
			if pubErr := s.eventProducer.PublishReconcileDrift(ctx, event); pubErr != nil {
				log.Printf("level=warn component=orchestrator op=reconcile msg=\"drift alert publish failed\" account_id=%s err=%v", record.AccountID, pubErr)
			}
		}
	}

	log.Printf("level=info component=orchestrator op=reconcile msg=\"reconcile run complete\" checked=%d drifting=%d", report.CheckedAccounts, len(report.Drifting))
	return report, nil
}

// ReplayAccount folds the account's full ledger history and compares it with the
// stored balances. Exposed on the internal operator surface.
func (s *Service) ReplayAccount(ctx context.Context, accountID uuid.UUID) (*domain.ReplayResult, error) {
	return s.ledger.Replay(ctx, accountID)
}

// ReverseCommit is the privileged post-commit refund: it credits a settled
// charge back to the account without touching frozen funds. Every call is
// audited by the ledger service.
func (s *Service) ReverseCommit(ctx context.Context, req domain.ReversalRequest) (*domain.LedgerEntry, error) {
	reason := req.Reason
	if reason == "" {
		reason = "operator reversal"
	}
	return s.ledger.Reverse(ctx, req.ReservationID, reason)
}
