// Package wallet exposes ledger-derived balances and keeps the cached
// balance field reconciled with the ledger.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	prommetrics "github.com/seandahissiho/murya-api-sub000/internal/metrics"
	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

// Wallet is the balance view returned to clients: the authoritative ledger
// sum plus the newest entries.
type Wallet struct {
	Balance       int64                `json:"balance"`
	RecentEntries []models.LedgerEntry `json:"recent_entries"`
}

// Service handles balance reads, reconciliation and ledger backfill.
type Service struct {
	db          *repository.DB
	ledgerRepo  *repository.LedgerRepository
	subjectRepo *repository.SubjectRepository
	questRepo   *repository.QuestRepository
	pageSize    int
	log         *logger.Logger
}

// NewService creates a new wallet service.
func NewService(
	db *repository.DB,
	ledgerRepo *repository.LedgerRepository,
	subjectRepo *repository.SubjectRepository,
	questRepo *repository.QuestRepository,
	pageSize int,
	log *logger.Logger,
) *Service {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Service{
		db:          db,
		ledgerRepo:  ledgerRepo,
		subjectRepo: subjectRepo,
		questRepo:   questRepo,
		pageSize:    pageSize,
		log:         log,
	}
}

// Balance returns the authoritative diamond balance: the ledger sum, never
// the cached field.
//
//nolint:revive // ctx reserved for future context-aware operations (tracing, cancellation)
func (s *Service) Balance(ctx context.Context, subjectID uint) (int64, error) {
	return s.ledgerRepo.SumBalance(subjectID, models.CurrencyDiamonds)
}

// GetWallet returns the subject's balance with its newest ledger entries.
//
//nolint:revive // ctx reserved for future context-aware operations (tracing, cancellation)
func (s *Service) GetWallet(ctx context.Context, subjectID uint) (*Wallet, error) {
	balance, err := s.ledgerRepo.SumBalance(subjectID, models.CurrencyDiamonds)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledgerRepo.Recent(subjectID, models.CurrencyDiamonds, s.pageSize)
	if err != nil {
		return nil, err
	}
	return &Wallet{Balance: balance, RecentEntries: entries}, nil
}

// Adjust appends an administrative ledger entry and mirrors it into the
// cached balance, in one transaction.
//
//nolint:revive // ctx reserved for future context-aware operations (tracing, cancellation)
func (s *Service) Adjust(ctx context.Context, subjectID uint, delta int64) (int64, error) {
	var balance int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ledgerRepo := s.ledgerRepo.WithTx(tx)
		subjectRepo := s.subjectRepo.WithTx(tx)

		entry := &models.LedgerEntry{
			SubjectID: subjectID,
			Currency:  models.CurrencyDiamonds,
			Delta:     delta,
			Reason:    models.LedgerReasonAdminAdjust,
		}
		if err := ledgerRepo.Append(entry); err != nil {
			return err
		}
		if err := subjectRepo.AdjustCachedBalance(subjectID, delta); err != nil {
			return err
		}
		var err error
		balance, err = ledgerRepo.SumBalance(subjectID, models.CurrencyDiamonds)
		return err
	})
	if err != nil {
		return 0, err
	}
	prommetrics.RecordLedgerDelta(models.CurrencyDiamonds, models.LedgerReasonAdminAdjust, delta)
	return balance, nil
}

// ReconcileSubject recomputes one cached balance from the ledger and
// overwrites it. Safe to run at any time; returns the drift that was
// repaired (zero when cache and ledger already agreed).
//
//nolint:revive // ctx reserved for future context-aware operations (tracing, cancellation)
func (s *Service) ReconcileSubject(ctx context.Context, subjectID uint) (int64, error) {
	var drift int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ledgerRepo := s.ledgerRepo.WithTx(tx)
		subjectRepo := s.subjectRepo.WithTx(tx)

		subject, err := subjectRepo.GetByID(subjectID)
		if err != nil {
			return err
		}
		balance, err := ledgerRepo.SumBalance(subjectID, models.CurrencyDiamonds)
		if err != nil {
			return err
		}
		drift = balance - subject.DiamondBalance
		if drift == 0 {
			return nil
		}
		return subjectRepo.SetCachedBalance(subjectID, balance)
	})
	if err != nil {
		return 0, err
	}
	if drift != 0 {
		prommetrics.RecordReconciliationRepair()
		s.log.Warn().
			Uint("subject_id", subjectID).
			Int64("drift", drift).
			Msg("Cached balance drifted from ledger, repaired")
	}
	return drift, nil
}

// ReconcileAll sweeps every subject, repairing drifted cached balances.
// Returns the number of repaired subjects.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	start := time.Now()
	ids, err := s.subjectRepo.ListIDs()
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, id := range ids {
		drift, err := s.ReconcileSubject(ctx, id)
		if err != nil {
			s.log.Error().Err(err).Uint("subject_id", id).Msg("Failed to reconcile subject")
			continue
		}
		if drift != 0 {
			repaired++
		}
	}

	prommetrics.ObserveReconciliationDuration(time.Since(start).Seconds())
	s.log.Info().
		Int("subjects", len(ids)).
		Int("repaired", repaired).
		Dur("duration", time.Since(start)).
		Msg("Balance reconciliation complete")
	return repaired, nil
}

// BackfillQuestRewards derives ledger entries for CLAIMED quest instances
// that predate the ledger, in batches. Existing entries are skipped by the
// natural key on (reason, ref_type, ref_id, currency), so re-running the backfill is
// harmless. Touched subjects are reconciled afterwards.
func (s *Service) BackfillQuestRewards(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	created := 0
	touched := make(map[uint]bool)
	var afterID uint

	for {
		instances, err := s.questRepo.ListClaimedInstances(batchSize, afterID)
		if err != nil {
			return created, err
		}
		if len(instances) == 0 {
			break
		}

		for i := range instances {
			inst := &instances[i]
			afterID = inst.ID
			n, err := s.backfillInstance(inst)
			if err != nil {
				s.log.Error().
					Err(err).
					Uint("instance_id", inst.ID).
					Msg("Failed to backfill quest instance")
				continue
			}
			if n > 0 {
				created += n
				touched[inst.SubjectID] = true
			}
		}
	}

	for subjectID := range touched {
		if _, err := s.ReconcileSubject(ctx, subjectID); err != nil {
			s.log.Error().Err(err).Uint("subject_id", subjectID).Msg("Failed to reconcile after backfill")
		}
	}

	s.log.Info().
		Int("entries_created", created).
		Int("subjects_touched", len(touched)).
		Msg("Ledger backfill complete")
	return created, nil
}

// backfillInstance derives the missing ledger entries for one claimed
// instance. Returns how many entries were created.
func (s *Service) backfillInstance(inst *models.QuestInstance) (int, error) {
	totals := make(map[string]int64)
	for _, line := range inst.QuestDefinition.Rewards {
		totals[line.Currency] += line.Amount
	}

	created := 0
	for currency, amount := range totals {
		if amount == 0 {
			continue
		}
		refType := models.LedgerRefQuestInstance
		refID := inst.ID
		entry := &models.LedgerEntry{
			SubjectID: inst.SubjectID,
			Currency:  currency,
			Delta:     amount,
			Reason:    models.LedgerReasonQuestReward,
			RefType:   &refType,
			RefID:     &refID,
		}
		if entry.CreatedAt.IsZero() && inst.ClaimedAt != nil {
			entry.CreatedAt = *inst.ClaimedAt
		}
		if err := s.ledgerRepo.Append(entry); err != nil {
			if errors.Is(err, repository.ErrDuplicateLedgerRef) {
				continue
			}
			return created, fmt.Errorf("failed to backfill entry for instance %d: %w", inst.ID, err)
		}
		created++
	}
	return created, nil
}
