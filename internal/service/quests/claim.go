package quests

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	prommetrics "github.com/seandahissiho/murya-api-sub000/internal/metrics"
	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/period"
)

// Claim credits the rewards of a completed, unlocked, unclaimed quest
// instance and marks it CLAIMED. The whole operation is one transaction: the
// ledger entries, the cached balance update and the status transition commit
// or roll back together, so a failed precondition never leaves partial
// credit.
//
// Claiming is exactly-once by design: a second claim returns
// ErrAlreadyClaimed instead of replaying the credit.
func (s *Service) Claim(ctx context.Context, subject *models.Subject, instanceID uint, tzOverride string) (*models.QuestInstance, error) {
	start := time.Now()
	tz := s.timezoneFor(subject, tzOverride)
	loc := period.Location(tz)

	var claimed *models.QuestInstance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		questRepo := s.questRepo.WithTx(tx)
		ledgerRepo := s.ledgerRepo.WithTx(tx)
		subjectRepo := s.subjectRepo.WithTx(tx)

		inst, err := questRepo.GetInstanceByID(instanceID)
		if err != nil {
			return fmt.Errorf("failed to load quest instance %d: %w", instanceID, err)
		}
		if inst.SubjectID != subject.ID {
			return ErrNotOwner
		}

		def := &inst.QuestDefinition
		meta, err := def.ParseMeta()
		if err != nil {
			return fmt.Errorf("failed to parse meta for %s: %w", def.Code, err)
		}

		// The lock is re-evaluated at claim time, anchored to the
		// instance's own period so a claim from a later day still checks
		// the dependency in the window where it was earned.
		locked, reason, err := s.evaluateLock(ctx, questRepo, subject, meta, inst.PeriodStart, loc)
		if err != nil {
			return err
		}
		if locked {
			s.log.Debug().
				Str("quest_code", def.Code).
				Str("reason", reason).
				Msg("Claim rejected: quest locked")
			return ErrQuestLocked
		}

		if inst.Status == models.QuestStatusClaimed || inst.ClaimedAt != nil {
			return ErrAlreadyClaimed
		}
		if inst.Status != models.QuestStatusCompleted {
			return ErrNotCompleted
		}

		now := time.Now()
		ok, err := questRepo.MarkClaimed(inst.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent claim won the guarded transition.
			return ErrAlreadyClaimed
		}

		// Sum reward lines by currency so one definition with two DIAMONDS
		// lines yields a single ledger entry.
		totals := make(map[string]int64)
		for _, line := range def.Rewards {
			totals[line.Currency] += line.Amount
		}
		refType := models.LedgerRefQuestInstance
		refID := inst.ID
		for currency, amount := range totals {
			if amount == 0 {
				continue
			}
			entry := &models.LedgerEntry{
				SubjectID: subject.ID,
				Currency:  currency,
				Delta:     amount,
				Reason:    models.LedgerReasonQuestReward,
				RefType:   &refType,
				RefID:     &refID,
			}
			if err := ledgerRepo.Append(entry); err != nil {
				return err
			}
			if currency == models.CurrencyDiamonds {
				if err := subjectRepo.AdjustCachedBalance(subject.ID, amount); err != nil {
					return err
				}
			}
			prommetrics.RecordLedgerDelta(currency, models.LedgerReasonQuestReward, amount)
		}

		inst.Status = models.QuestStatusClaimed
		inst.ClaimedAt = &now
		claimed = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	prommetrics.RecordQuestClaimed(claimed.QuestDefinition.Code)
	prommetrics.ObserveClaimDuration(time.Since(start).Seconds())
	s.log.Info().
		Str("quest_code", claimed.QuestDefinition.Code).
		Uint("subject_id", subject.ID).
		Uint("instance_id", claimed.ID).
		Msg("Quest claimed")
	return claimed, nil
}
