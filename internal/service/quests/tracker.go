package quests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	prommetrics "github.com/seandahissiho/murya-api-sub000/internal/metrics"
	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/period"
)

// Event is one domain event emitted by an activity collaborator (quiz
// completion, resource interaction). OccurredAt, not the arrival time,
// decides which period window the event belongs to.
type Event struct {
	SubType    string
	Score      *float64
	OccurredAt time.Time
}

// TrackEvent consumes one domain event for a subject: it records the activity,
// resolves every active definition listening for the event key, and applies
// progress to each matching, unlocked definition. Duplicate delivery is safe:
// progress is capped per period and CLAIMED instances are never touched.
//
// Unknown event keys and malformed definitions are logged and skipped, never
// surfaced to the emitting collaborator.
func (s *Service) TrackEvent(ctx context.Context, subject *models.Subject, eventKey string, event Event, tzOverride string) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	tz := s.timezoneFor(subject, tzOverride)
	loc := period.Location(tz)

	// The raw activity row is recorded unconditionally: the weekly composite
	// synchronizer re-derives progress from this history.
	activity := &models.ActivityRecord{
		SubjectID:  subject.ID,
		EventKey:   eventKey,
		SubType:    event.SubType,
		Score:      event.Score,
		OccurredAt: event.OccurredAt,
	}
	if err := s.activityRepo.Record(activity); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	defs, err := s.definitions.ActiveByEventKey(ctx, eventKey)
	if err != nil {
		return fmt.Errorf("failed to resolve definitions for %s: %w", eventKey, err)
	}
	if len(defs) == 0 {
		s.log.Debug().Str("event_key", eventKey).Msg("No active quest definitions for event")
		prommetrics.RecordEventTracked(eventKey, "unmatched")
		return nil
	}

	for i := range defs {
		def := &defs[i]
		if err := s.applyEvent(ctx, subject, def, eventKey, event, loc); err != nil {
			s.log.Error().
				Err(err).
				Str("quest_code", def.Code).
				Uint("subject_id", subject.ID).
				Msg("Failed to apply event to quest definition")
		}
	}

	prommetrics.RecordEventTracked(eventKey, "tracked")
	return nil
}

// applyEvent applies one event to one definition.
func (s *Service) applyEvent(ctx context.Context, subject *models.Subject, def *models.QuestDefinition, eventKey string, event Event, loc *time.Location) error {
	meta, err := def.ParseMeta()
	if err != nil {
		// Malformed configuration must not break event ingestion.
		s.log.Warn().
			Err(err).
			Str("quest_code", def.Code).
			Msg("Skipping definition with malformed meta")
		return nil
	}

	if !matchesFilters(meta, event) {
		return nil
	}

	if meta.WeeklyMain {
		// The weekly main quest never counts incrementally: its progress is
		// re-derived from activity history.
		return s.SyncWeeklyMain(ctx, subject, def, meta, event.OccurredAt, loc)
	}

	window, err := period.WindowFor(def.Period, loc, event.OccurredAt)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("quest_code", def.Code).
			Msg("Skipping definition with unknown period kind")
		return nil
	}

	locked, reason, err := s.evaluateLock(ctx, s.questRepo, subject, meta, event.OccurredAt, loc)
	if err != nil {
		return fmt.Errorf("failed to evaluate lock for %s: %w", def.Code, err)
	}
	if locked {
		// Locked quests never accrue progress; the event is a no-op here.
		s.log.Debug().
			Str("quest_code", def.Code).
			Str("reason", reason).
			Uint("subject_id", subject.ID).
			Msg("Quest locked, event ignored")
		return nil
	}

	inst, completed, err := s.questRepo.IncrementProgress(subject.ID, def, window.Start, window.End, time.Now())
	if err != nil {
		return err
	}

	if completed {
		prommetrics.RecordQuestCompleted(def.Code, def.Period)
		s.log.Info().
			Str("quest_code", def.Code).
			Uint("subject_id", subject.ID).
			Int("progress", inst.ProgressCount).
			Msg("Quest completed")
	}
	return nil
}

// matchesFilters evaluates the definition's event filters. A definition whose
// filters do not match skips the event entirely: no instance is created or
// touched.
func matchesFilters(meta *models.QuestMeta, event Event) bool {
	if meta.SubType != "" && meta.SubType != event.SubType {
		return false
	}
	if meta.MinScore != nil {
		if event.Score == nil || *event.Score < *meta.MinScore {
			return false
		}
	}
	return true
}

// instanceGetter is the slice of QuestRepository the lock evaluation needs,
// so it can run against either the plain or a transaction-bound repository.
type instanceGetter interface {
	GetInstance(subjectID, definitionID uint, periodStart time.Time) (*models.QuestInstance, error)
}

// evaluateLock checks the dependency lock clause. The referenced quest's
// instance for the correspondingly computed window of its own period kind
// must exist and satisfy the status/progress clauses.
func (s *Service) evaluateLock(ctx context.Context, repo instanceGetter, subject *models.Subject, meta *models.QuestMeta, ref time.Time, loc *time.Location) (bool, string, error) {
	if meta.RequiresQuestCode == "" {
		return false, "", nil
	}

	required, err := s.definitions.ByCode(ctx, meta.RequiresQuestCode)
	if err != nil {
		// A lock pointing at a missing definition can never be satisfied.
		s.log.Warn().
			Err(err).
			Str("requires_quest_code", meta.RequiresQuestCode).
			Msg("Lock references unknown quest definition")
		return true, fmt.Sprintf("required quest %s not found", meta.RequiresQuestCode), nil
	}

	window, err := period.WindowFor(required.Period, loc, ref)
	if err != nil {
		return false, "", err
	}

	inst, err := repo.GetInstance(subject.ID, required.ID, window.Start)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No instance for the window means the required quest was never
		// started: locked.
		return true, fmt.Sprintf("requires quest %s", meta.RequiresQuestCode), nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to load instance of %s: %w", meta.RequiresQuestCode, err)
	}

	if len(meta.RequiresQuestStatusIn) > 0 {
		ok := false
		for _, status := range meta.RequiresQuestStatusIn {
			if inst.Status == status {
				ok = true
				break
			}
		}
		if !ok {
			return true, fmt.Sprintf("requires quest %s in status %v", meta.RequiresQuestCode, meta.RequiresQuestStatusIn), nil
		}
	}

	if meta.RequiresMinProgress != nil && inst.ProgressCount < *meta.RequiresMinProgress {
		return true, fmt.Sprintf("requires quest %s progress >= %d", meta.RequiresQuestCode, *meta.RequiresMinProgress), nil
	}

	return false, "", nil
}
