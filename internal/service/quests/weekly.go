package quests

import (
	"context"
	"fmt"
	"time"

	prommetrics "github.com/seandahissiho/murya-api-sub000/internal/metrics"
	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/period"
)

// SyncWeeklyMain re-derives progress for the designated weekly main quest
// from the subject's activity history instead of incrementing a counter.
//
// Progress model: one unit per distinct weekday (Mon-Fri) with at least one
// qualifying activity, plus bounded weekend catch-up credit for the weekday
// slots still open. Extra activity on an already-counted weekday never
// over-counts, and re-running the sync for the same week is idempotent.
// A CLAIMED instance is left untouched no matter what the recomputation says.
func (s *Service) SyncWeeklyMain(ctx context.Context, subject *models.Subject, def *models.QuestDefinition, meta *models.QuestMeta, ref time.Time, loc *time.Location) error {
	window, err := period.WindowFor(models.QuestPeriodWeekly, loc, ref)
	if err != nil {
		return err
	}

	activities, err := s.activityRepo.ListForWindow(subject.ID, def.EventKey, window.Start, window.End)
	if err != nil {
		return fmt.Errorf("failed to load activity history: %w", err)
	}

	progress := deriveWeeklyProgress(activities, meta, def.TargetCount, loc, s.opts.WeekendCatchupCap)

	inst, err := s.questRepo.EnsureInstance(subject.ID, def, window.Start, window.End)
	if err != nil {
		return err
	}
	if inst.Status == models.QuestStatusClaimed {
		return nil
	}

	now := time.Now()
	status := models.QuestStatusActive
	completedAt := inst.CompletedAt
	if progress >= def.TargetCount {
		status = models.QuestStatusCompleted
		if completedAt == nil {
			completedAt = &now
		}
	}

	if inst.ProgressCount == progress && inst.Status == status {
		return nil
	}

	if err := s.questRepo.SetProgress(inst, progress, status, completedAt, now); err != nil {
		return err
	}

	if status == models.QuestStatusCompleted && inst.Status != models.QuestStatusCompleted {
		prommetrics.RecordQuestCompleted(def.Code, def.Period)
		s.log.Info().
			Str("quest_code", def.Code).
			Uint("subject_id", subject.ID).
			Int("progress", progress).
			Msg("Weekly main quest completed")
	}
	return nil
}

// deriveWeeklyProgress computes weekly-main progress from raw activity rows.
func deriveWeeklyProgress(activities []models.ActivityRecord, meta *models.QuestMeta, targetCount int, loc *time.Location, defaultCap int) int {
	weekdaysSeen := make(map[time.Weekday]bool)
	weekendCount := 0

	for i := range activities {
		a := &activities[i]
		if !qualifies(meta, a) {
			continue
		}
		day := a.OccurredAt.In(loc).Weekday()
		if day == time.Saturday || day == time.Sunday {
			weekendCount++
			continue
		}
		weekdaysSeen[day] = true
	}

	catchupCap := meta.WeekendCatchupCap
	if catchupCap <= 0 {
		catchupCap = defaultCap
	}

	weekdayDays := len(weekdaysSeen)
	remainingSlots := targetCount - weekdayDays
	if remainingSlots < 0 {
		remainingSlots = 0
	}

	weekendCredit := weekendCount
	if weekendCredit > catchupCap {
		weekendCredit = catchupCap
	}
	if weekendCredit > remainingSlots {
		weekendCredit = remainingSlots
	}

	total := weekdayDays + weekendCredit
	if total > targetCount {
		total = targetCount
	}
	return total
}

// qualifies applies the weekly-main definition's event filters to one
// recorded activity.
func qualifies(meta *models.QuestMeta, a *models.ActivityRecord) bool {
	if meta.SubType != "" && meta.SubType != a.SubType {
		return false
	}
	if meta.MinScore != nil {
		if a.Score == nil || *a.Score < *meta.MinScore {
			return false
		}
	}
	return true
}
