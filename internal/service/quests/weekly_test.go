package quests

import (
	"context"
	"testing"
	"time"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

func activityAt(t *testing.T, value string) models.ActivityRecord {
	t.Helper()
	occurred, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("Failed to parse time %s: %v", value, err)
	}
	return models.ActivityRecord{EventKey: "quiz.completed", OccurredAt: occurred}
}

func TestDeriveWeeklyProgress(t *testing.T) {
	meta := &models.QuestMeta{WeeklyMain: true}

	tests := []struct {
		name       string
		activities []models.ActivityRecord
		target     int
		defaultCap int
		want       int
	}{
		{
			name:       "no activity",
			activities: nil,
			target:     5,
			defaultCap: 2,
			want:       0,
		},
		{
			name: "three distinct weekdays",
			activities: []models.ActivityRecord{
				activityAt(t, "2025-03-10T10:00:00Z"), // Mon
				activityAt(t, "2025-03-11T10:00:00Z"), // Tue
				activityAt(t, "2025-03-12T10:00:00Z"), // Wed
			},
			target:     5,
			defaultCap: 2,
			want:       3,
		},
		{
			name: "repeat activity on one weekday counts once",
			activities: []models.ActivityRecord{
				activityAt(t, "2025-03-10T08:00:00Z"),
				activityAt(t, "2025-03-10T12:00:00Z"),
				activityAt(t, "2025-03-10T20:00:00Z"),
			},
			target:     5,
			defaultCap: 2,
			want:       1,
		},
		{
			name: "weekend catch-up fills open slots up to cap",
			activities: []models.ActivityRecord{
				activityAt(t, "2025-03-10T10:00:00Z"), // Mon
				activityAt(t, "2025-03-11T10:00:00Z"), // Tue
				activityAt(t, "2025-03-15T10:00:00Z"), // Sat
				activityAt(t, "2025-03-15T14:00:00Z"), // Sat again
				activityAt(t, "2025-03-16T10:00:00Z"), // Sun
			},
			target:     5,
			defaultCap: 2,
			want:       4, // 2 weekdays + capped weekend credit of 2
		},
		{
			name: "weekend credit bounded by remaining slots",
			activities: []models.ActivityRecord{
				activityAt(t, "2025-03-10T10:00:00Z"), // Mon
				activityAt(t, "2025-03-11T10:00:00Z"), // Tue
				activityAt(t, "2025-03-12T10:00:00Z"), // Wed
				activityAt(t, "2025-03-13T10:00:00Z"), // Thu
				activityAt(t, "2025-03-15T10:00:00Z"), // Sat
				activityAt(t, "2025-03-16T10:00:00Z"), // Sun
			},
			target:     5,
			defaultCap: 2,
			want:       5,
		},
		{
			name: "full week caps at target",
			activities: []models.ActivityRecord{
				activityAt(t, "2025-03-10T10:00:00Z"),
				activityAt(t, "2025-03-11T10:00:00Z"),
				activityAt(t, "2025-03-12T10:00:00Z"),
				activityAt(t, "2025-03-13T10:00:00Z"),
				activityAt(t, "2025-03-14T10:00:00Z"),
				activityAt(t, "2025-03-15T10:00:00Z"),
				activityAt(t, "2025-03-16T10:00:00Z"),
			},
			target:     5,
			defaultCap: 2,
			want:       5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveWeeklyProgress(tt.activities, meta, tt.target, time.UTC, tt.defaultCap)
			if got != tt.want {
				t.Errorf("Expected progress %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDeriveWeeklyProgress_DefinitionCapOverridesDefault(t *testing.T) {
	meta := &models.QuestMeta{WeeklyMain: true, WeekendCatchupCap: 1}
	activities := []models.ActivityRecord{
		activityAt(t, "2025-03-15T10:00:00Z"), // Sat
		activityAt(t, "2025-03-16T10:00:00Z"), // Sun
	}

	got := deriveWeeklyProgress(activities, meta, 5, time.UTC, 2)
	if got != 1 {
		t.Errorf("Expected definition cap of 1 to win, got %d", got)
	}
}

func TestDeriveWeeklyProgress_TimezoneShiftsDayBuckets(t *testing.T) {
	meta := &models.QuestMeta{WeeklyMain: true}
	// 23:30 UTC Monday and 00:30 UTC Tuesday are the same Tokyo day (Tuesday).
	activities := []models.ActivityRecord{
		activityAt(t, "2025-03-10T23:30:00Z"),
		activityAt(t, "2025-03-11T00:30:00Z"),
	}

	if got := deriveWeeklyProgress(activities, meta, 5, time.UTC, 2); got != 2 {
		t.Errorf("Expected 2 distinct UTC days, got %d", got)
	}

	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	if got := deriveWeeklyProgress(activities, meta, 5, tokyo, 2); got != 1 {
		t.Errorf("Expected 1 distinct Tokyo day, got %d", got)
	}
}

func TestSyncWeeklyMain_RecomputesFromHistory(t *testing.T) {
	env := setupQuestService(t)
	subject := env.subject(t, "user-1", "UTC")
	def := env.definition(t, "weekly_main", "quiz.completed", models.QuestPeriodWeekly, models.QuestCategoryMain, 5,
		`{"weeklyMain":true}`, diamonds(50))
	weekStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	// Two events on the same Monday yield one unit, a Tuesday event a second.
	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)})
	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)})
	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)})

	inst, err := env.questRepo.GetInstance(subject.ID, def.ID, weekStart)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if inst.ProgressCount != 2 {
		t.Errorf("Expected derived progress 2, got %d", inst.ProgressCount)
	}
}

func TestSyncWeeklyMain_CompletesAndPreservesTimestamp(t *testing.T) {
	env := setupQuestService(t)
	subject := env.subject(t, "user-1", "UTC")
	def := env.definition(t, "weekly_main", "quiz.completed", models.QuestPeriodWeekly, models.QuestCategoryMain, 2,
		`{"weeklyMain":true}`, diamonds(50))
	weekStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)})
	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)})

	inst, err := env.questRepo.GetInstance(subject.ID, def.ID, weekStart)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if inst.Status != models.QuestStatusCompleted {
		t.Fatalf("Expected COMPLETED, got %s", inst.Status)
	}
	firstCompletedAt := *inst.CompletedAt

	// Further events re-run the sync without moving the completion stamp.
	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)})
	reloaded, _ := env.questRepo.GetInstance(subject.ID, def.ID, weekStart)
	if !reloaded.CompletedAt.Equal(firstCompletedAt) {
		t.Error("Expected completion timestamp preserved across re-syncs")
	}
}

func TestSyncWeeklyMain_ClaimedInstanceUntouched(t *testing.T) {
	env := setupQuestService(t)
	ctx := context.Background()
	subject := env.subject(t, "user-1", "UTC")
	def := env.definition(t, "weekly_main", "quiz.completed", models.QuestPeriodWeekly, models.QuestCategoryMain, 1,
		`{"weeklyMain":true}`, diamonds(50))
	weekStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)})
	inst, err := env.questRepo.GetInstance(subject.ID, def.ID, weekStart)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if _, err := env.service.Claim(ctx, subject, inst.ID, ""); err != nil {
		t.Fatalf("Claim() failed: %v", err)
	}

	// A later event in the same week re-syncs but must not reopen the claim.
	env.mustTrack(t, subject, Event{OccurredAt: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)})

	reloaded, _ := env.questRepo.GetInstance(subject.ID, def.ID, weekStart)
	if reloaded.Status != models.QuestStatusClaimed {
		t.Errorf("Expected CLAIMED preserved, got %s", reloaded.Status)
	}
	if reloaded.ProgressCount != 1 {
		t.Errorf("Expected claimed progress untouched, got %d", reloaded.ProgressCount)
	}
}
