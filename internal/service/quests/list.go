package quests

import (
	"context"
	"fmt"
	"time"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/period"
)

// QuestView is one quest decorated for display: the current-window instance
// plus lock and claimability state.
type QuestView struct {
	Definition   models.QuestDefinition `json:"definition"`
	Instance     models.QuestInstance   `json:"instance"`
	Locked       bool                   `json:"locked"`
	LockedReason string                 `json:"locked_reason,omitempty"`
	Claimable    bool                   `json:"claimable"`
}

// QuestBoard groups a subject's quests for the current windows by category.
type QuestBoard struct {
	Main     *QuestView  `json:"main"`
	Branches []QuestView `json:"branches"`
	Others   []QuestView `json:"others"`
}

// ListQuests returns the subject's quest board for the current period
// windows. Instances are created lazily on first listing, and the weekly
// main quest is re-synchronized first so its derived progress is current.
func (s *Service) ListQuests(ctx context.Context, subject *models.Subject, tzOverride string) (*QuestBoard, error) {
	tz := s.timezoneFor(subject, tzOverride)
	loc := period.Location(tz)
	now := time.Now()

	defs, err := s.definitions.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active definitions: %w", err)
	}

	board := &QuestBoard{Branches: []QuestView{}, Others: []QuestView{}}

	for i := range defs {
		def := &defs[i]
		meta, err := def.ParseMeta()
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("quest_code", def.Code).
				Msg("Skipping definition with malformed meta")
			continue
		}

		window, err := period.WindowFor(def.Period, loc, now)
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("quest_code", def.Code).
				Msg("Skipping definition with unknown period kind")
			continue
		}

		if meta.WeeklyMain {
			if err := s.SyncWeeklyMain(ctx, subject, def, meta, now, loc); err != nil {
				s.log.Error().
					Err(err).
					Str("quest_code", def.Code).
					Msg("Failed to refresh weekly main quest")
			}
		}

		inst, err := s.questRepo.EnsureInstance(subject.ID, def, window.Start, window.End)
		if err != nil {
			return nil, err
		}

		locked, reason, err := s.evaluateLock(ctx, s.questRepo, subject, meta, now, loc)
		if err != nil {
			return nil, err
		}

		view := QuestView{
			Definition:   *def,
			Instance:     *inst,
			Locked:       locked,
			LockedReason: reason,
			Claimable:    !locked && inst.IsClaimable(),
		}

		switch def.Category {
		case models.QuestCategoryMain:
			if board.Main == nil {
				board.Main = &view
			} else {
				board.Others = append(board.Others, view)
			}
		case models.QuestCategoryBranch:
			board.Branches = append(board.Branches, view)
		default:
			board.Others = append(board.Others, view)
		}
	}

	return board, nil
}
