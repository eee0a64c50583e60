// Package quests implements event-driven quest progress tracking, the weekly
// composite synchronizer, and the claim processor.
package quests

import (
	"context"
	"time"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

// DefinitionSource resolves quest definitions. The production implementation
// is the redis-backed cache; repositories satisfy it directly in tests.
type DefinitionSource interface {
	ActiveByEventKey(ctx context.Context, eventKey string) ([]models.QuestDefinition, error)
	ByCode(ctx context.Context, code string) (*models.QuestDefinition, error)
	Active(ctx context.Context) ([]models.QuestDefinition, error)
}

// Options carries engine-level tuning read from configuration.
type Options struct {
	// DefaultTimezone is used when a subject carries no usable timezone.
	DefaultTimezone string
	// WeekendCatchupCap bounds weekend catch-up credit for weekly-main quests
	// whose definition does not set its own cap.
	WeekendCatchupCap int
}

// Service handles quest tracking, listing and claiming.
type Service struct {
	db           *repository.DB
	definitions  DefinitionSource
	questRepo    *repository.QuestRepository
	activityRepo *repository.ActivityRepository
	ledgerRepo   *repository.LedgerRepository
	subjectRepo  *repository.SubjectRepository
	opts         Options
	log          *logger.Logger
}

// NewService creates a new quest service.
func NewService(
	db *repository.DB,
	definitions DefinitionSource,
	questRepo *repository.QuestRepository,
	activityRepo *repository.ActivityRepository,
	ledgerRepo *repository.LedgerRepository,
	subjectRepo *repository.SubjectRepository,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = "UTC"
	}
	return &Service{
		db:           db,
		definitions:  definitions,
		questRepo:    questRepo,
		activityRepo: activityRepo,
		ledgerRepo:   ledgerRepo,
		subjectRepo:  subjectRepo,
		opts:         opts,
		log:          log,
	}
}

// timezoneFor resolves the timezone used for a subject's period windows: an
// explicit override wins, then the subject's stored timezone, then the
// configured default.
func (s *Service) timezoneFor(subject *models.Subject, override string) string {
	if override != "" {
		if _, err := time.LoadLocation(override); err == nil {
			return override
		}
		s.log.Warn().
			Str("timezone", override).
			Uint("subject_id", subject.ID).
			Msg("Invalid timezone override, falling back")
	}
	if subject.Timezone != "" {
		if _, err := time.LoadLocation(subject.Timezone); err == nil {
			return subject.Timezone
		}
	}
	return s.opts.DefaultTimezone
}
