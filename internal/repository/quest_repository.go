package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

// QuestRepository handles quest definitions and per-period quest instances.
type QuestRepository struct {
	db *DB
}

// NewQuestRepository creates a new quest repository.
func NewQuestRepository(db *DB) *QuestRepository {
	return &QuestRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *QuestRepository) WithTx(tx *gorm.DB) *QuestRepository {
	return &QuestRepository{db: &DB{tx}}
}

// --- definitions (read-mostly configuration) ---

// CreateDefinition creates a quest definition, replacing its reward lines.
func (r *QuestRepository) CreateDefinition(def *models.QuestDefinition) error {
	if err := r.db.Create(def).Error; err != nil {
		return fmt.Errorf("failed to create quest definition: %w", err)
	}
	return nil
}

// UpdateDefinition updates a quest definition.
func (r *QuestRepository) UpdateDefinition(def *models.QuestDefinition) error {
	if err := r.db.Save(def).Error; err != nil {
		return fmt.Errorf("failed to update quest definition: %w", err)
	}
	return nil
}

// GetDefinitionByID retrieves a quest definition with its reward lines.
func (r *QuestRepository) GetDefinitionByID(id uint) (*models.QuestDefinition, error) {
	var def models.QuestDefinition
	err := r.db.Preload("Rewards", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&def, id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get quest definition %d: %w", id, err)
	}
	return &def, nil
}

// GetDefinitionByCode retrieves a quest definition by its unique code.
func (r *QuestRepository) GetDefinitionByCode(code string) (*models.QuestDefinition, error) {
	var def models.QuestDefinition
	err := r.db.Preload("Rewards", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where("code = ?", code).First(&def).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get quest definition %s: %w", code, err)
	}
	return &def, nil
}

// GetActiveDefinitionsByEventKey retrieves all active definitions listening
// for an event key.
func (r *QuestRepository) GetActiveDefinitionsByEventKey(eventKey string) ([]models.QuestDefinition, error) {
	var defs []models.QuestDefinition
	err := r.db.Preload("Rewards", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).
		Where("event_key = ? AND is_active = ?", eventKey, true).
		Order("id ASC").
		Find(&defs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get definitions for event %s: %w", eventKey, err)
	}
	return defs, nil
}

// GetActiveDefinitions retrieves all active quest definitions.
func (r *QuestRepository) GetActiveDefinitions() ([]models.QuestDefinition, error) {
	var defs []models.QuestDefinition
	err := r.db.Preload("Rewards", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&defs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active definitions: %w", err)
	}
	return defs, nil
}

// --- instances ---

// GetInstance retrieves the instance for one (subject, definition, window).
// Returns gorm.ErrRecordNotFound when no event has created it yet.
func (r *QuestRepository) GetInstance(subjectID, definitionID uint, periodStart time.Time) (*models.QuestInstance, error) {
	var inst models.QuestInstance
	err := r.db.
		Where("subject_id = ? AND quest_definition_id = ? AND period_start = ?", subjectID, definitionID, periodStart).
		First(&inst).Error
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetInstanceByID retrieves an instance with its definition preloaded.
func (r *QuestRepository) GetInstanceByID(id uint) (*models.QuestInstance, error) {
	var inst models.QuestInstance
	err := r.db.
		Preload("QuestDefinition").
		Preload("QuestDefinition.Rewards").
		First(&inst, id).Error
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstancesForWindow lists a subject's instances whose period_start falls
// in [from, to), definitions preloaded, for quest listing.
func (r *QuestRepository) ListInstancesForWindow(subjectID uint, from, to time.Time) ([]models.QuestInstance, error) {
	var instances []models.QuestInstance
	err := r.db.
		Preload("QuestDefinition").
		Where("subject_id = ? AND period_start >= ? AND period_start < ?", subjectID, from, to).
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list instances for subject %d: %w", subjectID, err)
	}
	return instances, nil
}

// ListClaimedInstances lists a subject's CLAIMED instances, for ledger
// backfill.
func (r *QuestRepository) ListClaimedInstances(batch int, afterID uint) ([]models.QuestInstance, error) {
	var instances []models.QuestInstance
	err := r.db.
		Preload("QuestDefinition").
		Preload("QuestDefinition.Rewards").
		Where("status = ? AND id > ?", models.QuestStatusClaimed, afterID).
		Order("id ASC").
		Limit(batch).
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list claimed instances: %w", err)
	}
	return instances, nil
}

// IncrementProgress atomically applies one unit of progress to the instance
// for (subject, definition, window), creating it when absent. The guarded
// UPDATE plus the unique window index make concurrent qualifying events safe:
// two racing inserts resolve to one insert and one retried update. CLAIMED
// instances and instances already at target are left untouched, which is what
// makes duplicate event delivery idempotent per period.
//
// The returned instance reflects the row after the attempt, whether or not
// progress moved. The boolean reports whether this call transitioned the
// instance to COMPLETED.
func (r *QuestRepository) IncrementProgress(subjectID uint, def *models.QuestDefinition, start, end, now time.Time) (*models.QuestInstance, bool, error) {
	res := r.db.Model(&models.QuestInstance{}).
		Where("subject_id = ? AND quest_definition_id = ? AND period_start = ?", subjectID, def.ID, start).
		Where("status <> ? AND progress_count < ?", models.QuestStatusClaimed, def.TargetCount).
		Updates(map[string]interface{}{
			"progress_count": gorm.Expr("progress_count + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to increment quest progress: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Either no instance exists yet, or it is capped/claimed.
		inst, err := r.GetInstance(subjectID, def.ID, start)
		if err == nil {
			return r.completeIfTargetReached(inst, def, now)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failed to load quest instance: %w", err)
		}

		progress := 1
		if def.TargetCount < 1 {
			progress = def.TargetCount
		}
		inst = &models.QuestInstance{
			SubjectID:         subjectID,
			QuestDefinitionID: def.ID,
			PeriodStart:       start,
			PeriodEnd:         end,
			ProgressCount:     progress,
			Status:            models.QuestStatusActive,
		}
		if err := r.db.Create(inst).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost the insert race; the winner's row absorbs this event.
				return r.IncrementProgress(subjectID, def, start, end, now)
			}
			return nil, false, fmt.Errorf("failed to create quest instance: %w", err)
		}
		return r.completeIfTargetReached(inst, def, now)
	}

	inst, err := r.GetInstance(subjectID, def.ID, start)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload quest instance: %w", err)
	}
	return r.completeIfTargetReached(inst, def, now)
}

// completeIfTargetReached stamps COMPLETED exactly once when the target is
// met. The guard on status and completed_at keeps a concurrent stamp from
// overwriting an earlier one; RowsAffected tells us whether this call won.
func (r *QuestRepository) completeIfTargetReached(inst *models.QuestInstance, def *models.QuestDefinition, now time.Time) (*models.QuestInstance, bool, error) {
	if inst.ProgressCount < def.TargetCount || inst.Status != models.QuestStatusActive {
		return inst, false, nil
	}
	res := r.db.Model(&models.QuestInstance{}).
		Where("id = ? AND status = ? AND completed_at IS NULL", inst.ID, models.QuestStatusActive).
		Updates(map[string]interface{}{
			"status":       models.QuestStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to complete quest instance %d: %w", inst.ID, res.Error)
	}
	reloaded, err := r.GetInstance(inst.SubjectID, inst.QuestDefinitionID, inst.PeriodStart)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload quest instance %d: %w", inst.ID, err)
	}
	return reloaded, res.RowsAffected > 0, nil
}

// SetProgress overwrites progress for re-derived quests (the weekly main
// path). CLAIMED instances are never touched.
func (r *QuestRepository) SetProgress(inst *models.QuestInstance, progress int, status string, completedAt *time.Time, now time.Time) error {
	res := r.db.Model(&models.QuestInstance{}).
		Where("id = ? AND status <> ?", inst.ID, models.QuestStatusClaimed).
		Updates(map[string]interface{}{
			"progress_count": progress,
			"status":         status,
			"completed_at":   completedAt,
			"updated_at":     now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to set quest progress: %w", res.Error)
	}
	return nil
}

// EnsureInstance creates the instance for a window if it does not exist yet
// (lazy creation on first listing), returning the current row either way.
func (r *QuestRepository) EnsureInstance(subjectID uint, def *models.QuestDefinition, start, end time.Time) (*models.QuestInstance, error) {
	inst, err := r.GetInstance(subjectID, def.ID, start)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load quest instance: %w", err)
	}
	inst = &models.QuestInstance{
		SubjectID:         subjectID,
		QuestDefinitionID: def.ID,
		PeriodStart:       start,
		PeriodEnd:         end,
		ProgressCount:     0,
		Status:            models.QuestStatusActive,
	}
	if err := r.db.Create(inst).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.GetInstance(subjectID, def.ID, start)
		}
		return nil, fmt.Errorf("failed to create quest instance: %w", err)
	}
	return inst, nil
}

// MarkClaimed transitions COMPLETED → CLAIMED exactly once. A zero
// RowsAffected means another claim won the race (or the instance was not
// claimable), and the caller must treat the claim as rejected.
func (r *QuestRepository) MarkClaimed(instanceID uint, now time.Time) (bool, error) {
	res := r.db.Model(&models.QuestInstance{}).
		Where("id = ? AND status = ? AND claimed_at IS NULL", instanceID, models.QuestStatusCompleted).
		Updates(map[string]interface{}{
			"status":     models.QuestStatusClaimed,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark instance %d claimed: %w", instanceID, res.Error)
	}
	return res.RowsAffected > 0, nil
}
