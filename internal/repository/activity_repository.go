package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

// ActivityRepository handles completed-activity records, the raw history the
// weekly composite synchronizer derives progress from.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *ActivityRepository) WithTx(tx *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: &DB{tx}}
}

// Record stores one completed qualifying activity.
func (r *ActivityRepository) Record(activity *models.ActivityRecord) error {
	if err := r.db.Create(activity).Error; err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// ListForWindow lists a subject's activities for an event key with
// occurred_at inside [from, to).
func (r *ActivityRepository) ListForWindow(subjectID uint, eventKey string, from, to time.Time) ([]models.ActivityRecord, error) {
	var activities []models.ActivityRecord
	err := r.db.
		Where("subject_id = ? AND event_key = ? AND occurred_at >= ? AND occurred_at < ?", subjectID, eventKey, from, to).
		Order("occurred_at ASC").
		Find(&activities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list activities for subject %d: %w", subjectID, err)
	}
	return activities, nil
}
