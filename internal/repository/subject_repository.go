package repository

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

// SubjectRepository handles subject-related database operations.
type SubjectRepository struct {
	db *DB
}

// NewSubjectRepository creates a new subject repository.
func NewSubjectRepository(db *DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *SubjectRepository) WithTx(tx *gorm.DB) *SubjectRepository {
	return &SubjectRepository{db: &DB{tx}}
}

// Create creates a new subject.
func (r *SubjectRepository) Create(subject *models.Subject) error {
	if err := r.db.Create(subject).Error; err != nil {
		return fmt.Errorf("failed to create subject: %w", err)
	}
	return nil
}

// GetByID retrieves a subject by ID.
func (r *SubjectRepository) GetByID(id uint) (*models.Subject, error) {
	var subject models.Subject
	if err := r.db.First(&subject, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get subject by id %d: %w", id, err)
	}
	return &subject, nil
}

// GetByExternalID retrieves a subject by its external identity.
func (r *SubjectRepository) GetByExternalID(externalID string) (*models.Subject, error) {
	var subject models.Subject
	if err := r.db.Where("external_id = ?", externalID).First(&subject).Error; err != nil {
		return nil, fmt.Errorf("failed to get subject by external_id %s: %w", externalID, err)
	}
	return &subject, nil
}

// GetOrCreate resolves a subject by external id, creating it on first sight.
// A concurrent first sight races on the unique index; the loser re-fetches
// the winner's row.
func (r *SubjectRepository) GetOrCreate(externalID, timezone string) (*models.Subject, error) {
	subject := &models.Subject{ExternalID: externalID, Timezone: timezone}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(subject).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get or create subject %s: %w", externalID, err)
	}
	if subject.ID == 0 {
		return r.GetByExternalID(externalID)
	}
	return subject, nil
}

// ListIDs returns the ids of all subjects, for full-sweep reconciliation.
func (r *SubjectRepository) ListIDs() ([]uint, error) {
	var ids []uint
	if err := r.db.Model(&models.Subject{}).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list subject ids: %w", err)
	}
	return ids, nil
}

// SetCachedBalance overwrites the denormalized diamond balance. The value
// must come from a ledger sum computed in the same transaction.
func (r *SubjectRepository) SetCachedBalance(subjectID uint, balance int64) error {
	err := r.db.Model(&models.Subject{}).
		Where("id = ?", subjectID).
		Update("diamond_balance", balance).Error
	if err != nil {
		return fmt.Errorf("failed to set cached balance for subject %d: %w", subjectID, err)
	}
	return nil
}

// AdjustCachedBalance applies a signed delta to the denormalized balance,
// mirroring a ledger append made in the same transaction.
func (r *SubjectRepository) AdjustCachedBalance(subjectID uint, delta int64) error {
	err := r.db.Model(&models.Subject{}).
		Where("id = ?", subjectID).
		Update("diamond_balance", gorm.Expr("diamond_balance + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("failed to adjust cached balance for subject %d: %w", subjectID, err)
	}
	return nil
}
