package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

// ErrDuplicateLedgerRef is returned when an append collides with an existing
// entry for the same (reason, ref_type, ref_id, currency). The backfill
// relies on this to skip entries that were already derived.
var ErrDuplicateLedgerRef = errors.New("ledger entry already exists for reference")

// LedgerRepository handles the append-only currency ledger. There are no
// update or delete operations here on purpose.
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new ledger repository.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *LedgerRepository) WithTx(tx *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: &DB{tx}}
}

// Append writes one immutable ledger entry. It must be called inside the same
// transaction as the business effect the entry represents.
func (r *LedgerRepository) Append(entry *models.LedgerEntry) error {
	if err := r.db.Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateLedgerRef
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// SumBalance computes a subject's balance for a currency as the sum of all
// its deltas. This is the authoritative balance.
func (r *LedgerRepository) SumBalance(subjectID uint, currency string) (int64, error) {
	var balance int64
	err := r.db.Model(&models.LedgerEntry{}).
		Where("subject_id = ? AND currency = ?", subjectID, currency).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&balance).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum balance for subject %d: %w", subjectID, err)
	}
	return balance, nil
}

// Recent returns the newest entries for a subject and currency.
func (r *LedgerRepository) Recent(subjectID uint, currency string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.
		Where("subject_id = ? AND currency = ?", subjectID, currency).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries for subject %d: %w", subjectID, err)
	}
	return entries, nil
}

// ExistsForRef reports whether an entry already exists for the natural key.
func (r *LedgerRepository) ExistsForRef(reason, refType string, refID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.LedgerEntry{}).
		Where("reason = ? AND ref_type = ? AND ref_id = ?", reason, refType, refID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check ledger reference: %w", err)
	}
	return count > 0, nil
}
