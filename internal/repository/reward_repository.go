package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

// ErrDuplicatePurchaseKey is returned when a purchase insert collides with an
// existing row for the same (subject, idempotency key). Callers treat it as a
// replay, not a failure.
var ErrDuplicatePurchaseKey = errors.New("purchase already exists for idempotency key")

// RewardRepository handles the reward catalog and purchase records.
type RewardRepository struct {
	db *DB
}

// NewRewardRepository creates a new reward repository.
func NewRewardRepository(db *DB) *RewardRepository {
	return &RewardRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *RewardRepository) WithTx(tx *gorm.DB) *RewardRepository {
	return &RewardRepository{db: &DB{tx}}
}

// CreateReward creates a catalog entry.
func (r *RewardRepository) CreateReward(reward *models.Reward) error {
	if err := r.db.Create(reward).Error; err != nil {
		return fmt.Errorf("failed to create reward: %w", err)
	}
	return nil
}

// UpdateReward updates a catalog entry. Stock is excluded: it moves only
// through AdjustStock and DecrementStock.
func (r *RewardRepository) UpdateReward(reward *models.Reward) error {
	err := r.db.Model(reward).
		Omit("remaining_stock", "total_stock").
		Updates(map[string]interface{}{
			"code":             reward.Code,
			"name":             reward.Name,
			"description":      reward.Description,
			"cost_diamonds":    reward.CostDiamonds,
			"visible_from":     reward.VisibleFrom,
			"visible_to":       reward.VisibleTo,
			"fulfillment_mode": reward.FulfillmentMode,
			"is_active":        reward.IsActive,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update reward %d: %w", reward.ID, err)
	}
	return nil
}

// GetRewardByID retrieves a reward by ID.
func (r *RewardRepository) GetRewardByID(id uint) (*models.Reward, error) {
	var reward models.Reward
	if err := r.db.First(&reward, id).Error; err != nil {
		return nil, err
	}
	return &reward, nil
}

// ListVisibleRewards lists catalog entries purchasable at t.
func (r *RewardRepository) ListVisibleRewards(t time.Time) ([]models.Reward, error) {
	var rewards []models.Reward
	err := r.db.
		Where("is_active = ?", true).
		Where("visible_from IS NULL OR visible_from <= ?", t).
		Where("visible_to IS NULL OR visible_to > ?", t).
		Order("cost_diamonds ASC, id ASC").
		Find(&rewards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return rewards, nil
}

// DecrementStock attempts the guarded stock decrement. A false return means
// the guard failed (not enough stock) and nothing changed; this conditional
// update is the oversell protection, there is no separate read-then-check.
func (r *RewardRepository) DecrementStock(rewardID uint, quantity int) (bool, error) {
	res := r.db.Model(&models.Reward{}).
		Where("id = ? AND remaining_stock >= ?", rewardID, quantity).
		Update("remaining_stock", gorm.Expr("remaining_stock - ?", quantity))
	if res.Error != nil {
		return false, fmt.Errorf("failed to decrement stock for reward %d: %w", rewardID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AdjustStock applies a signed stock adjustment (admin restock or manual
// correction). Negative adjustments are guarded the same way purchases are.
func (r *RewardRepository) AdjustStock(rewardID uint, delta int) (bool, error) {
	q := r.db.Model(&models.Reward{}).Where("id = ?", rewardID)
	if delta < 0 {
		q = q.Where("remaining_stock >= ?", -delta)
	}
	res := q.Updates(map[string]interface{}{
		"remaining_stock": gorm.Expr("remaining_stock + ?", delta),
		"total_stock":     gorm.Expr("CASE WHEN ? > 0 THEN total_stock + ? ELSE total_stock END", delta, delta),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to adjust stock for reward %d: %w", rewardID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// --- purchases ---

// CreatePurchase inserts a purchase row. Returns ErrDuplicatePurchaseKey when
// a concurrent or replayed request already created one for the same key.
func (r *RewardRepository) CreatePurchase(p *models.RewardPurchase) error {
	if err := r.db.Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicatePurchaseKey
		}
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

// GetPurchaseByKey retrieves a purchase by its idempotency key.
func (r *RewardRepository) GetPurchaseByKey(subjectID uint, key string) (*models.RewardPurchase, error) {
	var p models.RewardPurchase
	err := r.db.
		Preload("Reward").
		Where("subject_id = ? AND idempotency_key = ?", subjectID, key).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPurchaseByID retrieves a purchase by ID.
func (r *RewardRepository) GetPurchaseByID(id uint) (*models.RewardPurchase, error) {
	var p models.RewardPurchase
	if err := r.db.Preload("Reward").First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPurchasesByStatus lists purchases in a given status, oldest first, for
// the fulfillment poller.
func (r *RewardRepository) ListPurchasesByStatus(status string, limit int) ([]models.RewardPurchase, error) {
	var purchases []models.RewardPurchase
	err := r.db.
		Preload("Reward").
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases with status %s: %w", status, err)
	}
	return purchases, nil
}

// ListPurchasesForSubject lists a subject's purchases, newest first.
func (r *RewardRepository) ListPurchasesForSubject(subjectID uint, limit int) ([]models.RewardPurchase, error) {
	var purchases []models.RewardPurchase
	err := r.db.
		Preload("Reward").
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Limit(limit).
		Find(&purchases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases for subject %d: %w", subjectID, err)
	}
	return purchases, nil
}

// MarkRefunded transitions a purchase to REFUNDED from any refundable
// status. Returns false when the purchase was already refunded or otherwise
// not refundable.
func (r *RewardRepository) MarkRefunded(purchaseID uint, now time.Time) (bool, error) {
	res := r.db.Model(&models.RewardPurchase{}).
		Where("id = ? AND status IN ?", purchaseID, []string{models.PurchaseStatusFulfilling, models.PurchaseStatusReady}).
		Updates(map[string]interface{}{
			"status":      models.PurchaseStatusRefunded,
			"refunded_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to refund purchase %d: %w", purchaseID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IncrementFulfillmentAttempts bumps the provider attempt counter.
func (r *RewardRepository) IncrementFulfillmentAttempts(purchaseID uint) (bool, error) {
	res := r.db.Model(&models.RewardPurchase{}).
		Where("id = ?", purchaseID).
		Update("fulfillment_attempts", gorm.Expr("fulfillment_attempts + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("failed to record fulfillment attempt for purchase %d: %w", purchaseID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TransitionPurchase moves a purchase from one status to another, guarded so
// that a retried poller or a racing refund cannot double-apply. Returns false
// when the purchase was not in the expected status.
func (r *RewardRepository) TransitionPurchase(purchaseID uint, from, to string, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()
	res := r.db.Model(&models.RewardPurchase{}).
		Where("id = ? AND status = ?", purchaseID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition purchase %d to %s: %w", purchaseID, to, res.Error)
	}
	return res.RowsAffected > 0, nil
}
