package models

import (
	"encoding/json"
	"time"
)

// Reward fulfillment modes.
const (
	FulfillmentModeLocal    = "LOCAL"
	FulfillmentModeExternal = "EXTERNAL"
)

// RewardPurchase status constants.
const (
	PurchaseStatusFulfilling = "FULFILLING"
	PurchaseStatusReady      = "READY"
	PurchaseStatusRefunded   = "REFUNDED"
	PurchaseStatusFailed     = "FAILED"
)

// Reward represents a catalog entry purchasable with diamonds.
// RemainingStock is mutated only through guarded conditional decrements.
type Reward struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Code            string     `gorm:"uniqueIndex;not null;size:100" json:"code"`
	Name            string     `gorm:"size:255" json:"name"`
	Description     string     `gorm:"type:text" json:"description"`
	CostDiamonds    int64      `gorm:"not null" json:"cost_diamonds"`
	TotalStock      int        `gorm:"not null" json:"total_stock"`
	RemainingStock  int        `gorm:"not null" json:"remaining_stock"`
	VisibleFrom     *time.Time `json:"visible_from"`
	VisibleTo       *time.Time `json:"visible_to"`
	FulfillmentMode string     `gorm:"not null;size:20;default:LOCAL" json:"fulfillment_mode"`
	IsActive        bool       `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Reward model.
func (Reward) TableName() string {
	return "rewards"
}

// IsVisibleAt reports whether the reward may be listed and purchased at t.
func (r *Reward) IsVisibleAt(t time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.VisibleFrom != nil && t.Before(*r.VisibleFrom) {
		return false
	}
	if r.VisibleTo != nil && !t.Before(*r.VisibleTo) {
		return false
	}
	return true
}

// RewardPurchase represents one purchase transaction. The unique index on
// (subject_id, idempotency_key) is what makes client retries safe: a replayed
// request resolves to the original row instead of a second debit.
type RewardPurchase struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SubjectID      uint            `gorm:"not null;uniqueIndex:ux_purchase_idem,priority:1" json:"subject_id"`
	Subject        Subject         `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
	RewardID       uint            `gorm:"not null;index" json:"reward_id"`
	Reward         Reward          `gorm:"foreignKey:RewardID" json:"reward,omitempty"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	UnitCost       int64           `gorm:"not null" json:"unit_cost"`
	TotalCost      int64           `gorm:"not null" json:"total_cost"`
	Status         string          `gorm:"not null;size:20;index" json:"status"`
	IdempotencyKey string          `gorm:"not null;size:255;uniqueIndex:ux_purchase_idem,priority:2" json:"idempotency_key"`
	Voucher        json.RawMessage `gorm:"type:jsonb" json:"voucher"`
	// FulfillmentAttempts counts provider calls for EXTERNAL purchases; the
	// poller refunds after the retry budget is spent.
	FulfillmentAttempts int        `gorm:"not null;default:0" json:"fulfillment_attempts"`
	RefundedAt          *time.Time `json:"refunded_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName specifies the table name for RewardPurchase model.
func (RewardPurchase) TableName() string {
	return "reward_purchases"
}
