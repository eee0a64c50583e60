package models

import (
	"time"
)

// Currency constants.
const (
	CurrencyDiamonds = "DIAMONDS"
)

// Ledger reason codes.
const (
	LedgerReasonQuestReward    = "QUEST_REWARD"
	LedgerReasonRewardPurchase = "REWARD_PURCHASE"
	LedgerReasonRewardRefund   = "REWARD_REFUND"
	LedgerReasonBackfill       = "BACKFILL"
	LedgerReasonAdminAdjust    = "ADMIN_ADJUST"
)

// Ledger reference types: the business object that caused the entry.
const (
	LedgerRefQuestInstance  = "QUEST_INSTANCE"
	LedgerRefRewardPurchase = "REWARD_PURCHASE"
	LedgerRefAdmin          = "ADMIN"
)

// LedgerEntry is one immutable signed balance delta. The ledger is
// append-only: entries are never updated or deleted, and a subject's balance
// for a currency is defined as the sum of its deltas. The unique index on
// (reason, ref_type, ref_id, currency) is the natural key the backfill uses
// to skip entries that already exist; it includes currency so one claim may
// credit several currencies against the same instance.
type LedgerEntry struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	SubjectID uint    `gorm:"not null;index:idx_ledger_subject_currency,priority:1" json:"subject_id"`
	Subject   Subject `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
	Currency  string  `gorm:"not null;size:20;index:idx_ledger_subject_currency,priority:2;uniqueIndex:ux_ledger_ref,priority:4" json:"currency"`
	Delta     int64   `gorm:"not null" json:"delta"`
	Reason    string  `gorm:"not null;size:50;uniqueIndex:ux_ledger_ref,priority:1" json:"reason"`
	// RefType/RefID are NULL for entries with no single causing row (admin
	// adjustments); NULLs do not collide under the unique index.
	RefType   *string   `gorm:"size:50;uniqueIndex:ux_ledger_ref,priority:2" json:"ref_type"`
	RefID     *uint     `gorm:"uniqueIndex:ux_ledger_ref,priority:3" json:"ref_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for LedgerEntry model.
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
