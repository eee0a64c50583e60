// Package models defines domain models for the quest and ledger economy engine.
package models

import (
	"encoding/json"
	"time"
)

// QuestPeriod defines the window kind a quest instance is scoped to.
const (
	QuestPeriodDaily   = "DAILY"
	QuestPeriodWeekly  = "WEEKLY"
	QuestPeriodMonthly = "MONTHLY"
)

// QuestCategory constants.
const (
	QuestCategoryMain   = "MAIN"
	QuestCategoryBranch = "BRANCH"
	QuestCategoryOther  = "OTHER"
)

// QuestInstance status constants. Status is monotonic: ACTIVE → COMPLETED → CLAIMED.
const (
	QuestStatusActive    = "ACTIVE"
	QuestStatusCompleted = "COMPLETED"
	QuestStatusClaimed   = "CLAIMED"
)

// QuestDefinition represents a configured quest. Definitions are written by the
// admin surface and treated as read-only configuration by the engine.
type QuestDefinition struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	Code        string           `gorm:"uniqueIndex;not null;size:100" json:"code"`
	Name        string           `gorm:"size:255" json:"name"`
	EventKey    string           `gorm:"not null;index;size:100" json:"event_key"`
	Period      string           `gorm:"not null;size:20" json:"period"` // DAILY, WEEKLY, MONTHLY
	TargetCount int              `gorm:"not null" json:"target_count"`
	Category    string           `gorm:"size:20;index" json:"category"` // MAIN, BRANCH, OTHER
	ParentID    *uint            `gorm:"index" json:"parent_id"`
	Parent      *QuestDefinition `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	Meta        json.RawMessage  `gorm:"type:jsonb" json:"meta"` // JSON structure for rules, see QuestMeta
	IsActive    bool             `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// Relationships
	Rewards []QuestReward `gorm:"foreignKey:QuestDefinitionID" json:"rewards,omitempty"`
}

// TableName specifies the table name for QuestDefinition model.
func (QuestDefinition) TableName() string {
	return "quest_definitions"
}

// QuestMeta is the typed rule set parsed from QuestDefinition.Meta.
// Unknown fields in the stored JSON are ignored so that new rule kinds can be
// added by the admin surface before the engine learns about them.
type QuestMeta struct {
	// Event filters: a non-matching event is a no-op for this definition.
	SubType  string   `json:"subType,omitempty"`
	MinScore *float64 `json:"minScore,omitempty"`

	// Dependency lock: the referenced quest's instance for the same-kind
	// window must exist and satisfy the clauses below.
	RequiresQuestCode     string   `json:"requiresQuestCode,omitempty"`
	RequiresQuestStatusIn []string `json:"requiresQuestStatusIn,omitempty"`
	RequiresMinProgress   *int     `json:"requiresMinProgress,omitempty"`

	// Weekly main: progress is re-derived from activity history instead of
	// counted incrementally.
	WeeklyMain        bool `json:"weeklyMain,omitempty"`
	WeekendCatchupCap int  `json:"weekendCatchupCap,omitempty"`
}

// ParseMeta decodes the definition's rule set. A nil/empty blob yields the
// zero rule set (no filters, no lock).
func (d *QuestDefinition) ParseMeta() (*QuestMeta, error) {
	meta := &QuestMeta{}
	if len(d.Meta) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(d.Meta, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// QuestReward represents one reward line of a quest definition.
type QuestReward struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	QuestDefinitionID uint   `gorm:"not null;index" json:"quest_definition_id"`
	Currency          string `gorm:"not null;size:20" json:"currency"`
	Amount            int64  `gorm:"not null" json:"amount"`
	Position          int    `gorm:"not null;default:0" json:"position"`
}

// TableName specifies the table name for QuestReward model.
func (QuestReward) TableName() string {
	return "quest_rewards"
}

// QuestInstance represents a subject's progress on a quest within one period
// window. At most one instance exists per (subject, definition, period start).
type QuestInstance struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	SubjectID         uint            `gorm:"not null;uniqueIndex:ux_quest_instance_window,priority:1" json:"subject_id"`
	Subject           Subject         `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
	QuestDefinitionID uint            `gorm:"not null;uniqueIndex:ux_quest_instance_window,priority:2" json:"quest_definition_id"`
	QuestDefinition   QuestDefinition `gorm:"foreignKey:QuestDefinitionID" json:"quest_definition,omitempty"`
	PeriodStart       time.Time       `gorm:"not null;uniqueIndex:ux_quest_instance_window,priority:3" json:"period_start"`
	PeriodEnd         time.Time       `gorm:"not null" json:"period_end"`
	ProgressCount     int             `gorm:"not null;default:0" json:"progress_count"`
	Status            string          `gorm:"not null;size:20;index;default:ACTIVE" json:"status"`
	CompletedAt       *time.Time      `json:"completed_at"`
	ClaimedAt         *time.Time      `json:"claimed_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName specifies the table name for QuestInstance model.
func (QuestInstance) TableName() string {
	return "quest_instances"
}

// IsClaimable reports whether the instance is completed and not yet claimed.
// Lock evaluation happens separately at claim time.
func (i *QuestInstance) IsClaimable() bool {
	return i.Status == QuestStatusCompleted && i.ClaimedAt == nil
}
