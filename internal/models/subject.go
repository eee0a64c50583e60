package models

import (
	"time"
)

// Subject represents a reward-earning principal (an end user as seen by the
// economy engine). Identity and authentication live in an external service;
// the engine only keys state off ExternalID.
type Subject struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalID string `gorm:"uniqueIndex;not null;size:255" json:"external_id"`
	Timezone   string `gorm:"size:64" json:"timezone"` // IANA name, may be empty
	// DiamondBalance is a cached copy of the ledger sum for DIAMONDS. It is a
	// read optimization only and is never consulted for debit decisions.
	DiamondBalance int64     `gorm:"not null;default:0" json:"diamond_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Subject model.
func (Subject) TableName() string {
	return "subjects"
}

// ActivityRecord represents one completed qualifying activity (e.g. a finished
// quiz) as reported by the activity collaborators. The weekly composite
// synchronizer re-derives progress from these rows rather than from counters.
type ActivityRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SubjectID  uint      `gorm:"not null;index:idx_activity_subject_time,priority:1" json:"subject_id"`
	Subject    Subject   `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
	EventKey   string    `gorm:"not null;size:100;index" json:"event_key"`
	SubType    string    `gorm:"size:100" json:"sub_type"`
	Score      *float64  `json:"score"`
	OccurredAt time.Time `gorm:"not null;index:idx_activity_subject_time,priority:2" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for ActivityRecord model.
func (ActivityRecord) TableName() string {
	return "activity_records"
}
