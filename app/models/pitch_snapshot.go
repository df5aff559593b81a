package models

import "time"

const (
	SnapshotStatusPending  = "pending"
	SnapshotStatusApproved = "approved"
	SnapshotStatusDenied   = "denied"
)

// PitchSnapshot is a frozen set of deliverables produced by a revision
// round, awaiting client approval.
type PitchSnapshot struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	PitchID    uint       `gorm:"not null;index" json:"pitch_id"`
	Status     string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	ApprovedAt *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
