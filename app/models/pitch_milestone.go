package models

import "time"

const (
	MilestoneStatusPending  = "pending"
	MilestoneStatusApproved = "approved"
)

// PitchMilestone is a partial-payment checkpoint within a pitch, allowing a
// client to pay in stages. Milestones tied to a revision round carry a link
// to the snapshot the revision produced; paying the milestone auto-approves
// a still-pending snapshot.
type PitchMilestone struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	PitchID             uint       `gorm:"not null;index" json:"pitch_id"`
	Pitch               Pitch      `gorm:"foreignKey:PitchID" json:"pitch,omitempty"`
	Name                string     `gorm:"type:varchar(200)" json:"name"`
	Amount              int64      `gorm:"not null" json:"amount"` // cents
	SortOrder           int        `gorm:"not null;default:0;index" json:"sort_order"`
	Status              string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	PaymentStatus       string     `gorm:"type:varchar(16);not null;default:'unpaid';index" json:"payment_status"`
	PaymentCompletedAt  *time.Time `gorm:"type:timestamp;default:null" json:"payment_completed_at,omitempty"`
	CheckoutSessionID   string     `gorm:"type:varchar(191);index" json:"checkout_session_id"`
	RevisionRoundNumber int        `gorm:"not null;default:0" json:"revision_round_number"`
	SnapshotID          *uint      `gorm:"index;default:null" json:"snapshot_id,omitempty"`
	ApprovedAt          *time.Time `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether payment for this milestone has been confirmed.
func (m *PitchMilestone) IsPaid() bool {
	return m.PaymentStatus == PaymentStatusPaid
}
