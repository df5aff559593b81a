package models

import "time"

const (
	PayoutStatusScheduled = "scheduled"
	PayoutStatusReleased  = "released"
	PayoutStatusCancelled = "cancelled"
)

// PayoutSchedule is created when a pitch or milestone payment is confirmed.
// Funds are held for a configured number of days before release. The
// SourceReference (provider checkout session or invoice id) is unique so a
// replayed webhook can never schedule a second payout for the same payment.
type PayoutSchedule struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Reference          string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	ProducerUserID     uint      `gorm:"not null;index" json:"producer_user_id"`
	PitchID            *uint     `gorm:"index;default:null" json:"pitch_id,omitempty"`
	MilestoneID        *uint     `gorm:"index;default:null" json:"milestone_id,omitempty"`
	SourceReference    string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_payout_schedules_source" json:"source_reference"`
	GrossAmount        int64     `gorm:"not null" json:"gross_amount"` // cents
	CommissionRate     float64   `gorm:"not null" json:"commission_rate"`
	NetAmount          int64     `gorm:"not null" json:"net_amount"` // cents
	Currency           string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status             string    `gorm:"type:varchar(16);not null;default:'scheduled';index" json:"status"`
	ScheduledReleaseAt time.Time `gorm:"not null;index" json:"scheduled_release_at"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
