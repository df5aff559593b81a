package models

import "time"

const (
	PitchStatusPending        = "pending"
	PitchStatusInProgress     = "in_progress"
	PitchStatusReadyForReview = "ready_for_review"
	PitchStatusCompleted      = "completed"
	PitchStatusApproved       = "approved"
	PitchStatusDenied         = "denied"
	PitchStatusClientRevision = "client_revisions_requested"
)

// Pitch is a producer's submission for a project. For client-management
// projects the client pays for the pitch (or its milestones) through a
// provider checkout session; the webhook confirms the payment.
type Pitch struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	ProjectID          uint       `gorm:"not null;index" json:"project_id"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	User               User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Title              string     `gorm:"type:varchar(200)" json:"title"`
	Status             string     `gorm:"type:varchar(40);not null;default:'pending';index" json:"status"`
	PaymentStatus      string     `gorm:"type:varchar(16);not null;default:'unpaid';index" json:"payment_status"`
	PaymentAmount      int64      `json:"payment_amount"` // cents
	Currency           string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	ClientEmail        string     `gorm:"type:varchar(200)" json:"client_email"`
	FinalInvoiceRef    string     `gorm:"type:varchar(191)" json:"final_invoice_ref"`
	PaymentCompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"payment_completed_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether payment for this pitch has been confirmed.
func (p *Pitch) IsPaid() bool {
	return p.PaymentStatus == PaymentStatusPaid
}
