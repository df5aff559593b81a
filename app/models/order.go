package models

import "time"

const (
	OrderStatusPendingPayment      = "pending_payment"
	OrderStatusPendingRequirements = "pending_requirements"
	OrderStatusInProgress          = "in_progress"
	OrderStatusReadyForReview      = "ready_for_review"
	OrderStatusCompleted           = "completed"
	OrderStatusCancelled           = "cancelled"
)

// Order is a purchase of a service package. Payment confirmation arrives
// asynchronously via the provider webhook; until then the order sits in
// pending_payment with payment_status unpaid or processing.
type Order struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UserID           uint           `gorm:"not null;index" json:"user_id"`
	ServicePackageID uint           `gorm:"not null;index" json:"service_package_id"`
	ServicePackage   ServicePackage `gorm:"foreignKey:ServicePackageID" json:"service_package,omitempty"`
	Status           string         `gorm:"type:varchar(32);not null;default:'pending_payment';index" json:"status"`
	PaymentStatus    string         `gorm:"type:varchar(16);not null;default:'unpaid';index" json:"payment_status"`
	Amount           int64          `gorm:"not null" json:"amount"` // cents
	Currency         string         `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether payment for this order has been confirmed.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}
