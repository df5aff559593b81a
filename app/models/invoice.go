package models

import (
	"encoding/json"
	"time"
)

const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
)

// Invoice is the local record of a billable transaction. It is either
// pre-created before checkout (orders) or lazily created on the first
// successful payment event (client pitch payments, keyed uniquely by pitch).
type Invoice struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	PitchID           *uint      `gorm:"uniqueIndex:ux_invoices_pitch;default:null" json:"pitch_id,omitempty"`
	OrderID           *uint      `gorm:"index;default:null" json:"order_id,omitempty"`
	Status            string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Amount            int64      `gorm:"not null" json:"amount"` // cents
	Currency          string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Description       string     `gorm:"type:varchar(255)" json:"description"`
	CheckoutSessionID string     `gorm:"type:varchar(191);index" json:"checkout_session_id"`
	PaymentIntentID   string     `gorm:"type:varchar(191)" json:"payment_intent_id"`
	MetadataJSON      string     `gorm:"type:text" json:"metadata_json"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MergeMetadata folds the given key/value pairs into the invoice metadata
// bag, keeping existing keys that the new payload does not override.
func (i *Invoice) MergeMetadata(extra map[string]string) error {
	merged := map[string]string{}
	if i.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(i.MetadataJSON), &merged); err != nil {
			return err
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	i.MetadataJSON = string(raw)
	return nil
}
