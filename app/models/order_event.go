package models

import "time"

const (
	OrderEventPaymentReceived = "payment_received"
	OrderEventStatusChange    = "status_change"
)

// OrderEvent is an append-only timeline entry attached to an order.
type OrderEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OrderID      uint      `gorm:"not null;index" json:"order_id"`
	EventType    string    `gorm:"type:varchar(50);not null;index" json:"event_type"`
	Comment      string    `gorm:"type:text" json:"comment"`
	StatusTo     string    `gorm:"type:varchar(32)" json:"status_to"`
	MetadataJSON string    `gorm:"type:text" json:"metadata_json"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
