package models

import (
	"encoding/json"
	"time"
)

const (
	PitchEventPaymentStatusChange = "payment_status_change"
	PitchEventMilestonePaid       = "milestone_paid"
	PitchEventSnapshotApproved    = "snapshot_approved"
	PitchEventClientApproved      = "client_approved"
)

// PitchEvent is an append-only timeline entry attached to a pitch. Webhook
// retries are kept from spamming the timeline by checking the metadata bag
// for an already-recorded checkout session id before appending.
type PitchEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PitchID       uint      `gorm:"not null;index" json:"pitch_id"`
	EventType     string    `gorm:"type:varchar(50);not null;index" json:"event_type"`
	Comment       string    `gorm:"type:text" json:"comment"`
	Status        string    `gorm:"type:varchar(40)" json:"status"`
	PaymentStatus string    `gorm:"type:varchar(16)" json:"payment_status"`
	MetadataJSON  string    `gorm:"type:text" json:"metadata_json"`
	CreatedBy     uint      `json:"created_by"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// SetMetadata replaces the event metadata bag.
func (e *PitchEvent) SetMetadata(m map[string]string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	e.MetadataJSON = string(raw)
	return nil
}
