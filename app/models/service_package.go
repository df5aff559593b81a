package models

import "time"

// ServicePackage is a fixed-price service a producer offers for purchase.
// RequirementsPrompt, when set, is shown to the buyer after payment and keeps
// the order in pending_requirements until answered.
type ServicePackage struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	Title              string    `gorm:"type:varchar(200);not null" json:"title" validate:"required,max=200"`
	Description        string    `gorm:"type:text" json:"description"`
	Price              int64     `gorm:"not null" json:"price"` // cents
	Currency           string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	RequirementsPrompt string    `gorm:"type:text" json:"requirements_prompt"`
	IsActive           bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasRequirementsPrompt reports whether the buyer must answer a requirements
// questionnaire before work can start.
func (sp *ServicePackage) HasRequirementsPrompt() bool {
	return sp.RequirementsPrompt != ""
}
