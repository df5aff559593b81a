package models

// Payment status values shared by orders, invoices, pitches and milestones.
// Once an entity reaches "paid" it never moves back.
const (
	PaymentStatusUnpaid     = "unpaid"
	PaymentStatusProcessing = "processing"
	PaymentStatusPaid       = "paid"
	PaymentStatusFailed     = "failed"
)
