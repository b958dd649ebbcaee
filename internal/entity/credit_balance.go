package entity

import (
	"time"

	"github.com/google/uuid"
)

// CreditBalance is a user's prepaid transcription balance.
type CreditBalance struct {
	UserID          uuid.UUID `json:"user_id"`
	MonthlyCredits  int64     `json:"monthly_credits"`
	LifetimeCredits int64     `json:"lifetime_credits"`
	ImageLimits     int64     `json:"image_limits"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Total is the spendable balance across both pools.
func (b CreditBalance) Total() int64 {
	return b.MonthlyCredits + b.LifetimeCredits
}

// Settlement is the outcome of one Deduct call.
type Settlement struct {
	IdempotencyKey string    `json:"idempotency_key"`
	UserID         uuid.UUID `json:"user_id"`
	TaskID         uuid.UUID `json:"task_id"`
	Requested      int64     `json:"requested"`
	Deducted       int64     `json:"deducted"`
	// AlreadyApplied is set when the key had been settled before; nothing was deducted this time.
	AlreadyApplied bool `json:"already_applied"`
	// MissingBalance is set when the user had no balance row; the settlement is recorded with nothing deducted.
	MissingBalance bool      `json:"missing_balance"`
	CreatedAt      time.Time `json:"created_at"`
}
