package models

import "time"

type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierBasic   SubscriptionTier = "basic"
	TierPremium SubscriptionTier = "premium"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is the durable aggregate the lifecycle manager orchestrates.
// Price is snapshotted at creation/tier-change time; cancellation is a state,
// never a deletion.
type Subscription struct {
	ID                int                `json:"id"`
	UserID            int                `json:"user_id"`
	ProductID         int                `json:"product_id"`
	Tier              SubscriptionTier   `json:"tier"`
	Price             float64            `json:"price"`
	Currency          string             `json:"currency"`
	Reference         string             `json:"reference"`
	Status            SubscriptionStatus `json:"status"`
	StartedAt         time.Time          `json:"started_at"`
	NextBillingDate   time.Time          `json:"next_billing_date"`
	RenewalRemindedAt *time.Time         `json:"renewal_reminded_at,omitempty"`
	CancelledAt       *time.Time         `json:"cancelled_at,omitempty"`
	CancelReason      *string            `json:"cancel_reason,omitempty"`
	PaymentReference  *string            `json:"payment_reference,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         *time.Time         `json:"updated_at,omitempty"`
}
