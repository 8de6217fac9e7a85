package models

import "time"

// ProductTier is a purchasable plan level with its own price.
type ProductTier struct {
	Tier  SubscriptionTier `json:"tier"`
	Price float64          `json:"price"`
}

type Product struct {
	ID                    int           `json:"id"`
	Name                  string        `json:"name"`
	Description           string        `json:"description,omitempty"`
	Currency              string        `json:"currency"`
	SupportsSubscriptions bool          `json:"supports_subscriptions"`
	Tiers                 []ProductTier `json:"tiers,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             *time.Time    `json:"updated_at,omitempty"`
}

// TierPrice returns the snapshot price for the named tier.
func (p Product) TierPrice(tier SubscriptionTier) (float64, bool) {
	for _, t := range p.Tiers {
		if t.Tier == tier {
			return t.Price, true
		}
	}
	return 0, false
}
