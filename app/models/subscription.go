package models

import "time"

const (
	SubscriptionStatusActive  = "active"
	SubscriptionStatusRevoked = "revoked"
)

// Subscription is a subscriber's current access window. One row per user,
// last write wins. ExpiresAt nil means unbounded access.
type Subscription struct {
	UserID    int64      `gorm:"primaryKey" json:"user_id"`
	Status    string     `gorm:"type:varchar(16);not null;index" json:"status"`
	ExpiresAt *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// IsCurrentlyActive reports whether the subscription grants access at the
// given instant.
func (s *Subscription) IsCurrentlyActive(now time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
