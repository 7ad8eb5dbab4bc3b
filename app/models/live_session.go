package models

import "time"

// Reminder lead-time kinds for live sessions. Each kind fires at most once
// per session, tracked by its own sent timestamp.
const (
	ReminderKind24h = "24h"
	ReminderKind1h  = "1h"
	ReminderKind15m = "15m"
)

// LiveSession is an admin-scheduled one-on-one or group session occurrence.
type LiveSession struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"not null;index" json:"user_id"`
	StartsAt        time.Time  `gorm:"not null;index" json:"starts_at"`
	Title           string     `gorm:"type:varchar(255);not null;default:'Practice'" json:"title"`
	MeetingURL      string     `gorm:"type:text" json:"meeting_url"`
	Remind24hSentAt *time.Time `gorm:"type:timestamp;default:null" json:"remind_24h_sent_at,omitempty"`
	Remind1hSentAt  *time.Time `gorm:"type:timestamp;default:null" json:"remind_1h_sent_at,omitempty"`
	Remind15mSentAt *time.Time `gorm:"type:timestamp;default:null" json:"remind_15m_sent_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
