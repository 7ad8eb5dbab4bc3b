package models

import "time"

// Enrollment tracks a subscriber's position in a course drip sequence.
// NextDueAt only ever moves forward; the cursor advances once per delivered
// (or skipped) lesson.
type Enrollment struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"not null;index:ux_enrollments_user_course,unique,priority:1" json:"user_id"`
	CourseID        string     `gorm:"type:varchar(64);not null;index:ux_enrollments_user_course,unique,priority:2" json:"course_id"`
	NextLessonIndex int        `gorm:"not null;default:1" json:"next_lesson_index"`
	NextDueAt       time.Time  `gorm:"not null;index" json:"next_due_at"`
	LastSentAt      *time.Time `gorm:"type:timestamp;default:null" json:"last_sent_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
