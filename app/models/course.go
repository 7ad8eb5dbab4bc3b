package models

import "time"

// Course is a drip-delivered lesson sequence.
type Course struct {
	ID                 string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title              string    `gorm:"type:varchar(255);not null" json:"title"`
	WelcomeVideoURL    string    `gorm:"type:text" json:"welcome_video_url"`
	LessonIntervalDays int       `gorm:"not null;default:7" json:"lesson_interval_days"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Lesson is a single deliverable in a course. LessonIndex is 1-based.
type Lesson struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CourseID     string    `gorm:"type:varchar(64);not null;index:ux_lessons_course_index,unique,priority:1" json:"course_id"`
	LessonIndex  int       `gorm:"not null;index:ux_lessons_course_index,unique,priority:2" json:"lesson_index"`
	Title        string    `gorm:"type:varchar(255);not null" json:"title"`
	VideoURL     string    `gorm:"type:text;not null" json:"video_url"`
	MaterialsURL string    `gorm:"type:text" json:"materials_url"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
