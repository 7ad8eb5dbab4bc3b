package repository

import (
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// enrollmentRepository implements the EnrollmentRepository interface
type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository creates a new enrollment repository instance
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

// Ensure creates the enrollment at lesson 1 if it does not exist yet and
// returns the stored row either way. Re-enrolling never resets an existing
// cursor.
func (r *enrollmentRepository) Ensure(userID int64, courseID string, firstDueAt time.Time) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{
		UserID:          userID,
		CourseID:        courseID,
		NextLessonIndex: 1,
		NextDueAt:       firstDueAt,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoNothing: true,
	}).Create(enrollment).Error; err != nil {
		return nil, err
	}

	var stored models.Enrollment
	if err := r.db.Where("user_id = ? AND course_id = ?", userID, courseID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListDue returns enrollments whose next lesson is due, oldest first within
// a bounded batch so a backlog drains without unbounded passes.
func (r *enrollmentRepository) ListDue(now time.Time, limit int) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := r.db.
		Where("next_due_at <= ?", now).
		Order("next_due_at ASC").
		Limit(limit).
		Find(&enrollments).Error
	return enrollments, err
}

// Advance moves the drip cursor forward. The guard on next_due_at keeps the
// due timestamp monotonic under concurrent passes.
func (r *enrollmentRepository) Advance(userID int64, courseID string, nextLessonIndex int, nextDueAt time.Time, sentAt *time.Time) error {
	updates := map[string]interface{}{
		"next_lesson_index": nextLessonIndex,
		"next_due_at":       nextDueAt,
	}
	if sentAt != nil {
		updates["last_sent_at"] = sentAt
	}
	return r.db.Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND next_due_at <= ?", userID, courseID, nextDueAt).
		Updates(updates).Error
}
