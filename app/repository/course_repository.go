package repository

import (
	"github.com/courseclub/CourseClub/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// courseRepository implements the CourseRepository interface
type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository creates a new course repository instance
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

func (r *courseRepository) UpsertCourse(course *models.Course) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"welcome_video_url",
			"lesson_interval_days",
			"updated_at",
		}),
	}).Create(course).Error
}

func (r *courseRepository) GetCourse(id string) (*models.Course, error) {
	var course models.Course
	err := r.db.Where("id = ?", id).First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *courseRepository) UpsertLesson(lesson *models.Lesson) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "course_id"}, {Name: "lesson_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"video_url",
			"materials_url",
		}),
	}).Create(lesson).Error
}

func (r *courseRepository) GetLesson(courseID string, lessonIndex int) (*models.Lesson, error) {
	var lesson models.Lesson
	err := r.db.Where("course_id = ? AND lesson_index = ?", courseID, lessonIndex).First(&lesson).Error
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}
