package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"github.com/courseclub/CourseClub/internal/pkg/messenger"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Due-scan batch bound: a backlog drains oldest-first without any single
// pass becoming unbounded.
const defaultBatchSize = 50

// How far to push the cursor when a lesson index has no content yet. A
// short hop keeps the queue moving without hammering every pass.
const missingLessonHop = 24 * time.Hour

// LessonRunner delivers drip lessons whose due time has passed and advances
// each enrollment cursor once per delivery.
type LessonRunner struct {
	Enrollments repository.EnrollmentRepository
	Courses     repository.CourseRepository
	Messenger   messenger.Messenger
	BatchSize   int
}

// RunOnce performs a single due-scan pass. A delivery failure for one entry
// never aborts the remaining entries; the failed entry simply stays due and
// is retried on the next tick.
func (r *LessonRunner) RunOnce(ctx context.Context) error {
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	now := time.Now().UTC()
	due, err := r.Enrollments.ListDue(now, batch)
	if err != nil {
		return err
	}

	for i := range due {
		r.deliverOne(ctx, &due[i])
	}
	return nil
}

func (r *LessonRunner) deliverOne(ctx context.Context, enrollment *models.Enrollment) {
	course, err := r.Courses.GetCourse(enrollment.CourseID)
	if err != nil {
		log.Errorf("[Lessons] Course %s for user %d not loadable: %v", enrollment.CourseID, enrollment.UserID, err)
		return
	}

	lesson, err := r.Courses.GetLesson(enrollment.CourseID, enrollment.NextLessonIndex)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Authoring gap: advance past the missing index instead of retrying
		// forever, so later lessons are not blocked behind it.
		now := time.Now().UTC()
		if err := r.Enrollments.Advance(enrollment.UserID, enrollment.CourseID, enrollment.NextLessonIndex+1, now.Add(missingLessonHop), nil); err != nil {
			log.Errorf("[Lessons] Skip-advance for user %d lesson %d failed: %v", enrollment.UserID, enrollment.NextLessonIndex, err)
			return
		}
		log.Warnf("[Lessons] Lesson %d of course %s does not exist, skipped for user %d", enrollment.NextLessonIndex, enrollment.CourseID, enrollment.UserID)
		return
	}
	if err != nil {
		log.Errorf("[Lessons] Lesson lookup for user %d failed: %v", enrollment.UserID, err)
		return
	}

	// The first delivery opens with the course intro when one is
	// configured. LastSentAt is only stamped after a lesson send, so a
	// failure here just means both go out on the next pass.
	if enrollment.LastSentAt == nil && course.WelcomeVideoURL != "" {
		if err := r.Messenger.SendMessage(ctx, enrollment.UserID, FormatWelcome(course), nil); err != nil {
			log.Errorf("[Lessons] Welcome for user %d failed: %v", enrollment.UserID, err)
			return
		}
	}

	if err := r.Messenger.SendMessage(ctx, enrollment.UserID, FormatLesson(lesson), nil); err != nil {
		log.Errorf("[Lessons] Delivery of lesson %d to user %d failed: %v", lesson.LessonIndex, enrollment.UserID, err)
		return
	}

	// Advance only after the send returned without error (at-least-once).
	now := time.Now().UTC()
	interval := time.Duration(course.LessonIntervalDays) * 24 * time.Hour
	if course.LessonIntervalDays <= 0 {
		interval = 7 * 24 * time.Hour
	}
	if err := r.Enrollments.Advance(enrollment.UserID, enrollment.CourseID, enrollment.NextLessonIndex+1, now.Add(interval), &now); err != nil {
		log.Errorf("[Lessons] Cursor advance for user %d failed: %v", enrollment.UserID, err)
	}
}

// FormatLesson renders the lesson delivery message.
func FormatLesson(lesson *models.Lesson) string {
	text := fmt.Sprintf("🎬 Lesson %d: %s\n\nVideo:\n%s\n", lesson.LessonIndex, lesson.Title, lesson.VideoURL)
	if lesson.MaterialsURL != "" {
		text += fmt.Sprintf("\n📄 Materials:\n%s\n", lesson.MaterialsURL)
	}
	return text
}

// FormatWelcome renders the intro message that precedes the first lesson.
func FormatWelcome(course *models.Course) string {
	return fmt.Sprintf("👋 Welcome to %s!\n\n🎥 Intro video:\n%s\n", course.Title, course.WelcomeVideoURL)
}
