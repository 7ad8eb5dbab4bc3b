package repository

import (
	"errors"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"gorm.io/gorm"
)

// liveSessionRepository implements the LiveSessionRepository interface
type liveSessionRepository struct {
	db *gorm.DB
}

// NewLiveSessionRepository creates a new live session repository instance
func NewLiveSessionRepository(db *gorm.DB) LiveSessionRepository {
	return &liveSessionRepository{db: db}
}

func (r *liveSessionRepository) Add(session *models.LiveSession) error {
	return r.db.Create(session).Error
}

func reminderColumn(kind string) (string, time.Duration, error) {
	switch kind {
	case models.ReminderKind24h:
		return "remind_24h_sent_at", 24 * time.Hour, nil
	case models.ReminderKind1h:
		return "remind_1h_sent_at", time.Hour, nil
	case models.ReminderKind15m:
		return "remind_15m_sent_at", 15 * time.Minute, nil
	default:
		return "", 0, errors.New("unknown reminder kind: " + kind)
	}
}

// ListDueReminders returns sessions starting within the kind's lead-time
// window whose flag for that kind is still unset, ascending by start time.
func (r *liveSessionRepository) ListDueReminders(kind string, now time.Time, limit int) ([]models.LiveSession, error) {
	column, lead, err := reminderColumn(kind)
	if err != nil {
		return nil, err
	}
	horizon := now.Add(lead)

	var sessions []models.LiveSession
	err = r.db.
		Where("starts_at > ? AND starts_at <= ? AND "+column+" IS NULL", now, horizon).
		Order("starts_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// MarkReminded sets the sent flag for the given kind. Fires at most once per
// session and kind because due queries filter on the flag.
func (r *liveSessionRepository) MarkReminded(sessionID uint, kind string) error {
	column, _, err := reminderColumn(kind)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return r.db.Model(&models.LiveSession{}).
		Where("id = ?", sessionID).
		Update(column, &now).Error
}
