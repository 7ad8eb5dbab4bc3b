package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"github.com/courseclub/CourseClub/internal/pkg/messenger"
	"github.com/gofiber/fiber/v2/log"
)

// ReminderRunner sends 24h / 1h / 15m reminders for scheduled live
// sessions. Each lead time is an independent flag that fires at most once
// per session; the flag is set only after a successful send.
type ReminderRunner struct {
	Sessions  repository.LiveSessionRepository
	Messenger messenger.Messenger
	Location  *time.Location
	BatchSize int
}

// RunOnce scans all three lead-time windows. The closest reminders go
// first so an overdue 15m beat is not starved by a long 24h batch.
func (r *ReminderRunner) RunOnce(ctx context.Context) error {
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := time.Now().UTC()

	for _, kind := range []string{models.ReminderKind15m, models.ReminderKind1h, models.ReminderKind24h} {
		due, err := r.Sessions.ListDueReminders(kind, now, batch)
		if err != nil {
			return err
		}
		for i := range due {
			r.remindOne(ctx, &due[i], kind)
		}
	}
	return nil
}

func (r *ReminderRunner) remindOne(ctx context.Context, session *models.LiveSession, kind string) {
	text := r.formatReminder(session, kind)

	// Send first, mark after success: a crash in between re-sends on the
	// next pass (at-least-once).
	if err := r.Messenger.SendMessage(ctx, session.UserID, text, nil); err != nil {
		log.Errorf("[Reminders] %s reminder for session %d (user %d) failed: %v", kind, session.ID, session.UserID, err)
		return
	}
	if err := r.Sessions.MarkReminded(session.ID, kind); err != nil {
		log.Errorf("[Reminders] Marking %s reminder for session %d failed: %v", kind, session.ID, err)
	}
}

func (r *ReminderRunner) formatReminder(session *models.LiveSession, kind string) string {
	var lead string
	switch kind {
	case models.ReminderKind24h:
		lead = "⏰ Tomorrow"
	case models.ReminderKind1h:
		lead = "⏰ In one hour"
	default:
		lead = "⏰ In 15 minutes"
	}

	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	when := session.StartsAt.In(loc).Format("2006-01-02 15:04") + " (" + loc.String() + ")"

	text := fmt.Sprintf("%s: <b>%s</b>\nTime: <b>%s</b>", lead, session.Title, when)
	if session.MeetingURL != "" {
		text += "\nLink: " + session.MeetingURL
	}
	return text
}
