package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"gorm.io/gorm"
)

// memLiveSessionRepo mirrors the window semantics of the GORM
// implementation: a reminder is due when starts_at is within the kind's
// lead time and the kind's flag is unset.
type memLiveSessionRepo struct {
	mu       sync.Mutex
	nextID   uint
	sessions map[uint]*models.LiveSession
}

func newMemLiveSessionRepo() *memLiveSessionRepo {
	return &memLiveSessionRepo{sessions: make(map[uint]*models.LiveSession)}
}

func (r *memLiveSessionRepo) Add(s *models.LiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func leadFor(kind string) time.Duration {
	switch kind {
	case models.ReminderKind24h:
		return 24 * time.Hour
	case models.ReminderKind1h:
		return time.Hour
	default:
		return 15 * time.Minute
	}
}

func sentFlag(s *models.LiveSession, kind string) **time.Time {
	switch kind {
	case models.ReminderKind24h:
		return &s.Remind24hSentAt
	case models.ReminderKind1h:
		return &s.Remind1hSentAt
	default:
		return &s.Remind15mSentAt
	}
}

func (r *memLiveSessionRepo) ListDueReminders(kind string, now time.Time, limit int) ([]models.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LiveSession
	for _, s := range r.sessions {
		if *sentFlag(s, kind) != nil {
			continue
		}
		if s.StartsAt.After(now) && !s.StartsAt.After(now.Add(leadFor(kind))) {
			out = append(out, *s)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memLiveSessionRepo) MarkReminded(sessionID uint, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now().UTC()
	*sentFlag(s, kind) = &now
	return nil
}

func TestReminderRunnerFiresWithinWindow(t *testing.T) {
	sessions := newMemLiveSessionRepo()
	msg := newMemMessenger()

	s := &models.LiveSession{
		UserID:   42,
		StartsAt: time.Now().UTC().Add(30 * time.Minute),
		Title:    "Practice",
	}
	if err := sessions.Add(s); err != nil {
		t.Fatal(err)
	}

	runner := &ReminderRunner{Sessions: sessions, Messenger: msg}
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// 30 minutes out: the 24h and 1h windows are open, 15m is not.
	sent := msg.sentTo(42)
	if len(sent) != 2 {
		t.Fatalf("sent = %d reminders, want 2 (24h and 1h)", len(sent))
	}

	stored := sessions.sessions[s.ID]
	if stored.Remind24hSentAt == nil || stored.Remind1hSentAt == nil {
		t.Fatal("24h and 1h flags should be set")
	}
	if stored.Remind15mSentAt != nil {
		t.Fatal("15m flag must stay unset outside its window")
	}
}

func TestReminderRunnerFiresEachKindOnce(t *testing.T) {
	sessions := newMemLiveSessionRepo()
	msg := newMemMessenger()

	s := &models.LiveSession{
		UserID:   42,
		StartsAt: time.Now().UTC().Add(10 * time.Minute),
		Title:    "Practice",
	}
	if err := sessions.Add(s); err != nil {
		t.Fatal(err)
	}

	runner := &ReminderRunner{Sessions: sessions, Messenger: msg}
	for i := 0; i < 3; i++ {
		if err := runner.RunOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	// All three windows are open at t-10m, but each fires exactly once no
	// matter how many passes run.
	if got := len(msg.sentTo(42)); got != 3 {
		t.Fatalf("sent = %d reminders, want 3", got)
	}
}

func TestReminderRunnerRetriesFailedSend(t *testing.T) {
	sessions := newMemLiveSessionRepo()
	msg := newMemMessenger()
	msg.failFor[42] = true

	s := &models.LiveSession{
		UserID:   42,
		StartsAt: time.Now().UTC().Add(10 * time.Minute),
		Title:    "Practice",
	}
	if err := sessions.Add(s); err != nil {
		t.Fatal(err)
	}

	runner := &ReminderRunner{Sessions: sessions, Messenger: msg}
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	stored := sessions.sessions[s.ID]
	if stored.Remind15mSentAt != nil || stored.Remind1hSentAt != nil || stored.Remind24hSentAt != nil {
		t.Fatal("no flag may be set when the send failed")
	}

	// Delivery recovers; the reminders go out on the next pass.
	msg.failFor[42] = false
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if got := len(msg.sentTo(42)); got != 3 {
		t.Fatalf("sent after recovery = %d, want 3", got)
	}
}

func TestReminderRunnerMessageContent(t *testing.T) {
	sessions := newMemLiveSessionRepo()
	msg := newMemMessenger()

	s := &models.LiveSession{
		UserID:     42,
		StartsAt:   time.Now().UTC().Add(10 * time.Minute),
		Title:      "Barre chords",
		MeetingURL: "https://meet.test/abc",
	}
	if err := sessions.Add(s); err != nil {
		t.Fatal(err)
	}

	runner := &ReminderRunner{Sessions: sessions, Messenger: msg}
	if err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	for _, text := range msg.sentTo(42) {
		if !strings.Contains(text, "Barre chords") {
			t.Errorf("reminder %q lacks the session title", text)
		}
		if !strings.Contains(text, "https://meet.test/abc") {
			t.Errorf("reminder %q lacks the meeting link", text)
		}
	}
}
