package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/internal/pkg/entitlements"
	"github.com/courseclub/CourseClub/internal/pkg/payments"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[int64]*models.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: make(map[int64]*models.Subscription)}
}

func (r *fakeSubscriptionRepo) Upsert(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.UserID] = &cp
	return nil
}

func (r *fakeSubscriptionRepo) GetByUserID(userID int64) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeSubscriptionRepo) ListActive(limit int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.IsCurrentlyActive(time.Now().UTC()) {
			out = append(out, *sub)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeLiveSessionRepo struct {
	mu       sync.Mutex
	nextID   uint
	sessions []models.LiveSession
}

func (r *fakeLiveSessionRepo) Add(s *models.LiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	r.sessions = append(r.sessions, *s)
	return nil
}

func (r *fakeLiveSessionRepo) ListDueReminders(string, time.Time, int) ([]models.LiveSession, error) {
	return nil, nil
}

func (r *fakeLiveSessionRepo) MarkReminded(uint, string) error { return nil }

func newAdminTestApp(t *testing.T) (*fiber.App, *fakeSubscriptionRepo, *fakeLiveSessionRepo) {
	t.Helper()

	subs := newFakeSubscriptionRepo()
	sessions := &fakeLiveSessionRepo{}
	entSvc := entitlements.NewService(subs)
	paySvc := payments.NewService(newFakePaymentRepo(), []payments.Provider{payments.NewMockProvider()}, nil, payments.Config{GrantDays: 30})

	ac := NewAdminController(entSvc, paySvc, sessions, "op-token", 777, time.UTC)

	app := fiber.New()
	admin := app.Group("/api/v1/admin", ac.RequireOperator)
	admin.Post("/grant", ac.HandleGrant)
	admin.Post("/revoke", ac.HandleRevoke)
	admin.Get("/subscriptions", ac.HandleListActive)
	admin.Post("/sessions", ac.HandleSchedule)
	return app, subs, sessions
}

func adminRequest(t *testing.T, method, path, token string, payload any) *http.Request {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Operator-Token", token)
	}
	return req
}

func TestAdminAPIRejectsMissingToken(t *testing.T) {
	app, subs, _ := newAdminTestApp(t)

	resp, err := app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/grant", "", map[string]any{"user_id": 42}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, subs.subs)
}

func TestAdminAPIRejectsWrongToken(t *testing.T) {
	app, subs, _ := newAdminTestApp(t)

	resp, err := app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/grant", "nope", map[string]any{"user_id": 42}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, subs.subs)
}

func TestAdminGrantDefaultsDays(t *testing.T) {
	app, subs, _ := newAdminTestApp(t)

	resp, err := app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/grant", "op-token", map[string]any{"user_id": 42}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 30, body["days"])

	sub, err := subs.GetByUserID(42)
	require.NoError(t, err)
	assert.True(t, sub.IsCurrentlyActive(time.Now().UTC()))
}

func TestAdminGrantValidation(t *testing.T) {
	app, _, _ := newAdminTestApp(t)

	resp, err := app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/grant", "op-token", map[string]any{"user_id": 0}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAdminRevoke(t *testing.T) {
	app, subs, _ := newAdminTestApp(t)

	resp, err := app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/grant", "op-token", map[string]any{"user_id": 42, "days": 30}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/revoke", "op-token", map[string]any{"user_id": 42}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sub, err := subs.GetByUserID(42)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusRevoked, sub.Status)
}

func TestAdminScheduleSession(t *testing.T) {
	app, _, sessions := newAdminTestApp(t)

	startsAt := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	resp, err := app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/sessions", "op-token", map[string]any{
		"user_id":     42,
		"starts_at":   startsAt,
		"title":       "Barre chords",
		"meeting_url": "https://meet.test/abc",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Len(t, sessions.sessions, 1)
	assert.Equal(t, int64(42), sessions.sessions[0].UserID)
	assert.Equal(t, "Barre chords", sessions.sessions[0].Title)
}

func TestAdminScheduleRejectsPast(t *testing.T) {
	app, _, sessions := newAdminTestApp(t)

	startsAt := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	resp, err := app.Test(adminRequest(t, http.MethodPost, "/api/v1/admin/sessions", "op-token", map[string]any{
		"user_id":   42,
		"starts_at": startsAt,
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, sessions.sessions)
}
