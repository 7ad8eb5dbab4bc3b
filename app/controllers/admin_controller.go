package controllers

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"github.com/courseclub/CourseClub/internal/pkg/entitlements"
	"github.com/courseclub/CourseClub/internal/pkg/payments"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// AdminController is the operator REST surface. All routes require the
// X-Operator-Token header; it is meant for internal tooling, not end users.
type AdminController struct {
	Entitlements  *entitlements.Service
	Payments      *payments.Service
	Sessions      repository.LiveSessionRepository
	OperatorToken string
	OperatorID    int64
	Location      *time.Location

	validate *validator.Validate
}

func NewAdminController(ent *entitlements.Service, pay *payments.Service, sessions repository.LiveSessionRepository, token string, operatorID int64, loc *time.Location) *AdminController {
	return &AdminController{
		Entitlements:  ent,
		Payments:      pay,
		Sessions:      sessions,
		OperatorToken: token,
		OperatorID:    operatorID,
		Location:      loc,
		validate:      validator.New(),
	}
}

// RequireOperator is the auth middleware for /api/v1/admin.
func (ac *AdminController) RequireOperator(c *fiber.Ctx) error {
	if ac.OperatorToken == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "admin_api_disabled"})
	}
	token := strings.TrimSpace(c.Get("X-Operator-Token"))
	if subtle.ConstantTimeCompare([]byte(token), []byte(ac.OperatorToken)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return c.Next()
}

type grantRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	Days   int   `json:"days" validate:"gte=0,lte=3650"`
}

// HandleGrant activates access for a user. days omitted or 0 falls back to
// the configured default window.
func (ac *AdminController) HandleGrant(c *fiber.Ctx) error {
	var req grantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	days := req.Days
	if days == 0 {
		days = ac.Payments.GrantDays()
	}
	if err := ac.Entitlements.Grant(req.UserID, days); err != nil {
		log.Errorf("[Admin] Grant for %d failed: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "grant_failed"})
	}
	log.Infof("[Admin] Granted %d days to user %d via REST", days, req.UserID)
	return c.JSON(fiber.Map{"ok": true, "user_id": req.UserID, "days": days})
}

type revokeRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (ac *AdminController) HandleRevoke(c *fiber.Ctx) error {
	var req revokeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	if err := ac.Entitlements.Revoke(req.UserID); err != nil {
		log.Errorf("[Admin] Revoke for %d failed: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "revoke_failed"})
	}
	log.Infof("[Admin] Revoked access for user %d via REST", req.UserID)
	return c.JSON(fiber.Map{"ok": true, "user_id": req.UserID})
}

func (ac *AdminController) HandleListActive(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	subs, err := ac.Entitlements.ListActive(limit)
	if err != nil {
		log.Errorf("[Admin] List active failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list_failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "count": len(subs), "subscriptions": subs})
}

type scheduleRequest struct {
	UserID     int64  `json:"user_id" validate:"required,gt=0"`
	StartsAt   string `json:"starts_at" validate:"required"`
	Title      string `json:"title" validate:"max=255"`
	MeetingURL string `json:"meeting_url" validate:"omitempty,url"`
}

// HandleSchedule books a live session. starts_at accepts RFC 3339 or
// "2006-01-02 15:04" in the configured local timezone.
func (ac *AdminController) HandleSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	startsAt, err := ac.parseTime(req.StartsAt)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "starts_at must be RFC 3339 or YYYY-MM-DD HH:MM"})
	}
	if startsAt.Before(time.Now()) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "starts_at is in the past"})
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Practice"
	}
	session := &models.LiveSession{
		UserID:     req.UserID,
		StartsAt:   startsAt.UTC(),
		Title:      title,
		MeetingURL: req.MeetingURL,
	}
	if err := ac.Sessions.Add(session); err != nil {
		log.Errorf("[Admin] Schedule for %d failed: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "schedule_failed"})
	}
	log.Infof("[Admin] Scheduled session %d for user %d at %s via REST",
		session.ID, req.UserID, session.StartsAt.Format(time.RFC3339))
	return c.Status(fiber.StatusCreated).JSON(session)
}

type markPaidRequest struct {
	PaymentID string `json:"payment_id" validate:"required,uuid4"`
}

// HandleMarkPaid is the manual confirmation escape hatch for when a gateway
// never delivers its webhook. It runs through the same idempotent pipeline
// as webhook confirmations.
func (ac *AdminController) HandleMarkPaid(c *fiber.Ctx) error {
	var req markPaidRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	outcome, err := ac.Payments.ManualMarkPaid(ctx, ac.OperatorID, req.PaymentID)
	if err != nil {
		log.Errorf("[Admin] Manual mark-paid %s failed: %v", req.PaymentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "mark_paid_failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "payment_id": req.PaymentID, "outcome": string(outcome)})
}

func (ac *AdminController) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	loc := ac.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation("2006-01-02 15:04", s, loc)
}
