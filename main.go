package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/courseclub/CourseClub/app/controllers"
	"github.com/courseclub/CourseClub/app/models"
	"github.com/courseclub/CourseClub/app/repository"
	"github.com/courseclub/CourseClub/internal/pkg/cache"
	"github.com/courseclub/CourseClub/internal/pkg/database"
	"github.com/courseclub/CourseClub/internal/pkg/entitlements"
	"github.com/courseclub/CourseClub/internal/pkg/env"
	"github.com/courseclub/CourseClub/internal/pkg/messenger"
	"github.com/courseclub/CourseClub/internal/pkg/payments"
	"github.com/courseclub/CourseClub/internal/pkg/router"
	"github.com/courseclub/CourseClub/internal/pkg/scheduler"
)

func main() {
	app, manager := NewApplication()

	manager.Start()
	defer manager.Stop()

	// Graceful shutdown on SIGINT/SIGTERM: stop fiber first so no new work
	// arrives, then the deferred manager.Stop drains the scheduler passes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fiberlog.Info("[App] Shutdown signal received")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		fiberlog.Fatalf("[App] Server stopped: %v", err)
	}
}

// NewApplication assembles the whole dependency graph: storage, gateways,
// messenger, services, controllers, scheduler. Everything is wired
// explicitly here; packages never reach for globals besides the database
// and cache handles.
func NewApplication() (*fiber.App, *scheduler.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repos := repository.NewFactory(db).GetRepositories()

	adminIDs := env.GetEnvInt64Set("ADMIN_IDS")
	location := loadLocation(env.GetEnv("TZ_NAME", "UTC"))
	courseID := env.GetEnv("COURSE_ID", "")

	tg := messenger.NewTelegramClientFromEnv()
	notifier := &messenger.Notifier{Messenger: tg, AdminIDs: setToSlice(adminIDs)}

	var providers []payments.Provider
	var mock *payments.MockProvider
	if env.GetEnv("MP_ACCESS_TOKEN", "") != "" {
		providers = append(providers, payments.NewMercadoPagoFromEnv())
	}
	if yk := payments.NewYooKassaFromEnv(); yk.IsConfigured() {
		providers = append(providers, yk)
	}
	if env.IsDev() {
		mock = payments.NewMockProvider()
		providers = append(providers, mock)
	}
	if len(providers) == 0 {
		fiberlog.Fatal("[App] No payment provider configured; set MP_ACCESS_TOKEN or YooKassa credentials")
	}

	paySvc := payments.NewService(repos.Payment, providers, notifier, payments.Config{
		GrantDays:   env.GetEnvInt("SUB_DAYS", 30),
		CourseID:    courseID,
		ReturnURL:   env.GetEnv("PAYMENT_RETURN_URL", ""),
		OperatorIDs: adminIDs,
	})
	entSvc := entitlements.NewService(repos.Subscription)

	seedCourse(repos.Course, courseID)

	botCtl := &controllers.BotController{
		Messenger:     tg,
		Payments:      paySvc,
		Entitlements:  entSvc,
		Sessions:      repos.LiveSession,
		AdminIDs:      adminIDs,
		PathToken:     env.GetEnv("BOT_WEBHOOK_PATH_TOKEN", ""),
		SecretToken:   env.GetEnv("BOT_WEBHOOK_SECRET", ""),
		ChannelChatID: env.GetEnv("CHANNEL_CHAT_ID", ""),
		Location:      location,
		Provider:      env.GetEnv("PAYMENT_PROVIDER", defaultProviderName(providers)),
		PriceCents:    int64(env.GetEnvInt("SUB_PRICE_CENTS", 2990)),
		Currency:      env.GetEnv("SUB_CURRENCY", "BRL"),
		Plan:          env.GetEnv("SUB_PLAN", entitlements.PlanMixed),
	}
	webhookCtl := &controllers.WebhookController{
		Payments:        paySvc,
		WebhookEvents:   repos.WebhookEvent,
		MPWebhookSecret: env.GetEnv("MP_WEBHOOK_SECRET", ""),
		MockProvider:    mock,
	}
	adminCtl := controllers.NewAdminController(entSvc, paySvc, repos.LiveSession,
		env.GetEnv("OPERATOR_TOKEN", ""), firstOperator(adminIDs), location)

	manager := scheduler.NewManager(
		&scheduler.LessonRunner{Enrollments: repos.Enrollment, Courses: repos.Course, Messenger: tg},
		&scheduler.ReminderRunner{Sessions: repos.LiveSession, Messenger: tg, Location: location},
		&scheduler.ReconcileRunner{Payments: paySvc},
		scheduler.Intervals{
			Lessons:   time.Duration(env.GetEnvInt("LESSON_TICK_SECONDS", 60)) * time.Second,
			Reminders: time.Duration(env.GetEnvInt("REMINDER_TICK_SECONDS", 60)) * time.Second,
			Reconcile: time.Duration(env.GetEnvInt("RECONCILE_TICK_SECONDS", 120)) * time.Second,
		},
	)

	app := fiber.New(fiber.Config{
		AppName:   "CourseClub",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Deps{
		Bot:     botCtl,
		Webhook: webhookCtl,
		Admin:   adminCtl,
		DevMode: env.IsDev(),
	})

	registerWebhook(tg, botCtl)

	return app, manager
}

// seedCourse makes sure the configured drip course exists and loads lesson
// content from LESSONS_FILE when given. Lesson files are a JSON array of
// {index, title, video_url, materials_url}; re-seeding updates content in
// place.
func seedCourse(courses repository.CourseRepository, courseID string) {
	if courseID == "" {
		return
	}

	course := &models.Course{
		ID:                 courseID,
		Title:              env.GetEnv("COURSE_TITLE", courseID),
		WelcomeVideoURL:    env.GetEnv("WELCOME_VIDEO_URL", ""),
		LessonIntervalDays: env.GetEnvInt("LESSON_INTERVAL_DAYS", 7),
	}
	if err := courses.UpsertCourse(course); err != nil {
		fiberlog.Fatalf("[App] Seeding course %s failed: %v", courseID, err)
	}

	path := env.GetEnv("LESSONS_FILE", "")
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fiberlog.Fatalf("[App] Reading %s failed: %v", path, err)
	}
	var entries []struct {
		Index        int    `json:"index"`
		Title        string `json:"title"`
		VideoURL     string `json:"video_url"`
		MaterialsURL string `json:"materials_url"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		fiberlog.Fatalf("[App] Parsing %s failed: %v", path, err)
	}
	for _, e := range entries {
		err := courses.UpsertLesson(&models.Lesson{
			CourseID:     courseID,
			LessonIndex:  e.Index,
			Title:        e.Title,
			VideoURL:     e.VideoURL,
			MaterialsURL: e.MaterialsURL,
		})
		if err != nil {
			fiberlog.Fatalf("[App] Seeding lesson %d failed: %v", e.Index, err)
		}
	}
	fiberlog.Infof("[App] Seeded course %s with %d lessons", courseID, len(entries))
}

// registerWebhook points Telegram at our update endpoint when a public base
// URL is configured. Local runs usually skip this and use polling tools.
func registerWebhook(tg *messenger.TelegramClient, bot *controllers.BotController) {
	baseURL := env.GetEnv("PUBLIC_BASE_URL", "")
	if baseURL == "" || bot.PathToken == "" {
		fiberlog.Warn("[App] PUBLIC_BASE_URL or BOT_WEBHOOK_PATH_TOKEN unset; skipping setWebhook")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/hooks/telegram/%s", baseURL, bot.PathToken)
	if err := tg.SetWebhook(ctx, url, bot.SecretToken); err != nil {
		fiberlog.Errorf("[App] setWebhook failed: %v", err)
	}
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		fiberlog.Warnf("[App] Unknown timezone %q, using UTC", name)
		return time.UTC
	}
	return loc
}

func defaultProviderName(providers []payments.Provider) string {
	return providers[0].Name()
}

func firstOperator(ids map[int64]struct{}) int64 {
	for id := range ids {
		return id
	}
	return 0
}

func setToSlice(ids map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}
