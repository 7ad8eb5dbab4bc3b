package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Runner is a single periodic task. A pass must be safe to re-run: nothing
// is marked in-progress, so a crash mid-pass simply leaves entries due for
// the next tick.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// Intervals configures the tick period per runner.
type Intervals struct {
	Lessons   time.Duration
	Reminders time.Duration
	Reconcile time.Duration
}

// Timeout for one scheduler pass, bounding every external call made inside.
const passTimeout = 60 * time.Second

// Manager supervises the periodic due-scan tasks: lesson drip, live-session
// reminders and the pending-payment status pull.
type Manager struct {
	lessons   Runner
	reminders Runner
	reconcile Runner
	intervals Intervals

	tickers []*time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a scheduler manager with explicit runner dependencies.
func NewManager(lessons, reminders, reconcile Runner, intervals Intervals) *Manager {
	if intervals.Lessons <= 0 {
		intervals.Lessons = time.Minute
	}
	if intervals.Reminders <= 0 {
		intervals.Reminders = time.Minute
	}
	if intervals.Reconcile <= 0 {
		intervals.Reconcile = 2 * time.Minute
	}
	return &Manager{
		lessons:   lessons,
		reminders: reminders,
		reconcile: reconcile,
		intervals: intervals,
	}
}

// Start starts the background workers. Calling Start on a running manager
// is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background workers")

	m.startWorker("lessons", m.lessons, m.intervals.Lessons)
	m.startWorker("reminders", m.reminders, m.intervals.Reminders)
	m.startWorker("reconcile", m.reconcile, m.intervals.Reconcile)

	log.Info("[Scheduler] Started successfully")
}

// Stop stops the workers and waits for in-flight passes to finish. Entries
// that were mid-pass stay due and are picked up again after a restart.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler] Stopping background workers...")

	for _, t := range m.tickers {
		t.Stop()
	}
	m.tickers = nil

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) startWorker(name string, runner Runner, interval time.Duration) {
	if runner == nil {
		return
	}
	ticker := time.NewTicker(interval)
	m.tickers = append(m.tickers, ticker)
	stopCh := m.stopCh

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Infof("[Scheduler] Started %s worker (interval: %v)", name, interval)

		for {
			select {
			case <-stopCh:
				log.Infof("[Scheduler] %s worker stopping", name)
				return
			case <-ticker.C:
				m.runPass(name, runner)
			}
		}
	}()
}

func (m *Manager) runPass(name string, runner Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	if err := runner.RunOnce(ctx); err != nil {
		// Pass-level errors are logged, never fatal for the loop.
		log.Errorf("[Scheduler] %s pass failed: %v", name, err)
	}
}
