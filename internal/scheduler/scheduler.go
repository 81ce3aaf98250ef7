// Package scheduler runs periodic housekeeping jobs.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is one run of a task.
type TaskFunc func(ctx context.Context) error

// TaskConfig describes a periodic task.
type TaskConfig struct {
	ID   string
	Name string
	// Cron is a five-field expression, e.g. "*/30 * * * *".
	Cron string
	Func TaskFunc
	// Timeout bounds one run. Zero means no limit.
	Timeout    time.Duration
	RunOnStart bool
}

// TaskInfo is a snapshot of a registered task.
type TaskInfo struct {
	ID      string
	Name    string
	Cron    string
	LastRun time.Time
	NextRun time.Time
	Running bool
}

type task struct {
	TaskConfig
	job gocron.Job

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// begin marks the task running, reporting false when it already was.
func (t *task) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	return true
}

func (t *task) end(started time.Time) {
	t.mu.Lock()
	t.running = false
	t.lastRun = started
	t.mu.Unlock()
}

// Scheduler owns a gocron scheduler and the tasks registered on it.
type Scheduler struct {
	cron   gocron.Scheduler
	logger zerolog.Logger

	mu    sync.RWMutex
	tasks map[string]*task
}

// New creates a stopped scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		cron:   cron,
		logger: logger.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*task),
	}, nil
}

// RegisterTask schedules cfg. IDs must be unique.
func (s *Scheduler) RegisterTask(cfg TaskConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[cfg.ID]; ok {
		return fmt.Errorf("task with ID %q already registered", cfg.ID)
	}

	t := &task{TaskConfig: cfg}
	job, err := s.cron.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(s.execute, t),
		gocron.WithName(cfg.Name),
		gocron.WithTags(cfg.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", cfg.ID, err)
	}
	t.job = job
	s.tasks[cfg.ID] = t

	s.logger.Debug().Str("id", cfg.ID).Str("cron", cfg.Cron).Msg("Registered task")
	return nil
}

// execute runs t once. Overlapping runs of the same task are skipped.
func (s *Scheduler) execute(t *task) {
	if !t.begin() {
		s.logger.Debug().Str("id", t.ID).Msg("Task still running, skipped")
		return
	}
	started := time.Now()
	defer t.end(started)

	ctx := context.Background()
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	if err := t.Func(ctx); err != nil {
		s.logger.Error().Err(err).
			Str("id", t.ID).
			Dur("duration", time.Since(started)).
			Msg("Task failed")
	}
}

func (s *Scheduler) lookup(id string) (*task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Start begins scheduling and kicks off the RunOnStart tasks.
func (s *Scheduler) Start() {
	s.cron.Start()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.RunOnStart {
			go s.execute(t)
		}
	}
}

// Stop stops scheduling and waits for running tasks.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// RunNow runs a task in the calling goroutine.
func (s *Scheduler) RunNow(id string) error {
	t, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	s.execute(t)
	return nil
}

// ListTasks returns a snapshot of every task, ordered by ID.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		info := TaskInfo{ID: t.ID, Name: t.Name, Cron: t.Cron, LastRun: t.lastRun, Running: t.running}
		t.mu.Unlock()
		if next, err := t.job.NextRun(); err == nil {
			info.NextRun = next
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b TaskInfo) int { return strings.Compare(a.ID, b.ID) })
	return infos
}
